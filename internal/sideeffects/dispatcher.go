// Package sideeffects applies the consequences of billing status transitions.
package sideeffects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/kitafinder-backend/internal/listings"
	"github.com/angelmondragon/kitafinder-backend/internal/notifications"
	"github.com/angelmondragon/kitafinder-backend/pkg/enums"
	"github.com/angelmondragon/kitafinder-backend/pkg/logger"
	"github.com/angelmondragon/kitafinder-backend/pkg/outbox"
	"github.com/angelmondragon/kitafinder-backend/pkg/outbox/payloads"
)

const DefaultNotifyTimeout = 3 * time.Second

// Transition is one persisted status change (or re-confirmation) of an account.
type Transition struct {
	AccountID      string
	CustomerID     string
	SubscriptionID string
	From           enums.BillingStatus
	To             enums.BillingStatus
	EventID        string
	EventType      string
}

// Effects reports what Apply did and which notices should follow the commit.
type Effects struct {
	ListingsSuspended int64
	Notices           []notifications.Notice
}

type DispatcherParams struct {
	Listings      listings.Suspender
	Outbox        outbox.Emitter
	Notifier      notifications.Notifier
	Logger        *logger.Logger
	NotifyTimeout time.Duration
	Now           func() time.Time
}

type Dispatcher struct {
	listings listings.Suspender
	outbox   outbox.Emitter
	notifier notifications.Notifier
	logg     *logger.Logger
	timeout  time.Duration
	now      func() time.Time
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Listings == nil {
		return nil, errors.New("listing suspender required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter required")
	}
	if params.Notifier == nil {
		return nil, errors.New("notifier required")
	}
	timeout := params.NotifyTimeout
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		listings: params.Listings,
		outbox:   params.Outbox,
		notifier: params.Notifier,
		logg:     params.Logger,
		timeout:  timeout,
		now:      now,
	}, nil
}

// Apply runs the mandatory effects of t inside tx. Listings are suspended
// whenever the target is canceled, including re-confirmations, so the
// cascade completes even if an earlier attempt was interrupted.
func (d *Dispatcher) Apply(ctx context.Context, tx *gorm.DB, t Transition) (Effects, error) {
	if tx == nil {
		return Effects{}, errors.New("transaction required")
	}
	var eff Effects
	at := d.now().UTC()
	cause := &outbox.CauseRef{Source: "stripe", EventID: t.EventID, EventType: t.EventType}

	if t.To == enums.BillingStatusCanceled {
		n, err := d.listings.SuspendForBilling(ctx, tx, t.AccountID, at)
		if err != nil {
			return Effects{}, fmt.Errorf("suspend listings: %w", err)
		}
		eff.ListingsSuspended = n
		if n > 0 {
			if err := d.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventListingsSuspended,
				AggregateType: enums.AggregateAccount,
				AggregateID:   t.AccountID,
				Cause:         cause,
				OccurredAt:    at,
				Data: payloads.ListingsSuspendedEvent{
					AccountID:   t.AccountID,
					Count:       n,
					Reason:      enums.ListingPauseReasonBilling,
					SuspendedAt: at,
				},
			}); err != nil {
				return Effects{}, fmt.Errorf("emit listings suspended: %w", err)
			}
			if d.logg != nil {
				d.logg.Info(d.logg.WithFields(ctx, map[string]any{
					"account_id": t.AccountID,
					"suspended":  n,
				}), "listings suspended for billing")
			}
		}
	}

	if t.From != t.To {
		if err := d.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBillingStatusChanged,
			AggregateType: enums.AggregateBillingRecord,
			AggregateID:   t.AccountID,
			Cause:         cause,
			OccurredAt:    at,
			Data: payloads.BillingStatusChangedEvent{
				AccountID:              t.AccountID,
				From:                   t.From,
				To:                     t.To,
				ServiceEnabled:         t.To.IsServiceEnabled(),
				ExternalCustomerID:     t.CustomerID,
				ExternalSubscriptionID: t.SubscriptionID,
				ChangedAt:              at,
			},
		}); err != nil {
			return Effects{}, fmt.Errorf("emit status change: %w", err)
		}
	}

	if kind, ok := stateNotice(t.From, t.To); ok {
		eff.Notices = append(eff.Notices, notifications.Notice{
			Kind:      kind,
			AccountID: t.AccountID,
			EventID:   t.EventID,
		})
	}
	return eff, nil
}

// stateNotice picks the email a status change warrants. Moving into active
// from past_due or trialing is routine and sends nothing.
func stateNotice(from, to enums.BillingStatus) (enums.NotificationKind, bool) {
	if from == to {
		return "", false
	}
	switch to {
	case enums.BillingStatusCanceled:
		return enums.NotificationSubscriptionCanceled, true
	case enums.BillingStatusPastDue:
		return enums.NotificationSubscriptionPastDue, true
	case enums.BillingStatusActive:
		switch from {
		case enums.BillingStatusPastDue, enums.BillingStatusTrialing:
			return "", false
		default:
			return enums.NotificationSubscriptionActivated, true
		}
	default:
		return "", false
	}
}

// Notify delivers one notice within the configured timeout. It is called only
// after the state change committed and never fails the caller.
func (d *Dispatcher) Notify(ctx context.Context, notice notifications.Notice) notifications.Result {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.notifier.Send(ctx, notice)
}
