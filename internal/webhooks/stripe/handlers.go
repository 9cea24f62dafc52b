package stripewebhook

import (
	"context"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/kitafinder-backend/internal/billing"
	"github.com/angelmondragon/kitafinder-backend/internal/notifications"
	"github.com/angelmondragon/kitafinder-backend/internal/sideeffects"
	"github.com/angelmondragon/kitafinder-backend/pkg/db/models"
	"github.com/angelmondragon/kitafinder-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitafinder-backend/pkg/errors"
)

// AccountIDMetadataKey is the checkout session metadata entry naming the account.
const AccountIDMetadataKey = "account_id"

func (s *Service) defaultHandlers() map[stripe.EventType]Handler {
	return map[stripe.EventType]Handler{
		stripe.EventTypeCheckoutSessionCompleted:    HandlerFunc(s.handleCheckoutCompleted),
		stripe.EventTypeCustomerSubscriptionUpdated: HandlerFunc(s.handleSubscriptionUpdated),
		stripe.EventTypeCustomerSubscriptionDeleted: HandlerFunc(s.handleSubscriptionDeleted),
		stripe.EventTypeInvoicePaid:                 HandlerFunc(s.handleInvoicePaid),
		stripe.EventTypeInvoicePaymentFailed:        HandlerFunc(s.handleInvoicePaymentFailed),
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, tx *gorm.DB, event *stripe.Event) (Outcome, error) {
	var session stripe.CheckoutSession
	if err := decodeObject(event, &session); err != nil {
		return Outcome{}, err
	}
	accountID := strings.TrimSpace(session.Metadata[AccountIDMetadataKey])
	customerID := customerIDOf(session.Customer)
	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}

	if accountID == "" {
		s.warn(ctx, map[string]any{"customer_id": customerID}, "checkout session has no account_id metadata")
		return ignored("", customerID, "missing account_id"), nil
	}
	if customerID == "" {
		s.warn(ctx, map[string]any{"account_id": accountID}, "checkout session has no customer")
		return ignored(accountID, "", "missing customer"), nil
	}

	repo := s.billingRepo.WithTx(tx)
	owner, err := repo.FindByCustomerID(ctx, customerID)
	if err != nil {
		return Outcome{}, err
	}
	if owner != nil && owner.AccountID != accountID {
		s.warn(ctx, map[string]any{
			"account_id":       accountID,
			"customer_id":      customerID,
			"owner_account_id": owner.AccountID,
		}, "customer already linked to another account")
		return ignored(accountID, customerID, "customer owned by another account"), nil
	}

	created := eventTime(event)
	record, err := repo.FindByAccountID(ctx, accountID)
	if err != nil {
		return Outcome{}, err
	}

	from := enums.BillingStatusNone
	if record == nil {
		record = &models.AccountBillingRecord{
			AccountID:          accountID,
			ExternalCustomerID: &customerID,
			Status:             enums.BillingStatusActive,
			StatusEventAt:      &created,
		}
		if subscriptionID != "" {
			record.ExternalSubscriptionID = &subscriptionID
		}
		if err := repo.Create(ctx, record); err != nil {
			return Outcome{}, err
		}
	} else {
		from = record.Status
		expected := record.UpdatedAt
		switch current := record.CustomerID(); {
		case current == "":
			record.ExternalCustomerID = &customerID
		case current != customerID:
			s.warn(ctx, map[string]any{
				"account_id":           accountID,
				"customer_id":          customerID,
				"existing_customer_id": current,
			}, "account already has a customer; keeping it")
		}
		if subscriptionID != "" {
			record.ExternalSubscriptionID = &subscriptionID
		}
		record.Status = enums.BillingStatusActive
		if record.StatusEventAt == nil || created.After(*record.StatusEventAt) {
			record.StatusEventAt = &created
		}
		if err := repo.CompareAndUpdate(ctx, record, expected); err != nil {
			return Outcome{}, err
		}
	}

	return s.applyTransition(ctx, tx, event, record, from)
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, tx *gorm.DB, event *stripe.Event) (Outcome, error) {
	var sub stripe.Subscription
	if err := decodeObject(event, &sub); err != nil {
		return Outcome{}, err
	}
	raw := strings.TrimSpace(string(sub.Status))
	if raw == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "subscription status missing")
	}

	repo := s.billingRepo.WithTx(tx)
	record, out, err := s.recordForCustomer(ctx, repo, customerIDOf(sub.Customer))
	if record == nil || err != nil {
		return out, err
	}

	if out, superseded := s.supersededSubscription(ctx, record, sub.ID); superseded {
		return out, nil
	}

	created := eventTime(event)
	if isStale(record, created) {
		s.info(ctx, map[string]any{"account_id": record.AccountID, "status": raw}, "stale subscription update skipped")
		return unchanged(record, "stale"), nil
	}

	status, known := billing.MapProcessorStatus(raw)
	if !known {
		s.warn(ctx, map[string]any{"account_id": record.AccountID, "status": raw}, "unrecognized subscription status passed through")
	}

	from := record.Status
	expected := record.UpdatedAt
	record.Status = status
	record.StatusEventAt = &created
	if sub.ID != "" {
		record.ExternalSubscriptionID = &sub.ID
	}
	if err := repo.CompareAndUpdate(ctx, record, expected); err != nil {
		return Outcome{}, err
	}
	return s.applyTransition(ctx, tx, event, record, from)
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, tx *gorm.DB, event *stripe.Event) (Outcome, error) {
	var sub stripe.Subscription
	if err := decodeObject(event, &sub); err != nil {
		return Outcome{}, err
	}

	repo := s.billingRepo.WithTx(tx)
	record, out, err := s.recordForCustomer(ctx, repo, customerIDOf(sub.Customer))
	if record == nil || err != nil {
		return out, err
	}

	if out, superseded := s.supersededSubscription(ctx, record, sub.ID); superseded {
		return out, nil
	}

	created := eventTime(event)
	if isStale(record, created) {
		s.info(ctx, map[string]any{"account_id": record.AccountID}, "stale subscription deletion skipped")
		return unchanged(record, "stale"), nil
	}

	from := record.Status
	expected := record.UpdatedAt
	record.Status = enums.BillingStatusCanceled
	record.StatusEventAt = &created
	if err := repo.CompareAndUpdate(ctx, record, expected); err != nil {
		return Outcome{}, err
	}
	return s.applyTransition(ctx, tx, event, record, from)
}

func (s *Service) handleInvoicePaid(ctx context.Context, tx *gorm.DB, event *stripe.Event) (Outcome, error) {
	return s.handleInvoice(ctx, tx, event, enums.BillingStatusActive, enums.NotificationPaymentConfirmed)
}

func (s *Service) handleInvoicePaymentFailed(ctx context.Context, tx *gorm.DB, event *stripe.Event) (Outcome, error) {
	return s.handleInvoice(ctx, tx, event, enums.BillingStatusPastDue, enums.NotificationPaymentFailed)
}

// handleInvoice never consults the subscription status mapper. It nudges the
// record toward target only for accounts that are currently billable and only
// when the invoice is newer than the status it would replace.
func (s *Service) handleInvoice(ctx context.Context, tx *gorm.DB, event *stripe.Event, target enums.BillingStatus, kind enums.NotificationKind) (Outcome, error) {
	var inv stripe.Invoice
	if err := decodeObject(event, &inv); err != nil {
		return Outcome{}, err
	}

	repo := s.billingRepo.WithTx(tx)
	record, out, err := s.recordForCustomer(ctx, repo, customerIDOf(inv.Customer))
	if record == nil || err != nil {
		return out, err
	}

	amount := inv.AmountPaid
	if target == enums.BillingStatusPastDue {
		amount = inv.AmountDue
	}
	payment := notifications.Notice{
		Kind:      kind,
		AccountID: record.AccountID,
		EventID:   event.ID,
		Amount:    &notifications.Money{Minor: amount, Currency: enums.ParseCurrency(string(inv.Currency))},
	}

	created := eventTime(event)
	if !invoiceOverrides(record, target, created) {
		result := unchanged(record, "no status change")
		result.Notices = []notifications.Notice{payment}
		return result, nil
	}

	from := record.Status
	expected := record.UpdatedAt
	record.Status = target
	record.StatusEventAt = &created
	if err := repo.CompareAndUpdate(ctx, record, expected); err != nil {
		return Outcome{}, err
	}
	result, err := s.applyTransition(ctx, tx, event, record, from)
	if err != nil {
		return Outcome{}, err
	}

	// the dunning email already tells the owner their payment is overdue
	notices := result.Notices[:0]
	for _, n := range result.Notices {
		if kind == enums.NotificationPaymentFailed && n.Kind == enums.NotificationSubscriptionPastDue {
			continue
		}
		notices = append(notices, n)
	}
	result.Notices = append(notices, payment)
	return result, nil
}

func invoiceOverrides(record *models.AccountBillingRecord, target enums.BillingStatus, created time.Time) bool {
	switch record.Status {
	case enums.BillingStatusActive, enums.BillingStatusTrialing, enums.BillingStatusPastDue:
	default:
		return false
	}
	if record.Status == target {
		return false
	}
	return record.StatusEventAt == nil || created.After(*record.StatusEventAt)
}

// recordForCustomer returns the customer's record, or a nil record with an
// ignored outcome when no account is linked to it.
func (s *Service) recordForCustomer(ctx context.Context, repo billing.Repository, customerID string) (*models.AccountBillingRecord, Outcome, error) {
	if customerID == "" {
		s.warn(ctx, nil, "event has no customer")
		return nil, ignored("", "", "missing customer"), nil
	}
	record, err := repo.FindByCustomerID(ctx, customerID)
	if err != nil {
		return nil, Outcome{}, err
	}
	if record == nil {
		s.warn(ctx, map[string]any{"customer_id": customerID}, "no account for customer")
		return nil, ignored("", customerID, "unknown customer"), nil
	}
	return record, Outcome{}, nil
}

func (s *Service) applyTransition(ctx context.Context, tx *gorm.DB, event *stripe.Event, record *models.AccountBillingRecord, from enums.BillingStatus) (Outcome, error) {
	eff, err := s.dispatcher.Apply(ctx, tx, sideeffects.Transition{
		AccountID:      record.AccountID,
		CustomerID:     record.CustomerID(),
		SubscriptionID: record.SubscriptionID(),
		From:           from,
		To:             record.Status,
		EventID:        event.ID,
		EventType:      string(event.Type),
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Kind:       OutcomeApplied,
		AccountID:  record.AccountID,
		CustomerID: record.CustomerID(),
		Notices:    eff.Notices,
	}, nil
}

// supersededSubscription ignores events for a subscription the account has
// since replaced. The record's subscription id only moves forward through
// checkout completion.
func (s *Service) supersededSubscription(ctx context.Context, record *models.AccountBillingRecord, subscriptionID string) (Outcome, bool) {
	current := record.SubscriptionID()
	if current == "" || subscriptionID == "" || current == subscriptionID {
		return Outcome{}, false
	}
	s.warn(ctx, map[string]any{
		"account_id":              record.AccountID,
		"subscription_id":         subscriptionID,
		"current_subscription_id": current,
	}, "event is for a subscription the account no longer uses")
	return ignored(record.AccountID, record.CustomerID(), "not current subscription"), true
}

func unchanged(record *models.AccountBillingRecord, reason string) Outcome {
	return Outcome{Kind: OutcomeUnchanged, AccountID: record.AccountID, CustomerID: record.CustomerID(), Reason: reason}
}

func isStale(record *models.AccountBillingRecord, created time.Time) bool {
	return record.StatusEventAt != nil && created.Before(*record.StatusEventAt)
}

func customerIDOf(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.ID)
}

func eventTime(event *stripe.Event) time.Time {
	return time.Unix(event.Created, 0).UTC()
}
