package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/kitafinder-backend/internal/notifications"
	pkgerrors "github.com/angelmondragon/kitafinder-backend/pkg/errors"
)

// OutcomeKind classifies what a handler did with an event.
type OutcomeKind string

const (
	// OutcomeApplied changed the billing record; the event is recorded.
	OutcomeApplied OutcomeKind = "applied"
	// OutcomeUnchanged left the record as is (stale or already in the target
	// state); the event is still recorded.
	OutcomeUnchanged OutcomeKind = "unchanged"
	// OutcomeIgnored could not be attributed to an account; nothing is recorded.
	OutcomeIgnored OutcomeKind = "ignored"
)

// Outcome is a handler's report. Notices are delivered after commit.
type Outcome struct {
	Kind       OutcomeKind
	AccountID  string
	CustomerID string
	Reason     string
	Notices    []notifications.Notice
}

// Handler applies one verified event type inside the caller's transaction.
type Handler interface {
	Handle(ctx context.Context, tx *gorm.DB, event *stripe.Event) (Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, tx *gorm.DB, event *stripe.Event) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, tx *gorm.DB, event *stripe.Event) (Outcome, error) {
	return f(ctx, tx, event)
}

func ignored(accountID, customerID, reason string) Outcome {
	return Outcome{Kind: OutcomeIgnored, AccountID: accountID, CustomerID: customerID, Reason: reason}
}

func decodeObject(event *stripe.Event, into any) error {
	if err := json.Unmarshal(event.Data.Raw, into); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode "+string(event.Type)+" object")
	}
	return nil
}
