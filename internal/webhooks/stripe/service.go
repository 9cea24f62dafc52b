// Package stripewebhook turns verified billing events into account state.
package stripewebhook

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/kitafinder-backend/internal/billing"
	"github.com/angelmondragon/kitafinder-backend/internal/eventstore"
	"github.com/angelmondragon/kitafinder-backend/internal/notifications"
	"github.com/angelmondragon/kitafinder-backend/internal/sideeffects"
	"github.com/angelmondragon/kitafinder-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/kitafinder-backend/pkg/errors"
	"github.com/angelmondragon/kitafinder-backend/pkg/logger"
	"github.com/angelmondragon/kitafinder-backend/pkg/metrics"
)

const (
	InFlightScope = "stripe-webhook"

	defaultConflictRetries = 3
	defaultTimeout         = 8 * time.Second
)

// errDuplicateDelivery aborts a transaction whose event id was recorded by a
// concurrent delivery first.
var errDuplicateDelivery = errors.New("event recorded by a concurrent delivery")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type dispatcher interface {
	Apply(ctx context.Context, tx *gorm.DB, t sideeffects.Transition) (sideeffects.Effects, error)
	Notify(ctx context.Context, notice notifications.Notice) notifications.Result
}

type claimer interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type ServiceParams struct {
	BillingRepo       billing.Repository
	EventStore        eventstore.Store
	Dispatcher        dispatcher
	Guard             claimer
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.WebhookMetrics
	ConflictRetries   int
	Timeout           time.Duration
}

type Service struct {
	billingRepo billing.Repository
	events      eventstore.Store
	dispatcher  dispatcher
	guard       claimer
	txRunner    txRunner
	logg        *logger.Logger
	metrics     *metrics.WebhookMetrics
	retries     int
	timeout     time.Duration
	handlers    map[stripe.EventType]Handler
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.EventStore == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event store required")
	}
	if params.Dispatcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "dispatcher required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	retries := params.ConflictRetries
	if retries <= 0 {
		retries = defaultConflictRetries
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	s := &Service{
		billingRepo: params.BillingRepo,
		events:      params.EventStore,
		dispatcher:  params.Dispatcher,
		guard:       params.Guard,
		txRunner:    params.TransactionRunner,
		logg:        logg,
		metrics:     params.Metrics,
		retries:     retries,
		timeout:     timeout,
		now:         time.Now,
	}
	s.handlers = s.defaultHandlers()
	return s, nil
}

// Register replaces or adds the handler for an event type.
func (s *Service) Register(eventType stripe.EventType, h Handler) {
	s.handlers[eventType] = h
}

// Handles reports whether an event type has a registered handler.
func (s *Service) Handles(eventType stripe.EventType) bool {
	_, ok := s.handlers[eventType]
	return ok
}

// Disposition is how a delivery ended, from the caller's point of view.
type Disposition string

const (
	DispositionProcessed Disposition = "processed"
	DispositionDuplicate Disposition = "duplicate"
	DispositionUnhandled Disposition = "unhandled"
	DispositionIgnored   Disposition = "ignored"
)

type Result struct {
	Disposition Disposition
	Outcome     Outcome
}

// Process runs a verified event to completion: dedup, claim, handle and
// record in one transaction, then deliver notices. A returned error means the
// event was not recorded and the processor should retry it.
func (s *Service) Process(ctx context.Context, event *stripe.Event) (Result, error) {
	if event == nil || event.ID == "" || event.Data == nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe event required")
	}
	start := s.now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx = s.logg.WithEvent(ctx, event.ID, string(event.Type))

	res, err := s.process(ctx, event)
	s.observe(string(event.Type), res, err, s.now().Sub(start))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "webhook processing deadline exceeded")
		}
		s.logg.Error(ctx, "billing webhook failed", err)
		return Result{}, err
	}
	return res, nil
}

func (s *Service) process(ctx context.Context, event *stripe.Event) (Result, error) {
	seen, err := s.events.Exists(ctx, event.ID)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check event store")
	}
	if seen {
		s.logg.Info(ctx, "duplicate billing event acknowledged")
		return Result{Disposition: DispositionDuplicate}, nil
	}

	handler, ok := s.handlers[event.Type]
	if !ok {
		s.logg.Info(ctx, "unhandled billing event type acknowledged")
		return Result{Disposition: DispositionUnhandled}, nil
	}

	claimed, err := s.claim(ctx, event.ID)
	if err != nil {
		return Result{}, err
	}
	// The processed_events row is the durable dedup; the claim only covers
	// the handler run.
	defer s.release(ctx, claimed, event.ID)

	outcome, duplicate, err := s.runWithRetry(ctx, handler, event)
	if err != nil {
		return Result{}, err
	}
	if duplicate {
		s.logg.Info(ctx, "concurrent duplicate billing event acknowledged")
		return Result{Disposition: DispositionDuplicate}, nil
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"account_id":  outcome.AccountID,
		"customer_id": outcome.CustomerID,
		"outcome":     string(outcome.Kind),
		"reason":      outcome.Reason,
	})
	if outcome.Kind == OutcomeIgnored {
		s.logg.Info(logCtx, "billing event ignored")
		return Result{Disposition: DispositionIgnored, Outcome: outcome}, nil
	}
	s.logg.Info(logCtx, "billing event processed")

	s.notify(logCtx, outcome.Notices)
	return Result{Disposition: DispositionProcessed, Outcome: outcome}, nil
}

// claim takes the in-flight lease. A store outage is logged and tolerated:
// the event store's insert-once row still keeps the outcome single. A lease
// orphaned by a crash or a failed release expires on its own.
func (s *Service) claim(ctx context.Context, eventID string) (bool, error) {
	if s.guard == nil {
		return false, nil
	}
	ok, err := s.guard.Claim(ctx, eventID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "in-flight claim unavailable; continuing without it")
		return false, nil
	}
	if !ok {
		return false, pkgerrors.New(pkgerrors.CodeConflict, "event is already being processed")
	}
	return true, nil
}

func (s *Service) release(ctx context.Context, claimed bool, eventID string) {
	if !claimed {
		return
	}
	if err := s.guard.Release(context.WithoutCancel(ctx), eventID); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "release in-flight claim failed")
	}
}

// runWithRetry repeats the whole transaction when another writer moved the
// account's record between read and compare-and-update.
func (s *Service) runWithRetry(ctx context.Context, handler Handler, event *stripe.Event) (Outcome, bool, error) {
	for attempt := 1; ; attempt++ {
		outcome, duplicate, err := s.runOnce(ctx, handler, event)
		if err == nil || !errors.Is(err, billing.ErrStaleRecord) {
			return outcome, duplicate, err
		}
		s.metrics.IncConflict()
		if attempt > s.retries {
			return Outcome{}, false, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "billing record kept changing")
		}
		if ctx.Err() != nil {
			return Outcome{}, false, ctx.Err()
		}
		s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "billing record conflict; retrying")
	}
}

func (s *Service) runOnce(ctx context.Context, handler Handler, event *stripe.Event) (Outcome, bool, error) {
	var outcome Outcome
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		out, err := handler.Handle(ctx, tx, event)
		if err != nil {
			return err
		}
		outcome = out
		if out.Kind == OutcomeIgnored {
			return nil
		}
		row := models.ProcessedEvent{
			EventID:    event.ID,
			EventType:  string(event.Type),
			ReceivedAt: s.now().UTC(),
		}
		if out.CustomerID != "" {
			customerID := out.CustomerID
			row.ExternalCustomerID = &customerID
		}
		inserted, err := s.events.Record(ctx, tx, row)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicateDelivery
		}
		return nil
	})
	if errors.Is(err, errDuplicateDelivery) {
		return Outcome{}, true, nil
	}
	return outcome, false, err
}

// notify is the only place notices are delivered. Results are logged and
// counted, never returned.
func (s *Service) notify(ctx context.Context, notices []notifications.Notice) {
	for _, notice := range notices {
		res := s.dispatcher.Notify(ctx, notice)
		s.metrics.IncNotification(string(res.Kind), string(res.Outcome))
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"notification": string(res.Kind),
			"outcome":      string(res.Outcome),
			"message_id":   res.MessageID,
		})
		switch res.Outcome {
		case notifications.OutcomeSent:
			s.logg.Info(logCtx, "billing notification sent")
		case notifications.OutcomeSkipped:
			s.logg.Warn(s.logg.WithField(logCtx, "error", errString(res.Err)), "billing notification skipped")
		default:
			s.logg.Error(logCtx, "billing notification failed", res.Err)
		}
	}
}

func (s *Service) observe(eventType string, res Result, err error, elapsed time.Duration) {
	outcome := metrics.OutcomeFailed
	if err == nil {
		switch res.Disposition {
		case DispositionDuplicate:
			outcome = metrics.OutcomeDuplicate
		case DispositionUnhandled:
			outcome = metrics.OutcomeUnhandled
		case DispositionIgnored:
			outcome = metrics.OutcomeIgnored
		default:
			outcome = metrics.OutcomeApplied
			if res.Outcome.Kind == OutcomeUnchanged {
				outcome = metrics.OutcomeUnchanged
			}
		}
	}
	s.metrics.ObserveEvent(eventType, outcome, elapsed)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (s *Service) warn(ctx context.Context, fields map[string]any, msg string) {
	if len(fields) > 0 {
		ctx = s.logg.WithFields(ctx, fields)
	}
	s.logg.Warn(ctx, msg)
}

func (s *Service) info(ctx context.Context, fields map[string]any, msg string) {
	if len(fields) > 0 {
		ctx = s.logg.WithFields(ctx, fields)
	}
	s.logg.Info(ctx, msg)
}
