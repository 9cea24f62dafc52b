package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/kitafinder-backend/internal/billing"
	"github.com/angelmondragon/kitafinder-backend/internal/eventstore"
	"github.com/angelmondragon/kitafinder-backend/internal/listings"
	"github.com/angelmondragon/kitafinder-backend/internal/notifications"
	"github.com/angelmondragon/kitafinder-backend/internal/sideeffects"
	"github.com/angelmondragon/kitafinder-backend/pkg/db"
	"github.com/angelmondragon/kitafinder-backend/pkg/db/dbtest"
	"github.com/angelmondragon/kitafinder-backend/pkg/db/models"
	"github.com/angelmondragon/kitafinder-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitafinder-backend/pkg/errors"
	"github.com/angelmondragon/kitafinder-backend/pkg/outbox"
)

var baseTime = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

const testClaimLease = 20 * time.Second

// recordingNotifier captures notices together with the number of paused
// listings at delivery time.
type recordingNotifier struct {
	mu      sync.Mutex
	conn    *gorm.DB
	notices []notifications.Notice
	paused  []int64
	fail    bool
}

func (r *recordingNotifier) Send(_ context.Context, n notifications.Notice) notifications.Result {
	var paused int64
	r.conn.Model(&models.Listing{}).Where("account_id = ? AND status = ?", n.AccountID, enums.ListingStatusPaused).Count(&paused)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	r.paused = append(r.paused, paused)
	if r.fail {
		return notifications.Result{Kind: n.Kind, AccountID: n.AccountID, Outcome: notifications.OutcomeFailed, Err: errors.New("gateway exploded")}
	}
	return notifications.Result{Kind: n.Kind, AccountID: n.AccountID, Outcome: notifications.OutcomeSent, MessageID: "m"}
}

func (r *recordingNotifier) kinds() []enums.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]enums.NotificationKind, 0, len(r.notices))
	for _, n := range r.notices {
		out = append(out, n.Kind)
	}
	return out
}

type harness struct {
	conn     *gorm.DB
	svc      *Service
	notifier *recordingNotifier
	claims   *memoryClaimStore
	billing  billing.Repository
}

type harnessOption func(*ServiceParams)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	notifier := &recordingNotifier{conn: conn}
	dispatcher, err := sideeffects.NewDispatcher(sideeffects.DispatcherParams{
		Listings: listings.NewRepository(conn),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), nil),
		Notifier: notifier,
	})
	require.NoError(t, err)

	claims := newMemoryClaimStore()
	guard, err := NewInFlightGuard(claims, testClaimLease, InFlightScope)
	require.NoError(t, err)

	params := ServiceParams{
		BillingRepo:       billing.NewRepository(conn),
		EventStore:        eventstore.New(conn),
		Dispatcher:        dispatcher,
		Guard:             guard,
		TransactionRunner: db.NewFromConn(conn),
	}
	for _, opt := range opts {
		opt(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	return &harness{conn: conn, svc: svc, notifier: notifier, claims: claims, billing: params.BillingRepo}
}

func (h *harness) seedListings(t *testing.T, accountID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.conn.Create(&models.Listing{AccountID: accountID, Title: "listing", Status: enums.ListingStatusPublished}).Error)
	}
}

func (h *harness) record(t *testing.T, accountID string) *models.AccountBillingRecord {
	t.Helper()
	rec, err := billing.NewRepository(h.conn).FindByAccountID(context.Background(), accountID)
	require.NoError(t, err)
	return rec
}

func (h *harness) processedCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(&models.ProcessedEvent{}).Count(&n).Error)
	return n
}

func (h *harness) pausedCount(t *testing.T, accountID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(&models.Listing{}).Where("account_id = ? AND status = ?", accountID, enums.ListingStatusPaused).Count(&n).Error)
	return n
}

func newEvent(t *testing.T, id string, typ stripe.EventType, created time.Time, object map[string]any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return &stripe.Event{
		ID:      id,
		Type:    typ,
		Created: created.Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
}

func checkoutEvent(t *testing.T, id, accountID, customer, sub string, created time.Time) *stripe.Event {
	return newEvent(t, id, stripe.EventTypeCheckoutSessionCompleted, created, map[string]any{
		"id":           "cs_" + id,
		"object":       "checkout.session",
		"customer":     customer,
		"subscription": sub,
		"metadata":     map[string]string{"account_id": accountID},
	})
}

func subscriptionEvent(t *testing.T, id string, typ stripe.EventType, customer, sub, status string, created time.Time) *stripe.Event {
	return newEvent(t, id, typ, created, map[string]any{
		"id":       sub,
		"object":   "subscription",
		"customer": customer,
		"status":   status,
	})
}

func invoiceEvent(t *testing.T, id string, typ stripe.EventType, customer string, amount int64, created time.Time) *stripe.Event {
	return newEvent(t, id, typ, created, map[string]any{
		"id":          "in_" + id,
		"object":      "invoice",
		"customer":    customer,
		"amount_paid": amount,
		"amount_due":  amount,
		"currency":    "eur",
	})
}

func mustProcess(t *testing.T, h *harness, ev *stripe.Event) Result {
	t.Helper()
	res, err := h.svc.Process(context.Background(), ev)
	require.NoError(t, err)
	return res
}

func TestLifecycleScenario(t *testing.T) {
	h := newHarness(t)
	h.seedListings(t, "A-1", 2)

	res := mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))
	assert.Equal(t, DispositionProcessed, res.Disposition)
	rec := h.record(t, "A-1")
	require.NotNil(t, rec)
	assert.Equal(t, enums.BillingStatusActive, rec.Status)
	assert.Equal(t, "cus_1", rec.CustomerID())
	assert.Equal(t, "sub_1", rec.SubscriptionID())

	mustProcess(t, h, subscriptionEvent(t, "evt_2", stripe.EventTypeCustomerSubscriptionUpdated, "cus_1", "sub_1", "past_due", baseTime.Add(time.Hour)))
	assert.Equal(t, enums.BillingStatusPastDue, h.record(t, "A-1").Status)

	mustProcess(t, h, subscriptionEvent(t, "evt_3", stripe.EventTypeCustomerSubscriptionDeleted, "cus_1", "sub_1", "canceled", baseTime.Add(2*time.Hour)))
	assert.Equal(t, enums.BillingStatusCanceled, h.record(t, "A-1").Status)
	assert.EqualValues(t, 2, h.pausedCount(t, "A-1"))

	assert.Equal(t, []enums.NotificationKind{
		enums.NotificationSubscriptionActivated,
		enums.NotificationSubscriptionPastDue,
		enums.NotificationSubscriptionCanceled,
	}, h.notifier.kinds())
	assert.EqualValues(t, 3, h.processedCount(t))

	var outboxTypes []string
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Pluck("event_type", &outboxTypes).Error)
	assert.Contains(t, outboxTypes, string(enums.EventListingsSuspended))
	assert.Contains(t, outboxTypes, string(enums.EventBillingStatusChanged))
}

func TestReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ev := checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime)

	first := mustProcess(t, h, ev)
	assert.Equal(t, DispositionProcessed, first.Disposition)
	updatedAt := h.record(t, "A-1").UpdatedAt

	for i := 0; i < 3; i++ {
		res := mustProcess(t, h, ev)
		assert.Equal(t, DispositionDuplicate, res.Disposition)
	}
	assert.True(t, h.record(t, "A-1").UpdatedAt.Equal(updatedAt), "duplicates must not touch the record")
	assert.Len(t, h.notifier.kinds(), 1)
	assert.EqualValues(t, 1, h.processedCount(t))
	assert.False(t, h.claims.has(h.claims.InFlightKey(InFlightScope, "evt_1")), "processed events release their claim")
}

func TestOrderTolerance(t *testing.T) {
	t.Run("in order", func(t *testing.T) {
		h := newHarness(t)
		mustProcess(t, h, checkoutEvent(t, "evt_c", "A-1", "cus_1", "sub_1", baseTime))
		mustProcess(t, h, invoiceEvent(t, "evt_f", stripe.EventTypeInvoicePaymentFailed, "cus_1", 4900, baseTime.Add(time.Hour)))
		assert.Equal(t, enums.BillingStatusPastDue, h.record(t, "A-1").Status)
		mustProcess(t, h, subscriptionEvent(t, "evt_u", stripe.EventTypeCustomerSubscriptionUpdated, "cus_1", "sub_1", "active", baseTime.Add(2*time.Hour)))
		assert.Equal(t, enums.BillingStatusActive, h.record(t, "A-1").Status)
	})

	t.Run("reversed", func(t *testing.T) {
		h := newHarness(t)
		mustProcess(t, h, checkoutEvent(t, "evt_c", "A-1", "cus_1", "sub_1", baseTime))
		mustProcess(t, h, subscriptionEvent(t, "evt_u", stripe.EventTypeCustomerSubscriptionUpdated, "cus_1", "sub_1", "active", baseTime.Add(2*time.Hour)))
		res := mustProcess(t, h, invoiceEvent(t, "evt_f", stripe.EventTypeInvoicePaymentFailed, "cus_1", 4900, baseTime.Add(time.Hour)))
		assert.Equal(t, OutcomeUnchanged, res.Outcome.Kind)
		assert.Equal(t, enums.BillingStatusActive, h.record(t, "A-1").Status)
		assert.Contains(t, h.notifier.kinds(), enums.NotificationPaymentFailed, "dunning is sent even without a status change")
		assert.EqualValues(t, 3, h.processedCount(t))
	})

	t.Run("stale subscription update", func(t *testing.T) {
		h := newHarness(t)
		mustProcess(t, h, checkoutEvent(t, "evt_c", "A-1", "cus_1", "sub_1", baseTime))
		mustProcess(t, h, subscriptionEvent(t, "evt_d", stripe.EventTypeCustomerSubscriptionDeleted, "cus_1", "sub_1", "canceled", baseTime.Add(2*time.Hour)))
		res := mustProcess(t, h, subscriptionEvent(t, "evt_u", stripe.EventTypeCustomerSubscriptionUpdated, "cus_1", "sub_1", "active", baseTime.Add(time.Hour)))
		assert.Equal(t, OutcomeUnchanged, res.Outcome.Kind)
		assert.Equal(t, enums.BillingStatusCanceled, h.record(t, "A-1").Status)
	})
}

func TestCascadeBeforeNotify(t *testing.T) {
	h := newHarness(t)
	h.notifier.fail = true
	h.seedListings(t, "A-1", 3)

	mustProcess(t, h, checkoutEvent(t, "evt_c", "A-1", "cus_1", "sub_1", baseTime))
	res, err := h.svc.Process(context.Background(), subscriptionEvent(t, "evt_d", stripe.EventTypeCustomerSubscriptionDeleted, "cus_1", "sub_1", "canceled", baseTime.Add(time.Hour)))
	require.NoError(t, err, "notification failure never fails the delivery")
	assert.Equal(t, DispositionProcessed, res.Disposition)

	assert.EqualValues(t, 3, h.pausedCount(t, "A-1"))
	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	last := len(h.notifier.notices) - 1
	require.GreaterOrEqual(t, last, 0)
	assert.Equal(t, enums.NotificationSubscriptionCanceled, h.notifier.notices[last].Kind)
	assert.EqualValues(t, 3, h.notifier.paused[last], "listings were suspended before the notice went out")
}

func TestUnknownCustomerIsAcknowledgedWithoutRecording(t *testing.T) {
	h := newHarness(t)
	ev := subscriptionEvent(t, "evt_x", stripe.EventTypeCustomerSubscriptionUpdated, "cus_unknown", "sub_9", "active", baseTime)

	res := mustProcess(t, h, ev)
	assert.Equal(t, DispositionIgnored, res.Disposition)
	assert.EqualValues(t, 0, h.processedCount(t))
	assert.Empty(t, h.notifier.kinds())
	assert.False(t, h.claims.has(h.claims.InFlightKey(InFlightScope, "evt_x")), "ignored events release their claim")

	var records int64
	require.NoError(t, h.conn.Model(&models.AccountBillingRecord{}).Count(&records).Error)
	assert.EqualValues(t, 0, records)
}

func TestUnhandledEventType(t *testing.T) {
	h := newHarness(t)
	res := mustProcess(t, h, newEvent(t, "evt_p", stripe.EventType("customer.created"), baseTime, map[string]any{"id": "cus_1"}))
	assert.Equal(t, DispositionUnhandled, res.Disposition)
	assert.EqualValues(t, 0, h.processedCount(t))
	assert.False(t, h.svc.Handles("customer.created"))
	assert.True(t, h.svc.Handles(stripe.EventTypeInvoicePaid))
}

func TestCheckoutEdgeCases(t *testing.T) {
	t.Run("missing account metadata", func(t *testing.T) {
		h := newHarness(t)
		res := mustProcess(t, h, checkoutEvent(t, "evt_1", "", "cus_1", "sub_1", baseTime))
		assert.Equal(t, DispositionIgnored, res.Disposition)
		assert.EqualValues(t, 0, h.processedCount(t))
	})

	t.Run("customer is never reassigned", func(t *testing.T) {
		h := newHarness(t)
		mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))
		mustProcess(t, h, checkoutEvent(t, "evt_2", "A-1", "cus_2", "sub_2", baseTime.Add(time.Hour)))
		rec := h.record(t, "A-1")
		assert.Equal(t, "cus_1", rec.CustomerID())
		assert.Equal(t, "sub_2", rec.SubscriptionID())
	})

	t.Run("customer owned by another account", func(t *testing.T) {
		h := newHarness(t)
		mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))
		res := mustProcess(t, h, checkoutEvent(t, "evt_2", "A-2", "cus_1", "sub_2", baseTime.Add(time.Hour)))
		assert.Equal(t, DispositionIgnored, res.Disposition)
		assert.Nil(t, h.record(t, "A-2"))
	})

	t.Run("reactivation after cancel", func(t *testing.T) {
		h := newHarness(t)
		mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))
		mustProcess(t, h, subscriptionEvent(t, "evt_2", stripe.EventTypeCustomerSubscriptionDeleted, "cus_1", "sub_1", "canceled", baseTime.Add(time.Hour)))
		mustProcess(t, h, checkoutEvent(t, "evt_3", "A-1", "cus_1", "sub_2", baseTime.Add(2*time.Hour)))
		rec := h.record(t, "A-1")
		assert.Equal(t, enums.BillingStatusActive, rec.Status)
		assert.Equal(t, "sub_2", rec.SubscriptionID())
		assert.Equal(t, enums.NotificationSubscriptionActivated, h.notifier.kinds()[2])
	})
}

func TestUpdateForReplacedSubscriptionIsIgnored(t *testing.T) {
	h := newHarness(t)
	mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))
	mustProcess(t, h, subscriptionEvent(t, "evt_2", stripe.EventTypeCustomerSubscriptionDeleted, "cus_1", "sub_1", "canceled", baseTime.Add(time.Hour)))
	mustProcess(t, h, checkoutEvent(t, "evt_3", "A-1", "cus_1", "sub_2", baseTime.Add(2*time.Hour)))

	res := mustProcess(t, h, subscriptionEvent(t, "evt_4", stripe.EventTypeCustomerSubscriptionUpdated, "cus_1", "sub_1", "past_due", baseTime.Add(3*time.Hour)))
	assert.Equal(t, DispositionIgnored, res.Disposition)
	rec := h.record(t, "A-1")
	assert.Equal(t, enums.BillingStatusActive, rec.Status)
	assert.Equal(t, "sub_2", rec.SubscriptionID())
	assert.EqualValues(t, 3, h.processedCount(t))

	mustProcess(t, h, subscriptionEvent(t, "evt_5", stripe.EventTypeCustomerSubscriptionUpdated, "cus_1", "sub_2", "past_due", baseTime.Add(4*time.Hour)))
	assert.Equal(t, enums.BillingStatusPastDue, h.record(t, "A-1").Status)
}

func TestDeletedForOldSubscriptionIsIgnored(t *testing.T) {
	h := newHarness(t)
	mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_new", baseTime))
	res := mustProcess(t, h, subscriptionEvent(t, "evt_2", stripe.EventTypeCustomerSubscriptionDeleted, "cus_1", "sub_old", "canceled", baseTime.Add(time.Hour)))
	assert.Equal(t, DispositionIgnored, res.Disposition)
	assert.Equal(t, enums.BillingStatusActive, h.record(t, "A-1").Status)
}

func TestInvoicePaidNotifiesWithAmount(t *testing.T) {
	h := newHarness(t)
	mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))
	mustProcess(t, h, invoiceEvent(t, "evt_2", stripe.EventTypeInvoicePaymentFailed, "cus_1", 4900, baseTime.Add(time.Hour)))
	mustProcess(t, h, invoiceEvent(t, "evt_3", stripe.EventTypeInvoicePaid, "cus_1", 4900, baseTime.Add(2*time.Hour)))

	assert.Equal(t, enums.BillingStatusActive, h.record(t, "A-1").Status)
	assert.Equal(t, []enums.NotificationKind{
		enums.NotificationSubscriptionActivated,
		enums.NotificationPaymentFailed,
		enums.NotificationPaymentConfirmed,
	}, h.notifier.kinds())

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	paid := h.notifier.notices[2]
	require.NotNil(t, paid.Amount)
	assert.EqualValues(t, 4900, paid.Amount.Minor)
	assert.Equal(t, enums.Currency("EUR"), paid.Amount.Currency)
}

func TestInvoiceNeverRevivesCanceledAccount(t *testing.T) {
	h := newHarness(t)
	mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))
	mustProcess(t, h, subscriptionEvent(t, "evt_2", stripe.EventTypeCustomerSubscriptionDeleted, "cus_1", "sub_1", "canceled", baseTime.Add(time.Hour)))
	mustProcess(t, h, invoiceEvent(t, "evt_3", stripe.EventTypeInvoicePaid, "cus_1", 4900, baseTime.Add(2*time.Hour)))
	assert.Equal(t, enums.BillingStatusCanceled, h.record(t, "A-1").Status)
}

func TestUnrecognizedStatusPassesThrough(t *testing.T) {
	h := newHarness(t)
	mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))
	mustProcess(t, h, subscriptionEvent(t, "evt_2", stripe.EventTypeCustomerSubscriptionUpdated, "cus_1", "sub_1", "incomplete_expired", baseTime.Add(time.Hour)))
	assert.Equal(t, enums.BillingStatus("incomplete_expired"), h.record(t, "A-1").Status)
}

func TestMissingSubscriptionStatusIsValidationError(t *testing.T) {
	h := newHarness(t)
	mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))
	_, err := h.svc.Process(context.Background(), subscriptionEvent(t, "evt_2", stripe.EventTypeCustomerSubscriptionUpdated, "cus_1", "sub_1", "", baseTime))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

// racingEventStore always reports events as new, so the second delivery only
// discovers the duplicate when its insert comes back empty.
type racingEventStore struct {
	eventstore.Store
}

func (racingEventStore) Exists(context.Context, string) (bool, error) { return false, nil }

func TestConcurrentDuplicateLosesInsertRace(t *testing.T) {
	h := newHarness(t, func(p *ServiceParams) {
		p.Guard = nil
		p.EventStore = racingEventStore{Store: p.EventStore}
	})
	mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))
	before := h.record(t, "A-1").UpdatedAt

	res := mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))
	assert.Equal(t, DispositionDuplicate, res.Disposition)
	assert.True(t, h.record(t, "A-1").UpdatedAt.Equal(before), "losing delivery rolls back its write")
	assert.Len(t, h.notifier.kinds(), 1)
}

func TestInFlightClaimBlocksConcurrentDelivery(t *testing.T) {
	h := newHarness(t)
	key := h.claims.InFlightKey(InFlightScope, "evt_1")
	_, _ = h.claims.SetNX(context.Background(), key, "1", testClaimLease)

	_, err := h.svc.Process(context.Background(), checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	assert.Nil(t, h.record(t, "A-1"))
}

func TestClaimStoreOutageFallsBackToEventStore(t *testing.T) {
	h := newHarness(t)
	h.claims.err = errors.New("redis down")
	res := mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))
	assert.Equal(t, DispositionProcessed, res.Disposition)
}

// conflictingRepo loses the first n compare-and-updates.
type conflictingRepo struct {
	billing.Repository
	mu        sync.Mutex
	remaining int
	calls     int
}

func (c *conflictingRepo) WithTx(tx *gorm.DB) billing.Repository {
	return &conflictingTx{Repository: c.Repository.WithTx(tx), parent: c}
}

type conflictingTx struct {
	billing.Repository
	parent *conflictingRepo
}

func (c *conflictingTx) CompareAndUpdate(ctx context.Context, rec *models.AccountBillingRecord, expected time.Time) error {
	c.parent.mu.Lock()
	c.parent.calls++
	lose := c.parent.remaining > 0
	if lose {
		c.parent.remaining--
	}
	c.parent.mu.Unlock()
	if lose {
		return billing.ErrStaleRecord
	}
	return c.Repository.CompareAndUpdate(ctx, rec, expected)
}

func TestConflictIsRetried(t *testing.T) {
	var repo *conflictingRepo
	h := newHarness(t, func(p *ServiceParams) {
		repo = &conflictingRepo{Repository: p.BillingRepo}
		p.BillingRepo = repo
	})
	mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))

	repo.remaining = 2
	mustProcess(t, h, subscriptionEvent(t, "evt_2", stripe.EventTypeCustomerSubscriptionUpdated, "cus_1", "sub_1", "past_due", baseTime.Add(time.Hour)))
	assert.Equal(t, enums.BillingStatusPastDue, h.record(t, "A-1").Status)
	assert.Equal(t, 3, repo.calls)
}

func TestConflictRetriesAreBounded(t *testing.T) {
	var repo *conflictingRepo
	h := newHarness(t, func(p *ServiceParams) {
		repo = &conflictingRepo{Repository: p.BillingRepo}
		p.BillingRepo = repo
	})
	mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))

	repo.remaining = 100
	_, err := h.svc.Process(context.Background(), subscriptionEvent(t, "evt_2", stripe.EventTypeCustomerSubscriptionUpdated, "cus_1", "sub_1", "past_due", baseTime.Add(time.Hour)))
	require.Error(t, err)
	assert.Equal(t, 1+defaultConflictRetries, repo.calls)
	assert.Equal(t, enums.BillingStatusActive, h.record(t, "A-1").Status)
	assert.EqualValues(t, 1, h.processedCount(t), "failed event is not recorded")
	assert.False(t, h.claims.has(h.claims.InFlightKey(InFlightScope, "evt_2")), "failed events release their claim")
}

func TestOrphanedClaimExpiresBeforeRetry(t *testing.T) {
	var repo *conflictingRepo
	h := newHarness(t, func(p *ServiceParams) {
		repo = &conflictingRepo{Repository: p.BillingRepo}
		p.BillingRepo = repo
	})
	clock := baseTime
	h.claims.now = func() time.Time { return clock }
	key := h.claims.InFlightKey(InFlightScope, "evt_2")
	mustProcess(t, h, checkoutEvent(t, "evt_1", "A-1", "cus_1", "sub_1", baseTime))
	update := subscriptionEvent(t, "evt_2", stripe.EventTypeCustomerSubscriptionUpdated, "cus_1", "sub_1", "past_due", baseTime.Add(time.Hour))

	repo.remaining = 100
	h.claims.delErr = errors.New("redis timeout")
	_, err := h.svc.Process(context.Background(), update)
	require.Error(t, err)
	require.True(t, h.claims.has(key), "failed release leaves the claim behind")

	repo.remaining = 0
	h.claims.delErr = nil
	_, err = h.svc.Process(context.Background(), update)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err), "a live claim still blocks a concurrent delivery")

	clock = clock.Add(testClaimLease + time.Second)
	res := mustProcess(t, h, update)
	assert.Equal(t, DispositionProcessed, res.Disposition)
	assert.Equal(t, enums.BillingStatusPastDue, h.record(t, "A-1").Status)
	assert.EqualValues(t, 2, h.processedCount(t))
	assert.False(t, h.claims.has(key))
}

func TestProcessingDeadline(t *testing.T) {
	h := newHarness(t, func(p *ServiceParams) {
		p.Timeout = 20 * time.Millisecond
	})
	h.svc.Register("customer.created", HandlerFunc(func(ctx context.Context, _ *gorm.DB, _ *stripe.Event) (Outcome, error) {
		<-ctx.Done()
		return Outcome{}, ctx.Err()
	}))

	_, err := h.svc.Process(context.Background(), newEvent(t, "evt_slow", "customer.created", baseTime, map[string]any{"id": "cus_1"}))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeTimeout, pkgerrors.CodeOf(err))
	assert.EqualValues(t, 0, h.processedCount(t))
	assert.False(t, h.claims.has(h.claims.InFlightKey(InFlightScope, "evt_slow")), "timed-out events release their claim")
}

func TestRegisterOverridesHandler(t *testing.T) {
	h := newHarness(t)
	called := false
	h.svc.Register("customer.created", HandlerFunc(func(context.Context, *gorm.DB, *stripe.Event) (Outcome, error) {
		called = true
		return Outcome{Kind: OutcomeUnchanged}, nil
	}))
	res := mustProcess(t, h, newEvent(t, "evt_9", "customer.created", baseTime, map[string]any{"id": "cus_1"}))
	assert.True(t, called)
	assert.Equal(t, DispositionProcessed, res.Disposition)
	assert.EqualValues(t, 1, h.processedCount(t))
}
