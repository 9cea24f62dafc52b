package sideeffects

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/kitafinder-backend/internal/listings"
	"github.com/angelmondragon/kitafinder-backend/internal/notifications"
	"github.com/angelmondragon/kitafinder-backend/pkg/db/dbtest"
	"github.com/angelmondragon/kitafinder-backend/pkg/db/models"
	"github.com/angelmondragon/kitafinder-backend/pkg/enums"
	"github.com/angelmondragon/kitafinder-backend/pkg/outbox"
)

type notifierFunc func(ctx context.Context, n notifications.Notice) notifications.Result

func (f notifierFunc) Send(ctx context.Context, n notifications.Notice) notifications.Result {
	return f(ctx, n)
}

type failingSuspender struct{}

func (failingSuspender) SuspendForBilling(context.Context, *gorm.DB, string, time.Time) (int64, error) {
	return 0, errors.New("db gone")
}

func newDispatcher(t *testing.T, conn *gorm.DB, notifier notifications.Notifier) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(DispatcherParams{
		Listings: listings.NewRepository(conn),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), nil),
		Notifier: notifier,
		Now:      func() time.Time { return time.Date(2026, 10, 2, 8, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return d
}

func noopNotifier() notifications.Notifier {
	return notifierFunc(func(_ context.Context, n notifications.Notice) notifications.Result {
		return notifications.Result{Kind: n.Kind, Outcome: notifications.OutcomeSent}
	})
}

func outboxTypes(t *testing.T, conn *gorm.DB) []enums.OutboxEventType {
	t.Helper()
	var types []enums.OutboxEventType
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Order("created_at, event_type").Pluck("event_type", &types).Error)
	return types
}

func TestApplyCancelSuspendsAndEmits(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, conn.Create(&[]models.Listing{
		{AccountID: "A-1", Title: "one", Status: enums.ListingStatusPublished},
		{AccountID: "A-1", Title: "two", Status: enums.ListingStatusPublished},
	}).Error)
	d := newDispatcher(t, conn, noopNotifier())
	ctx := context.Background()

	var eff Effects
	err := conn.Transaction(func(tx *gorm.DB) error {
		var err error
		eff, err = d.Apply(ctx, tx, Transition{
			AccountID: "A-1", From: enums.BillingStatusActive, To: enums.BillingStatusCanceled,
			EventID: "evt_1", EventType: "customer.subscription.deleted",
		})
		return err
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, eff.ListingsSuspended)
	require.Len(t, eff.Notices, 1)
	assert.Equal(t, enums.NotificationSubscriptionCanceled, eff.Notices[0].Kind)
	assert.ElementsMatch(t, []enums.OutboxEventType{enums.EventListingsSuspended, enums.EventBillingStatusChanged}, outboxTypes(t, conn))

	var paused int64
	require.NoError(t, conn.Model(&models.Listing{}).Where("status = ?", enums.ListingStatusPaused).Count(&paused).Error)
	assert.EqualValues(t, 2, paused)
}

func TestApplyReconfirmedCancelIsQuiet(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, conn.Create(&models.Listing{AccountID: "A-1", Title: "late", Status: enums.ListingStatusPublished}).Error)
	d := newDispatcher(t, conn, noopNotifier())

	eff, err := d.Apply(context.Background(), conn, Transition{
		AccountID: "A-1", From: enums.BillingStatusCanceled, To: enums.BillingStatusCanceled, EventID: "evt_2",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, eff.ListingsSuspended, "re-confirmed cancel still completes the cascade")
	assert.Empty(t, eff.Notices)
	assert.Equal(t, []enums.OutboxEventType{enums.EventListingsSuspended}, outboxTypes(t, conn))
}

func TestApplySuspensionFailureAborts(t *testing.T) {
	conn := dbtest.Open(t)
	d, err := NewDispatcher(DispatcherParams{
		Listings: failingSuspender{},
		Outbox:   outbox.NewService(outbox.NewRepository(conn), nil),
		Notifier: noopNotifier(),
	})
	require.NoError(t, err)

	_, err = d.Apply(context.Background(), conn, Transition{AccountID: "A-1", From: enums.BillingStatusActive, To: enums.BillingStatusCanceled})
	require.Error(t, err)
	assert.Empty(t, outboxTypes(t, conn))
}

func TestStateNotice(t *testing.T) {
	tests := []struct {
		from, to enums.BillingStatus
		want     enums.NotificationKind
	}{
		{enums.BillingStatusNone, enums.BillingStatusActive, enums.NotificationSubscriptionActivated},
		{enums.BillingStatusCanceled, enums.BillingStatusActive, enums.NotificationSubscriptionActivated},
		{enums.BillingStatus(""), enums.BillingStatusActive, enums.NotificationSubscriptionActivated},
		{enums.BillingStatusPastDue, enums.BillingStatusActive, ""},
		{enums.BillingStatusTrialing, enums.BillingStatusActive, ""},
		{enums.BillingStatusActive, enums.BillingStatusPastDue, enums.NotificationSubscriptionPastDue},
		{enums.BillingStatusPastDue, enums.BillingStatusCanceled, enums.NotificationSubscriptionCanceled},
		{enums.BillingStatusActive, enums.BillingStatusActive, ""},
		{enums.BillingStatusActive, enums.BillingStatus("incomplete"), ""},
	}
	for _, tt := range tests {
		got, ok := stateNotice(tt.from, tt.to)
		if got != tt.want || ok != (tt.want != "") {
			t.Fatalf("stateNotice(%q, %q) = (%q, %v), want %q", tt.from, tt.to, got, ok, tt.want)
		}
	}
}

func TestNotifyBoundsDelivery(t *testing.T) {
	conn := dbtest.Open(t)
	slow := notifierFunc(func(ctx context.Context, n notifications.Notice) notifications.Result {
		<-ctx.Done()
		return notifications.Result{Kind: n.Kind, Outcome: notifications.OutcomeFailed, Err: ctx.Err()}
	})
	d, err := NewDispatcher(DispatcherParams{
		Listings:      listings.NewRepository(conn),
		Outbox:        outbox.NewService(outbox.NewRepository(conn), nil),
		Notifier:      slow,
		NotifyTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	res := d.Notify(context.Background(), notifications.Notice{Kind: enums.NotificationPaymentFailed, AccountID: "A-1"})
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, notifications.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}
