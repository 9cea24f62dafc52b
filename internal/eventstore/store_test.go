package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/kitafinder-backend/pkg/db/dbtest"
	"github.com/angelmondragon/kitafinder-backend/pkg/db/models"
)

func TestRecordAndExists(t *testing.T) {
	conn := dbtest.Open(t, &models.ProcessedEvent{})
	s := New(conn)
	ctx := context.Background()

	exists, err := s.Exists(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, exists)

	customer := "cus_1"
	err = conn.Transaction(func(tx *gorm.DB) error {
		inserted, err := s.Record(ctx, tx, models.ProcessedEvent{
			EventID:            "evt_1",
			EventType:          "invoice.paid",
			ExternalCustomerID: &customer,
		})
		require.NoError(t, err)
		assert.True(t, inserted)
		return nil
	})
	require.NoError(t, err)

	exists, err = s.Exists(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, exists)

	inserted, err := s.Record(ctx, conn, models.ProcessedEvent{EventID: "evt_1", EventType: "invoice.paid"})
	require.NoError(t, err)
	assert.False(t, inserted, "second insert of the same id must be a no-op")

	var count int64
	require.NoError(t, conn.Model(&models.ProcessedEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRecordRolledBackWithTransaction(t *testing.T) {
	conn := dbtest.Open(t, &models.ProcessedEvent{})
	s := New(conn)
	ctx := context.Background()

	_ = conn.Transaction(func(tx *gorm.DB) error {
		_, err := s.Record(ctx, tx, models.ProcessedEvent{EventID: "evt_rb", EventType: "invoice.paid"})
		require.NoError(t, err)
		return gorm.ErrInvalidTransaction
	})

	exists, err := s.Exists(ctx, "evt_rb")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestValidationAndRetention(t *testing.T) {
	conn := dbtest.Open(t, &models.ProcessedEvent{})
	s := New(conn)
	ctx := context.Background()

	_, err := s.Exists(ctx, " ")
	assert.Error(t, err)
	_, err = s.Record(ctx, conn, models.ProcessedEvent{})
	assert.Error(t, err)

	now := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	_, err = s.Record(ctx, conn, models.ProcessedEvent{EventID: "old", EventType: "x", ReceivedAt: now.AddDate(0, 0, -40)})
	require.NoError(t, err)
	_, err = s.Record(ctx, conn, models.ProcessedEvent{EventID: "new", EventType: "x", ReceivedAt: now.AddDate(0, 0, -1)})
	require.NoError(t, err)

	deleted, err := s.DeleteReceivedBefore(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	exists, _ := s.Exists(ctx, "new")
	assert.True(t, exists)
	exists, _ = s.Exists(ctx, "old")
	assert.False(t, exists)
}
