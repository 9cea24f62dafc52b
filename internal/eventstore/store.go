// Package eventstore is the append-only log of processed webhook events.
package eventstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/kitafinder-backend/internal/repo"
	"github.com/angelmondragon/kitafinder-backend/pkg/db/models"
)

// Store answers whether an event was already processed and records new ones.
type Store interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, tx *gorm.DB, event models.ProcessedEvent) (bool, error)
	DeleteReceivedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type store struct {
	base repo.Base
	now  func() time.Time
}

// New returns a Store backed by the processed_events table.
func New(conn *gorm.DB) Store {
	return &store{base: repo.NewBase(conn), now: time.Now}
}

func (s *store) Exists(ctx context.Context, eventID string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	var count int64
	if err := s.base.DB(ctx).
		Model(&models.ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Record inserts the event inside tx. It returns false when another delivery
// already recorded the same event id; nothing is written in that case.
func (s *store) Record(ctx context.Context, tx *gorm.DB, event models.ProcessedEvent) (bool, error) {
	if strings.TrimSpace(event.EventID) == "" {
		return false, errors.New("event id is required")
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = s.now().UTC()
	}
	res := s.base.WithTx(tx).DB(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteReceivedBefore prunes rows older than cutoff and reports how many were removed.
func (s *store) DeleteReceivedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.base.DB(ctx).
		Where("received_at < ?", cutoff.UTC()).
		Delete(&models.ProcessedEvent{})
	return res.RowsAffected, res.Error
}
