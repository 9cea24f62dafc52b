package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/kitafinder-backend/pkg/enums"
)

// Listing is a childcare offer published by an account. Only the columns the
// billing subsystem touches are mapped.
type Listing struct {
	ID           uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	AccountID    string                    `gorm:"column:account_id;not null;index:idx_listings_account_id"`
	Title        string                    `gorm:"column:title;not null"`
	Status       enums.ListingStatus       `gorm:"column:status;type:text;not null"`
	PausedReason *enums.ListingPauseReason `gorm:"column:paused_reason;type:text"`
	PausedAt     *time.Time                `gorm:"column:paused_at"`
	CreatedAt    time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (Listing) TableName() string { return "listings" }

func (l *Listing) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
