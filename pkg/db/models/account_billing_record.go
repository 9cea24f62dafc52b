package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/kitafinder-backend/pkg/enums"
)

// AccountBillingRecord is the single row that decides whether an account may operate.
// UpdatedAt doubles as the optimistic concurrency token and is always written explicitly.
type AccountBillingRecord struct {
	ID                     uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	AccountID              string              `gorm:"column:account_id;not null;uniqueIndex:ux_account_billing_records_account_id"`
	ExternalCustomerID     *string             `gorm:"column:external_customer_id;uniqueIndex:ux_account_billing_records_customer_id"`
	ExternalSubscriptionID *string             `gorm:"column:external_subscription_id"`
	Status                 enums.BillingStatus `gorm:"column:status;type:text;not null"`
	StatusEventAt          *time.Time          `gorm:"column:status_event_at"`
	CreatedAt              time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time           `gorm:"column:updated_at;autoUpdateTime:false;not null"`
}

func (AccountBillingRecord) TableName() string { return "account_billing_records" }

func (r *AccountBillingRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// CustomerID returns the processor customer id or "".
func (r *AccountBillingRecord) CustomerID() string {
	if r == nil || r.ExternalCustomerID == nil {
		return ""
	}
	return *r.ExternalCustomerID
}

// SubscriptionID returns the processor subscription id or "".
func (r *AccountBillingRecord) SubscriptionID() string {
	if r == nil || r.ExternalSubscriptionID == nil {
		return ""
	}
	return *r.ExternalSubscriptionID
}
