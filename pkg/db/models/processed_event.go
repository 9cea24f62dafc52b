package models

import "time"

// ProcessedEvent is one row of the append-only webhook dedup log.
type ProcessedEvent struct {
	EventID            string    `gorm:"column:event_id;primaryKey"`
	EventType          string    `gorm:"column:event_type;not null"`
	ExternalCustomerID *string   `gorm:"column:external_customer_id"`
	ReceivedAt         time.Time `gorm:"column:received_at;not null;index:idx_processed_events_received_at"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }
