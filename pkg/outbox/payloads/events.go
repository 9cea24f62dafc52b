package payloads

import (
	"time"

	"github.com/angelmondragon/kitafinder-backend/pkg/enums"
)

// BillingStatusChangedEvent is emitted whenever an account's billing status moves.
type BillingStatusChangedEvent struct {
	AccountID              string              `json:"account_id"`
	From                   enums.BillingStatus `json:"from"`
	To                     enums.BillingStatus `json:"to"`
	ServiceEnabled         bool                `json:"service_enabled"`
	ExternalCustomerID     string              `json:"external_customer_id,omitempty"`
	ExternalSubscriptionID string              `json:"external_subscription_id,omitempty"`
	ChangedAt              time.Time           `json:"changed_at"`
}

// ListingsSuspendedEvent reports that published listings were paused for billing.
type ListingsSuspendedEvent struct {
	AccountID   string                   `json:"account_id"`
	Count       int64                    `json:"count"`
	Reason      enums.ListingPauseReason `json:"reason"`
	SuspendedAt time.Time                `json:"suspended_at"`
}
