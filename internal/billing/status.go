package billing

import (
	"strings"

	"github.com/angelmondragon/kitafinder-backend/pkg/enums"
)

// MapProcessorStatus translates a processor subscription status into the
// internal status. Unrecognized values come back unchanged with ok=false so
// the caller can persist and log them.
func MapProcessorStatus(raw string) (status enums.BillingStatus, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "trialing":
		return enums.BillingStatusActive, true
	case "past_due":
		return enums.BillingStatusPastDue, true
	case "canceled", "unpaid":
		return enums.BillingStatusCanceled, true
	default:
		return enums.BillingStatus(raw), false
	}
}
