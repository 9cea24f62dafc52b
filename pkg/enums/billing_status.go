package enums

import "fmt"

// BillingStatus is the internal subscription state that gates an account.
type BillingStatus string

const (
	BillingStatusNone     BillingStatus = "none"
	BillingStatusTrialing BillingStatus = "trialing"
	BillingStatusActive   BillingStatus = "active"
	BillingStatusPastDue  BillingStatus = "past_due"
	BillingStatusCanceled BillingStatus = "canceled"
)

var validBillingStatuses = []BillingStatus{
	BillingStatusNone,
	BillingStatusTrialing,
	BillingStatusActive,
	BillingStatusPastDue,
	BillingStatusCanceled,
}

// String implements fmt.Stringer.
func (s BillingStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is one of the canonical statuses.
// Unrecognized processor statuses are stored verbatim and report false.
func (s BillingStatus) IsValid() bool {
	for _, candidate := range validBillingStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsServiceEnabled reports whether the account may operate. past_due keeps
// service on while dunning runs.
func (s BillingStatus) IsServiceEnabled() bool {
	switch s {
	case BillingStatusActive, BillingStatusTrialing, BillingStatusPastDue:
		return true
	default:
		return false
	}
}

// ParseBillingStatus converts raw input into a BillingStatus.
func ParseBillingStatus(value string) (BillingStatus, error) {
	for _, candidate := range validBillingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing status %q", value)
}
