package enums

import "fmt"

// NotificationKind identifies the billing email sent to an account owner.
type NotificationKind string

const (
	NotificationSubscriptionActivated NotificationKind = "subscription_activated"
	NotificationPaymentConfirmed      NotificationKind = "payment_confirmed"
	NotificationPaymentFailed         NotificationKind = "payment_failed"
	NotificationSubscriptionPastDue   NotificationKind = "subscription_past_due"
	NotificationSubscriptionCanceled  NotificationKind = "subscription_canceled"
)

var validNotificationKinds = []NotificationKind{
	NotificationSubscriptionActivated,
	NotificationPaymentConfirmed,
	NotificationPaymentFailed,
	NotificationSubscriptionPastDue,
	NotificationSubscriptionCanceled,
}

// IsValid checks whether the given kind is known.
func (n NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw input into NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}
