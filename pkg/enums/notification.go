package enums

import "fmt"

// NotificationType is the template key of a user notification.
type NotificationType string

const (
	NotificationOrderPaid         NotificationType = "order_paid"
	NotificationFulfillmentDone   NotificationType = "fulfillment_completed"
	NotificationFulfillmentFailed NotificationType = "fulfillment_failed"
	NotificationRefundRequested   NotificationType = "refund_requested"
	NotificationRefundApproved    NotificationType = "refund_approved"
	NotificationRefundRejected    NotificationType = "refund_rejected"
)

var validNotificationTypes = []NotificationType{
	NotificationOrderPaid,
	NotificationFulfillmentDone,
	NotificationFulfillmentFailed,
	NotificationRefundRequested,
	NotificationRefundApproved,
	NotificationRefundRejected,
}

// String implements fmt.Stringer.
func (n NotificationType) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationType.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
