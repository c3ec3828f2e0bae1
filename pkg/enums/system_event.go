package enums

import "fmt"

// SystemEventType identifies an entry in the advisory event mirror.
type SystemEventType string

const (
	EventOrderCreated         SystemEventType = "order.created"
	EventOrderPaid            SystemEventType = "order.paid"
	EventPaymentDeclined      SystemEventType = "payment.declined"
	EventOrderExpired         SystemEventType = "order.expired"
	EventFulfillmentQueued    SystemEventType = "fulfillment.queued"
	EventFulfillmentStarted   SystemEventType = "fulfillment.started"
	EventFulfillmentCompleted SystemEventType = "fulfillment.completed"
	EventFulfillmentFailed    SystemEventType = "fulfillment.failed"
	EventFulfillmentRetried   SystemEventType = "fulfillment.retried"
	EventRefundRequested      SystemEventType = "refund.requested"
	EventRefundApproved       SystemEventType = "refund.approved"
	EventRefundRejected       SystemEventType = "refund.rejected"
	EventSettlementPosted     SystemEventType = "settlement.posted"
	EventWalletToppedUp       SystemEventType = "wallet.topped_up"
	EventWalletAdjusted       SystemEventType = "wallet.adjusted"
	EventLedgerDrift          SystemEventType = "ledger.drift"
	EventAnomalyDetected      SystemEventType = "anomaly.detected"
)

var validSystemEventTypes = []SystemEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventPaymentDeclined,
	EventOrderExpired,
	EventFulfillmentQueued,
	EventFulfillmentStarted,
	EventFulfillmentCompleted,
	EventFulfillmentFailed,
	EventFulfillmentRetried,
	EventRefundRequested,
	EventRefundApproved,
	EventRefundRejected,
	EventSettlementPosted,
	EventWalletToppedUp,
	EventWalletAdjusted,
	EventLedgerDrift,
	EventAnomalyDetected,
}

// String implements fmt.Stringer.
func (t SystemEventType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known SystemEventType.
func (t SystemEventType) IsValid() bool {
	for _, candidate := range validSystemEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseSystemEventType converts raw input into a SystemEventType.
func ParseSystemEventType(value string) (SystemEventType, error) {
	for _, candidate := range validSystemEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid system event type %q", value)
}

// EventSeverity grades a system event.
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityCritical EventSeverity = "critical"
)

// String implements fmt.Stringer.
func (s EventSeverity) String() string {
	return string(s)
}
