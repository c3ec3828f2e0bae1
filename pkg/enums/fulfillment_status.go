package enums

import "fmt"

// FulfillmentStatus tracks one delivery attempt for an order item.
type FulfillmentStatus string

const (
	FulfillmentStatusQueued     FulfillmentStatus = "queued"
	FulfillmentStatusProcessing FulfillmentStatus = "processing"
	FulfillmentStatusCompleted  FulfillmentStatus = "completed"
	FulfillmentStatusFailed     FulfillmentStatus = "failed"
	FulfillmentStatusCancelled  FulfillmentStatus = "cancelled"
)

var validFulfillmentStatuses = []FulfillmentStatus{
	FulfillmentStatusQueued,
	FulfillmentStatusProcessing,
	FulfillmentStatusCompleted,
	FulfillmentStatusFailed,
	FulfillmentStatusCancelled,
}

// fulfillmentTransitions lists the legal moves. Cancelled has no exits and nothing
// enters it through the state machine.
var fulfillmentTransitions = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentStatusQueued:     {FulfillmentStatusProcessing, FulfillmentStatusCompleted, FulfillmentStatusFailed},
	FulfillmentStatusProcessing: {FulfillmentStatusCompleted, FulfillmentStatusFailed},
	FulfillmentStatusFailed:     {FulfillmentStatusQueued, FulfillmentStatusCompleted},
}

// String implements fmt.Stringer.
func (s FulfillmentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known FulfillmentStatus.
func (s FulfillmentStatus) IsValid() bool {
	for _, candidate := range validFulfillmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s FulfillmentStatus) CanTransitionTo(next FulfillmentStatus) bool {
	for _, candidate := range fulfillmentTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseFulfillmentStatus converts raw input into a FulfillmentStatus.
func ParseFulfillmentStatus(value string) (FulfillmentStatus, error) {
	for _, candidate := range validFulfillmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment status %q", value)
}
