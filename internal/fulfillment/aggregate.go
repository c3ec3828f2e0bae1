package fulfillment

import "github.com/digimarket/marketcore/pkg/enums"

// AggregateItemStatus folds every fulfillment row of an order item into the item
// status. Precedence is processing, queued, failed, completed, cancelled, so active
// work outranks an older failure and the result does not depend on row order.
func AggregateItemStatus(statuses []enums.FulfillmentStatus) enums.OrderItemStatus {
	seen := map[enums.FulfillmentStatus]bool{}
	for _, status := range statuses {
		seen[status] = true
	}
	switch {
	case len(statuses) == 0:
		return enums.OrderItemStatusPending
	case seen[enums.FulfillmentStatusProcessing]:
		return enums.OrderItemStatusProcessing
	case seen[enums.FulfillmentStatusQueued]:
		return enums.OrderItemStatusPending
	case seen[enums.FulfillmentStatusFailed]:
		return enums.OrderItemStatusFailed
	case seen[enums.FulfillmentStatusCompleted]:
		return enums.OrderItemStatusFulfilled
	}
	return enums.OrderItemStatusCancelled
}
