package orders

import "github.com/digimarket/marketcore/pkg/enums"

// DeriveOrderStatus folds item statuses into the order aggregate. Orders that are
// refunded, cancelled or unpaid keep their status. All items fulfilled gives
// fulfilled, any item in flight gives processing, failures with nothing in flight
// give failed; otherwise the order stays paid.
func DeriveOrderStatus(current enums.OrderStatus, items []enums.OrderItemStatus) enums.OrderStatus {
	switch current {
	case enums.OrderStatusRefunded, enums.OrderStatusCancelled, enums.OrderStatusPendingPayment:
		return current
	}
	if len(items) == 0 {
		return current
	}

	var pending, processing, fulfilled, failed int
	for _, status := range items {
		switch status {
		case enums.OrderItemStatusPending:
			pending++
		case enums.OrderItemStatusProcessing:
			processing++
		case enums.OrderItemStatusFulfilled:
			fulfilled++
		case enums.OrderItemStatusFailed:
			failed++
		}
	}

	switch {
	case processing > 0:
		return enums.OrderStatusProcessing
	case failed > 0 && pending == 0:
		return enums.OrderStatusFailed
	case fulfilled > 0 && fulfilled+countCancelled(items) == len(items):
		return enums.OrderStatusFulfilled
	case fulfilled > 0 || failed > 0:
		return enums.OrderStatusProcessing
	}
	return enums.OrderStatusPaid
}

func countCancelled(items []enums.OrderItemStatus) int {
	n := 0
	for _, status := range items {
		if status == enums.OrderItemStatusCancelled {
			n++
		}
	}
	return n
}
