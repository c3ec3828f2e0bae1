package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
)

// CreateOrderInput is the validated request to snapshot a cart into an order.
type CreateOrderInput struct {
	UserID uint64
	Lines  []CartLine
	Meta   map[string]any
}

// OrderSummary is the list projection of an order.
type OrderSummary struct {
	ID          uint64            `json:"id"`
	OrderNumber string            `json:"order_number"`
	Status      enums.OrderStatus `json:"status"`
	Currency    string            `json:"currency"`
	Total       decimal.Decimal   `json:"total"`
	PaidAt      *time.Time        `json:"paid_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// OrderList wraps paginated orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ItemDetail pairs an order item with its fulfillment attempts.
type ItemDetail struct {
	models.OrderItem
	Fulfillments []models.Fulfillment `json:"fulfillments"`
}

// OrderDetail is the full read model of one order.
type OrderDetail struct {
	Order models.Order `json:"order"`
	Items []ItemDetail `json:"items"`
}

func summarize(order models.Order) OrderSummary {
	return OrderSummary{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Currency:    order.Currency,
		Total:       order.Total,
		PaidAt:      order.PaidAt,
		CreatedAt:   order.CreatedAt,
	}
}
