package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/digimarket/marketcore/pkg/enums"
)

// Order is the immutable purchase snapshot plus its aggregate status.
type Order struct {
	ID          uint64            `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID      uint64            `gorm:"column:user_id;not null;index:idx_orders_user_created" json:"user_id"`
	OrderNumber string            `gorm:"column:order_number;type:varchar(64);not null;uniqueIndex:ux_orders_order_number" json:"order_number"`
	Currency    string            `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
	Subtotal    decimal.Decimal   `gorm:"column:subtotal;type:numeric(12,2);not null" json:"subtotal"`
	Discount    decimal.Decimal   `gorm:"column:discount;type:numeric(12,2);not null;default:0" json:"discount"`
	Fee         decimal.Decimal   `gorm:"column:fee;type:numeric(12,2);not null;default:0" json:"fee"`
	Total       decimal.Decimal   `gorm:"column:total;type:numeric(12,2);not null" json:"total"`
	Status      enums.OrderStatus `gorm:"column:status;type:text;not null" json:"status"`
	PaidAt      *time.Time        `gorm:"column:paid_at" json:"paid_at"`
	Meta        datatypes.JSONMap `gorm:"column:meta" json:"meta"`
	Items       []OrderItem       `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime;index:idx_orders_user_created" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// CartHash returns the normalized cart fingerprint recorded at checkout.
func (o Order) CartHash() string {
	if o.Meta == nil {
		return ""
	}
	hash, _ := o.Meta["cart_hash"].(string)
	return hash
}
