package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/digimarket/marketcore/pkg/enums"
)

// OrderItem snapshots the price and requirements of one cart line.
type OrderItem struct {
	ID           uint64                `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OrderID      uint64                `gorm:"column:order_id;not null;index" json:"order_id"`
	ProductID    uint64                `gorm:"column:product_id;not null" json:"product_id"`
	PackageID    *uint64               `gorm:"column:package_id" json:"package_id"`
	Name         string                `gorm:"column:name;type:text;not null" json:"name"`
	Provider     string                `gorm:"column:provider;type:text;not null;default:''" json:"provider"`
	UnitPrice    decimal.Decimal       `gorm:"column:unit_price;type:numeric(12,2);not null" json:"unit_price"`
	EntryPrice   decimal.Decimal       `gorm:"column:entry_price;type:numeric(12,2);not null" json:"entry_price"`
	Quantity     int                   `gorm:"column:quantity;not null" json:"quantity"`
	LineTotal    decimal.Decimal       `gorm:"column:line_total;type:numeric(12,2);not null" json:"line_total"`
	Requirements datatypes.JSONMap     `gorm:"column:requirements" json:"requirements"`
	Status       enums.OrderItemStatus `gorm:"column:status;type:text;not null" json:"status"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time             `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
