package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Product is the catalog entry a cart line points at.
type Product struct {
	ID         uint64           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name       string           `gorm:"column:name;type:text;not null" json:"name"`
	Provider   string           `gorm:"column:provider;type:text;not null;default:''" json:"provider"`
	EntryPrice decimal.Decimal  `gorm:"column:entry_price;type:numeric(12,2);not null" json:"entry_price"`
	IsActive   bool             `gorm:"column:is_active;not null" json:"is_active"`
	Packages   []ProductPackage `gorm:"foreignKey:ProductID" json:"packages,omitempty"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// ProductPackage is a purchasable variant of a product, optionally overriding its entry price.
type ProductPackage struct {
	ID             uint64                      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ProductID      uint64                      `gorm:"column:product_id;not null;index" json:"product_id"`
	Name           string                      `gorm:"column:name;type:text;not null" json:"name"`
	EntryPrice     *decimal.Decimal            `gorm:"column:entry_price;type:numeric(12,2)" json:"entry_price"`
	RequiredFields datatypes.JSONSlice[string] `gorm:"column:required_fields" json:"required_fields"`
	IsActive       bool                        `gorm:"column:is_active;not null" json:"is_active"`
	CreatedAt      time.Time                   `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time                   `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
