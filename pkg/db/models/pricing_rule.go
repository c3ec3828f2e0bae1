package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingRule maps an entry-price band to retail and wholesale markups.
type PricingRule struct {
	ID                  uint64           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	MinPrice            decimal.Decimal  `gorm:"column:min_price;type:numeric(12,2);not null;default:0" json:"min_price"`
	MaxPrice            *decimal.Decimal `gorm:"column:max_price;type:numeric(12,2)" json:"max_price"`
	RetailPercentage    decimal.Decimal  `gorm:"column:retail_percentage;type:numeric(8,4);not null;default:0" json:"retail_percentage"`
	WholesalePercentage decimal.Decimal  `gorm:"column:wholesale_percentage;type:numeric(8,4);not null;default:0" json:"wholesale_percentage"`
	Priority            int              `gorm:"column:priority;not null;default:0" json:"priority"`
	IsActive            bool             `gorm:"column:is_active;not null" json:"is_active"`
	CreatedAt           time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// Matches reports whether price falls inside [MinPrice, MaxPrice]; a nil MaxPrice is open-ended.
func (r PricingRule) Matches(price decimal.Decimal) bool {
	if price.LessThan(r.MinPrice) {
		return false
	}
	return r.MaxPrice == nil || !price.GreaterThan(*r.MaxPrice)
}
