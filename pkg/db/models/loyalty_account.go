package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoyaltyAccount caches a user's net spend and the discount tier it earns.
type LoyaltyAccount struct {
	ID                 uint64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID             uint64          `gorm:"column:user_id;not null;uniqueIndex:ux_loyalty_accounts_user_id" json:"user_id"`
	LifetimeSpend      decimal.Decimal `gorm:"column:lifetime_spend;type:numeric(12,2);not null;default:0" json:"lifetime_spend"`
	Tier               string          `gorm:"column:tier;type:text;not null" json:"tier"`
	DiscountPercentage decimal.Decimal `gorm:"column:discount_percentage;type:numeric(5,2);not null;default:0" json:"discount_percentage"`
	RecomputedAt       time.Time       `gorm:"column:recomputed_at" json:"recomputed_at"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
