package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/digimarket/marketcore/pkg/enums"
)

// Wallet holds a cached balance that always equals the signed sum of its posted transactions.
type Wallet struct {
	ID        uint64           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID    *uint64          `gorm:"column:user_id;uniqueIndex:ux_wallets_user_type" json:"user_id"`
	Type      enums.WalletType `gorm:"column:type;type:text;not null;uniqueIndex:ux_wallets_user_type" json:"type"`
	Balance   decimal.Decimal  `gorm:"column:balance;type:numeric(12,2);not null;default:0" json:"balance"`
	Currency  string           `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// OwnedBy reports whether the wallet belongs to userID.
func (w Wallet) OwnedBy(userID uint64) bool {
	return w.UserID != nil && *w.UserID == userID
}
