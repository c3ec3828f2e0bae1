package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settlement is the header of one batch sweep into the platform wallet.
type Settlement struct {
	ID                  uint64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TotalAmount         decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2);not null" json:"total_amount"`
	FulfillmentCount    int             `gorm:"column:fulfillment_count;not null" json:"fulfillment_count"`
	WalletTransactionID *uint64         `gorm:"column:wallet_transaction_id" json:"wallet_transaction_id"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// SettlementFulfillment links a fulfillment to the batch that settled it. A fulfillment
// can be settled at most once.
type SettlementFulfillment struct {
	ID            uint64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SettlementID  uint64          `gorm:"column:settlement_id;not null;index" json:"settlement_id"`
	FulfillmentID uint64          `gorm:"column:fulfillment_id;not null;uniqueIndex:ux_settlement_fulfillments_fulfillment_id" json:"fulfillment_id"`
	Profit        decimal.Decimal `gorm:"column:profit;type:numeric(12,2);not null" json:"profit"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
