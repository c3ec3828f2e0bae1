package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/types"
)

// WalletTransaction is one ledger entry. Amount is always positive; Direction carries the sign.
type WalletTransaction struct {
	ID             uint64                     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	WalletID       uint64                     `gorm:"column:wallet_id;not null;index" json:"wallet_id"`
	Type           enums.TransactionType      `gorm:"column:type;type:text;not null" json:"type"`
	Direction      enums.TransactionDirection `gorm:"column:direction;type:text;not null" json:"direction"`
	Amount         decimal.Decimal            `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Status         enums.TransactionStatus    `gorm:"column:status;type:text;not null" json:"status"`
	ReferenceType  *enums.ReferenceKind       `gorm:"column:reference_type;type:text;index:idx_wallet_transactions_reference" json:"reference_type"`
	ReferenceID    *uint64                    `gorm:"column:reference_id;index:idx_wallet_transactions_reference" json:"reference_id"`
	IdempotencyKey *string                    `gorm:"column:idempotency_key;type:text;uniqueIndex:ux_wallet_transactions_idempotency_key" json:"idempotency_key"`
	Meta           datatypes.JSONMap          `gorm:"column:meta" json:"meta"`
	CreatedAt      time.Time                  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// Reference returns the polymorphic target, if any.
func (t WalletTransaction) Reference() (types.Reference, bool) {
	if t.ReferenceType == nil || t.ReferenceID == nil {
		return types.Reference{}, false
	}
	return types.Reference{Kind: *t.ReferenceType, ID: *t.ReferenceID}, true
}

// SetReference stores ref in the column pair; a zero reference clears it.
func (t *WalletTransaction) SetReference(ref types.Reference) {
	if ref.IsZero() {
		t.ReferenceType, t.ReferenceID = nil, nil
		return
	}
	kind, id := ref.Kind, ref.ID
	t.ReferenceType, t.ReferenceID = &kind, &id
}

// SignedAmount is +Amount for credits and -Amount for debits.
func (t WalletTransaction) SignedAmount() decimal.Decimal {
	if t.Direction == enums.DirectionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// BeforeDelete keeps the ledger append-only.
func (t *WalletTransaction) BeforeDelete(*gorm.DB) error {
	pkgerrors.Invariant("wallet transactions are never deleted")
	return nil
}
