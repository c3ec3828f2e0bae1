package types

import (
	"fmt"

	"github.com/digimarket/marketcore/pkg/enums"
)

// Reference is a tagged pointer to another entity, persisted as a
// (reference_type, reference_id) column pair.
type Reference struct {
	Kind enums.ReferenceKind `json:"type"`
	ID   uint64              `json:"id"`
}

func OrderRef(id uint64) Reference       { return Reference{Kind: enums.ReferenceOrder, ID: id} }
func OrderItemRef(id uint64) Reference   { return Reference{Kind: enums.ReferenceOrderItem, ID: id} }
func FulfillmentRef(id uint64) Reference { return Reference{Kind: enums.ReferenceFulfillment, ID: id} }
func WalletRef(id uint64) Reference      { return Reference{Kind: enums.ReferenceWallet, ID: id} }
func SettlementRef(id uint64) Reference  { return Reference{Kind: enums.ReferenceSettlement, ID: id} }
func UserRef(id uint64) Reference        { return Reference{Kind: enums.ReferenceUser, ID: id} }

func TransactionRef(id uint64) Reference {
	return Reference{Kind: enums.ReferenceWalletTransaction, ID: id}
}

// IsZero reports whether the reference is unset.
func (r Reference) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

func (r Reference) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}
