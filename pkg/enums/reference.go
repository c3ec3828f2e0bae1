package enums

import "fmt"

// ReferenceKind names the entity a polymorphic reference points at.
type ReferenceKind string

const (
	ReferenceOrder             ReferenceKind = "order"
	ReferenceOrderItem         ReferenceKind = "order_item"
	ReferenceFulfillment       ReferenceKind = "fulfillment"
	ReferenceWallet            ReferenceKind = "wallet"
	ReferenceWalletTransaction ReferenceKind = "wallet_transaction"
	ReferenceSettlement        ReferenceKind = "settlement"
	ReferenceUser              ReferenceKind = "user"
)

var validReferenceKinds = []ReferenceKind{
	ReferenceOrder,
	ReferenceOrderItem,
	ReferenceFulfillment,
	ReferenceWallet,
	ReferenceWalletTransaction,
	ReferenceSettlement,
	ReferenceUser,
}

// String implements fmt.Stringer.
func (k ReferenceKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known ReferenceKind.
func (k ReferenceKind) IsValid() bool {
	for _, candidate := range validReferenceKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseReferenceKind converts raw input into a ReferenceKind.
func ParseReferenceKind(value string) (ReferenceKind, error) {
	for _, candidate := range validReferenceKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reference kind %q", value)
}
