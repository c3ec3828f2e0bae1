package enums

import "fmt"

// WalletType distinguishes customer wallets from the single platform wallet.
type WalletType string

const (
	WalletTypeCustomer WalletType = "customer"
	WalletTypePlatform WalletType = "platform"
)

var validWalletTypes = []WalletType{
	WalletTypeCustomer,
	WalletTypePlatform,
}

// String implements fmt.Stringer.
func (w WalletType) String() string {
	return string(w)
}

// IsValid reports whether the value is a known WalletType.
func (w WalletType) IsValid() bool {
	for _, candidate := range validWalletTypes {
		if candidate == w {
			return true
		}
	}
	return false
}

// ParseWalletType converts raw input into a WalletType.
func ParseWalletType(value string) (WalletType, error) {
	for _, candidate := range validWalletTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet type %q", value)
}
