package models

// All lists every persisted model, in dependency order, for AutoMigrate in sqlite mode.
func All() []any {
	return []any{
		&Product{},
		&ProductPackage{},
		&PricingRule{},
		&Wallet{},
		&WalletTransaction{},
		&Order{},
		&OrderItem{},
		&Fulfillment{},
		&FulfillmentLog{},
		&Settlement{},
		&SettlementFulfillment{},
		&SystemEvent{},
		&ActivityLog{},
		&Notification{},
		&LoyaltyAccount{},
	}
}
