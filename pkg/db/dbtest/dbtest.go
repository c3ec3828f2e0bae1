// Package dbtest opens throwaway sqlite databases with the full schema for package tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/digimarket/marketcore/pkg/db"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	"github.com/digimarket/marketcore/pkg/logger"
)

// Open returns a client over a fresh sqlite file migrated with every model.
func Open(t testing.TB) (*db.Client, *gorm.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marketcore.db")
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db.NewFromGorm(conn, logger.Nop()), conn
}

// Dec parses a decimal literal or fails the test.
func Dec(t testing.TB, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return d
}

// SeedWallet creates a customer wallet for userID with the given balance.
func SeedWallet(t testing.TB, conn *gorm.DB, userID uint64, balance string) *models.Wallet {
	t.Helper()
	wallet := &models.Wallet{
		UserID:   &userID,
		Type:     enums.WalletTypeCustomer,
		Balance:  Dec(t, balance),
		Currency: "USD",
	}
	if err := conn.Create(wallet).Error; err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
	return wallet
}

// SeedProduct creates an active product with an optional package.
func SeedProduct(t testing.TB, conn *gorm.DB, name, entryPrice string, requiredFields ...string) (*models.Product, *models.ProductPackage) {
	t.Helper()
	product := &models.Product{Name: name, Provider: "manual", EntryPrice: Dec(t, entryPrice), IsActive: true}
	if err := conn.Create(product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	pkg := &models.ProductPackage{
		ProductID:      product.ID,
		Name:           name + " standard",
		RequiredFields: requiredFields,
		IsActive:       true,
	}
	if err := conn.Create(pkg).Error; err != nil {
		t.Fatalf("seed package: %v", err)
	}
	return product, pkg
}

// SeedRule creates an active pricing rule covering [min, max]; an empty max is open-ended.
func SeedRule(t testing.TB, conn *gorm.DB, min, max, retailPct string, priority int) *models.PricingRule {
	t.Helper()
	rule := &models.PricingRule{
		MinPrice:            Dec(t, min),
		RetailPercentage:    Dec(t, retailPct),
		WholesalePercentage: decimal.Zero,
		Priority:            priority,
		IsActive:            true,
	}
	if max != "" {
		upper := Dec(t, max)
		rule.MaxPrice = &upper
	}
	if err := conn.Create(rule).Error; err != nil {
		t.Fatalf("seed pricing rule: %v", err)
	}
	return rule
}
