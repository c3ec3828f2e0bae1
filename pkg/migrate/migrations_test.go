package migrate_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/digimarket/marketcore/pkg/db"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	"github.com/digimarket/marketcore/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestLedgerMigrationContainsConstraints(t *testing.T) {
	assertContains(t, readMigration(t, "create_ledger"), []string{
		"CREATE TABLE IF NOT EXISTS wallets",
		"CHECK (balance >= 0)",
		"ux_wallets_single_platform ON wallets (type) WHERE type = 'platform'",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_wallet_transactions_idempotency_key",
		"FOREIGN KEY (wallet_id) REFERENCES wallets(id) ON DELETE RESTRICT",
		"DROP TABLE IF EXISTS wallet_transactions",
	})
}

func TestFulfillmentMigrationKeepsLogsAppendOnly(t *testing.T) {
	assertContains(t, readMigration(t, "create_fulfillments"), []string{
		"ux_settlement_fulfillments_fulfillment_id ON settlement_fulfillments (fulfillment_id)",
		"BEFORE UPDATE OR DELETE ON fulfillment_logs",
		"DROP TABLE IF EXISTS fulfillments",
	})
}

func TestEventsMigrationKeepsAuditTablesAppendOnly(t *testing.T) {
	assertContains(t, readMigration(t, "create_events_and_notifications"), []string{
		"ux_system_events_idempotency_key ON system_events (idempotency_key)",
		"BEFORE UPDATE OR DELETE ON system_events",
		"BEFORE UPDATE OR DELETE ON activity_logs",
		"ux_loyalty_accounts_user_id ON loyalty_accounts (user_id)",
	})
}

func TestCreateSQLMigrationWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Wallet Limits!")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "_add_wallet_limits.sql"), path)
	require.NoError(t, migrate.ValidateDir(dir))
}

func TestCreateSQLMigrationKeepsVersionsOrdered(t *testing.T) {
	dir := t.TempDir()
	future := filepath.Join(dir, "29991231235959_future_change.sql")
	require.NoError(t, os.WriteFile(future, []byte("-- +goose Up\n-- +goose Down\n"), 0o644))

	path, err := migrate.CreateSQLMigration(dir, "after future")
	require.NoError(t, err)
	require.Equal(t, "30000101000000_after_future.sql", filepath.Base(path))

	_, err = migrate.CreateSQLMigration(dir, "after future")
	require.NoError(t, err)
	require.NoError(t, migrate.ValidateDir(dir))
}

func TestValidateDirRejectsUnbalancedStatements(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20261001000000_broken.sql"), []byte(body), 0o644))
	require.ErrorContains(t, migrate.ValidateDir(dir), "StatementBegin")
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_bad.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))
	require.Error(t, migrate.ValidateDir(dir))
}

func TestAutoMigrateKeepsSinglePlatformWallet(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "migrate.db")), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migrate.AutoMigrate(context.Background(), conn))
	// Repeated runs are no-ops.
	require.NoError(t, migrate.AutoMigrate(context.Background(), conn))

	first := &models.Wallet{Type: enums.WalletTypePlatform, Currency: "USD"}
	require.NoError(t, conn.Create(first).Error)
	second := &models.Wallet{Type: enums.WalletTypePlatform, Currency: "USD"}
	err = conn.Create(second).Error
	require.Error(t, err)
	require.True(t, db.IsUniqueViolation(err, "wallets"), "unexpected error %v", err)
}

func TestRunRejectsUnknownCommandsAndVersions(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "run.db")), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.ErrorContains(t, migrate.Run(context.Background(), sqlDB, "migrations", "reset"), "unsupported")
	require.Error(t, migrate.Run(context.Background(), nil, "migrations", "up"))
	require.ErrorContains(t, migrate.MigrateToVersion(context.Background(), sqlDB, "migrations", "2026"), "invalid version")
}
