package loyalty

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digimarket/marketcore/pkg/db/dbtest"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	"github.com/digimarket/marketcore/pkg/logger"
)

func TestParseTiers(t *testing.T) {
	tiers, err := ParseTiers([]string{"gold:500:5", " bronze:0:0 ", "silver:100:2.5", ""})
	require.NoError(t, err)
	require.Len(t, tiers, 3)
	require.Equal(t, "bronze", tiers[0].Name)
	require.Equal(t, "silver", tiers[1].Name)
	require.Equal(t, "2.5", tiers[1].Percent.String())

	for _, bad := range [][]string{{"gold:500"}, {"gold:x:5"}, {"gold:1:101"}, {"a:0:0", "A:1:1"}} {
		if _, err := ParseTiers(bad); err == nil {
			t.Fatalf("expected error for %v", bad)
		}
	}
}

func TestTierFor(t *testing.T) {
	tiers, err := ParseTiers([]string{"bronze:0:0", "silver:100:2", "gold:500:5"})
	require.NoError(t, err)

	tier, ok := TierFor(tiers, dbtest.Dec(t, "99.99"))
	require.True(t, ok)
	require.Equal(t, "bronze", tier.Name)

	tier, _ = TierFor(tiers, dbtest.Dec(t, "100.00"))
	require.Equal(t, "silver", tier.Name)

	tier, _ = TierFor(tiers, dbtest.Dec(t, "1000"))
	require.Equal(t, "gold", tier.Name)

	_, ok = TierFor(nil, dbtest.Dec(t, "1000"))
	require.False(t, ok)
}

func TestRecomputeUsesNetSpend(t *testing.T) {
	_, conn := dbtest.Open(t)
	ctx := context.Background()
	tiers, err := ParseTiers([]string{"bronze:0:0", "silver:100:2"})
	require.NoError(t, err)
	svc, err := NewService(NewRepository(conn), tiers, logger.Nop())
	require.NoError(t, err)

	wallet := dbtest.SeedWallet(t, conn, 6, "0.00")
	other := dbtest.SeedWallet(t, conn, 7, "0.00")
	for _, row := range []models.WalletTransaction{
		{WalletID: wallet.ID, Type: enums.TransactionTypePurchase, Direction: enums.DirectionDebit, Amount: dbtest.Dec(t, "80.00"), Status: enums.TransactionStatusPosted},
		{WalletID: wallet.ID, Type: enums.TransactionTypePurchase, Direction: enums.DirectionDebit, Amount: dbtest.Dec(t, "40.00"), Status: enums.TransactionStatusPosted},
		{WalletID: wallet.ID, Type: enums.TransactionTypeRefund, Direction: enums.DirectionCredit, Amount: dbtest.Dec(t, "10.00"), Status: enums.TransactionStatusPosted},
		{WalletID: wallet.ID, Type: enums.TransactionTypeRefund, Direction: enums.DirectionCredit, Amount: dbtest.Dec(t, "50.00"), Status: enums.TransactionStatusPending},
		{WalletID: wallet.ID, Type: enums.TransactionTypeTopup, Direction: enums.DirectionCredit, Amount: dbtest.Dec(t, "500.00"), Status: enums.TransactionStatusPosted},
		{WalletID: other.ID, Type: enums.TransactionTypePurchase, Direction: enums.DirectionDebit, Amount: dbtest.Dec(t, "900.00"), Status: enums.TransactionStatusPosted},
	} {
		row := row
		require.NoError(t, conn.Create(&row).Error)
	}

	before, err := svc.Discount(ctx, nil, 6)
	require.NoError(t, err)
	require.Equal(t, "bronze", before.Name)

	account, err := svc.Recompute(ctx, 6)
	require.NoError(t, err)
	require.Equal(t, "110.00", account.LifetimeSpend.StringFixed(2))
	require.Equal(t, "silver", account.Tier)

	again, err := svc.Recompute(ctx, 6)
	require.NoError(t, err)
	require.Equal(t, account.Tier, again.Tier)

	var count int64
	require.NoError(t, conn.Model(&models.LoyaltyAccount{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	tier, err := svc.Discount(ctx, nil, 6)
	require.NoError(t, err)
	require.Equal(t, "silver", tier.Name)
	require.Equal(t, "2", tier.Percent.String())
}
