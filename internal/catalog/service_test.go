package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digimarket/marketcore/pkg/db/dbtest"
	"github.com/digimarket/marketcore/pkg/db/models"
)

func TestLoadIndexesProductsAndPackages(t *testing.T) {
	_, conn := dbtest.Open(t)
	product, pkg := dbtest.SeedProduct(t, conn, "Game Credits", "10.00", "player_id")

	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	snap, err := svc.Load(context.Background(), nil, []uint64{product.ID, 999}, []uint64{pkg.ID})
	require.NoError(t, err)

	got, ok := snap.Product(product.ID)
	require.True(t, ok)
	require.Equal(t, "Game Credits", got.Name)
	_, ok = snap.Product(999)
	require.False(t, ok)

	gotPkg, ok := snap.Package(pkg.ID)
	require.True(t, ok)
	require.Equal(t, []string{"player_id"}, []string(gotPkg.RequiredFields))
}

func TestEntryPricePrefersPackageOverride(t *testing.T) {
	product := models.Product{EntryPrice: dbtest.Dec(t, "10.00")}
	require.Equal(t, "10.00", EntryPrice(product, nil).StringFixed(2))

	override := dbtest.Dec(t, "7.25")
	pkg := &models.ProductPackage{EntryPrice: &override}
	require.Equal(t, "7.25", EntryPrice(product, pkg).StringFixed(2))
	require.Equal(t, "10.00", EntryPrice(product, &models.ProductPackage{}).StringFixed(2))
}

func TestListActiveSkipsInactive(t *testing.T) {
	_, conn := dbtest.Open(t)
	active, _ := dbtest.SeedProduct(t, conn, "Active", "1.00")
	inactive, _ := dbtest.SeedProduct(t, conn, "Retired", "1.00")
	require.NoError(t, conn.Model(&models.Product{}).Where("id = ?", inactive.ID).Update("is_active", false).Error)

	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	rows, err := svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, active.ID, rows[0].ID)
	require.Len(t, rows[0].Packages, 1)
}
