package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/digimarket/marketcore/internal/catalog"
	"github.com/digimarket/marketcore/internal/loyalty"
	"github.com/digimarket/marketcore/internal/pricing"
	"github.com/digimarket/marketcore/pkg/db/dbtest"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/pagination"
	"github.com/digimarket/marketcore/pkg/types"
)

func newOrdersService(t *testing.T, conn *gorm.DB, policy Pricing, loyaltySvc loyalty.Service) Service {
	t.Helper()
	catalogSvc, err := catalog.NewService(catalog.NewRepository(conn))
	require.NoError(t, err)
	pricingSvc, err := pricing.NewService(pricing.NewRepository(conn))
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repo:    NewRepository(conn),
		Catalog: catalogSvc,
		Pricing: pricingSvc,
		Loyalty: loyaltySvc,
		Logger:  logger.Nop(),
		Policy:  policy,
		Now:     func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return svc
}

func TestCreateFromCartDerivesPricesFromCatalog(t *testing.T) {
	_, conn := dbtest.Open(t)
	ctx := context.Background()
	product, pkg := dbtest.SeedProduct(t, conn, "Gift Card", "10.00", "email")
	dbtest.SeedRule(t, conn, "0", "", "20", 1)
	svc := newOrdersService(t, conn, Pricing{}, nil)

	order, err := svc.CreateFromCart(ctx, conn, CreateOrderInput{
		UserID: 5,
		Lines: []CartLine{{
			ProductID:    product.ID,
			PackageID:    &pkg.ID,
			Quantity:     2,
			Requirements: map[string]any{"email": "a@example.com"},
		}},
		Meta: map[string]any{"cart_hash": "abc"},
	})
	require.NoError(t, err)
	require.Equal(t, OrderNumber(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), order.ID), order.OrderNumber)
	require.Regexp(t, `^ORD-2026-\d{6}$`, order.OrderNumber)
	require.Equal(t, enums.OrderStatusPendingPayment, order.Status)
	require.Equal(t, "24.00", order.Subtotal.StringFixed(2))
	require.Equal(t, "24.00", order.Total.StringFixed(2))

	stored, err := NewRepository(conn).FindOrderWithItems(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.OrderNumber, stored.OrderNumber)
	require.Equal(t, "abc", stored.CartHash())
	require.Len(t, stored.Items, 1)
	item := stored.Items[0]
	require.Equal(t, "12.00", item.UnitPrice.StringFixed(2))
	require.Equal(t, "10.00", item.EntryPrice.StringFixed(2))
	require.Equal(t, "24.00", item.LineTotal.StringFixed(2))
	require.Equal(t, enums.OrderItemStatusPending, item.Status)
	require.Equal(t, "a@example.com", item.Requirements["email"])
}

func TestCreateFromCartAppliesFeeAndLoyaltyDiscount(t *testing.T) {
	_, conn := dbtest.Open(t)
	ctx := context.Background()
	product, _ := dbtest.SeedProduct(t, conn, "Voucher", "50.00")
	require.NoError(t, conn.Create(&models.LoyaltyAccount{
		UserID:             9,
		LifetimeSpend:      dbtest.Dec(t, "200"),
		Tier:               "silver",
		DiscountPercentage: dbtest.Dec(t, "2"),
		RecomputedAt:       time.Now(),
	}).Error)
	loyaltySvc, err := loyalty.NewService(loyalty.NewRepository(conn), nil, logger.Nop())
	require.NoError(t, err)
	svc := newOrdersService(t, conn, Pricing{FeeFlat: dbtest.Dec(t, "0.50"), FeePercent: dbtest.Dec(t, "1")}, loyaltySvc)

	order, err := svc.CreateFromCart(ctx, conn, CreateOrderInput{
		UserID: 9,
		Lines:  []CartLine{{ProductID: product.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, "100.00", order.Subtotal.StringFixed(2))
	require.Equal(t, "2.00", order.Discount.StringFixed(2))
	require.Equal(t, "1.50", order.Fee.StringFixed(2))
	require.Equal(t, "99.50", order.Total.StringFixed(2))
	require.Equal(t, "silver", order.Meta["loyalty_tier"])
}

func TestCreateFromCartReportsCatalogProblems(t *testing.T) {
	_, conn := dbtest.Open(t)
	ctx := context.Background()
	product, pkg := dbtest.SeedProduct(t, conn, "Top-up", "5.00", "player_id", "server")
	other, otherPkg := dbtest.SeedProduct(t, conn, "Other", "1.00")
	retired, _ := dbtest.SeedProduct(t, conn, "Retired", "1.00")
	require.NoError(t, conn.Model(&models.Product{}).Where("id = ?", retired.ID).Update("is_active", false).Error)
	svc := newOrdersService(t, conn, Pricing{}, nil)

	_, err := svc.CreateFromCart(ctx, conn, CreateOrderInput{
		UserID: 1,
		Lines: []CartLine{
			{ProductID: product.ID, PackageID: &pkg.ID, Quantity: 1, Requirements: map[string]any{"player_id": "p"}},
			{ProductID: other.ID, PackageID: &pkg.ID, Quantity: 1},
			{ProductID: retired.ID, Quantity: 1},
			{ProductID: 999, Quantity: 1},
			{ProductID: other.ID, PackageID: &otherPkg.ID, Quantity: 1},
		},
	})
	fields := validationFields(t, err)
	require.Equal(t, map[string]any{"missing": []string{"server"}}, fields["items.0.requirements"])
	require.Contains(t, fields, "items.1.package_id")
	require.Contains(t, fields, "items.2.product_id")
	require.Contains(t, fields, "items.3.product_id")
	require.NotContains(t, fields, "items.4.product_id")

	var count int64
	require.NoError(t, conn.Model(&models.Order{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCreateFromCartRejectsAmountsAboveColumnRange(t *testing.T) {
	_, conn := dbtest.Open(t)
	ctx := context.Background()
	pricey, _ := dbtest.SeedProduct(t, conn, "Bulk Credits", "5000000000.00")
	svc := newOrdersService(t, conn, Pricing{}, nil)

	_, err := svc.CreateFromCart(ctx, conn, CreateOrderInput{
		UserID: 3,
		Lines:  []CartLine{{ProductID: pricey.ID, Quantity: 2}},
	})
	fields := validationFields(t, err)
	require.Equal(t, "line total exceeds the maximum order amount", fields["items.0.quantity"])

	_, err = svc.CreateFromCart(ctx, conn, CreateOrderInput{
		UserID: 3,
		Lines: []CartLine{
			{ProductID: pricey.ID, Quantity: 1},
			{ProductID: pricey.ID, Quantity: 1},
		},
	})
	fields = validationFields(t, err)
	require.Contains(t, fields, "items")

	_, err = svc.CreateFromCart(ctx, conn, CreateOrderInput{
		UserID: 3,
		Lines:  []CartLine{{ProductID: pricey.ID, Quantity: MaxLineQuantity + 1}},
	})
	fields = validationFields(t, err)
	require.Contains(t, fields, "items.0.quantity")

	var count int64
	require.NoError(t, conn.Model(&models.Order{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestFindReplayMatchesRecentPendingOrPaid(t *testing.T) {
	_, conn := dbtest.Open(t)
	ctx := context.Background()
	product, _ := dbtest.SeedProduct(t, conn, "Key", "3.00")
	svc := newOrdersService(t, conn, Pricing{ReplayWindow: 2}, nil)

	create := func(hash string) *models.Order {
		order, err := svc.CreateFromCart(ctx, conn, CreateOrderInput{
			UserID: 4,
			Lines:  []CartLine{{ProductID: product.ID, Quantity: 1}},
			Meta:   map[string]any{"cart_hash": hash},
		})
		require.NoError(t, err)
		return order
	}
	old := create("h-old")
	match := create("h-match")
	create("h-other")

	found, err := svc.FindReplay(ctx, conn, 4, "h-match")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, match.ID, found.ID)

	found, err = svc.FindReplay(ctx, conn, 4, "h-old")
	require.NoError(t, err)
	require.Nil(t, found, "orders outside the window are not replayed")
	_ = old

	require.NoError(t, conn.Model(&models.Order{}).Where("id = ?", match.ID).Update("status", enums.OrderStatusRefunded).Error)
	found, err = svc.FindReplay(ctx, conn, 4, "h-match")
	require.NoError(t, err)
	require.Nil(t, found)

	found, err = svc.FindReplay(ctx, conn, 5, "h-other")
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestDetailHidesOtherUsersOrders(t *testing.T) {
	_, conn := dbtest.Open(t)
	ctx := context.Background()
	product, _ := dbtest.SeedProduct(t, conn, "Key", "3.00")
	svc := newOrdersService(t, conn, Pricing{}, nil)

	order, err := svc.CreateFromCart(ctx, conn, CreateOrderInput{UserID: 4, Lines: []CartLine{{ProductID: product.ID, Quantity: 1}}})
	require.NoError(t, err)

	detail, err := svc.Detail(ctx, order.ID, types.Actor{UserID: 4, Role: enums.ActorRoleCustomer})
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	require.Empty(t, detail.Items[0].Fulfillments)

	_, err = svc.Detail(ctx, order.ID, types.Actor{UserID: 5, Role: enums.ActorRoleCustomer})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.Detail(ctx, order.ID, types.Actor{UserID: 1, Role: enums.ActorRoleAdmin})
	require.NoError(t, err)
}

func TestListPagesUserOrders(t *testing.T) {
	_, conn := dbtest.Open(t)
	ctx := context.Background()
	product, _ := dbtest.SeedProduct(t, conn, "Key", "3.00")
	svc := newOrdersService(t, conn, Pricing{}, nil)
	for i := 0; i < 3; i++ {
		_, err := svc.CreateFromCart(ctx, conn, CreateOrderInput{UserID: 4, Lines: []CartLine{{ProductID: product.ID, Quantity: 1}}})
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, 4, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	require.NotEmpty(t, page.NextCursor)

	rest, err := svc.List(ctx, 4, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Orders, 1)
	require.Empty(t, rest.NextCursor)

	_, err = svc.List(ctx, 4, pagination.Params{Cursor: "!!"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
