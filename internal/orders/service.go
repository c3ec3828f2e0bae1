package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/digimarket/marketcore/internal/catalog"
	"github.com/digimarket/marketcore/internal/events"
	"github.com/digimarket/marketcore/internal/loyalty"
	"github.com/digimarket/marketcore/internal/pricing"
	"github.com/digimarket/marketcore/pkg/db/models"
	"github.com/digimarket/marketcore/pkg/enums"
	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/money"
	"github.com/digimarket/marketcore/pkg/pagination"
	"github.com/digimarket/marketcore/pkg/types"
)

// ReplayWindow is the default number of recent orders searched for a matching cart.
const ReplayWindow = 5

// FulfillmentLister reads fulfillment rows for the order detail view.
type FulfillmentLister interface {
	ListByOrder(ctx context.Context, tx *gorm.DB, orderID uint64) ([]models.Fulfillment, error)
}

// Service builds order snapshots and serves order reads.
type Service interface {
	CreateFromCart(ctx context.Context, tx *gorm.DB, input CreateOrderInput) (*models.Order, error)
	FindReplay(ctx context.Context, tx *gorm.DB, userID uint64, cartHash string) (*models.Order, error)
	Detail(ctx context.Context, orderID uint64, actor types.Actor) (*OrderDetail, error)
	List(ctx context.Context, userID uint64, params pagination.Params) (*OrderList, error)
}

// Pricing describes the fee policy applied at checkout.
type Pricing struct {
	Currency     string
	FeeFlat      decimal.Decimal
	FeePercent   decimal.Decimal
	ReplayWindow int
}

// ServiceParams wire the orders service. Loyalty and Fulfillments are optional.
type ServiceParams struct {
	Repo         Repository
	Catalog      catalog.Service
	Pricing      pricing.Service
	Loyalty      loyalty.Service
	Fulfillments FulfillmentLister
	Events       events.Recorder
	Logger       *logger.Logger
	Policy       Pricing
	Now          func() time.Time
}

type service struct {
	repo         Repository
	catalog      catalog.Service
	pricing      pricing.Service
	loyalty      loyalty.Service
	fulfillments FulfillmentLister
	events       events.Recorder
	logg         *logger.Logger
	policy       Pricing
	now          func() time.Time
}

// NewService wires the orders service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog service required")
	}
	if params.Pricing == nil {
		return nil, fmt.Errorf("pricing service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	recorder := params.Events
	if recorder == nil {
		recorder = events.Nop{}
	}
	policy := params.Policy
	policy.Currency = strings.ToUpper(strings.TrimSpace(policy.Currency))
	if policy.Currency == "" {
		policy.Currency = "USD"
	}
	if policy.ReplayWindow <= 0 {
		policy.ReplayWindow = ReplayWindow
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:         params.Repo,
		catalog:      params.Catalog,
		pricing:      params.Pricing,
		loyalty:      params.Loyalty,
		fulfillments: params.Fulfillments,
		events:       recorder,
		logg:         params.Logger,
		policy:       policy,
		now:          now,
	}, nil
}

// CreateFromCart validates lines against the catalog, re-derives every price and
// persists the order in two steps: a temporary number first, then ORD-<year>-<id>.
func (s *service) CreateFromCart(ctx context.Context, tx *gorm.DB, input CreateOrderInput) (*models.Order, error) {
	if input.UserID == 0 {
		return nil, pkgerrors.Validation("user id is required", map[string]any{"user_id": "required"})
	}
	if len(input.Lines) == 0 {
		return nil, pkgerrors.Validation("cart is empty", map[string]any{"items": "must not be empty"})
	}

	productIDs := make([]uint64, 0, len(input.Lines))
	var packageIDs []uint64
	for _, line := range input.Lines {
		productIDs = append(productIDs, line.ProductID)
		if line.PackageID != nil {
			packageIDs = append(packageIDs, *line.PackageID)
		}
	}
	snapshot, err := s.catalog.Load(ctx, tx, productIDs, packageIDs)
	if err != nil {
		return nil, err
	}
	calc, err := s.pricing.Calculator(ctx, tx)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	items := make([]models.OrderItem, 0, len(input.Lines))
	for i, line := range input.Lines {
		product, ok := snapshot.Product(line.ProductID)
		if !ok || !product.IsActive {
			fields[itemField(i, "product_id")] = "product not found or inactive"
			continue
		}
		var pkg *models.ProductPackage
		if line.PackageID != nil {
			found, ok := snapshot.Package(*line.PackageID)
			if !ok || !found.IsActive || found.ProductID != product.ID {
				fields[itemField(i, "package_id")] = "package does not belong to product"
				continue
			}
			pkg = &found
			if missing := MissingRequirements(found.RequiredFields, line.Requirements); len(missing) > 0 {
				fields[itemField(i, "requirements")] = map[string]any{"missing": missing}
				continue
			}
		}
		if line.Quantity < 1 || line.Quantity > MaxLineQuantity {
			fields[itemField(i, "quantity")] = quantityRule
			continue
		}

		entry := money.Round(catalog.EntryPrice(product, pkg))
		unit := calc.Retail(entry)
		lineTotal := money.Round(unit.Mul(decimal.NewFromInt(int64(line.Quantity))))
		if lineTotal.GreaterThan(money.MaxAmount) {
			fields[itemField(i, "quantity")] = "line total exceeds the maximum order amount"
			continue
		}
		name := product.Name
		if pkg != nil {
			name = product.Name + " - " + pkg.Name
		}
		items = append(items, models.OrderItem{
			ProductID:    product.ID,
			PackageID:    line.PackageID,
			Name:         name,
			Provider:     product.Provider,
			UnitPrice:    unit,
			EntryPrice:   entry,
			Quantity:     line.Quantity,
			LineTotal:    lineTotal,
			Requirements: line.Requirements,
			Status:       enums.OrderItemStatusPending,
		})
	}
	if len(fields) > 0 {
		return nil, pkgerrors.Validation("invalid cart items", fields)
	}

	lineTotals := make([]decimal.Decimal, len(items))
	for i := range items {
		lineTotals[i] = items[i].LineTotal
	}
	subtotal := money.Sum(lineTotals...)

	meta := map[string]any{}
	for k, v := range input.Meta {
		meta[k] = v
	}
	discount := decimal.Zero
	if s.loyalty != nil {
		tier, err := s.loyalty.Discount(ctx, tx, input.UserID)
		if err != nil {
			return nil, err
		}
		if tier.Percent.IsPositive() {
			discount = money.Percent(subtotal, tier.Percent)
			meta["loyalty_tier"] = tier.Name
			meta["loyalty_percent"] = tier.Percent.String()
		}
	}
	fee := money.Round(s.policy.FeeFlat.Add(money.Percent(subtotal, s.policy.FeePercent)))
	total := money.Max(money.Round(subtotal.Sub(discount).Add(fee)), decimal.Zero)
	if subtotal.GreaterThan(money.MaxAmount) || total.GreaterThan(money.MaxAmount) {
		return nil, pkgerrors.Validation("order total exceeds the maximum amount", map[string]any{
			"items": "order total must not exceed " + money.MaxAmount.StringFixed(2),
		})
	}

	order := &models.Order{
		UserID:      input.UserID,
		OrderNumber: "TMP-" + uuid.NewString(),
		Currency:    s.policy.Currency,
		Subtotal:    subtotal,
		Discount:    discount,
		Fee:         fee,
		Total:       total,
		Status:      enums.OrderStatusPendingPayment,
		Meta:        meta,
		Items:       items,
	}
	repo := s.repo.WithTx(tx)
	if err := repo.CreateOrder(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	order.OrderNumber = OrderNumber(s.now(), order.ID)
	if err := repo.UpdateOrder(ctx, order.ID, map[string]any{"order_number": order.OrderNumber}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign order number")
	}

	s.events.RecordAsync(ctx, tx, events.Event{
		Type:   enums.EventOrderCreated,
		Entity: types.OrderRef(order.ID),
		Payload: map[string]any{
			"order_number": order.OrderNumber,
			"user_id":      order.UserID,
			"total":        order.Total.StringFixed(2),
			"items":        len(order.Items),
		},
	})
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"total":        order.Total.StringFixed(2),
	}), "order created")
	return order, nil
}

// OrderNumber renders the permanent order number.
func OrderNumber(at time.Time, id uint64) string {
	return fmt.Sprintf("ORD-%d-%06d", at.Year(), id)
}

// FindReplay returns the most recent pending or paid order of userID whose cart hash
// matches, searching only the configured window of recent orders.
func (s *service) FindReplay(ctx context.Context, tx *gorm.DB, userID uint64, cartHash string) (*models.Order, error) {
	if cartHash == "" {
		return nil, nil
	}
	recent, err := s.repo.WithTx(tx).FindRecentByUser(ctx, userID, []enums.OrderStatus{
		enums.OrderStatusPendingPayment,
		enums.OrderStatusPaid,
	}, s.policy.ReplayWindow)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load recent orders")
	}
	for i := range recent {
		if recent[i].CartHash() == cartHash {
			return &recent[i], nil
		}
	}
	return nil, nil
}

func (s *service) Detail(ctx context.Context, orderID uint64, actor types.Actor) (*OrderDetail, error) {
	order, err := s.repo.FindOrderWithItems(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if !actor.Privileged() && order.UserID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	byItem := map[uint64][]models.Fulfillment{}
	if s.fulfillments != nil {
		rows, err := s.fulfillments.ListByOrder(ctx, nil, orderID)
		if err != nil {
			return nil, err
		}
		for _, f := range rows {
			byItem[f.OrderItemID] = append(byItem[f.OrderItemID], f)
		}
	}

	detail := &OrderDetail{Order: *order}
	detail.Order.Items = nil
	for _, item := range order.Items {
		fulfillments := byItem[item.ID]
		sort.Slice(fulfillments, func(i, j int) bool { return fulfillments[i].ID < fulfillments[j].ID })
		if fulfillments == nil {
			fulfillments = []models.Fulfillment{}
		}
		detail.Items = append(detail.Items, ItemDetail{OrderItem: item, Fulfillments: fulfillments})
	}
	return detail, nil
}

func (s *service) List(ctx context.Context, userID uint64, params pagination.Params) (*OrderList, error) {
	if userID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	rows, next, err := s.repo.ListByUser(ctx, userID, params)
	if err != nil {
		if params.Cursor != "" {
			if _, cursorErr := pagination.ParseCursor(params.Cursor); cursorErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, cursorErr, "invalid cursor")
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	list := &OrderList{Orders: make([]OrderSummary, 0, len(rows))}
	for _, row := range rows {
		list.Orders = append(list.Orders, summarize(row))
	}
	if next != nil {
		list.NextCursor = pagination.EncodeCursor(*next)
	}
	return list, nil
}
