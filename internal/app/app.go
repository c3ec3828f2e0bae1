// Package app assembles the marketplace service graph shared by the binaries.
package app

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/digimarket/marketcore/internal/audit"
	"github.com/digimarket/marketcore/internal/catalog"
	"github.com/digimarket/marketcore/internal/checkout"
	"github.com/digimarket/marketcore/internal/events"
	"github.com/digimarket/marketcore/internal/fulfillment"
	"github.com/digimarket/marketcore/internal/ledger"
	"github.com/digimarket/marketcore/internal/loyalty"
	"github.com/digimarket/marketcore/internal/notifications"
	"github.com/digimarket/marketcore/internal/orders"
	"github.com/digimarket/marketcore/internal/pricing"
	"github.com/digimarket/marketcore/internal/refunds"
	"github.com/digimarket/marketcore/internal/settlement"
	"github.com/digimarket/marketcore/pkg/config"
	"github.com/digimarket/marketcore/pkg/db"
	"github.com/digimarket/marketcore/pkg/enums"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/metrics"
	pkgredis "github.com/digimarket/marketcore/pkg/redis"
)

// Params carry the shared infrastructure. Redis and Registerer are optional.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *pkgredis.Client
	Registerer prometheus.Registerer
}

// Services is the wired domain layer.
type Services struct {
	Ledger        ledger.Service
	Orders        orders.Service
	OrdersRepo    orders.Repository
	Fulfillments  fulfillment.Service
	Checkout      checkout.Service
	Refunds       refunds.Service
	Settlement    settlement.Service
	Notifications notifications.Service
	Notices       notifications.Repository
	Loyalty       loyalty.Service
	Events        *events.Service
	Audit         *audit.ActivityLogger
}

// Build constructs every domain service over the given infrastructure.
func Build(p Params) (*Services, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if p.DB == nil {
		return nil, fmt.Errorf("db client is required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	cfg := p.Config
	conn := p.DB.DB()

	var ledgerMetrics *metrics.LedgerMetrics
	if p.Registerer != nil {
		ledgerMetrics = metrics.NewLedgerMetrics(p.Registerer)
	}

	// Interfaces stay nil without redis so optional collaborators are skipped.
	var (
		counter   events.WindowCounter
		publisher notifications.Publisher
	)
	if p.Redis != nil {
		counter = p.Redis
		publisher = p.Redis
	}

	intel := events.NewIntelligence(counter, cfg.Events.AnomalyWindow, events.Thresholds{
		enums.EventFulfillmentFailed: int64(cfg.Events.FulfillmentFailureLimit),
		enums.EventRefundRequested:   int64(cfg.Events.RefundRequestLimit),
		enums.EventPaymentDeclined:   int64(cfg.Events.InsufficientBalanceLimit),
	}, logg)
	eventsSvc, err := events.NewService(events.ServiceParams{
		Repo:         events.NewRepository(conn),
		Logger:       logg,
		Intelligence: intel,
	})
	if err != nil {
		return nil, fmt.Errorf("events service: %w", err)
	}

	activity, err := audit.NewActivityLogger(conn, logg)
	if err != nil {
		return nil, fmt.Errorf("activity logger: %w", err)
	}

	noticeRepo := notifications.NewRepository(conn)
	notifier, err := notifications.NewService(notifications.ServiceParams{
		Repo:      noticeRepo,
		Publisher: publisher,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("notifications service: %w", err)
	}

	tiers, err := loyalty.ParseTiers(cfg.Loyalty.Tiers)
	if err != nil {
		return nil, fmt.Errorf("loyalty tiers: %w", err)
	}
	loyaltySvc, err := loyalty.NewService(loyalty.NewRepository(conn), tiers, logg)
	if err != nil {
		return nil, fmt.Errorf("loyalty service: %w", err)
	}

	catalogSvc, err := catalog.NewService(catalog.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("catalog service: %w", err)
	}
	pricingSvc, err := pricing.NewService(pricing.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("pricing service: %w", err)
	}

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repo:     ledger.NewRepository(conn),
		Tx:       p.DB,
		Logger:   logg,
		Metrics:  ledgerMetrics,
		Events:   eventsSvc,
		Currency: strings.ToUpper(cfg.Checkout.Currency),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	ordersRepo := orders.NewRepository(conn)
	fulfillmentSvc, err := fulfillment.NewService(fulfillment.ServiceParams{
		Repo:     fulfillment.NewRepository(conn),
		Orders:   ordersRepo,
		Refunds:  ledgerSvc,
		Tx:       p.DB,
		Notifier: notifier,
		Loyalty:  loyaltySvc,
		Audit:    activity,
		Events:   eventsSvc,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("fulfillment service: %w", err)
	}

	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:         ordersRepo,
		Catalog:      catalogSvc,
		Pricing:      pricingSvc,
		Loyalty:      loyaltySvc,
		Fulfillments: fulfillmentSvc,
		Events:       eventsSvc,
		Logger:       logg,
		Policy: orders.Pricing{
			Currency:     strings.ToUpper(cfg.Checkout.Currency),
			FeeFlat:      cfg.Checkout.FeeFlat,
			FeePercent:   cfg.Checkout.FeePercent,
			ReplayWindow: cfg.Checkout.ReplayWindow,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	checkoutSvc, err := checkout.NewService(checkout.ServiceParams{
		Tx:           p.DB,
		Orders:       ordersSvc,
		OrdersRepo:   ordersRepo,
		Ledger:       ledgerSvc,
		Fulfillments: fulfillmentSvc,
		Notifier:     notifier,
		Audit:        activity,
		Events:       eventsSvc,
		Logger:       logg,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	refundSvc, err := refunds.NewService(refunds.ServiceParams{
		Tx:           p.DB,
		Ledger:       ledgerSvc,
		Orders:       ordersRepo,
		Fulfillments: fulfillmentSvc,
		Notifier:     notifier,
		Audit:        activity,
		Events:       eventsSvc,
		Metrics:      ledgerMetrics,
		Logger:       logg,
	})
	if err != nil {
		return nil, fmt.Errorf("refund service: %w", err)
	}

	settlementSvc, err := settlement.NewService(settlement.ServiceParams{
		Repo:       settlement.NewRepository(conn),
		Candidates: fulfillmentSvc,
		Refunds:    ledgerSvc,
		Ledger:     ledgerSvc,
		Tx:         p.DB,
		Audit:      activity,
		Events:     eventsSvc,
		Logger:     logg,
		BatchSize:  cfg.Settlement.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement service: %w", err)
	}

	return &Services{
		Ledger:        ledgerSvc,
		Orders:        ordersSvc,
		OrdersRepo:    ordersRepo,
		Fulfillments:  fulfillmentSvc,
		Checkout:      checkoutSvc,
		Refunds:       refundSvc,
		Settlement:    settlementSvc,
		Notifications: notifier,
		Notices:       noticeRepo,
		Loyalty:       loyaltySvc,
		Events:        eventsSvc,
		Audit:         activity,
	}, nil
}
