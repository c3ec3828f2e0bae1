package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/digimarket/marketcore/api/controllers"
	"github.com/digimarket/marketcore/api/middleware"
	"github.com/digimarket/marketcore/pkg/config"
	"github.com/digimarket/marketcore/pkg/enums"
	"github.com/digimarket/marketcore/pkg/logger"
	"github.com/digimarket/marketcore/pkg/metrics"
	pkgredis "github.com/digimarket/marketcore/pkg/redis"
)

// Dependencies are the services mounted by the router. Nil services answer 500 on
// their routes; a nil Idempotency store disables response replay.
type Dependencies struct {
	Checkout      controllers.CheckoutService
	Wallets       controllers.WalletReader
	Ledger        controllers.LedgerAdmin
	Orders        controllers.OrderReader
	Refunds       controllers.RefundService
	Fulfillments  controllers.FulfillmentService
	Settlements   controllers.SettlementService
	Notifications controllers.NotificationInbox

	// Readiness probes keyed by name (db, redis).
	Pingers     map[string]controllers.Pinger
	Idempotency pkgredis.IdempotencyStore
	HTTPMetrics *metrics.HTTPMetrics
	Gatherer    prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.CORS(cfg.App.CORSOrigins),
		middleware.Actor(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Pingers))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	idempotency := middleware.Idempotency(deps.Idempotency, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireActor(logg), idempotency)

		r.Post("/checkout", controllers.Checkout(deps.Checkout, logg))
		r.Get("/wallet", controllers.Wallet(deps.Wallets, logg))
		r.Post("/order-items/{itemId}/refund", controllers.RequestRefund(deps.Refunds, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.ListOrders(deps.Orders, logg))
			r.Get("/{orderId}", controllers.OrderDetail(deps.Orders, logg))
			r.Post("/{orderId}/pay", controllers.PayOrder(deps.Checkout, deps.Wallets, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(idempotency)

		// Fulfillment providers call back as the system actor.
		r.Route("/fulfillments/{fulfillmentId}", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin, enums.ActorRoleSystem))
			r.Get("/", controllers.FulfillmentDetail(deps.Fulfillments, logg))
			r.Post("/start", controllers.StartFulfillment(deps.Fulfillments, logg))
			r.Post("/complete", controllers.CompleteFulfillment(deps.Fulfillments, logg))
			r.Post("/fail", controllers.FailFulfillment(deps.Fulfillments, logg))
			r.Post("/retry", controllers.RetryFulfillment(deps.Fulfillments, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))

			r.Post("/refunds/{txId}/approve", controllers.ApproveRefund(deps.Refunds, logg))
			r.Post("/refunds/{txId}/reject", controllers.RejectRefund(deps.Refunds, logg))

			r.Route("/settlements", func(r chi.Router) {
				r.Post("/run", controllers.RunSettlement(deps.Settlements, logg))
				r.Get("/", controllers.ListSettlements(deps.Settlements, logg))
				r.Get("/{settlementId}", controllers.SettlementDetail(deps.Settlements, logg))
			})

			r.Post("/users/{userId}/topups", controllers.TopupWallet(deps.Ledger, logg))
			r.Route("/wallets/{walletId}", func(r chi.Router) {
				r.Get("/", controllers.WalletTransactions(deps.Ledger, logg))
				r.Post("/adjustments", controllers.AdjustWallet(deps.Ledger, logg))
				r.Get("/reconcile", controllers.ReconcileWallet(deps.Ledger, logg))
			})
		})
	})

	return r
}
