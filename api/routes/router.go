package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/recurforge/commerce-backend/api/controllers"
	webhookcontrollers "github.com/recurforge/commerce-backend/api/controllers/webhooks"
	"github.com/recurforge/commerce-backend/api/middleware"
	checkoutsvc "github.com/recurforge/commerce-backend/internal/checkout"
	"github.com/recurforge/commerce-backend/internal/customers"
	"github.com/recurforge/commerce-backend/internal/orders"
	subscriptionsvc "github.com/recurforge/commerce-backend/internal/subscriptions"
	paypalwebhook "github.com/recurforge/commerce-backend/internal/webhooks/paypal"
	"github.com/recurforge/commerce-backend/pkg/config"
	"github.com/recurforge/commerce-backend/pkg/db"
	"github.com/recurforge/commerce-backend/pkg/logger"
	"github.com/recurforge/commerce-backend/pkg/redis"
)

// RouterParams carries everything the HTTP surface depends on.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            db.Pinger
	Redis         *redis.Client
	Checkout      *checkoutsvc.Service
	Customers     *customers.Service
	Orders        orders.Service
	Subscriptions subscriptionsvc.Service
	PayPal        *paypalwebhook.Service
	Metrics       prometheus.Gatherer
}

// NewRouter assembles the billing API.
func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DB, params.Redis))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(params.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout", controllers.Checkout(params.Checkout, logg))

		r.Route("/paypal", func(r chi.Router) {
			r.Post("/orders/capture", controllers.PayPalCapture(params.PayPal, logg))
			r.With(
				middleware.Auth(cfg.Auth, logg),
				middleware.RequireRole("admin", logg),
			).Post("/orders/refund", controllers.PayPalRefund(params.PayPal, params.Orders, logg))
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/paypal", webhookcontrollers.PayPalWebhook(params.PayPal, logg))
		})

		r.Route("/customers/{customerId}", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Auth, logg))
			r.Get("/subscriptions", controllers.CustomerSubscriptions(params.Customers, logg))
			r.Get("/orders", controllers.CustomerOrders(params.Orders, logg))
		})

		r.Route("/subscriptions/{subscriptionId}", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Auth, logg))
			r.Get("/", controllers.SubscriptionDetail(params.Subscriptions, logg))
			r.Post("/cancel", controllers.SubscriptionCancel(params.Subscriptions, logg))
			r.Post("/reactivate", controllers.SubscriptionReactivate(params.Subscriptions, logg))
			r.Post("/retry", controllers.SubscriptionRetry(params.Subscriptions, logg))
			r.Post("/payment-method", controllers.SubscriptionPaymentMethod(params.Subscriptions, logg))
		})
	})

	return r
}
