package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/7juliusearl/dot-backend/api/controllers"
	subscriptioncontrollers "github.com/7juliusearl/dot-backend/api/controllers/subscriptions"
	webhookcontrollers "github.com/7juliusearl/dot-backend/api/controllers/webhooks"
	"github.com/7juliusearl/dot-backend/api/middleware"
	"github.com/7juliusearl/dot-backend/internal/cron"
	stripewebhook "github.com/7juliusearl/dot-backend/internal/webhooks/stripe"
	"github.com/7juliusearl/dot-backend/pkg/config"
	"github.com/7juliusearl/dot-backend/pkg/db"
	"github.com/7juliusearl/dot-backend/pkg/logger"
	"github.com/7juliusearl/dot-backend/pkg/metrics"
	"github.com/7juliusearl/dot-backend/pkg/redis"
	"github.com/7juliusearl/dot-backend/pkg/stripe"
)

// RouterParams carries everything the HTTP surface needs. The webhook
// endpoint is unauthenticated (Stripe signs its own requests); everything
// else under /api/v1 requires a bearer token.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Redis    redis.Pinger
	Gatherer prometheus.Gatherer

	SyncService    subscriptioncontrollers.SyncService
	ReconcileJob   *cron.ReconcileJob
	StripeClient   *stripe.Client
	WebhookService *stripewebhook.Service
	WebhookGuard   *stripewebhook.IdempotencyGuard
	WebhookMetrics *metrics.WebhookMetrics
}

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

	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(params.WebhookService, params.StripeClient, params.WebhookGuard, params.WebhookMetrics, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/sync", subscriptioncontrollers.Sync(params.SyncService, logg))
		})
		r.Route("/reconcile", func(r chi.Router) {
			r.Post("/sweep", controllers.ReconcileSweep(params.ReconcileJob, logg))
		})
	})

	return r
}
