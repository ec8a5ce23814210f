package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/7juliusearl/dot-backend/api/routes"
	"github.com/7juliusearl/dot-backend/internal/billing"
	"github.com/7juliusearl/dot-backend/internal/cron"
	"github.com/7juliusearl/dot-backend/internal/paymentmethods"
	"github.com/7juliusearl/dot-backend/internal/purchases"
	subscriptionsvc "github.com/7juliusearl/dot-backend/internal/subscriptions"
	stripewebhook "github.com/7juliusearl/dot-backend/internal/webhooks/stripe"
	"github.com/7juliusearl/dot-backend/pkg/config"
	"github.com/7juliusearl/dot-backend/pkg/db"
	"github.com/7juliusearl/dot-backend/pkg/logger"
	"github.com/7juliusearl/dot-backend/pkg/metrics"
	"github.com/7juliusearl/dot-backend/pkg/migrate"
	"github.com/7juliusearl/dot-backend/pkg/notify"
	"github.com/7juliusearl/dot-backend/pkg/redis"
	"github.com/7juliusearl/dot-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe client", err)
		os.Exit(1)
	}

	billingRepo := billing.NewRepository(dbClient.DB())

	resolver, err := paymentmethods.NewResolver(paymentmethods.ResolverParams{
		StripeClient: stripeClient,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment method resolver", err)
		os.Exit(1)
	}

	syncService, err := subscriptionsvc.NewService(subscriptionsvc.ServiceParams{
		BillingRepo:       billingRepo,
		StripeClient:      stripeClient,
		Resolver:          resolver,
		Pricing:           cfg.Pricing,
		Sync:              cfg.Sync,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription synchronizer", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		BillingRepo:       billingRepo,
		StripeClient:      stripeClient,
		Classifier:        purchases.NewClassifier(cfg.Pricing),
		Resolver:          resolver,
		Synchronizer:      syncService,
		Invites:           notify.NewInviteClient(cfg.Invite, logg),
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Stripe.EventTTL, "webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency guard", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewReconcileJob(cron.ReconcileJobParams{
		Logger:       logg,
		BillingRepo:  billingRepo,
		Resolver:     resolver,
		Synchronizer: syncService,
		Config:       cfg.Reconcile,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile job", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			Gatherer:       prometheus.DefaultGatherer,
			SyncService:    syncService,
			ReconcileJob:   reconcileJob,
			StripeClient:   stripeClient,
			WebhookService: webhookService,
			WebhookGuard:   webhookGuard,
			WebhookMetrics: metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
