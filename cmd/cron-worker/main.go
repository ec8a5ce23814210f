package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/7juliusearl/dot-backend/internal/billing"
	"github.com/7juliusearl/dot-backend/internal/cron"
	"github.com/7juliusearl/dot-backend/internal/paymentmethods"
	subscriptionsvc "github.com/7juliusearl/dot-backend/internal/subscriptions"
	"github.com/7juliusearl/dot-backend/pkg/config"
	"github.com/7juliusearl/dot-backend/pkg/db"
	"github.com/7juliusearl/dot-backend/pkg/logger"
	"github.com/7juliusearl/dot-backend/pkg/metrics"
	"github.com/7juliusearl/dot-backend/pkg/migrate"
	"github.com/7juliusearl/dot-backend/pkg/redis"
	"github.com/7juliusearl/dot-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	expiryJob, err := cron.NewEntitlementExpiryJob(cron.EntitlementExpiryJobParams{
		Logger:      logg,
		BillingRepo: billingRepo,
		BatchLimit:  cfg.Reconcile.BatchLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create entitlement expiry job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(reconcileJob, expiryJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Reconcile.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("cron-worker:%s", env)
}
