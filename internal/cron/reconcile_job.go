package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/7juliusearl/dot-backend/internal/billing"
	"github.com/7juliusearl/dot-backend/internal/paymentmethods"
	"github.com/7juliusearl/dot-backend/pkg/config"
	"github.com/7juliusearl/dot-backend/pkg/db/models"
	"github.com/7juliusearl/dot-backend/pkg/enums"
	"github.com/7juliusearl/dot-backend/pkg/logger"
)

const reconcileOperation = "reconcile_sweep"

type cardResolver interface {
	Resolve(ctx context.Context, customerID string, checkout paymentmethods.CheckoutContext) paymentmethods.Card
}

type subscriptionSyncer interface {
	Sync(ctx context.Context, customerID string) (*models.Subscription, error)
}

// Report summarizes one reconciliation sweep.
type Report struct {
	OrdersScanned        int `json:"orders_scanned"`
	OrdersRepaired       int `json:"orders_repaired"`
	SubscriptionsScanned int `json:"subscriptions_scanned"`
	SubscriptionsSynced  int `json:"subscriptions_synced"`
	Failed               int `json:"failed"`
}

// ReconcileJobParams configures the reconciliation sweep.
type ReconcileJobParams struct {
	Logger       *logger.Logger
	BillingRepo  billing.Repository
	Resolver     cardResolver
	Synchronizer subscriptionSyncer
	Config       config.ReconcileConfig

	// Sleep is injectable for tests; nil selects time.Sleep.
	Sleep func(time.Duration)
}

// ReconcileJob repairs what live webhook handling could not: orders whose
// payment method never resolved, and subscription rows stuck in
// not_started. It runs on the cron cadence and ad hoc via the sweep
// endpoint; both paths go through Sweep.
type ReconcileJob struct {
	logg     *logger.Logger
	repo     billing.Repository
	resolver cardResolver
	sync     subscriptionSyncer
	cfg      config.ReconcileConfig
	sleep    func(time.Duration)
}

// NewReconcileJob builds the reconciliation sweep job.
func NewReconcileJob(params ReconcileJobParams) (*ReconcileJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Resolver == nil {
		return nil, fmt.Errorf("payment method resolver required")
	}
	if params.Synchronizer == nil {
		return nil, fmt.Errorf("subscription synchronizer required")
	}

	cfg := params.Config
	if cfg.Lookback <= 0 {
		cfg.Lookback = 7 * 24 * time.Hour
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	if cfg.StuckAge <= 0 {
		cfg.StuckAge = 15 * time.Minute
	}

	sleep := params.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	return &ReconcileJob{
		logg:     params.Logger,
		repo:     params.BillingRepo,
		resolver: params.Resolver,
		sync:     params.Synchronizer,
		cfg:      cfg,
		sleep:    sleep,
	}, nil
}

func (j *ReconcileJob) Name() string { return "reconcile-sweep" }

// Run executes a sweep with the configured window and batch size.
func (j *ReconcileJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx, j.cfg.Lookback, j.cfg.BatchLimit)
	return err
}

// Sweep scans placeholder-payment orders and stuck subscription rows and
// reruns the resolution pipeline for each. Item failures are collected,
// never fatal; the sweep is safe to run concurrently with live webhooks
// because every write it performs is idempotent.
func (j *ReconcileJob) Sweep(ctx context.Context, lookback time.Duration, limit int) (Report, error) {
	if lookback <= 0 {
		lookback = j.cfg.Lookback
	}
	if limit <= 0 {
		limit = j.cfg.BatchLimit
	}
	ctx = j.logg.WithField(ctx, "job", j.Name())

	var report Report
	var errs error

	orders, err := j.repo.ListOrdersWithPlaceholderPayment(ctx, lookback, limit)
	if err != nil {
		return report, fmt.Errorf("list placeholder orders: %w", err)
	}
	report.OrdersScanned = len(orders)
	for i := range orders {
		if i > 0 && j.cfg.InterItemDelay > 0 {
			j.sleep(j.cfg.InterItemDelay)
		}
		if err := j.repairOrder(ctx, &orders[i]); err != nil {
			report.Failed++
			errs = multierr.Append(errs, err)
			continue
		}
		report.OrdersRepaired++
	}

	stuck, err := j.repo.ListStuckSubscriptions(ctx, j.cfg.StuckAge, limit)
	if err != nil {
		return report, fmt.Errorf("list stuck subscriptions: %w", err)
	}
	report.SubscriptionsScanned = len(stuck)
	for i := range stuck {
		if j.cfg.InterItemDelay > 0 {
			j.sleep(j.cfg.InterItemDelay)
		}
		if _, err := j.sync.Sync(ctx, stuck[i].CustomerID); err != nil {
			report.Failed++
			errs = multierr.Append(errs, err)
			continue
		}
		report.SubscriptionsSynced++
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"orders_scanned":        report.OrdersScanned,
		"orders_repaired":       report.OrdersRepaired,
		"subscriptions_scanned": report.SubscriptionsScanned,
		"subscriptions_synced":  report.SubscriptionsSynced,
		"failed":                report.Failed,
	})
	j.logg.Info(reportCtx, "reconcile sweep complete")
	return report, errs
}

func (j *ReconcileJob) repairOrder(ctx context.Context, order *models.Order) error {
	checkout := paymentmethods.CheckoutContext{
		PaymentIntentID: order.PaymentIntentID,
		Recurring:       order.PurchaseTier.IsRecurring(),
	}
	if order.SubscriptionID != nil {
		checkout.SubscriptionID = *order.SubscriptionID
	}

	card := j.resolver.Resolve(ctx, order.CustomerID, checkout)
	if !card.Valid() {
		j.appendLog(ctx, order.CustomerID, enums.SyncOutcomeNoDataFound, map[string]any{
			"order_id": order.ID.String(),
			"reason":   "payment_method_still_unresolved",
		})
		return fmt.Errorf("order %s: payment method still unresolved", order.ID)
	}

	if err := j.repo.UpdateOrderPaymentMethod(ctx, order.ID, card.Brand, card.Last4); err != nil {
		return fmt.Errorf("order %s: %w", order.ID, err)
	}
	j.appendLog(ctx, order.CustomerID, enums.SyncOutcomeSuccess, map[string]any{
		"order_id": order.ID.String(),
		"brand":    card.Brand,
	})
	return nil
}

func (j *ReconcileJob) appendLog(ctx context.Context, customerID string, outcome enums.SyncOutcome, details map[string]any) {
	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte("{}")
	}
	entry := &models.SyncLog{
		CustomerID: customerID,
		Operation:  reconcileOperation,
		Outcome:    outcome,
		Details:    payload,
	}
	if err := j.repo.AppendSyncLog(ctx, entry); err != nil {
		j.logg.Warn(ctx, "sync log append failed")
	}
}
