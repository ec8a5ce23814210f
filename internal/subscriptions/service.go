package subscriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/7juliusearl/dot-backend/internal/billing"
	"github.com/7juliusearl/dot-backend/internal/paymentmethods"
	"github.com/7juliusearl/dot-backend/pkg/config"
	"github.com/7juliusearl/dot-backend/pkg/db/models"
	"github.com/7juliusearl/dot-backend/pkg/enums"
	pkgerrors "github.com/7juliusearl/dot-backend/pkg/errors"
	"github.com/7juliusearl/dot-backend/pkg/logger"
)

const (
	syncOperation = "subscription_sync"

	fallbackIDPrefix  = "sub_fallback_"
	generatedIDPrefix = "sub_generated_"
)

type stripeSubscriptionLister interface {
	ListSubscriptions(ctx context.Context, customerID string, limit int64) ([]*stripe.Subscription, error)
}

type cardResolver interface {
	Resolve(ctx context.Context, customerID string, checkout paymentmethods.CheckoutContext) paymentmethods.Card
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service reconciles the local subscription row (and the denormalized
// order snapshots) with whatever Stripe currently reports. Every exit path
// leaves the customer in a definite state; none leaves not_started behind.
type Service interface {
	Sync(ctx context.Context, customerID string) (*models.Subscription, error)
}

// ServiceParams groups dependencies for the synchronizer.
type ServiceParams struct {
	BillingRepo       billing.Repository
	StripeClient      stripeSubscriptionLister
	Resolver          cardResolver
	Pricing           config.PricingConfig
	Sync              config.SyncConfig
	TransactionRunner txRunner
	Logger            *logger.Logger

	// Sleep and Now are injectable for tests; nil selects the real clock.
	Sleep func(time.Duration)
	Now   func() time.Time
}

type service struct {
	repo     billing.Repository
	stripe   stripeSubscriptionLister
	resolver cardResolver
	pricing  config.PricingConfig
	cfg      config.SyncConfig
	txRunner txRunner
	logg     *logger.Logger
	sleep    func(time.Duration)
	now      func() time.Time
}

// NewService builds the synchronizer with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.StripeClient == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if params.Resolver == nil {
		return nil, fmt.Errorf("payment method resolver required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}

	cfg := params.Sync
	if cfg.MaxFetchAttempts <= 0 {
		cfg.MaxFetchAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 10 * time.Second
	}
	if cfg.FallbackWindow <= 0 {
		cfg.FallbackWindow = 30 * 24 * time.Hour
	}

	sleep := params.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &service{
		repo:     params.BillingRepo,
		stripe:   params.StripeClient,
		resolver: params.Resolver,
		pricing:  params.Pricing,
		cfg:      cfg,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
		sleep:    sleep,
		now:      now,
	}, nil
}

// Sync fetches the customer's current subscription from Stripe and lands a
// snapshot. An unhandled failure gets one full retry; if that also fails,
// an emergency forced-active snapshot is persisted before the error is
// returned so the customer is never locked out by our own outage.
func (s *service) Sync(ctx context.Context, customerID string) (*models.Subscription, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	ctx = s.logg.WithCustomerID(ctx, customerID)

	snapshot, err := s.syncOnce(ctx, customerID)
	if err == nil {
		return snapshot, nil
	}

	s.logg.Warn(ctx, "subscription sync failed, retrying once")
	snapshot, retryErr := s.syncOnce(ctx, customerID)
	if retryErr == nil {
		return snapshot, nil
	}

	s.logg.Error(ctx, "subscription sync failed twice, persisting emergency fallback", retryErr)
	emergency := s.buildFallbackSnapshot(customerID, generatedIDPrefix, enums.PurchaseTierShortCycle)
	if persistErr := s.persistSnapshot(ctx, emergency); persistErr != nil {
		s.logg.Error(ctx, "emergency fallback persistence failed", persistErr)
	}
	s.appendLog(ctx, customerID, enums.SyncOutcomeError, map[string]any{
		"reason": "emergency_fallback",
		"error":  retryErr.Error(),
	})

	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, retryErr, "subscription sync failed")
}

func (s *service) syncOnce(ctx context.Context, customerID string) (*models.Subscription, error) {
	subs, fetchErr := s.fetchWithRetry(ctx, customerID)
	if fetchErr != nil {
		// Transport exhaustion goes back to the caller: Sync retries the
		// whole pass and lands the sub_generated_ emergency snapshot if
		// that fails too. Only a clean "nothing there" answer consults
		// the order history.
		s.appendLog(ctx, customerID, enums.SyncOutcomeFailed, map[string]any{
			"reason": "stripe_fetch_exhausted",
			"error":  fetchErr.Error(),
		})
		return nil, fetchErr
	}

	if len(subs) == 0 {
		s.appendLog(ctx, customerID, enums.SyncOutcomeNoDataFound, map[string]any{
			"reason":   "no_stripe_subscription",
			"attempts": s.cfg.MaxFetchAttempts,
		})
		return s.fallback(ctx, customerID)
	}

	latest := subs[0]
	card := cardFromDefaultPaymentMethod(latest)
	if !card.Valid() {
		card = s.resolver.Resolve(ctx, customerID, paymentmethods.CheckoutContext{
			SubscriptionID: latest.ID,
			Recurring:      true,
		})
	}

	snapshot, err := BuildSnapshotFromStripe(latest, customerID, card)
	if err != nil {
		return nil, err
	}

	if err := s.persistSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}

	s.appendLog(ctx, customerID, enums.SyncOutcomeSuccess, map[string]any{
		"subscription_id": latest.ID,
		"status":          snapshot.Status.String(),
	})
	return snapshot, nil
}

// fetchWithRetry lists the customer's most recent subscription with up to
// MaxFetchAttempts tries, doubling the backoff each time up to the cap.
// An empty result consumes an attempt exactly like a transport error:
// right after checkout Stripe may not have surfaced the subscription yet,
// and most customers converge to the real record within a retry or two.
// Returning (nil, nil) means every attempt came back cleanly empty.
func (s *service) fetchWithRetry(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	var lastErr error
	backoff := s.cfg.BackoffBase
	for attempt := 1; attempt <= s.cfg.MaxFetchAttempts; attempt++ {
		subs, err := s.stripe.ListSubscriptions(ctx, customerID, 1)
		if err == nil && len(subs) > 0 {
			return subs, nil
		}
		lastErr = err
		fields := map[string]any{"attempt": attempt}
		if err != nil {
			fields["error"] = err.Error()
			s.logg.Warn(s.logg.WithFields(ctx, fields), "stripe subscription fetch failed")
		} else {
			s.logg.Warn(s.logg.WithFields(ctx, fields), "no stripe subscription visible yet")
		}
		if attempt < s.cfg.MaxFetchAttempts {
			s.sleep(backoff)
			backoff *= 2
			if backoff > s.cfg.BackoffCap {
				backoff = s.cfg.BackoffCap
			}
		}
	}
	return nil, lastErr
}

// fallback synthesizes a snapshot from the customer's latest completed
// order when Stripe has nothing usable. The result is always forced
// active: a paying customer must not be locked out by missing sync data.
func (s *service) fallback(ctx context.Context, customerID string) (*models.Subscription, error) {
	order, err := s.repo.FindLatestCompletedOrder(ctx, customerID)
	if err != nil {
		return nil, err
	}

	var snapshot *models.Subscription
	if order != nil && order.PurchaseTier == enums.PurchaseTierPerpetual {
		snapshot = s.buildPerpetualSnapshot(customerID, order)
	} else {
		tier := enums.PurchaseTierShortCycle
		if order != nil && order.PurchaseTier.IsRecurring() {
			tier = order.PurchaseTier
		}
		snapshot = s.buildFallbackSnapshot(customerID, fallbackIDPrefix, tier)
		s.appendLog(ctx, customerID, enums.SyncOutcomeError, map[string]any{
			"reason": "fallback_subscription_generated",
			"tier":   tier.String(),
		})
	}

	if err := s.persistSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// buildPerpetualSnapshot marks a one-time purchaser active with no
// recurring billing object behind the row.
func (s *service) buildPerpetualSnapshot(customerID string, order *models.Order) *models.Subscription {
	priceID := strings.TrimSpace(s.pricing.PerpetualPriceID)
	snapshot := &models.Subscription{
		CustomerID:         customerID,
		SubscriptionID:     nil,
		PriceID:            trimmedPtr(priceID),
		Status:             enums.SubscriptionStatusActive,
		CancelAtPeriodEnd:  false,
		PaymentMethodBrand: order.PaymentMethodBrand,
		PaymentMethodLast4: order.PaymentMethodLast4,
	}
	if snapshot.PaymentMethodBrand == "" {
		snapshot.PaymentMethodBrand = paymentmethods.PlaceholderCard.Brand
	}
	if snapshot.PaymentMethodLast4 == "" {
		snapshot.PaymentMethodLast4 = paymentmethods.PlaceholderCard.Last4
	}
	return snapshot
}

func (s *service) buildFallbackSnapshot(customerID, prefix string, tier enums.PurchaseTier) *models.Subscription {
	now := s.now().UTC()
	start := now.Unix()
	end := now.Add(s.cfg.FallbackWindow).Unix()
	generated := fmt.Sprintf("%s%s_%d", prefix, customerID, start)

	priceID := strings.TrimSpace(s.pricing.ShortCyclePriceID)
	if tier == enums.PurchaseTierLongCycle && len(s.pricing.LongCyclePriceIDs) > 0 {
		priceID = s.pricing.LongCyclePriceIDs[0]
	}

	return &models.Subscription{
		CustomerID:         customerID,
		SubscriptionID:     &generated,
		PriceID:            trimmedPtr(priceID),
		Status:             enums.SubscriptionStatusActive,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		CancelAtPeriodEnd:  false,
		PaymentMethodBrand: paymentmethods.PlaceholderCard.Brand,
		PaymentMethodLast4: paymentmethods.PlaceholderCard.Last4,
	}
}

// persistSnapshot writes the subscription row and overwrites the snapshot
// columns on the customer's completed recurring orders in one transaction.
func (s *service) persistSnapshot(ctx context.Context, snapshot *models.Subscription) error {
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.SaveSubscriptionSnapshot(ctx, snapshot); err != nil {
			return err
		}
		return txRepo.UpdateOrderSnapshots(ctx, snapshot.CustomerID, *snapshot)
	})
}

func (s *service) appendLog(ctx context.Context, customerID string, outcome enums.SyncOutcome, details map[string]any) {
	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte("{}")
	}
	entry := &models.SyncLog{
		CustomerID: customerID,
		Operation:  syncOperation,
		Outcome:    outcome,
		Details:    payload,
	}
	if err := s.repo.AppendSyncLog(ctx, entry); err != nil {
		s.logg.Warn(ctx, "sync log append failed")
	}
}

func cardFromDefaultPaymentMethod(sub *stripe.Subscription) paymentmethods.Card {
	if sub == nil || sub.DefaultPaymentMethod == nil || sub.DefaultPaymentMethod.Card == nil {
		return paymentmethods.Card{}
	}
	return paymentmethods.Card{
		Brand: string(sub.DefaultPaymentMethod.Card.Brand),
		Last4: sub.DefaultPaymentMethod.Card.Last4,
	}
}
