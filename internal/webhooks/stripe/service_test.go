package stripewebhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/7juliusearl/dot-backend/internal/billing"
	"github.com/7juliusearl/dot-backend/internal/paymentmethods"
	"github.com/7juliusearl/dot-backend/internal/purchases"
	"github.com/7juliusearl/dot-backend/pkg/config"
	"github.com/7juliusearl/dot-backend/pkg/db/models"
	"github.com/7juliusearl/dot-backend/pkg/enums"
	"github.com/7juliusearl/dot-backend/pkg/logger"
)

type stubRepo struct {
	orders        []*models.Order
	customers     map[string]string
	createdResult bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{customers: map[string]string{}, createdResult: true}
}

func (r *stubRepo) WithTx(tx *gorm.DB) billing.Repository { return r }

func (r *stubRepo) FindCustomerByStripeID(ctx context.Context, id string) (*models.Customer, error) {
	return nil, nil
}

func (r *stubRepo) UpsertCustomer(ctx context.Context, id, email string) (*models.Customer, error) {
	r.customers[id] = email
	return &models.Customer{StripeCustomerID: id, Email: email}, nil
}

func (r *stubRepo) SoftDeleteCustomerData(ctx context.Context, id string) error { return nil }

func (r *stubRepo) CreateOrderIgnoreConflict(ctx context.Context, order *models.Order) (bool, error) {
	if !r.createdResult {
		return false, nil
	}
	r.orders = append(r.orders, order)
	return true, nil
}

func (r *stubRepo) FindOrderByCheckoutSession(ctx context.Context, id string) (*models.Order, error) {
	return nil, nil
}

func (r *stubRepo) FindLatestCompletedOrder(ctx context.Context, id string) (*models.Order, error) {
	return nil, nil
}

func (r *stubRepo) UpdateOrderSnapshots(ctx context.Context, id string, snapshot models.Subscription) error {
	return nil
}

func (r *stubRepo) UpdateOrderPaymentMethod(ctx context.Context, id uuid.UUID, brand, last4 string) error {
	return nil
}

func (r *stubRepo) ListOrdersWithPlaceholderPayment(ctx context.Context, lookback time.Duration, limit int) ([]models.Order, error) {
	return nil, nil
}

func (r *stubRepo) ListExpiredCancellations(ctx context.Context, nowEpoch int64, limit int) ([]models.Order, error) {
	return nil, nil
}

func (r *stubRepo) CountExpiringSoon(ctx context.Context, nowEpoch, horizonEpoch int64) (int64, error) {
	return 0, nil
}

func (r *stubRepo) FindSubscriptionByCustomer(ctx context.Context, id string) (*models.Subscription, error) {
	return nil, nil
}

func (r *stubRepo) SaveSubscriptionSnapshot(ctx context.Context, snapshot *models.Subscription) error {
	return nil
}

func (r *stubRepo) ListStuckSubscriptions(ctx context.Context, age time.Duration, limit int) ([]models.Subscription, error) {
	return nil, nil
}

func (r *stubRepo) AppendSyncLog(ctx context.Context, entry *models.SyncLog) error { return nil }

type stubLineItems struct {
	priceID string
	err     error
}

func (s *stubLineItems) ListCheckoutLineItems(ctx context.Context, sessionID string) ([]*stripe.LineItem, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.priceID == "" {
		return nil, nil
	}
	return []*stripe.LineItem{{Price: &stripe.Price{ID: s.priceID}}}, nil
}

type stubCardResolver struct {
	card     paymentmethods.Card
	contexts []paymentmethods.CheckoutContext
}

func (s *stubCardResolver) Resolve(ctx context.Context, customerID string, checkout paymentmethods.CheckoutContext) paymentmethods.Card {
	s.contexts = append(s.contexts, checkout)
	return s.card
}

type stubSyncer struct {
	customers []string
	err       error
}

func (s *stubSyncer) Sync(ctx context.Context, customerID string) (*models.Subscription, error) {
	s.customers = append(s.customers, customerID)
	return &models.Subscription{CustomerID: customerID, Status: enums.SubscriptionStatusActive}, s.err
}

type stubInvites struct {
	sent chan string
}

func (s *stubInvites) Enabled() bool { return true }

func (s *stubInvites) Send(ctx context.Context, email string) error {
	s.sent <- email
	return nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type webhookFixture struct {
	repo     *stubRepo
	resolver *stubCardResolver
	syncer   *stubSyncer
	invites  *stubInvites
	service  *Service
}

func newWebhookFixture(t *testing.T, repo *stubRepo, items *stubLineItems) *webhookFixture {
	t.Helper()
	f := &webhookFixture{
		repo:     repo,
		resolver: &stubCardResolver{card: paymentmethods.Card{Brand: "visa", Last4: "4242"}},
		syncer:   &stubSyncer{},
		invites:  &stubInvites{sent: make(chan string, 1)},
	}
	classifier := purchases.NewClassifier(config.PricingConfig{
		PerpetualThresholdMinor: 9900,
		LongCycleThresholdMinor: 2700,
		LongCyclePriceIDs:       []string{"price_year"},
	})
	svc, err := NewService(ServiceParams{
		BillingRepo:       repo,
		StripeClient:      items,
		Classifier:        classifier,
		Resolver:          f.resolver,
		Synchronizer:      f.syncer,
		Invites:           f.invites,
		TransactionRunner: stubTxRunner{},
		Logger:            logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled}),
	})
	require.NoError(t, err)
	// Run detached work inline so assertions see its effects.
	svc.dispatch = func(fn func()) { fn() }
	f.service = svc
	return f
}

func checkoutEvent(t *testing.T, payload map[string]any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &stripe.Event{
		ID:   "evt_1",
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestHandleCheckoutCompletedOneTimePurchase(t *testing.T) {
	f := newWebhookFixture(t, newStubRepo(), &stubLineItems{priceID: "price_life"})

	event := checkoutEvent(t, map[string]any{
		"id": "cs_1",
		"customer": "cus_1",
		"customer_details": map[string]any{"email": "bride@example.com"},
		"mode": "payment",
		"amount_subtotal": 9900,
		"amount_total": 9900,
		"currency": "usd",
		"payment_status": "paid",
		"payment_intent": "pi_1",
	})
	require.NoError(t, f.service.HandleEvent(context.Background(), event))

	require.Len(t, f.repo.orders, 1)
	order := f.repo.orders[0]
	assert.Equal(t, "cs_1", order.CheckoutSessionID)
	assert.Equal(t, enums.OrderStatusCompleted, order.Status)
	assert.Equal(t, enums.PurchaseTierPerpetual, order.PurchaseTier)
	assert.Equal(t, "4242", order.PaymentMethodLast4)
	assert.Equal(t, "bride@example.com", f.repo.customers["cus_1"])

	assert.Empty(t, f.syncer.customers, "one-time purchases do not trigger sync")

	select {
	case email := <-f.invites.sent:
		assert.Equal(t, "bride@example.com", email)
	case <-time.After(2 * time.Second):
		t.Fatalf("expected invite to be sent")
	}

	require.Len(t, f.resolver.contexts, 1)
	assert.False(t, f.resolver.contexts[0].Recurring)
	assert.Equal(t, "pi_1", f.resolver.contexts[0].PaymentIntentID)
}

func TestHandleCheckoutCompletedRecurringTriggersSync(t *testing.T) {
	f := newWebhookFixture(t, newStubRepo(), &stubLineItems{priceID: "price_month"})

	event := checkoutEvent(t, map[string]any{
		"id": "cs_2",
		"customer": "cus_2",
		"mode": "subscription",
		"amount_total": 399,
		"currency": "usd",
		"subscription": "sub_2",
	})
	require.NoError(t, f.service.HandleEvent(context.Background(), event))

	require.Len(t, f.repo.orders, 1)
	assert.Equal(t, enums.PurchaseTierShortCycle, f.repo.orders[0].PurchaseTier)
	assert.Equal(t, []string{"cus_2"}, f.syncer.customers)

	require.Len(t, f.resolver.contexts, 1)
	assert.True(t, f.resolver.contexts[0].Recurring)
	assert.Equal(t, "sub_2", f.resolver.contexts[0].SubscriptionID)
}

func TestHandleCheckoutCompletedAcksBeforeSyncOutcome(t *testing.T) {
	f := newWebhookFixture(t, newStubRepo(), &stubLineItems{priceID: "price_month"})
	f.syncer.err = assert.AnError

	event := checkoutEvent(t, map[string]any{
		"id": "cs_6",
		"customer": "cus_6",
		"mode": "subscription",
		"amount_total": 399,
		"currency": "usd",
		"subscription": "sub_6",
	})
	// A failed post-insert sync never bounces the event back to Stripe;
	// the reconcile sweep picks up the stuck row instead.
	require.NoError(t, f.service.HandleEvent(context.Background(), event))

	require.Len(t, f.repo.orders, 1)
	assert.Equal(t, []string{"cus_6"}, f.syncer.customers)
}

func TestHandleCheckoutCompletedDuplicateSkipsInvite(t *testing.T) {
	repo := newStubRepo()
	repo.createdResult = false
	f := newWebhookFixture(t, repo, &stubLineItems{})

	event := checkoutEvent(t, map[string]any{
		"id": "cs_3",
		"customer": "cus_3",
		"customer_details": map[string]any{"email": "dup@example.com"},
		"mode": "payment",
		"amount_total": 9900,
	})
	require.NoError(t, f.service.HandleEvent(context.Background(), event))

	select {
	case email := <-f.invites.sent:
		t.Fatalf("unexpected invite for duplicate order: %s", email)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandleCheckoutWithoutCustomerIsNoop(t *testing.T) {
	f := newWebhookFixture(t, newStubRepo(), &stubLineItems{})

	event := checkoutEvent(t, map[string]any{"id": "cs_4", "mode": "payment"})
	require.NoError(t, f.service.HandleEvent(context.Background(), event))
	assert.Empty(t, f.repo.orders)
}

func TestHandleCheckoutLineItemFailureDegradesToAmount(t *testing.T) {
	f := newWebhookFixture(t, newStubRepo(), &stubLineItems{err: assert.AnError})

	event := checkoutEvent(t, map[string]any{
		"id": "cs_5",
		"customer": "cus_5",
		"mode": "subscription",
		"amount_total": 3599,
	})
	require.NoError(t, f.service.HandleEvent(context.Background(), event))

	require.Len(t, f.repo.orders, 1)
	assert.Equal(t, enums.PurchaseTierLongCycle, f.repo.orders[0].PurchaseTier)
}

func TestHandleSubscriptionEventTriggersSync(t *testing.T) {
	f := newWebhookFixture(t, newStubRepo(), &stubLineItems{})

	raw, err := json.Marshal(map[string]any{"id": "sub_9", "customer": "cus_9"})
	require.NoError(t, err)
	event := &stripe.Event{
		ID:   "evt_sub",
		Type: stripe.EventTypeCustomerSubscriptionUpdated,
		Data: &stripe.EventData{Raw: raw},
	}
	require.NoError(t, f.service.HandleEvent(context.Background(), event))
	assert.Equal(t, []string{"cus_9"}, f.syncer.customers)
}

func TestHandleSubscriptionEventWithoutCustomerIsNoop(t *testing.T) {
	f := newWebhookFixture(t, newStubRepo(), &stubLineItems{})

	raw, err := json.Marshal(map[string]any{"id": "sub_10"})
	require.NoError(t, err)
	event := &stripe.Event{
		ID:   "evt_sub2",
		Type: stripe.EventTypeCustomerSubscriptionDeleted,
		Data: &stripe.EventData{Raw: raw},
	}
	require.NoError(t, f.service.HandleEvent(context.Background(), event))
	assert.Empty(t, f.syncer.customers)
}

func TestHandleUnknownEventTypeIsNoop(t *testing.T) {
	f := newWebhookFixture(t, newStubRepo(), &stubLineItems{})

	event := &stripe.Event{
		ID:   "evt_other",
		Type: stripe.EventTypeInvoicePaid,
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}
	require.NoError(t, f.service.HandleEvent(context.Background(), event))
	assert.Empty(t, f.repo.orders)
	assert.Empty(t, f.syncer.customers)
}

func TestHandleEventRequiresData(t *testing.T) {
	f := newWebhookFixture(t, newStubRepo(), &stubLineItems{})
	require.Error(t, f.service.HandleEvent(context.Background(), &stripe.Event{ID: "evt_x"}))
}
