package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/7juliusearl/dot-backend/pkg/db/models"
	"github.com/7juliusearl/dot-backend/pkg/enums"
)

func setupBillingTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	customers := `
CREATE TABLE IF NOT EXISTS customers (
  id TEXT PRIMARY KEY,
  stripe_customer_id TEXT NOT NULL UNIQUE,
  email TEXT NOT NULL DEFAULT '',
  user_id TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  deleted_at DATETIME
);`
	orders := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  checkout_session_id TEXT NOT NULL UNIQUE,
  payment_intent_id TEXT NOT NULL DEFAULT '',
  customer_id TEXT NOT NULL,
  email TEXT NOT NULL DEFAULT '',
  amount_subtotal INTEGER NOT NULL DEFAULT 0,
  amount_total INTEGER NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT 'usd',
  payment_status TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'pending',
  purchase_tier TEXT NOT NULL,
  payment_method_brand TEXT NOT NULL DEFAULT 'card',
  payment_method_last4 TEXT NOT NULL DEFAULT '****',
  subscription_id TEXT,
  price_id TEXT,
  current_period_start INTEGER,
  current_period_end INTEGER,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  subscription_status TEXT NOT NULL DEFAULT 'not_started',
  created_at DATETIME,
  updated_at DATETIME,
  deleted_at DATETIME
);`
	subscriptions := `
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  subscription_id TEXT,
  price_id TEXT,
  status TEXT NOT NULL DEFAULT 'not_started',
  current_period_start INTEGER,
  current_period_end INTEGER,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  payment_method_brand TEXT NOT NULL DEFAULT 'card',
  payment_method_last4 TEXT NOT NULL DEFAULT '****',
  created_at DATETIME,
  updated_at DATETIME,
  deleted_at DATETIME
);`
	syncLogs := `
CREATE TABLE IF NOT EXISTS sync_logs (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  operation TEXT NOT NULL,
  outcome TEXT NOT NULL,
  details TEXT,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(customers).Error)
	require.NoError(t, db.Exec(orders).Error)
	require.NoError(t, db.Exec(subscriptions).Error)
	require.NoError(t, db.Exec(syncLogs).Error)
	return db
}

func newCompletedOrder(sessionID, customerID string, tier enums.PurchaseTier) *models.Order {
	return &models.Order{
		CheckoutSessionID: sessionID,
		CustomerID:        customerID,
		Status:            enums.OrderStatusCompleted,
		PurchaseTier:      tier,
		AmountTotal:       399,
		Currency:          "usd",
	}
}

func TestUpsertCustomerCreatesThenCapturesEmail(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customer, err := repo.UpsertCustomer(ctx, "cus_123", "")
	require.NoError(t, err)
	require.NotNil(t, customer)
	assert.Empty(t, customer.Email)

	again, err := repo.UpsertCustomer(ctx, "cus_123", "bride@example.com")
	require.NoError(t, err)
	assert.Equal(t, customer.ID, again.ID)
	assert.Equal(t, "bride@example.com", again.Email)

	found, err := repo.FindCustomerByStripeID(ctx, "cus_123")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "bride@example.com", found.Email)
}

func TestCreateOrderIgnoreConflictIsIdempotent(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := newCompletedOrder("cs_abc", "cus_1", enums.PurchaseTierShortCycle)
	created, err := repo.CreateOrderIgnoreConflict(ctx, order)
	require.NoError(t, err)
	assert.True(t, created)

	duplicate := newCompletedOrder("cs_abc", "cus_1", enums.PurchaseTierShortCycle)
	created, err = repo.CreateOrderIgnoreConflict(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, created)

	var count int64
	require.NoError(t, db.Model(&models.Order{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestUpdateOrderSnapshotsOnlyTouchesRecurringCompleted(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	recurring := newCompletedOrder("cs_month", "cus_1", enums.PurchaseTierShortCycle)
	perpetual := newCompletedOrder("cs_life", "cus_1", enums.PurchaseTierPerpetual)
	otherCustomer := newCompletedOrder("cs_other", "cus_2", enums.PurchaseTierShortCycle)
	for _, o := range []*models.Order{recurring, perpetual, otherCustomer} {
		_, err := repo.CreateOrderIgnoreConflict(ctx, o)
		require.NoError(t, err)
	}

	subID := "sub_123"
	priceID := "price_month"
	start := int64(1700000000)
	end := int64(1702592000)
	require.NoError(t, repo.UpdateOrderSnapshots(ctx, "cus_1", models.Subscription{
		SubscriptionID:     &subID,
		PriceID:            &priceID,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		CancelAtPeriodEnd:  true,
		Status:             enums.SubscriptionStatusActive,
	}))

	var got models.Order
	require.NoError(t, db.Where("checkout_session_id = ?", "cs_month").First(&got).Error)
	require.NotNil(t, got.SubscriptionID)
	assert.Equal(t, "sub_123", *got.SubscriptionID)
	assert.Equal(t, enums.SubscriptionStatusActive, got.SubscriptionStatus)
	assert.True(t, got.CancelAtPeriodEnd)

	got = models.Order{}
	require.NoError(t, db.Where("checkout_session_id = ?", "cs_life").First(&got).Error)
	assert.Nil(t, got.SubscriptionID)

	got = models.Order{}
	require.NoError(t, db.Where("checkout_session_id = ?", "cs_other").First(&got).Error)
	assert.Nil(t, got.SubscriptionID)
}

func TestSaveSubscriptionSnapshotUpserts(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	first := &models.Subscription{
		CustomerID: "cus_1",
		Status:     enums.SubscriptionStatusNotStarted,
	}
	require.NoError(t, repo.SaveSubscriptionSnapshot(ctx, first))

	subID := "sub_live"
	second := &models.Subscription{
		CustomerID:     "cus_1",
		SubscriptionID: &subID,
		Status:         enums.SubscriptionStatusActive,
	}
	require.NoError(t, repo.SaveSubscriptionSnapshot(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	found, err := repo.FindSubscriptionByCustomer(ctx, "cus_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, enums.SubscriptionStatusActive, found.Status)
}

func TestListOrdersWithPlaceholderPayment(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	placeholder := newCompletedOrder("cs_ph", "cus_1", enums.PurchaseTierShortCycle)
	resolved := newCompletedOrder("cs_ok", "cus_1", enums.PurchaseTierShortCycle)
	resolved.PaymentMethodLast4 = "4242"
	pending := newCompletedOrder("cs_pending", "cus_1", enums.PurchaseTierShortCycle)
	pending.Status = enums.OrderStatusPending
	for _, o := range []*models.Order{placeholder, resolved, pending} {
		_, err := repo.CreateOrderIgnoreConflict(ctx, o)
		require.NoError(t, err)
	}

	orders, err := repo.ListOrdersWithPlaceholderPayment(ctx, 7*24*time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "cs_ph", orders[0].CheckoutSessionID)
}

func TestListStuckSubscriptions(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	stuck := &models.Subscription{CustomerID: "cus_stuck", Status: enums.SubscriptionStatusNotStarted}
	require.NoError(t, repo.SaveSubscriptionSnapshot(ctx, stuck))
	require.NoError(t, db.Model(&models.Subscription{}).
		Where("customer_id = ?", "cus_stuck").
		Update("updated_at", time.Now().UTC().Add(-time.Hour)).Error)

	fresh := &models.Subscription{CustomerID: "cus_fresh", Status: enums.SubscriptionStatusNotStarted}
	require.NoError(t, repo.SaveSubscriptionSnapshot(ctx, fresh))

	active := &models.Subscription{CustomerID: "cus_active", Status: enums.SubscriptionStatusActive}
	require.NoError(t, repo.SaveSubscriptionSnapshot(ctx, active))

	subs, err := repo.ListStuckSubscriptions(ctx, 15*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "cus_stuck", subs[0].CustomerID)
}

func TestSoftDeleteCustomerDataTombstonesEverything(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	_, err := repo.UpsertCustomer(ctx, "cus_gone", "gone@example.com")
	require.NoError(t, err)
	_, err = repo.CreateOrderIgnoreConflict(ctx, newCompletedOrder("cs_gone", "cus_gone", enums.PurchaseTierShortCycle))
	require.NoError(t, err)
	require.NoError(t, repo.SaveSubscriptionSnapshot(ctx, &models.Subscription{
		CustomerID: "cus_gone",
		Status:     enums.SubscriptionStatusCanceled,
	}))

	require.NoError(t, repo.SoftDeleteCustomerData(ctx, "cus_gone"))

	found, err := repo.FindCustomerByStripeID(ctx, "cus_gone")
	require.NoError(t, err)
	assert.Nil(t, found)

	var count int64
	require.NoError(t, db.Unscoped().Model(&models.Customer{}).
		Where("stripe_customer_id = ? AND deleted_at IS NOT NULL", "cus_gone").
		Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestListExpiredCancellations(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Unix()

	lapsed := newCompletedOrder("cs_lapsed", "cus_1", enums.PurchaseTierShortCycle)
	lapsed.CancelAtPeriodEnd = true
	end := now - 3600
	lapsed.CurrentPeriodEnd = &end

	upcoming := newCompletedOrder("cs_upcoming", "cus_2", enums.PurchaseTierShortCycle)
	upcoming.CancelAtPeriodEnd = true
	future := now + 24*3600
	upcoming.CurrentPeriodEnd = &future

	renewing := newCompletedOrder("cs_renewing", "cus_3", enums.PurchaseTierShortCycle)
	renewing.CurrentPeriodEnd = &end

	for _, o := range []*models.Order{lapsed, upcoming, renewing} {
		_, err := repo.CreateOrderIgnoreConflict(ctx, o)
		require.NoError(t, err)
	}

	orders, err := repo.ListExpiredCancellations(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "cs_lapsed", orders[0].CheckoutSessionID)

	count, err := repo.CountExpiringSoon(ctx, now, now+48*3600)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestAppendSyncLog(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.AppendSyncLog(ctx, &models.SyncLog{
		CustomerID: "cus_1",
		Operation:  "subscription_sync",
		Outcome:    enums.SyncOutcomeSuccess,
	}))

	var entries []models.SyncLog
	require.NoError(t, db.Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, enums.SyncOutcomeSuccess, entries[0].Outcome)
}
