package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/7juliusearl/dot-backend/pkg/db/models"
	"github.com/7juliusearl/dot-backend/pkg/enums"
)

// Repository handles billing persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*models.Customer, error)
	UpsertCustomer(ctx context.Context, stripeCustomerID, email string) (*models.Customer, error)
	SoftDeleteCustomerData(ctx context.Context, stripeCustomerID string) error

	CreateOrderIgnoreConflict(ctx context.Context, order *models.Order) (bool, error)
	FindOrderByCheckoutSession(ctx context.Context, sessionID string) (*models.Order, error)
	FindLatestCompletedOrder(ctx context.Context, customerID string) (*models.Order, error)
	UpdateOrderSnapshots(ctx context.Context, customerID string, snapshot models.Subscription) error
	UpdateOrderPaymentMethod(ctx context.Context, orderID uuid.UUID, brand, last4 string) error
	ListOrdersWithPlaceholderPayment(ctx context.Context, lookback time.Duration, limit int) ([]models.Order, error)
	ListExpiredCancellations(ctx context.Context, nowEpoch int64, limit int) ([]models.Order, error)
	CountExpiringSoon(ctx context.Context, nowEpoch, horizonEpoch int64) (int64, error)

	FindSubscriptionByCustomer(ctx context.Context, customerID string) (*models.Subscription, error)
	SaveSubscriptionSnapshot(ctx context.Context, snapshot *models.Subscription) error
	ListStuckSubscriptions(ctx context.Context, stuckAge time.Duration, limit int) ([]models.Subscription, error)

	AppendSyncLog(ctx context.Context, entry *models.SyncLog) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*models.Customer, error) {
	if stripeCustomerID == "" {
		return nil, nil
	}
	var customer models.Customer
	if err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", stripeCustomerID).
		First(&customer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

// UpsertCustomer creates the customer row on first sight and captures the
// email when a later event supplies one we do not have yet.
func (r *repository) UpsertCustomer(ctx context.Context, stripeCustomerID, email string) (*models.Customer, error) {
	customer, err := r.FindCustomerByStripeID(ctx, stripeCustomerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		customer = &models.Customer{
			StripeCustomerID: stripeCustomerID,
			Email:            email,
		}
		if err := r.db.WithContext(ctx).Create(customer).Error; err != nil {
			return nil, err
		}
		return customer, nil
	}
	if email != "" && customer.Email != email {
		customer.Email = email
		if err := r.db.WithContext(ctx).Save(customer).Error; err != nil {
			return nil, err
		}
	}
	return customer, nil
}

// SoftDeleteCustomerData tombstones the customer plus their orders and
// subscription row once entitlement has lapsed.
func (r *repository) SoftDeleteCustomerData(ctx context.Context, stripeCustomerID string) error {
	if err := r.db.WithContext(ctx).
		Where("customer_id = ?", stripeCustomerID).
		Delete(&models.Order{}).Error; err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).
		Where("customer_id = ?", stripeCustomerID).
		Delete(&models.Subscription{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", stripeCustomerID).
		Delete(&models.Customer{}).Error
}

// CreateOrderIgnoreConflict inserts the order unless a row with the same
// checkout session id already exists. Returns whether a row was created.
func (r *repository) CreateOrderIgnoreConflict(ctx context.Context, order *models.Order) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "checkout_session_id"}},
			DoNothing: true,
		}).
		Create(order)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FindOrderByCheckoutSession(ctx context.Context, sessionID string) (*models.Order, error) {
	if sessionID == "" {
		return nil, nil
	}
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("checkout_session_id = ?", sessionID).
		First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindLatestCompletedOrder(ctx context.Context, customerID string) (*models.Order, error) {
	if customerID == "" {
		return nil, nil
	}
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, enums.OrderStatusCompleted).
		Order("created_at DESC").
		First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdateOrderSnapshots overwrites the denormalized subscription columns on
// the customer's completed recurring-tier orders.
func (r *repository) UpdateOrderSnapshots(ctx context.Context, customerID string, snapshot models.Subscription) error {
	recurring := []enums.PurchaseTier{enums.PurchaseTierShortCycle, enums.PurchaseTierLongCycle}
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("customer_id = ? AND status = ? AND purchase_tier IN (?)",
			customerID, enums.OrderStatusCompleted, recurring).
		Updates(map[string]any{
			"subscription_id":      snapshot.SubscriptionID,
			"price_id":             snapshot.PriceID,
			"current_period_start": snapshot.CurrentPeriodStart,
			"current_period_end":   snapshot.CurrentPeriodEnd,
			"cancel_at_period_end": snapshot.CancelAtPeriodEnd,
			"subscription_status":  snapshot.Status,
		}).Error
}

func (r *repository) UpdateOrderPaymentMethod(ctx context.Context, orderID uuid.UUID, brand, last4 string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"payment_method_brand": brand,
			"payment_method_last4": last4,
		}).Error
}

// ListOrdersWithPlaceholderPayment returns completed orders inside the
// lookback window whose payment method never resolved past the sentinel.
func (r *repository) ListOrdersWithPlaceholderPayment(ctx context.Context, lookback time.Duration, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-lookback)
	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Where("status = ? AND payment_method_last4 = ? AND created_at >= ?",
			enums.OrderStatusCompleted, "****", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// ListExpiredCancellations returns completed orders whose subscription was
// set to cancel and whose paid period has already ended.
func (r *repository) ListExpiredCancellations(ctx context.Context, nowEpoch int64, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Where("status = ? AND cancel_at_period_end = ? AND current_period_end IS NOT NULL AND current_period_end < ?",
			enums.OrderStatusCompleted, true, nowEpoch).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) CountExpiringSoon(ctx context.Context, nowEpoch, horizonEpoch int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("status = ? AND cancel_at_period_end = ? AND current_period_end >= ? AND current_period_end < ?",
			enums.OrderStatusCompleted, true, nowEpoch, horizonEpoch).
		Count(&count).Error
	return count, err
}

func (r *repository) FindSubscriptionByCustomer(ctx context.Context, customerID string) (*models.Subscription, error) {
	if customerID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// SaveSubscriptionSnapshot upserts the single live subscription row per
// customer, preserving the row id when one already exists.
func (r *repository) SaveSubscriptionSnapshot(ctx context.Context, snapshot *models.Subscription) error {
	existing, err := r.FindSubscriptionByCustomer(ctx, snapshot.CustomerID)
	if err != nil {
		return err
	}
	if existing != nil {
		snapshot.ID = existing.ID
		snapshot.CreatedAt = existing.CreatedAt
		return r.db.WithContext(ctx).Save(snapshot).Error
	}
	return r.db.WithContext(ctx).Create(snapshot).Error
}

// ListStuckSubscriptions returns rows still in not_started older than the
// given age. A row in that state after checkout means a sync never landed.
func (r *repository) ListStuckSubscriptions(ctx context.Context, stuckAge time.Duration, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 50
	}
	if stuckAge <= 0 {
		stuckAge = 15 * time.Minute
	}
	cutoff := time.Now().UTC().Add(-stuckAge)
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.SubscriptionStatusNotStarted, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) AppendSyncLog(ctx context.Context, entry *models.SyncLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
