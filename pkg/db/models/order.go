package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/7juliusearl/dot-backend/pkg/enums"
)

// Order records one completed checkout. Inserts are conflict-ignore on the
// checkout session id so replayed webhooks never duplicate rows; only the
// subscription snapshot columns are overwritten afterwards.
type Order struct {
	ID                uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CheckoutSessionID string             `gorm:"column:checkout_session_id;not null;uniqueIndex"`
	PaymentIntentID   string             `gorm:"column:payment_intent_id;not null;default:''"`
	CustomerID        string             `gorm:"column:customer_id;not null;index"`
	Email             string             `gorm:"column:email;type:text;not null;default:''"`
	AmountSubtotal    int64              `gorm:"column:amount_subtotal;not null;default:0"`
	AmountTotal       int64              `gorm:"column:amount_total;not null;default:0"`
	Currency          string             `gorm:"column:currency;not null;default:'usd'"`
	PaymentStatus     string             `gorm:"column:payment_status;not null;default:''"`
	Status            enums.OrderStatus  `gorm:"column:status;type:order_status;not null;default:'pending'"`
	PurchaseTier      enums.PurchaseTier `gorm:"column:purchase_tier;type:purchase_tier;not null"`

	PaymentMethodBrand string `gorm:"column:payment_method_brand;not null;default:'card'"`
	PaymentMethodLast4 string `gorm:"column:payment_method_last4;not null;default:'****'"`

	// Denormalized subscription snapshot, kept in step by the synchronizer.
	SubscriptionID     *string                  `gorm:"column:subscription_id"`
	PriceID            *string                  `gorm:"column:price_id"`
	CurrentPeriodStart *int64                   `gorm:"column:current_period_start"`
	CurrentPeriodEnd   *int64                   `gorm:"column:current_period_end"`
	CancelAtPeriodEnd  bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	SubscriptionStatus enums.SubscriptionStatus `gorm:"column:subscription_status;type:subscription_status;not null;default:'not_started'"`

	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// HasPlaceholderPayment reports whether payment-method resolution never
// produced a usable card for this order.
func (o Order) HasPlaceholderPayment() bool {
	return o.PaymentMethodLast4 == "****" || o.PaymentMethodLast4 == ""
}
