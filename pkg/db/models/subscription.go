package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/7juliusearl/dot-backend/pkg/enums"
)

// Subscription is the authoritative entitlement row per customer. At most
// one non-deleted row exists per Stripe customer id. A nil SubscriptionID
// marks a perpetual purchase with no recurring billing object behind it.
type Subscription struct {
	ID                 uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID         string                   `gorm:"column:customer_id;not null;index"`
	SubscriptionID     *string                  `gorm:"column:subscription_id"`
	PriceID            *string                  `gorm:"column:price_id"`
	Status             enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'not_started'"`
	CurrentPeriodStart *int64                   `gorm:"column:current_period_start"`
	CurrentPeriodEnd   *int64                   `gorm:"column:current_period_end"`
	CancelAtPeriodEnd  bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	PaymentMethodBrand string                   `gorm:"column:payment_method_brand;not null;default:'card'"`
	PaymentMethodLast4 string                   `gorm:"column:payment_method_last4;not null;default:'****'"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt          gorm.DeletedAt           `gorm:"column:deleted_at;index"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// IsEntitled reports whether the row currently grants product access.
func (s Subscription) IsEntitled() bool {
	return s.Status.IsEntitled()
}
