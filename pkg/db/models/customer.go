package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Customer mirrors a Stripe customer known to the billing platform.
// Rows are created lazily the first time a checkout or webhook references
// an unknown Stripe customer id, and are only ever soft-deleted.
type Customer struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	StripeCustomerID string         `gorm:"column:stripe_customer_id;not null;uniqueIndex"`
	Email            string         `gorm:"column:email;type:text;not null;default:''"`
	UserID           *uuid.UUID     `gorm:"column:user_id;type:uuid"`
	CreatedAt        time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt        gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (c *Customer) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
