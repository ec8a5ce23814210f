package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/7juliusearl/dot-backend/pkg/enums"
)

// SyncLog is an append-only audit trail of synchronizer and reconciliation
// outcomes. Rows are never updated or deleted.
type SyncLog struct {
	ID         uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID string            `gorm:"column:customer_id;not null;index"`
	Operation  string            `gorm:"column:operation;not null"`
	Outcome    enums.SyncOutcome `gorm:"column:outcome;type:sync_outcome;not null"`
	Details    json.RawMessage   `gorm:"column:details;type:jsonb"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (s *SyncLog) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
