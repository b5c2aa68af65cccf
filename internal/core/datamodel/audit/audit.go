package audit

import (
	"encoding/json"
	"time"
)

// Entry is an append-only record of a state change. Rows are never updated.
type Entry struct {
	ID         int64           `gorm:"primaryKey"`
	EntityType string          `gorm:"column:entity_type;not null;index:idx_audit_entity"`
	EntityID   string          `gorm:"column:entity_id;not null;index:idx_audit_entity"`
	Action     string          `gorm:"column:action;not null"`
	Changes    json.RawMessage `gorm:"column:changes;type:jsonb"`
	Actor      string          `gorm:"column:actor;not null"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (Entry) TableName() string { return "audit_logs" }
