package postgres

import (
	"context"

	auditmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/audit"
	"gorm.io/gorm"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// WriteAudit inserts inside a nested transaction. When db is already a
// transaction this becomes a savepoint, so a failed insert rolls back only
// itself.
func (r *AuditRepository) WriteAudit(ctx context.Context, entry *auditmodel.Entry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(entry).Error
	})
}

func (r *AuditRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]auditmodel.Entry, error) {
	var entries []auditmodel.Entry
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
