package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/payment-reconciliation/internal"
	auditpostgres "github.com/frahmantamala/payment-reconciliation/internal/audit/postgres"
	auditmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/audit"
	reconmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/reconciliation"
	"github.com/frahmantamala/payment-reconciliation/internal/reconciliation"
)

var ErrNotPending = errors.New("reconciliation is no longer pending")

type ReconciliationRepository struct {
	db *gorm.DB
}

func NewReconciliationRepository(db *gorm.DB) *ReconciliationRepository {
	return &ReconciliationRepository{
		db: db,
	}
}

func (r *ReconciliationRepository) WriteAudit(ctx context.Context, entry *auditmodel.Entry) error {
	return auditpostgres.NewAuditRepository(r.db).WriteAudit(ctx, entry)
}

// CreatePending checks for a blocking record and inserts in one transaction.
// The partial unique index on pending runs turns a lost race into a
// duplicate key error, reported the same way.
func (r *ReconciliationRepository) CreatePending(ctx context.Context, rec *reconmodel.Record, force bool) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&reconmodel.Record{}).
			Where("tenant_id = ? AND gateway = ? AND period_start = ? AND period_end = ? AND type = ?",
				rec.TenantID, rec.Gateway, rec.PeriodStart, rec.PeriodEnd, rec.Type)
		if force {
			q = q.Where("status = ?", reconmodel.StatusPending)
		} else {
			q = q.Where("status <> ?", reconmodel.StatusFailed)
		}

		var existing int64
		if err := q.Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return internal.ErrAlreadyReconciled
		}

		rec.Status = reconmodel.StatusPending
		return tx.Create(rec).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return internal.ErrAlreadyReconciled
	}
	return err
}

func (r *ReconciliationRepository) Complete(ctx context.Context, rec *reconmodel.Record) error {
	res := r.db.WithContext(ctx).
		Model(&reconmodel.Record{}).
		Where("id = ? AND status = ?", rec.ID, reconmodel.StatusPending).
		Updates(map[string]interface{}{
			"status":             rec.Status,
			"currency":           rec.Currency,
			"total_payments":     rec.TotalPayments,
			"total_refunds":      rec.TotalRefunds,
			"total_fees":         rec.TotalFees,
			"net_settlement":     rec.NetSettlement,
			"matched_count":      rec.MatchedCount,
			"discrepancy_count":  rec.DiscrepancyCount,
			"reconciled_amount":  rec.ReconciledAmount,
			"discrepancy_amount": rec.DiscrepancyAmount,
			"completed_at":       rec.CompletedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("reconciliation %d: %w", rec.ID, ErrNotPending)
	}
	return nil
}

func (r *ReconciliationRepository) SaveDiscrepancies(ctx context.Context, reconciliationID int64, discrepancies []reconmodel.Discrepancy) error {
	if len(discrepancies) == 0 {
		return nil
	}
	rows := make([]reconmodel.Discrepancy, len(discrepancies))
	for i, d := range discrepancies {
		d.ReconciliationID = reconciliationID
		rows[i] = d
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, 500).Error
}

func (r *ReconciliationRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&reconmodel.Record{}).
		Where("id = ? AND status = ?", id, reconmodel.StatusPending).
		Updates(map[string]interface{}{
			"status":         reconmodel.StatusFailed,
			"failure_reason": reason,
			"completed_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("reconciliation %d: %w", id, ErrNotPending)
	}
	return nil
}

func (r *ReconciliationRepository) List(ctx context.Context, filter reconciliation.Filter) ([]reconmodel.Record, int64, error) {
	q := r.db.WithContext(ctx).Model(&reconmodel.Record{})
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if !filter.From.IsZero() {
		q = q.Where("period_start >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("period_end <= ?", filter.To.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []reconmodel.Record
	err := q.Order("created_at DESC").Order("id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *ReconciliationRepository) Get(ctx context.Context, id int64) (*reconmodel.Record, error) {
	var rec reconmodel.Record
	err := r.db.WithContext(ctx).
		Preload("Discrepancies", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrReconciliationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ReconciliationRepository) UpdateStatus(ctx context.Context, id int64, from, to reconmodel.Status, update reconciliation.StatusUpdate) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if update.DiscrepancyReason != nil {
		updates["discrepancy_reason"] = *update.DiscrepancyReason
	}
	if update.FailureReason != nil {
		updates["failure_reason"] = *update.FailureReason
	}
	if update.CompletedAt != nil {
		updates["completed_at"] = *update.CompletedAt
	}

	res := r.db.WithContext(ctx).
		Model(&reconmodel.Record{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
