package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	auditpostgres "github.com/frahmantamala/payment-reconciliation/internal/audit/postgres"
	auditmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/audit"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/payment-reconciliation/internal/payment"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrLinkedEntityNotFound = errors.New("linked entity not found")

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{
		db: db,
	}
}

func (r *PaymentRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx paymentpkg.TxRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &txRepository{db: tx})
	})
}

func (r *PaymentRepository) CreateOrder(ctx context.Context, order *payment.PaymentOrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *PaymentRepository) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*payment.PaymentOrder, error) {
	return (&txRepository{db: r.db}).FindOrderByGatewayOrderID(ctx, gatewayOrderID)
}

func (r *PaymentRepository) GetTransactionByGatewayID(ctx context.Context, gatewayTransactionID string) (*payment.PaymentTransaction, error) {
	return (&txRepository{db: r.db}).FindTransactionByGatewayID(ctx, gatewayTransactionID)
}

func (r *PaymentRepository) GetRefundByGatewayID(ctx context.Context, gatewayRefundID string) (*payment.PaymentRefund, error) {
	return (&txRepository{db: r.db}).FindRefundByGatewayID(ctx, gatewayRefundID)
}

func (r *PaymentRepository) CountTransactions(ctx context.Context, gatewayTransactionID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&payment.PaymentTransaction{}).
		Where("gateway_transaction_id = ?", gatewayTransactionID).
		Count(&n).Error
	return n, err
}

type txRepository struct {
	db *gorm.DB
}

func (r *txRepository) WriteAudit(ctx context.Context, entry *auditmodel.Entry) error {
	return auditpostgres.NewAuditRepository(r.db).WriteAudit(ctx, entry)
}

func first[T any](ctx context.Context, db *gorm.DB, query string, arg interface{}) (*T, error) {
	var out T
	err := db.WithContext(ctx).Where(query, arg).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *txRepository) FindOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*payment.PaymentOrder, error) {
	if gatewayOrderID == "" {
		return nil, nil
	}
	return first[payment.PaymentOrder](ctx, r.db, "gateway_order_id = ?", gatewayOrderID)
}

func (r *txRepository) FindTransactionByGatewayID(ctx context.Context, gatewayTransactionID string) (*payment.PaymentTransaction, error) {
	return first[payment.PaymentTransaction](ctx, r.db, "gateway_transaction_id = ?", gatewayTransactionID)
}

func (r *txRepository) FindRefundByGatewayID(ctx context.Context, gatewayRefundID string) (*payment.PaymentRefund, error) {
	return first[payment.PaymentRefund](ctx, r.db, "gateway_refund_id = ?", gatewayRefundID)
}

func (r *txRepository) ProcessedRefundTotal(ctx context.Context, transactionID int64) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&payment.PaymentRefund{}).
		Where("payment_transaction_id = ? AND status = ?", transactionID, string(payment.RefundStatusProcessed)).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// CreateTransactionIfAbsent relies on the unique gateway reference: a
// concurrent insert of the same reference loses the race and reads the winner.
func (r *txRepository) CreateTransactionIfAbsent(ctx context.Context, txn *payment.PaymentTransaction) (*payment.PaymentTransaction, bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway_transaction_id"}},
			DoNothing: true,
		}).
		Create(txn)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return txn, true, nil
	}

	existing, err := r.FindTransactionByGatewayID(ctx, txn.GatewayTransactionID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("transaction %s conflicted but was not found", txn.GatewayTransactionID)
	}
	return existing, false, nil
}

func (r *txRepository) CreateRefundIfAbsent(ctx context.Context, refund *payment.PaymentRefund) (*payment.PaymentRefund, bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway_refund_id"}},
			DoNothing: true,
		}).
		Create(refund)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return refund, true, nil
	}

	existing, err := r.FindRefundByGatewayID(ctx, refund.GatewayRefundID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("refund %s conflicted but was not found", refund.GatewayRefundID)
	}
	return existing, false, nil
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func patchUpdates(to payment.TransactionStatus, patch paymentpkg.TransactionPatch) map[string]interface{} {
	updates := map[string]interface{}{"status": string(to)}
	if patch.PaymentOrderID != nil {
		updates["payment_order_id"] = *patch.PaymentOrderID
	}
	if patch.TenantID != nil {
		updates["tenant_id"] = *patch.TenantID
	}
	if patch.Method != nil && *patch.Method != "" {
		updates["method"] = *patch.Method
	}
	if patch.Fee != nil {
		updates["fee"] = *patch.Fee
	}
	if patch.Tax != nil {
		updates["tax"] = *patch.Tax
	}
	if len(patch.GatewayPayload) > 0 {
		updates["gateway_payload"] = []byte(patch.GatewayPayload)
	}
	if patch.ErrorCode != nil {
		updates["error_code"] = *patch.ErrorCode
	}
	if patch.ErrorDescription != nil {
		updates["error_description"] = *patch.ErrorDescription
	}
	if patch.AuthorizedAt != nil {
		updates["authorized_at"] = *patch.AuthorizedAt
	}
	if patch.CapturedAt != nil {
		updates["captured_at"] = *patch.CapturedAt
	}
	if patch.FailedAt != nil {
		updates["failed_at"] = *patch.FailedAt
	}
	if patch.RefundedAt != nil {
		updates["refunded_at"] = *patch.RefundedAt
	}
	if patch.GatewayCreatedAt != nil {
		updates["gateway_created_at"] = *patch.GatewayCreatedAt
	}
	return updates
}

// Transitions are conditional updates on the current status, so two
// deliveries racing on the same row apply the change once.
func (r *txRepository) TransitionTransaction(ctx context.Context, id int64, from []payment.TransactionStatus, to payment.TransactionStatus, patch paymentpkg.TransactionPatch) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&payment.PaymentTransaction{}).
		Where("id = ? AND status IN ?", id, toStrings(from)).
		Updates(patchUpdates(to, patch))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *txRepository) TransitionOrder(ctx context.Context, id int64, from []payment.OrderStatus, to payment.OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&payment.PaymentOrder{}).
		Where("id = ? AND status IN ?", id, toStrings(from)).
		Update("status", string(to))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *txRepository) TransitionRefund(ctx context.Context, id int64, from []payment.RefundStatus, to payment.RefundStatus, processedAt *time.Time) (bool, error) {
	updates := map[string]interface{}{"status": string(to)}
	if processedAt != nil {
		updates["processed_at"] = *processedAt
	}
	res := r.db.WithContext(ctx).
		Model(&payment.PaymentRefund{}).
		Where("id = ? AND status IN ?", id, toStrings(from)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// updateIsolated runs the update in a savepoint so its failure leaves the
// enclosing transaction usable.
func (r *txRepository) updateIsolated(ctx context.Context, model interface{}, id int64, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		res := sp.Model(model).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("id %d: %w", id, ErrLinkedEntityNotFound)
		}
		return nil
	})
}

func (r *txRepository) UpdateLinkedOrderPayment(ctx context.Context, orderID int64, paymentStatus, status string) error {
	updates := map[string]interface{}{"payment_status": paymentStatus}
	if status != "" {
		updates["status"] = status
	}
	return r.updateIsolated(ctx, &payment.LinkedOrder{}, orderID, updates)
}

func (r *txRepository) UpdateSubscriptionPayment(ctx context.Context, subscriptionID int64, paymentStatus, status string) error {
	updates := map[string]interface{}{"payment_status": paymentStatus}
	if status != "" {
		updates["status"] = status
	}
	return r.updateIsolated(ctx, &payment.Subscription{}, subscriptionID, updates)
}
