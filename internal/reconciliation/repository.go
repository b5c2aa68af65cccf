package reconciliation

import (
	"context"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal/audit"
	gatewaytypes "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/paymentgateway"
	reconmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/reconciliation"
)

type Filter struct {
	TenantID string
	Status   reconmodel.Status
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

type Store interface {
	audit.Writer

	// CreatePending inserts rec as pending. Unless force is set it fails with
	// internal.ErrAlreadyReconciled when a non-failed record exists for the
	// same key; an in-flight pending run always blocks.
	CreatePending(ctx context.Context, rec *reconmodel.Record, force bool) error
	Complete(ctx context.Context, rec *reconmodel.Record) error
	SaveDiscrepancies(ctx context.Context, reconciliationID int64, discrepancies []reconmodel.Discrepancy) error
	MarkFailed(ctx context.Context, id int64, reason string) error

	List(ctx context.Context, filter Filter) ([]reconmodel.Record, int64, error)
	Get(ctx context.Context, id int64) (*reconmodel.Record, error)
	UpdateStatus(ctx context.Context, id int64, from, to reconmodel.Status, updates StatusUpdate) (bool, error)
}

type StatusUpdate struct {
	DiscrepancyReason *string
	FailureReason     *string
	CompletedAt       *time.Time
}

// LedgerSource reads the internally recorded captured transactions.
type LedgerSource interface {
	CapturedTransactions(ctx context.Context, tenantID string, from, to time.Time) ([]Transaction, error)
}

type GatewayClient interface {
	ListCapturedPayments(ctx context.Context, tenantID string, from, to time.Time) ([]gatewaytypes.Payment, error)
	ListProcessedRefunds(ctx context.Context, tenantID string, from, to time.Time) ([]gatewaytypes.Refund, error)
}
