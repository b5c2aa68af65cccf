package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal/audit"
	paymentmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
)

// Store opens units of work. fn's writes commit together or not at all.
type Store interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
}

// TransactionPatch lists the columns a transition may set. Nil fields are left untouched.
type TransactionPatch struct {
	PaymentOrderID   *int64
	TenantID         *string
	Method           *string
	Fee              *int64
	Tax              *int64
	GatewayPayload   json.RawMessage
	ErrorCode        *string
	ErrorDescription *string
	AuthorizedAt     *time.Time
	CapturedAt       *time.Time
	FailedAt         *time.Time
	RefundedAt       *time.Time
	GatewayCreatedAt *time.Time
}

// TxRepository is the set of operations available inside a unit of work.
// Find methods return (nil, nil) when nothing matches. Transition methods
// apply only when the current status is one of from and report whether they did.
type TxRepository interface {
	audit.Writer

	FindOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*paymentmodel.PaymentOrder, error)
	FindTransactionByGatewayID(ctx context.Context, gatewayTransactionID string) (*paymentmodel.PaymentTransaction, error)
	FindRefundByGatewayID(ctx context.Context, gatewayRefundID string) (*paymentmodel.PaymentRefund, error)
	// ProcessedRefundTotal sums the processed refunds of a transaction.
	ProcessedRefundTotal(ctx context.Context, transactionID int64) (int64, error)

	// CreateTransactionIfAbsent inserts txn unless its gateway reference exists
	// and returns the stored row either way.
	CreateTransactionIfAbsent(ctx context.Context, txn *paymentmodel.PaymentTransaction) (*paymentmodel.PaymentTransaction, bool, error)
	CreateRefundIfAbsent(ctx context.Context, refund *paymentmodel.PaymentRefund) (*paymentmodel.PaymentRefund, bool, error)

	TransitionTransaction(ctx context.Context, id int64, from []paymentmodel.TransactionStatus, to paymentmodel.TransactionStatus, patch TransactionPatch) (bool, error)
	TransitionOrder(ctx context.Context, id int64, from []paymentmodel.OrderStatus, to paymentmodel.OrderStatus) (bool, error)
	TransitionRefund(ctx context.Context, id int64, from []paymentmodel.RefundStatus, to paymentmodel.RefundStatus, processedAt *time.Time) (bool, error)

	// Linked entity updates are secondary; implementations isolate them so a
	// failure does not abort the unit of work.
	UpdateLinkedOrderPayment(ctx context.Context, orderID int64, paymentStatus, status string) error
	UpdateSubscriptionPayment(ctx context.Context, subscriptionID int64, paymentStatus, status string) error
}
