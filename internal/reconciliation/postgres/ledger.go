package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/frahmantamala/payment-reconciliation/internal/reconciliation"
)

// Rows are windowed on the gateway's creation time, the same clock the gateway
// listing filters on. Rows recorded before that column existed fall back to
// captured_at.
const capturedTransactionsQuery = `
SELECT gateway_transaction_id, amount, currency, fee
FROM payment_transactions
WHERE tenant_id = ?
  AND status = 'captured'
  AND COALESCE(gateway_created_at, captured_at) >= ?
  AND COALESCE(gateway_created_at, captured_at) < ?
ORDER BY COALESCE(gateway_created_at, captured_at), id`

type ledgerRow struct {
	Reference string `db:"gateway_transaction_id"`
	Amount    int64  `db:"amount"`
	Currency  string `db:"currency"`
	Fee       int64  `db:"fee"`
}

// LedgerRepository reads captured transactions straight off the payments
// table for a reconciliation window.
type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) CapturedTransactions(ctx context.Context, tenantID string, from, to time.Time) ([]reconciliation.Transaction, error) {
	var rows []ledgerRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(capturedTransactionsQuery), tenantID, from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("captured transactions query: %w", err)
	}

	out := make([]reconciliation.Transaction, len(rows))
	for i, row := range rows {
		out[i] = reconciliation.Transaction{
			Reference: row.Reference,
			Amount:    row.Amount,
			Currency:  strings.ToUpper(row.Currency),
			Fee:       row.Fee,
		}
	}
	return out, nil
}
