package datamodel

import (
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/audit"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/reconciliation"
)

// All lists every persisted model. Production schema comes from the SQL
// migrations; this list drives AutoMigrate for throwaway databases.
func All() []interface{} {
	return []interface{}{
		&payment.PaymentOrder{},
		&payment.PaymentTransaction{},
		&payment.PaymentRefund{},
		&payment.LinkedOrder{},
		&payment.Subscription{},
		&reconciliation.Record{},
		&reconciliation.Discrepancy{},
		&audit.Entry{},
	}
}
