package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	auditmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/audit"
)

const (
	EntityPaymentOrder       = "payment_order"
	EntityPaymentTransaction = "payment_transaction"
	EntityPaymentRefund      = "payment_refund"
	EntityReconciliation     = "reconciliation"
)

const (
	ActionCreated       = "created"
	ActionStatusChanged = "status_changed"
	ActionUpdated       = "updated"
)

// Writer persists a single entry. Implementations must not let a failed write
// poison an enclosing transaction.
type Writer interface {
	WriteAudit(ctx context.Context, entry *auditmodel.Entry) error
}

type Change struct {
	EntityType string
	EntityID   string
	Action     string
	Actor      string
	Changes    map[string]interface{}
}

// StatusChange is the common shape for transitions.
func StatusChange(entityType, entityID, actor string, from, to interface{}, extra map[string]interface{}) Change {
	changes := map[string]interface{}{"from": from, "to": to}
	for k, v := range extra {
		changes[k] = v
	}
	return Change{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     ActionStatusChanged,
		Actor:      actor,
		Changes:    changes,
	}
}

type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

// Record writes the change through w. Errors are logged and returned so the
// caller can note them, but they never abort the caller's work.
func (l *Logger) Record(ctx context.Context, w Writer, c Change) error {
	payload, err := json.Marshal(c.Changes)
	if err != nil {
		l.logger.Warn("audit payload not serializable",
			"entity_type", c.EntityType,
			"entity_id", c.EntityID,
			"error", err)
		payload = []byte("{}")
	}

	entry := &auditmodel.Entry{
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Action:     c.Action,
		Changes:    payload,
		Actor:      c.Actor,
	}

	if err := w.WriteAudit(ctx, entry); err != nil {
		l.logger.Warn("audit write failed",
			"entity_type", c.EntityType,
			"entity_id", c.EntityID,
			"action", c.Action,
			"error", err)
		return fmt.Errorf("audit %s %s: %w", c.EntityType, c.Action, err)
	}
	return nil
}
