package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/audit"
	reconmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/reconciliation"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// allowedTransitions lists the manual status changes an operator may make.
var allowedTransitions = map[reconmodel.Status][]reconmodel.Status{
	reconmodel.StatusDiscrepanciesFound: {reconmodel.StatusReconciled},
	reconmodel.StatusReconciled:         {reconmodel.StatusDiscrepanciesFound},
	reconmodel.StatusPending:            {reconmodel.StatusFailed},
}

func CanTransition(from, to reconmodel.Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Service struct {
	engine *Engine
	store  Store
	audit  *audit.Logger
	now    func() time.Time
	logger *slog.Logger
}

func NewService(engine *Engine, store Store, auditLogger *audit.Logger, logger *slog.Logger) *Service {
	return &Service{
		engine: engine,
		store:  store,
		audit:  auditLogger,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

func (s *Service) Run(ctx context.Context, req Request) (*reconmodel.Record, error) {
	return s.engine.Run(ctx, req)
}

func (s *Service) List(ctx context.Context, filter Filter) ([]reconmodel.Record, int64, error) {
	if filter.Limit <= 0 || filter.Limit > MaxListLimit {
		filter.Limit = DefaultListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	records, total, err := s.store.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list reconciliations", "error", err, "tenant_id", filter.TenantID)
		return nil, 0, err
	}
	return records, total, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*reconmodel.Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, internal.ErrReconciliationNotFound) {
			s.logger.Error("failed to get reconciliation", "error", err, "reconciliation_id", id)
		}
		return nil, err
	}
	return rec, nil
}

// UpdateStatus applies a manual transition. Resolving discrepancies requires
// a reason, which is kept on the record and in the audit trail.
func (s *Service) UpdateStatus(ctx context.Context, id int64, dto UpdateStatusDTO) (*reconmodel.Record, error) {
	if appErr := dto.Validate(); appErr != nil {
		return nil, appErr
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	to := reconmodel.Status(dto.Status)
	if !CanTransition(rec.Status, to) {
		s.logger.Warn("reconciliation status transition rejected",
			"reconciliation_id", id,
			"from", rec.Status,
			"to", to)
		return nil, internal.ErrInvalidTransition
	}

	reason := strings.TrimSpace(dto.Reason)
	if rec.Status == reconmodel.StatusDiscrepanciesFound && to == reconmodel.StatusReconciled && reason == "" {
		return nil, internal.NewValidationFieldError("reason", "reason is required to resolve discrepancies", internal.ErrCodeValidationFailed)
	}

	var update StatusUpdate
	switch to {
	case reconmodel.StatusFailed:
		if reason == "" {
			reason = "aborted by operator"
		}
		now := s.now()
		update.FailureReason = &reason
		update.CompletedAt = &now
	default:
		if reason != "" {
			update.DiscrepancyReason = &reason
		}
	}

	applied, err := s.store.UpdateStatus(ctx, id, rec.Status, to, update)
	if err != nil {
		s.logger.Error("failed to update reconciliation status", "error", err, "reconciliation_id", id)
		return nil, err
	}
	if !applied {
		return nil, internal.NewConflictError("reconciliation status changed concurrently", internal.ErrCodeInvalidTransition)
	}

	actor := internal.ActorFromContext(ctx, "unknown")
	extra := map[string]interface{}{}
	if reason != "" {
		extra["reason"] = reason
	}
	_ = s.audit.Record(ctx, s.store, audit.StatusChange(audit.EntityReconciliation, strconv.FormatInt(id, 10), actor, rec.Status, to, extra))

	s.logger.Info("reconciliation status updated",
		"reconciliation_id", id,
		"from", rec.Status,
		"to", to,
		"actor", actor)

	return s.store.Get(ctx, id)
}
