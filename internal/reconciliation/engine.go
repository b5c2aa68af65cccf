package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/audit"
	"github.com/frahmantamala/payment-reconciliation/internal/core/common/validation"
	reconmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/reconciliation"
	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
)

// MaxPeriod bounds a single run.
const MaxPeriod = 31 * 24 * time.Hour

const markFailedTimeout = 5 * time.Second

type Request struct {
	TenantID    string
	Gateway     string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Type        reconmodel.Type
	Force       bool
	InitiatedBy string
}

type Engine struct {
	store       Store
	ledger      LedgerSource
	gateway     GatewayClient
	gatewayName string
	audit       *audit.Logger
	publisher   events.Publisher
	now         func() time.Time
	logger      *slog.Logger
}

type EngineOption func(*Engine)

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(store Store, ledger LedgerSource, gateway GatewayClient, gatewayName string, auditLogger *audit.Logger, publisher events.Publisher, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:       store,
		ledger:      ledger,
		gateway:     gateway,
		gatewayName: gatewayName,
		audit:       auditLogger,
		publisher:   publisher,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) validate(req *Request) *internal.AppError {
	if req.Gateway == "" {
		req.Gateway = e.gatewayName
	}
	if req.Type == "" {
		req.Type = reconmodel.TypeManual
	}

	validator := validation.NewValidator()
	validator.Field("tenant_id", req.TenantID).Required().MaxLength(64)
	validator.Field("gateway", req.Gateway).OneOf([]string{e.gatewayName}, internal.ErrCodeValidationFailed)
	validator.Field("type", string(req.Type)).OneOf([]string{
		string(reconmodel.TypeAutomated),
		string(reconmodel.TypeManual),
		string(reconmodel.TypeSettlement),
	}, internal.ErrCodeValidationFailed)
	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return validation.ValidatePeriod(req.PeriodStart, req.PeriodEnd, MaxPeriod)
}

// Run reconciles one tenant and period. The pending record is written before
// any data is fetched; every failure after that point marks it failed.
func (e *Engine) Run(ctx context.Context, req Request) (*reconmodel.Record, error) {
	if appErr := e.validate(&req); appErr != nil {
		return nil, appErr
	}
	if req.InitiatedBy == "" {
		req.InitiatedBy = internal.ActorFromContext(ctx, internal.SystemSchedulerActor)
	}

	rec := &reconmodel.Record{
		TenantID:    req.TenantID,
		Gateway:     req.Gateway,
		PeriodStart: req.PeriodStart.UTC(),
		PeriodEnd:   req.PeriodEnd.UTC(),
		Type:        req.Type,
		Status:      reconmodel.StatusPending,
		InitiatedBy: req.InitiatedBy,
	}
	if err := e.store.CreatePending(ctx, rec, req.Force); err != nil {
		if errors.Is(err, internal.ErrAlreadyReconciled) {
			e.logger.Warn("reconciliation already exists",
				"tenant_id", req.TenantID,
				"period_start", rec.PeriodStart,
				"period_end", rec.PeriodEnd,
				"type", req.Type)
			return nil, err
		}
		return nil, fmt.Errorf("create reconciliation record: %w", err)
	}

	log := e.logger.With("reconciliation_id", rec.ID, "tenant_id", rec.TenantID)
	log.Info("reconciliation started",
		"period_start", rec.PeriodStart,
		"period_end", rec.PeriodEnd,
		"type", rec.Type,
		"initiated_by", rec.InitiatedBy,
		"force", req.Force)

	e.record(ctx, audit.Change{
		EntityType: audit.EntityReconciliation,
		EntityID:   strconv.FormatInt(rec.ID, 10),
		Action:     audit.ActionCreated,
		Actor:      rec.InitiatedBy,
		Changes: map[string]interface{}{
			"status":       rec.Status,
			"period_start": rec.PeriodStart,
			"period_end":   rec.PeriodEnd,
			"type":         rec.Type,
		},
	})

	outcome, refunds, err := e.compare(ctx, rec)
	if err != nil {
		return nil, e.fail(ctx, log, rec, err)
	}

	now := e.now()
	rec.Currency = outcome.currency
	rec.TotalPayments = outcome.ReconciledAmount
	rec.TotalRefunds = refunds
	rec.TotalFees = outcome.MatchedFees
	rec.NetSettlement = rec.TotalPayments - rec.TotalRefunds - rec.TotalFees
	rec.MatchedCount = len(outcome.Matched)
	rec.DiscrepancyCount = len(outcome.Discrepancies)
	rec.ReconciledAmount = outcome.ReconciledAmount
	rec.DiscrepancyAmount = outcome.DiscrepancyAmount
	rec.Status = outcome.Status()
	rec.CompletedAt = &now

	if err := e.store.Complete(ctx, rec); err != nil {
		return nil, e.fail(ctx, log, rec, err)
	}

	if len(outcome.Discrepancies) > 0 {
		if err := e.store.SaveDiscrepancies(ctx, rec.ID, outcome.Discrepancies); err != nil {
			log.Error("failed to persist discrepancies",
				"discrepancy_count", len(outcome.Discrepancies),
				"error", err)
		}
	}
	rec.Discrepancies = outcome.Discrepancies

	e.record(ctx, audit.StatusChange(audit.EntityReconciliation, strconv.FormatInt(rec.ID, 10), rec.InitiatedBy,
		reconmodel.StatusPending, rec.Status, map[string]interface{}{
			"matched_count":      rec.MatchedCount,
			"discrepancy_count":  rec.DiscrepancyCount,
			"discrepancy_amount": rec.DiscrepancyAmount,
		}))

	if err := e.publisher.Publish(ctx, events.NewReconciliationCompletedEvent(
		rec.ID, rec.TenantID, string(rec.Status), rec.DiscrepancyCount, rec.DiscrepancyAmount,
	)); err != nil {
		log.Warn("failed to publish reconciliation completed event", "error", err)
	}

	log.Info("reconciliation completed",
		"status", rec.Status,
		"matched_count", rec.MatchedCount,
		"discrepancy_count", rec.DiscrepancyCount,
		"reconciled_amount", rec.ReconciledAmount,
		"discrepancy_amount", rec.DiscrepancyAmount)

	return rec, nil
}

type comparison struct {
	Outcome
	currency string
}

func (e *Engine) compare(ctx context.Context, rec *reconmodel.Record) (*comparison, int64, error) {
	internalTxns, err := e.ledger.CapturedTransactions(ctx, rec.TenantID, rec.PeriodStart, rec.PeriodEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("load internal transactions: %w", err)
	}

	payments, err := e.gateway.ListCapturedPayments(ctx, rec.TenantID, rec.PeriodStart, rec.PeriodEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("load gateway transactions: %w", err)
	}

	refunds, err := e.gateway.ListProcessedRefunds(ctx, rec.TenantID, rec.PeriodStart, rec.PeriodEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("load gateway refunds: %w", err)
	}

	gatewayTxns := make([]Transaction, len(payments))
	for i, p := range payments {
		gatewayTxns[i] = Transaction{
			Reference: p.ID,
			Amount:    p.Amount,
			Currency:  strings.ToUpper(p.Currency),
			Fee:       p.FeeAmount(),
		}
	}

	var refunded int64
	for _, r := range refunds {
		refunded += r.Amount
	}

	c := &comparison{Outcome: Match(internalTxns, gatewayTxns)}
	c.currency = firstCurrency(internalTxns, gatewayTxns)
	return c, refunded, nil
}

func firstCurrency(sets ...[]Transaction) string {
	for _, set := range sets {
		for _, t := range set {
			if t.Currency != "" {
				return t.Currency
			}
		}
	}
	return ""
}

// fail marks the run failed with a detached context so a cancelled request
// still leaves a terminal record.
func (e *Engine) fail(ctx context.Context, log *slog.Logger, rec *reconmodel.Record, cause error) error {
	log.Error("reconciliation failed", "error", cause)

	markCtx, cancel := internal.WithTimeout(context.WithoutCancel(ctx), markFailedTimeout)
	defer cancel()

	reason := cause.Error()
	if err := e.store.MarkFailed(markCtx, rec.ID, reason); err != nil {
		log.Error("failed to mark reconciliation failed", "error", err)
	} else {
		rec.Status = reconmodel.StatusFailed
		rec.FailureReason = &reason
		e.record(markCtx, audit.StatusChange(audit.EntityReconciliation, strconv.FormatInt(rec.ID, 10), rec.InitiatedBy,
			reconmodel.StatusPending, reconmodel.StatusFailed, map[string]interface{}{"reason": reason}))
	}

	return internal.NewReconciliationFailedError(rec.ID, cause)
}

func (e *Engine) record(ctx context.Context, c audit.Change) {
	_ = e.audit.Record(ctx, e.store, c)
}
