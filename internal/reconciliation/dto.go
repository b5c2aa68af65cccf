package reconciliation

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/core/common/validation"
	reconmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/reconciliation"
)

// zeroDecimalCurrencies have no minor unit.
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
	"CLP": true,
}

// ToMajor converts an amount in minor units to major units for display.
func ToMajor(minor int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return decimal.NewFromInt(minor)
	}
	return decimal.New(minor, -2)
}

type Money struct {
	Minor int64  `json:"minor"`
	Major string `json:"major"`
}

func NewMoney(minor int64, currency string) Money {
	places := int32(2)
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		places = 0
	}
	return Money{Minor: minor, Major: ToMajor(minor, currency).StringFixed(places)}
}

type RunReconciliationDTO struct {
	TenantID    string    `json:"tenant_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Type        string    `json:"type,omitempty"`
	Gateway     string    `json:"gateway,omitempty"`
	Force       bool      `json:"force"`
}

func (dto RunReconciliationDTO) ToRequest(initiatedBy string) Request {
	return Request{
		TenantID:    strings.TrimSpace(dto.TenantID),
		Gateway:     dto.Gateway,
		PeriodStart: dto.PeriodStart,
		PeriodEnd:   dto.PeriodEnd,
		Type:        reconmodel.Type(dto.Type),
		Force:       dto.Force,
		InitiatedBy: initiatedBy,
	}
}

type UpdateStatusDTO struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (dto UpdateStatusDTO) Validate() *internal.AppError {
	validator := validation.NewValidator()
	validator.Field("status", dto.Status).
		Required().
		OneOf([]string{
			string(reconmodel.StatusReconciled),
			string(reconmodel.StatusDiscrepanciesFound),
			string(reconmodel.StatusFailed),
		}, internal.ErrCodeInvalidStatus)
	validator.Field("reason", dto.Reason).MaxLength(500)
	return validator.Validate()
}

type TotalsResponse struct {
	Payments      Money `json:"payments"`
	Refunds       Money `json:"refunds"`
	Fees          Money `json:"fees"`
	NetSettlement Money `json:"net_settlement"`
	Reconciled    Money `json:"reconciled"`
	Discrepancy   Money `json:"discrepancy"`
}

type DiscrepancyResponse struct {
	Type                  reconmodel.DiscrepancyType `json:"type"`
	InternalTransactionID *string                    `json:"internal_transaction_id,omitempty"`
	GatewayTransactionID  *string                    `json:"gateway_transaction_id,omitempty"`
	Expected              Money                      `json:"expected"`
	Actual                Money                      `json:"actual"`
	Difference            Money                      `json:"difference"`
	Currency              string                     `json:"currency"`
}

type SummaryResponse struct {
	ID                int64                 `json:"id"`
	TenantID          string                `json:"tenant_id"`
	Gateway           string                `json:"gateway"`
	PeriodStart       time.Time             `json:"period_start"`
	PeriodEnd         time.Time             `json:"period_end"`
	Type              reconmodel.Type       `json:"type"`
	Status            reconmodel.Status     `json:"status"`
	Currency          string                `json:"currency,omitempty"`
	MatchedCount      int                   `json:"matched_count"`
	UnmatchedCount    int                   `json:"unmatched_count"`
	Totals            TotalsResponse        `json:"totals"`
	Discrepancies     []DiscrepancyResponse `json:"discrepancies"`
	FailureReason     *string               `json:"failure_reason,omitempty"`
	DiscrepancyReason *string               `json:"discrepancy_reason,omitempty"`
	InitiatedBy       string                `json:"initiated_by"`
	CreatedAt         time.Time             `json:"created_at"`
	CompletedAt       *time.Time            `json:"completed_at,omitempty"`
}

func NewSummaryResponse(rec *reconmodel.Record) SummaryResponse {
	cur := rec.Currency
	resp := SummaryResponse{
		ID:             rec.ID,
		TenantID:       rec.TenantID,
		Gateway:        rec.Gateway,
		PeriodStart:    rec.PeriodStart,
		PeriodEnd:      rec.PeriodEnd,
		Type:           rec.Type,
		Status:         rec.Status,
		Currency:       cur,
		MatchedCount:   rec.MatchedCount,
		UnmatchedCount: rec.DiscrepancyCount,
		Totals: TotalsResponse{
			Payments:      NewMoney(rec.TotalPayments, cur),
			Refunds:       NewMoney(rec.TotalRefunds, cur),
			Fees:          NewMoney(rec.TotalFees, cur),
			NetSettlement: NewMoney(rec.NetSettlement, cur),
			Reconciled:    NewMoney(rec.ReconciledAmount, cur),
			Discrepancy:   NewMoney(rec.DiscrepancyAmount, cur),
		},
		Discrepancies:     make([]DiscrepancyResponse, 0, len(rec.Discrepancies)),
		FailureReason:     rec.FailureReason,
		DiscrepancyReason: rec.DiscrepancyReason,
		InitiatedBy:       rec.InitiatedBy,
		CreatedAt:         rec.CreatedAt,
		CompletedAt:       rec.CompletedAt,
	}

	for _, d := range rec.Discrepancies {
		resp.Discrepancies = append(resp.Discrepancies, DiscrepancyResponse{
			Type:                  d.Type,
			InternalTransactionID: d.InternalTransactionID,
			GatewayTransactionID:  d.GatewayTransactionID,
			Expected:              NewMoney(d.ExpectedAmount, d.Currency),
			Actual:                NewMoney(d.ActualAmount, d.Currency),
			Difference:            NewMoney(d.Difference, d.Currency),
			Currency:              d.Currency,
		})
	}
	return resp
}

type ListResponse struct {
	Reconciliations []SummaryResponse `json:"reconciliations"`
	Total           int64             `json:"total"`
	Limit           int               `json:"limit"`
	Offset          int               `json:"offset"`
}
