// Package report renders reconciliation records as XLSX workbooks.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	reconmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/reconciliation"
	"github.com/frahmantamala/payment-reconciliation/internal/reconciliation"
)

const (
	SummarySheet       = "Summary"
	DiscrepanciesSheet = "Discrepancies"
	ContentType        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var discrepancyHeader = []interface{}{
	"Type", "Internal Transaction", "Gateway Transaction", "Expected", "Actual", "Difference", "Currency",
}

type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (Writer) Write(w io.Writer, rec *reconmodel.Record) error {
	f, err := Build(rec)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Build lays out a summary sheet and one row per discrepancy. Amounts are
// written in major units.
func Build(rec *reconmodel.Record) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(DiscrepanciesSheet); err != nil {
		f.Close()
		return nil, err
	}

	if err := writeSummary(f, rec); err != nil {
		f.Close()
		return nil, fmt.Errorf("summary sheet: %w", err)
	}
	if err := writeDiscrepancies(f, rec); err != nil {
		f.Close()
		return nil, fmt.Errorf("discrepancies sheet: %w", err)
	}
	return f, nil
}

func major(minor int64, currency string) float64 {
	v, _ := reconciliation.ToMajor(minor, currency).Float64()
	return v
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeSummary(f *excelize.File, rec *reconmodel.Record) error {
	cur := rec.Currency
	periodStart, periodEnd := rec.PeriodStart, rec.PeriodEnd
	rows := [][]interface{}{
		{"Reconciliation ID", rec.ID},
		{"Tenant", rec.TenantID},
		{"Gateway", rec.Gateway},
		{"Type", string(rec.Type)},
		{"Status", string(rec.Status)},
		{"Period Start", formatTime(&periodStart)},
		{"Period End", formatTime(&periodEnd)},
		{"Currency", cur},
		{"Matched", rec.MatchedCount},
		{"Discrepancies", rec.DiscrepancyCount},
		{"Total Payments", major(rec.TotalPayments, cur)},
		{"Total Refunds", major(rec.TotalRefunds, cur)},
		{"Total Fees", major(rec.TotalFees, cur)},
		{"Net Settlement", major(rec.NetSettlement, cur)},
		{"Reconciled Amount", major(rec.ReconciledAmount, cur)},
		{"Discrepancy Amount", major(rec.DiscrepancyAmount, cur)},
		{"Initiated By", rec.InitiatedBy},
		{"Completed At", formatTime(rec.CompletedAt)},
	}
	if rec.FailureReason != nil {
		rows = append(rows, []interface{}{"Failure Reason", *rec.FailureReason})
	}
	if rec.DiscrepancyReason != nil {
		rows = append(rows, []interface{}{"Discrepancy Reason", *rec.DiscrepancyReason})
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(SummarySheet, "A", "A", 22)
}

func writeDiscrepancies(f *excelize.File, rec *reconmodel.Record) error {
	if err := f.SetSheetRow(DiscrepanciesSheet, "A1", &discrepancyHeader); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(DiscrepanciesSheet, 1, 1, bold); err != nil {
		return err
	}

	for i, d := range rec.Discrepancies {
		row := []interface{}{
			string(d.Type),
			deref(d.InternalTransactionID),
			deref(d.GatewayTransactionID),
			major(d.ExpectedAmount, d.Currency),
			major(d.ActualAmount, d.Currency),
			major(d.Difference, d.Currency),
			d.Currency,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(DiscrepanciesSheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(DiscrepanciesSheet, "A", "C", 24)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
