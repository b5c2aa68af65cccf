package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/audit"
	reconmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/reconciliation"
	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
	"github.com/frahmantamala/payment-reconciliation/internal/reconciliation"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "One-off reconciliation commands",
}

var reconcileRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile one tenant and period now",
	RunE:  runReconcile,
}

var reconcileExportCmd = &cobra.Command{
	Use:   "export [reconciliation-id]",
	Short: "Write a reconciliation report as XLSX",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var (
	reconcileTenant string
	reconcileFrom   string
	reconcileTo     string
	reconcileType   string
	reconcileForce  bool
	reconcileActor  string
	exportOut       string
)

func runReconcile(cmd *cobra.Command, _ []string) error {
	config, err := setup()
	if err != nil {
		return err
	}
	lg := logger.LoggerWrapper()

	from, to, err := parsePeriod(reconcileFrom, reconcileTo)
	if err != nil {
		return err
	}

	db, err := initDB(config.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	bus := events.NewEventBus(lg)
	recon := newReconciliation(config, db, bus, audit.NewLogger(lg), lg)
	if err := registerArchive(cmd.Context(), config.Archive, recon.Store, bus, lg); err != nil {
		return err
	}

	ctx, cancel := internal.WithTimeout(cmd.Context(), config.Reconciliation.RunTimeout)
	defer cancel()

	rec, err := recon.Service.Run(ctx, reconciliation.Request{
		TenantID:    reconcileTenant,
		PeriodStart: from,
		PeriodEnd:   to,
		Type:        reconmodel.Type(reconcileType),
		Force:       reconcileForce,
		InitiatedBy: reconcileActor,
	})
	if err != nil {
		return err
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	_ = bus.Wait(waitCtx)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(reconciliation.NewSummaryResponse(rec))
}

// parsePeriod accepts RFC3339 timestamps or plain dates; a plain "to" date is
// inclusive, so it is moved to the start of the next day.
func parsePeriod(from, to string) (time.Time, time.Time, error) {
	start, _, err := parseDateOrTime(from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
	}
	end, dateOnly, err := parseDateOrTime(to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
	}
	if dateOnly {
		end = end.AddDate(0, 0, 1)
	}
	return start, end, nil
}

func parseDateOrTime(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t.UTC(), true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	return t, false, err
}

func runExport(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid reconciliation id %q", args[0])
	}

	config, err := setup()
	if err != nil {
		return err
	}
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	recon := newReconciliation(config, db, events.NewEventBus(lg), audit.NewLogger(lg), lg)
	rec, err := recon.Service.Get(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := exportOut
	if out == "" {
		out = filepath.Join(config.Reconciliation.ReportDir, fmt.Sprintf("reconciliation-%d.xlsx", rec.ID))
	}
	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()

	if err := recon.Reports.Write(f, rec); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	lg.Info("reconciliation report written", "reconciliation_id", rec.ID, "path", out)
	return nil
}

func init() {
	reconcileRunCmd.Flags().StringVar(&reconcileTenant, "tenant", "", "tenant id")
	reconcileRunCmd.Flags().StringVar(&reconcileFrom, "from", "", "period start (YYYY-MM-DD or RFC3339)")
	reconcileRunCmd.Flags().StringVar(&reconcileTo, "to", "", "period end (YYYY-MM-DD inclusive, or RFC3339 exclusive)")
	reconcileRunCmd.Flags().StringVar(&reconcileType, "type", string(reconmodel.TypeManual), "automated, manual or settlement")
	reconcileRunCmd.Flags().BoolVar(&reconcileForce, "force", false, "run even if the period is already reconciled")
	reconcileRunCmd.Flags().StringVar(&reconcileActor, "actor", "cli", "actor recorded in the audit log")
	_ = reconcileRunCmd.MarkFlagRequired("tenant")
	_ = reconcileRunCmd.MarkFlagRequired("from")
	_ = reconcileRunCmd.MarkFlagRequired("to")

	reconcileExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (defaults to reconciliation.report_dir)")

	reconcileCmd.AddCommand(reconcileRunCmd)
	reconcileCmd.AddCommand(reconcileExportCmd)

	rootCmd.AddCommand(reconcileCmd)
}
