package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/audit"
	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
	"github.com/frahmantamala/payment-reconciliation/internal/reconciliation"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start and manage background worker pools, such as scheduled reconciliation.`,
}

var reconciliationWorkerCmd = &cobra.Command{
	Use:   "reconciliation",
	Short: "Start the scheduled reconciliation worker pool",
	Long:  `Reconcile the previous UTC day for every configured tenant on a fixed interval`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconciliationWorker()
	},
}

var (
	maxWorkers   int
	jobQueueSize int
	runOnce      bool
)

func newScheduler(cfg internal.ReconciliationConfig, runner reconciliation.Runner, lg *slog.Logger) *reconciliation.Scheduler {
	return reconciliation.NewScheduler(runner, reconciliation.SchedulerConfig{
		Tenants:    cfg.Tenants,
		Workers:    getIntFlag(maxWorkers, cfg.Workers),
		QueueSize:  getIntFlag(jobQueueSize, cfg.QueueSize),
		Interval:   cfg.Interval,
		RunTimeout: cfg.RunTimeout,
	}, lg.With("component", "scheduler"))
}

func startReconciliationWorker() {
	config, err := setup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	lg := logger.LoggerWrapper()

	if len(config.Reconciliation.Tenants) == 0 {
		lg.Error("no tenants configured for scheduled reconciliation")
		os.Exit(1)
	}

	db, err := initDB(config.Database)
	if err != nil {
		lg.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	bus := events.NewEventBus(lg)
	recon := newReconciliation(config, db, bus, audit.NewLogger(lg), lg)
	if err := registerArchive(context.Background(), config.Archive, recon.Store, bus, lg); err != nil {
		lg.Error("failed to initialize archive", "error", err)
		os.Exit(1)
	}

	scheduler := newScheduler(config.Reconciliation, recon.Engine, lg)

	if runOnce {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		for _, job := range scheduler.PreviousDayJobs() {
			scheduler.RunJob(ctx, job)
		}
		waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = bus.Wait(waitCtx)
		return
	}

	lg.Info("starting reconciliation worker",
		"tenants", config.Reconciliation.Tenants,
		"interval", config.Reconciliation.Interval)
	scheduler.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	lg.Info("reconciliation worker is running. Press Ctrl+C to stop.")
	sig := <-sigChan
	lg.Info("received signal, shutting down reconciliation worker", "signal", sig)

	shutdownDone := make(chan struct{})
	go func() {
		scheduler.Shutdown()
		close(shutdownDone)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	select {
	case <-shutdownDone:
		lg.Info("reconciliation worker shutdown complete")
	case <-ctx.Done():
		lg.Warn("shutdown timeout reached, forcing exit")
	}
	_ = bus.Wait(ctx)
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	reconciliationWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	reconciliationWorkerCmd.Flags().IntVar(&jobQueueSize, "job-queue-size", 0, "Job queue buffer size (overrides config)")
	reconciliationWorkerCmd.Flags().BoolVar(&runOnce, "once", false, "Reconcile the previous day once and exit")

	workerCmd.AddCommand(reconciliationWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
