package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal"
	reconmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/reconciliation"
)

var (
	ErrQueueFull        = errors.New("reconciliation queue is full")
	ErrSchedulerStopped = errors.New("reconciliation scheduler stopped")
)

type Job struct {
	TenantID    string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Runner is the part of the engine the scheduler drives.
type Runner interface {
	Run(ctx context.Context, req Request) (*reconmodel.Record, error)
}

type Worker struct {
	ID         int
	WorkerPool chan chan Job
	JobChannel chan Job
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Job, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Job),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(context.Context, Job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing job", "worker_id", w.ID, "tenant_id", job.TenantID)
				processFunc(ctx, job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type SchedulerConfig struct {
	Tenants    []string
	Workers    int
	QueueSize  int
	Interval   time.Duration
	RunTimeout time.Duration
}

// Scheduler enqueues automated runs of the previous UTC day for every
// configured tenant and executes them on a fixed worker pool.
type Scheduler struct {
	runner     Runner
	tenants    []string
	interval   time.Duration
	runTimeout time.Duration
	now        func() time.Time
	logger     *slog.Logger

	jobQueue   chan Job
	workerPool chan chan Job
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
	stopOnce   sync.Once
}

type SchedulerOption func(*Scheduler)

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

func NewScheduler(runner Runner, config SchedulerConfig, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := config.Workers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}

	runTimeout := config.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}

	s := &Scheduler{
		runner:     runner,
		tenants:    config.Tenants,
		interval:   config.Interval,
		runTimeout: runTimeout,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,

		maxWorkers: maxWorkers,
		jobQueue:   make(chan Job, queueSize),
		workerPool: make(chan chan Job, maxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the workers, the dispatcher and, when an interval is
// configured, the ticker that enqueues the previous day. It is idempotent.
func (s *Scheduler) Start() {
	s.once.Do(func() {
		for i := 0; i < s.maxWorkers; i++ {
			worker := NewWorker(i, s.workerPool, s.logger)
			worker.Start(s.ctx, &s.wg, s.RunJob)
		}

		s.wg.Add(1)
		go s.dispatch()

		if s.interval > 0 {
			s.wg.Add(1)
			go s.tick()
		}

		s.logger.Info("reconciliation scheduler started",
			"max_workers", s.maxWorkers,
			"queue_size", cap(s.jobQueue),
			"tenants", len(s.tenants),
			"interval", s.interval)
	})
}

func (s *Scheduler) dispatch() {
	defer s.wg.Done()

	for {
		select {
		case job := <-s.jobQueue:
			select {
			case jobChannel := <-s.workerPool:
				select {
				case jobChannel <- job:
				case <-s.ctx.Done():
					s.logger.Info("dispatcher shutting down")
					return
				}
			case <-s.ctx.Done():
				s.logger.Info("dispatcher shutting down")
				return
			}
		case <-s.ctx.Done():
			s.logger.Info("dispatcher shutting down")
			return
		}
	}
}

func (s *Scheduler) tick() {
	defer s.wg.Done()

	s.EnqueuePreviousDay()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.EnqueuePreviousDay()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) Enqueue(job Job) error {
	if s.ctx.Err() != nil {
		return ErrSchedulerStopped
	}
	select {
	case s.jobQueue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// EnqueuePreviousDay queues one job per tenant and returns how many were
// accepted. Periods already reconciled are skipped by the engine.
func (s *Scheduler) EnqueuePreviousDay() int {
	queued := 0
	for _, job := range s.PreviousDayJobs() {
		if err := s.Enqueue(job); err != nil {
			s.logger.Warn("failed to enqueue reconciliation",
				"tenant_id", job.TenantID,
				"period_start", job.PeriodStart,
				"error", err)
			continue
		}
		queued++
	}
	return queued
}

// PreviousDayJobs returns one job per configured tenant for the previous UTC day.
func (s *Scheduler) PreviousDayJobs() []Job {
	start, end := PreviousUTCDay(s.now())
	jobs := make([]Job, 0, len(s.tenants))
	for _, tenant := range s.tenants {
		jobs = append(jobs, Job{TenantID: tenant, PeriodStart: start, PeriodEnd: end})
	}
	return jobs
}

// RunJob runs one automated reconciliation. Periods that already have a run
// are skipped; failures are logged since there is no caller to report to.
func (s *Scheduler) RunJob(ctx context.Context, job Job) {
	runCtx, cancel := internal.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	rec, err := s.runner.Run(runCtx, Request{
		TenantID:    job.TenantID,
		PeriodStart: job.PeriodStart,
		PeriodEnd:   job.PeriodEnd,
		Type:        reconmodel.TypeAutomated,
		InitiatedBy: internal.SystemSchedulerActor,
	})
	if errors.Is(err, internal.ErrAlreadyReconciled) {
		s.logger.Info("period already reconciled, skipping",
			"tenant_id", job.TenantID,
			"period_start", job.PeriodStart)
		return
	}
	if err != nil {
		s.logger.Error("scheduled reconciliation failed",
			"tenant_id", job.TenantID,
			"period_start", job.PeriodStart,
			"error", err)
		return
	}

	s.logger.Info("scheduled reconciliation finished",
		"tenant_id", job.TenantID,
		"reconciliation_id", rec.ID,
		"status", rec.Status)
}

func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		s.logger.Info("shutting down reconciliation scheduler")
		s.cancel()
		s.wg.Wait()
		s.logger.Info("reconciliation scheduler shutdown complete")
	})
}

// PreviousUTCDay returns [yesterday 00:00, today 00:00) in UTC.
func PreviousUTCDay(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return end.AddDate(0, 0, -1), end
}
