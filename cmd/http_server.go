package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/audit"
	"github.com/frahmantamala/payment-reconciliation/internal/auth"
	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
	"github.com/frahmantamala/payment-reconciliation/internal/payment"
	paymentpostgres "github.com/frahmantamala/payment-reconciliation/internal/payment/postgres"
	"github.com/frahmantamala/payment-reconciliation/internal/reconciliation"
	"github.com/frahmantamala/payment-reconciliation/internal/transport"
	"github.com/frahmantamala/payment-reconciliation/internal/transport/rest"
	"github.com/frahmantamala/payment-reconciliation/internal/transport/swagger"
	"github.com/frahmantamala/payment-reconciliation/internal/webhook"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"
	"github.com/frahmantamala/payment-reconciliation/pkg/redis"
)

var (
	openAPIPath   string
	withScheduler bool
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server that receives gateway webhooks and serves the reconciliation API`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config    *internal.Config
	DB        *Databases
	Redis     *redis.Client
	Router    *chi.Mux
	EventBus  *events.EventBus
	Limiter   webhook.RateLimiter
	Scheduler *reconciliation.Scheduler
	Logger    *slog.Logger
	closers   []func()
}

func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		if err := deps.EventBus.Wait(ctx); err != nil {
			deps.Logger.Warn("event handlers still running at shutdown", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("server failed to start", "error", err)
			deps.Close()
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := setup()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	lg := logger.LoggerWrapper()
	ctx := context.Background()

	if _, err := swagger.LoadSpec(ctx, openAPIPath); err != nil {
		return nil, err
	}

	deps := &Dependencies{Config: config, Logger: lg, Router: chi.NewRouter()}

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	deps.DB = db
	deps.closers = append(deps.closers, func() {
		if err := db.Close(); err != nil {
			lg.Error("database close error", "error", err)
		}
	})

	rc, err := initRedis(ctx, config.Redis, lg)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}
	deps.Redis = rc
	if rc != nil {
		deps.closers = append(deps.closers, func() { _ = rc.Close() })
	}

	deps.EventBus = events.NewEventBus(lg)
	auditLogger := audit.NewLogger(lg)

	// payment webhooks
	deps.Limiter = newRateLimiter(config.Webhook, rc, deps)
	verifier := webhook.NewVerifier(webhook.StaticSecrets{config.Security.WebhookSecret, config.Security.PreviousSecret})
	validator := webhook.NewPayloadValidator(config.Webhook.MaxEventAge, config.Webhook.MaxClockSkew, nil)
	processor := payment.NewProcessor(paymentpostgres.NewPaymentRepository(db.Gorm), auditLogger, deps.EventBus, config.Gateway.Name, lg.With("component", "payment"))
	payment.NewReceiptNotifier(payment.NewLogReceiptSender(lg), lg).RegisterEventHandlers(deps.EventBus)

	webhookHandler := webhook.NewHandler(transport.NewBaseHandler(lg), deps.Limiter, verifier, validator, processor, webhook.Options{
		SignatureHeader:   config.Webhook.SignatureHeader,
		MaxBodyBytes:      config.Webhook.MaxBodyBytes,
		ProcessingTimeout: config.Webhook.ProcessingTimeout,
		TrustForwardedFor: config.Webhook.TrustForwardedFor,
	}, lg.With("component", "webhook"))

	// reconciliation
	recon := newReconciliation(config, db, deps.EventBus, auditLogger, lg)
	if err := registerArchive(ctx, config.Archive, recon.Store, deps.EventBus, lg); err != nil {
		deps.Close()
		return nil, err
	}
	if withScheduler && len(config.Reconciliation.Tenants) > 0 {
		deps.Scheduler = newScheduler(config.Reconciliation, recon.Engine, lg)
		deps.Scheduler.Start()
		deps.closers = append(deps.closers, deps.Scheduler.Shutdown)
	}

	var redisCheck rest.Checker
	if rc != nil {
		redisCheck = rc
	}
	health := rest.NewHealthHandler(map[string]rest.Checker{
		"postgres": rest.CheckFunc(db.SQL.PingContext),
		"redis":    redisCheck,
	})

	rest.RegisterAllRoutes(deps.Router, rest.Routes{
		Health:          health,
		Webhook:         webhookHandler,
		Reconciliation:  reconciliation.NewHandler(recon.Service, recon.Reports, lg),
		Auth:            auth.NewMiddleware(auth.NewJWTTokenGenerator(config.Security.JWTSecret), lg),
		AdminPermission: config.Security.AdminPermission,
		AllowedOrigins:  config.Server.AllowedOrigins,
		OpenAPIPath:     openAPIPath,
	}, lg)

	return deps, nil
}

// newRateLimiter shares counters through redis when it is configured and
// otherwise keeps them in process.
func newRateLimiter(cfg internal.WebhookConfig, rc *redis.Client, deps *Dependencies) webhook.RateLimiter {
	if rc != nil {
		deps.Logger.Info("webhook rate limiter backed by redis", "limit", cfg.RateLimitMax, "window", cfg.RateLimitWindow)
		return webhook.NewRedisRateLimiter(rc.Client, cfg.RateLimitMax, cfg.RateLimitWindow, "webhook:ratelimit:")
	}

	limiter := webhook.NewMemoryRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
	limiter.StartCleanup(cfg.RateLimitWindow)
	deps.closers = append(deps.closers, limiter.Stop)
	deps.Logger.Info("webhook rate limiter kept in memory", "limit", cfg.RateLimitMax, "window", cfg.RateLimitWindow)
	return limiter
}

func init() {
	httpServerCmd.Flags().StringVar(&openAPIPath, "openapi", "./api/openapi.yml", "path to the OpenAPI document")
	httpServerCmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "also run the automated reconciliation scheduler in this process")
}
