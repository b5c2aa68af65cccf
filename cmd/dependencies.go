package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/audit"
	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
	"github.com/frahmantamala/payment-reconciliation/internal/paymentgateway"
	"github.com/frahmantamala/payment-reconciliation/internal/reconciliation"
	reconpostgres "github.com/frahmantamala/payment-reconciliation/internal/reconciliation/postgres"
	"github.com/frahmantamala/payment-reconciliation/internal/reconciliation/report"
	"github.com/frahmantamala/payment-reconciliation/internal/storage/s3"
	"github.com/frahmantamala/payment-reconciliation/pkg/redis"
)

// Databases holds one pool shared by the sqlx read paths and gorm.
type Databases struct {
	SQL  *sqlx.DB
	Gorm *gorm.DB
}

func (d *Databases) Close() error {
	return d.SQL.Close()
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*Databases, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: dbConn.DB}), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	return &Databases{SQL: dbConn, Gorm: gdb}, nil
}

// initRedis returns nil when redis is disabled.
func initRedis(ctx context.Context, cfg internal.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Timeout:  cfg.Timeout,
	}, logger)
}

// ReconciliationComponents is everything that runs or serves reconciliations.
type ReconciliationComponents struct {
	Store   *reconpostgres.ReconciliationRepository
	Engine  *reconciliation.Engine
	Service *reconciliation.Service
	Reports *report.Writer
}

func newReconciliation(cfg *internal.Config, dbs *Databases, bus *events.EventBus, auditLogger *audit.Logger, logger *slog.Logger) *ReconciliationComponents {
	store := reconpostgres.NewReconciliationRepository(dbs.Gorm)
	ledger := reconpostgres.NewLedgerRepository(dbs.SQL)
	gateway := paymentgateway.NewClient(paymentgateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.KeySecret,
		Timeout:   cfg.Gateway.Timeout,
		PageSize:  cfg.Gateway.PageSize,
	}, logger.With("component", "paymentgateway"))

	engine := reconciliation.NewEngine(store, ledger, gateway, cfg.Gateway.Name, auditLogger, bus, logger.With("component", "reconciliation"))
	return &ReconciliationComponents{
		Store:   store,
		Engine:  engine,
		Service: reconciliation.NewService(engine, store, auditLogger, logger),
		Reports: report.NewWriter(),
	}
}

// registerArchive subscribes the S3 archiver to completed runs when enabled.
func registerArchive(ctx context.Context, cfg internal.ArchiveConfig, records report.RecordGetter, bus *events.EventBus, logger *slog.Logger) error {
	if !cfg.Enabled {
		return nil
	}
	uploader, err := s3.NewArchiver(ctx, s3.Config{Bucket: cfg.Bucket, Region: cfg.Region}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize report archive: %w", err)
	}
	report.NewArchiver(records, uploader, cfg.Prefix, logger).RegisterEventHandlers(bus)
	logger.Info("report archive enabled", "bucket", cfg.Bucket, "prefix", cfg.Prefix)
	return nil
}
