package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSignatureHeader   = "X-Razorpay-Signature"
	DefaultMaxBodyBytes      = 1 << 20
	DefaultProcessingTimeout = 25 * time.Second
	MinWebhookSecretLength   = 32
)

type Config struct {
	Server         ServerConfig         `mapstructure:"http_server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Security       SecurityConfig       `mapstructure:"security" validate:"required"`
	Webhook        WebhookConfig        `mapstructure:"webhook"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Archive        ArchiveConfig        `mapstructure:"archive"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type SecurityConfig struct {
	JWTSecret       string `mapstructure:"jwt_secret" validate:"required,min=32"`
	AdminPermission string `mapstructure:"admin_permission"`
	WebhookSecret   string `mapstructure:"webhook_secret" validate:"required,min=32"`
	PreviousSecret  string `mapstructure:"webhook_previous_secret"`
}

type WebhookConfig struct {
	SignatureHeader   string        `mapstructure:"signature_header"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
	RateLimitMax      int           `mapstructure:"rate_limit_max"`
	MaxEventAge       time.Duration `mapstructure:"max_event_age"`
	MaxClockSkew      time.Duration `mapstructure:"max_clock_skew"`
	TrustForwardedFor bool          `mapstructure:"trust_forwarded_for"`
}

type GatewayConfig struct {
	Name      string        `mapstructure:"name"`
	BaseURL   string        `mapstructure:"base_url" validate:"required,url"`
	KeyID     string        `mapstructure:"key_id"`
	KeySecret string        `mapstructure:"key_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
	PageSize  int           `mapstructure:"page_size"`
}

type ReconciliationConfig struct {
	Tenants    []string      `mapstructure:"tenants"`
	Workers    int           `mapstructure:"workers"`
	QueueSize  int           `mapstructure:"queue_size"`
	Interval   time.Duration `mapstructure:"interval"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
	ReportDir  string        `mapstructure:"report_dir"`
}

type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Region  string `mapstructure:"region"`
	Prefix  string `mapstructure:"prefix"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Webhook.SignatureHeader == "" {
		c.Webhook.SignatureHeader = DefaultSignatureHeader
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		c.Webhook.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Webhook.ProcessingTimeout <= 0 {
		c.Webhook.ProcessingTimeout = DefaultProcessingTimeout
	}
	if c.Webhook.RateLimitWindow <= 0 {
		c.Webhook.RateLimitWindow = time.Minute
	}
	if c.Webhook.RateLimitMax <= 0 {
		c.Webhook.RateLimitMax = 100
	}
	if c.Webhook.MaxEventAge <= 0 {
		c.Webhook.MaxEventAge = 5 * time.Minute
	}
	if c.Webhook.MaxClockSkew <= 0 {
		c.Webhook.MaxClockSkew = time.Minute
	}
	if c.Gateway.Name == "" {
		c.Gateway.Name = "razorpay"
	}
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = 15 * time.Second
	}
	if c.Gateway.PageSize <= 0 {
		c.Gateway.PageSize = 100
	}
	if c.Redis.Timeout <= 0 {
		c.Redis.Timeout = 2 * time.Second
	}
	if c.Reconciliation.Workers <= 0 {
		c.Reconciliation.Workers = 2
	}
	if c.Reconciliation.QueueSize <= 0 {
		c.Reconciliation.QueueSize = 16
	}
	if c.Reconciliation.Interval <= 0 {
		c.Reconciliation.Interval = 24 * time.Hour
	}
	if c.Reconciliation.RunTimeout <= 0 {
		c.Reconciliation.RunTimeout = 5 * time.Minute
	}
	if c.Security.AdminPermission == "" {
		c.Security.AdminPermission = "manage_reconciliation"
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
}

// LoadConfigFromEnv builds the configuration from plain environment variables,
// used for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("BASE_URL", ""),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Security: SecurityConfig{
			JWTSecret:      getEnv("JWT_SECRET", ""),
			WebhookSecret:  getEnv("WEBHOOK_SECRET", ""),
			PreviousSecret: getEnv("WEBHOOK_PREVIOUS_SECRET", ""),
		},
		Webhook: WebhookConfig{
			SignatureHeader:   getEnv("WEBHOOK_SIGNATURE_HEADER", DefaultSignatureHeader),
			MaxBodyBytes:      int64(getEnvAsInt("WEBHOOK_MAX_BODY_BYTES", DefaultMaxBodyBytes)),
			ProcessingTimeout: getEnvAsDuration("WEBHOOK_PROCESSING_TIMEOUT", DefaultProcessingTimeout),
			RateLimitWindow:   getEnvAsDuration("WEBHOOK_RATE_LIMIT_WINDOW", time.Minute),
			RateLimitMax:      getEnvAsInt("WEBHOOK_RATE_LIMIT_MAX", 100),
			TrustForwardedFor: getEnvAsBool("WEBHOOK_TRUST_FORWARDED_FOR", false),
		},
		Gateway: GatewayConfig{
			Name:      getEnv("GATEWAY_NAME", "razorpay"),
			BaseURL:   getEnv("GATEWAY_BASE_URL", ""),
			KeyID:     getEnv("GATEWAY_KEY_ID", ""),
			KeySecret: getEnv("GATEWAY_KEY_SECRET", ""),
			Timeout:   getEnvAsDuration("GATEWAY_TIMEOUT", 15*time.Second),
		},
		Reconciliation: ReconciliationConfig{
			Tenants:   getEnvAsList("RECONCILIATION_TENANTS"),
			Workers:   getEnvAsInt("RECONCILIATION_WORKERS", 2),
			ReportDir: getEnv("RECONCILIATION_REPORT_DIR", ""),
		},
		Archive: ArchiveConfig{
			Enabled: getEnvAsBool("ARCHIVE_ENABLED", false),
			Bucket:  getEnv("ARCHIVE_BUCKET", ""),
			Region:  getEnv("AWS_REGION", ""),
			Prefix:  getEnv("ARCHIVE_PREFIX", "reconciliations"),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Redis.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("redis config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Webhook.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("webhook config: %v", err))
	}

	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateway config: %v", err))
	}

	if err := c.Archive.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("archive config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *RedisConfig) Validate() error {
	if c.Enabled && c.Addr == "" {
		return errors.New("addr is required when redis is enabled")
	}
	return nil
}

func (c *SecurityConfig) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt secret must be at least 32 characters")
	}
	if len(c.WebhookSecret) < MinWebhookSecretLength {
		return fmt.Errorf("webhook secret must be at least %d characters", MinWebhookSecretLength)
	}
	if c.PreviousSecret != "" && len(c.PreviousSecret) < MinWebhookSecretLength {
		return fmt.Errorf("previous webhook secret must be at least %d characters", MinWebhookSecretLength)
	}
	return nil
}

func (c *WebhookConfig) Validate() error {
	if c.MaxBodyBytes <= 0 {
		return errors.New("max_body_bytes must be positive")
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("rate limit window and max must be positive")
	}
	return nil
}

func (c *GatewayConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	return nil
}

func (c *ArchiveConfig) Validate() error {
	if c.Enabled && c.Bucket == "" {
		return errors.New("bucket is required when archive is enabled")
	}
	return nil
}
