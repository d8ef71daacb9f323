package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	StoreDriver        string
	DatabaseURL        string
	SQLitePath         string
	RedisURL           string
	CORSAllowedOrigins string

	AuthRequired  bool
	AuthSecret    string
	AuthIssuer    string
	AuthAudience  string
	AuthTokenTTL  time.Duration
	AuthClockSkew time.Duration

	ExcessPolicy        string
	AtomicWrites        bool
	LockTTL             time.Duration
	LockRetry           time.Duration
	LockWait            time.Duration
	InvoiceLinesPerPage int

	IdempotencyTTL    time.Duration
	AnalyticsCacheTTL time.Duration
	RateLimit         string
	BodyLimitBytes    int64
	AuditEnabled      bool

	WorkerConcurrency int
	BalanceAuditCron  string

	LogFormat string
	LogLevel  string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		StoreDriver:        strings.ToLower(valueOrDefault(k.String("STORE_DRIVER"), DriverPostgres)),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		SQLitePath:         valueOrDefault(k.String("SQLITE_PATH"), "klinik.db"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: strings.TrimSpace(k.String("CORS_ALLOWED_ORIGINS")),

		AuthRequired:  parseBool(k.String("AUTH_REQUIRED"), true),
		AuthSecret:    strings.TrimSpace(k.String("AUTH_JWT_SECRET")),
		AuthIssuer:    valueOrDefault(k.String("AUTH_JWT_ISSUER"), "backend-klinik"),
		AuthAudience:  valueOrDefault(k.String("AUTH_JWT_AUDIENCE"), "klinik-frontdesk"),
		AuthTokenTTL:  parseDuration(k.String("AUTH_TOKEN_TTL"), "12h"),
		AuthClockSkew: parseDuration(k.String("AUTH_CLOCK_SKEW"), "30s"),

		ExcessPolicy:        valueOrDefault(k.String("BILLING_EXCESS_POLICY"), "return_change"),
		AtomicWrites:        parseBool(k.String("BILLING_ATOMIC_WRITES"), true),
		LockTTL:             parseDuration(k.String("BILLING_LOCK_TTL"), "10s"),
		LockRetry:           parseDuration(k.String("BILLING_LOCK_RETRY"), "50ms"),
		LockWait:            parseDuration(k.String("BILLING_LOCK_WAIT"), "3s"),
		InvoiceLinesPerPage: parseInt(k.String("INVOICE_LINES_PER_PAGE"), 20),

		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		AnalyticsCacheTTL: parseDuration(k.String("ANALYTICS_CACHE_TTL"), "5m"),
		RateLimit:         valueOrDefault(k.String("RATE_LIMIT"), "120-M"),
		BodyLimitBytes:    int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		AuditEnabled:      parseBool(k.String("AUDIT_ENABLED"), true),

		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),
		BalanceAuditCron:  valueOrDefault(k.String("BALANCE_AUDIT_CRON"), "0 3 * * *"),

		LogFormat: valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:  valueOrDefault(k.String("LOG_LEVEL"), "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing or contradictory settings.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not supported", c.StoreDriver))
	}
	if c.AuthRequired && c.AuthSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required when AUTH_REQUIRED is on"))
	}
	switch c.ExcessPolicy {
	case "return_change", "apply_to_balance":
	default:
		errs = append(errs, fmt.Errorf("BILLING_EXCESS_POLICY %q is not supported", c.ExcessPolicy))
	}
	if c.InvoiceLinesPerPage <= 0 {
		errs = append(errs, errors.New("INVOICE_LINES_PER_PAGE must be positive"))
	}
	return errors.Join(errs...)
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
