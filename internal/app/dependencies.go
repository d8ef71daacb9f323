// Package app wires the record store, Redis and task queue shared by the
// API server, the worker and the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/backend-klinik/internal/analytics"
	"github.com/noah-isme/backend-klinik/internal/audit"
	"github.com/noah-isme/backend-klinik/internal/billing"
	"github.com/noah-isme/backend-klinik/internal/config"
	"github.com/noah-isme/backend-klinik/internal/db"
	"github.com/noah-isme/backend-klinik/internal/events"
	"github.com/noah-isme/backend-klinik/internal/invoice"
	"github.com/noah-isme/backend-klinik/internal/lock"
	"github.com/noah-isme/backend-klinik/internal/patient"
	"github.com/noah-isme/backend-klinik/internal/ratelimit"
	"github.com/noah-isme/backend-klinik/internal/store/postgres"
	"github.com/noah-isme/backend-klinik/internal/store/sqlite"
)

// Store is everything the services need from a record store driver.
type Store interface {
	billing.Store
	patient.Store
	events.EventStore
	audit.Store
	analytics.Querier
	Ping(ctx context.Context) error
}

// Dependencies enumerates the infrastructure shared across modules.
type Dependencies struct {
	Config       *config.Config
	Log          zerolog.Logger
	Store        Store
	Redis        *redis.Client
	LimiterStore limiter.Store
	TaskClient   *asynq.Client

	closers []func() error
}

// New opens the record store and, when REDIS_URL is set, the Redis client
// and task queue client.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Dependencies, error) {
	d := &Dependencies{Config: cfg, Log: log}

	st, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d.Store = st
	d.closers = append(d.closers, closeStore)

	if cfg.RedisURL != "" {
		rdb, err := NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			_ = d.Close()
			return nil, err
		}
		d.Redis = rdb
		d.closers = append(d.closers, rdb.Close)

		opt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("parse redis uri for tasks: %w", err)
		}
		d.TaskClient = asynq.NewClient(opt)
		d.closers = append(d.closers, d.TaskClient.Close)
	} else {
		log.Warn().Msg("REDIS_URL not set: patient locks, idempotency, analytics cache and balance audit tasks are disabled")
	}

	ls, err := ratelimit.NewStore(d.Redis, "klinik:ratelimit")
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("rate limit store: %w", err)
	}
	d.LimiterStore = ls
	return d, nil
}

// Close releases everything New opened, most recent first.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// OpenStore connects the configured record store driver.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, func() error, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st := postgres.New(pool)
		return st, func() error { st.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// NewRedis connects to Redis with tracing and metrics instrumentation.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(rdb); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("instrument redis metrics: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Bus builds the event bus over the record store.
func (d *Dependencies) Bus(notifiers ...events.Notifier) *events.Bus {
	all := append([]events.Notifier{events.LogNotifier{Log: d.Log}}, notifiers...)
	return &events.Bus{Store: d.Store, Notifiers: all}
}

// Billing builds the reconciliation service from configuration.
func (d *Dependencies) Billing(emitter billing.Emitter) *billing.Service {
	cfg := d.Config
	svc := &billing.Service{
		Store:   d.Store,
		Log:     d.Log.With().Str("component", "billing").Logger(),
		LockTTL: cfg.LockTTL,
		Policy:  billing.ParseExcessPolicy(cfg.ExcessPolicy),
		Atomic:  cfg.AtomicWrites,
		Invoice: invoice.Formatter{LinesPerPage: cfg.InvoiceLinesPerPage},
	}
	if emitter != nil {
		svc.Events = emitter
	}
	if d.Redis != nil {
		svc.Locker = lock.Locker{R: d.Redis, RetryBackoff: cfg.LockRetry, MaxWait: cfg.LockWait}
	}
	return svc
}

// Patients builds the patient registry service.
func (d *Dependencies) Patients() *patient.Service {
	return &patient.Service{Store: d.Store, Log: d.Log.With().Str("component", "patient").Logger()}
}

// Analytics builds the cached analytics service.
func (d *Dependencies) Analytics() *analytics.Service {
	return &analytics.Service{Q: d.Store, R: d.Redis, TTL: d.Config.AnalyticsCacheTTL}
}

// Migrator builds a migrator for the configured driver. SQLite migrators share
// conn and must not be closed; the returned close func is a no-op for them.
func Migrator(cfg *config.Config, st Store) (*migrate.Migrate, func() error, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, ok := st.(*sqlite.Store)
		if !ok {
			return nil, nil, errors.New("sqlite migrator needs a sqlite store")
		}
		m, err := db.NewSQLite(s.DB())
		if err != nil {
			return nil, nil, err
		}
		return m, func() error { return nil }, nil
	default:
		m, err := db.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return m, func() error {
			srcErr, dbErr := m.Close()
			return errors.Join(srcErr, dbErr)
		}, nil
	}
}

// RunMigrations applies or rolls back the schema for the configured driver.
func RunMigrations(cfg *config.Config, st Store, dir db.Direction) error {
	m, closeFn, err := Migrator(cfg, st)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()
	return db.Run(m, dir)
}
