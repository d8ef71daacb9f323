package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noah-isme/backend-klinik/internal/analytics"
	"github.com/noah-isme/backend-klinik/internal/app"
	"github.com/noah-isme/backend-klinik/internal/audit"
	"github.com/noah-isme/backend-klinik/internal/auth"
	"github.com/noah-isme/backend-klinik/internal/common"
	"github.com/noah-isme/backend-klinik/internal/config"
	"github.com/noah-isme/backend-klinik/internal/events"
	"github.com/noah-isme/backend-klinik/internal/health"
	"github.com/noah-isme/backend-klinik/internal/obs"
	"github.com/noah-isme/backend-klinik/internal/ratelimit"
	"github.com/noah-isme/backend-klinik/internal/resilience"
	"github.com/noah-isme/backend-klinik/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("component", "api").Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "klinik")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "klinik-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.New(startCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	analyticsSvc := deps.Analytics()
	notifiers := []events.Notifier{analytics.CacheNotifier{Service: analyticsSvc}}
	if deps.TaskClient != nil {
		if err := resilience.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			logger.Error().Err(err).Msg("register breaker metrics")
		}
		notifiers = append(notifiers, tasks.Notifier{
			Client:  deps.TaskClient,
			Unique:  time.Minute,
			Breaker: &resilience.Breaker{Target: "tasks", Threshold: 5, Cooldown: 30 * time.Second, Log: logger},
		})
	}
	billingSvc := deps.Billing(deps.Bus(notifiers...))

	var tokens *auth.Tokens
	if cfg.AuthRequired {
		tokens, err = auth.NewTokens(auth.Config{
			Secret:    cfg.AuthSecret,
			Issuer:    cfg.AuthIssuer,
			Audience:  cfg.AuthAudience,
			ClockSkew: cfg.AuthClockSkew,
			TTL:       cfg.AuthTokenTTL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise operator tokens")
		}
	} else {
		logger.Warn().Msg("AUTH_REQUIRED is off: API is open to unauthenticated callers")
	}

	var limiter ratelimit.Limiter
	if window, err := ratelimit.New(deps.LimiterStore, cfg.RateLimit); err != nil {
		logger.Error().Err(err).Str("rate", cfg.RateLimit).Msg("rate limit disabled")
	} else {
		limiter = window
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	var pprofHandler http.Handler
	if envBool("OBS_ENABLE_PPROF", !cfg.IsProduction()) {
		pprofHandler = protectPprof(newPprofMux(), envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", ""), envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", ""))
	}

	probes := []health.Probe{{
		Name:    "store",
		Timeout: envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		Check:   deps.Store.Ping,
	}}
	if deps.Redis != nil {
		probes = append(probes, health.Probe{
			Name:    "redis",
			Timeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
			Check:   func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() },
		})
	}

	handler := newRouter(routerConfig{
		Logger:      logger,
		CORSOrigins: cfg.CORSAllowedOrigins,
		BodyLimit:   cfg.BodyLimitBytes,
		HSTS:        cfg.IsProduction(),
		Metrics:     httpMetrics,
		Tracing:     tracingEnabled,
		Pprof:       pprofHandler,
		Health:      health.Handler{Probes: probes},
		Tokens:      tokens,
		Limiter:     limiter,
		Idem:        common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL},
		Audit:       &audit.Service{Store: deps.Store, Enabled: cfg.AuditEnabled},
		Patients:    deps.Patients(),
		Billing:     billingSvc,
		Analytics:   analyticsSvc,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
		return
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("server draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}
