package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-klinik/internal/analytics"
	"github.com/noah-isme/backend-klinik/internal/audit"
	"github.com/noah-isme/backend-klinik/internal/auth"
	"github.com/noah-isme/backend-klinik/internal/billing"
	"github.com/noah-isme/backend-klinik/internal/common"
	"github.com/noah-isme/backend-klinik/internal/health"
	"github.com/noah-isme/backend-klinik/internal/obs"
	"github.com/noah-isme/backend-klinik/internal/patient"
	"github.com/noah-isme/backend-klinik/internal/ratelimit"
	"github.com/noah-isme/backend-klinik/internal/security"
)

type routerConfig struct {
	Logger      zerolog.Logger
	CORSOrigins string
	BodyLimit   int64
	HSTS        bool

	Metrics *obs.HTTPMetrics
	Tracing bool
	Pprof   http.Handler

	Health health.Handler
	// Tokens is nil when operator authentication is switched off.
	Tokens  *auth.Tokens
	Limiter ratelimit.Limiter
	Idem    common.Idem
	Audit   *audit.Service

	Patients  *patient.Service
	Billing   *billing.Service
	Analytics *analytics.Service
}

func newRouter(cfg routerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: cfg.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: cfg.Logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.HSTS}.Middleware)
	r.Use(security.CORS(cfg.CORSOrigins))

	if cfg.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Pprof != nil {
		r.Mount("/debug/pprof", cfg.Pprof)
	}
	r.Get("/health/live", cfg.Health.Live)
	r.Get("/health/ready", cfg.Health.Ready)

	recorder := audit.HTTPRecorder{
		Service: cfg.Audit,
		OnError: func(err error) { cfg.Logger.Warn().Err(err).Msg("audit_record_failed") },
	}
	patientAudit := recorder.Middleware(audit.HTTPConfig{ResourceType: "patient", ResourceIDParam: "patientID"})
	write := func(next http.Handler) http.Handler {
		return cfg.Idem.Middleware(patientAudit(next))
	}

	authn, admin := passThrough, passThrough
	if cfg.Tokens != nil {
		authn = auth.Middleware{Tokens: cfg.Tokens}.RequireAuth
		admin = auth.RequireRole(auth.RoleAdmin)
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.BodyLimit}.Middleware)
		v.Use(authn)
		v.Use(ratelimit.Handler{
			Limiter: cfg.Limiter,
			Key:     ratelimit.ByActorOrIP,
			OnError: func(err error) { cfg.Logger.Warn().Err(err).Msg("rate_limit_store_error") },
		}.Middleware)

		patients := &patient.Handler{Service: cfg.Patients}
		v.Get("/patients", patients.List)
		v.With(write).Post("/patients", patients.Create)
		v.Get("/patients/{patientID}", patients.Get)

		bills := &billing.Handler{Service: cfg.Billing, Write: write, Admin: admin}
		bills.Routes(v)

		v.Group(func(a chi.Router) {
			a.Use(admin)
			(&analytics.Handler{Svc: cfg.Analytics}).Routes(a)
			a.Get("/audit", audit.Handler{Store: auditStore(cfg.Audit)}.List)
		})
	})
	return r
}

func passThrough(next http.Handler) http.Handler { return next }

func auditStore(svc *audit.Service) audit.Store {
	if svc == nil {
		return nil
	}
	return svc.Store
}
