package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/downdetector/internal/domain"
	apimw "github.com/hamed0406/downdetector/internal/httpapi/middleware"
	"github.com/hamed0406/downdetector/internal/metrics"
	"github.com/hamed0406/downdetector/internal/monitor"
	"github.com/hamed0406/downdetector/internal/repo"
)

// Checker is satisfied by *monitor.Engine.
type Checker interface {
	Targets() []domain.TargetDefinition
	Target(id domain.TargetID) (domain.TargetDefinition, bool)
	CheckOne(ctx context.Context, req monitor.CheckRequest) (monitor.CheckResult, error)
	CheckBatch(ctx context.Context, reqs []monitor.CheckRequest) ([]monitor.CheckResult, error)
}

type Store interface {
	repo.SnapshotStore
	repo.HistoryStore
}

type Server struct {
	Logger  *zap.Logger
	Checker Checker
	Store   Store
	Metrics *metrics.Metrics
	// RunCycle runs one check cycle on demand; nil disables POST /api/cycle.
	RunCycle func(ctx context.Context) error
	// Stream serves GET /ws; nil disables it.
	Stream http.Handler
}

func NewServer(l *zap.Logger, c Checker, st Store, m *metrics.Metrics) *Server {
	return &Server{Logger: l, Checker: c, Store: st, Metrics: m}
}

func (s *Server) Router(keys apimw.Keys, allowedOrigins []string, publicRPM, publicBurst, adminRPM, adminBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)
	if len(allowedOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})
	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())

	if s.Stream != nil {
		r.With(apimw.RateLimit(publicRPM, publicBurst)).Method(http.MethodGet, "/ws", s.Stream)
	}

	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(publicRPM, publicBurst))
		r.Use(apimw.RequireAny(keys))

		r.Get("/api/targets", s.handleListTargets)
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/status/{targetID}", s.handleTargetStatus)
		r.Get("/api/status/{targetID}/history", s.handleHistory)
		r.Post("/api/check", s.handleCheck)
		r.Post("/api/check/batch", s.handleCheckBatch)
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(adminRPM, adminBurst))
		r.Use(apimw.RequireAdmin(keys))

		r.Post("/api/cycle", s.handleRunCycle)
	})

	return r
}

// instrument records request counts and latency by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.Metrics.HTTPRequest(r.Method, route, status, time.Since(start))
	})
}
