package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hamed0406/downdetector/internal/analyzer"
	"github.com/hamed0406/downdetector/internal/cache"
	"github.com/hamed0406/downdetector/internal/config"
	"github.com/hamed0406/downdetector/internal/httpapi"
	apimw "github.com/hamed0406/downdetector/internal/httpapi/middleware"
	"github.com/hamed0406/downdetector/internal/logging"
	"github.com/hamed0406/downdetector/internal/metrics"
	"github.com/hamed0406/downdetector/internal/monitor"
	"github.com/hamed0406/downdetector/internal/notify"
	"github.com/hamed0406/downdetector/internal/probe"
	"github.com/hamed0406/downdetector/internal/repo"
	"github.com/hamed0406/downdetector/internal/repo/memory"
	"github.com/hamed0406/downdetector/internal/repo/postgres"
	"github.com/hamed0406/downdetector/internal/resolver"
	"github.com/hamed0406/downdetector/internal/scheduler"
	"github.com/hamed0406/downdetector/internal/ws"
)

func main() {
	cfg := config.FromEnv()
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	targets, err := config.LoadTargets(cfg.TargetsFile)
	if err != nil {
		logger.Fatal("targets_load_error", zap.String("file", cfg.TargetsFile), zap.Error(err))
	}
	logger.Info("targets_loaded", zap.Int("count", len(targets)))

	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	exec := probe.NewExecutor(cfg.HTTPTimeout, cfg.MaxRedirects, cfg.MaxBodyBytes)
	exec.DNS = probe.NewDNSClassifier()
	res := resolver.New(cfg.ContextWindow, probe.NewFunctionalChecker(cfg.HTTPTimeout))

	writer := cache.NewWriter(store, cache.NewRateLimiterState(), cache.Options{
		MaxWritesPerHour: cfg.MaxWritesPerHour,
		MinBatchSpacing:  cfg.MinBatchSpacing,
		StaleAfter:       cfg.StaleAfter,
		LatencyChangePct: cfg.LatencyChangePct,
	}, logger, m)
	if err := writer.Rehydrate(ctx); err != nil {
		logger.Warn("rate_limiter_rehydrate_error", zap.Error(err))
	}

	engine := monitor.NewEngine(monitor.Deps{
		Targets:  targets,
		Prober:   exec,
		Content:  analyzer.NewRegistry(targets),
		Resolver: res,
		Writer:   writer,
		Store:    store,
		Logger:   logger,
		Metrics:  m,
	}, monitor.Options{
		TripleCheckDelay: cfg.TripleCheckDelay,
		MaxConcurrent:    cfg.MaxConcurrent,
	})

	notifiers := notify.Multi{notify.Log{Logger: logger}}
	if slack := notify.NewSlack(cfg.SlackWebhookURL); slack != nil {
		notifiers = append(notifiers, slack)
	}
	alerter := scheduler.NewAlerter(store, notifiers, scheduler.AlerterConfig{
		AlertOnRecovery: cfg.AlertOnRecovery,
		Cooldown:        cfg.AlertCooldown,
	}, logger, m)

	hub := ws.New(store, logger, m, originChecker(cfg.AllowedOrigins))

	writer.Subscribe(alerter.OnBatch)
	writer.Subscribe(hub.OnBatch)

	sched := scheduler.New(logger, engine, cfg.CheckInterval, m).WithRetention(store, cfg.HistoryRetention)

	api := httpapi.NewServer(logger, engine, store, m)
	api.RunCycle = sched.RunOnce
	api.Stream = hub
	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go hub.Run(ctx)
	go func() {
		if err := alerter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("alerter_stopped", zap.Error(err))
		}
	}()
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api_shutdown_error", zap.Error(err))
		}
	}()

	logger.Info("api_listen",
		zap.String("addr", cfg.Addr),
		zap.Duration("interval", cfg.CheckInterval),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("api_listen_error", zap.Error(err))
	}
	<-schedDone
	logger.Info("shutdown_complete")
}

// openStore picks Postgres when DATABASE_URL is set, memory otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repo.Store, func()) {
	if cfg.DatabaseURL == "" {
		logger.Info("store_memory")
		return memory.New(), func() {}
	}
	pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("db_connect_error", zap.Error(err))
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		logger.Fatal("db_migrate_error", zap.Error(err))
	}
	logger.Info("store_postgres")
	return pg, pg.Close
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
