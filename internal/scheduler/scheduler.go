package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/downdetector/internal/metrics"
	"github.com/hamed0406/downdetector/internal/monitor"
	"github.com/hamed0406/downdetector/internal/repo"
)

// Cycler is satisfied by *monitor.Engine.
type Cycler interface {
	RunCycle(ctx context.Context) (monitor.CycleReport, error)
}

type Scheduler struct {
	Logger    *zap.Logger
	Engine    Cycler
	Metrics   *metrics.Metrics
	Interval  time.Duration
	Pruner    repo.HistoryPruner
	Retention time.Duration
	// PruneEvery is how often history retention runs.
	PruneEvery time.Duration

	now      func() time.Time
	inflight sync.WaitGroup
}

func New(logger *zap.Logger, engine Cycler, interval time.Duration, m *metrics.Metrics) *Scheduler {
	if interval < 0 {
		interval = 0
	}
	return &Scheduler{
		Logger:     logger,
		Engine:     engine,
		Metrics:    m,
		Interval:   interval,
		PruneEvery: 24 * time.Hour,
		now:        time.Now,
	}
}

// WithRetention enables daily pruning of history older than retention.
func (s *Scheduler) WithRetention(p repo.HistoryPruner, retention time.Duration) *Scheduler {
	s.Pruner = p
	s.Retention = retention
	return s
}

// Run starts the loop. It does an immediate pass, then starts a cycle on
// each tick without waiting for the previous one. Stops when ctx is
// cancelled and waits for cycles still in flight.
func (s *Scheduler) Run(ctx context.Context) {
	if s.Interval == 0 {
		s.Logger.Info("scheduler_disabled")
		return
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	var prune <-chan time.Time
	if s.Pruner != nil && s.Retention > 0 && s.PruneEvery > 0 {
		pt := time.NewTicker(s.PruneEvery)
		defer pt.Stop()
		prune = pt.C
		s.Prune(ctx)
	}

	// immediate pass
	s.Trigger(ctx)

	for {
		select {
		case <-ctx.Done():
			s.inflight.Wait()
			s.Logger.Info("scheduler_stopped")
			return
		case <-t.C:
			s.Trigger(ctx)
		case <-prune:
			s.Prune(ctx)
		}
	}
}

// Trigger starts one cycle in the background.
func (s *Scheduler) Trigger(ctx context.Context) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		_ = s.RunOnce(ctx)
	}()
}

// RunOnce runs a single cycle. Anything that escapes the cycle, panics
// included, is logged and returned so the next tick is unaffected.
func (s *Scheduler) RunOnce(ctx context.Context) (err error) {
	start := s.now()
	s.Metrics.CycleStarted()
	panicked := false
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("cycle panicked: %v", r)
			s.Logger.Error("cycle_panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		s.Metrics.CycleFinished(s.now().Sub(start), panicked)
	}()

	if _, err = s.Engine.RunCycle(ctx); err != nil {
		s.Logger.Error("cycle_failed", zap.Error(err))
	}
	return err
}

// Prune drops history older than the retention window.
func (s *Scheduler) Prune(ctx context.Context) {
	if s.Pruner == nil || s.Retention <= 0 {
		return
	}
	before := s.now().Add(-s.Retention)
	n, err := s.Pruner.PruneHistory(ctx, before)
	if err != nil {
		s.Logger.Warn("history_prune_error", zap.Error(err))
		return
	}
	s.Logger.Info("history_pruned", zap.Int64("deleted", n), zap.Time("before", before))
}
