// Package monitor runs check cycles: every target is probed, analyzed,
// resolved into components, confirmed by the triple-check and aggregated
// against its previous snapshot before the batch goes to the cache writer.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/downdetector/internal/aggregate"
	"github.com/hamed0406/downdetector/internal/analyzer"
	"github.com/hamed0406/downdetector/internal/cache"
	"github.com/hamed0406/downdetector/internal/domain"
	"github.com/hamed0406/downdetector/internal/metrics"
	"github.com/hamed0406/downdetector/internal/probe"
	"github.com/hamed0406/downdetector/internal/repo"
	"github.com/hamed0406/downdetector/internal/validate"
)

// ComponentResolver is satisfied by *resolver.Resolver.
type ComponentResolver interface {
	Resolve(ctx context.Context, target domain.TargetDefinition, root domain.ProbeResult) []domain.ComponentStatus
}

// SnapshotWriter is satisfied by *cache.Writer.
type SnapshotWriter interface {
	Write(ctx context.Context, snaps []domain.ServiceSnapshot) (cache.Outcome, error)
}

type Options struct {
	TripleCheckDelay time.Duration
	MaxConcurrent    int
}

type Deps struct {
	Targets  []domain.TargetDefinition
	Prober   probe.Prober
	Content  *analyzer.Registry
	Resolver ComponentResolver
	Writer   SnapshotWriter
	Store    repo.SnapshotStore
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// evaluation is one full pass over a target: root probe, content and
// components. The triple-check re-runs it as a whole.
type evaluation struct {
	probe      domain.ProbeResult
	root       aggregate.Root
	components []domain.ComponentStatus
}

func (e evaluation) state() domain.HealthState {
	s := e.root.State
	for _, c := range e.components {
		s = domain.Worst(s, c.State)
	}
	return s
}

type Engine struct {
	targets  []domain.TargetDefinition
	byID     map[domain.TargetID]domain.TargetDefinition
	prober   probe.Prober
	content  *analyzer.Registry
	resolver ComponentResolver
	writer   SnapshotWriter
	store    repo.SnapshotStore
	log      *zap.Logger
	metrics  *metrics.Metrics
	triple   validate.TripleCheck[evaluation]
	workers  int
	now      func() time.Time

	mu    sync.Mutex
	prior map[domain.TargetID]domain.ServiceSnapshot
}

func NewEngine(d Deps, opts Options) *Engine {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Content == nil {
		d.Content = analyzer.NewRegistry(d.Targets)
	}
	e := &Engine{
		targets:  d.Targets,
		byID:     make(map[domain.TargetID]domain.TargetDefinition, len(d.Targets)),
		prober:   d.Prober,
		content:  d.Content,
		resolver: d.Resolver,
		writer:   d.Writer,
		store:    d.Store,
		log:      d.Logger,
		metrics:  d.Metrics,
		workers:  opts.MaxConcurrent,
		now:      func() time.Time { return time.Now().UTC() },
		prior:    make(map[domain.TargetID]domain.ServiceSnapshot),
	}
	for _, t := range d.Targets {
		e.byID[t.ID] = t
	}
	e.triple = validate.TripleCheck[evaluation]{
		Delay: opts.TripleCheckDelay,
		State: evaluation.state,
		OnError: func(err error) evaluation {
			return evaluation{root: aggregate.Root{State: domain.Down, ErrorMessage: err.Error()}}
		},
	}
	return e
}

// Targets returns the catalog the engine checks.
func (e *Engine) Targets() []domain.TargetDefinition {
	return append([]domain.TargetDefinition(nil), e.targets...)
}

// Target looks up a catalog entry.
func (e *Engine) Target(id domain.TargetID) (domain.TargetDefinition, bool) {
	t, ok := e.byID[id]
	return t, ok
}

// CycleReport summarizes one RunCycle.
type CycleReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Snapshots []domain.ServiceSnapshot
	Failed    []domain.TargetID
	Write     cache.Outcome
}

// RunCycle checks every target concurrently and hands the aggregated batch
// to the writer. Per-target failures become states; the returned error is
// reserved for the batch commit failing.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	rep := CycleReport{StartedAt: e.now()}

	type result struct {
		snap domain.ServiceSnapshot
		ok   bool
	}
	results := make([]result, len(e.targets))

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	for i, t := range e.targets {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() { <-sem }()
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("target_check_panicked",
						zap.String("target_id", string(t.ID)),
						zap.Any("panic", r),
					)
				}
			}()
			results[i] = result{snap: e.checkTarget(ctx, t), ok: true}
		}()
	}
	wg.Wait()

	for i, r := range results {
		if !r.ok {
			rep.Failed = append(rep.Failed, e.targets[i].ID)
			continue
		}
		rep.Snapshots = append(rep.Snapshots, r.snap)
	}

	var err error
	if e.writer != nil && len(rep.Snapshots) > 0 {
		rep.Write, err = e.writer.Write(ctx, rep.Snapshots)
	}
	rep.Duration = e.now().Sub(rep.StartedAt)

	e.log.Info("cycle_completed",
		zap.Int("targets", len(e.targets)),
		zap.Int("snapshots", len(rep.Snapshots)),
		zap.Int("failed", len(rep.Failed)),
		zap.Bool("committed", rep.Write.Committed),
		zap.String("skip_reason", rep.Write.SkipReason),
		zap.Duration("took", rep.Duration),
	)
	return rep, err
}

// checkTarget runs the full pipeline for one target and records the result
// as its prior for the next cycle.
func (e *Engine) checkTarget(ctx context.Context, t domain.TargetDefinition) domain.ServiceSnapshot {
	confirmed := e.triple.Check(ctx, func(ctx context.Context) (evaluation, error) {
		return e.evaluate(ctx, t), nil
	})
	if confirmed.Suppressed {
		e.metrics.Suppressed(t.ID)
		e.log.Info("transient_failure_suppressed",
			zap.String("target_id", string(t.ID)),
			zap.Int("attempts", confirmed.Attempts()),
			zap.String("first_state", confirmed.States[0].String()),
		)
	}

	ev := confirmed.Value
	prior := e.priorFor(ctx, t.ID)
	snap := aggregate.Aggregate(t.ID, prior, ev.root, ev.components, e.now())

	e.mu.Lock()
	e.prior[t.ID] = snap.Clone()
	e.mu.Unlock()

	e.metrics.TargetState(t.ID, snap.State)
	if snap.State != domain.Operational {
		e.log.Warn("target_not_operational",
			zap.String("target_id", string(t.ID)),
			zap.String("state", snap.State.String()),
			zap.String("error", snap.ErrorMessage),
			zap.Int("consecutive_failures", snap.ConsecutiveFailures),
			zap.Int("attempts", confirmed.Attempts()),
		)
	} else {
		e.log.Debug("target_checked",
			zap.String("target_id", string(t.ID)),
			zap.Int64("elapsed_ms", snap.ElapsedMs),
		)
	}
	return snap
}

func (e *Engine) evaluate(ctx context.Context, t domain.TargetDefinition) evaluation {
	p := e.prober.Probe(ctx, t.URL)
	e.metrics.Probe(t.ID, p)
	ev := evaluation{
		probe: p,
		root:  RootVerdict(p, e.content.Analyze(t.ID, p)),
	}
	if e.resolver != nil {
		ev.components = e.resolver.Resolve(ctx, t, p)
	}
	return ev
}

// priorFor returns the last aggregated snapshot, falling back to the store
// after a restart. Change detection may skip writes, so the in-memory value
// is preferred over the store.
func (e *Engine) priorFor(ctx context.Context, id domain.TargetID) *domain.ServiceSnapshot {
	e.mu.Lock()
	p, ok := e.prior[id]
	e.mu.Unlock()
	if ok {
		return &p
	}
	if e.store == nil {
		return nil
	}
	s, err := e.store.Snapshot(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.log.Warn("prior_snapshot_load_failed", zap.String("target_id", string(id)), zap.Error(err))
		}
		return nil
	}
	return s
}
