// Package cache persists aggregated snapshots. It throttles writes to an
// hourly quota, spaces batches apart, and only writes targets whose
// snapshot materially changed since it was last written.
package cache

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/downdetector/internal/domain"
	"github.com/hamed0406/downdetector/internal/metrics"
	"github.com/hamed0406/downdetector/internal/repo"
)

// historyChunk bounds a single history append round trip.
const historyChunk = 50

type Store interface {
	repo.SnapshotStore
	repo.HistoryStore
}

type Options struct {
	MaxWritesPerHour int // <= 0 disables the quota
	MinBatchSpacing  time.Duration
	StaleAfter       time.Duration
	LatencyChangePct float64
}

// Listener is called after every successful commit with the snapshots that
// were written. Listeners run synchronously and must not block.
type Listener func(meta domain.BatchMeta, written []domain.ServiceSnapshot)

// Outcome describes what a Write did.
type Outcome struct {
	Committed  bool
	Batch      domain.BatchMeta
	Written    []domain.TargetID
	SkipReason string
	History    int
	HistoryErr error
}

type Writer struct {
	store   Store
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string

	mu        sync.Mutex
	state     *RateLimiterState
	listeners []Listener
}

func NewWriter(store Store, state *RateLimiterState, opts Options, log *zap.Logger, m *metrics.Metrics) *Writer {
	if state == nil {
		state = NewRateLimiterState()
	}
	if state.LastWritten == nil {
		state.LastWritten = make(map[domain.TargetID]Written)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		store:   store,
		opts:    opts,
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
		state:   state,
	}
}

// Subscribe registers fn for commit notifications.
func (w *Writer) Subscribe(fn Listener) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Rehydrate rebuilds the limiter baselines from what the store already holds
// so a restart does not reset the quota or force a full rewrite.
func (w *Writer) Rehydrate(ctx context.Context) error {
	snaps, err := w.store.Snapshots(ctx)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	last, err := w.store.LastBatch(ctx)
	if err != nil {
		return fmt.Errorf("load last batch: %w", err)
	}
	now := w.now()
	count, err := w.store.CountBatchesSince(ctx, now.Add(-time.Hour))
	if err != nil {
		return fmt.Errorf("count recent batches: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range snaps {
		w.state.LastWritten[s.TargetID] = Written{Snapshot: s.Clone(), WrittenAt: s.CheckedAt}
	}
	if last != nil {
		w.state.LastBatchWriteAt = last.Timestamp
	}
	// recent batches count against a window starting now
	w.state.WindowStartedAt = now
	w.state.WritesThisWindow = count

	w.log.Info("cache_rehydrated",
		zap.Int("snapshots", len(snaps)),
		zap.Int("writes_this_window", count),
		zap.Time("last_batch_at", w.state.LastBatchWriteAt),
	)
	return nil
}

// Write runs one cycle's snapshots through the quota, spacing and change
// gates and commits what survives as one batch. Skips are not errors; the
// returned error is non-nil only when the commit itself failed.
func (w *Writer) Write(ctx context.Context, snaps []domain.ServiceSnapshot) (Outcome, error) {
	w.mu.Lock()
	now := w.now()
	out := Outcome{}

	w.state.rollWindow(now)
	if w.opts.MaxWritesPerHour > 0 && w.state.WritesThisWindow >= w.opts.MaxWritesPerHour {
		w.mu.Unlock()
		out.SkipReason = metrics.SkipQuota
		w.metrics.BatchSkipped(metrics.SkipQuota)
		w.log.Warn("write_quota_reached",
			zap.Int("writes_this_window", w.state.WritesThisWindow),
			zap.Int("max_per_hour", w.opts.MaxWritesPerHour),
			zap.Int("targets", len(snaps)),
		)
		return out, nil
	}

	// history is kept for every cycle the quota admits
	out.History, out.HistoryErr = w.appendHistory(ctx, snaps, now)

	if !w.state.LastBatchWriteAt.IsZero() && now.Sub(w.state.LastBatchWriteAt) < w.opts.MinBatchSpacing {
		w.mu.Unlock()
		out.SkipReason = metrics.SkipSpacing
		w.metrics.BatchSkipped(metrics.SkipSpacing)
		w.log.Debug("batch_spacing_skip", zap.Duration("since_last", now.Sub(w.state.LastBatchWriteAt)))
		return out, nil
	}

	var included []domain.ServiceSnapshot
	for _, s := range snaps {
		if w.changed(s, now) {
			included = append(included, s.Clone())
		}
	}
	if len(included) == 0 {
		w.mu.Unlock()
		out.SkipReason = metrics.SkipUnchanged
		w.metrics.BatchSkipped(metrics.SkipUnchanged)
		w.log.Debug("batch_unchanged_skip", zap.Int("targets", len(snaps)))
		return out, nil
	}

	meta := domain.BatchMeta{
		ID:           w.newID(),
		Timestamp:    now,
		TotalTargets: len(snaps),
		WrittenCount: len(included),
	}
	if err := w.store.CommitBatch(ctx, meta, included); err != nil {
		w.mu.Unlock()
		out.SkipReason = metrics.SkipError
		w.metrics.BatchSkipped(metrics.SkipError)
		w.log.Error("batch_commit_failed", zap.String("batch_id", meta.ID), zap.Error(err))
		return out, fmt.Errorf("commit batch: %w", err)
	}

	w.state.WritesThisWindow++
	w.state.LastBatchWriteAt = now
	for _, s := range included {
		w.state.LastWritten[s.TargetID] = Written{Snapshot: s.Clone(), WrittenAt: now}
		out.Written = append(out.Written, s.TargetID)
	}
	listeners := append([]Listener(nil), w.listeners...)
	w.mu.Unlock()

	out.Committed = true
	out.Batch = meta
	w.metrics.BatchCommitted(len(included))
	w.log.Info("batch_committed",
		zap.String("batch_id", meta.ID),
		zap.Int("total_targets", meta.TotalTargets),
		zap.Int("written", meta.WrittenCount),
	)

	for _, fn := range listeners {
		fn(meta, cloneAll(included))
	}
	return out, nil
}

// State returns a copy of the limiter state.
func (w *Writer) State() RateLimiterState {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := *w.state
	cp.LastWritten = make(map[domain.TargetID]Written, len(w.state.LastWritten))
	for k, v := range w.state.LastWritten {
		cp.LastWritten[k] = Written{Snapshot: v.Snapshot.Clone(), WrittenAt: v.WrittenAt}
	}
	return cp
}

func (w *Writer) changed(s domain.ServiceSnapshot, now time.Time) bool {
	prev, ok := w.state.LastWritten[s.TargetID]
	if !ok {
		return true
	}
	p := prev.Snapshot
	switch {
	case p.State != s.State:
		return true
	case p.ErrorMessage != s.ErrorMessage:
		return true
	case latencyMoved(p.ElapsedMs, s.ElapsedMs, w.opts.LatencyChangePct):
		return true
	case now.Sub(prev.WrittenAt) > w.opts.StaleAfter:
		return true
	}
	return false
}

func latencyMoved(prev, cur int64, pct float64) bool {
	if prev == cur {
		return false
	}
	if prev == 0 {
		return true
	}
	delta := math.Abs(float64(cur-prev)) / float64(prev) * 100
	return delta > pct
}

func (w *Writer) appendHistory(ctx context.Context, snaps []domain.ServiceSnapshot, now time.Time) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	entries := make([]domain.HistoryEntry, 0, len(snaps))
	for _, s := range snaps {
		ts := s.CheckedAt
		if ts.IsZero() {
			ts = now
		}
		entries = append(entries, domain.HistoryEntry{
			TargetID:     s.TargetID,
			Timestamp:    ts,
			State:        s.State,
			ElapsedMs:    s.ElapsedMs,
			ErrorMessage: s.ErrorMessage,
		})
	}

	var errs error
	written := 0
	for start := 0; start < len(entries); start += historyChunk {
		end := min(start+historyChunk, len(entries))
		if err := w.store.AppendHistory(ctx, entries[start:end]); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		written += end - start
	}
	if errs != nil {
		w.metrics.HistoryFailed()
		w.log.Warn("history_append_failed",
			zap.Int("entries", len(entries)),
			zap.Int("written", written),
			zap.Errors("errors", multierr.Errors(errs)),
		)
	}
	return written, errs
}

func cloneAll(in []domain.ServiceSnapshot) []domain.ServiceSnapshot {
	out := make([]domain.ServiceSnapshot, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}
