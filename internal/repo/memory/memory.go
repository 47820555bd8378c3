package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/downdetector/internal/domain"
	"github.com/hamed0406/downdetector/internal/repo"
)

// Store keeps everything in process memory. It is what statusd runs on when
// no DATABASE_URL is configured.
type Store struct {
	mu        sync.RWMutex
	snapshots map[domain.TargetID]domain.ServiceSnapshot
	batches   []domain.BatchMeta
	history   map[domain.TargetID][]domain.HistoryEntry
	alerts    map[domain.TargetID]repo.AlertRecord
}

func New() *Store {
	return &Store{
		snapshots: make(map[domain.TargetID]domain.ServiceSnapshot),
		batches:   make([]domain.BatchMeta, 0, 128),
		history:   make(map[domain.TargetID][]domain.HistoryEntry),
		alerts:    make(map[domain.TargetID]repo.AlertRecord),
	}
}

// ---- SnapshotStore ----

func (m *Store) Snapshots(ctx context.Context) ([]domain.ServiceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ServiceSnapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out, nil
}

func (m *Store) Snapshot(ctx context.Context, id domain.TargetID) (*domain.ServiceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := s.Clone()
	return &c, nil
}

func (m *Store) CommitBatch(ctx context.Context, meta domain.BatchMeta, snaps []domain.ServiceSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range snaps {
		m.snapshots[s.TargetID] = s.Clone()
	}
	m.batches = append(m.batches, meta)
	return nil
}

func (m *Store) LastBatch(ctx context.Context) (*domain.BatchMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.batches) == 0 {
		return nil, nil
	}
	b := m.batches[len(m.batches)-1]
	return &b, nil
}

func (m *Store) CountBatchesSince(ctx context.Context, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, b := range m.batches {
		if !b.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// ---- HistoryStore ----

// AppendHistory keeps each target's entries ordered by timestamp and
// ignores an entry whose (target, timestamp) is already stored.
func (m *Store) AppendHistory(ctx context.Context, entries []domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		list := m.history[e.TargetID]
		i := sort.Search(len(list), func(i int) bool { return !list[i].Timestamp.Before(e.Timestamp) })
		if i < len(list) && list[i].Timestamp.Equal(e.Timestamp) {
			continue
		}
		list = append(list, domain.HistoryEntry{})
		copy(list[i+1:], list[i:])
		list[i] = e
		m.history[e.TargetID] = list
	}
	return nil
}

func (m *Store) History(ctx context.Context, id domain.TargetID, limit int) ([]domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.history[id]
	out := make([]domain.HistoryEntry, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, src[i])
	}
	return out, nil
}

func (m *Store) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, entries := range m.history {
		kept := entries[:0]
		for _, e := range entries {
			if e.Timestamp.Before(before) {
				n++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(m.history, id)
			continue
		}
		m.history[id] = kept
	}
	return n, nil
}

// ---- AlertStore ----

func (m *Store) GetAlert(ctx context.Context, id domain.TargetID) (*repo.AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.alerts[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Store) SetAlert(ctx context.Context, id domain.TargetID, state domain.HealthState, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := repo.AlertRecord{TargetID: id, LastState: state}
	if !sentAt.IsZero() {
		ts := sentAt
		r.LastSentAt = &ts
	}
	m.alerts[id] = r
	return nil
}
