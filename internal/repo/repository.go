package repo

import (
	"context"
	"time"

	"github.com/hamed0406/downdetector/internal/domain"
)

// SnapshotStore holds the latest snapshot per target plus the batch log.
// CommitBatch must be atomic: either every snapshot and the meta record land,
// or none do.
type SnapshotStore interface {
	Snapshots(ctx context.Context) ([]domain.ServiceSnapshot, error)
	// Snapshot returns domain.ErrNotFound when the target was never written.
	Snapshot(ctx context.Context, id domain.TargetID) (*domain.ServiceSnapshot, error)
	CommitBatch(ctx context.Context, meta domain.BatchMeta, snaps []domain.ServiceSnapshot) error
	// LastBatch returns nil, nil before the first commit.
	LastBatch(ctx context.Context) (*domain.BatchMeta, error)
	CountBatchesSince(ctx context.Context, since time.Time) (int, error)
}

// HistoryStore is append-only. Entries come back newest first.
type HistoryStore interface {
	AppendHistory(ctx context.Context, entries []domain.HistoryEntry) error
	History(ctx context.Context, id domain.TargetID, limit int) ([]domain.HistoryEntry, error)
}

type HistoryPruner interface {
	// PruneHistory deletes entries older than before and reports how many went.
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
}

// Store is what a full backend provides.
type Store interface {
	SnapshotStore
	HistoryStore
	HistoryPruner
	AlertStore
}
