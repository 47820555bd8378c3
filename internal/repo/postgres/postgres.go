package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/downdetector/internal/domain"
	"github.com/hamed0406/downdetector/internal/repo"
)

var _ repo.Store = (*Store)(nil)

// NotifyChannel receives the batch ID of every committed batch.
const NotifyChannel = "status_batch"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS service_snapshots (
  target_id            TEXT PRIMARY KEY,
  state                TEXT NOT NULL,
  status_code          INTEGER NULL,
  elapsed_ms           BIGINT NOT NULL,
  error_message        TEXT NOT NULL DEFAULT '',
  checked_at           TIMESTAMPTZ NOT NULL,
  last_healthy_at      TIMESTAMPTZ NULL,
  consecutive_failures INTEGER NOT NULL DEFAULT 0,
  components           JSONB NOT NULL DEFAULT '[]'::jsonb,
  batch_id             TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_commits (
  id            TEXT PRIMARY KEY,
  committed_at  TIMESTAMPTZ NOT NULL,
  total_targets INTEGER NOT NULL,
  written_count INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_batch_commits_time ON batch_commits (committed_at DESC);

CREATE TABLE IF NOT EXISTS status_history (
  target_id     TEXT NOT NULL,
  ts            TIMESTAMPTZ NOT NULL,
  state         TEXT NOT NULL,
  elapsed_ms    BIGINT NOT NULL,
  error_message TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (target_id, ts)
);
CREATE INDEX IF NOT EXISTS idx_status_history_ts ON status_history (ts);

CREATE TABLE IF NOT EXISTS alerts (
  target_id    TEXT PRIMARY KEY,
  last_state   TEXT NOT NULL,
  last_sent_at TIMESTAMPTZ NULL
);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

// Migrate creates the tables if they are missing. It is safe to run on
// every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ---- SnapshotStore ----

const snapshotColumns = `target_id, state, status_code, elapsed_ms, error_message,
       checked_at, last_healthy_at, consecutive_failures, components`

func (s *Store) Snapshots(ctx context.Context) ([]domain.ServiceSnapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM service_snapshots ORDER BY target_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.ServiceSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Store) Snapshot(ctx context.Context, id domain.TargetID) (*domain.ServiceSnapshot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM service_snapshots WHERE target_id = $1`, string(id))
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &snap, nil
}

// CommitBatch upserts every snapshot and records the batch in one
// transaction, then raises a NOTIFY that is delivered only on commit.
func (s *Store) CommitBatch(ctx context.Context, meta domain.BatchMeta, snaps []domain.ServiceSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	batch := &pgx.Batch{}
	for _, snap := range snaps {
		comps, err := json.Marshal(nonNil(snap.Components))
		if err != nil {
			return fmt.Errorf("encode components for %s: %w", snap.TargetID, err)
		}
		batch.Queue(`
INSERT INTO service_snapshots
  (target_id, state, status_code, elapsed_ms, error_message,
   checked_at, last_healthy_at, consecutive_failures, components, batch_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (target_id) DO UPDATE SET
  state=EXCLUDED.state, status_code=EXCLUDED.status_code,
  elapsed_ms=EXCLUDED.elapsed_ms, error_message=EXCLUDED.error_message,
  checked_at=EXCLUDED.checked_at, last_healthy_at=EXCLUDED.last_healthy_at,
  consecutive_failures=EXCLUDED.consecutive_failures,
  components=EXCLUDED.components, batch_id=EXCLUDED.batch_id`,
			string(snap.TargetID), snap.State.String(), snap.StatusCode, snap.ElapsedMs, snap.ErrorMessage,
			snap.CheckedAt, snap.LastHealthyAt, snap.ConsecutiveFailures, comps, meta.ID)
	}
	batch.Queue(`INSERT INTO batch_commits (id, committed_at, total_targets, written_count) VALUES ($1,$2,$3,$4)`,
		meta.ID, meta.Timestamp, meta.TotalTargets, meta.WrittenCount)
	batch.Queue(`SELECT pg_notify($1, $2)`, NotifyChannel, meta.ID)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write batch %s: %w", meta.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch %s: %w", meta.ID, err)
	}
	return nil
}

func (s *Store) LastBatch(ctx context.Context) (*domain.BatchMeta, error) {
	var b domain.BatchMeta
	err := s.pool.QueryRow(ctx,
		`SELECT id, committed_at, total_targets, written_count
		   FROM batch_commits
		  ORDER BY committed_at DESC
		  LIMIT 1`).Scan(&b.ID, &b.Timestamp, &b.TotalTargets, &b.WrittenCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last batch: %w", err)
	}
	return &b, nil
}

func (s *Store) CountBatchesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM batch_commits WHERE committed_at >= $1`, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count batches: %w", err)
	}
	return n, nil
}

func scanSnapshot(row pgx.Row) (domain.ServiceSnapshot, error) {
	var (
		snap   domain.ServiceSnapshot
		id     string
		state  string
		status *int32
		comps  []byte
	)
	if err := row.Scan(&id, &state, &status, &snap.ElapsedMs, &snap.ErrorMessage,
		&snap.CheckedAt, &snap.LastHealthyAt, &snap.ConsecutiveFailures, &comps); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return snap, err
		}
		return snap, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.TargetID = domain.TargetID(id)
	st, err := domain.ParseHealthState(state)
	if err != nil {
		return snap, fmt.Errorf("snapshot %s: %w", id, err)
	}
	snap.State = st
	if status != nil {
		snap.StatusCode = domain.IntPtr(int(*status))
	}
	if len(comps) > 0 {
		if err := json.Unmarshal(comps, &snap.Components); err != nil {
			return snap, fmt.Errorf("decode components for %s: %w", id, err)
		}
	}
	return snap, nil
}

func nonNil(c []domain.ComponentStatus) []domain.ComponentStatus {
	if c == nil {
		return []domain.ComponentStatus{}
	}
	return c
}
