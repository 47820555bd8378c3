package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hamed0406/downdetector/internal/domain"
)

// AppendHistory inserts entries in one round trip. An entry that
// already exists for the same (target, ts) is kept as is.
func (s *Store) AppendHistory(ctx context.Context, entries []domain.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
INSERT INTO status_history (target_id, ts, state, elapsed_ms, error_message)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (target_id, ts) DO NOTHING`,
			string(e.TargetID), e.Timestamp, e.State.String(), e.ElapsedMs, e.ErrorMessage)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, id domain.TargetID, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT ts, state, elapsed_ms, error_message
		   FROM status_history
		  WHERE target_id = $1
		  ORDER BY ts DESC
		  LIMIT $2`, string(id), limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		e := domain.HistoryEntry{TargetID: id}
		var state string
		if err := rows.Scan(&e.Timestamp, &state, &e.ElapsedMs, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if e.State, err = domain.ParseHealthState(state); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM status_history WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return tag.RowsAffected(), nil
}
