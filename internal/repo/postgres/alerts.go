package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hamed0406/downdetector/internal/domain"
	"github.com/hamed0406/downdetector/internal/repo"
)

func (s *Store) GetAlert(ctx context.Context, id domain.TargetID) (*repo.AlertRecord, error) {
	const q = `SELECT last_state, last_sent_at FROM alerts WHERE target_id=$1`
	r := repo.AlertRecord{TargetID: id}
	var (
		state    string
		lastSent *time.Time
	)
	err := s.pool.QueryRow(ctx, q, string(id)).Scan(&state, &lastSent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if r.LastState, err = domain.ParseHealthState(state); err != nil {
		return nil, err
	}
	r.LastSentAt = lastSent
	return &r, nil
}

func (s *Store) SetAlert(ctx context.Context, id domain.TargetID, state domain.HealthState, sentAt time.Time) error {
	const q = `
		INSERT INTO alerts (target_id, last_state, last_sent_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (target_id)
		DO UPDATE SET last_state=EXCLUDED.last_state, last_sent_at=EXCLUDED.last_sent_at
	`
	var ts *time.Time
	if !sentAt.IsZero() {
		ts = &sentAt
	}
	_, err := s.pool.Exec(ctx, q, string(id), state.String(), ts)
	return err
}
