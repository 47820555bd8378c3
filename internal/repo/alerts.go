package repo

import (
	"context"
	"time"

	"github.com/hamed0406/downdetector/internal/domain"
)

// AlertRecord holds the last state we alerted on for a target and when the
// last notification went out (used for cooldown).
type AlertRecord struct {
	TargetID   domain.TargetID
	LastState  domain.HealthState
	LastSentAt *time.Time
}

// AlertStore is implemented by a persistence layer to store alert state.
type AlertStore interface {
	// GetAlert returns nil, nil if there's no record yet.
	GetAlert(ctx context.Context, id domain.TargetID) (*AlertRecord, error)
	// SetAlert upserts the record. If sentAt.IsZero() we store NULL for last_sent_at.
	SetAlert(ctx context.Context, id domain.TargetID, state domain.HealthState, sentAt time.Time) error
}
