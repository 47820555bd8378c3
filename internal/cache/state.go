package cache

import (
	"time"

	"github.com/hamed0406/downdetector/internal/domain"
)

// Written is the baseline change detection compares against.
type Written struct {
	Snapshot  domain.ServiceSnapshot
	WrittenAt time.Time
}

// RateLimiterState is owned by exactly one Writer. It is process-local and
// rebuilt from the store on startup, never recomputed per cycle.
type RateLimiterState struct {
	WritesThisWindow int
	WindowStartedAt  time.Time
	LastBatchWriteAt time.Time
	LastWritten      map[domain.TargetID]Written
}

func NewRateLimiterState() *RateLimiterState {
	return &RateLimiterState{LastWritten: make(map[domain.TargetID]Written)}
}

// rollWindow starts a fresh hourly window once the current one has elapsed.
func (s *RateLimiterState) rollWindow(now time.Time) {
	if s.WindowStartedAt.IsZero() || now.Sub(s.WindowStartedAt) >= time.Hour {
		s.WindowStartedAt = now
		s.WritesThisWindow = 0
	}
}
