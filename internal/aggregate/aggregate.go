// Package aggregate derives the next ServiceSnapshot of a target from its
// previous one and the verdicts of the current cycle.
package aggregate

import (
	"time"

	"github.com/hamed0406/downdetector/internal/domain"
)

// Root is the confirmed verdict for the target's own URL.
type Root struct {
	State        domain.HealthState
	StatusCode   *int
	ElapsedMs    int64
	ErrorMessage string
}

// Aggregate computes the new snapshot. prior is nil on a target's first
// cycle. The overall state is the worst of the root and every component;
// only an operational result resets the failure streak and advances
// LastHealthyAt.
func Aggregate(id domain.TargetID, prior *domain.ServiceSnapshot, root Root, components []domain.ComponentStatus, now time.Time) domain.ServiceSnapshot {
	overall := root.State
	msg := root.ErrorMessage
	for _, c := range components {
		if c.State.Worse(overall) {
			overall = c.State
			msg = componentMessage(c)
		}
	}

	snap := domain.ServiceSnapshot{
		TargetID:     id,
		State:        overall,
		StatusCode:   root.StatusCode,
		ElapsedMs:    root.ElapsedMs,
		ErrorMessage: msg,
		CheckedAt:    now,
		Components:   append([]domain.ComponentStatus(nil), components...),
	}

	if overall == domain.Operational {
		snap.ErrorMessage = ""
		snap.ConsecutiveFailures = 0
		t := now
		if prior != nil && prior.LastHealthyAt != nil && prior.LastHealthyAt.After(now) {
			// a clock step backwards must not move the mark backwards
			t = *prior.LastHealthyAt
		}
		snap.LastHealthyAt = &t
		return snap
	}

	if prior != nil {
		snap.ConsecutiveFailures = prior.ConsecutiveFailures + 1
		if prior.LastHealthyAt != nil {
			t := *prior.LastHealthyAt
			snap.LastHealthyAt = &t
		}
	} else {
		snap.ConsecutiveFailures = 1
	}
	return snap
}

func componentMessage(c domain.ComponentStatus) string {
	if c.ErrorMessage == "" {
		return c.ComponentID + ": " + c.State.String()
	}
	return c.ComponentID + ": " + c.ErrorMessage
}
