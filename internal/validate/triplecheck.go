// Package validate suppresses transient failures by re-checking a
// non-operational verdict twice, with growing delays, before accepting it.
package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/downdetector/internal/domain"
)

// MaxAttempts is the total number of attempts, the first included.
const MaxAttempts = 3

// Report describes how a verdict was confirmed.
type Report[T any] struct {
	Value T
	// States holds the state observed by every attempt, in order.
	States []domain.HealthState
	// Suppressed is set when an earlier failure was discarded because a
	// later attempt came back operational.
	Suppressed bool
}

func (r Report[T]) Attempts() int { return len(r.States) }

// TripleCheck re-runs an attempt after Delay and then 2*Delay. State extracts
// the verdict from a value; OnError turns a failed or panicking attempt into
// a value, which should carry domain.Down.
type TripleCheck[T any] struct {
	Delay   time.Duration
	State   func(T) domain.HealthState
	OnError func(error) T

	// Sleep waits for d or until ctx is done; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Check runs the first attempt itself and then confirms it. A panic or
// error in the first attempt is treated like one in any later attempt.
func (tc *TripleCheck[T]) Check(ctx context.Context, attempt func(context.Context) (T, error)) Report[T] {
	return tc.Confirm(ctx, tc.run(ctx, attempt), attempt)
}

// Confirm starts from an already known first result. Operational first
// results return immediately without extra attempts.
func (tc *TripleCheck[T]) Confirm(ctx context.Context, first T, attempt func(context.Context) (T, error)) Report[T] {
	rep := Report[T]{Value: first, States: []domain.HealthState{tc.State(first)}}
	if rep.States[0] == domain.Operational {
		return rep
	}

	worst, worstState := first, rep.States[0]
	delay := tc.Delay
	for n := 2; n <= MaxAttempts; n++ {
		if err := tc.sleep(ctx, delay); err != nil {
			break
		}
		delay *= 2

		cur := tc.run(ctx, attempt)
		st := tc.State(cur)
		rep.States = append(rep.States, st)
		if st == domain.Operational {
			rep.Value = cur
			rep.Suppressed = true
			return rep
		}
		// ties go to the later attempt, whose details are fresher
		if !worstState.Worse(st) {
			worst, worstState = cur, st
		}
	}
	rep.Value = worst
	return rep
}

func (tc *TripleCheck[T]) run(ctx context.Context, attempt func(context.Context) (T, error)) (out T) {
	defer func() {
		if r := recover(); r != nil {
			out = tc.OnError(fmt.Errorf("check attempt panicked: %v", r))
		}
	}()
	v, err := attempt(ctx)
	if err != nil {
		return tc.OnError(err)
	}
	return v
}

func (tc *TripleCheck[T]) sleep(ctx context.Context, d time.Duration) error {
	if tc.Sleep != nil {
		return tc.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext blocks for d or until ctx is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
