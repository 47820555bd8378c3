package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/downdetector/internal/domain"
	"github.com/hamed0406/downdetector/internal/metrics"
	"github.com/hamed0406/downdetector/internal/notify"
	"github.com/hamed0406/downdetector/internal/repo"
)

type AlerterConfig struct {
	AlertOnRecovery bool
	Cooldown        time.Duration
	// MinState is the least severe state that triggers an alert.
	MinState  domain.HealthState
	QueueSize int
}

// Alerter turns committed state transitions into notifications. It is fed
// by the cache writer and works off a queue so commits never wait on it.
type Alerter struct {
	alertDB  repo.AlertStore
	notifier notify.Notifier
	cfg      AlerterConfig
	log      *zap.Logger
	metrics  *metrics.Metrics
	queue    chan []domain.ServiceSnapshot
	now      func() time.Time
}

func NewAlerter(alertDB repo.AlertStore, notifier notify.Notifier, cfg AlerterConfig, log *zap.Logger, m *metrics.Metrics) *Alerter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MinState == domain.Operational {
		cfg.MinState = domain.Degraded
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Alerter{
		alertDB:  alertDB,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		metrics:  m,
		queue:    make(chan []domain.ServiceSnapshot, cfg.QueueSize),
		now:      time.Now,
	}
}

// OnBatch matches cache.Listener. A full queue drops the batch.
func (a *Alerter) OnBatch(meta domain.BatchMeta, written []domain.ServiceSnapshot) {
	select {
	case a.queue <- written:
	default:
		a.log.Warn("alert_queue_full", zap.String("batch_id", meta.ID), zap.Int("snapshots", len(written)))
	}
}

func (a *Alerter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snaps := <-a.queue:
			if err := a.process(ctx, snaps); err != nil {
				a.log.Warn("alert_process_error", zap.Error(err))
			}
		}
	}
}

func (a *Alerter) process(ctx context.Context, snaps []domain.ServiceSnapshot) error {
	var errs error
	now := a.now()

	for _, s := range snaps {
		rec, err := a.alertDB.GetAlert(ctx, s.TargetID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("load alert state %s: %w", s.TargetID, err))
			continue
		}

		if rec != nil && rec.LastState == s.State {
			continue
		}

		adverse := !a.cfg.MinState.Worse(s.State)
		wasAdverse := rec != nil && !a.cfg.MinState.Worse(rec.LastState)

		// Cooldown only matters for adverse alerts (suppresses noisy repeats).
		cooled := true
		if rec != nil && rec.LastSentAt != nil {
			cooled = now.Sub(*rec.LastSentAt) >= a.cfg.Cooldown
		}

		downAlert := adverse && cooled
		recoveryAlert := s.State == domain.Operational && wasAdverse && a.cfg.AlertOnRecovery // bypass cooldown

		if downAlert || recoveryAlert {
			kind := "adverse"
			title := fmt.Sprintf("🔴 %s %s", s.TargetID, s.State)
			if recoveryAlert {
				kind = "recovery"
				title = fmt.Sprintf("🟢 %s recovered", s.TargetID)
			}

			// best-effort send and record the send time
			if err := a.notifier.Send(ctx, title, alertText(s)); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("notify %s: %w", s.TargetID, err))
			} else {
				a.metrics.AlertSent(kind)
			}
			errs = multierr.Append(errs, a.alertDB.SetAlert(ctx, s.TargetID, s.State, now))
			continue
		}

		// State changed but we did not send (cooldown, recovery off, or a
		// non-alerting state): record it and keep the last send time.
		var sent time.Time
		if rec != nil && rec.LastSentAt != nil {
			sent = *rec.LastSentAt
		}
		errs = multierr.Append(errs, a.alertDB.SetAlert(ctx, s.TargetID, s.State, sent))
	}
	return errs
}

func alertText(s domain.ServiceSnapshot) string {
	httpTxt := "n/a"
	if s.StatusCode != nil {
		httpTxt = fmt.Sprintf("%d", *s.StatusCode)
	}
	reason := s.ErrorMessage
	if reason == "" {
		reason = "-"
	}
	healthy := "never"
	if s.LastHealthyAt != nil {
		healthy = s.LastHealthyAt.Format(time.RFC3339)
	}
	return fmt.Sprintf(
		"State: %s\nHTTP: %s\nLatency: %d ms\nReason: %s\nFailures in a row: %d\nLast healthy: %s\nChecked: %s",
		s.State, httpTxt, s.ElapsedMs, reason, s.ConsecutiveFailures, healthy, s.CheckedAt.Format(time.RFC3339),
	)
}
