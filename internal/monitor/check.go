package monitor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hamed0406/downdetector/internal/domain"
)

// CheckRequest asks for an immediate probe of url. TargetID selects the
// content signatures to apply and may be empty.
type CheckRequest struct {
	TargetID domain.TargetID `json:"targetId"`
	URL      string          `json:"url"`
}

// CheckResult is the answer to an on-demand check. OK reports an
// operational verdict.
type CheckResult struct {
	OK           bool               `json:"ok"`
	TargetID     domain.TargetID    `json:"targetId,omitempty"`
	State        domain.HealthState `json:"state"`
	StatusCode   *int               `json:"statusCode"`
	ElapsedMs    int64              `json:"elapsedMs"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
}

// CheckOne probes a single URL once. It skips the triple-check and
// persists nothing. Invalid input is rejected before any network I/O.
func (e *Engine) CheckOne(ctx context.Context, req CheckRequest) (CheckResult, error) {
	if err := validateURL(req.URL); err != nil {
		return CheckResult{TargetID: req.TargetID}, err
	}
	p := e.prober.Probe(ctx, req.URL)
	root := RootVerdict(p, e.content.Analyze(req.TargetID, p))

	e.log.Debug("on_demand_check",
		zap.String("target_id", string(req.TargetID)),
		zap.String("url", req.URL),
		zap.String("state", root.State.String()),
	)
	return CheckResult{
		OK:           root.State == domain.Operational,
		TargetID:     req.TargetID,
		State:        root.State,
		StatusCode:   root.StatusCode,
		ElapsedMs:    root.ElapsedMs,
		ErrorMessage: root.ErrorMessage,
	}, nil
}

// CheckBatch runs CheckOne for every request concurrently. One bad entry
// does not fail the batch; it comes back as an unknown result with the reason.
func (e *Engine) CheckBatch(ctx context.Context, reqs []CheckRequest) ([]CheckResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: no targets given", domain.ErrInvalidInput)
	}
	out := make([]CheckResult, len(reqs))
	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	for i, r := range reqs {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() { <-sem }()
			defer wg.Done()
			res, err := e.CheckOne(ctx, r)
			if err != nil {
				res = CheckResult{TargetID: r.TargetID, State: domain.Unknown, ErrorMessage: err.Error()}
			}
			out[i] = res
		}()
	}
	wg.Wait()
	return out, nil
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: url is required", domain.ErrInvalidInput)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be absolute http(s): %q", domain.ErrInvalidInput, raw)
	}
	return nil
}
