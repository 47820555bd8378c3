package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hamed0406/downdetector/internal/domain"
)

// FunctionalVerdict is the outcome of a live component check.
type FunctionalVerdict struct {
	State      domain.HealthState
	StatusCode *int
	ElapsedMs  int64
	Message    string
}

// FunctionalChecker sends a credential-free request to a known API surface.
// Any answer below 500, including 400 and 401, proves the sub-system is
// serving requests.
type FunctionalChecker struct {
	Client *http.Client
}

func NewFunctionalChecker(timeout time.Duration) *FunctionalChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FunctionalChecker{Client: &http.Client{Timeout: timeout}}
}

func (f *FunctionalChecker) Check(ctx context.Context, fc domain.FunctionalCheck) FunctionalVerdict {
	method := fc.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if method == http.MethodPost || method == http.MethodPut {
		body = strings.NewReader("{}")
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, fc.URL, body)
	if err != nil {
		return FunctionalVerdict{State: domain.Down, Message: "functional check: " + err.Error()}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.Client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return FunctionalVerdict{
			State:     domain.Down,
			ElapsedMs: elapsed,
			Message:   fmt.Sprintf("functional check %s: %v", classifyError(err), err),
		}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	code := resp.StatusCode
	v := FunctionalVerdict{StatusCode: &code, ElapsedMs: elapsed}
	if code >= 500 {
		v.State = domain.Down
		v.Message = "functional check: HTTP " + resp.Status
		return v
	}
	v.State = domain.Operational
	return v
}
