package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hamed0406/downdetector/internal/domain"
)

// Prober performs a single bounded HTTP check. It never retries.
type Prober interface {
	Probe(ctx context.Context, target string) domain.ProbeResult
}

var errTooManyRedirects = errors.New("too many redirects")

type Executor struct {
	Client       *http.Client
	MaxBodyBytes int64
	UserAgent    string

	// DNS, when set, annotates unreachable results with a resolver class.
	DNS *DNSClassifier
}

func NewExecutor(timeout time.Duration, maxRedirects int, maxBody int64) *Executor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxBody <= 0 {
		maxBody = 2 << 20
	}
	return &Executor{
		Client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		},
		MaxBodyBytes: maxBody,
		UserAgent:    "downdetector/1.0 (+status probe)",
	}
}

func (e *Executor) Probe(ctx context.Context, target string) domain.ProbeResult {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.ProbeResult{Failure: domain.FailureUnreachable, Detail: err.Error()}
	}
	req.Header.Set("User-Agent", e.UserAgent)
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")

	resp, err := e.Client.Do(req)
	if err != nil {
		out := domain.ProbeResult{
			ElapsedMs: time.Since(start).Milliseconds(),
			Failure:   classifyError(err),
			Detail:    err.Error(),
		}
		if out.Failure == domain.FailureUnreachable && e.DNS != nil {
			if class := e.DNS.Classify(ctx, hostOf(target)).Class; class != "" && class != ClassResolves {
				out.Detail = fmt.Sprintf("%s dns=%s", out.Detail, class)
			}
		}
		return out
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, e.MaxBodyBytes))
	code := resp.StatusCode
	out := domain.ProbeResult{
		StatusCode: &code,
		ElapsedMs:  time.Since(start).Milliseconds(),
		Body:       body,
		Detail:     resp.Status,
	}
	if readErr != nil && classifyError(readErr) == domain.FailureTimeout {
		out.Failure = domain.FailureTimeout
		out.Detail = readErr.Error()
		return out
	}
	out.Failure = ClassifyStatus(code)
	return out
}

// ClassifyStatus maps an HTTP status code to a failure kind; 2xx and 3xx are
// not failures.
func ClassifyStatus(code int) domain.FailureKind {
	switch {
	case code >= 500:
		return domain.FailureServerError
	case code >= 400:
		return domain.FailureClientError
	case code >= 200:
		return domain.FailureNone
	default:
		return domain.FailureClientError
	}
}

func classifyError(err error) domain.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.FailureTimeout
	}
	return domain.FailureUnreachable
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
