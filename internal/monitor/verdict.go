package monitor

import (
	"fmt"

	"github.com/hamed0406/downdetector/internal/aggregate"
	"github.com/hamed0406/downdetector/internal/analyzer"
	"github.com/hamed0406/downdetector/internal/domain"
)

// RootVerdict classifies a root probe. Transport failures and 5xx are down,
// 4xx is degraded, and a successful page defers to content analysis.
func RootVerdict(p domain.ProbeResult, content analyzer.Verdict) aggregate.Root {
	r := aggregate.Root{StatusCode: p.StatusCode, ElapsedMs: p.ElapsedMs}
	switch p.Failure {
	case domain.FailureTimeout:
		r.State = domain.Down
		r.ErrorMessage = fmt.Sprintf("timeout after %dms", p.ElapsedMs)
	case domain.FailureUnreachable:
		r.State = domain.Down
		r.ErrorMessage = "unreachable: " + p.Detail
	case domain.FailureServerError:
		r.State = domain.Down
		r.ErrorMessage = httpMessage(p)
	case domain.FailureClientError:
		r.State = domain.Degraded
		r.ErrorMessage = httpMessage(p)
	default:
		if content.Matched {
			r.State = content.State
			r.ErrorMessage = content.Message
		} else {
			r.State = domain.Operational
		}
	}
	return r
}

func httpMessage(p domain.ProbeResult) string {
	if p.StatusCode == nil {
		return p.Detail
	}
	return fmt.Sprintf("HTTP %d", *p.StatusCode)
}
