package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hamed0406/downdetector/internal/domain"
)

func TestMetrics_HandlerExposesRecordedValues(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.BatchCommitted(3)
	m.BatchSkipped(SkipQuota)
	m.TargetState("github", domain.MajorOutage)
	m.Probe("github", domain.ProbeResult{Failure: domain.FailureTimeout, ElapsedMs: 10000})
	m.HTTPRequest("GET", "/api/status", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"downdetector_batch_commits_total 1",
		`downdetector_batch_skips_total{reason="quota"} 1`,
		`downdetector_target_state{target="github"} 5`,
		`downdetector_probes_total{failure="timeout",target="github"} 1`,
		`downdetector_http_requests_total{method="GET",route="/api/status",status="2xx"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in metrics output", want)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.CycleStarted()
	m.CycleFinished(time.Second, true)
	m.BatchCommitted(1)
	m.WSClients(1)
	if m.Handler() == nil {
		t.Fatal("nil metrics should still return a handler")
	}
}
