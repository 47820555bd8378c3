// Package metrics exposes the engine's Prometheus collectors. A nil *Metrics
// is valid and records nothing, which keeps tests free of registry setup.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamed0406/downdetector/internal/domain"
)

// Batch skip reasons.
const (
	SkipQuota     = "quota"
	SkipSpacing   = "spacing"
	SkipUnchanged = "unchanged"
	SkipError     = "error"
)

type Metrics struct {
	reg prometheus.Gatherer

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	probes        *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	suppressed    *prometheus.CounterVec
	targetState   *prometheus.GaugeVec
	batchCommits  prometheus.Counter
	batchSkips    *prometheus.CounterVec
	batchWritten  prometheus.Histogram
	historyErrors prometheus.Counter
	alertsSent    *prometheus.CounterVec
	wsClients     prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers every collector on reg. Pass prometheus.NewRegistry() in
// tests and a shared registry in main.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,

		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "downdetector_cycles_total",
			Help: "Check cycles started, by outcome",
		}, []string{"result"}),

		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "downdetector_cycle_duration_seconds",
			Help:    "Wall time of a full check cycle",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),

		probes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "downdetector_probes_total",
			Help: "Root probes by target and failure class",
		}, []string{"target", "failure"}),

		probeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "downdetector_probe_duration_seconds",
			Help:    "Root probe latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),

		suppressed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "downdetector_triple_check_suppressed_total",
			Help: "Adverse first results that a re-check overruled",
		}, []string{"target"}),

		targetState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "downdetector_target_state",
			Help: "Latest aggregated state per target (0=operational ... 6=down)",
		}, []string{"target"}),

		batchCommits: f.NewCounter(prometheus.CounterOpts{
			Name: "downdetector_batch_commits_total",
			Help: "Snapshot batches committed to the store",
		}),

		batchSkips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "downdetector_batch_skips_total",
			Help: "Batches not written, by reason",
		}, []string{"reason"}),

		batchWritten: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "downdetector_batch_written_targets",
			Help:    "Targets included per committed batch",
			Buckets: prometheus.LinearBuckets(1, 5, 10),
		}),

		historyErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "downdetector_history_append_errors_total",
			Help: "History appends that failed",
		}),

		alertsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "downdetector_alerts_sent_total",
			Help: "Notifications sent, by kind",
		}, []string{"kind"}),

		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "downdetector_ws_clients",
			Help: "Connected WebSocket subscribers",
		}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "downdetector_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"method", "route", "status"}),

		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "downdetector_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) CycleStarted() {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("started").Inc()
}

func (m *Metrics) CycleFinished(d time.Duration, panicked bool) {
	if m == nil {
		return
	}
	result := "ok"
	if panicked {
		result = "panic"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) Probe(id domain.TargetID, p domain.ProbeResult) {
	if m == nil {
		return
	}
	failure := string(p.Failure)
	if failure == "" {
		failure = "none"
	}
	m.probes.WithLabelValues(string(id), failure).Inc()
	m.probeDuration.WithLabelValues(string(id)).Observe(float64(p.ElapsedMs) / 1000)
}

func (m *Metrics) Suppressed(id domain.TargetID) {
	if m == nil {
		return
	}
	m.suppressed.WithLabelValues(string(id)).Inc()
}

func (m *Metrics) TargetState(id domain.TargetID, s domain.HealthState) {
	if m == nil {
		return
	}
	m.targetState.WithLabelValues(string(id)).Set(float64(s))
}

func (m *Metrics) BatchCommitted(written int) {
	if m == nil {
		return
	}
	m.batchCommits.Inc()
	m.batchWritten.Observe(float64(written))
}

func (m *Metrics) BatchSkipped(reason string) {
	if m == nil {
		return
	}
	m.batchSkips.WithLabelValues(reason).Inc()
}

func (m *Metrics) HistoryFailed() {
	if m == nil {
		return
	}
	m.historyErrors.Inc()
}

func (m *Metrics) AlertSent(kind string) {
	if m == nil {
		return
	}
	m.alertsSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) WSClients(delta float64) {
	if m == nil {
		return
	}
	m.wsClients.Add(delta)
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
