package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hamed0406/downdetector/internal/analyzer"
	"github.com/hamed0406/downdetector/internal/cache"
	"github.com/hamed0406/downdetector/internal/domain"
	"github.com/hamed0406/downdetector/internal/probe"
	"github.com/hamed0406/downdetector/internal/repo/memory"
	"github.com/hamed0406/downdetector/internal/resolver"
)

// scriptedProber replays a sequence of results per URL; the last one repeats.
type scriptedProber struct {
	mu     sync.Mutex
	script map[string][]domain.ProbeResult
	calls  map[string]int
	// panics counts the calls per URL that panic before the script applies.
	panics map[string]int
}

func newScripted() *scriptedProber {
	return &scriptedProber{
		script: map[string][]domain.ProbeResult{},
		calls:  map[string]int{},
		panics: map[string]int{},
	}
}

func (s *scriptedProber) set(url string, rs ...domain.ProbeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[url] = rs
	s.calls[url] = 0
}

func (s *scriptedProber) count(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

func (s *scriptedProber) Probe(_ context.Context, url string) domain.ProbeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics[url] > 0 {
		s.panics[url]--
		panic("prober bug")
	}
	rs := s.script[url]
	n := s.calls[url]
	s.calls[url]++
	if len(rs) == 0 {
		return domain.ProbeResult{Failure: domain.FailureUnreachable, Detail: "no script"}
	}
	if n >= len(rs) {
		n = len(rs) - 1
	}
	return rs[n]
}

func ok(body string) domain.ProbeResult {
	return domain.ProbeResult{StatusCode: domain.IntPtr(200), ElapsedMs: 40, Body: []byte(body)}
}

func timeout() domain.ProbeResult {
	return domain.ProbeResult{ElapsedMs: 10000, Failure: domain.FailureTimeout, Detail: "context deadline exceeded"}
}

type harness struct {
	engine *Engine
	prober *scriptedProber
	store  *memory.Store
	clock  time.Time
	sleeps []time.Duration
}

func newHarness(t *testing.T, targets []domain.TargetDefinition, functional resolver.FunctionalProber) *harness {
	t.Helper()
	h := &harness{prober: newScripted(), store: memory.New(), clock: time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)}
	w := cache.NewWriter(h.store, nil, cache.Options{StaleAfter: 30 * time.Second, LatencyChangePct: 10}, nil, nil)
	h.engine = NewEngine(Deps{
		Targets:  targets,
		Prober:   h.prober,
		Resolver: resolver.New(resolver.DefaultWindow, functional),
		Writer:   w,
		Store:    h.store,
	}, Options{TripleCheckDelay: 2 * time.Second, MaxConcurrent: 4})
	h.engine.now = func() time.Time { return h.clock }
	h.engine.triple.Sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func (h *harness) cycle(t *testing.T) map[domain.TargetID]domain.ServiceSnapshot {
	t.Helper()
	rep, err := h.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	out := map[domain.TargetID]domain.ServiceSnapshot{}
	for _, s := range rep.Snapshots {
		out[s.TargetID] = s
	}
	h.clock = h.clock.Add(time.Minute)
	return out
}

func simpleTarget(id, url string, sigs ...domain.Signature) domain.TargetDefinition {
	return domain.TargetDefinition{ID: domain.TargetID(id), Name: id, URL: url, Kind: domain.KindInternal, Signatures: sigs}
}

func TestCycle_HealthyTargetIsOperational(t *testing.T) {
	h := newHarness(t, []domain.TargetDefinition{simpleTarget("web", "http://web")}, nil)
	h.prober.set("http://web", ok("<h1>hello</h1>"))

	now := h.clock
	got := h.cycle(t)["web"]
	if got.State != domain.Operational || got.ConsecutiveFailures != 0 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if got.LastHealthyAt == nil || !got.LastHealthyAt.Equal(now) {
		t.Fatalf("lastHealthyAt should be the cycle time, got %v", got.LastHealthyAt)
	}
	if h.prober.count("http://web") != 1 || len(h.sleeps) != 0 {
		t.Fatalf("healthy first probe must not be re-checked")
	}
}

func TestCycle_TransientFailureIsSuppressed(t *testing.T) {
	h := newHarness(t, []domain.TargetDefinition{simpleTarget("web", "http://web")}, nil)
	h.prober.set("http://web", timeout(), ok("fine"))

	got := h.cycle(t)["web"]
	if got.State != domain.Operational || got.ErrorMessage != "" || got.ConsecutiveFailures != 0 {
		t.Fatalf("transient failure leaked into snapshot: %+v", got)
	}
	persisted, err := h.store.Snapshot(context.Background(), "web")
	if err != nil || persisted.State != domain.Operational {
		t.Fatalf("persisted: %+v err=%v", persisted, err)
	}
	if len(h.sleeps) != 1 || h.sleeps[0] != 2*time.Second {
		t.Fatalf("sleeps: %v", h.sleeps)
	}
}

func TestCycle_ScenarioA_ContentSignatureDegrades(t *testing.T) {
	sig := domain.Signature{Phrase: "We're having trouble", State: domain.Degraded, Message: "login page shows trouble banner"}
	h := newHarness(t, []domain.TargetDefinition{simpleTarget("app", "http://app", sig)}, nil)

	h.prober.set("http://app", ok("<p>welcome</p>"))
	h.cycle(t)

	h.prober.set("http://app", ok("<div class=banner>We’re having   trouble loading this page</div>"))
	got := h.cycle(t)["app"]
	if got.State != domain.Degraded {
		t.Fatalf("want degraded, got %+v", got)
	}
	if got.ErrorMessage != "login page shows trouble banner" {
		t.Fatalf("errorMessage: %q", got.ErrorMessage)
	}
	if got.ConsecutiveFailures != 1 {
		t.Fatalf("want 1 failure after operational prior, got %d", got.ConsecutiveFailures)
	}

	got = h.cycle(t)["app"]
	if got.ConsecutiveFailures != 2 {
		t.Fatalf("want 2, got %d", got.ConsecutiveFailures)
	}
}

func TestCycle_ScenarioB_TimeoutOnEveryAttempt(t *testing.T) {
	h := newHarness(t, []domain.TargetDefinition{simpleTarget("api", "http://api")}, nil)
	h.prober.set("http://api", ok("up"))
	first := h.cycle(t)["api"]

	h.prober.set("http://api", timeout())
	got := h.cycle(t)["api"]
	if got.State != domain.Down {
		t.Fatalf("want down, got %s", got.State)
	}
	if !strings.HasPrefix(got.ErrorMessage, "timeout") {
		t.Fatalf("want timeout message, got %q", got.ErrorMessage)
	}
	if got.LastHealthyAt == nil || !got.LastHealthyAt.Equal(*first.LastHealthyAt) {
		t.Fatalf("lastHealthyAt changed: %v vs %v", got.LastHealthyAt, first.LastHealthyAt)
	}
	if n := h.prober.count("http://api"); n != 3 {
		t.Fatalf("want 3 attempts, got %d", n)
	}
	if len(h.sleeps) != 2 || h.sleeps[1] != 2*h.sleeps[0] {
		t.Fatalf("want doubling delays, got %v", h.sleeps)
	}

	// a further failing cycle keeps counting and keeps the healthy mark
	again := h.cycle(t)["api"]
	if again.ConsecutiveFailures != got.ConsecutiveFailures+1 {
		t.Fatalf("failures: %d then %d", got.ConsecutiveFailures, again.ConsecutiveFailures)
	}
	if !again.LastHealthyAt.Equal(*got.LastHealthyAt) {
		t.Fatalf("lastHealthyAt moved during an outage")
	}
}

func TestCycle_ScenarioC_FunctionalClientErrorIsOperational(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing credentials", http.StatusBadRequest)
	}))
	defer api.Close()

	target := domain.TargetDefinition{
		ID: "acme", Name: "Acme", URL: "http://acme-status",
		Components: []domain.ComponentDefinition{
			{ID: "auth", Name: "Sign-in", Type: domain.ComponentAuth, Functional: &domain.FunctionalCheck{URL: api.URL, Method: http.MethodPost}},
		},
	}
	h := newHarness(t, []domain.TargetDefinition{target}, probe.NewFunctionalChecker(2*time.Second))
	h.prober.set("http://acme-status", ok("<p>status page without the component</p>"))

	got := h.cycle(t)["acme"]
	if len(got.Components) != 1 {
		t.Fatalf("components: %+v", got.Components)
	}
	auth := got.Components[0]
	if auth.State != domain.Operational || auth.Source != resolver.SourceFunctional {
		t.Fatalf("want functional operational, got %+v", auth)
	}
	if auth.StatusCode == nil || *auth.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %v", auth.StatusCode)
	}
	if got.State != domain.Operational {
		t.Fatalf("overall: %s", got.State)
	}
}

func TestCycle_ScenarioD_AbsentComponentIsUnknown(t *testing.T) {
	target := domain.TargetDefinition{
		ID: "acme", Name: "Acme", URL: "http://acme-status",
		Components: []domain.ComponentDefinition{{ID: "billing", Name: "Billing"}},
	}
	h := newHarness(t, []domain.TargetDefinition{target}, nil)
	h.prober.set("http://acme-status", ok("<p>All Systems Operational</p>"))

	got := h.cycle(t)["acme"]
	if got.Components[0].State != domain.Unknown {
		t.Fatalf("want unknown, got %+v", got.Components[0])
	}
	if got.State != domain.Unknown || got.ConsecutiveFailures != 1 {
		t.Fatalf("overall should reflect the unknown component: %+v", got)
	}
}

func TestCycle_WorstComponentDrivesOverall(t *testing.T) {
	target := domain.TargetDefinition{
		ID: "acme", Name: "Acme", URL: "http://acme-status",
		Components: []domain.ComponentDefinition{
			{ID: "web", Name: "Website"},
			{ID: "api", Name: "API"},
		},
	}
	h := newHarness(t, []domain.TargetDefinition{target}, nil)
	body := "<li>Website operational</li>" + strings.Repeat("<p>filler</p>", 80) + "<li>API partial outage</li>"
	h.prober.set("http://acme-status", ok(body))

	got := h.cycle(t)["acme"]
	if got.State != domain.PartialOutage {
		t.Fatalf("want partialOutage, got %s (%+v)", got.State, got.Components)
	}
}

func TestCycle_ServerErrorShortCircuitsComponents(t *testing.T) {
	target := domain.TargetDefinition{
		ID: "acme", Name: "Acme", URL: "http://acme-status",
		Components: []domain.ComponentDefinition{{ID: "web", Name: "Website"}},
	}
	h := newHarness(t, []domain.TargetDefinition{target}, nil)
	h.prober.set("http://acme-status", domain.ProbeResult{StatusCode: domain.IntPtr(503), Failure: domain.FailureServerError})

	got := h.cycle(t)["acme"]
	if got.State != domain.Down || got.ErrorMessage != "HTTP 503" {
		t.Fatalf("unexpected: %+v", got)
	}
	if got.Components[0].Source != resolver.SourceShortCircuit {
		t.Fatalf("component should be short-circuited: %+v", got.Components[0])
	}
}

func TestCycle_PanickingTargetDoesNotSinkTheCycle(t *testing.T) {
	h := newHarness(t, []domain.TargetDefinition{
		simpleTarget("bad", "http://bad"),
		simpleTarget("good", "http://good"),
	}, nil)
	h.prober.set("http://good", ok("fine"))
	h.prober.panics["http://bad"] = 3

	rep, err := h.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(rep.Failed) != 0 {
		t.Fatalf("a panicking attempt is a down verdict, not a failed target: %v", rep.Failed)
	}
	if len(rep.Snapshots) != 2 || !rep.Write.Committed {
		t.Fatalf("both targets should be written: %+v", rep)
	}
	for _, s := range rep.Snapshots {
		if s.TargetID != "bad" {
			continue
		}
		if s.State != domain.Down || !strings.Contains(s.ErrorMessage, "panicked") || s.ConsecutiveFailures != 1 {
			t.Fatalf("unexpected snapshot for panicking target: %+v", s)
		}
	}
	if len(h.sleeps) != 2 {
		t.Fatalf("panicking first attempt should still be re-checked, sleeps=%v", h.sleeps)
	}
}

func TestCycle_FirstAttemptPanicIsSuppressedByRecheck(t *testing.T) {
	h := newHarness(t, []domain.TargetDefinition{simpleTarget("web", "http://web")}, nil)
	h.prober.set("http://web", ok("fine"))
	h.prober.panics["http://web"] = 1

	got := h.cycle(t)["web"]
	if got.State != domain.Operational || got.ConsecutiveFailures != 0 {
		t.Fatalf("transient panic should be suppressed: %+v", got)
	}
	if c := h.prober.count("http://web"); c != 1 {
		t.Fatalf("want one scripted probe after the panic, got %d", c)
	}
}

func TestCycle_PriorComesFromStoreAfterRestart(t *testing.T) {
	ctx := context.Background()
	healthy := time.Date(2025, 8, 18, 8, 0, 0, 0, time.UTC)
	h := newHarness(t, []domain.TargetDefinition{simpleTarget("web", "http://web")}, nil)
	prev := domain.ServiceSnapshot{TargetID: "web", State: domain.Down, ConsecutiveFailures: 7, LastHealthyAt: &healthy}
	if err := h.store.CommitBatch(ctx, domain.BatchMeta{ID: "old", Timestamp: healthy}, []domain.ServiceSnapshot{prev}); err != nil {
		t.Fatal(err)
	}
	h.prober.set("http://web", timeout())

	got := h.cycle(t)["web"]
	if got.ConsecutiveFailures != 8 || !got.LastHealthyAt.Equal(healthy) {
		t.Fatalf("prior not used: %+v", got)
	}
}

func TestCheckOne_RejectsEmptyURLBeforeProbing(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.engine.CheckOne(context.Background(), CheckRequest{TargetID: "x"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
	if len(h.prober.calls) != 0 {
		t.Fatalf("prober must not be called")
	}
}

func TestCheckOne_ReportsStateWithoutPersisting(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.prober.set("http://x", domain.ProbeResult{StatusCode: domain.IntPtr(404), Failure: domain.FailureClientError})

	res, err := h.engine.CheckOne(context.Background(), CheckRequest{TargetID: "x", URL: "http://x"})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.State != domain.Degraded || res.ErrorMessage != "HTTP 404" {
		t.Fatalf("unexpected: %+v", res)
	}
	if h.prober.count("http://x") != 1 {
		t.Fatalf("on-demand checks are single attempts")
	}
	if all, _ := h.store.Snapshots(context.Background()); len(all) != 0 {
		t.Fatalf("on-demand check must not persist")
	}
}

func TestCheckBatch(t *testing.T) {
	h := newHarness(t, nil, nil)
	if _, err := h.engine.CheckBatch(context.Background(), nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("empty batch: %v", err)
	}

	h.prober.set("http://a", ok("a"))
	h.prober.set("http://b", timeout())
	res, err := h.engine.CheckBatch(context.Background(), []CheckRequest{
		{TargetID: "a", URL: "http://a"},
		{TargetID: "b", URL: "http://b"},
		{TargetID: "c", URL: ""},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 3 {
		t.Fatalf("want 3 results, got %d", len(res))
	}
	if !res[0].OK || res[1].OK || res[1].State != domain.Down {
		t.Fatalf("unexpected a/b: %+v %+v", res[0], res[1])
	}
	if res[2].OK || !strings.Contains(res[2].ErrorMessage, "url is required") {
		t.Fatalf("bad entry should fail alone: %+v", res[2])
	}
}

func TestRootVerdict(t *testing.T) {
	cases := []struct {
		name string
		p    domain.ProbeResult
		want domain.HealthState
		msg  string
	}{
		{"ok", ok("x"), domain.Operational, ""},
		{"timeout", timeout(), domain.Down, "timeout after 10000ms"},
		{"unreachable", domain.ProbeResult{Failure: domain.FailureUnreachable, Detail: "connection refused"}, domain.Down, "unreachable: connection refused"},
		{"5xx", domain.ProbeResult{StatusCode: domain.IntPtr(502), Failure: domain.FailureServerError}, domain.Down, "HTTP 502"},
		{"4xx", domain.ProbeResult{StatusCode: domain.IntPtr(429), Failure: domain.FailureClientError}, domain.Degraded, "HTTP 429"},
	}
	for _, c := range cases {
		got := RootVerdict(c.p, analyzerNoMatch)
		if got.State != c.want || got.ErrorMessage != c.msg {
			t.Errorf("%s: got %s %q", c.name, got.State, got.ErrorMessage)
		}
	}
}

var analyzerNoMatch = analyzer.Verdict{State: domain.Operational}
