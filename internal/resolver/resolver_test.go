package resolver

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hamed0406/downdetector/internal/domain"
	"github.com/hamed0406/downdetector/internal/probe"
)

type fakeFunctional struct {
	v     probe.FunctionalVerdict
	calls atomic.Int32
}

func (f *fakeFunctional) Check(_ context.Context, _ domain.FunctionalCheck) probe.FunctionalVerdict {
	f.calls.Add(1)
	return f.v
}

func target() domain.TargetDefinition {
	return domain.TargetDefinition{
		ID:          "acme",
		Name:        "Acme",
		BrandPrefix: "Acme",
		Provider:    "generic",
		Components: []domain.ComponentDefinition{
			{ID: "web", Name: "Acme Website"},
			{ID: "api", Name: "Acme API"},
			{ID: "auth", Name: "Login", Type: domain.ComponentAuth, Functional: &domain.FunctionalCheck{URL: "http://auth.invalid"}},
		},
	}
}

func page(body string) domain.ProbeResult {
	return domain.ProbeResult{StatusCode: domain.IntPtr(200), ElapsedMs: 42, Body: []byte(body)}
}

func byID(cs []domain.ComponentStatus) map[string]domain.ComponentStatus {
	out := map[string]domain.ComponentStatus{}
	for _, c := range cs {
		out[c.ComponentID] = c
	}
	return out
}

func TestResolve_ShortCircuitsOnServerError(t *testing.T) {
	fn := &fakeFunctional{v: probe.FunctionalVerdict{State: domain.Operational}}
	r := New(0, fn)
	root := domain.ProbeResult{StatusCode: domain.IntPtr(502), Failure: domain.FailureServerError, Body: []byte("Website operational")}

	got := r.Resolve(context.Background(), target(), root)
	if len(got) != 3 {
		t.Fatalf("want 3 components, got %d", len(got))
	}
	for _, c := range got {
		if c.State != domain.Down || c.Source != SourceShortCircuit {
			t.Fatalf("want every component down, got %+v", c)
		}
	}
	if fn.calls.Load() != 0 {
		t.Fatalf("short circuit must not run functional probes")
	}
}

func TestResolve_KeywordPriorities(t *testing.T) {
	body := strings.Join([]string{
		"Website: major outage affecting all regions.",
		strings.Repeat("filler text ", 60),
		"API degraded performance, but API docs are operational.",
	}, " ")
	r := New(80, nil)
	got := byID(r.Resolve(context.Background(), target(), page(body)))

	if got["web"].State != domain.MajorOutage {
		t.Fatalf("web: want majorOutage, got %+v", got["web"])
	}
	if got["api"].State != domain.Degraded {
		t.Fatalf("api: degraded must outrank operational, got %+v", got["api"])
	}
}

func TestResolve_PartialOutageIsNotMajor(t *testing.T) {
	r := New(50, nil)
	got := byID(r.Resolve(context.Background(), target(), page("Acme API - partial outage")))
	if got["api"].State != domain.PartialOutage {
		t.Fatalf("want partialOutage, got %+v", got["api"])
	}
}

func TestResolve_NamedWithoutAdverseLanguageIsOperational(t *testing.T) {
	r := New(50, nil)
	got := byID(r.Resolve(context.Background(), target(), page("<div>Website</div><div>API</div>")))
	if got["web"].State != domain.Operational || got["web"].Source != SourceKeyword {
		t.Fatalf("want operational keyword verdict, got %+v", got["web"])
	}
}

func TestResolve_AbsentNameIsUnknown(t *testing.T) {
	r := New(50, nil)
	got := byID(r.Resolve(context.Background(), target(), page("All Systems Operational")))
	for _, id := range []string{"web", "api", "auth"} {
		if got[id].State != domain.Unknown {
			t.Fatalf("%s: want unknown, got %+v", id, got[id])
		}
	}
}

func TestResolve_AliasNeedsWordBoundary(t *testing.T) {
	r := New(50, nil)
	got := byID(r.Resolve(context.Background(), target(), page("rapid outage of the capital")))
	if got["api"].State != domain.Unknown {
		t.Fatalf("'api' inside other words must not match, got %+v", got["api"])
	}
}

func TestResolve_FunctionalClientErrorConfirmsLiveness(t *testing.T) {
	fn := &fakeFunctional{v: probe.FunctionalVerdict{State: domain.Operational, StatusCode: domain.IntPtr(400), ElapsedMs: 7}}
	r := New(50, fn)
	got := byID(r.Resolve(context.Background(), target(), page("nothing relevant")))

	auth := got["auth"]
	if auth.State != domain.Operational || auth.Source != SourceFunctional {
		t.Fatalf("want functional operational, got %+v", auth)
	}
	if auth.StatusCode == nil || *auth.StatusCode != 400 {
		t.Fatalf("want functional status recorded, got %v", auth.StatusCode)
	}
	if fn.calls.Load() != 1 {
		t.Fatalf("want exactly one functional probe, got %d", fn.calls.Load())
	}
}

func TestMergeFunctional(t *testing.T) {
	down := probe.FunctionalVerdict{State: domain.Down, Message: "functional check: HTTP 503"}
	up := probe.FunctionalVerdict{State: domain.Operational, StatusCode: domain.IntPtr(401)}

	cases := []struct {
		text domain.HealthState
		v    probe.FunctionalVerdict
		want domain.HealthState
	}{
		{domain.Operational, down, domain.Down},
		{domain.Unknown, down, domain.Down},
		{domain.Degraded, down, domain.Down},
		{domain.Degraded, up, domain.Degraded},
		{domain.MajorOutage, up, domain.MajorOutage},
		{domain.Unknown, up, domain.Operational},
	}
	for _, c := range cases {
		got := MergeFunctional(domain.ComponentStatus{State: c.text}, c.v)
		if got.State != c.want {
			t.Fatalf("text=%s functional=%s: want %s got %s", c.text, c.v.State, c.want, got.State)
		}
	}
}

const statuspageFixture = `<!DOCTYPE html><html><body>
<div class="components-container">
  <div class="component-container border-color">
    <div class="component-inner-container status-green" data-component-status="operational" data-component-id="a1">
      <span class="name"> Acme Website </span>
      <span class="component-status">Operational</span>
    </div>
  </div>
  <div class="component-container border-color">
    <div class="component-inner-container status-red" data-component-status="major_outage" data-component-id="a2">
      <span class="name">API</span>
      <span class="component-status">Major Outage</span>
    </div>
  </div>
</div>
<p>Subscribe to receive notifications whenever a new incident is created, updated or resolved by the team.</p>
<p>Login service is healthy</p>
</body></html>`

func TestStatuspageParser_ReadsComponentStatus(t *testing.T) {
	tgt := target()
	tgt.Provider = "statuspage"
	got := byID(New(50, nil).Resolve(context.Background(), tgt, page(statuspageFixture)))

	if got["web"].State != domain.Operational || got["web"].Source != SourceStatuspage {
		t.Fatalf("web: %+v", got["web"])
	}
	if got["api"].State != domain.MajorOutage || got["api"].Source != SourceStatuspage {
		t.Fatalf("api: %+v", got["api"])
	}
	// not listed as a component, so the keyword parser decides
	if got["auth"].Source != SourceKeyword || got["auth"].State != domain.Operational {
		t.Fatalf("auth: %+v", got["auth"])
	}
}

func TestAliases_StripsBrandPrefix(t *testing.T) {
	got := Aliases(target(), domain.ComponentDefinition{Name: "Acme  Cloud Storage", Aliases: []string{"S3-compatible"}})
	want := []string{"acme cloud storage", "s3-compatible", "cloud storage"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("aliases: got %v want %v", got, want)
	}
}
