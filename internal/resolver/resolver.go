// Package resolver infers sub-component health from a parent status page,
// confirmed by live functional probes where configured.
package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/hamed0406/downdetector/internal/domain"
	"github.com/hamed0406/downdetector/internal/probe"
)

// FunctionalProber is satisfied by *probe.FunctionalChecker.
type FunctionalProber interface {
	Check(ctx context.Context, fc domain.FunctionalCheck) probe.FunctionalVerdict
}

type Resolver struct {
	parsers    map[string]StatusPageParser
	fallback   StatusPageParser
	functional FunctionalProber
	now        func() time.Time
}

// New builds a resolver with the keyword parser as fallback and a
// Statuspage parser for provider "statuspage". functional may be nil.
func New(window int, functional FunctionalProber) *Resolver {
	return &Resolver{
		parsers: map[string]StatusPageParser{
			"statuspage": StatuspageParser{},
		},
		fallback:   KeywordParser{Window: window},
		functional: functional,
		now:        time.Now,
	}
}

// Register sets the parser used for a provider name.
func (r *Resolver) Register(provider string, p StatusPageParser) {
	r.parsers[provider] = p
}

// Resolve computes one ComponentStatus per component of target, in catalog order.
func (r *Resolver) Resolve(ctx context.Context, target domain.TargetDefinition, root domain.ProbeResult) []domain.ComponentStatus {
	if len(target.Components) == 0 {
		return nil
	}
	now := r.now().UTC()
	out := make([]domain.ComponentStatus, len(target.Components))

	if root.Failure == domain.FailureServerError || root.Failure == domain.FailureUnreachable {
		for i, c := range target.Components {
			out[i] = domain.ComponentStatus{
				ComponentID:  c.ID,
				State:        domain.Down,
				ElapsedMs:    root.ElapsedMs,
				ErrorMessage: "parent page " + string(root.Failure),
				StatusCode:   root.StatusCode,
				CheckedAt:    now,
				Source:       SourceShortCircuit,
			}
		}
		return out
	}

	findings := r.findings(target, root)
	for i, c := range target.Components {
		cs := domain.ComponentStatus{
			ComponentID: c.ID,
			ElapsedMs:   root.ElapsedMs,
			StatusCode:  root.StatusCode,
			CheckedAt:   now,
		}
		if f, ok := findings[c.ID]; ok {
			cs.State, cs.ErrorMessage, cs.Source = f.State, f.Message, f.Source
		} else {
			cs.State = domain.Unknown
			cs.ErrorMessage = "component not mentioned on status page"
			cs.Source = SourceNotFound
		}
		out[i] = cs
	}

	if r.functional != nil {
		r.applyFunctional(ctx, target, out)
	}
	return out
}

func (r *Resolver) findings(target domain.TargetDefinition, root domain.ProbeResult) map[string]Finding {
	if len(root.Body) == 0 {
		return nil
	}
	var found map[string]Finding
	if p, ok := r.parsers[target.Provider]; ok {
		found = p.Parse(root.Body, target)
	}
	if len(found) == len(target.Components) {
		return found
	}
	rest := r.fallback.Parse(root.Body, target)
	if found == nil {
		return rest
	}
	for id, f := range rest {
		if _, ok := found[id]; !ok {
			found[id] = f
		}
	}
	return found
}

func (r *Resolver) applyFunctional(ctx context.Context, target domain.TargetDefinition, out []domain.ComponentStatus) {
	var wg sync.WaitGroup
	for i, c := range target.Components {
		if c.Functional == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := r.functional.Check(ctx, *c.Functional)
			out[i] = MergeFunctional(out[i], v)
		}()
	}
	wg.Wait()
}

// MergeFunctional combines a text-derived status with a live probe. A down
// probe wins over unknown or operational text; a live probe confirms unknown
// or operational text but never hides a more specific adverse text verdict.
func MergeFunctional(text domain.ComponentStatus, v probe.FunctionalVerdict) domain.ComponentStatus {
	out := text
	switch {
	case v.State == domain.Down:
		if domain.Down.Worse(text.State) {
			out.State = domain.Down
			out.ErrorMessage = v.Message
			out.StatusCode = v.StatusCode
			out.ElapsedMs = v.ElapsedMs
			out.Source = SourceFunctional
		}
	case text.State == domain.Operational || text.State == domain.Unknown:
		out.State = domain.Operational
		out.ErrorMessage = ""
		out.StatusCode = v.StatusCode
		out.ElapsedMs = v.ElapsedMs
		out.Source = SourceFunctional
	}
	return out
}
