// Package analyzer detects known issue phrases on pages that otherwise
// answered successfully.
package analyzer

import (
	"strings"

	"github.com/hamed0406/downdetector/internal/domain"
)

// Verdict is the outcome of content analysis.
type Verdict struct {
	State   domain.HealthState
	Message string
	Matched bool
}

type rule struct {
	sig    domain.Signature
	phrase string
	loose  string
}

// Registry holds the content signatures of every target, keyed by id.
type Registry struct {
	rules map[domain.TargetID][]rule
}

func NewRegistry(targets []domain.TargetDefinition) *Registry {
	r := &Registry{rules: make(map[domain.TargetID][]rule)}
	for _, t := range targets {
		for _, s := range t.Signatures {
			r.Add(t.ID, s)
		}
	}
	return r
}

func (r *Registry) Add(id domain.TargetID, sig domain.Signature) {
	phrase := Normalize(sig.Phrase)
	if phrase == "" {
		return
	}
	r.rules[id] = append(r.rules[id], rule{sig: sig, phrase: phrase, loose: StripPunct(phrase)})
}

// Has reports whether any signature is registered for id.
func (r *Registry) Has(id domain.TargetID) bool { return len(r.rules[id]) > 0 }

// Analyze checks a successful probe body against the target's signatures.
// When several match, the most severe one wins.
func (r *Registry) Analyze(id domain.TargetID, probe domain.ProbeResult) Verdict {
	rules := r.rules[id]
	if len(rules) == 0 || !probe.Reachable() || len(probe.Body) == 0 {
		return Verdict{State: domain.Operational}
	}
	return matchRules(rules, PageText(probe.Body))
}

func matchRules(rules []rule, text string) Verdict {
	norm := Normalize(text)
	loose := StripPunct(norm)

	best := Verdict{State: domain.Operational}
	for _, rl := range rules {
		hit := strings.Contains(norm, rl.phrase) || (rl.loose != "" && strings.Contains(loose, rl.loose))
		if !hit {
			continue
		}
		if !best.Matched || rl.sig.State.Worse(best.State) {
			best = Verdict{State: rl.sig.State, Message: rl.sig.Message, Matched: true}
		}
	}
	return best
}
