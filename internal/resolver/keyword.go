package resolver

import (
	"regexp"
	"strings"

	"github.com/hamed0406/downdetector/internal/analyzer"
	"github.com/hamed0406/downdetector/internal/domain"
)

// DefaultWindow is how many characters on each side of a component name are
// searched for status language.
const DefaultWindow = 300

type category struct {
	state domain.HealthState
	re    *regexp.Regexp
}

func termsRe(terms ...string) *regexp.Regexp {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = regexp.QuoteMeta(t)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

var (
	// partial outages must not be read as full outages
	partialRe = termsRe("partial outage", "partial outages", "partially down", "partially unavailable")

	// ranked from most to least severe; the first category matched wins
	categories = []category{
		{domain.MajorOutage, termsRe("major outage", "outage", "outages", "down", "unavailable",
			"offline", "not working", "service disruption", "disrupted", "unreachable")},
		{domain.PartialOutage, partialRe},
		{domain.Degraded, termsRe("degraded", "degraded performance", "elevated error rates", "elevated errors",
			"increased error rates", "performance issues", "slow", "slowness", "delays", "delayed",
			"intermittent", "investigating", "partially")},
		{domain.Maintenance, termsRe("under maintenance", "scheduled maintenance", "maintenance")},
		{domain.Operational, termsRe("operational", "all systems operational", "no issues", "normal",
			"up and running", "available")},
	}
)

// KeywordParser searches a bounded window around each mention of a component
// for outage, degradation and operational terms.
type KeywordParser struct {
	Window int
}

func (k KeywordParser) Parse(body []byte, target domain.TargetDefinition) map[string]Finding {
	text := analyzer.Normalize(analyzer.PageText(body))
	out := make(map[string]Finding, len(target.Components))
	for _, c := range target.Components {
		if f, ok := k.classify(text, Aliases(target, c)); ok {
			out[c.ID] = f
		}
	}
	return out
}

// classify returns false when none of the aliases occur in text.
func (k KeywordParser) classify(text string, aliases []string) (Finding, bool) {
	w := k.Window
	if w <= 0 {
		w = DefaultWindow
	}
	found := false
	best := len(categories) // index of the best category matched so far
	for _, alias := range aliases {
		for _, at := range occurrences(text, alias) {
			found = true
			lo, hi := at-w, at+len(alias)+w
			if lo < 0 {
				lo = 0
			}
			if hi > len(text) {
				hi = len(text)
			}
			if i := rankWindow(text[lo:hi]); i < best {
				best = i
			}
		}
	}
	if !found {
		return Finding{}, false
	}
	if best == len(categories) {
		// named on a page that loaded, with no adverse language nearby
		return Finding{State: domain.Operational, Source: SourceKeyword}, true
	}
	st := categories[best].state
	f := Finding{State: st, Source: SourceKeyword}
	if st != domain.Operational {
		f.Message = "status page reports " + st.String()
	}
	return f, true
}

func rankWindow(win string) int {
	for i, c := range categories {
		probe := win
		if c.state == domain.MajorOutage {
			probe = partialRe.ReplaceAllString(win, " ")
		}
		if c.re.MatchString(probe) {
			return i
		}
	}
	return len(categories)
}

// occurrences returns the byte offsets of alias in text that sit on word
// boundaries.
func occurrences(text, alias string) []int {
	var out []int
	if alias == "" {
		return out
	}
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], alias)
		if i < 0 {
			break
		}
		at := from + i
		end := at + len(alias)
		if (at == 0 || !isWordByte(text[at-1])) && (end == len(text) || !isWordByte(text[end])) {
			out = append(out, at)
		}
		from = at + 1
	}
	return out
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// Aliases lists the normalized names a component may appear under: its name,
// configured aliases and the name with the brand prefix removed.
func Aliases(target domain.TargetDefinition, c domain.ComponentDefinition) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		s = analyzer.Normalize(s)
		if len(s) < 2 || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	add(c.Name)
	for _, a := range c.Aliases {
		add(a)
	}
	name := analyzer.Normalize(c.Name)
	for _, prefix := range []string{target.BrandPrefix, target.Name} {
		p := analyzer.Normalize(prefix)
		if p != "" && strings.HasPrefix(name, p+" ") {
			add(strings.TrimPrefix(name, p+" "))
		}
	}
	return out
}
