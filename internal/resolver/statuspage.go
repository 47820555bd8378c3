package resolver

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/hamed0406/downdetector/internal/analyzer"
	"github.com/hamed0406/downdetector/internal/domain"
)

// StatuspageParser reads hosted status pages that tag every component
// container with a data-component-status attribute.
type StatuspageParser struct{}

var statuspageStates = map[string]domain.HealthState{
	"operational":          domain.Operational,
	"degraded_performance": domain.Degraded,
	"partial_outage":       domain.PartialOutage,
	"major_outage":         domain.MajorOutage,
	"under_maintenance":    domain.Maintenance,
}

func (StatuspageParser) Parse(body []byte, target domain.TargetDefinition) map[string]Finding {
	out := make(map[string]Finding)
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return out
	}

	listed := make(map[string]domain.HealthState)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if status, ok := attr(n, "data-component-status"); ok {
				if st, known := statuspageStates[status]; known {
					if name := componentName(n); name != "" {
						if prev, dup := listed[name]; !dup || st.Worse(prev) {
							listed[name] = st
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, c := range target.Components {
		for _, alias := range Aliases(target, c) {
			st, ok := listed[alias]
			if !ok {
				continue
			}
			f := Finding{State: st, Source: SourceStatuspage}
			if st != domain.Operational {
				f.Message = "status page reports " + st.String()
			}
			out[c.ID] = f
			break
		}
	}
	return out
}

// componentName returns the normalized text of the first descendant whose
// class list contains "name".
func componentName(n *html.Node) string {
	var found *html.Node
	var find func(*html.Node)
	find = func(x *html.Node) {
		if found != nil {
			return
		}
		if x.Type == html.ElementNode {
			if cls, ok := attr(x, "class"); ok {
				for _, c := range strings.Fields(cls) {
					if c == "name" {
						found = x
						return
					}
				}
			}
		}
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(n)
	if found == nil {
		return ""
	}
	var b strings.Builder
	var text func(*html.Node)
	text = func(x *html.Node) {
		if x.Type == html.TextNode {
			b.WriteString(x.Data)
			b.WriteByte(' ')
		}
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			text(c)
		}
	}
	text(found)
	return analyzer.Normalize(b.String())
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
