package resolver

import (
	"github.com/hamed0406/downdetector/internal/domain"
)

// Finding is what a parser could infer about one component from page text.
// Findings are advisory: the page is third-party prose, not an API.
type Finding struct {
	State   domain.HealthState
	Message string
	Source  string
}

// StatusPageParser infers component health from a parent status page. One
// implementation exists per page provider. Components the parser cannot
// locate are absent from the returned map.
type StatusPageParser interface {
	Parse(body []byte, target domain.TargetDefinition) map[string]Finding
}

// Source labels recorded on ComponentStatus.
const (
	SourceKeyword      = "keyword"
	SourceStatuspage   = "statuspage"
	SourceFunctional   = "functional"
	SourceShortCircuit = "shortcircuit"
	SourceNotFound     = "notfound"
)
