package domain

import "time"

type TargetID string

type TargetKind string

const (
	KindInternal   TargetKind = "internal"
	KindThirdParty TargetKind = "thirdParty"
)

type ComponentType string

const (
	ComponentMain     ComponentType = "main"
	ComponentAuth     ComponentType = "auth"
	ComponentAPI      ComponentType = "api"
	ComponentDatabase ComponentType = "database"
	ComponentCDN      ComponentType = "cdn"
	ComponentOther    ComponentType = "other"
)

// FunctionalCheck describes a live, credential-free request that proves a
// component is serving traffic.
type FunctionalCheck struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

type ComponentDefinition struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	URL     string        `json:"url,omitempty"`
	Type    ComponentType `json:"componentType"`
	Aliases []string      `json:"aliases,omitempty"`

	// Functional is nil for components judged by page text alone.
	Functional *FunctionalCheck `json:"functional,omitempty"`
}

// Signature is a phrase that, when present in a successful page, overrides
// the HTTP verdict.
type Signature struct {
	Phrase  string      `json:"phrase"`
	State   HealthState `json:"state"`
	Message string      `json:"message"`
}

// TargetDefinition is loaded once from the catalog and never mutated.
type TargetDefinition struct {
	ID          TargetID              `json:"id"`
	Name        string                `json:"name"`
	URL         string                `json:"url"`
	Kind        TargetKind            `json:"kind"`
	Provider    string                `json:"provider,omitempty"`
	BrandPrefix string                `json:"brandPrefix,omitempty"`
	Signatures  []Signature           `json:"signatures,omitempty"`
	Components  []ComponentDefinition `json:"components,omitempty"`
}

type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureTimeout     FailureKind = "timeout"
	FailureUnreachable FailureKind = "unreachable"
	FailureClientError FailureKind = "clientError"
	FailureServerError FailureKind = "serverError"
)

// ProbeResult is the raw outcome of one HTTP attempt. Body is nil when the
// request never produced a response.
type ProbeResult struct {
	StatusCode *int
	ElapsedMs  int64
	Body       []byte
	Failure    FailureKind
	Detail     string
}

// Reachable reports whether the probe returned a 2xx or 3xx status.
func (p ProbeResult) Reachable() bool {
	return p.Failure == FailureNone && p.StatusCode != nil
}

type ComponentStatus struct {
	ComponentID  string      `json:"componentId"`
	State        HealthState `json:"state"`
	ElapsedMs    int64       `json:"elapsedMs"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	StatusCode   *int        `json:"statusCode,omitempty"`
	CheckedAt    time.Time   `json:"checkedAt"`

	// Source names how State was inferred; page-derived verdicts are advisory.
	Source string `json:"source,omitempty"`
}

// ServiceSnapshot is the unit of persistence. ConsecutiveFailures is zero
// exactly when State is Operational, and LastHealthyAt never moves backward.
type ServiceSnapshot struct {
	TargetID            TargetID          `json:"targetId"`
	State               HealthState       `json:"state"`
	StatusCode          *int              `json:"statusCode"`
	ElapsedMs           int64             `json:"elapsedMs"`
	ErrorMessage        string            `json:"errorMessage"`
	CheckedAt           time.Time         `json:"checkedAt"`
	LastHealthyAt       *time.Time        `json:"lastHealthyAt"`
	ConsecutiveFailures int               `json:"consecutiveFailures"`
	Components          []ComponentStatus `json:"components"`
}

// Clone returns a deep copy so callers can hand snapshots across goroutines.
func (s ServiceSnapshot) Clone() ServiceSnapshot {
	out := s
	if s.StatusCode != nil {
		v := *s.StatusCode
		out.StatusCode = &v
	}
	if s.LastHealthyAt != nil {
		v := *s.LastHealthyAt
		out.LastHealthyAt = &v
	}
	if s.Components != nil {
		out.Components = make([]ComponentStatus, len(s.Components))
		for i, c := range s.Components {
			if c.StatusCode != nil {
				v := *c.StatusCode
				c.StatusCode = &v
			}
			out.Components[i] = c
		}
	}
	return out
}

type HistoryEntry struct {
	TargetID     TargetID    `json:"targetId"`
	Timestamp    time.Time   `json:"timestamp"`
	State        HealthState `json:"state"`
	ElapsedMs    int64       `json:"elapsedMs"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// BatchMeta is written alongside every committed batch of snapshots.
type BatchMeta struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	TotalTargets int       `json:"totalTargets"`
	WrittenCount int       `json:"writtenCount"`
}

// IntPtr is a small helper for optional status codes.
func IntPtr(v int) *int { return &v }
