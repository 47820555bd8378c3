package domain

import (
	"fmt"
	"strings"
)

// HealthState is the status of a service or component. Values are ordered by
// severity: a larger value is worse.
type HealthState int

const (
	Operational HealthState = iota
	Unknown
	Maintenance
	Degraded
	PartialOutage
	MajorOutage
	Down
)

var stateNames = [...]string{
	Operational:   "operational",
	Unknown:       "unknown",
	Maintenance:   "maintenance",
	Degraded:      "degraded",
	PartialOutage: "partialOutage",
	MajorOutage:   "majorOutage",
	Down:          "down",
}

func (s HealthState) String() string {
	if s < Operational || s > Down {
		return fmt.Sprintf("HealthState(%d)", int(s))
	}
	return stateNames[s]
}

// Worse reports whether s is strictly more severe than o.
func (s HealthState) Worse(o HealthState) bool { return s > o }

// Worst returns the most severe of the given states, or Operational for none.
func Worst(states ...HealthState) HealthState {
	w := Operational
	for _, s := range states {
		if s > w {
			w = s
		}
	}
	return w
}

// ParseHealthState accepts the canonical names plus snake_case and a few
// common spellings ("major_outage", "partial outage").
func ParseHealthState(raw string) (HealthState, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	for i, name := range stateNames {
		if strings.ToLower(name) == key {
			return HealthState(i), nil
		}
	}
	return Unknown, fmt.Errorf("%w: unknown health state %q", ErrInvalidInput, raw)
}

func (s HealthState) MarshalText() ([]byte, error) {
	if s < Operational || s > Down {
		return nil, fmt.Errorf("invalid health state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *HealthState) UnmarshalText(b []byte) error {
	v, err := ParseHealthState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
