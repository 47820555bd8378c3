package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hamed0406/downdetector/internal/domain"
)

// Catalog is the on-disk shape of the targets file.
type Catalog struct {
	Targets []TargetFile `yaml:"targets"`
}

// TargetFile is one monitored service as written in YAML.
type TargetFile struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	URL         string          `yaml:"url"`
	Kind        string          `yaml:"kind"`
	Provider    string          `yaml:"provider"`
	BrandPrefix string          `yaml:"brand_prefix"`
	Signatures  []SignatureFile `yaml:"signatures"`
	Components  []ComponentFile `yaml:"components"`
}

type SignatureFile struct {
	Phrase  string `yaml:"phrase"`
	State   string `yaml:"state"`
	Message string `yaml:"message"`
}

type ComponentFile struct {
	ID         string          `yaml:"id"`
	Name       string          `yaml:"name"`
	URL        string          `yaml:"url"`
	Type       string          `yaml:"type"`
	Aliases    []string        `yaml:"aliases"`
	Functional *FunctionalFile `yaml:"functional"`
}

type FunctionalFile struct {
	URL    string `yaml:"url"`
	Method string `yaml:"method"`
}

// LoadTargets reads and validates the target catalog at path.
func LoadTargets(path string) ([]domain.TargetDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read targets: %w", err)
	}
	return ParseTargets(data)
}

// ParseTargets decodes a YAML catalog. Missing names default to ids, missing
// kinds to thirdParty and missing component types to other.
func ParseTargets(data []byte) ([]domain.TargetDefinition, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("config: parse targets yaml: %w", err)
	}
	if len(cat.Targets) == 0 {
		return nil, fmt.Errorf("config: no targets defined")
	}

	seen := make(map[string]bool, len(cat.Targets))
	out := make([]domain.TargetDefinition, 0, len(cat.Targets))
	for i, raw := range cat.Targets {
		def, err := mapTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("config: targets[%d]: %w", i, err)
		}
		if seen[string(def.ID)] {
			return nil, fmt.Errorf("config: targets[%d]: duplicate id %q", i, def.ID)
		}
		seen[string(def.ID)] = true
		out = append(out, def)
	}
	return out, nil
}

func mapTarget(raw TargetFile) (domain.TargetDefinition, error) {
	if raw.ID == "" {
		return domain.TargetDefinition{}, fmt.Errorf("id is required")
	}
	if !validHTTPURL(raw.URL) {
		return domain.TargetDefinition{}, fmt.Errorf("%q: url %q must be http(s)", raw.ID, raw.URL)
	}
	if raw.Name == "" {
		raw.Name = raw.ID
	}

	def := domain.TargetDefinition{
		ID:          domain.TargetID(raw.ID),
		Name:        raw.Name,
		URL:         raw.URL,
		BrandPrefix: raw.BrandPrefix,
		Provider:    strings.ToLower(raw.Provider),
	}

	switch strings.ToLower(raw.Kind) {
	case "", "thirdparty", "third_party":
		def.Kind = domain.KindThirdParty
	case "internal":
		def.Kind = domain.KindInternal
	default:
		return def, fmt.Errorf("%q: unknown kind %q", raw.ID, raw.Kind)
	}

	switch def.Provider {
	case "":
		def.Provider = "generic"
	case "generic", "statuspage":
	default:
		return def, fmt.Errorf("%q: unknown provider %q", raw.ID, raw.Provider)
	}

	for j, s := range raw.Signatures {
		if strings.TrimSpace(s.Phrase) == "" {
			return def, fmt.Errorf("%q: signatures[%d]: phrase is required", raw.ID, j)
		}
		st := domain.Degraded
		if s.State != "" {
			parsed, err := domain.ParseHealthState(s.State)
			if err != nil {
				return def, fmt.Errorf("%q: signatures[%d]: %w", raw.ID, j, err)
			}
			st = parsed
		}
		msg := s.Message
		if msg == "" {
			msg = "content signature: " + s.Phrase
		}
		def.Signatures = append(def.Signatures, domain.Signature{Phrase: s.Phrase, State: st, Message: msg})
	}

	compSeen := make(map[string]bool)
	for j, c := range raw.Components {
		if c.ID == "" || c.Name == "" {
			return def, fmt.Errorf("%q: components[%d]: id and name are required", raw.ID, j)
		}
		if compSeen[c.ID] {
			return def, fmt.Errorf("%q: components[%d]: duplicate id %q", raw.ID, j, c.ID)
		}
		compSeen[c.ID] = true

		ct, err := componentType(c.Type)
		if err != nil {
			return def, fmt.Errorf("%q: components[%d]: %w", raw.ID, j, err)
		}
		comp := domain.ComponentDefinition{
			ID:      c.ID,
			Name:    c.Name,
			URL:     c.URL,
			Type:    ct,
			Aliases: c.Aliases,
		}
		if c.Functional != nil {
			fu := c.Functional.URL
			if fu == "" {
				fu = c.URL
			}
			if !validHTTPURL(fu) {
				return def, fmt.Errorf("%q: components[%d]: functional check needs an http(s) url", raw.ID, j)
			}
			method := strings.ToUpper(c.Functional.Method)
			if method == "" {
				method = "GET"
			}
			comp.Functional = &domain.FunctionalCheck{URL: fu, Method: method}
		}
		def.Components = append(def.Components, comp)
	}
	return def, nil
}

func componentType(raw string) (domain.ComponentType, error) {
	switch ct := domain.ComponentType(strings.ToLower(raw)); ct {
	case "":
		return domain.ComponentOther, nil
	case domain.ComponentMain, domain.ComponentAuth, domain.ComponentAPI,
		domain.ComponentDatabase, domain.ComponentCDN, domain.ComponentOther:
		return ct, nil
	default:
		return "", fmt.Errorf("unknown component type %q", raw)
	}
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
