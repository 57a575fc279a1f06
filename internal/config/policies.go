package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/models"
)

var (
	ErrInvalidPolicy  = errors.New("invalid rate limit policy")
	ErrInvalidPattern = errors.New("invalid anomaly pattern")
)

// RateLimitPolicy is a named limit applied to one endpoint category.
type RateLimitPolicy struct {
	Name   string        `yaml:"name" json:"name"`
	Limit  int           `yaml:"limit" json:"limit"`
	Window time.Duration `yaml:"window" json:"window"`
}

// Pattern sources.
const (
	SourceActivity = "activity"
	SourceLedger   = "ledger"
)

// PatternDefinition is a named anomaly rule evaluated against the activity stream
// or, for SourceLedger, against the attempt ledger of LedgerPolicy.
type PatternDefinition struct {
	Name         string          `yaml:"name" json:"name"`
	Actions      []string        `yaml:"actions" json:"actions"`
	PerActor     bool            `yaml:"per_actor" json:"per_actor"`
	Threshold    int             `yaml:"threshold" json:"threshold"`
	Window       time.Duration   `yaml:"window" json:"window"`
	Severity     models.Severity `yaml:"severity" json:"severity"`
	Source       string          `yaml:"source" json:"source"`
	LedgerPolicy string          `yaml:"ledger_policy" json:"ledger_policy,omitempty"`
}

// Matches reports whether actionType triggers this pattern.
func (p PatternDefinition) Matches(actionType string) bool {
	for _, a := range p.Actions {
		if a == actionType {
			return true
		}
	}
	return false
}

// Policies is an immutable, name-indexed set of rate-limit policies.
type Policies struct {
	byName map[string]RateLimitPolicy
}

// NewPolicies validates the list and freezes it.
func NewPolicies(list []RateLimitPolicy) (Policies, error) {
	byName := make(map[string]RateLimitPolicy, len(list))
	for _, p := range list {
		if p.Name == "" {
			return Policies{}, fmt.Errorf("%w: missing name", ErrInvalidPolicy)
		}
		if p.Limit <= 0 {
			return Policies{}, fmt.Errorf("%w: %s: limit must be positive", ErrInvalidPolicy, p.Name)
		}
		if p.Window <= 0 {
			return Policies{}, fmt.Errorf("%w: %s: window must be positive", ErrInvalidPolicy, p.Name)
		}
		if _, dup := byName[p.Name]; dup {
			return Policies{}, fmt.Errorf("%w: duplicate name %s", ErrInvalidPolicy, p.Name)
		}
		byName[p.Name] = p
	}
	return Policies{byName: byName}, nil
}

// Lookup returns the named policy.
func (p Policies) Lookup(name string) (RateLimitPolicy, bool) {
	policy, ok := p.byName[name]
	return policy, ok
}

// List returns the policies sorted by name.
func (p Policies) List() []RateLimitPolicy {
	out := make([]RateLimitPolicy, 0, len(p.byName))
	for _, policy := range p.byName {
		out = append(out, policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Patterns is an immutable, ordered set of anomaly patterns.
type Patterns struct {
	list []PatternDefinition
}

// NewPatterns validates the list and freezes it.
func NewPatterns(list []PatternDefinition) (Patterns, error) {
	seen := make(map[string]struct{}, len(list))
	out := make([]PatternDefinition, 0, len(list))
	for _, p := range list {
		if p.Name == "" {
			return Patterns{}, fmt.Errorf("%w: missing name", ErrInvalidPattern)
		}
		if _, dup := seen[p.Name]; dup {
			return Patterns{}, fmt.Errorf("%w: duplicate name %s", ErrInvalidPattern, p.Name)
		}
		if p.Threshold <= 0 || p.Window <= 0 {
			return Patterns{}, fmt.Errorf("%w: %s: threshold and window must be positive", ErrInvalidPattern, p.Name)
		}
		if len(p.Actions) == 0 {
			return Patterns{}, fmt.Errorf("%w: %s: no actions", ErrInvalidPattern, p.Name)
		}
		if !p.Severity.Valid() {
			return Patterns{}, fmt.Errorf("%w: %s: unknown severity %q", ErrInvalidPattern, p.Name, p.Severity)
		}
		switch p.Source {
		case "":
			p.Source = SourceActivity
		case SourceActivity:
		case SourceLedger:
			if p.LedgerPolicy == "" {
				return Patterns{}, fmt.Errorf("%w: %s: ledger source needs ledger_policy", ErrInvalidPattern, p.Name)
			}
		default:
			return Patterns{}, fmt.Errorf("%w: %s: unknown source %q", ErrInvalidPattern, p.Name, p.Source)
		}
		p.Actions = append([]string(nil), p.Actions...)
		seen[p.Name] = struct{}{}
		out = append(out, p)
	}
	return Patterns{list: out}, nil
}

// List returns a copy of the patterns in declaration order.
func (p Patterns) List() []PatternDefinition {
	out := make([]PatternDefinition, len(p.list))
	copy(out, p.list)
	return out
}

// ForAction returns every pattern triggered by actionType.
func (p Patterns) ForAction(actionType string) []PatternDefinition {
	var out []PatternDefinition
	for _, def := range p.list {
		if def.Matches(actionType) {
			out = append(out, def)
		}
	}
	return out
}

// Lookup returns the named pattern.
func (p Patterns) Lookup(name string) (PatternDefinition, bool) {
	for _, def := range p.list {
		if def.Name == name {
			return def, true
		}
	}
	return PatternDefinition{}, false
}

// DefaultPolicies returns the built-in endpoint policies.
func DefaultPolicies() Policies {
	p, err := NewPolicies([]RateLimitPolicy{
		{Name: "oauth_token_exchange", Limit: 10, Window: time.Minute},
		{Name: "bulk_import", Limit: 5, Window: time.Hour},
		{Name: "email_send", Limit: 100, Window: time.Hour},
		{Name: "login", Limit: 5, Window: 15 * time.Minute},
		{Name: "api_general", Limit: 300, Window: time.Minute},
		{Name: "activity_ingest", Limit: 600, Window: time.Minute},
	})
	if err != nil {
		panic(err)
	}
	return p
}

// DefaultPatterns returns the built-in anomaly rules.
func DefaultPatterns() Patterns {
	p, err := NewPatterns([]PatternDefinition{
		{
			Name:      "bulk_entity_creation",
			Actions:   []string{"contact_created", "company_created", "lead_created"},
			PerActor:  true,
			Threshold: 50,
			Window:    5 * time.Minute,
			Severity:  models.SeverityMedium,
		},
		{
			Name:      "bulk_deal_creation",
			Actions:   []string{"deal_created"},
			PerActor:  true,
			Threshold: 20,
			Window:    5 * time.Minute,
			Severity:  models.SeverityMedium,
		},
		{
			Name:      "excessive_updates",
			Actions:   []string{"contact_updated", "company_updated", "deal_updated", "lead_updated"},
			PerActor:  true,
			Threshold: 100,
			Window:    10 * time.Minute,
			Severity:  models.SeverityHigh,
		},
		{
			Name:      "rapid_logins",
			Actions:   []string{"login"},
			PerActor:  true,
			Threshold: 10,
			Window:    time.Minute,
			Severity:  models.SeverityCritical,
		},
	})
	if err != nil {
		panic(err)
	}
	return p
}

type policyFile struct {
	Policies []RateLimitPolicy   `yaml:"policies"`
	Patterns []PatternDefinition `yaml:"patterns"`
}

// LoadPolicyFile parses a YAML policy document. Sections left empty yield
// empty sets; callers keep their defaults for those.
func LoadPolicyFile(path string) (Policies, Patterns, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policies{}, Patterns{}, err
	}
	return ParsePolicyDocument(data)
}

// ParsePolicyDocument decodes and validates a policy document.
func ParsePolicyDocument(data []byte) (Policies, Patterns, error) {
	var doc policyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Policies{}, Patterns{}, fmt.Errorf("parse yaml: %w", err)
	}
	policies, err := NewPolicies(doc.Policies)
	if err != nil {
		return Policies{}, Patterns{}, err
	}
	patterns, err := NewPatterns(doc.Patterns)
	if err != nil {
		return Policies{}, Patterns{}, err
	}
	return policies, patterns, nil
}
