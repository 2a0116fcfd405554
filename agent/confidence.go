package agent

import (
	"fmt"
	"strings"

	"github.com/F8ai/formul8-platform-sub006/agentqa"
)

// ConfidenceInput is everything a confidence rule may look at.
type ConfidenceInput struct {
	AgentType string
	Mode      agentqa.Mode
	Query     string
	Text      string
	Sources   []string
	// Reported is the backend's own confidence, if it sent one.
	Reported *float64
	// Metadata merges the caller's query context with the response metadata.
	Metadata map[string]interface{}
}

// BaseConfidence is the agent-independent heuristic. A backend-reported
// value wins (clamped). Otherwise non-empty text with at least one source
// scores 85, non-empty text alone 70, and anything else 50.
func BaseConfidence(in ConfidenceInput) float64 {
	if in.Reported != nil {
		return agentqa.Clamp(*in.Reported)
	}
	hasText := strings.TrimSpace(in.Text) != ""
	switch {
	case hasText && len(in.Sources) > 0:
		return 85
	case hasText:
		return 70
	default:
		return 50
	}
}

// ConfidenceRule adjusts the base confidence by Delta when When matches.
type ConfidenceRule struct {
	Name  string
	When  func(ConfidenceInput) bool
	Delta float64
}

// ScoreConfidence applies rules in order on top of BaseConfidence and clamps
// the result to [0, 100].
func ScoreConfidence(in ConfidenceInput, rules []ConfidenceRule) float64 {
	score := BaseConfidence(in)
	for _, rule := range rules {
		if rule.When != nil && rule.When(in) {
			score += rule.Delta
		}
	}
	return agentqa.Clamp(score)
}

// RuleSpec is the declarative form of a ConfidenceRule, as written in
// configuration. Every condition that is set must hold for the rule to fire.
type RuleSpec struct {
	Name  string  `mapstructure:"name" json:"name" yaml:"name"`
	Delta float64 `mapstructure:"delta" json:"delta" yaml:"delta"`

	// MinLength requires at least this many characters of answer text.
	MinLength int `mapstructure:"min_length" json:"min_length,omitempty" yaml:"min_length,omitempty"`
	// HasSources requires sources to be present (true) or absent (false).
	HasSources *bool `mapstructure:"has_sources" json:"has_sources,omitempty" yaml:"has_sources,omitempty"`
	// MetadataEquals requires metadata[key] to render equal to the value.
	MetadataEquals map[string]string `mapstructure:"metadata_equals" json:"metadata_equals,omitempty" yaml:"metadata_equals,omitempty"`
	// QueryContains requires the query to contain any of these terms
	// (case-insensitive).
	QueryContains []string `mapstructure:"query_contains" json:"query_contains,omitempty" yaml:"query_contains,omitempty"`
	// Modes restricts the rule to the listed modes.
	Modes []string `mapstructure:"modes" json:"modes,omitempty" yaml:"modes,omitempty"`
}

// Compile turns the declarative form into a rule.
func (s RuleSpec) Compile() (ConfidenceRule, error) {
	if s.Name == "" {
		return ConfidenceRule{}, fmt.Errorf("confidence rule needs a name")
	}
	if s.Delta == 0 {
		return ConfidenceRule{}, fmt.Errorf("confidence rule %s has zero delta", s.Name)
	}

	modes := make(map[agentqa.Mode]bool, len(s.Modes))
	for _, name := range s.Modes {
		mode, err := agentqa.ParseMode(name)
		if err != nil {
			return ConfidenceRule{}, fmt.Errorf("confidence rule %s: %w", s.Name, err)
		}
		modes[mode] = true
	}

	terms := make([]string, 0, len(s.QueryContains))
	for _, term := range s.QueryContains {
		terms = append(terms, strings.ToLower(term))
	}

	spec := s
	return ConfidenceRule{
		Name:  s.Name,
		Delta: s.Delta,
		When: func(in ConfidenceInput) bool {
			if len(modes) > 0 && !modes[in.Mode] {
				return false
			}
			if spec.MinLength > 0 && len(strings.TrimSpace(in.Text)) < spec.MinLength {
				return false
			}
			if spec.HasSources != nil && (len(in.Sources) > 0) != *spec.HasSources {
				return false
			}
			for key, want := range spec.MetadataEquals {
				got, ok := in.Metadata[key]
				if !ok || !strings.EqualFold(fmt.Sprint(got), want) {
					return false
				}
			}
			if len(terms) > 0 {
				query := strings.ToLower(in.Query)
				matched := false
				for _, term := range terms {
					if strings.Contains(query, term) {
						matched = true
						break
					}
				}
				if !matched {
					return false
				}
			}
			return true
		},
	}, nil
}

// CompileRules compiles specs in order.
func CompileRules(specs []RuleSpec) ([]ConfidenceRule, error) {
	rules := make([]ConfidenceRule, 0, len(specs))
	for _, spec := range specs {
		rule, err := spec.Compile()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LongSourcedAnswerBoost raises confidence for answers of at least minLength
// characters that cite sources.
func LongSourcedAnswerBoost(minLength int, delta float64) ConfidenceRule {
	return ConfidenceRule{
		Name:  "long-sourced-answer",
		Delta: delta,
		When: func(in ConfidenceInput) bool {
			return len(strings.TrimSpace(in.Text)) >= minLength && len(in.Sources) > 0
		},
	}
}

// MissingSourcesPenalty lowers confidence for answers without sources.
func MissingSourcesPenalty(delta float64) ConfidenceRule {
	return ConfidenceRule{
		Name:  "missing-sources",
		Delta: delta,
		When: func(in ConfidenceInput) bool {
			return strings.TrimSpace(in.Text) != "" && len(in.Sources) == 0
		},
	}
}

// MetadataMatch adjusts confidence when metadata[key] equals value.
func MetadataMatch(key, value string, delta float64) ConfidenceRule {
	return ConfidenceRule{
		Name:  key + "=" + value,
		Delta: delta,
		When: func(in ConfidenceInput) bool {
			got, ok := in.Metadata[key]
			return ok && strings.EqualFold(fmt.Sprint(got), value)
		},
	}
}
