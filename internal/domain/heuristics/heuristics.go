// Package heuristics implements the rule-based override layer for edge
// signals. Each category holds an ordered rule list; the first rule whose
// condition holds is authoritative for that category.
package heuristics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/stoik/email-risk/internal/domain"
)

// ErrInvalidRule is returned when a heuristics document fails validation
var ErrInvalidRule = errors.New("invalid heuristic rule")

// Category names an independently evaluated signal
type Category string

const (
	CategoryTLDRisk              Category = "tld_risk"
	CategoryDomainReputation     Category = "domain_reputation"
	CategorySequentialConfidence Category = "sequential_confidence"
	CategoryDigitRatio           Category = "digit_ratio"
	CategoryPlusAddressing       Category = "plus_addressing"
)

// Categories lists every category in evaluation order
var Categories = []Category{
	CategoryTLDRisk,
	CategoryDomainReputation,
	CategorySequentialConfidence,
	CategoryDigitRatio,
	CategoryPlusAddressing,
}

// Direction is the comparison a rule applies
type Direction string

const (
	DirectionGTE Direction = "gte"
	DirectionLTE Direction = "lte"
)

// Rule is a single threshold rule
type Rule struct {
	Threshold      float64         `json:"threshold"`
	Decision       domain.Decision `json:"decision"`
	Reason         string          `json:"reason"`
	Direction      Direction       `json:"direction"`
	MinScoreOffset float64         `json:"minScoreOffset,omitempty"`
}

// UnmarshalJSON accepts "min" as an alias for "threshold" and defaults the
// direction to gte.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw struct {
		Threshold      *float64        `json:"threshold"`
		Min            *float64        `json:"min"`
		Decision       domain.Decision `json:"decision"`
		Reason         string          `json:"reason"`
		Direction      Direction       `json:"direction"`
		MinScoreOffset float64         `json:"minScoreOffset"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	threshold := raw.Threshold
	if threshold == nil {
		threshold = raw.Min
	}
	if threshold == nil {
		return fmt.Errorf("%w: missing threshold", ErrInvalidRule)
	}

	*r = Rule{
		Threshold:      *threshold,
		Decision:       raw.Decision,
		Reason:         raw.Reason,
		Direction:      raw.Direction,
		MinScoreOffset: raw.MinScoreOffset,
	}
	if r.Direction == "" {
		r.Direction = DirectionGTE
	}
	return r.Validate()
}

// Validate checks the rule is usable
func (r Rule) Validate() error {
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		return fmt.Errorf("%w: threshold is not finite", ErrInvalidRule)
	}
	if r.Decision != domain.DecisionWarn && r.Decision != domain.DecisionBlock {
		return fmt.Errorf("%w: decision %q must be warn or block", ErrInvalidRule, r.Decision)
	}
	if r.Direction != DirectionGTE && r.Direction != DirectionLTE {
		return fmt.Errorf("%w: direction %q must be gte or lte", ErrInvalidRule, r.Direction)
	}
	if math.IsNaN(r.MinScoreOffset) || r.MinScoreOffset < 0 || r.MinScoreOffset > 1 {
		return fmt.Errorf("%w: minScoreOffset must be within [0,1]", ErrInvalidRule)
	}
	return nil
}

func (r Rule) matches(value float64) bool {
	if r.Direction == DirectionLTE {
		return value <= r.Threshold
	}
	return value >= r.Threshold
}

// Match is the authoritative rule for one category
type Match struct {
	Category       Category        `json:"category"`
	Value          float64         `json:"value"`
	Threshold      float64         `json:"threshold"`
	Decision       domain.Decision `json:"decision"`
	Reason         string          `json:"reason"`
	MinScoreOffset float64         `json:"minScoreOffset"`
}

// Config holds the rule lists for every category
type Config struct {
	Version string
	Rules   map[Category][]Rule
}

// Decode parses a risk-heuristics document.
//
// Category keys are accepted in snake_case or camelCase, either at the top
// level or under "rules". Unknown keys are ignored.
func Decode(data []byte) (*Config, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	cfg := &Config{Rules: make(map[Category][]Rule, len(Categories))}
	if raw, ok := top["version"]; ok {
		if err := json.Unmarshal(raw, &cfg.Version); err != nil {
			return nil, fmt.Errorf("%w: version must be a string", ErrInvalidRule)
		}
	}

	body := top
	if raw, ok := top["rules"]; ok && bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		body = nil
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
	}

	for key, raw := range body {
		category, ok := categoryFor(key)
		if !ok {
			continue
		}
		var rules []Rule
		if err := json.Unmarshal(raw, &rules); err != nil {
			if errors.Is(err, ErrInvalidRule) {
				return nil, fmt.Errorf("category %s: %w", category, err)
			}
			return nil, fmt.Errorf("%w: category %s: %v", ErrInvalidRule, category, err)
		}
		cfg.Rules[category] = append(cfg.Rules[category], rules...)
	}

	cfg.Normalize()
	return cfg, nil
}

func categoryFor(key string) (Category, bool) {
	folded := foldKey(key)
	for _, c := range Categories {
		if foldKey(string(c)) == folded {
			return c, true
		}
	}
	return "", false
}

func foldKey(key string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(key))
}

// Normalize orders every category so the first matching rule is the most
// severe one: gte rules by descending threshold, then lte rules by ascending
// threshold. Ties keep their document order.
func (c *Config) Normalize() {
	for category, rules := range c.Rules {
		sorted := append([]Rule(nil), rules...)
		sort.SliceStable(sorted, func(i, j int) bool {
			a, b := sorted[i], sorted[j]
			if a.Direction != b.Direction {
				return a.Direction == DirectionGTE
			}
			if a.Direction == DirectionGTE {
				return a.Threshold > b.Threshold
			}
			return a.Threshold < b.Threshold
		})
		c.Rules[category] = sorted
	}
}

// Evaluate returns the first rule of category matching value
func (c *Config) Evaluate(category Category, value float64) (Match, bool) {
	if math.IsNaN(value) {
		return Match{}, false
	}
	for _, r := range c.Rules[category] {
		if r.matches(value) {
			return Match{
				Category:       category,
				Value:          value,
				Threshold:      r.Threshold,
				Decision:       r.Decision,
				Reason:         r.Reason,
				MinScoreOffset: r.MinScoreOffset,
			}, true
		}
	}
	return Match{}, false
}

// EvaluateAll evaluates each category independently, in Categories order.
// Categories without a value are skipped.
func (c *Config) EvaluateAll(values map[Category]float64) []Match {
	var matches []Match
	for _, category := range Categories {
		value, ok := values[category]
		if !ok {
			continue
		}
		if m, ok := c.Evaluate(category, value); ok {
			matches = append(matches, m)
		}
	}
	return matches
}

// DefaultConfig is used while no heuristics artifact is cached
func DefaultConfig() *Config {
	cfg := &Config{
		Version: "default",
		Rules: map[Category][]Rule{
			CategoryTLDRisk: {
				{Threshold: 0.9, Decision: domain.DecisionWarn, Reason: "high_risk_tld", Direction: DirectionGTE},
			},
			CategoryDomainReputation: {
				{Threshold: 0.95, Decision: domain.DecisionBlock, Reason: "disposable_domain", Direction: DirectionGTE, MinScoreOffset: 0.05},
				{Threshold: 0.7, Decision: domain.DecisionWarn, Reason: "poor_domain_reputation", Direction: DirectionGTE},
			},
			CategorySequentialConfidence: {
				{Threshold: 0.8, Decision: domain.DecisionWarn, Reason: "sequence_anomaly", Direction: DirectionGTE},
			},
			CategoryDigitRatio: {
				{Threshold: 0.6, Decision: domain.DecisionWarn, Reason: "digit_heavy_local_part", Direction: DirectionGTE},
			},
			CategoryPlusAddressing: {},
		},
	}
	cfg.Normalize()
	return cfg
}
