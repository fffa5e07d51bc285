package heuristics

import (
	"context"
	"testing"

	"github.com/stoik/email-risk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_FirstMatchIsMostSevere(t *testing.T) {
	// Listed in the "wrong" order on purpose: Normalize must fix it
	doc := `{"sequential_confidence": [
		{"threshold": 0.8, "decision": "warn", "reason": "seq_warn"},
		{"threshold": 0.9, "decision": "block", "reason": "seq_block"}
	]}`
	cfg, err := Decode([]byte(doc))
	require.NoError(t, err)

	tests := []struct {
		name     string
		value    float64
		matched  bool
		decision domain.Decision
	}{
		{"Above both thresholds", 0.95, true, domain.DecisionBlock},
		{"Between thresholds", 0.85, true, domain.DecisionWarn},
		{"Exactly on threshold", 0.9, true, domain.DecisionBlock},
		{"Below both", 0.5, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := cfg.Evaluate(CategorySequentialConfidence, tt.value)
			assert.Equal(t, tt.matched, ok)
			assert.Equal(t, tt.decision, m.Decision)
		})
	}
}

func TestEvaluate_LTERulesAscend(t *testing.T) {
	cfg := &Config{Rules: map[Category][]Rule{
		CategoryDomainReputation: {
			{Threshold: 0.3, Decision: domain.DecisionWarn, Reason: "low", Direction: DirectionLTE},
			{Threshold: 0.1, Decision: domain.DecisionBlock, Reason: "very_low", Direction: DirectionLTE},
		},
	}}
	cfg.Normalize()

	m, ok := cfg.Evaluate(CategoryDomainReputation, 0.05)
	require.True(t, ok)
	assert.Equal(t, "very_low", m.Reason)

	m, ok = cfg.Evaluate(CategoryDomainReputation, 0.2)
	require.True(t, ok)
	assert.Equal(t, "low", m.Reason)

	_, ok = cfg.Evaluate(CategoryDomainReputation, 0.5)
	assert.False(t, ok)
}

func TestDecode_KeyStylesAndAliases(t *testing.T) {
	doc := `{
		"version": "heur-7",
		"rules": {
			"tldRisk": [{"min": 0.9, "decision": "block", "reason": "bad_tld", "minScoreOffset": 0.1}],
			"digit-ratio": [{"threshold": 0.2, "decision": "warn", "reason": "few_digits", "direction": "lte"}],
			"updatedBy": "ops"
		}
	}`
	cfg, err := Decode([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "heur-7", cfg.Version)

	tld := cfg.Rules[CategoryTLDRisk]
	require.Len(t, tld, 1)
	assert.Equal(t, 0.9, tld[0].Threshold)
	assert.Equal(t, DirectionGTE, tld[0].Direction)
	assert.Equal(t, 0.1, tld[0].MinScoreOffset)

	digits := cfg.Rules[CategoryDigitRatio]
	require.Len(t, digits, 1)
	assert.Equal(t, DirectionLTE, digits[0].Direction)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"Not JSON", `[1,2`},
		{"Rules not a list", `{"tld_risk": {"threshold": 1}}`},
		{"Missing threshold", `{"tld_risk": [{"decision": "warn"}]}`},
		{"Allow is not a rule decision", `{"tld_risk": [{"threshold": 0.5, "decision": "allow"}]}`},
		{"Unknown direction", `{"tld_risk": [{"threshold": 0.5, "decision": "warn", "direction": "between"}]}`},
		{"Offset out of range", `{"tld_risk": [{"threshold": 0.5, "decision": "warn", "minScoreOffset": 2}]}`},
		{"String threshold", `{"tld_risk": [{"threshold": "high", "decision": "warn"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestEvaluateAll_CategoriesAreIndependent(t *testing.T) {
	cfg := DefaultConfig()
	matches := cfg.EvaluateAll(map[Category]float64{
		CategoryTLDRisk:          0.95,
		CategoryDomainReputation: 1.0,
		CategoryDigitRatio:       0.1,
	})

	require.Len(t, matches, 2)
	assert.Equal(t, CategoryTLDRisk, matches[0].Category)
	assert.Equal(t, domain.DecisionWarn, matches[0].Decision)
	assert.Equal(t, CategoryDomainReputation, matches[1].Category)
	assert.Equal(t, domain.DecisionBlock, matches[1].Decision)
	assert.Equal(t, 0.05, matches[1].MinScoreOffset)
}

type staticSource struct {
	cfg *Config
	ok  bool
}

func (s staticSource) Load(context.Context, bool) bool { return s.ok }
func (s staticSource) Get() (*Config, bool)            { return s.cfg, s.ok }

func TestEngine_FallsBackToDefaults(t *testing.T) {
	ctx := context.Background()

	_, version := NewEngine(staticSource{}).EvaluateAll(ctx, nil)
	assert.Equal(t, "default", version)

	custom := &Config{Version: "custom", Rules: map[Category][]Rule{
		CategoryPlusAddressing: {{Threshold: 1, Decision: domain.DecisionWarn, Reason: "plus", Direction: DirectionGTE}},
	}}
	matches, version := NewEngine(staticSource{cfg: custom, ok: true}).EvaluateAll(ctx, map[Category]float64{CategoryPlusAddressing: 1})
	assert.Equal(t, "custom", version)
	require.Len(t, matches, 1)
	assert.Equal(t, "plus", matches[0].Reason)
}
