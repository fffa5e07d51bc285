package detection

import (
	"math"
	"testing"

	"github.com/stoik/email-risk/internal/domain"
	"github.com/stoik/email-risk/internal/domain/features"
	"github.com/stoik/email-risk/internal/domain/forest"
	"github.com/stoik/email-risk/internal/domain/heuristics"
	"github.com/stoik/email-risk/internal/domain/sequence"
	"github.com/stoik/email-risk/internal/domain/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func treeResult(score float64) *tree.Result {
	return &tree.Result{Score: score, Reason: "leaf", Path: []string{"digit_ratio <= 0.4 -> left", "leaf"}}
}

func ptr(v float64) *float64 { return &v }

func hasDetection(a domain.RiskAssessment, typ string) bool {
	for _, d := range a.Detections {
		if d.Type == typ {
			return true
		}
	}
	return false
}

func TestLengthRamp(t *testing.T) {
	tests := []struct {
		length   int
		expected float64
	}{
		{0, 0},
		{1, 0},
		{4, 0},
		{5, 0.125},
		{8, 0.5},
		{11, 0.875},
		{12, 1},
		{40, 1},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.expected, LengthRamp(tt.length), 1e-9, "length %d", tt.length)
	}
}

func TestClampOutOfDistribution(t *testing.T) {
	for length := 1; length <= 4; length++ {
		assert.Equal(t, 0.0, ClampOutOfDistribution(0.6, length), "length %d", length)
	}
	assert.InDelta(t, 0.3, ClampOutOfDistribution(0.6, 8), 1e-9)
	assert.InDelta(t, 0.6, ClampOutOfDistribution(0.6, 12), 1e-9)
	assert.InDelta(t, 0.6, ClampOutOfDistribution(0.6, 64), 1e-9)

	prev := 0.0
	for length := 0; length <= 20; length++ {
		got := ClampOutOfDistribution(0.6, length)
		assert.GreaterOrEqual(t, got, prev, "must be monotonic at length %d", length)
		assert.LessOrEqual(t, got, 0.6, "must never increase risk")
		prev = got
	}

	assert.Equal(t, 0.0, ClampOutOfDistribution(math.NaN(), 12))
	assert.Equal(t, 0.0, ClampOutOfDistribution(math.Inf(1), 2))
	assert.Equal(t, 0.0, ClampOutOfDistribution(-0.5, 12))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "warn above block", mutate: func(c *Config) { c.WarnThreshold = 0.9 }, wantErr: true},
		{name: "zero warn", mutate: func(c *Config) { c.WarnThreshold = 0 }, wantErr: true},
		{name: "block above one", mutate: func(c *Config) { c.BlockThreshold = 1.2 }, wantErr: true},
		{name: "block exactly one", mutate: func(c *Config) { c.BlockThreshold = 1 }},
		{name: "negative sequence weight", mutate: func(c *Config) { c.SequenceWeight = -1 }, wantErr: true},
		{name: "inverted entropy band", mutate: func(c *Config) { c.OODEntropyHigh = 1 }, wantErr: true},
		{name: "ood risk above one", mutate: func(c *Config) { c.OODMaxRisk = 2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestComposer_Thresholds(t *testing.T) {
	composer := NewComposer(DefaultConfig())

	tests := []struct {
		name          string
		in            Inputs
		expectedScore float64
		expected      domain.Decision
		expectedType  string
	}{
		{
			name:          "low tree score allows",
			in:            Inputs{LocalLength: 10, Tree: treeResult(0.3)},
			expectedScore: 0.3,
			expected:      domain.DecisionAllow,
			expectedType:  TypeTreeModel,
		},
		{
			name:          "score at warn threshold warns",
			in:            Inputs{LocalLength: 10, Tree: treeResult(0.6)},
			expectedScore: 0.6,
			expected:      domain.DecisionWarn,
			expectedType:  TypeTreeModel,
		},
		{
			name:          "score at block threshold blocks",
			in:            Inputs{LocalLength: 10, Tree: treeResult(0.85)},
			expectedScore: 0.85,
			expected:      domain.DecisionBlock,
			expectedType:  TypeTreeModel,
		},
		{
			name: "forest takes precedence over tree",
			in: Inputs{
				LocalLength: 10,
				Tree:        treeResult(0.1),
				Forest:      &forest.Result{Score: 0.9, Reasons: []string{"forest mean 0.900 over 3 trees"}},
			},
			expectedScore: 0.9,
			expected:      domain.DecisionBlock,
			expectedType:  TypeForestModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := composer.Compose(tt.in)
			assert.InDelta(t, tt.expectedScore, got.RiskScore, 1e-9)
			assert.Equal(t, tt.expected, got.Decision)
			assert.Equal(t, domain.RiskLevel(got.RiskScore), got.RiskLevel)
			assert.True(t, hasDetection(got, tt.expectedType))
			require.NotEmpty(t, got.Reasons)
		})
	}
}

func TestComposer_ReasonPathStartsWithModel(t *testing.T) {
	got := NewComposer(DefaultConfig()).Compose(Inputs{LocalLength: 10, Tree: treeResult(0.2)})

	require.GreaterOrEqual(t, len(got.Reasons), 3)
	assert.Equal(t, "digit_ratio <= 0.4 -> left", got.Reasons[0])
	assert.Contains(t, got.Reasons[len(got.Reasons)-1], "decision allow")
}

func TestComposer_CalibrationIsBoostOnly(t *testing.T) {
	composer := NewComposer(DefaultConfig())

	t.Run("higher calibrated score raises risk", func(t *testing.T) {
		got := composer.Compose(Inputs{LocalLength: 10, Tree: treeResult(0.3), Calibrated: ptr(0.95)})
		assert.InDelta(t, 0.95, got.RiskScore, 1e-9)
		assert.Equal(t, domain.DecisionBlock, got.Decision)
		assert.True(t, hasDetection(got, TypeCalibration))
	})

	t.Run("lower calibrated score is ignored", func(t *testing.T) {
		got := composer.Compose(Inputs{LocalLength: 10, Tree: treeResult(0.7), Calibrated: ptr(0.1)})
		assert.InDelta(t, 0.7, got.RiskScore, 1e-9)
		assert.Equal(t, domain.DecisionWarn, got.Decision)
		assert.False(t, hasDetection(got, TypeCalibration))
	})

	t.Run("NaN calibrated score is ignored", func(t *testing.T) {
		got := composer.Compose(Inputs{LocalLength: 10, Tree: treeResult(0.4), Calibrated: ptr(math.NaN())})
		assert.InDelta(t, 0.4, got.RiskScore, 1e-9)
		assert.False(t, hasDetection(got, TypeCalibration))
	})
}

func TestComposer_HeuristicFloors(t *testing.T) {
	composer := NewComposer(DefaultConfig())

	t.Run("block rule raises score to threshold plus offset", func(t *testing.T) {
		got := composer.Compose(Inputs{
			LocalLength: 10,
			Tree:        treeResult(0.1),
			Heuristics: []heuristics.Match{{
				Category:       heuristics.CategoryDomainReputation,
				Value:          0.97,
				Threshold:      0.95,
				Decision:       domain.DecisionBlock,
				Reason:         "disposable_domain",
				MinScoreOffset: 0.05,
			}},
		})
		assert.InDelta(t, 0.9, got.RiskScore, 1e-9)
		assert.Equal(t, domain.DecisionBlock, got.Decision)
		assert.True(t, hasDetection(got, "HEURISTIC_DOMAIN_REPUTATION"))
	})

	t.Run("warn rule never lowers a block", func(t *testing.T) {
		got := composer.Compose(Inputs{
			LocalLength: 10,
			Tree:        treeResult(0.95),
			Heuristics: []heuristics.Match{{
				Category: heuristics.CategoryTLDRisk,
				Value:    0.92,
				Decision: domain.DecisionWarn,
				Reason:   "high_risk_tld",
			}},
		})
		assert.InDelta(t, 0.95, got.RiskScore, 1e-9)
		assert.Equal(t, domain.DecisionBlock, got.Decision)
	})

	t.Run("floor is capped at one", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.BlockThreshold = 1
		got := NewComposer(cfg).Compose(Inputs{
			LocalLength: 10,
			Tree:        treeResult(0.1),
			Heuristics: []heuristics.Match{{
				Category:       heuristics.CategoryDomainReputation,
				Decision:       domain.DecisionBlock,
				Reason:         "disposable_domain",
				MinScoreOffset: 0.5,
			}},
		})
		assert.Equal(t, 1.0, got.RiskScore)
	})
}

func TestComposer_NoModelWarns(t *testing.T) {
	got := NewComposer(DefaultConfig()).Compose(Inputs{LocalLength: 10})

	assert.Equal(t, domain.DecisionWarn, got.Decision)
	assert.InDelta(t, 0.6, got.RiskScore, 1e-9)
	assert.Contains(t, got.Reasons, ReasonModelUnavailable)
	assert.True(t, hasDetection(got, TypeModelUnavailable))
}

func TestComposer_SequenceGuardrail(t *testing.T) {
	composer := NewComposer(DefaultConfig())
	seq := &sequence.Result{Available: true, FraudLeaning: true, Confidence: 1.0}

	short := composer.Compose(Inputs{LocalLength: 3, Tree: treeResult(0.1), Sequence: seq})
	assert.False(t, hasDetection(short, TypeSequenceAnomaly))
	assert.InDelta(t, 0.1, short.RiskScore, 1e-9)
	assert.Equal(t, domain.DecisionAllow, short.Decision)

	long := composer.Compose(Inputs{LocalLength: 12, Tree: treeResult(0.1), Sequence: seq})
	assert.True(t, hasDetection(long, TypeSequenceAnomaly))
	assert.Equal(t, domain.DecisionBlock, long.Decision)

	legit := composer.Compose(Inputs{
		LocalLength: 12,
		Tree:        treeResult(0.1),
		Sequence:    &sequence.Result{Available: true, FraudLeaning: false, Confidence: 0.9},
	})
	assert.False(t, hasDetection(legit, TypeSequenceAnomaly))
}

func TestComposer_OutOfDistribution(t *testing.T) {
	composer := NewComposer(DefaultConfig())
	fv := features.FeatureVector{features.ShannonEntropy: 4.0}

	tests := []struct {
		name     string
		length   int
		expected float64
		fires    bool
	}{
		{name: "short string is never penalized", length: 4, expected: 0.1},
		{name: "half ramp", length: 8, expected: 0.35, fires: true},
		{name: "full ramp", length: 12, expected: 0.7, fires: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := composer.Compose(Inputs{LocalLength: tt.length, Features: fv, Tree: treeResult(0.1)})
			assert.InDelta(t, tt.expected, got.RiskScore, 1e-9)
			assert.Equal(t, tt.fires, hasDetection(got, TypeOutOfDistribution))
		})
	}

	low := composer.Compose(Inputs{
		LocalLength: 12,
		Features:    features.FeatureVector{features.ShannonEntropy: 2.5},
		Tree:        treeResult(0.1),
	})
	assert.False(t, hasDetection(low, TypeOutOfDistribution))
}
