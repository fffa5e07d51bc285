package calibration

import (
	"context"
	"math"
	"testing"

	"github.com/stoik/email-risk/internal/domain/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coefficientDoc = `{
	"version": "cal-2024-05",
	"createdAt": "2024-05-01T10:00:00Z",
	"bias": -1,
	"features": [
		{"name": "digit_ratio", "mean": 0.2, "std": 0.1, "weight": 2},
		{"name": "has_plus", "mean": 0.5, "std": 0, "weight": 1}
	],
	"metrics": {"auc": 0.91}
}`

func TestDecode(t *testing.T) {
	c, err := Decode([]byte(coefficientDoc))
	require.NoError(t, err)
	assert.Equal(t, "cal-2024-05", c.Version)
	assert.Equal(t, 2024, c.CreatedAt.Year())
	assert.Len(t, c.Features, 2)
	assert.Equal(t, 0.91, c.Metrics["auc"])
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"Not JSON", `nope`},
		{"No features", `{"bias": 0, "features": []}`},
		{"Unnamed feature", `{"bias": 0, "features": [{"mean": 0, "std": 1, "weight": 1}]}`},
		{"Negative std", `{"bias": 0, "features": [{"name": "x", "mean": 0, "std": -1, "weight": 1}]}`},
		{"String weight", `{"bias": 0, "features": [{"name": "x", "mean": 0, "std": 1, "weight": "big"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidCoefficients)
		})
	}
}

func TestCoefficients_Score(t *testing.T) {
	c, err := Decode([]byte(coefficientDoc))
	require.NoError(t, err)

	// z = -1 + 2*(0.4-0.2)/0.1 + 1*(1-0.5) = 3.5
	fv := features.FeatureVector{"digit_ratio": 0.4, "has_plus": 1}
	assert.InDelta(t, 3.5, c.Logit(fv), 1e-9)
	assert.InDelta(t, 1/(1+math.Exp(-3.5)), c.Score(fv), 1e-9)

	// Missing features read as 0: z = -1 + 2*(-2) + 1*(-0.5) = -5.5
	assert.InDelta(t, -5.5, c.Logit(features.FeatureVector{}), 1e-9)
}

func TestBoost(t *testing.T) {
	assert.Equal(t, 0.85, Boost(0.85, 0.30))
	assert.Equal(t, 0.75, Boost(0.40, 0.75))
	assert.Equal(t, 0.4, Boost(0.4, math.NaN()))

	for base := 0.0; base <= 1.0; base += 0.125 {
		for cal := 0.0; cal <= 1.0; cal += 0.125 {
			got := Boost(base, cal)
			assert.GreaterOrEqual(t, got, base)
			assert.GreaterOrEqual(t, got, cal)
		}
	}
}

func TestSigmoid(t *testing.T) {
	assert.Equal(t, 0.5, Sigmoid(0))
	assert.Equal(t, 0.5, Sigmoid(math.NaN()))
	assert.InDelta(t, 1, Sigmoid(1000), 1e-12)
	assert.InDelta(t, 0, Sigmoid(-1000), 1e-12)
	assert.False(t, math.IsNaN(Sigmoid(-1000)))
}

type staticSource struct {
	c  *Coefficients
	ok bool
}

func (s staticSource) Load(context.Context, bool) bool { return s.ok }
func (s staticSource) Get() (*Coefficients, bool)      { return s.c, s.ok }

func TestLayer_Score(t *testing.T) {
	assert.Nil(t, NewLayer(staticSource{}).Score(context.Background(), nil))

	c, err := Decode([]byte(coefficientDoc))
	require.NoError(t, err)
	score := NewLayer(staticSource{c: c, ok: true}).Score(context.Background(), features.FeatureVector{"digit_ratio": 0.4, "has_plus": 1})
	require.NotNil(t, score)
	assert.Greater(t, *score, 0.9)
}
