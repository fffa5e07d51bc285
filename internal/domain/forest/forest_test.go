package forest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stoik/email-risk/internal/domain/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoTrees = `[
	{"t":"n","f":"digit_ratio","v":0.4,"l":{"t":"l","v":0.2},"r":{"t":"l","v":0.8}},
	{"t":"l","v":0.6}
]`

func forestDoc(meta string) []byte {
	return []byte(`{"meta":` + meta + `,"trees":` + twoTrees + `}`)
}

func TestDecode_AcceptsBothLayouts(t *testing.T) {
	f, err := Decode(forestDoc(`{"version":"3.0.0-forest","tree_count":2,"features":["digit_ratio"]}`))
	require.NoError(t, err)
	assert.Equal(t, "3.0.0-forest", f.Meta.Version)
	assert.Equal(t, AggregationMean, f.Meta.Aggregation)
	assert.Len(t, f.Trees, 2)
	assert.Nil(t, f.Meta.Calibration)

	legacy := `{"meta":{"version":"v1","runId":"r-42","calibration":{"intercept":-1.5,"coef":3,"samples":900}},"forest":` + twoTrees + `}`
	f, err = Decode([]byte(legacy))
	require.NoError(t, err)
	assert.Equal(t, "r-42", f.Meta.RunID)
	require.NotNil(t, f.Meta.Calibration)
	assert.Equal(t, -1.5, f.Meta.Calibration.Intercept)
	assert.Equal(t, 3.0, f.Meta.Calibration.Coefficient)
	assert.Equal(t, 900, f.Meta.Calibration.Samples)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"Not JSON", `[`},
		{"Missing meta", `{"trees":` + twoTrees + `}`},
		{"No trees", `{"meta":{"version":"v1"},"trees":[]}`},
		{"Tree count mismatch", string(forestDoc(`{"version":"v1","tree_count":3}`))},
		{"Undeclared feature", string(forestDoc(`{"version":"v1","features":["has_plus"]}`))},
		{"Unknown aggregation", string(forestDoc(`{"version":"v1","aggregation":"median"}`))},
		{"Partial calibration", string(forestDoc(`{"version":"v1","calibration":{"intercept":1}}`))},
		{"Malformed tree", `{"meta":{"version":"v1"},"trees":[{"t":"x"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidForest)
		})
	}
}

func TestEvaluate_Aggregation(t *testing.T) {
	tests := []struct {
		name     string
		meta     string
		digits   float64
		expected float64
	}{
		{"Mean of leaves", `{"version":"v1"}`, 0.7, 0.7},
		{"Mean routes left", `{"version":"v1"}`, 0.1, 0.4},
		{"Vote all above cutoff", `{"version":"v1","aggregation":"vote"}`, 0.7, 1.0},
		{"Vote split", `{"version":"v1","aggregation":"vote"}`, 0.1, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(forestDoc(tt.meta))
			require.NoError(t, err)

			res, err := Evaluate(f, features.FeatureVector{"digit_ratio": tt.digits})
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, res.Score, 1e-9)
			assert.Equal(t, res.RawScore, res.Score)
			assert.False(t, res.Calibrated)
			assert.Equal(t, 2, res.TreeCount)
		})
	}
}

func TestEvaluate_PlattScaling(t *testing.T) {
	f, err := Decode(forestDoc(`{"version":"v1","calibration":{"intercept":-2,"coefficient":4}}`))
	require.NoError(t, err)

	// raw mean = (0.2 + 0.6) / 2 = 0.4, z = -2 + 4*0.4 = -0.4
	res, err := Evaluate(f, features.FeatureVector{"digit_ratio": 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 0.4, res.RawScore, 1e-9)
	assert.InDelta(t, 1/(1+math.Exp(0.4)), res.Score, 1e-9)
	assert.True(t, res.Calibrated)
	assert.Len(t, res.Reasons, 2)
}

func TestEvaluate_EmptyForest(t *testing.T) {
	_, err := Evaluate(&Forest{}, nil)
	assert.Error(t, err)
}

func TestCoerce(t *testing.T) {
	fv := Coerce(map[string]any{
		"number":   0.25,
		"integer":  3,
		"numeric":  " 0.5 ",
		"json":     json.Number("7"),
		"word":     "high",
		"yes":      true,
		"no":       false,
		"nothing":  nil,
		"list":     []any{1, 2},
		"infinite": math.Inf(1),
	})

	assert.Equal(t, 0.25, fv["number"])
	assert.Equal(t, 3.0, fv["integer"])
	assert.Equal(t, 0.5, fv["numeric"])
	assert.Equal(t, 7.0, fv["json"])
	assert.Equal(t, 0.0, fv["word"])
	assert.Equal(t, 1.0, fv["yes"])
	assert.Equal(t, 0.0, fv["no"])
	assert.Equal(t, 0.0, fv["nothing"])
	assert.Equal(t, 0.0, fv["list"])
	assert.Equal(t, 0.0, fv["infinite"])
}

type staticSource struct {
	forest *Forest
	ok     bool
}

func (s staticSource) Load(context.Context, bool) bool { return s.ok }
func (s staticSource) Get() (*Forest, bool)            { return s.forest, s.ok }

func TestEvaluator(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	assert.Nil(t, NewEvaluator(staticSource{}, logger).Evaluate(ctx, nil), "no forest cached")

	// A forest with no trees cannot come out of Decode, but must still not panic outward
	assert.Nil(t, NewEvaluator(staticSource{forest: &Forest{}, ok: true}, logger).Evaluate(ctx, nil))

	f, err := Decode(forestDoc(`{"version":"v1"}`))
	require.NoError(t, err)
	res := NewEvaluator(staticSource{forest: f, ok: true}, logger).Evaluate(ctx, features.FeatureVector{"digit_ratio": 0.7})
	require.NotNil(t, res)
	assert.InDelta(t, 0.7, res.Score, 1e-9)
	assert.Equal(t, "v1", res.Version)
}
