package tree

import (
	"testing"

	"github.com/stoik/email-risk/internal/domain/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_VerboseFormat(t *testing.T) {
	doc := `{
		"type": "node", "feature": "digit_ratio", "threshold": 0.4, "operator": "<=",
		"left":  {"type": "leaf", "value": 0.05, "reason": "p=0.05 (5/100)"},
		"right": {"type": "leaf", "value": 0.8,  "reason": "p=0.80 (80/100)"}
	}`

	tr, err := Decode([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 3, tr.Len())
	assert.Equal(t, []string{"digit_ratio"}, tr.Features())

	res := Evaluate(tr, features.FeatureVector{"digit_ratio": 0.7})
	assert.Equal(t, 0.8, res.Score)
	assert.Equal(t, "p=0.80 (80/100)", res.Reason)
}

func TestDecode_MinifiedFormat(t *testing.T) {
	doc := `{"t":"n","f":"has_plus","v":true,"l":{"t":"l","v":0.6},"r":{"t":"l","v":0.2}}`

	tr, err := Decode([]byte(doc))
	require.NoError(t, err)

	res := Evaluate(tr, features.FeatureVector{"has_plus": 1})
	assert.Equal(t, 0.6, res.Score)
	assert.Equal(t, "leaf", res.Reason, "minified leaves get a generic reason")
	assert.Equal(t, "has_plus == true -> left", res.Path[0])
}

func TestDecode_ForestWrappedUsesFirstTree(t *testing.T) {
	doc := `{
		"meta": {"version": "3.0.0-forest"},
		"forest": [
			{"t":"l","v":0.3},
			{"t":"l","v":0.9}
		]
	}`

	tr, err := Decode([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "3.0.0-forest", tr.Version)
	assert.Equal(t, 0.3, Evaluate(tr, nil).Score)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"Not JSON", `{{`},
		{"Unknown node type", `{"type":"split","feature":"x"}`},
		{"Branch missing child", `{"t":"n","f":"x","v":1,"l":{"t":"l","v":0}}`},
		{"Leaf with string value", `{"t":"l","v":"high"}`},
		{"Empty forest", `{"forest":[]}`},
		{"Unsupported operator", `{"t":"n","f":"x","v":1,"op":"~","l":{"t":"l","v":0},"r":{"t":"l","v":1}}`},
		{"Object threshold", `{"t":"n","f":"x","v":{"a":1},"l":{"t":"l","v":0},"r":{"t":"l","v":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidTree)
		})
	}
}
