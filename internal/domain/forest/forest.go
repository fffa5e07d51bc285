// Package forest evaluates random-forest artifacts: an ordered set of
// decision trees aggregated into one score, optionally Platt-scaled.
package forest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/stoik/email-risk/internal/domain/tree"
)

// ErrInvalidForest is returned when a forest document fails validation
var ErrInvalidForest = errors.New("invalid random forest")

// Aggregation rules
const (
	AggregationMean = "mean"
	AggregationVote = "vote"
)

// Platt holds the logistic calibration applied to the raw ensemble score
type Platt struct {
	Intercept   float64 `json:"intercept"`
	Coefficient float64 `json:"coefficient"`
	Samples     int     `json:"samples,omitempty"`
}

// Meta is the forest metadata block
type Meta struct {
	Version           string             `json:"version"`
	RunID             string             `json:"runId,omitempty"`
	TreeCount         int                `json:"tree_count"`
	Features          []string           `json:"features,omitempty"`
	Aggregation       string             `json:"aggregation"`
	Calibration       *Platt             `json:"calibration,omitempty"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty"`
}

// Forest is an immutable, validated ensemble
type Forest struct {
	Meta  Meta
	Trees []*tree.Tree
}

type jsonPlatt struct {
	Intercept   *float64 `json:"intercept"`
	Coef        *float64 `json:"coef"`
	Coefficient *float64 `json:"coefficient"`
	Samples     int      `json:"samples"`
}

type jsonMeta struct {
	Version           string             `json:"version"`
	RunID             string             `json:"runId"`
	TreeCount         *int               `json:"tree_count"`
	Features          []string           `json:"features"`
	Aggregation       string             `json:"aggregation"`
	Calibration       *jsonPlatt         `json:"calibration"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
}

type jsonForest struct {
	Meta   *jsonMeta         `json:"meta"`
	Trees  []json.RawMessage `json:"trees"`
	Forest []json.RawMessage `json:"forest"`
}

// Decode parses and validates a random_forest.json artifact.
//
// Both the "trees" and "forest" array names are accepted, as are "coef" and
// "coefficient" for the Platt slope.
func Decode(data []byte) (*Forest, error) {
	var doc jsonForest
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidForest, err)
	}
	if doc.Meta == nil {
		return nil, fmt.Errorf("%w: missing meta", ErrInvalidForest)
	}

	raw := doc.Trees
	if len(raw) == 0 {
		raw = doc.Forest
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no trees", ErrInvalidForest)
	}
	if doc.Meta.TreeCount != nil && *doc.Meta.TreeCount != len(raw) {
		return nil, fmt.Errorf("%w: tree_count %d does not match %d trees", ErrInvalidForest, *doc.Meta.TreeCount, len(raw))
	}

	f := &Forest{
		Meta: Meta{
			Version:           doc.Meta.Version,
			RunID:             doc.Meta.RunID,
			TreeCount:         len(raw),
			Features:          doc.Meta.Features,
			Aggregation:       doc.Meta.Aggregation,
			FeatureImportance: doc.Meta.FeatureImportance,
		},
		Trees: make([]*tree.Tree, 0, len(raw)),
	}

	switch f.Meta.Aggregation {
	case "":
		f.Meta.Aggregation = AggregationMean
	case AggregationMean, AggregationVote:
	default:
		return nil, fmt.Errorf("%w: unknown aggregation %q", ErrInvalidForest, f.Meta.Aggregation)
	}

	if c := doc.Meta.Calibration; c != nil {
		slope := c.Coef
		if slope == nil {
			slope = c.Coefficient
		}
		if c.Intercept == nil || slope == nil {
			return nil, fmt.Errorf("%w: calibration needs intercept and coefficient", ErrInvalidForest)
		}
		if !finite(*c.Intercept) || !finite(*slope) {
			return nil, fmt.Errorf("%w: calibration is not finite", ErrInvalidForest)
		}
		f.Meta.Calibration = &Platt{Intercept: *c.Intercept, Coefficient: *slope, Samples: c.Samples}
	}

	known := make(map[string]struct{}, len(f.Meta.Features))
	for _, name := range f.Meta.Features {
		known[name] = struct{}{}
	}

	for i, node := range raw {
		t, err := tree.DecodeNode(node)
		if err != nil {
			return nil, fmt.Errorf("%w: tree %d: %v", ErrInvalidForest, i, err)
		}
		if len(known) > 0 {
			for _, name := range t.Features() {
				if _, ok := known[name]; !ok {
					return nil, fmt.Errorf("%w: tree %d references undeclared feature %q", ErrInvalidForest, i, name)
				}
			}
		}
		t.Version = f.Meta.Version
		f.Trees = append(f.Trees, t)
	}

	return f, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
