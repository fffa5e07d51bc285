package forest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/stoik/email-risk/internal/domain/calibration"
	"github.com/stoik/email-risk/internal/domain/features"
	"github.com/stoik/email-risk/internal/domain/tree"
)

// voteCutoff is the leaf score at which a tree votes "fraud"
const voteCutoff = 0.5

// Result is the outcome of evaluating a forest
type Result struct {
	Score       float64  `json:"score"`
	RawScore    float64  `json:"raw_score"`
	Calibrated  bool     `json:"calibrated"`
	Aggregation string   `json:"aggregation"`
	TreeCount   int      `json:"tree_count"`
	Version     string   `json:"version"`
	Reasons     []string `json:"reasons"`
}

// Evaluate runs every tree against fv and aggregates the leaf scores
func Evaluate(f *Forest, fv features.FeatureVector) (Result, error) {
	if f == nil || len(f.Trees) == 0 {
		return Result{}, errors.New("forest has no trees")
	}

	var sum float64
	votes := 0
	for _, t := range f.Trees {
		score := tree.Evaluate(t, fv).Score
		sum += score
		if score >= voteCutoff {
			votes++
		}
	}

	n := float64(len(f.Trees))
	res := Result{
		Aggregation: f.Meta.Aggregation,
		TreeCount:   len(f.Trees),
		Version:     f.Meta.Version,
	}
	if res.Aggregation == AggregationVote {
		res.RawScore = float64(votes) / n
		res.Reasons = append(res.Reasons, fmt.Sprintf("forest vote %d/%d trees", votes, len(f.Trees)))
	} else {
		res.Aggregation = AggregationMean
		res.RawScore = sum / n
		res.Reasons = append(res.Reasons, fmt.Sprintf("forest mean %.3f over %d trees", res.RawScore, len(f.Trees)))
	}
	res.RawScore = features.Ratio(res.RawScore)
	res.Score = res.RawScore

	if c := f.Meta.Calibration; c != nil {
		res.Score = features.Ratio(calibration.Sigmoid(c.Intercept + c.Coefficient*res.RawScore))
		res.Calibrated = true
		res.Reasons = append(res.Reasons, fmt.Sprintf("platt(%.3f + %.3f*raw) = %.3f", c.Intercept, c.Coefficient, res.Score))
	}

	return res, nil
}

// Coerce converts loosely typed feature inputs into a FeatureVector.
// Numeric strings are parsed, booleans map to 0/1 and everything else is 0.
func Coerce(raw map[string]any) features.FeatureVector {
	fv := make(features.FeatureVector, len(raw))
	for name, v := range raw {
		fv[name] = coerce(v)
	}
	return fv
}

func coerce(v any) float64 {
	var out float64
	switch x := v.(type) {
	case float64:
		out = x
	case float32:
		out = float64(x)
	case int:
		out = float64(x)
	case int64:
		out = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0
		}
		out = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		out = f
	case bool:
		out = features.Bool(x)
	default:
		return 0
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0
	}
	return out
}

// Source provides the currently cached forest
type Source interface {
	Load(ctx context.Context, force bool) bool
	Get() (*Forest, bool)
}

// Evaluator evaluates the cached random forest
type Evaluator struct {
	source Source
	logger *slog.Logger
}

// NewEvaluator creates an evaluator backed by source
func NewEvaluator(source Source, logger *slog.Logger) *Evaluator {
	return &Evaluator{source: source, logger: logger}
}

// Evaluate returns nil when no forest is cached or evaluation fails
func (e *Evaluator) Evaluate(ctx context.Context, fv features.FeatureVector) (res *Result) {
	if !e.source.Load(ctx, false) {
		return nil
	}
	f, ok := e.source.Get()
	if !ok || f == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("random forest evaluation failed", "kind", "random_forest", "version", f.Meta.Version, "error", fmt.Sprint(r))
			res = nil
		}
	}()

	out, err := Evaluate(f, fv)
	if err != nil {
		e.logger.Error("random forest evaluation failed", "kind", "random_forest", "version", f.Meta.Version, "error", err)
		return nil
	}
	return &out
}
