package tree

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stoik/email-risk/internal/domain/features"
)

// Result is the outcome of walking a tree
type Result struct {
	Score  float64  `json:"score"`
	Reason string   `json:"reason"`
	Path   []string `json:"path"`
}

// Evaluate walks t from the root using fv.
//
// A feature missing from fv is undefined: every comparison against it is
// false except "!=", so it routes right on ordered comparisons.
func Evaluate(t *Tree, fv features.FeatureVector) Result {
	path := make([]string, 0, 8)
	idx := 0
	for {
		n := &t.nodes[idx]
		if n.Kind == KindLeaf {
			path = append(path, n.Reason)
			return Result{Score: clampScore(n.Value), Reason: n.Reason, Path: path}
		}

		value, present := fv.Get(n.Feature)
		op := n.Threshold.effectiveOp(n.Op)
		side, next := "right", n.Right
		if compare(value, present, op, n.Threshold) {
			side, next = "left", n.Left
		}
		path = append(path, fmt.Sprintf("%s %s %s -> %s", n.Feature, op, n.Threshold.format(), side))
		idx = next
	}
}

func compare(value float64, present bool, op Op, th Threshold) bool {
	if !present {
		return op == OpNe
	}

	switch th.Kind {
	case ThresholdNumber:
		return compareNumbers(value, op, th.Number)
	case ThresholdBool:
		if op == OpEq || op == OpNe {
			equal := value == features.Bool(th.Bool)
			return equal == (op == OpEq)
		}
		return compareNumbers(value, op, features.Bool(th.Bool))
	default:
		// Feature values are numbers, so they are never strictly equal to a string or null
		return op == OpNe
	}
}

func compareNumbers(a float64, op Op, b float64) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	}
	return false
}

// Source provides the currently cached tree
type Source interface {
	Load(ctx context.Context, force bool) bool
	Get() (*Tree, bool)
}

// Evaluator evaluates the cached decision tree
type Evaluator struct {
	source Source
	logger *slog.Logger
}

// NewEvaluator creates an evaluator backed by source
func NewEvaluator(source Source, logger *slog.Logger) *Evaluator {
	return &Evaluator{source: source, logger: logger}
}

// Evaluate returns nil when no tree is cached or evaluation fails
func (e *Evaluator) Evaluate(ctx context.Context, fv features.FeatureVector) (res *Result) {
	if !e.source.Load(ctx, false) {
		return nil
	}
	t, ok := e.source.Get()
	if !ok || t == nil || t.Len() == 0 {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("decision tree evaluation failed", "kind", "decision_tree", "version", t.Version, "error", fmt.Sprint(r))
			res = nil
		}
	}()

	out := Evaluate(t, fv)
	return &out
}
