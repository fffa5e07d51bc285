package sequence

import (
	"context"
	"math"

	"github.com/stoik/email-risk/internal/domain/features"
)

// Source provides one cached model
type Source interface {
	Load(ctx context.Context, force bool) bool
	Get() (*Model, bool)
}

// OrderResult holds the entropies of one order. Gap is legit minus fraud,
// so a positive gap means the fraud model explains the string better.
type OrderResult struct {
	Order     int     `json:"order"`
	Legit     float64 `json:"legit"`
	Fraud     float64 `json:"fraud"`
	Gap       float64 `json:"gap"`
	Available bool    `json:"available"`
}

// Result summarizes all orders
type Result struct {
	MinEntropy   float64               `json:"min_entropy"`
	Orders       [MaxOrder]OrderResult `json:"orders"`
	Confidence   float64               `json:"confidence"`
	FraudLeaning bool                  `json:"fraud_leaning"`
	Available    bool                  `json:"available"`
	Versions     map[string]string     `json:"versions,omitempty"`
}

// Signals converts the result into Feature Builder input, or nil when no
// order had both models.
func (r *Result) Signals() *features.SequenceSignals {
	if r == nil || !r.Available {
		return nil
	}
	gaps := make(map[int]float64, MaxOrder)
	for _, o := range r.Orders {
		gaps[o.Order] = o.Gap
	}
	return &features.SequenceSignals{
		MinEntropy:   r.MinEntropy,
		Gaps:         gaps,
		Confidence:   r.Confidence,
		FraudLeaning: r.FraudLeaning,
	}
}

// Scorer evaluates a local part against every cached order/class model
type Scorer struct {
	models map[Key]Source
}

// NewScorer creates a scorer. Keys without a source are treated as missing.
func NewScorer(models map[Key]Source) *Scorer {
	return &Scorer{models: models}
}

func (s *Scorer) model(ctx context.Context, k Key) (*Model, bool) {
	src, ok := s.models[k]
	if !ok || src == nil || !src.Load(ctx, false) {
		return nil, false
	}
	m, ok := src.Get()
	return m, ok && m != nil
}

// Score computes the per-order entropies of local.
//
// An order is only used when both of its class models are available;
// otherwise its gap stays 0. Confidence is the mean relative entropy
// asymmetry |H_legit - H_fraud| / max(H_legit, H_fraud) over usable orders.
func (s *Scorer) Score(ctx context.Context, local string) Result {
	res := Result{MinEntropy: math.Inf(1), Versions: make(map[string]string)}

	var confidence, gapSum float64
	used := 0
	for i := range res.Orders {
		order := i + 1
		res.Orders[i].Order = order

		legit, okL := s.model(ctx, Key{Order: order, Class: ClassLegit})
		fraud, okF := s.model(ctx, Key{Order: order, Class: ClassFraud})
		if !okL || !okF {
			continue
		}

		hl := legit.CrossEntropy(local)
		hf := fraud.CrossEntropy(local)
		res.Orders[i] = OrderResult{Order: order, Legit: hl, Fraud: hf, Gap: hl - hf, Available: true}
		res.Versions[Key{order, ClassLegit}.String()] = legit.Version
		res.Versions[Key{order, ClassFraud}.String()] = fraud.Version

		res.MinEntropy = math.Min(res.MinEntropy, math.Min(hl, hf))
		if hi := math.Max(hl, hf); hi > 0 {
			confidence += math.Abs(hl-hf) / hi
		}
		gapSum += hl - hf
		used++
	}

	if used == 0 {
		return Result{Orders: res.Orders}
	}

	res.Available = true
	res.Confidence = features.Ratio(confidence / float64(used))
	res.FraudLeaning = gapSum > 0
	return res
}
