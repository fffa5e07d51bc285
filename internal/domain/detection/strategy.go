package detection

import (
	"fmt"
	"math"
	"strings"

	"github.com/stoik/email-risk/internal/domain"
	"github.com/stoik/email-risk/internal/domain/features"
	"github.com/stoik/email-risk/internal/domain/forest"
	"github.com/stoik/email-risk/internal/domain/heuristics"
	"github.com/stoik/email-risk/internal/domain/sequence"
	"github.com/stoik/email-risk/internal/domain/tree"
)

// Detection types
const (
	TypeForestModel       = "FOREST_MODEL"
	TypeTreeModel         = "TREE_MODEL"
	TypeSequenceAnomaly   = "SEQUENCE_ANOMALY"
	TypeOutOfDistribution = "OUT_OF_DISTRIBUTION"
	TypeCalibration       = "CALIBRATION_BOOST"
	TypeModelUnavailable  = "MODEL_UNAVAILABLE"
	typeHeuristicPrefix   = "HEURISTIC_"
)

// SignalStrategy turns one scorer output into a risk contribution.
//
// Strategies return nil when their signal is absent or carries no risk.
type SignalStrategy interface {
	Detect(in *Inputs, cfg *Config) *domain.Detection
	Name() string
}

// Inputs are the per-request outputs of every scorer. A nil component means
// "no opinion", never zero risk.
type Inputs struct {
	LocalLength int
	Features    features.FeatureVector
	Sequence    *sequence.Result
	Tree        *tree.Result
	Forest      *forest.Result
	Calibrated  *float64
	Heuristics  []heuristics.Match
}

// HasModel reports whether a primary model produced a score
func (in *Inputs) HasModel() bool {
	return in.Forest != nil || in.Tree != nil
}

// ModelStrategy reports the primary model score: the forest when present,
// else the single tree.
type ModelStrategy struct{}

func NewModelStrategy() *ModelStrategy { return &ModelStrategy{} }

func (s *ModelStrategy) Name() string { return "Primary Model" }

func (s *ModelStrategy) Detect(in *Inputs, cfg *Config) *domain.Detection {
	switch {
	case in.Forest != nil:
		return &domain.Detection{
			Type:       TypeForestModel,
			Confidence: features.Ratio(in.Forest.Score),
			Evidence:   strings.Join(in.Forest.Reasons, "; "),
		}
	case in.Tree != nil:
		return &domain.Detection{
			Type:       TypeTreeModel,
			Confidence: features.Ratio(in.Tree.Score),
			Evidence:   in.Tree.Reason,
		}
	}
	return nil
}

// SequenceStrategy raises risk when the n-gram models find the local part
// closer to the fraud distribution. The contribution is length-clamped.
type SequenceStrategy struct{}

func NewSequenceStrategy() *SequenceStrategy { return &SequenceStrategy{} }

func (s *SequenceStrategy) Name() string { return "Sequence Probability" }

func (s *SequenceStrategy) Detect(in *Inputs, cfg *Config) *domain.Detection {
	seq := in.Sequence
	if seq == nil || !seq.Available || !seq.FraudLeaning {
		return nil
	}

	risk := ClampOutOfDistribution(seq.Confidence*cfg.SequenceWeight, in.LocalLength)
	if risk <= 0 {
		return nil
	}
	return &domain.Detection{
		Type:       TypeSequenceAnomaly,
		Confidence: risk,
		Evidence:   fmt.Sprintf("sequence confidence %.3f leaning fraud (length %d)", seq.Confidence, in.LocalLength),
	}
}

// OutOfDistributionStrategy flags high-entropy local parts, which look
// machine generated. Short strings are damped by the length guardrail since
// a few random-looking characters carry little evidence.
type OutOfDistributionStrategy struct{}

func NewOutOfDistributionStrategy() *OutOfDistributionStrategy { return &OutOfDistributionStrategy{} }

func (s *OutOfDistributionStrategy) Name() string { return "Out Of Distribution" }

func (s *OutOfDistributionStrategy) Detect(in *Inputs, cfg *Config) *domain.Detection {
	entropy, ok := in.Features.Get(features.ShannonEntropy)
	if !ok || entropy <= cfg.OODEntropyLow {
		return nil
	}

	span := cfg.OODEntropyHigh - cfg.OODEntropyLow
	strength := 1.0
	if span > 0 {
		strength = math.Min(1, (entropy-cfg.OODEntropyLow)/span)
	}

	risk := ClampOutOfDistribution(strength*cfg.OODMaxRisk, in.LocalLength)
	if risk <= 0 {
		return nil
	}
	return &domain.Detection{
		Type:       TypeOutOfDistribution,
		Confidence: risk,
		Evidence:   fmt.Sprintf("entropy %.2f bits above %.2f (length %d)", entropy, cfg.OODEntropyLow, in.LocalLength),
	}
}

// LengthRamp is the guardrail weight for a local part of the given length:
// 0 up to 4 characters, linear from 5 to 11, 1 from 12 on.
func LengthRamp(length int) float64 {
	return features.Ratio(float64(length-4) / 8)
}

// ClampOutOfDistribution scales risk by LengthRamp. It never increases risk.
func ClampOutOfDistribution(risk float64, length int) float64 {
	ramp := LengthRamp(length)
	if ramp == 0 || math.IsNaN(risk) || risk <= 0 {
		return 0
	}
	return risk * ramp
}
