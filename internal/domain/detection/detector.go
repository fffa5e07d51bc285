// Package detection composes every scorer output into one explainable risk
// score and decision.
package detection

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/stoik/email-risk/internal/domain"
	"github.com/stoik/email-risk/internal/domain/calibration"
	"github.com/stoik/email-risk/internal/domain/features"
)

// ReasonModelUnavailable is recorded when neither the forest nor the tree scored
const ReasonModelUnavailable = "model_unavailable"

// Config holds the decision thresholds and guardrail tuning
type Config struct {
	WarnThreshold  float64 `yaml:"warn_threshold"`
	BlockThreshold float64 `yaml:"block_threshold"`

	// SequenceWeight scales sequence confidence into a risk contribution
	SequenceWeight float64 `yaml:"sequence_weight"`

	// Local-part Shannon entropy band (bits per character). Below Low there is
	// no out-of-distribution signal; at High it reaches OODMaxRisk.
	OODEntropyLow  float64 `yaml:"ood_entropy_low"`
	OODEntropyHigh float64 `yaml:"ood_entropy_high"`
	OODMaxRisk     float64 `yaml:"ood_max_risk"`
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		WarnThreshold:  0.6,
		BlockThreshold: 0.85,
		SequenceWeight: 1.0,
		OODEntropyLow:  3.2,
		OODEntropyHigh: 4.0,
		OODMaxRisk:     0.7,
	}
}

// Validate checks thresholds are ordered and within [0,1]
func (c Config) Validate() error {
	if !(c.WarnThreshold > 0 && c.WarnThreshold < c.BlockThreshold && c.BlockThreshold <= 1) {
		return fmt.Errorf("thresholds must satisfy 0 < warn (%.2f) < block (%.2f) <= 1", c.WarnThreshold, c.BlockThreshold)
	}
	if c.SequenceWeight < 0 || c.SequenceWeight > 1 {
		return errors.New("sequence weight must be within [0,1]")
	}
	if c.OODEntropyLow < 0 || c.OODEntropyHigh < c.OODEntropyLow {
		return errors.New("ood entropy band must satisfy 0 <= low <= high")
	}
	if c.OODMaxRisk < 0 || c.OODMaxRisk > 1 {
		return errors.New("ood max risk must be within [0,1]")
	}
	return nil
}

// Composer merges scorer outputs using pluggable strategies
type Composer struct {
	strategies []SignalStrategy
	config     Config
}

// NewComposer creates a composer with the standard strategies
func NewComposer(cfg Config) *Composer {
	return &Composer{
		strategies: []SignalStrategy{
			NewModelStrategy(),
			NewSequenceStrategy(),
			NewOutOfDistributionStrategy(),
		},
		config: cfg,
	}
}

// Config returns the composer configuration
func (c *Composer) Config() Config {
	return c.config
}

// Compose produces the scored part of an assessment: score, level, decision,
// reason path and detections. Identity fields are left to the caller.
//
// Order: strategy contributions set the base risk, calibration can only
// raise it, then heuristic verdicts and the missing-model floor can only
// raise the decision.
func (c *Composer) Compose(in Inputs) domain.RiskAssessment {
	detections := make([]domain.Detection, 0, 4)
	reasons := make([]string, 0, 8)

	switch {
	case in.Forest != nil:
		reasons = append(reasons, in.Forest.Reasons...)
	case in.Tree != nil:
		reasons = append(reasons, in.Tree.Path...)
	}

	for _, strategy := range c.strategies {
		if det := strategy.Detect(&in, &c.config); det != nil {
			detections = append(detections, *det)
			if det.Type == TypeSequenceAnomaly || det.Type == TypeOutOfDistribution {
				reasons = append(reasons, det.Evidence)
			}
		}
	}

	score := baseRisk(detections)

	if in.Calibrated != nil {
		boosted := calibration.Boost(score, features.Ratio(*in.Calibrated))
		if boosted > score {
			detections = append(detections, domain.Detection{
				Type:       TypeCalibration,
				Confidence: boosted,
				Evidence:   fmt.Sprintf("calibrated %.3f above base %.3f", boosted, score),
			})
			reasons = append(reasons, fmt.Sprintf("calibration boost %.3f -> %.3f", score, boosted))
			score = boosted
		}
	}

	decision := c.threshold(score)

	for _, m := range in.Heuristics {
		reasons = append(reasons, fmt.Sprintf("heuristic %s=%.3f: %s (%s)", m.Category, m.Value, m.Reason, m.Decision))
		detections = append(detections, domain.Detection{
			Type:       typeHeuristicPrefix + strings.ToUpper(string(m.Category)),
			Confidence: features.Ratio(c.floor(m.Decision) + m.MinScoreOffset),
			Evidence:   m.Reason,
		})
		score, decision = c.raise(score, decision, m.Decision, m.MinScoreOffset)
	}

	if !in.HasModel() {
		reasons = append(reasons, ReasonModelUnavailable)
		detections = append(detections, domain.Detection{
			Type:       TypeModelUnavailable,
			Confidence: c.config.WarnThreshold,
			Evidence:   "no decision tree or forest is loaded",
		})
		score, decision = c.raise(score, decision, domain.DecisionWarn, 0)
	}

	reasons = append(reasons, fmt.Sprintf("decision %s at %.3f (warn %.2f, block %.2f)", decision, score, c.config.WarnThreshold, c.config.BlockThreshold))

	return domain.RiskAssessment{
		RiskScore:  score,
		RiskLevel:  domain.RiskLevel(score),
		Decision:   decision,
		Reasons:    reasons,
		Detections: detections,
	}
}

// baseRisk is the strongest single contribution
func baseRisk(detections []domain.Detection) float64 {
	risk := 0.0
	for _, d := range detections {
		risk = math.Max(risk, d.Confidence)
	}
	return features.Ratio(risk)
}

func (c *Composer) threshold(score float64) domain.Decision {
	switch {
	case score >= c.config.BlockThreshold:
		return domain.DecisionBlock
	case score >= c.config.WarnThreshold:
		return domain.DecisionWarn
	default:
		return domain.DecisionAllow
	}
}

// floor is the lowest score consistent with decision
func (c *Composer) floor(decision domain.Decision) float64 {
	switch decision {
	case domain.DecisionBlock:
		return c.config.BlockThreshold
	case domain.DecisionWarn:
		return c.config.WarnThreshold
	default:
		return 0
	}
}

// raise lifts score and decision to at least the given decision. It never lowers either.
func (c *Composer) raise(score float64, current, decision domain.Decision, offset float64) (float64, domain.Decision) {
	floor := features.Ratio(c.floor(decision) + offset)
	return math.Max(score, floor), domain.MaxDecision(current, decision)
}
