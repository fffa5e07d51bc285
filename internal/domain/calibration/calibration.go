// Package calibration implements the logistic post-processor that maps a
// feature set onto a fraud probability.
//
// Calibrated scores are boost-only: callers combine them with Boost, which can
// raise a base risk but never lower it. A stale or corrupted coefficient set
// therefore can only add caution.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/stoik/email-risk/internal/domain/features"
)

// ErrInvalidCoefficients is returned when a coefficient document fails validation
var ErrInvalidCoefficients = errors.New("invalid calibration coefficients")

// Feature is one standardized, weighted input
type Feature struct {
	Name   string  `json:"name"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Weight float64 `json:"weight"`
}

// Coefficients is a trained logistic model. Features are evaluated in
// slice order so the sum is deterministic.
type Coefficients struct {
	Version   string             `json:"version"`
	CreatedAt time.Time          `json:"createdAt"`
	Bias      float64            `json:"bias"`
	Features  []Feature          `json:"features"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Decode parses and validates a coefficient document
func Decode(data []byte) (*Coefficients, error) {
	var c Coefficients
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCoefficients, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every coefficient is finite and every feature is named
func (c *Coefficients) Validate() error {
	if !finite(c.Bias) {
		return fmt.Errorf("%w: bias is not finite", ErrInvalidCoefficients)
	}
	if len(c.Features) == 0 {
		return fmt.Errorf("%w: no features", ErrInvalidCoefficients)
	}
	for i, f := range c.Features {
		if f.Name == "" {
			return fmt.Errorf("%w: feature %d has no name", ErrInvalidCoefficients, i)
		}
		if !finite(f.Mean) || !finite(f.Std) || !finite(f.Weight) {
			return fmt.Errorf("%w: feature %q has a non-finite coefficient", ErrInvalidCoefficients, f.Name)
		}
		if f.Std < 0 {
			return fmt.Errorf("%w: feature %q has negative std", ErrInvalidCoefficients, f.Name)
		}
	}
	return nil
}

// Logit computes bias + Σ weight·(value−mean)/std. A std of 0 means the
// feature is only centered. Missing features read as 0.
func (c *Coefficients) Logit(fv features.FeatureVector) float64 {
	z := c.Bias
	for _, f := range c.Features {
		x := fv.Value(f.Name) - f.Mean
		if f.Std != 0 {
			x /= f.Std
		}
		z += f.Weight * x
	}
	return z
}

// Score returns sigmoid(Logit(fv))
func (c *Coefficients) Score(fv features.FeatureVector) float64 {
	return Sigmoid(c.Logit(fv))
}

// Boost combines a base risk with a calibrated risk. The result is never
// below base.
func Boost(base, calibrated float64) float64 {
	if math.IsNaN(calibrated) {
		return base
	}
	return math.Max(base, calibrated)
}

// Sigmoid is the logistic function 1 / (1 + e^-z), stable for large |z|
func Sigmoid(z float64) float64 {
	if math.IsNaN(z) {
		return 0.5
	}
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
