// Package features turns raw per-email signals into the canonical numeric
// feature map consumed by every model.
package features

import (
	"math"
	"sort"
)

// FeatureVector maps feature names to finite values.
//
// Consumers must treat an absent key as 0: optional signal groups omit their
// keys instead of failing.
type FeatureVector map[string]float64

// Get returns the value for name and whether it is present
func (fv FeatureVector) Get(name string) (float64, bool) {
	v, ok := fv[name]
	return v, ok
}

// Value returns the value for name, or 0 when absent
func (fv FeatureVector) Value(name string) float64 {
	return fv[name]
}

// Names returns the feature names in deterministic (sorted) order
func (fv FeatureVector) Names() []string {
	names := make([]string, 0, len(fv))
	for name := range fv {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy of the vector
func (fv FeatureVector) Clone() FeatureVector {
	out := make(FeatureVector, len(fv))
	for k, v := range fv {
		out[k] = v
	}
	return out
}

// Sanitize maps NaN/Inf to fallback and clamps v into [lo, hi]
func Sanitize(v, lo, hi, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Ratio clamps v into [0, 1]
func Ratio(v float64) float64 {
	return Sanitize(v, 0, 1, 0)
}

// Count clamps v into [0, 128]
func Count(v float64) float64 {
	return Sanitize(v, 0, maxCount, 0)
}

// Bool encodes b as 0/1
func Bool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
