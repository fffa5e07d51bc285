package calibration

import (
	"context"

	"github.com/stoik/email-risk/internal/domain/features"
)

// Source provides the currently cached coefficients
type Source interface {
	Load(ctx context.Context, force bool) bool
	Get() (*Coefficients, bool)
}

// Layer scores feature vectors with the cached coefficients
type Layer struct {
	source Source
}

// NewLayer creates a calibration layer backed by source
func NewLayer(source Source) *Layer {
	return &Layer{source: source}
}

// Score returns the calibrated probability, or nil when no coefficients are cached
func (l *Layer) Score(ctx context.Context, fv features.FeatureVector) *float64 {
	if !l.source.Load(ctx, false) {
		return nil
	}
	c, ok := l.source.Get()
	if !ok || c == nil {
		return nil
	}
	score := c.Score(fv)
	return &score
}
