package heuristics

import (
	"context"
)

// Source provides the currently cached heuristics configuration
type Source interface {
	Load(ctx context.Context, force bool) bool
	Get() (*Config, bool)
}

// Engine evaluates the cached rules, falling back to DefaultConfig
type Engine struct {
	source   Source
	defaults *Config
}

// NewEngine creates an engine backed by source
func NewEngine(source Source) *Engine {
	return &Engine{source: source, defaults: DefaultConfig()}
}

// Config returns the active configuration
func (e *Engine) Config(ctx context.Context) *Config {
	if e.source != nil && e.source.Load(ctx, false) {
		if cfg, ok := e.source.Get(); ok && cfg != nil {
			return cfg
		}
	}
	return e.defaults
}

// EvaluateAll evaluates every category against the active configuration
// and reports which configuration version produced the matches.
func (e *Engine) EvaluateAll(ctx context.Context, values map[Category]float64) ([]Match, string) {
	cfg := e.Config(ctx)
	return cfg.EvaluateAll(values), cfg.Version
}
