package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stoik/email-risk/internal/adapters/artifacts"
	"github.com/stoik/email-risk/internal/adapters/resolver"
	"github.com/stoik/email-risk/internal/adapters/storage"
	"github.com/stoik/email-risk/internal/application"
	"github.com/stoik/email-risk/internal/config"
	"github.com/stoik/email-risk/internal/domain/calibration"
	"github.com/stoik/email-risk/internal/domain/detection"
	"github.com/stoik/email-risk/internal/domain/forest"
	"github.com/stoik/email-risk/internal/domain/heuristics"
	"github.com/stoik/email-risk/internal/domain/sequence"
	"github.com/stoik/email-risk/internal/domain/tree"
	"github.com/stoik/email-risk/internal/modelcache"
	"github.com/stoik/email-risk/internal/ports"
)

// Model cache kinds
const (
	KindDecisionTree = "decision_tree"
	KindRandomForest = "random_forest"
	KindCalibration  = "calibration"
	KindHeuristics   = "heuristics"
)

// app holds every wired component and the resources to release on shutdown
type app struct {
	service  *application.RiskScoringService
	registry *modelcache.Registry
	store    ports.AssessmentStore
	postgres *storage.PostgresStore
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// newArtifactStore opens the configured artifact backend
func newArtifactStore(ctx context.Context, cfg config.ArtifactsConfig) (ports.ArtifactStore, func() error, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		s, err := artifacts.NewRedisStore(ctx, cfg.RedisURL, cfg.Prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return s, s.Close, nil
	case config.BackendFile:
		return artifacts.NewFileStore(cfg.Dir), func() error { return nil }, nil
	case config.BackendMemory:
		return artifacts.NewMemoryStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}

// models are the typed caches behind the registry
type models struct {
	tree        *modelcache.Cache[*tree.Tree]
	forest      *modelcache.Cache[*forest.Forest]
	calibration *modelcache.Cache[*calibration.Coefficients]
	heuristics  *modelcache.Cache[*heuristics.Config]
	ngrams      map[sequence.Key]sequence.Source
}

func newCache[T any](kind, key string, store ports.ArtifactStore, cfg config.ArtifactsConfig, logger *slog.Logger,
	decode func([]byte) (T, error), versionOf func(T) string) *modelcache.Cache[T] {
	return modelcache.New(modelcache.Options[T]{
		Kind:         kind,
		Key:          key,
		Store:        store,
		Decode:       decode,
		VersionOf:    versionOf,
		TTL:          cfg.TTL,
		FetchTimeout: cfg.FetchTimeout,
		Logger:       logger,
	})
}

// newModels builds one cache per artifact kind and registers them all
func newModels(store ports.ArtifactStore, cfg config.ArtifactsConfig, logger *slog.Logger) (*models, *modelcache.Registry) {
	keys := cfg.Keys
	m := &models{
		tree: newCache(KindDecisionTree, keys.DecisionTree, store, cfg, logger, tree.Decode,
			func(t *tree.Tree) string { return t.Version }),
		forest: newCache(KindRandomForest, keys.RandomForest, store, cfg, logger, forest.Decode,
			func(f *forest.Forest) string { return f.Meta.Version }),
		calibration: newCache(KindCalibration, keys.Calibration, store, cfg, logger, calibration.Decode,
			func(c *calibration.Coefficients) string { return c.Version }),
		heuristics: newCache(KindHeuristics, keys.Heuristics, store, cfg, logger, heuristics.Decode,
			func(h *heuristics.Config) string { return h.Version }),
		ngrams: make(map[sequence.Key]sequence.Source),
	}

	registry := modelcache.NewRegistry()
	registry.Register(m.tree, m.forest, m.calibration, m.heuristics)

	for _, k := range sequence.Keys() {
		// ngram_1_legit.json under the default prefix
		key := keys.NgramPrefix + strings.TrimPrefix(k.String(), "ngram_") + ".json"
		c := newCache(k.String(), key, store, cfg, logger, sequence.Decode,
			func(sm *sequence.Model) string { return sm.Version })
		m.ngrams[k] = c
		registry.Register(c)
	}
	return m, registry
}

// newAssessmentStore opens Postgres when configured, else an in-memory log
func newAssessmentStore(ctx context.Context, cfg config.StorageConfig) (ports.AssessmentStore, *storage.PostgresStore, error) {
	if cfg.DatabaseURL == "" {
		return storage.NewMemoryStore(cfg.MemoryCapacity), nil, nil
	}
	pg, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
	}
	return pg, pg, nil
}

// wire builds the application from configuration
func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	artifactStore, closeArtifacts, err := newArtifactStore(ctx, cfg.Artifacts)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeArtifacts)

	m, registry := newModels(artifactStore, cfg.Artifacts, logger)
	a.registry = registry

	store, pg, err := newAssessmentStore(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store, a.postgres = store, pg
	a.closers = append(a.closers, store.Close)

	var mx ports.MXResolver
	if cfg.Resolver.Enabled {
		mx = resolver.New(resolver.Options{
			Endpoint:    cfg.Resolver.Endpoint,
			Timeout:     cfg.Resolver.Timeout,
			CacheTTL:    cfg.Resolver.CacheTTL,
			Concurrency: cfg.Resolver.Concurrency,
			QPS:         cfg.Resolver.QPS,
			Logger:      logger,
		})
	}

	a.service = application.NewRiskScoringService(application.Components{
		Resolver:    mx,
		Sequence:    sequence.NewScorer(m.ngrams),
		Tree:        tree.NewEvaluator(m.tree, logger),
		Forest:      forest.NewEvaluator(m.forest, logger),
		Calibration: calibration.NewLayer(m.calibration),
		Heuristics:  heuristics.NewEngine(m.heuristics),
		Composer:    detection.NewComposer(cfg.Decision),
		Store:       store,
		Versions:    registry,
		Logger:      logger,
	})
	return a, nil
}
