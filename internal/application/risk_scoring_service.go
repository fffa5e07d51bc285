package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stoik/email-risk/internal/domain"
	"github.com/stoik/email-risk/internal/domain/calibration"
	"github.com/stoik/email-risk/internal/domain/detection"
	"github.com/stoik/email-risk/internal/domain/features"
	"github.com/stoik/email-risk/internal/domain/forest"
	"github.com/stoik/email-risk/internal/domain/heuristics"
	"github.com/stoik/email-risk/internal/domain/sequence"
	"github.com/stoik/email-risk/internal/domain/tree"
	"github.com/stoik/email-risk/internal/logging"
	"github.com/stoik/email-risk/internal/metrics"
	"github.com/stoik/email-risk/internal/ports"
)

var (
	// ErrInvalidEmail is returned for addresses that cannot be split into local part and domain
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrModelUnavailable is returned when an operation needs a model that is not cached
	ErrModelUnavailable = errors.New("model unavailable")
)

// HeuristicsVersionKey is the model_versions entry for the rules that were applied
const HeuristicsVersionKey = "heuristics_applied"

// VersionSource reports the cached version of every model kind
type VersionSource interface {
	Versions() map[string]string
}

// Components are the collaborators of RiskScoringService.
// Store and Versions are optional.
type Components struct {
	Resolver    ports.MXResolver
	Sequence    *sequence.Scorer
	Tree        *tree.Evaluator
	Forest      *forest.Evaluator
	Calibration *calibration.Layer
	Heuristics  *heuristics.Engine
	Composer    *detection.Composer
	Store       ports.AssessmentStore
	Versions    VersionSource
	Logger      *slog.Logger
	Clock       func() time.Time
}

// ScoreRequest is one address to score, with optional request-context geo signals
type ScoreRequest struct {
	Email string
	Geo   *features.GeoSignals
}

// RiskScoringService orchestrates feature extraction, model evaluation and
// decision composition for email addresses
type RiskScoringService struct {
	c Components
}

// NewRiskScoringService creates a scoring service with dependency injection
func NewRiskScoringService(c Components) *RiskScoringService {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Composer == nil {
		c.Composer = detection.NewComposer(detection.DefaultConfig())
	}
	return &RiskScoringService{c: c}
}

// Score assesses one address. The only error is ErrInvalidEmail: missing
// models and failed lookups degrade the assessment instead of failing it.
func (s *RiskScoringService) Score(ctx context.Context, req ScoreRequest) (*domain.RiskAssessment, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !features.ValidateEmail(email) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, req.Email)
	}
	_, domainName, _ := features.SplitAddress(email)

	mx := s.resolve(ctx, domainName)
	return s.assess(ctx, email, req.Geo, mx), nil
}

// BatchResult is the outcome for one address of a batch
type BatchResult struct {
	Email      string                 `json:"email"`
	Assessment *domain.RiskAssessment `json:"assessment,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// ScoreBatch assesses many addresses. Domains are resolved up front with
// bounded concurrency when the resolver supports it; results keep input order.
func (s *RiskScoringService) ScoreBatch(ctx context.Context, reqs []ScoreRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))
	emails := make([]string, len(reqs))
	domains := make([]string, 0, len(reqs))

	for i, req := range reqs {
		results[i].Email = req.Email
		email := strings.ToLower(strings.TrimSpace(req.Email))
		if !features.ValidateEmail(email) {
			results[i].Error = ErrInvalidEmail.Error()
			continue
		}
		emails[i] = email
		_, d, _ := features.SplitAddress(email)
		domains = append(domains, d)
	}

	var resolved map[string]domain.MXResult
	if batch, ok := s.c.Resolver.(ports.BatchMXResolver); ok && len(domains) > 0 {
		resolved = batch.ResolveMany(ctx, domains)
	}

	for i, req := range reqs {
		if emails[i] == "" {
			continue
		}
		_, d, _ := features.SplitAddress(emails[i])
		mx, ok := resolved[d]
		if !ok {
			mx = s.resolve(ctx, d)
		}
		results[i].Assessment = s.assess(ctx, emails[i], req.Geo, mx)
	}
	return results
}

// GetAssessment returns a persisted assessment, or nil when unknown or no store is configured
func (s *RiskScoringService) GetAssessment(ctx context.Context, id uuid.UUID) (*domain.RiskAssessment, error) {
	if s.c.Store == nil {
		return nil, nil
	}
	a, err := s.c.Store.GetAssessment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}
	return a, nil
}

// RecentAssessments lists persisted assessments at or above minScore since the given time
func (s *RiskScoringService) RecentAssessments(ctx context.Context, since time.Time, minScore float64, limit int) ([]domain.RiskAssessment, error) {
	if s.c.Store == nil {
		return []domain.RiskAssessment{}, nil
	}
	list, err := s.c.Store.ListAssessments(ctx, since, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	return list, nil
}

// ExplainForest evaluates the cached forest against caller-supplied raw
// features, coercing non-numeric values
func (s *RiskScoringService) ExplainForest(ctx context.Context, raw map[string]any) (*forest.Result, error) {
	if s.c.Forest == nil {
		return nil, ErrModelUnavailable
	}
	res := s.c.Forest.Evaluate(ctx, forest.Coerce(raw))
	if res == nil {
		return nil, ErrModelUnavailable
	}
	return res, nil
}

func (s *RiskScoringService) resolve(ctx context.Context, domainName string) domain.MXResult {
	if s.c.Resolver == nil {
		return domain.MXResult{Domain: domainName, Provider: domain.ProviderNone, Failed: true, FailureReason: "resolver disabled"}
	}
	return s.c.Resolver.Resolve(ctx, domainName)
}

// assess runs the scoring pipeline for a validated, lower-cased address
func (s *RiskScoringService) assess(ctx context.Context, email string, geo *features.GeoSignals, mx domain.MXResult) *domain.RiskAssessment {
	start := time.Now()
	logger := logging.LOr(ctx, s.c.Logger)

	local, domainName, _ := features.SplitAddress(email)
	lex := features.ExtractLexical(local)
	ling := features.ExtractLinguistic(local)
	st := features.ExtractStructural(local)
	stat := features.ExtractStatistical(local)
	dom := features.ExtractDomain(domainName)

	var seq *sequence.Result
	if s.c.Sequence != nil {
		r := s.c.Sequence.Score(ctx, local)
		seq = &r
	}

	fv := features.Build(features.RawSignals{
		Lexical:     &lex,
		Linguistic:  &ling,
		Structural:  &st,
		Statistical: &stat,
		Domain:      &dom,
		Geo:         geo,
		MX: &features.MXSignals{
			HasRecords:   mx.HasRecords,
			RecordCount:  float64(mx.RecordCount),
			LookupFailed: mx.Failed,
			Provider:     mx.Provider,
		},
		Sequence: seq.Signals(),
	})

	length := len([]rune(local))
	in := detection.Inputs{LocalLength: length, Features: fv, Sequence: seq}
	if s.c.Forest != nil {
		in.Forest = s.c.Forest.Evaluate(ctx, fv)
	}
	if s.c.Tree != nil {
		in.Tree = s.c.Tree.Evaluate(ctx, fv)
	}
	if s.c.Calibration != nil {
		in.Calibrated = s.c.Calibration.Score(ctx, fv)
	}

	heuristicsVersion := ""
	if s.c.Heuristics != nil {
		in.Heuristics, heuristicsVersion = s.c.Heuristics.EvaluateAll(ctx, heuristicValues(fv, length))
	}

	composed := s.c.Composer.Compose(in)
	a := &composed
	a.ID = uuid.New()
	a.Email = email
	a.Domain = domainName
	a.Features = fv
	a.AssessedAt = s.c.Clock().UTC()
	a.ModelVersions = map[string]string{}
	if s.c.Versions != nil {
		for kind, v := range s.c.Versions.Versions() {
			a.ModelVersions[kind] = v
		}
	}
	if heuristicsVersion != "" {
		a.ModelVersions[HeuristicsVersionKey] = heuristicsVersion
	}

	if s.c.Store != nil {
		if err := s.c.Store.SaveAssessment(ctx, a); err != nil {
			logger.Error("failed to persist assessment", "id", a.ID, "domain", domainName, "error", err)
		}
	}

	metrics.DecisionsTotal.WithLabelValues(string(a.Decision)).Inc()
	metrics.ScoreDuration.Observe(time.Since(start).Seconds())

	if a.Decision != domain.DecisionAllow {
		logger.Info("risky address scored",
			"id", a.ID,
			"domain", domainName,
			"decision", a.Decision,
			"risk_score", a.RiskScore,
			"detections", len(a.Detections),
		)
	}
	return a
}

// heuristicValues maps every category to its current value. The sequential
// confidence only counts when the fraud models explain the local part better,
// and goes through the same length guardrail as the composer.
func heuristicValues(fv features.FeatureVector, length int) map[heuristics.Category]float64 {
	return map[heuristics.Category]float64{
		heuristics.CategoryTLDRisk:              fv.Value(features.TLDRiskScore),
		heuristics.CategoryDomainReputation:     fv.Value(features.DomainReputation),
		heuristics.CategorySequentialConfidence: fraudSequenceConfidence(fv, length),
		heuristics.CategoryDigitRatio:           fv.Value(features.DigitRatio),
		heuristics.CategoryPlusAddressing:       fv.Value(features.HasPlus),
	}
}

func fraudSequenceConfidence(fv features.FeatureVector, length int) float64 {
	if fv.Value(features.NgramFraudLeaning) < 1 {
		return 0
	}
	return detection.ClampOutOfDistribution(fv.Value(features.SequentialConfidence), length)
}
