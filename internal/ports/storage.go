package ports

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stoik/email-risk/internal/domain"
)

// ErrArtifactNotFound is returned by an ArtifactStore when the key does not exist
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore is the read-only key-value store holding model artifacts
type ArtifactStore interface {
	// Get returns the artifact payload and its attached version metadata.
	// version is empty when the store carries none.
	Get(ctx context.Context, key string) (data []byte, version string, err error)
}

// AssessmentStore persists scored assessments for audit
type AssessmentStore interface {
	SaveAssessment(ctx context.Context, a *domain.RiskAssessment) error
	GetAssessment(ctx context.Context, id uuid.UUID) (*domain.RiskAssessment, error)
	// ListAssessments returns the most recent assessments at or above minScore, newest first
	ListAssessments(ctx context.Context, since time.Time, minScore float64, limit int) ([]domain.RiskAssessment, error)

	// Lifecycle
	Close() error
}
