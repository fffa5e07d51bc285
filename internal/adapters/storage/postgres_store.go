package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/stoik/email-risk/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore implements ports.AssessmentStore for PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL storage instance
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Audit writes are small and asynchronous to scoring
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db}, nil
}

// DB exposes the pool for stats collection
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded goose migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// SaveAssessment inserts a scored assessment
func (s *PostgresStore) SaveAssessment(ctx context.Context, a *domain.RiskAssessment) error {
	reasonsJSON, err := json.Marshal(a.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}
	detectionsJSON, err := json.Marshal(a.Detections)
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}
	versionsJSON, err := json.Marshal(a.ModelVersions)
	if err != nil {
		return fmt.Errorf("failed to marshal model versions: %w", err)
	}
	featuresJSON, err := json.Marshal(a.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	query := `
		INSERT INTO risk_assessments (id, email, domain, risk_score, risk_level, decision,
		                              reasons, detections, model_versions, features, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(ctx, query,
		a.ID, a.Email, a.Domain, a.RiskScore, a.RiskLevel, string(a.Decision),
		reasonsJSON, detectionsJSON, versionsJSON, featuresJSON, a.AssessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert assessment: %w", err)
	}
	return nil
}

const assessmentColumns = `
	id, email, domain, risk_score, risk_level, decision,
	reasons, detections, model_versions, features, assessed_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (*domain.RiskAssessment, error) {
	a := &domain.RiskAssessment{}
	var decision string
	var reasonsJSON, detectionsJSON, versionsJSON, featuresJSON []byte

	if err := row.Scan(
		&a.ID, &a.Email, &a.Domain, &a.RiskScore, &a.RiskLevel, &decision,
		&reasonsJSON, &detectionsJSON, &versionsJSON, &featuresJSON, &a.AssessedAt,
	); err != nil {
		return nil, err
	}
	a.Decision = domain.Decision(decision)

	// Columns are written by SaveAssessment, so a decode error means a corrupt row
	for name, pair := range map[string]struct {
		raw []byte
		dst any
	}{
		"reasons":        {reasonsJSON, &a.Reasons},
		"detections":     {detectionsJSON, &a.Detections},
		"model_versions": {versionsJSON, &a.ModelVersions},
		"features":       {featuresJSON, &a.Features},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", name, err)
		}
	}
	return a, nil
}

// GetAssessment retrieves an assessment by ID, or nil when absent
func (s *PostgresStore) GetAssessment(ctx context.Context, id uuid.UUID) (*domain.RiskAssessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM risk_assessments WHERE id = $1`

	a, err := scanAssessment(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssessments retrieves recent assessments at or above minScore
func (s *PostgresStore) ListAssessments(ctx context.Context, since time.Time, minScore float64, limit int) ([]domain.RiskAssessment, error) {
	query := `SELECT ` + assessmentColumns + `
		FROM risk_assessments
		WHERE assessed_at >= $1 AND risk_score >= $2
		ORDER BY assessed_at DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, since, minScore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assessments := make([]domain.RiskAssessment, 0)
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, *a)
	}

	return assessments, rows.Err()
}
