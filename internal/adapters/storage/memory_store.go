package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stoik/email-risk/internal/domain"
)

// MemoryStore implements ports.AssessmentStore in memory, keeping at most
// capacity assessments (oldest evicted first).
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	order    []uuid.UUID
	byID     map[uuid.UUID]domain.RiskAssessment
}

// NewMemoryStore creates a store; capacity <= 0 means 10000
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryStore{capacity: capacity, byID: make(map[uuid.UUID]domain.RiskAssessment)}
}

// SaveAssessment stores a copy of a
func (s *MemoryStore) SaveAssessment(ctx context.Context, a *domain.RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[a.ID]; !exists {
		s.order = append(s.order, a.ID)
	}
	s.byID[a.ID] = *a

	for len(s.order) > s.capacity {
		delete(s.byID, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// GetAssessment returns the assessment, or nil when absent
func (s *MemoryStore) GetAssessment(ctx context.Context, id uuid.UUID) (*domain.RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// ListAssessments returns matching assessments, newest first
func (s *MemoryStore) ListAssessments(ctx context.Context, since time.Time, minScore float64, limit int) ([]domain.RiskAssessment, error) {
	s.mu.RLock()
	out := make([]domain.RiskAssessment, 0)
	for _, id := range s.order {
		a := s.byID[id]
		if !a.AssessedAt.Before(since) && a.RiskScore >= minScore {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].AssessedAt.After(out[j].AssessedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
