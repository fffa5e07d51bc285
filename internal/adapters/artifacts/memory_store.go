package artifacts

import (
	"context"
	"fmt"
	"sync"

	"github.com/stoik/email-risk/internal/ports"
)

type memoryArtifact struct {
	data    []byte
	version string
}

// MemoryStore is an in-process artifact store for tests and local runs
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]memoryArtifact
	reads     map[string]int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artifacts: make(map[string]memoryArtifact),
		reads:     make(map[string]int),
	}
}

// Get returns a copy of the stored artifact
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[key]++

	a, ok := s.artifacts[key]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ports.ErrArtifactNotFound, key)
	}
	return append([]byte(nil), a.data...), a.version, nil
}

// Put stores a copy of data under key
func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[key] = memoryArtifact{data: append([]byte(nil), data...), version: version}
	return nil
}

// Delete removes key
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, key)
}

// Reads returns how many times key was read
func (s *MemoryStore) Reads(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reads[key]
}
