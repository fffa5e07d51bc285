package modelcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrUnknownKind is returned for a kind that was never registered
var ErrUnknownKind = errors.New("unknown model kind")

// Reloadable is the type-erased view of a Cache used for administration
type Reloadable interface {
	Kind() string
	Key() string
	Load(ctx context.Context, force bool) bool
	Version() string
	State() State
	LoadedAt() time.Time
	Clear()
}

// Status describes one cached artifact
type Status struct {
	Kind     string    `json:"kind"`
	Key      string    `json:"key"`
	Version  string    `json:"version"`
	State    State     `json:"state"`
	LoadedAt time.Time `json:"loaded_at,omitempty"`
}

// Registry indexes caches by kind for the administrative hooks
type Registry struct {
	mu     sync.RWMutex
	caches map[string]Reloadable
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{caches: make(map[string]Reloadable)}
}

// Register adds caches, replacing any with the same kind
func (r *Registry) Register(caches ...Reloadable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range caches {
		r.caches[c.Kind()] = c
	}
}

// Lookup returns the cache registered for kind
func (r *Registry) Lookup(kind string) (Reloadable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caches[kind]
	return c, ok
}

// Kinds returns the registered kinds in sorted order
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.caches))
	for k := range r.caches {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Reload force-reloads one kind and returns its resulting status
func (r *Registry) Reload(ctx context.Context, kind string) (Status, error) {
	c, ok := r.Lookup(kind)
	if !ok {
		return Status{}, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	c.Load(ctx, true)
	return statusOf(c), nil
}

// ReloadAll force-reloads every kind
func (r *Registry) ReloadAll(ctx context.Context) []Status {
	kinds := r.Kinds()
	out := make([]Status, 0, len(kinds))
	for _, kind := range kinds {
		if s, err := r.Reload(ctx, kind); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// Clear resets one kind
func (r *Registry) Clear(kind string) error {
	c, ok := r.Lookup(kind)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	c.Clear()
	return nil
}

// ClearAll resets every kind
func (r *Registry) ClearAll() {
	for _, kind := range r.Kinds() {
		_ = r.Clear(kind)
	}
}

// Status reports every registered kind in sorted order
func (r *Registry) Status() []Status {
	kinds := r.Kinds()
	out := make([]Status, 0, len(kinds))
	for _, kind := range kinds {
		if c, ok := r.Lookup(kind); ok {
			out = append(out, statusOf(c))
		}
	}
	return out
}

// Versions maps every kind to its cached version
func (r *Registry) Versions() map[string]string {
	out := make(map[string]string)
	for _, s := range r.Status() {
		out[s.Kind] = s.Version
	}
	return out
}

func statusOf(c Reloadable) Status {
	return Status{Kind: c.Kind(), Key: c.Key(), Version: c.Version(), State: c.State(), LoadedAt: c.LoadedAt()}
}
