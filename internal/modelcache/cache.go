// Package modelcache loads model artifacts from an ArtifactStore and keeps
// the last good copy in memory for a fixed TTL.
//
// Each Cache owns one artifact kind. Concurrent misses share a single fetch,
// and a fetched artifact is published atomically: readers see either the old
// artifact or the new one, never a partially built value.
package modelcache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stoik/email-risk/internal/metrics"
	"github.com/stoik/email-risk/internal/ports"
)

// Version sentinels
const (
	VersionUnavailable = "unavailable"
	VersionUnknown     = "unknown"
)

const (
	DefaultTTL          = 60 * time.Second
	DefaultFetchTimeout = 5 * time.Second
)

// State is the lifecycle state of a cached artifact
type State string

const (
	StateUnloaded    State = "unloaded"
	StateLoading     State = "loading"
	StateLoaded      State = "loaded"
	StateUnavailable State = "unavailable"
)

// Clock returns the current time
type Clock func() time.Time

// Options configures a Cache
type Options[T any] struct {
	Kind   string
	Key    string
	Store  ports.ArtifactStore
	Decode func([]byte) (T, error)

	// VersionOf extracts a version from the artifact when the store has no
	// version metadata for the key.
	VersionOf func(T) string

	TTL          time.Duration
	FetchTimeout time.Duration
	Clock        Clock
	Logger       *slog.Logger
}

// snapshot is an immutable view of the cache. ok is false after a failed load.
type snapshot[T any] struct {
	value     T
	version   string
	ok        bool
	loadedAt  time.Time
	checkedAt time.Time
}

// Cache is a TTL cache for a single artifact kind
type Cache[T any] struct {
	opts    Options[T]
	current atomic.Pointer[snapshot[T]]
	loading atomic.Bool
	group   singleflight.Group

	// publishMu orders snapshot publication against Clear. A fetch only
	// publishes if no Clear happened since it started.
	publishMu  sync.Mutex
	generation uint64
}

// New creates a cache. Zero TTL, FetchTimeout, Clock and Logger take defaults.
func New[T any](opts Options[T]) *Cache[T] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache[T]{opts: opts}
}

// Kind returns the artifact kind this cache owns
func (c *Cache[T]) Kind() string { return c.opts.Kind }

// Key returns the store key this cache reads
func (c *Cache[T]) Key() string { return c.opts.Key }

// Load makes sure a fresh artifact is cached and reports whether a usable
// one is available.
//
// Within the TTL no I/O happens, whether the last load succeeded or failed.
// force bypasses the TTL. Concurrent callers share one fetch; a caller whose
// ctx ends first returns the current state without waiting.
func (c *Cache[T]) Load(ctx context.Context, force bool) bool {
	if s, fresh := c.fresh(); fresh && !force {
		return s.ok
	}

	// Forced loads never join a non-forced flight that may skip the read
	key := c.opts.Kind
	if force {
		key += ":force"
	}
	ch := c.group.DoChan(key, func() (any, error) {
		// A flight that finished between our check and DoChan already refreshed the cache
		if s, fresh := c.fresh(); fresh && !force {
			return s.ok, nil
		}
		return c.fetch(ctx), nil
	})

	select {
	case r := <-ch:
		return r.Val.(bool)
	case <-ctx.Done():
		s := c.current.Load()
		return s != nil && s.ok
	}
}

func (c *Cache[T]) fresh() (*snapshot[T], bool) {
	s := c.current.Load()
	return s, s != nil && c.opts.Clock().Sub(s.checkedAt) < c.opts.TTL
}

func (c *Cache[T]) fetch(parent context.Context) bool {
	c.loading.Store(true)
	defer c.loading.Store(false)

	c.publishMu.Lock()
	gen := c.generation
	c.publishMu.Unlock()

	// The fetch is shared, so it must outlive the caller that started it
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.opts.FetchTimeout)
	defer cancel()

	metrics.ModelStoreReadsTotal.WithLabelValues(c.opts.Kind).Inc()
	data, version, err := c.opts.Store.Get(ctx, c.opts.Key)
	if err != nil {
		if errors.Is(err, ports.ErrArtifactNotFound) {
			c.fail(gen, "not_found", "model artifact not found", err)
		} else {
			c.fail(gen, "store_error", "model artifact read failed", err)
		}
		return false
	}

	value, err := c.opts.Decode(data)
	if err != nil {
		c.fail(gen, "invalid", "model artifact rejected", err)
		return false
	}

	if version == "" && c.opts.VersionOf != nil {
		version = c.opts.VersionOf(value)
	}
	if version == "" {
		version = VersionUnknown
	}

	now := c.opts.Clock()
	if !c.publish(gen, &snapshot[T]{value: value, version: version, ok: true, loadedAt: now, checkedAt: now}) {
		c.opts.Logger.Info("model load discarded after clear", "kind", c.opts.Kind, "version", version)
		return false
	}
	metrics.ModelLoadsTotal.WithLabelValues(c.opts.Kind, "success").Inc()
	c.opts.Logger.Info("model loaded", "kind", c.opts.Kind, "key", c.opts.Key, "version", version)
	return true
}

// fail drops the cached artifact and remembers when the failure happened,
// so the store is not retried until the TTL elapses.
func (c *Cache[T]) fail(gen uint64, result, msg string, err error) {
	c.publish(gen, &snapshot[T]{checkedAt: c.opts.Clock()})
	metrics.ModelLoadsTotal.WithLabelValues(c.opts.Kind, result).Inc()
	c.opts.Logger.Error(msg, "kind", c.opts.Kind, "key", c.opts.Key, "error", err)
}

// publish stores s unless the cache was cleared after generation gen was read
func (c *Cache[T]) publish(gen uint64, s *snapshot[T]) bool {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	if c.generation != gen {
		return false
	}
	c.current.Store(s)
	return true
}

// Get returns the cached artifact, if any
func (c *Cache[T]) Get() (T, bool) {
	s := c.current.Load()
	if s == nil || !s.ok {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Version returns the version of the cached artifact, or VersionUnavailable
func (c *Cache[T]) Version() string {
	s := c.current.Load()
	if s == nil || !s.ok {
		return VersionUnavailable
	}
	return s.version
}

// State returns the lifecycle state
func (c *Cache[T]) State() State {
	if c.loading.Load() {
		return StateLoading
	}
	s := c.current.Load()
	switch {
	case s == nil:
		return StateUnloaded
	case s.ok:
		return StateLoaded
	default:
		return StateUnavailable
	}
}

// LoadedAt returns when the cached artifact was fetched, or the zero time
func (c *Cache[T]) LoadedAt() time.Time {
	s := c.current.Load()
	if s == nil || !s.ok {
		return time.Time{}
	}
	return s.loadedAt
}

// Clear resets the cache to unloaded; the next Load reads the store.
// A fetch already in flight does not repopulate it.
func (c *Cache[T]) Clear() {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	c.generation++
	c.current.Store(nil)
}
