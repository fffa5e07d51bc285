package modelcache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stoik/email-risk/internal/logging"
	"github.com/stoik/email-risk/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingStore serves one payload and counts reads
type countingStore struct {
	mu      sync.Mutex
	data    []byte
	version string
	err     error
	gate    chan struct{}
	entered chan struct{}
	reads   atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	s.reads.Add(1)
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, s.version, s.err
}

func (s *countingStore) set(data string, version string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data, s.version, s.err = []byte(data), version, err
}

func decodeInt(data []byte) (int, error) {
	return strconv.Atoi(string(data))
}

func newIntCache(store ports.ArtifactStore, clock *fakeClock) *Cache[int] {
	return New(Options[int]{
		Kind:   "test_model",
		Key:    "test_model.json",
		Store:  store,
		Decode: decodeInt,
		Clock:  clock.Now,
		Logger: logging.Discard(),
	})
}

func TestCache_TTL(t *testing.T) {
	store := &countingStore{}
	store.set("42", "v1", nil)
	clock := newFakeClock()
	c := newIntCache(store, clock)
	ctx := context.Background()

	require.True(t, c.Load(ctx, false))
	assert.EqualValues(t, 1, store.reads.Load())

	clock.Advance(59 * time.Second)
	require.True(t, c.Load(ctx, false))
	assert.EqualValues(t, 1, store.reads.Load(), "no read within TTL")

	clock.Advance(2 * time.Second)
	require.True(t, c.Load(ctx, false))
	assert.EqualValues(t, 2, store.reads.Load(), "exactly one read after TTL")

	require.True(t, c.Load(ctx, true))
	assert.EqualValues(t, 3, store.reads.Load(), "force reload always reads")

	v, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, "v1", c.Version())
	assert.Equal(t, StateLoaded, c.State())
	assert.Equal(t, clock.Now(), c.LoadedAt())
}

func TestCache_FailureIsCachedForTTL(t *testing.T) {
	store := &countingStore{}
	store.set("", "", errors.New("connection refused"))
	clock := newFakeClock()
	c := newIntCache(store, clock)
	ctx := context.Background()

	assert.Equal(t, StateUnloaded, c.State())
	assert.Equal(t, VersionUnavailable, c.Version())

	assert.False(t, c.Load(ctx, false))
	assert.False(t, c.Load(ctx, false))
	assert.EqualValues(t, 1, store.reads.Load(), "a dead store is retried once per TTL")
	assert.Equal(t, StateUnavailable, c.State())

	store.set("7", "v2", nil)
	clock.Advance(DefaultTTL)
	assert.True(t, c.Load(ctx, false))
	assert.EqualValues(t, 2, store.reads.Load())
	assert.Equal(t, "v2", c.Version())
}

func TestCache_InvalidPayloadDropsPreviousArtifact(t *testing.T) {
	store := &countingStore{}
	store.set("1", "v1", nil)
	c := newIntCache(store, newFakeClock())
	ctx := context.Background()

	require.True(t, c.Load(ctx, false))

	store.set("not a number", "v2", nil)
	assert.False(t, c.Load(ctx, true))

	_, ok := c.Get()
	assert.False(t, ok, "a rejected payload is never partially adopted")
	assert.Equal(t, VersionUnavailable, c.Version())
	assert.True(t, c.LoadedAt().IsZero())
}

func TestCache_NotFound(t *testing.T) {
	store := &countingStore{}
	store.set("", "", ports.ErrArtifactNotFound)
	c := newIntCache(store, newFakeClock())

	assert.False(t, c.Load(context.Background(), false))
	assert.Equal(t, StateUnavailable, c.State())
}

func TestCache_SingleFlight(t *testing.T) {
	store := &countingStore{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	store.set("5", "v1", nil)
	c := newIntCache(store, newFakeClock())

	var wg sync.WaitGroup
	results := make([]bool, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Load(context.Background(), false)
		}(i)
	}

	<-store.entered
	assert.Equal(t, StateLoading, c.State())
	close(store.gate)
	wg.Wait()

	assert.EqualValues(t, 1, store.reads.Load())
	for _, ok := range results {
		assert.True(t, ok)
	}
}

func TestCache_CallerCancellationDoesNotAbortFetch(t *testing.T) {
	store := &countingStore{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	store.set("9", "v1", nil)
	c := newIntCache(store, newFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool)
	go func() { done <- c.Load(ctx, false) }()

	<-store.entered
	cancel()
	assert.False(t, <-done, "nothing cached yet")

	close(store.gate)
	require.Eventually(t, func() bool { return c.State() == StateLoaded }, time.Second, time.Millisecond)
	assert.True(t, c.Load(context.Background(), false))
	assert.EqualValues(t, 1, store.reads.Load())
}

func TestCache_VersionFallbacks(t *testing.T) {
	store := &countingStore{}
	store.set("3", "", nil)

	plain := newIntCache(store, newFakeClock())
	require.True(t, plain.Load(context.Background(), false))
	assert.Equal(t, VersionUnknown, plain.Version())

	embedded := New(Options[int]{
		Kind:      "embedded",
		Store:     store,
		Decode:    decodeInt,
		VersionOf: func(v int) string { return "artifact-" + strconv.Itoa(v) },
		Logger:    logging.Discard(),
	})
	require.True(t, embedded.Load(context.Background(), false))
	assert.Equal(t, "artifact-3", embedded.Version())
}

func TestCache_Clear(t *testing.T) {
	store := &countingStore{}
	store.set("3", "v1", nil)
	c := newIntCache(store, newFakeClock())
	ctx := context.Background()

	require.True(t, c.Load(ctx, false))
	c.Clear()
	assert.Equal(t, StateUnloaded, c.State())
	_, ok := c.Get()
	assert.False(t, ok)

	require.True(t, c.Load(ctx, false))
	assert.EqualValues(t, 2, store.reads.Load())
}

func TestCache_ClearDuringFetchIsNotUndone(t *testing.T) {
	store := &countingStore{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	store.set("7", "v1", nil)
	c := newIntCache(store, newFakeClock())

	done := make(chan bool)
	go func() { done <- c.Load(context.Background(), false) }()

	<-store.entered
	c.Clear()
	close(store.gate)

	assert.False(t, <-done)
	assert.Equal(t, StateUnloaded, c.State())
	_, ok := c.Get()
	assert.False(t, ok)

	require.True(t, c.Load(context.Background(), false))
	assert.Equal(t, "v1", c.Version())
	assert.EqualValues(t, 2, store.reads.Load())
}

func TestCache_ForceReadsEvenDuringUnforcedFlight(t *testing.T) {
	store := &countingStore{gate: make(chan struct{})}
	store.set("1", "v1", nil)
	c := newIntCache(store, newFakeClock())
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.True(t, c.Load(ctx, false))
	}()
	require.Eventually(t, func() bool { return store.reads.Load() == 1 }, time.Second, time.Millisecond)

	go func() {
		defer wg.Done()
		assert.True(t, c.Load(ctx, true))
	}()
	require.Eventually(t, func() bool { return store.reads.Load() == 2 }, time.Second, time.Millisecond)

	close(store.gate)
	wg.Wait()
	assert.Equal(t, StateLoaded, c.State())
}

func TestRegistry(t *testing.T) {
	clock := newFakeClock()
	good := &countingStore{}
	good.set("1", "v1", nil)
	bad := &countingStore{}
	bad.set("", "", ports.ErrArtifactNotFound)

	a := New(Options[int]{Kind: "alpha", Key: "alpha.json", Store: good, Decode: decodeInt, Clock: clock.Now, Logger: logging.Discard()})
	b := New(Options[int]{Kind: "beta", Key: "beta.json", Store: bad, Decode: decodeInt, Clock: clock.Now, Logger: logging.Discard()})

	r := NewRegistry()
	r.Register(b, a)
	assert.Equal(t, []string{"alpha", "beta"}, r.Kinds())

	status, err := r.Reload(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, StateLoaded, status.State)
	assert.Equal(t, "v1", status.Version)

	_, err = r.Reload(context.Background(), "gamma")
	assert.Error(t, err)

	all := r.ReloadAll(context.Background())
	require.Len(t, all, 2)
	assert.Equal(t, StateUnavailable, all[1].State)
	assert.EqualValues(t, 2, good.reads.Load())

	assert.Equal(t, map[string]string{"alpha": "v1", "beta": VersionUnavailable}, r.Versions())

	require.NoError(t, r.Clear("alpha"))
	assert.Equal(t, StateUnloaded, a.State())
	assert.Error(t, r.Clear("gamma"))

	r.ClearAll()
	for _, s := range r.Status() {
		assert.Equal(t, StateUnloaded, s.State)
	}
}
