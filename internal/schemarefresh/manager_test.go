package schemarefresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graph-indexer/internal/catalog"
	"graph-indexer/internal/logging"
)

type fakeCatalog struct {
	mu          sync.Mutex
	cached      map[catalog.Key]string
	latest      map[catalog.Key]string
	failures    map[catalog.Key]error
	invalidated []catalog.Key
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		cached:   map[catalog.Key]string{},
		latest:   map[catalog.Key]string{},
		failures: map[catalog.Key]error{},
	}
}

func (f *fakeCatalog) Cached() []catalog.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]catalog.Key, 0, len(f.cached))
	for k := range f.cached {
		keys = append(keys, k)
	}
	return keys
}

func (f *fakeCatalog) CachedVersion(namespace, identifier string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.cached[catalog.Key{Namespace: namespace, Identifier: identifier}]
	return v, ok
}

func (f *fakeCatalog) LatestVersion(_ context.Context, namespace, identifier string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := catalog.Key{Namespace: namespace, Identifier: identifier}
	if err := f.failures[key]; err != nil {
		return "", err
	}
	v, ok := f.latest[key]
	if !ok {
		return "", catalog.ErrNotFound
	}
	return v, nil
}

func (f *fakeCatalog) Invalidate(namespace, identifier string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := catalog.Key{Namespace: namespace, Identifier: identifier}
	delete(f.cached, key)
	f.invalidated = append(f.invalidated, key)
}

func newTestManager(t *testing.T, cat Catalog, onChange func(Change)) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Catalog:     cat,
		Logger:      logging.Nop(),
		MinInterval: 10 * time.Second,
		MaxInterval: time.Minute,
		OnChange:    onChange,
	})
	require.NoError(t, err)
	return m
}

func TestNewManagerRequiresCatalog(t *testing.T) {
	_, err := NewManager(Config{})
	require.Error(t, err)
}

func TestNewManagerClampsIntervals(t *testing.T) {
	m, err := NewManager(Config{Catalog: newFakeCatalog(), MinInterval: time.Minute, MaxInterval: time.Second})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, m.minInterval)
	assert.Equal(t, time.Minute, m.maxInterval)
}

func TestRefreshOnceNoChangeBacksOff(t *testing.T) {
	cat := newFakeCatalog()
	key := catalog.Key{Namespace: "ns", Identifier: "idx"}
	cat.cached[key] = "v1"
	cat.latest[key] = "v1"
	m := newTestManager(t, cat, nil)

	interval := m.minInterval
	m.refreshOnce(context.Background(), &interval)
	assert.Equal(t, 15*time.Second, interval)

	for i := 0; i < 10; i++ {
		m.refreshOnce(context.Background(), &interval)
	}
	assert.Equal(t, time.Minute, interval)
	assert.Empty(t, cat.invalidated)
}

func TestRefreshOnceChangeInvalidatesAndResets(t *testing.T) {
	cat := newFakeCatalog()
	changed := catalog.Key{Namespace: "ns", Identifier: "idx"}
	stable := catalog.Key{Namespace: "ns", Identifier: "other"}
	cat.cached[changed] = "v1"
	cat.latest[changed] = "v2"
	cat.cached[stable] = "v1"
	cat.latest[stable] = "v1"

	var seen []Change
	m := newTestManager(t, cat, func(c Change) { seen = append(seen, c) })

	interval := 40 * time.Second
	m.refreshOnce(context.Background(), &interval)

	assert.Equal(t, m.minInterval, interval)
	assert.Equal(t, []catalog.Key{changed}, cat.invalidated)
	require.Len(t, seen, 1)
	assert.Equal(t, Change{Key: changed, From: "v1", To: "v2"}, seen[0])

	status := m.Status()
	assert.Equal(t, int64(1), status.ChangeCount)
	assert.False(t, status.LastChange.IsZero())
	assert.Empty(t, status.LastError)
}

func TestRefreshOnceRemovedIndexer(t *testing.T) {
	cat := newFakeCatalog()
	key := catalog.Key{Namespace: "ns", Identifier: "gone"}
	cat.cached[key] = "v1"

	m := newTestManager(t, cat, nil)
	changes, err := m.RefreshNow(context.Background())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Removed)
	assert.Equal(t, []catalog.Key{key}, cat.invalidated)
}

func TestRefreshOnceErrorResetsInterval(t *testing.T) {
	cat := newFakeCatalog()
	broken := catalog.Key{Namespace: "ns", Identifier: "broken"}
	changed := catalog.Key{Namespace: "ns", Identifier: "changed"}
	cat.cached[broken] = "v1"
	cat.failures[broken] = errors.New("connection reset")
	cat.cached[changed] = "v1"
	cat.latest[changed] = "v2"

	m := newTestManager(t, cat, nil)
	interval := 40 * time.Second
	m.refreshOnce(context.Background(), &interval)

	assert.Equal(t, m.minInterval, interval)
	assert.Equal(t, []catalog.Key{changed}, cat.invalidated, "one failing indexer does not block the others")
	assert.Contains(t, m.Status().LastError, "connection reset")
}

func TestStartStopsOnCancel(t *testing.T) {
	m := newTestManager(t, newFakeCatalog(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, m.Wait(waitCtx))
}

func TestNextInterval(t *testing.T) {
	assert.Equal(t, 10*time.Second, nextInterval(time.Second, 10*time.Second, time.Minute))
	assert.Equal(t, 15*time.Second, nextInterval(10*time.Second, 10*time.Second, time.Minute))
	assert.Equal(t, time.Minute, nextInterval(50*time.Second, 10*time.Second, time.Minute))
}
