package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, h *harness, cfg RegistryConfig) *Registry {
	t.Helper()
	r := NewRegistry(RegistryOptions{Deps: h.deps(), Config: cfg, Metrics: h.metrics})
	t.Cleanup(r.Close)
	return r
}

func TestRegistry_GetCreatesOnce(t *testing.T) {
	h := newHarness(t)
	r := newTestRegistry(t, h, RegistryConfig{})

	var wg sync.WaitGroup
	got := make([]*Store, 16)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := r.Get(context.Background(), "sid")
			assert.NoError(t, err)
			got[i] = st
		}()
	}
	wg.Wait()

	for _, st := range got {
		assert.Same(t, got[0], st)
	}
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, h.bus.Len())
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.ActiveSessions), 0)

	waitReady(t, got[0])
	_, err := r.Get(context.Background(), "")
	require.Error(t, err)
}

func TestRegistry_SweepIdle(t *testing.T) {
	h := newHarness(t)
	r := newTestRegistry(t, h, RegistryConfig{IdleTimeout: time.Minute})

	idle, err := r.Get(context.Background(), "idle")
	require.NoError(t, err)
	_, err = r.Get(context.Background(), "busy")
	require.NoError(t, err)

	assert.Zero(t, r.Sweep(time.Now()))

	later := time.Now().Add(2 * time.Minute)
	busy, _ := r.Lookup("busy")
	busy.mu.Lock()
	busy.lastUsed = later
	busy.mu.Unlock()

	assert.Equal(t, 1, r.Sweep(later))
	_, ok := r.Lookup("idle")
	assert.False(t, ok)
	_, ok = r.Lookup("busy")
	assert.True(t, ok)
	assert.Equal(t, 1, h.bus.Len())

	_, err = idle.SignIn(context.Background(), "a@example.com", "pw")
	require.ErrorIs(t, err, ErrClosed)

	again, err := r.Get(context.Background(), "idle")
	require.NoError(t, err)
	assert.NotSame(t, idle, again)
}

func TestRegistry_EvictsLeastRecentlyUsed(t *testing.T) {
	h := newHarness(t)
	r := newTestRegistry(t, h, RegistryConfig{MaxStores: 2})
	ctx := context.Background()

	old, err := r.Get(ctx, "old")
	require.NoError(t, err)
	_, err = r.Get(ctx, "recent")
	require.NoError(t, err)
	old.mu.Lock()
	old.lastUsed = time.Now().Add(-time.Hour)
	old.mu.Unlock()

	_, err = r.Get(ctx, "new")
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, h.bus.Len())
	_, ok := r.Lookup("old")
	assert.False(t, ok)
	_, ok = r.Lookup("recent")
	assert.True(t, ok)

	_, err = old.SignIn(ctx, "a@example.com", "pw")
	require.ErrorIs(t, err, ErrClosed)
}

func TestRegistry_Remove(t *testing.T) {
	h := newHarness(t)
	r := newTestRegistry(t, h, RegistryConfig{})
	_, err := r.Get(context.Background(), "sid")
	require.NoError(t, err)

	r.Remove("sid")
	r.Remove("sid")
	assert.Zero(t, r.Len())
	assert.Zero(t, h.bus.Len())
}

func TestRegistry_Close(t *testing.T) {
	h := newHarness(t)
	r := NewRegistry(RegistryOptions{Deps: h.deps(), Metrics: h.metrics})
	_, err := r.Get(context.Background(), "sid")
	require.NoError(t, err)

	r.Close()
	assert.Zero(t, r.Len())
	assert.Zero(t, h.bus.Len())

	_, err = r.Get(context.Background(), "sid")
	require.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistry_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	r := newTestRegistry(t, h, RegistryConfig{SweepInterval: 5 * time.Millisecond, IdleTimeout: time.Millisecond})
	_, err := r.Get(context.Background(), "sid")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
