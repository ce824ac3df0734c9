package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/seda/bdportal/internal/observability/metrics"
)

// Default registry timings.
const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultMaxStores     = 10000
)

// ErrRegistryClosed is returned by Get after Close.
var ErrRegistryClosed = errors.New("session registry closed")

// RegistryConfig holds store lifecycle and sweeping settings.
type RegistryConfig struct {
	Store         Config
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	// MaxStores caps live stores; the least recently used one is torn down to make room.
	MaxStores int
}

// RegistryOptions groups dependencies for Registry.
type RegistryOptions struct {
	Deps    Deps
	Config  RegistryConfig
	Metrics *metrics.Auth
	Logger  *slog.Logger
}

// Registry owns the live stores of this process, one per browser session id.
// Idle stores are torn down by Sweep; their durable state survives and is
// bootstrapped again on the next request.
type Registry struct {
	deps    Deps
	cfg     RegistryConfig
	metrics *metrics.Auth
	logger  *slog.Logger

	group  singleflight.Group
	mu     sync.Mutex
	stores map[string]*Store
	closed bool
}

// NewRegistry constructs a Registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Deps.Resolver == nil || opts.Deps.Bus == nil {
		panic("session.Registry: Resolver and Bus are required")
	}
	cfg := opts.Config
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.MaxStores <= 0 {
		cfg.MaxStores = DefaultMaxStores
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		deps:    opts.Deps,
		cfg:     cfg,
		metrics: opts.Metrics,
		logger:  logger,
		stores:  make(map[string]*Store),
	}
}

// NewSessionID returns a fresh opaque browser session id.
func NewSessionID() string { return uuid.NewString() }

// Get returns the initialised store for id, creating it once under concurrent requests.
func (r *Registry) Get(ctx context.Context, id string) (*Store, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}
	if st, ok := r.Lookup(id); ok {
		st.Touch()
		st.retryBootstrap(ctx)
		return st, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}
		if st, ok := r.stores[id]; ok {
			r.mu.Unlock()
			return st, nil
		}
		var evicted *Store
		if len(r.stores) >= r.cfg.MaxStores {
			evicted = r.evictOldestLocked()
		}
		st := NewStore(StoreOptions{
			ID:      id,
			Deps:    r.deps,
			Config:  r.cfg.Store,
			Metrics: r.metrics,
			Logger:  r.logger,
		})
		r.stores[id] = st
		n := len(r.stores)
		r.mu.Unlock()

		if evicted != nil {
			evicted.Teardown()
			r.logger.DebugContext(ctx, "evicted least recently used session store",
				"session_id", evicted.ID(), "max_stores", r.cfg.MaxStores)
		}
		r.metrics.SetActiveSessions(n)
		st.Init(ctx)
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	st, _ := v.(*Store)
	st.Touch()
	return st, nil
}

// evictOldestLocked forgets the least recently used store and returns it for teardown.
// Its durable state survives, so the session is bootstrapped again on its next request.
func (r *Registry) evictOldestLocked() *Store {
	var (
		oldestID string
		oldest   *Store
		at       time.Time
	)
	for id, st := range r.stores {
		if used := st.LastUsed(); oldest == nil || used.Before(at) {
			oldestID, oldest, at = id, st, used
		}
	}
	if oldest != nil {
		delete(r.stores, oldestID)
	}
	return oldest
}

// Lookup returns the live store for id without creating one.
func (r *Registry) Lookup(id string) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stores[id]
	return st, ok
}

// Remove tears down and forgets the store for id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	st, ok := r.stores[id]
	delete(r.stores, id)
	n := len(r.stores)
	r.mu.Unlock()
	if ok {
		st.Teardown()
		r.metrics.SetActiveSessions(n)
	}
}

// Len returns the number of live stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

// Sweep tears down stores idle since before now minus the idle timeout and returns how many.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.cfg.IdleTimeout)
	var idle []*Store

	r.mu.Lock()
	for id, st := range r.stores {
		if st.LastUsed().Before(cutoff) {
			idle = append(idle, st)
			delete(r.stores, id)
		}
	}
	n := len(r.stores)
	r.mu.Unlock()

	for _, st := range idle {
		st.Teardown()
	}
	if len(idle) > 0 {
		r.metrics.SetActiveSessions(n)
	}
	return len(idle)
}

// Run sweeps idle stores at the configured interval until ctx is cancelled.
// Returns nil on graceful shutdown.
func (r *Registry) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting session sweeper",
		"interval", r.cfg.SweepInterval, "idle_timeout", r.cfg.IdleTimeout)

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "session sweeper stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				r.logger.DebugContext(ctx, "swept idle session stores", "count", n)
			}
		}
	}
}

// Close tears down every store; later Get calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	stores := r.stores
	r.stores = make(map[string]*Store)
	r.mu.Unlock()

	for _, st := range stores {
		st.Teardown()
	}
	r.metrics.SetActiveSessions(0)
}
