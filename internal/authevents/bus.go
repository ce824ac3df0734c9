// Package authevents provides the in-process auth state change bus.
package authevents

import (
	"context"
	"log/slog"
	"sync"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	"github.com/seda/bdportal/internal/ports"
)

// Handler receives published events.
type Handler func(domainauth.Event)

// Bus delivers events synchronously: Publish returns once every subscriber has handled the
// event, so events published from one goroutine arrive in publish order and are never coalesced.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]Handler
	order  []uint64
	closed bool

	logger *slog.Logger
}

// New creates an empty Bus. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[uint64]Handler),
		logger: logger.With("component", "auth_events"),
	}
}

// Subscribe registers fn and returns an idempotent function that detaches it.
func (b *Bus) Subscribe(fn func(domainauth.Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || fn == nil {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = fn
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.remove(id)
		})
	}
}

func (b *Bus) remove(id uint64) {
	if _, ok := b.subs[id]; !ok {
		return
	}
	delete(b.subs, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers ev to every subscriber in subscription order.
// A panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(ctx context.Context, ev domainauth.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(ctx, h, ev)
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, ev domainauth.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "auth event handler panicked",
				"kind", ev.Kind, "session_id", ev.SessionID, "panic", r)
		}
	}()
	h(ev)
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches every subscriber; later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clear(b.subs)
	b.order = nil
}

var _ ports.AuthEventBus = (*Bus)(nil)
