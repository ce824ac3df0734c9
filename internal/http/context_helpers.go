package httpx

import (
	"context"

	"github.com/seda/bdportal/internal/domain/route"
	"github.com/seda/bdportal/internal/guard"
	"github.com/seda/bdportal/internal/session"
)

// storeKey and routeKey are unexported context key types to avoid collisions across packages.
type (
	storeKey struct{}
	routeKey struct{}
)

// WithStore returns a child context that carries the browser session's store.
// If st is nil, the original ctx is returned unchanged.
func WithStore(ctx context.Context, st *session.Store) context.Context {
	if st == nil {
		return ctx
	}
	return context.WithValue(ctx, storeKey{}, st)
}

// StoreFromContext returns the request's session store and whether one is present.
func StoreFromContext(ctx context.Context) (*session.Store, bool) {
	st, ok := ctx.Value(storeKey{}).(*session.Store)
	return st, ok && st != nil
}

// SnapshotFromContext returns the current session snapshot, or an empty, settled one
// when the request carries no store.
func SnapshotFromContext(ctx context.Context) session.Snapshot {
	if st, ok := StoreFromContext(ctx); ok {
		return st.Snapshot()
	}
	return session.NewSnapshot(false, nil)
}

// principal adapts the context for the guard. A missing store reads as signed out.
func principal(ctx context.Context) guard.Principal {
	return SnapshotFromContext(ctx)
}

func withRoute(ctx context.Context, req route.Requirement) context.Context {
	return context.WithValue(ctx, routeKey{}, req)
}

// RouteFromContext returns the requirement matched by RequireRoute.
func RouteFromContext(ctx context.Context) (route.Requirement, bool) {
	req, ok := ctx.Value(routeKey{}).(route.Requirement)
	return req, ok
}
