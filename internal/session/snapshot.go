package session

import domainauth "github.com/seda/bdportal/internal/domain/auth"

// Snapshot is an immutable view of a store's state, safe to hand to the route guard.
type Snapshot struct {
	loading bool
	session *domainauth.Session
}

// NewSnapshot builds a snapshot from explicit state.
func NewSnapshot(loading bool, sess *domainauth.Session) Snapshot {
	return Snapshot{loading: loading, session: sess.Clone()}
}

// Loading reports whether the store is still bootstrapping.
func (s Snapshot) Loading() bool { return s.loading }

// IsAuthenticated reports whether a session is present.
func (s Snapshot) IsAuthenticated() bool { return s.session != nil }

// Session returns a copy of the session, or nil.
func (s Snapshot) Session() *domainauth.Session { return s.session.Clone() }

// CoarseType returns the session's coarse type, or "" without a session.
func (s Snapshot) CoarseType() domainauth.CoarseType {
	if s.session == nil {
		return ""
	}
	return s.session.Type
}

// Roles returns the session's role set, or nil without a session.
func (s Snapshot) Roles() domainauth.RoleSet {
	if s.session == nil {
		return nil
	}
	return s.session.Roles
}

// Summary returns the durable projection of the session and whether one exists.
func (s Snapshot) Summary() (domainauth.Summary, bool) {
	if s.session == nil {
		return domainauth.Summary{}, false
	}
	return domainauth.SummaryOf(s.session), true
}
