package auth

// EventKind enumerates the auth state changes a session store reacts to.
type EventKind string

const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventUserUpdated    EventKind = "USER_UPDATED"
	EventSignedOut      EventKind = "SIGNED_OUT"
)

// Event is published on the auth event bus.
// SessionID targets one browser session; an empty SessionID with a UserID targets
// every session of that user.
type Event struct {
	Kind      EventKind       `json:"kind"`
	SessionID string          `json:"session_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	// Origin names the instance that first published a relayed event. Empty for local events.
	Origin    string          `json:"origin,omitempty"`
	Backend   *BackendSession `json:"-"`
	// Resolved is set for sessions that need no role population (dev identities).
	Resolved *Session `json:"-"`
}

// CarriesSession reports whether the event establishes or refreshes a session.
func (e Event) CarriesSession() bool {
	return e.Backend != nil || e.Resolved != nil
}
