package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters and internal/data; orchestration in internal/service.

import (
	"context"
	"errors"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
)

// SignUpInput groups parameters for a backend account registration.
type SignUpInput struct {
	Email    string
	Password string
	Metadata map[string]any
}

// IdentityBackend is the hosted identity service that owns credentials and tokens.
type IdentityBackend interface {
	SignInWithPassword(ctx context.Context, email, password string) (domainauth.BackendSession, error)
	SignUp(ctx context.Context, in SignUpInput) (domainauth.Account, error)
	Refresh(ctx context.Context, refreshToken string) (domainauth.BackendSession, error)
	GetUser(ctx context.Context, accessToken string) (domainauth.Account, error)
	SignOut(ctx context.Context, accessToken string) error
}

// TokenClaims are the verified claims of an access token.
type TokenClaims struct {
	Subject string
	Email   string
}

// TokenVerifier checks access tokens locally without a backend round-trip.
type TokenVerifier interface {
	Verify(ctx context.Context, accessToken string) (TokenClaims, error)
}

// RoleRepository reads and maintains the user_roles table.
type RoleRepository interface {
	RolesForUser(ctx context.Context, userID string) ([]string, error)
	Grant(ctx context.Context, userID string, role domainauth.Role) error
	Revoke(ctx context.Context, userID string, role domainauth.Role) error
}

// ProfileRepository reads and writes the profiles table.
type ProfileRepository interface {
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, p domainauth.Profile) (*domainauth.Profile, error)
	Update(ctx context.Context, id string, patch domainauth.ProfilePatch) (*domainauth.Profile, error)
	GetByID(ctx context.Context, id string) (*domainauth.Profile, error)
}

// SessionRecord is the durable, resumable part of a session: who and which tokens.
type SessionRecord struct {
	ID     string               `json:"id"`
	UserID string               `json:"user_id"`
	Email  string               `json:"email"`
	Tokens domainauth.TokenPair `json:"tokens"`
}

// ErrSessionRecordNotFound is returned by SessionRecordStore.Get for unknown or expired ids.
var ErrSessionRecordNotFound = errors.New("session record not found")

// SessionRecordStore persists resumable session records keyed by browser session id.
type SessionRecordStore interface {
	Save(ctx context.Context, rec SessionRecord) error
	Get(ctx context.Context, id string) (SessionRecord, error)
	Delete(ctx context.Context, id string) error
}

// LocalStorage holds the durable client-visible summary for a browser session.
type LocalStorage interface {
	SaveSummary(ctx context.Context, sessionID string, s domainauth.Summary) error
	LoadSummary(ctx context.Context, sessionID string) (domainauth.Summary, bool, error)
	Clear(ctx context.Context, sessionID string) error
}

// AuthEventBus delivers auth state changes to subscribers in publish order.
type AuthEventBus interface {
	Publish(ctx context.Context, ev domainauth.Event)
	// Subscribe registers fn and returns a function that detaches it.
	Subscribe(fn func(domainauth.Event)) (unsubscribe func())
}
