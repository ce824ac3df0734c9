package auth

// Package auth contains domain-level types for authentication, roles and sessions.
// It is pure and free of framework/adapter concerns.

import (
	"slices"
	"time"

	"golang.org/x/oauth2"
)

// CoarseType is the two-valued classification derived from an email address.
type CoarseType string

const (
	TypeAdmin       CoarseType = "admin"
	TypeParticipant CoarseType = "participant"
)

// Valid reports whether t is one of the known coarse types.
func (t CoarseType) Valid() bool { return t == TypeAdmin || t == TypeParticipant }

// Role represents a fine-grained authorization role.
// Keep string form for easy persistence and cookies.
type Role string

const (
	RoleParticipant    Role = "participant"
	RoleAdmin          Role = "admin"
	RoleClientAdmin    Role = "client_admin"
	RoleProgramManager Role = "program_manager"
	RoleSuperAdmin     Role = "super_admin"
	RoleFinance        Role = "finance"
)

var allRoles = []Role{
	RoleParticipant,
	RoleAdmin,
	RoleClientAdmin,
	RoleProgramManager,
	RoleSuperAdmin,
	RoleFinance,
}

// AllRoles returns every known role in declaration order.
func AllRoles() []Role { return slices.Clone(allRoles) }

// AdminRoles is the role family that may enter the admin namespace.
func AdminRoles() []Role {
	return []Role{RoleAdmin, RoleClientAdmin, RoleProgramManager, RoleSuperAdmin, RoleFinance}
}

// ParseRole returns the Role for s and whether it is known.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, slices.Contains(allRoles, r)
}

// RoleFromType maps a coarse type onto its single-element fallback role.
func RoleFromType(t CoarseType) Role {
	if t == TypeAdmin {
		return RoleAdmin
	}
	return RoleParticipant
}

// RoleSet is an order-irrelevant collection of roles. The zero value is empty.
type RoleSet []Role

// NewRoleSet builds a set from raw strings, dropping unknown values and duplicates.
func NewRoleSet(raw ...string) RoleSet {
	out := make(RoleSet, 0, len(raw))
	for _, s := range raw {
		r, ok := ParseRole(s)
		if !ok || slices.Contains(out, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Has reports membership of r.
func (s RoleSet) Has(r Role) bool { return slices.Contains(s, r) }

// HasAny reports whether any of rs is a member. An empty rs is never satisfied.
func (s RoleSet) HasAny(rs ...Role) bool {
	for _, r := range rs {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Strings returns the set as plain strings, suitable for persistence.
func (s RoleSet) Strings() []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = string(r)
	}
	return out
}

// TokenPair is the opaque credential pair issued by the identity backend.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// OAuth2 converts the pair to an oauth2 token so it can feed a TokenSource.
func (p TokenPair) OAuth2() *oauth2.Token {
	tt := p.TokenType
	if tt == "" {
		tt = "bearer"
	}
	return &oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    tt,
		Expiry:       p.ExpiresAt,
	}
}

// TokenPairFromOAuth2 is the inverse of TokenPair.OAuth2.
func TokenPairFromOAuth2(t *oauth2.Token) TokenPair {
	if t == nil {
		return TokenPair{}
	}
	return TokenPair{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresAt:    t.Expiry,
	}
}

// Account is the user record returned by the identity backend.
type Account struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// BackendSession is what the identity backend returns after a credential exchange or refresh.
type BackendSession struct {
	Account Account
	Tokens  TokenPair
}

// Session is the resolved, in-memory authenticated state for one browser session.
// A Session is either fully populated or absent; callers use a nil *Session for "absent".
type Session struct {
	UserID    string     `json:"user_id"`
	Email     string     `json:"email"`
	Type      CoarseType `json:"type"`
	Roles     RoleSet    `json:"roles"`
	Tokens    TokenPair  `json:"tokens"`
	ExpiresAt time.Time  `json:"expires_at"`
	IsDev     bool       `json:"is_dev"`
}

// Clone returns a deep copy so snapshots can leave the store's lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Roles = slices.Clone(s.Roles)
	return &c
}

// Summary is the durable client-visible projection of a session.
type Summary struct {
	UserType  CoarseType
	UserRoles RoleSet
	IsDevUser bool
}

// SummaryOf projects a session onto its durable summary.
func SummaryOf(s *Session) Summary {
	return Summary{UserType: s.Type, UserRoles: slices.Clone(s.Roles), IsDevUser: s.IsDev}
}

// Profile is the application-side record of a registered user.
type Profile struct {
	ID           string     `db:"id"            json:"id"`
	Email        string     `db:"email"         json:"email"`
	FirstName    string     `db:"first_name"    json:"first_name"`
	LastName     string     `db:"last_name"     json:"last_name"`
	Phone        string     `db:"phone"         json:"phone"`
	BusinessName string     `db:"business_name" json:"business_name"`
	UserType     CoarseType `db:"user_type"     json:"user_type"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// ProfilePatch carries optional profile field updates. Nil fields are left unchanged.
type ProfilePatch struct {
	FirstName    *string `json:"first_name,omitempty"`
	LastName     *string `json:"last_name,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	BusinessName *string `json:"business_name,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p ProfilePatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Phone == nil && p.BusinessName == nil
}
