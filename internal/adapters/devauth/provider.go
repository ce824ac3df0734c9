// Package devauth provides a config-driven, in-memory identity backend for local development
// (AUTH_MODE=mock). Accounts, tokens and sign-outs live in process memory only.
package devauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	"github.com/seda/bdportal/internal/ports"
)

// Defaults for the mock backend.
const (
	DefaultTokenTTL   = time.Hour
	MinPasswordLength = 6
)

var accountNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://bdportal.local/mock-accounts"))

// Error is a backend failure carrying a machine-readable code, like the hosted API's errors.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string     { return e.Message }
func (e *Error) ErrorCode() string { return e.Code }

var _ domainauth.CodedError = (*Error)(nil)

var (
	errInvalidCredentials = &Error{Code: "invalid_credentials", Message: "Invalid login credentials"}
	errInvalidRefresh     = &Error{Code: "refresh_token_not_found", Message: "Invalid Refresh Token"}
	errBadJWT             = &Error{Code: "bad_jwt", Message: "invalid JWT"}
)

// Config controls the mock backend behaviour.
type Config struct {
	// Accounts maps email to password.
	Accounts map[string]string
	TokenTTL time.Duration // default 1h when zero
	Now      func() time.Time
}

type account struct {
	domainauth.Account
	password string
}

type grant struct {
	userID    string
	expiresAt time.Time
}

// Provider implements ports.IdentityBackend in memory.
type Provider struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	byEmail  map[string]*account
	access   map[string]grant
	refresh  map[string]string // refresh token -> user id
	byUserID map[string]*account
}

// NewProvider constructs a mock backend seeded with cfg.Accounts.
func NewProvider(cfg Config) (*Provider, error) {
	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	if ttl < 0 {
		return nil, errors.New("dev auth: TokenTTL must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	p := &Provider{
		ttl:      ttl,
		now:      now,
		byEmail:  make(map[string]*account),
		access:   make(map[string]grant),
		refresh:  make(map[string]string),
		byUserID: make(map[string]*account),
	}
	for email, pw := range cfg.Accounts {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			return nil, errors.New("dev auth: account email is required")
		}
		p.addLocked(email, pw, nil)
	}
	return p, nil
}

var _ ports.IdentityBackend = (*Provider)(nil)

// AccountID returns the stable id the mock backend assigns to email.
func AccountID(email string) string {
	return uuid.NewSHA1(accountNamespace, []byte(strings.ToLower(email))).String()
}

func (p *Provider) addLocked(email, password string, meta map[string]any) *account {
	a := &account{
		Account: domainauth.Account{
			ID:       AccountID(email),
			Email:    email,
			Metadata: maps.Clone(meta),
		},
		password: password,
	}
	p.byEmail[email] = a
	p.byUserID[a.ID] = a
	return a
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (domainauth.BackendSession, error) {
	if err := ctx.Err(); err != nil {
		return domainauth.BackendSession{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok || subtle.ConstantTimeCompare([]byte(a.password), []byte(password)) != 1 {
		return domainauth.BackendSession{}, errInvalidCredentials
	}
	return p.issueLocked(a)
}

func (p *Provider) SignUp(ctx context.Context, in ports.SignUpInput) (domainauth.Account, error) {
	if err := ctx.Err(); err != nil {
		return domainauth.Account{}, err
	}
	if len(in.Password) < MinPasswordLength {
		return domainauth.Account{}, &Error{
			Code:    "weak_password",
			Message: fmt.Sprintf("Password should be at least %d characters", MinPasswordLength),
		}
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byEmail[email]; exists {
		return domainauth.Account{}, &Error{Code: "user_already_exists", Message: "User already registered"}
	}
	a := p.addLocked(email, in.Password, in.Metadata)
	return cloneAccount(a.Account), nil
}

func (p *Provider) Refresh(ctx context.Context, refreshToken string) (domainauth.BackendSession, error) {
	if err := ctx.Err(); err != nil {
		return domainauth.BackendSession{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, ok := p.refresh[refreshToken]
	if !ok {
		return domainauth.BackendSession{}, errInvalidRefresh
	}
	// Refresh tokens are single use.
	delete(p.refresh, refreshToken)
	a, ok := p.byUserID[userID]
	if !ok {
		return domainauth.BackendSession{}, errInvalidRefresh
	}
	return p.issueLocked(a)
}

func (p *Provider) GetUser(ctx context.Context, accessToken string) (domainauth.Account, error) {
	if err := ctx.Err(); err != nil {
		return domainauth.Account{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.access[accessToken]
	if !ok || !p.now().Before(g.expiresAt) {
		return domainauth.Account{}, errBadJWT
	}
	a, ok := p.byUserID[g.userID]
	if !ok {
		return domainauth.Account{}, errBadJWT
	}
	return cloneAccount(a.Account), nil
}

// SignOut revokes every token of the user owning accessToken.
func (p *Provider) SignOut(ctx context.Context, accessToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.access[accessToken]
	if !ok {
		return errBadJWT
	}
	maps.DeleteFunc(p.access, func(_ string, v grant) bool { return v.userID == g.userID })
	maps.DeleteFunc(p.refresh, func(_ string, uid string) bool { return uid == g.userID })
	return nil
}

func (p *Provider) issueLocked(a *account) (domainauth.BackendSession, error) {
	at, err := randomString(32)
	if err != nil {
		return domainauth.BackendSession{}, fmt.Errorf("generate access token: %w", err)
	}
	rt, err := randomString(24)
	if err != nil {
		return domainauth.BackendSession{}, fmt.Errorf("generate refresh token: %w", err)
	}
	exp := p.now().Add(p.ttl)
	p.access[at] = grant{userID: a.ID, expiresAt: exp}
	p.refresh[rt] = a.ID
	return domainauth.BackendSession{
		Account: cloneAccount(a.Account),
		Tokens: domainauth.TokenPair{
			AccessToken:  at,
			RefreshToken: rt,
			TokenType:    "bearer",
			ExpiresAt:    exp,
		},
	}, nil
}

func cloneAccount(a domainauth.Account) domainauth.Account {
	a.Metadata = maps.Clone(a.Metadata)
	return a
}

func randomString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	// Compute number of random bytes needed to produce at least n base64 URL chars
	b := make([]byte, (n*3+3)/4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}
