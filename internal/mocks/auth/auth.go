package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	"github.com/seda/bdportal/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.IdentityBackend    = (*MockIdentityBackend)(nil)
	_ ports.SessionRecordStore = (*MemorySessionRecordStore)(nil)
	_ ports.LocalStorage       = (*MemoryLocalStorage)(nil)
	_ ports.RoleRepository     = (*StaticRoleRepository)(nil)
	_ ports.ProfileRepository  = (*MemoryProfileRepository)(nil)
	_ domainauth.CodedError    = (*CodedError)(nil)
)

// MockIdentityBackend simulates the hosted identity service with deterministic tokens.
// Function fields override the default behaviour; call counters are safe for concurrent use.
type MockIdentityBackend struct {
	SignInFunc  func(ctx context.Context, email, password string) (domainauth.BackendSession, error)
	SignUpFunc  func(ctx context.Context, in ports.SignUpInput) (domainauth.Account, error)
	RefreshFunc func(ctx context.Context, refreshToken string) (domainauth.BackendSession, error)
	SignOutFunc func(ctx context.Context, accessToken string) error

	// UserID is returned for every account when set; otherwise "user-" + email.
	UserID string
	TTL    time.Duration

	SignInCalls  atomic.Int32
	SignUpCalls  atomic.Int32
	RefreshCalls atomic.Int32
	SignOutCalls atomic.Int32
}

// NewMockIdentityBackend creates a MockIdentityBackend with sensible defaults.
func NewMockIdentityBackend() *MockIdentityBackend {
	return &MockIdentityBackend{TTL: time.Hour}
}

func (m *MockIdentityBackend) session(email string) domainauth.BackendSession {
	id := m.UserID
	if id == "" {
		id = "user-" + email
	}
	ttl := m.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return domainauth.BackendSession{
		Account: domainauth.Account{ID: id, Email: email},
		Tokens: domainauth.TokenPair{
			AccessToken:  "access-" + id,
			RefreshToken: "refresh-" + id,
			TokenType:    "bearer",
			ExpiresAt:    time.Now().Add(ttl),
		},
	}
}

func (m *MockIdentityBackend) SignInWithPassword(
	ctx context.Context,
	email, password string,
) (domainauth.BackendSession, error) {
	m.SignInCalls.Add(1)
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, email, password)
	}
	return m.session(email), nil
}

func (m *MockIdentityBackend) SignUp(ctx context.Context, in ports.SignUpInput) (domainauth.Account, error) {
	m.SignUpCalls.Add(1)
	if m.SignUpFunc != nil {
		return m.SignUpFunc(ctx, in)
	}
	acct := m.session(in.Email).Account
	acct.Metadata = in.Metadata
	return acct, nil
}

func (m *MockIdentityBackend) Refresh(ctx context.Context, refreshToken string) (domainauth.BackendSession, error) {
	m.RefreshCalls.Add(1)
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	if !strings.HasPrefix(refreshToken, "refresh-user-") {
		return domainauth.BackendSession{}, &CodedError{Code: "refresh_token_not_found", Message: "Invalid Refresh Token"}
	}
	return m.session(strings.TrimPrefix(refreshToken, "refresh-user-")), nil
}

func (m *MockIdentityBackend) GetUser(_ context.Context, accessToken string) (domainauth.Account, error) {
	if !strings.HasPrefix(accessToken, "access-user-") {
		return domainauth.Account{}, errors.New("invalid access token")
	}
	email := strings.TrimPrefix(accessToken, "access-user-")
	return m.session(email).Account, nil
}

func (m *MockIdentityBackend) SignOut(ctx context.Context, accessToken string) error {
	m.SignOutCalls.Add(1)
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, accessToken)
	}
	return nil
}

// CodedError is a backend error with a machine-readable code.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string     { return e.Message }
func (e *CodedError) ErrorCode() string { return e.Code }

// MemorySessionRecordStore is an in-memory session record store for unit tests.
type MemorySessionRecordStore struct {
	mu      sync.Mutex
	records map[string]ports.SessionRecord
	// GetErr, when set, is returned by Get.
	GetErr error
}

// NewMemorySessionRecordStore creates a new in-memory record store.
func NewMemorySessionRecordStore() *MemorySessionRecordStore {
	return &MemorySessionRecordStore{records: make(map[string]ports.SessionRecord)}
}

func (m *MemorySessionRecordStore) Save(_ context.Context, rec ports.SessionRecord) error {
	if rec.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *MemorySessionRecordStore) Get(_ context.Context, id string) (ports.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return ports.SessionRecord{}, m.GetErr
	}
	rec, ok := m.records[id]
	if !ok || id == "" {
		return ports.SessionRecord{}, ports.ErrSessionRecordNotFound
	}
	return rec, nil
}

func (m *MemorySessionRecordStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// Len returns the number of stored records.
func (m *MemorySessionRecordStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// MemoryLocalStorage keeps session summaries in a map and records the write order.
type MemoryLocalStorage struct {
	mu        sync.Mutex
	summaries map[string]domainauth.Summary
	// Writes records "save:<type>" or "clear" per operation, in order.
	Writes []string
}

// NewMemoryLocalStorage creates an empty MemoryLocalStorage.
func NewMemoryLocalStorage() *MemoryLocalStorage {
	return &MemoryLocalStorage{summaries: make(map[string]domainauth.Summary)}
}

func (m *MemoryLocalStorage) SaveSummary(_ context.Context, sessionID string, s domainauth.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[sessionID] = s
	m.Writes = append(m.Writes, "save:"+string(s.UserType))
	return nil
}

func (m *MemoryLocalStorage) LoadSummary(_ context.Context, sessionID string) (domainauth.Summary, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[sessionID]
	return s, ok, nil
}

func (m *MemoryLocalStorage) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.summaries, sessionID)
	m.Writes = append(m.Writes, "clear")
	return nil
}

// WriteLog returns a copy of the recorded writes.
func (m *MemoryLocalStorage) WriteLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Writes...)
}

// StaticRoleRepository serves fixed role rows, optionally after a delay or with an error.
type StaticRoleRepository struct {
	mu    sync.Mutex
	Rows  map[string][]string
	Delay time.Duration
	Err   error
	Calls atomic.Int32
}

func (r *StaticRoleRepository) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	r.Calls.Add(1)
	if r.Delay > 0 {
		t := time.NewTimer(r.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	return append([]string(nil), r.Rows[userID]...), nil
}

func (r *StaticRoleRepository) Grant(_ context.Context, userID string, role domainauth.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Rows == nil {
		r.Rows = make(map[string][]string)
	}
	r.Rows[userID] = append(r.Rows[userID], string(role))
	return nil
}

func (r *StaticRoleRepository) Revoke(_ context.Context, userID string, role domainauth.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Rows == nil {
		return nil
	}
	kept := r.Rows[userID][:0]
	for _, s := range r.Rows[userID] {
		if s != string(role) {
			kept = append(kept, s)
		}
	}
	r.Rows[userID] = kept
	return nil
}

// MemoryProfileRepository stores profiles keyed by id with a unique email index.
type MemoryProfileRepository struct {
	mu       sync.Mutex
	profiles map[string]domainauth.Profile
}

// NewMemoryProfileRepository creates an empty MemoryProfileRepository.
func NewMemoryProfileRepository() *MemoryProfileRepository {
	return &MemoryProfileRepository{profiles: make(map[string]domainauth.Profile)}
}

func (r *MemoryProfileRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.profiles {
		if strings.EqualFold(p.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryProfileRepository) Create(_ context.Context, p domainauth.Profile) (*domainauth.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.profiles {
		if strings.EqualFold(existing.Email, p.Email) {
			return nil, domainauth.ErrEmailInUse
		}
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	r.profiles[p.ID] = p
	return &p, nil
}

func (r *MemoryProfileRepository) Update(
	_ context.Context,
	id string,
	patch domainauth.ProfilePatch,
) (*domainauth.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.FirstName != nil {
		p.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		p.LastName = *patch.LastName
	}
	if patch.Phone != nil {
		p.Phone = *patch.Phone
	}
	if patch.BusinessName != nil {
		p.BusinessName = *patch.BusinessName
	}
	p.UpdatedAt = time.Now().UTC()
	r.profiles[id] = p
	return &p, nil
}

func (r *MemoryProfileRepository) GetByID(_ context.Context, id string) (*domainauth.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// ErrNotFound is returned by mocks when an entity is not present.
type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

var ErrNotFound error = notFoundError{}
