package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	"github.com/seda/bdportal/internal/mocks"
	mockauth "github.com/seda/bdportal/internal/mocks/auth"
	"github.com/seda/bdportal/internal/observability/metrics"
	"github.com/seda/bdportal/internal/ports"
)

type authFixture struct {
	backend  *mockauth.MockIdentityBackend
	roles    *mockauth.StaticRoleRepository
	profiles *mockauth.MemoryProfileRepository
	metrics  *metrics.Auth
	svc      *AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		backend:  mockauth.NewMockIdentityBackend(),
		roles:    &mockauth.StaticRoleRepository{},
		profiles: mockauth.NewMemoryProfileRepository(),
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	f.svc = NewAuthService(AuthServiceOptions{
		Backend: f.backend,
		Repos:   AuthRepos{Roles: f.roles, Profiles: f.profiles},
		Config:  AuthServiceConfig{RoleFetchTimeout: 100 * time.Millisecond, Metrics: f.metrics},
	})
	return f
}

func TestNewAuthService_RequiresBackend(t *testing.T) {
	assert.Panics(t, func() { NewAuthService(AuthServiceOptions{}) })

	svc := NewAuthService(AuthServiceOptions{Backend: mockauth.NewMockIdentityBackend()})
	assert.Equal(t, DefaultRoleFetchTimeout, svc.roleTimeout)
	assert.Equal(t, 3*time.Second, DefaultRoleFetchTimeout)
}

func TestAuthService_FetchRoles(t *testing.T) {
	tests := []struct {
		name   string
		rows   map[string][]string
		err    error
		email  string
		want   domainauth.RoleSet
		reason string
	}{
		{
			name:  "rows returned",
			rows:  map[string][]string{"u1": {"program_manager", "finance"}},
			email: "pm@seda.org.za",
			want:  domainauth.RoleSet{domainauth.RoleProgramManager, domainauth.RoleFinance},
		},
		{
			name:   "no rows falls back to admin type",
			email:  "bob@seda.org.za",
			want:   domainauth.RoleSet{domainauth.RoleAdmin},
			reason: metrics.FallbackEmpty,
		},
		{
			name:   "error falls back to participant type",
			err:    errors.New("connection refused"),
			email:  "founder@example.com",
			want:   domainauth.RoleSet{domainauth.RoleParticipant},
			reason: metrics.FallbackError,
		},
		{
			name:   "unknown role strings are ignored",
			rows:   map[string][]string{"u1": {"wizard"}},
			email:  "founder@example.com",
			want:   domainauth.RoleSet{domainauth.RoleParticipant},
			reason: metrics.FallbackEmpty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			f.roles.Rows = tt.rows
			f.roles.Err = tt.err

			got := f.svc.FetchRoles(context.Background(), "u1", tt.email)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, got)
			if tt.reason != "" {
				assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.RoleFallbacks.WithLabelValues(tt.reason)), 0)
			}
		})
	}
}

func TestAuthService_FetchRoles_NoUserID(t *testing.T) {
	f := newAuthFixture(t)
	got := f.svc.FetchRoles(context.Background(), "", "x@example.com")
	assert.Equal(t, domainauth.RoleSet{domainauth.RoleParticipant}, got)
	assert.Zero(t, f.roles.Calls.Load())
}

// A role read that ignores cancellation still loses to the timer.
func TestAuthService_FetchRoles_SlowReadResolvesAtTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	roles := mocks.NewMockRoleRepository(ctrl)
	release := make(chan struct{})
	defer close(release)

	roles.EXPECT().RolesForUser(gomock.Any(), "u1").DoAndReturn(
		func(context.Context, string) ([]string, error) {
			select {
			case <-release:
			case <-time.After(5 * time.Second):
			}
			return []string{"super_admin"}, nil
		},
	)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := NewAuthService(AuthServiceOptions{
		Backend: mockauth.NewMockIdentityBackend(),
		Repos:   AuthRepos{Roles: roles},
		Config:  AuthServiceConfig{RoleFetchTimeout: 30 * time.Millisecond, Metrics: m},
	})

	start := time.Now()
	got := svc.FetchRoles(context.Background(), "u1", "bob@seda.org.za")
	elapsed := time.Since(start)

	assert.Equal(t, domainauth.RoleSet{domainauth.RoleAdmin}, got)
	assert.Less(t, elapsed, time.Second)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RoleFallbacks.WithLabelValues(metrics.FallbackTimeout)), 0)
}

func TestAuthService_FetchRoles_ContextAwareDelay(t *testing.T) {
	f := newAuthFixture(t)
	f.roles.Rows = map[string][]string{"u1": {"admin"}}
	f.roles.Delay = 5 * time.Second

	start := time.Now()
	got := f.svc.FetchRoles(context.Background(), "u1", "jane@example.com")
	assert.Equal(t, domainauth.RoleSet{domainauth.RoleParticipant}, got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAuthService_SignIn_OrgDomainWithoutRoleRows(t *testing.T) {
	f := newAuthFixture(t)

	res, err := f.svc.SignIn(context.Background(), "  bob@seda.org.za ", "secret")
	require.NoError(t, err)
	require.NotNil(t, res.Session)

	assert.Equal(t, domainauth.TypeAdmin, res.Type)
	assert.Equal(t, "bob@seda.org.za", res.Session.Email)
	assert.Equal(t, domainauth.RoleSet{domainauth.RoleAdmin}, res.Session.Roles)
	assert.Equal(t, "access-user-bob@seda.org.za", res.Session.Tokens.AccessToken)
	assert.False(t, res.Session.IsDev)
	assert.Equal(t, res.Session.Tokens.ExpiresAt, res.Session.ExpiresAt)
}

func TestAuthService_SignIn_UsesRoleRows(t *testing.T) {
	f := newAuthFixture(t)
	f.backend.UserID = "u-42"
	f.roles.Rows = map[string][]string{"u-42": {"finance"}}

	res, err := f.svc.SignIn(context.Background(), "cfo@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, domainauth.TypeParticipant, res.Type)
	assert.Equal(t, domainauth.RoleSet{domainauth.RoleFinance}, res.Session.Roles)
}

func TestAuthService_SignIn_Failure(t *testing.T) {
	f := newAuthFixture(t)
	backendErr := errors.New("Invalid login credentials")
	f.backend.SignInFunc = func(context.Context, string, string) (domainauth.BackendSession, error) {
		return domainauth.BackendSession{}, backendErr
	}

	res, err := f.svc.SignIn(context.Background(), "ops.admin@example.com", "bad")
	require.ErrorIs(t, err, backendErr)
	require.NotNil(t, res)
	assert.Nil(t, res.Session)
	assert.Equal(t, domainauth.TypeAdmin, res.Type)
	assert.Equal(t, domainauth.KindInvalidCredentials, domainauth.TranslateError(err))
	assert.InDelta(t, 1, testutil.ToFloat64(
		f.metrics.Operations.WithLabelValues("sign_in", metrics.ResultError, string(domainauth.KindInvalidCredentials)),
	), 0)
}

func TestAuthService_SignUp(t *testing.T) {
	f := newAuthFixture(t)
	var got ports.SignUpInput
	f.backend.SignUpFunc = func(_ context.Context, in ports.SignUpInput) (domainauth.Account, error) {
		got = in
		return domainauth.Account{ID: "u-jane", Email: in.Email, Metadata: in.Metadata}, nil
	}

	user, err := f.svc.SignUp(context.Background(), SignUpRequest{
		Email:    " Jane@Example.com ",
		Password: "correct horse",
		Metadata: map[string]any{"first_name": "Jane", "business_name": "Jane's Catering"},
	})
	require.NoError(t, err)

	assert.Equal(t, "jane@example.com", got.Email)
	assert.Equal(t, "participant", got.Metadata["intended_role"])
	assert.Equal(t, "Jane", got.Metadata["first_name"])
	assert.Equal(t, domainauth.TypeParticipant, user.Type)
	assert.Equal(t, domainauth.RoleSet{domainauth.RoleParticipant}, user.Roles)

	p, err := f.profiles.GetByID(context.Background(), "u-jane")
	require.NoError(t, err)
	assert.Equal(t, "Jane's Catering", p.BusinessName)
}

func TestAuthService_SignUp_DuplicateShortCircuits(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.SignUp(ctx, SignUpRequest{Email: "jane@example.com", Password: "pw-123456"})
	require.NoError(t, err)
	require.EqualValues(t, 1, f.backend.SignUpCalls.Load())

	_, err = f.svc.SignUp(ctx, SignUpRequest{Email: "  JANE@example.com", Password: "pw-123456"})
	require.ErrorIs(t, err, domainauth.ErrEmailInUse)
	assert.EqualValues(t, 1, f.backend.SignUpCalls.Load())
	assert.Equal(t, domainauth.KindEmailInUse, domainauth.TranslateError(err))
}

func TestAuthService_SignUp_BackendDuplicate(t *testing.T) {
	f := newAuthFixture(t)
	f.backend.SignUpFunc = func(context.Context, ports.SignUpInput) (domainauth.Account, error) {
		return domainauth.Account{}, errors.New("User already registered")
	}

	_, err := f.svc.SignUp(context.Background(), SignUpRequest{Email: "ghost@example.com", Password: "pw-123456"})
	require.ErrorIs(t, err, domainauth.ErrEmailInUse)
}

func TestAuthService_SignUp_ProfileLookupFailureProceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	profiles := mocks.NewMockProfileRepository(ctrl)
	backend := mockauth.NewMockIdentityBackend()

	profiles.EXPECT().ExistsByEmail(gomock.Any(), "admin@seda.org.za").Return(false, errors.New("db down"))
	profiles.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p domainauth.Profile) (*domainauth.Profile, error) {
			assert.Equal(t, domainauth.TypeAdmin, p.UserType)
			return nil, errors.New("db down")
		},
	)

	svc := NewAuthService(AuthServiceOptions{Backend: backend, Repos: AuthRepos{Profiles: profiles}})
	user, err := svc.SignUp(context.Background(), SignUpRequest{Email: "admin@seda.org.za", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, domainauth.TypeAdmin, user.Type)
	assert.Equal(t, domainauth.RoleSet{domainauth.RoleAdmin}, user.Roles)
}

func TestAuthService_SignUp_Validation(t *testing.T) {
	f := newAuthFixture(t)
	_, err := f.svc.SignUp(context.Background(), SignUpRequest{Email: " ", Password: "pw"})
	require.Error(t, err)
	assert.Zero(t, f.backend.SignUpCalls.Load())
}

func TestAuthService_UpdateProfile(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, err := f.profiles.Create(ctx, domainauth.Profile{ID: "u1", Email: "a@example.com"})
	require.NoError(t, err)

	phone := "0123456789"
	p, err := f.svc.UpdateProfile(ctx, "u1", domainauth.ProfilePatch{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, phone, p.Phone)

	_, err = f.svc.UpdateProfile(ctx, "missing", domainauth.ProfilePatch{Phone: &phone})
	require.ErrorIs(t, err, mockauth.ErrNotFound)

	_, err = f.svc.UpdateProfile(ctx, "", domainauth.ProfilePatch{})
	require.Error(t, err)
}

type stubVerifier struct {
	claims ports.TokenClaims
	err    error
}

func (v stubVerifier) Verify(context.Context, string) (ports.TokenClaims, error) { return v.claims, v.err }

func TestAuthService_Resume(t *testing.T) {
	ctx := context.Background()
	live := domainauth.TokenPair{
		AccessToken:  "live",
		RefreshToken: "refresh-user-a@example.com",
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	t.Run("valid access token is reused", func(t *testing.T) {
		backend := mockauth.NewMockIdentityBackend()
		svc := NewAuthService(AuthServiceOptions{
			Backend:  backend,
			Verifier: stubVerifier{claims: ports.TokenClaims{Subject: "u1", Email: "a@example.com"}},
		})
		bs, err := svc.Resume(ctx, live)
		require.NoError(t, err)
		assert.Equal(t, "u1", bs.Account.ID)
		assert.Equal(t, "live", bs.Tokens.AccessToken)
		assert.Zero(t, backend.RefreshCalls.Load())
	})

	t.Run("rejected access token refreshes", func(t *testing.T) {
		backend := mockauth.NewMockIdentityBackend()
		svc := NewAuthService(AuthServiceOptions{
			Backend:  backend,
			Verifier: stubVerifier{err: errors.New("bad signature")},
		})
		bs, err := svc.Resume(ctx, live)
		require.NoError(t, err)
		assert.Equal(t, "access-user-a@example.com", bs.Tokens.AccessToken)
		assert.EqualValues(t, 1, backend.RefreshCalls.Load())
	})

	t.Run("expired pair without verifier refreshes", func(t *testing.T) {
		backend := mockauth.NewMockIdentityBackend()
		svc := NewAuthService(AuthServiceOptions{Backend: backend})
		expired := live
		expired.ExpiresAt = time.Now().Add(-time.Minute)
		_, err := svc.Resume(ctx, expired)
		require.NoError(t, err)
		assert.EqualValues(t, 1, backend.RefreshCalls.Load())
	})

	t.Run("no refresh token", func(t *testing.T) {
		svc := NewAuthService(AuthServiceOptions{Backend: mockauth.NewMockIdentityBackend()})
		_, err := svc.Resume(ctx, domainauth.TokenPair{AccessToken: "x"})
		require.ErrorIs(t, err, ErrSessionExpired)
	})

	t.Run("refresh rejected", func(t *testing.T) {
		svc := NewAuthService(AuthServiceOptions{Backend: mockauth.NewMockIdentityBackend()})
		_, err := svc.Resume(ctx, domainauth.TokenPair{RefreshToken: "garbage"})
		require.ErrorIs(t, err, ErrSessionExpired)
	})

	t.Run("refresh unreachable is not expiry", func(t *testing.T) {
		backend := mockauth.NewMockIdentityBackend()
		backend.RefreshFunc = func(context.Context, string) (domainauth.BackendSession, error) {
			return domainauth.BackendSession{}, errors.New("dial tcp 10.0.0.1:443: connect: connection refused")
		}
		svc := NewAuthService(AuthServiceOptions{Backend: backend})
		_, err := svc.Resume(ctx, domainauth.TokenPair{RefreshToken: "refresh-user-a@example.com"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrSessionExpired)
	})
}

func TestAuthService_SignOut(t *testing.T) {
	f := newAuthFixture(t)
	require.NoError(t, f.svc.SignOut(context.Background(), ""))
	assert.Zero(t, f.backend.SignOutCalls.Load())

	f.backend.SignOutFunc = func(context.Context, string) error { return errors.New("boom") }
	require.Error(t, f.svc.SignOut(context.Background(), "tok"))
	assert.EqualValues(t, 1, f.backend.SignOutCalls.Load())
}
