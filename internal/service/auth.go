package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	apperrors "github.com/seda/bdportal/internal/errors"
	obserrors "github.com/seda/bdportal/internal/observability/errors"
	"github.com/seda/bdportal/internal/observability/metrics"
	"github.com/seda/bdportal/internal/ports"
)

// DefaultRoleFetchTimeout bounds how long a role table read may delay sign-in.
const DefaultRoleFetchTimeout = 3 * time.Second

// tokenLeeway is how close to expiry a persisted access token may be and still be reused.
const tokenLeeway = 30 * time.Second

// ErrSessionExpired is returned by Resume and Refresh when the backend has definitively
// rejected a token pair. Other failures are returned without it and may be retried.
var ErrSessionExpired = errors.New("session expired")

// AuthRepos groups the application-side tables the resolver reads.
type AuthRepos struct {
	Roles    ports.RoleRepository
	Profiles ports.ProfileRepository
}

// AuthServiceConfig holds tunables and optional observability for AuthService.
type AuthServiceConfig struct {
	Classifier       domainauth.Classifier
	RoleFetchTimeout time.Duration
	Metrics          *metrics.Auth
	Logger           *slog.Logger
}

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Backend  ports.IdentityBackend // Required
	Repos    AuthRepos
	Verifier ports.TokenVerifier // Optional: local access-token verification for Resume
	Config   AuthServiceConfig
}

// AuthService resolves credentials into sessions: it talks to the identity backend,
// derives coarse types and reads fine-grained roles.
type AuthService struct {
	backend     ports.IdentityBackend
	roles       ports.RoleRepository
	profiles    ports.ProfileRepository
	verifier    ports.TokenVerifier
	classifier  domainauth.Classifier
	roleTimeout time.Duration
	metrics     *metrics.Auth
	logger      *slog.Logger
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) *AuthService {
	if opts.Backend == nil {
		panic("AuthService: Backend is required")
	}
	timeout := opts.Config.RoleFetchTimeout
	if timeout <= 0 {
		timeout = DefaultRoleFetchTimeout
	}
	logger := opts.Config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		backend:     opts.Backend,
		roles:       opts.Repos.Roles,
		profiles:    opts.Repos.Profiles,
		verifier:    opts.Verifier,
		classifier:  opts.Config.Classifier,
		roleTimeout: timeout,
		metrics:     opts.Config.Metrics,
		logger:      logger.With("component", "auth_service"),
	}
}

// DetermineType classifies an email address as admin or participant.
func (s *AuthService) DetermineType(email string) domainauth.CoarseType {
	return s.classifier.DetermineType(email)
}

type roleFetchResult struct {
	rows []string
	err  error
}

// FetchRoles reads the user's role grants, racing the read against the role fetch timeout.
// It never fails: a timeout, an error or an empty result yields the single role implied by
// the email's coarse type. A read that loses the race is cancelled and its result dropped.
func (s *AuthService) FetchRoles(ctx context.Context, userID, email string) domainauth.RoleSet {
	start := time.Now()
	fallback := domainauth.RoleSet{domainauth.RoleFromType(s.DetermineType(email))}
	if s.roles == nil || userID == "" {
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, s.roleTimeout)
	defer cancel()

	done := make(chan roleFetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- roleFetchResult{err: fmt.Errorf("role fetch panicked: %v", r)}
			}
		}()
		rows, err := s.roles.RolesForUser(ctx, userID)
		done <- roleFetchResult{rows: rows, err: err}
	}()

	var reason string
	var cause error
	select {
	case <-ctx.Done():
		reason, cause = metrics.FallbackTimeout, ctx.Err()
	case res := <-done:
		switch {
		case res.err != nil:
			reason, cause = metrics.FallbackError, res.err
		default:
			if set := domainauth.NewRoleSet(res.rows...); len(set) > 0 {
				s.metrics.ObserveRoleFetch(start, "")
				return set
			}
			reason = metrics.FallbackEmpty
		}
	}

	s.metrics.ObserveRoleFetch(start, reason)
	attrs := []any{"user_id", userID, "reason", reason, "fallback", fallback.Strings()}
	if cause != nil {
		attrs = append(attrs, "error_class", obserrors.Classify(cause), "error", cause)
	}
	s.logger.WarnContext(ctx, "role lookup fell back to email-derived type", attrs...)
	return fallback
}

// Populate runs the role population routine over a backend session.
func (s *AuthService) Populate(ctx context.Context, bs domainauth.BackendSession) *domainauth.Session {
	email := strings.TrimSpace(bs.Account.Email)
	return &domainauth.Session{
		UserID:    bs.Account.ID,
		Email:     email,
		Type:      s.DetermineType(email),
		Roles:     s.FetchRoles(ctx, bs.Account.ID, email),
		Tokens:    bs.Tokens,
		ExpiresAt: bs.Tokens.ExpiresAt,
	}
}

// SignInResult is the outcome of a credential exchange.
// Type is always set, even on failure, from the email as typed.
type SignInResult struct {
	Type    domainauth.CoarseType
	Session *domainauth.Session
}

// SignIn exchanges email and password for a fully populated session.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	email = strings.TrimSpace(email)
	res := &SignInResult{Type: s.DetermineType(email)}

	bs, err := s.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		s.observe("sign_in", err)
		return res, fmt.Errorf("sign in: %w", err)
	}

	res.Session = s.Populate(ctx, bs)
	res.Type = res.Session.Type
	s.observe("sign_in", nil)
	return res, nil
}

// SignUpRequest groups parameters for registering a new account.
type SignUpRequest struct {
	Email    string
	Password string
	// Metadata is forwarded to the identity backend; profile fields are read from it too.
	Metadata map[string]any
}

// EnhancedUser is a freshly registered account with its derived authorisation.
type EnhancedUser struct {
	Account domainauth.Account
	Type    domainauth.CoarseType
	Roles   domainauth.RoleSet
}

// SignUp registers an account. An existing profile short-circuits with
// domainauth.ErrEmailInUse before the identity backend is contacted.
func (s *AuthService) SignUp(ctx context.Context, req SignUpRequest) (*EnhancedUser, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		err := apperrors.Validation("email and password are required")
		s.observe("sign_up", err)
		return nil, err
	}

	if s.profiles != nil {
		exists, err := s.profiles.ExistsByEmail(ctx, email)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "profile lookup failed before sign-up",
				"error_class", obserrors.Classify(err), "error", err)
		case exists:
			s.observe("sign_up", domainauth.ErrEmailInUse)
			return nil, domainauth.ErrEmailInUse
		}
	}

	userType := s.DetermineType(email)
	meta := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["intended_role"] = string(userType)

	acct, err := s.backend.SignUp(ctx, ports.SignUpInput{Email: email, Password: req.Password, Metadata: meta})
	if err != nil {
		if domainauth.IsDuplicateAccount(err) {
			err = fmt.Errorf("%w: %w", domainauth.ErrEmailInUse, err)
		}
		s.observe("sign_up", err)
		return nil, fmt.Errorf("sign up: %w", err)
	}

	s.createProfile(ctx, acct, email, userType, meta)
	s.observe("sign_up", nil)
	return &EnhancedUser{
		Account: acct,
		Type:    userType,
		Roles:   domainauth.RoleSet{domainauth.RoleFromType(userType)},
	}, nil
}

func (s *AuthService) createProfile(
	ctx context.Context,
	acct domainauth.Account,
	email string,
	t domainauth.CoarseType,
	meta map[string]any,
) {
	if s.profiles == nil || acct.ID == "" {
		return
	}
	_, err := s.profiles.Create(ctx, domainauth.Profile{
		ID:           acct.ID,
		Email:        email,
		FirstName:    metaString(meta, "first_name"),
		LastName:     metaString(meta, "last_name"),
		Phone:        metaString(meta, "phone"),
		BusinessName: metaString(meta, "business_name"),
		UserType:     t,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "profile creation after sign-up failed",
			"user_id", acct.ID, "error_class", obserrors.Classify(err), "error", err)
	}
}

func metaString(meta map[string]any, key string) string {
	v, _ := meta[key].(string)
	return strings.TrimSpace(v)
}

// UpdateProfile applies patch to the user's profile row.
func (s *AuthService) UpdateProfile(
	ctx context.Context,
	userID string,
	patch domainauth.ProfilePatch,
) (*domainauth.Profile, error) {
	if s.profiles == nil {
		return nil, errors.New("profile repository not configured")
	}
	if userID == "" {
		return nil, apperrors.Validation("user id is required")
	}
	p, err := s.profiles.Update(ctx, userID, patch)
	if err != nil {
		s.observe("update_profile", err)
		return nil, fmt.Errorf("update profile: %w", err)
	}
	s.observe("update_profile", nil)
	return p, nil
}

// Resume turns a persisted token pair back into a backend session. A still-valid access
// token is verified and reused; otherwise the refresh token is exchanged.
func (s *AuthService) Resume(ctx context.Context, pair domainauth.TokenPair) (domainauth.BackendSession, error) {
	if pair.AccessToken != "" && time.Until(pair.ExpiresAt) > tokenLeeway {
		acct, err := s.identify(ctx, pair.AccessToken)
		if err == nil {
			return domainauth.BackendSession{Account: acct, Tokens: pair}, nil
		}
		s.logger.DebugContext(ctx, "persisted access token rejected, refreshing",
			"error_class", obserrors.Classify(err))
	}
	if pair.RefreshToken == "" {
		return domainauth.BackendSession{}, ErrSessionExpired
	}
	return s.Refresh(ctx, pair.RefreshToken)
}

func (s *AuthService) identify(ctx context.Context, accessToken string) (domainauth.Account, error) {
	if s.verifier != nil {
		claims, err := s.verifier.Verify(ctx, accessToken)
		if err != nil {
			return domainauth.Account{}, err
		}
		return domainauth.Account{ID: claims.Subject, Email: claims.Email}, nil
	}
	return s.backend.GetUser(ctx, accessToken)
}

// Refresh exchanges a refresh token for a new backend session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (domainauth.BackendSession, error) {
	bs, err := s.backend.Refresh(ctx, refreshToken)
	if err != nil {
		s.observe("refresh", err)
		if domainauth.IsSessionRejected(err) {
			return domainauth.BackendSession{}, errors.Join(ErrSessionExpired, fmt.Errorf("refresh: %w", err))
		}
		return domainauth.BackendSession{}, fmt.Errorf("refresh: %w", err)
	}
	s.observe("refresh", nil)
	return bs, nil
}

// SignOut invalidates the access token at the identity backend.
func (s *AuthService) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	if err := s.backend.SignOut(ctx, accessToken); err != nil {
		s.observe("sign_out", err)
		return fmt.Errorf("sign out: %w", err)
	}
	s.observe("sign_out", nil)
	return nil
}

func (s *AuthService) observe(op string, err error) {
	if err == nil {
		s.metrics.ObserveOperation(metrics.OperationMetric{Operation: op, Result: metrics.ResultSuccess})
		return
	}
	s.metrics.ObserveOperation(metrics.OperationMetric{
		Operation: op,
		Result:    metrics.ResultError,
		Kind:      string(domainauth.TranslateError(err)),
	})
}
