// Package oidc provides local access-token verification for identity backend tokens:
// asymmetric signatures against a JWKS key set, or an HS256 shared secret.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/seda/bdportal/internal/ports"
)

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("invalid access token")

// accessClaims are the claims read from backend access tokens.
type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// KeySetVerifier checks RS256/ES256 access tokens against a key set.
type KeySetVerifier struct {
	verifier *gooidc.IDTokenVerifier
}

// KeySetConfig configures a KeySetVerifier.
type KeySetConfig struct {
	// Issuer is matched against the iss claim; empty skips the check.
	Issuer string
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewKeySetVerifier verifies against keys, typically a remote JWKS or a static set in tests.
func NewKeySetVerifier(keys gooidc.KeySet, cfg KeySetConfig) *KeySetVerifier {
	oc := &gooidc.Config{
		// Access tokens carry the backend's own audience, not a client id.
		SkipClientIDCheck:    true,
		SkipIssuerCheck:      cfg.Issuer == "",
		SupportedSigningAlgs: []string{gooidc.RS256, gooidc.ES256},
		Now:                  cfg.Now,
	}
	return &KeySetVerifier{verifier: gooidc.NewVerifier(cfg.Issuer, keys, oc)}
}

// NewJWKSVerifier fetches and caches keys from jwksURL on demand.
// httpClient may be nil for http.DefaultClient.
func NewJWKSVerifier(jwksURL string, httpClient *http.Client, cfg KeySetConfig) (*KeySetVerifier, error) {
	if strings.TrimSpace(jwksURL) == "" {
		return nil, errors.New("JWKS URL is required")
	}
	// The key set keeps this context for later refreshes, so it must not be request-scoped.
	ctx := context.Background()
	if httpClient != nil {
		ctx = gooidc.ClientContext(ctx, httpClient)
	}
	return NewKeySetVerifier(gooidc.NewRemoteKeySet(ctx, jwksURL), cfg), nil
}

var _ ports.TokenVerifier = (*KeySetVerifier)(nil)

func (v *KeySetVerifier) Verify(ctx context.Context, accessToken string) (ports.TokenClaims, error) {
	tok, err := v.verifier.Verify(ctx, accessToken)
	if err != nil {
		return ports.TokenClaims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	var claims accessClaims
	if err := tok.Claims(&claims); err != nil {
		return ports.TokenClaims{}, fmt.Errorf("%w: parse claims: %w", ErrInvalidToken, err)
	}
	return claimsOf(tok.Subject, claims.Email)
}

// HS256Verifier checks access tokens signed with the backend's shared JWT secret.
type HS256Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// HS256Config configures an HS256Verifier.
type HS256Config struct {
	Secret string
	Issuer string // optional
	Now    func() time.Time
}

// NewHS256Verifier constructs a shared-secret verifier.
func NewHS256Verifier(cfg HS256Config) (*HS256Verifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}
	return &HS256Verifier{secret: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}, nil
}

var _ ports.TokenVerifier = (*HS256Verifier)(nil)

func (v *HS256Verifier) Verify(_ context.Context, accessToken string) (ports.TokenClaims, error) {
	var claims accessClaims
	_, err := v.parser.ParseWithClaims(accessToken, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return ports.TokenClaims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claimsOf(claims.Subject, claims.Email)
}

func claimsOf(sub, email string) (ports.TokenClaims, error) {
	if sub == "" {
		return ports.TokenClaims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return ports.TokenClaims{Subject: sub, Email: strings.ToLower(email)}, nil
}
