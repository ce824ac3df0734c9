package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// AuthMode represents the identity backend the application talks to.
type AuthMode string

const (
	// AuthModeGoTrue uses the hosted GoTrue-compatible identity API.
	AuthModeGoTrue AuthMode = "gotrue"
	// AuthModeMock uses in-memory accounts (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "gotrue", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: gotrue, mock)", v)
	}
}

// BackendConfig points at the hosted identity API.
type BackendConfig struct {
	URL     string `env:"URL"      envDefault:"http://localhost:54321"`
	AnonKey string `env:"ANON_KEY"`
	// JWKSURL enables asymmetric access-token verification when set.
	JWKSURL string `env:"JWKS_URL"`
	// JWTSecret enables HS256 access-token verification when JWKSURL is empty.
	JWTSecret string        `env:"JWT_SECRET"`
	Timeout   time.Duration `env:"TIMEOUT"    envDefault:"10s"`
}

// DevAuthConfig controls the mock backend and the development identity injector.
type DevAuthConfig struct {
	// Accounts seeds the mock backend as "email:password" pairs.
	Accounts []string `env:"ACCOUNTS" envDefault:"admin@dev.local:password;founder@example.com:password" envSeparator:";"`
	// Suffix is the reserved address suffix accepted by the dev identity injector.
	Suffix string `env:"SUFFIX" envDefault:"@dev.local"`
	// Secret signs forged dev tokens.
	Secret string `env:"SECRET" envDefault:"dev-only-signing-secret"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which identity backend to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"gotrue"`

	Backend BackendConfig `envPrefix:"AUTH_BACKEND_"`

	// DevAuth configuration (mock backend and dev identities).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	// OrgDomains are the organisational email domains whose members are administrators.
	OrgDomains []string `env:"AUTH_ORG_DOMAINS" envDefault:"seda.org.za" envSeparator:","`

	// RoleFetchTimeout bounds the role table read before falling back to the coarse type.
	RoleFetchTimeout time.Duration `env:"AUTH_ROLE_FETCH_TIMEOUT" envDefault:"3s"`

	// BootstrapTimeout bounds session initialization before loading is forced off.
	BootstrapTimeout time.Duration `env:"AUTH_BOOTSTRAP_TIMEOUT" envDefault:"6s"`

	// SignOutWait bounds how long sign-out waits for the SIGNED_OUT event before clearing locally.
	SignOutWait time.Duration `env:"AUTH_SIGNOUT_WAIT" envDefault:"2s"`

	// SessionTTL is the lifetime of persisted session records.
	SessionTTL time.Duration `env:"AUTH_SESSION_TTL" envDefault:"168h"`

	// SessionEncryptionKey seals persisted session records. A 64-char hex value is used as-is,
	// anything else is hashed. Empty stores records unencrypted outside production.
	SessionEncryptionKey string `env:"AUTH_SESSION_ENCRYPTION_KEY"`
}

// Sanitize applies guardrails to auth configuration values.
func (a *AuthConfig) Sanitize() {
	if a.Mode == "" {
		a.Mode = AuthModeGoTrue
	}
	domains := a.OrgDomains[:0]
	for _, d := range a.OrgDomains {
		d = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(d), "@")))
		if d != "" {
			domains = append(domains, d)
		}
	}
	a.OrgDomains = domains
	if a.RoleFetchTimeout <= 0 {
		a.RoleFetchTimeout = 3 * time.Second
	}
	if a.BootstrapTimeout <= 0 {
		a.BootstrapTimeout = 6 * time.Second
	}
	if a.SignOutWait <= 0 {
		a.SignOutWait = 2 * time.Second
	}
	if a.SessionTTL <= 0 {
		a.SessionTTL = 7 * 24 * time.Hour
	}
	a.Backend.URL = strings.TrimRight(strings.TrimSpace(a.Backend.URL), "/")
	if a.DevAuth.Suffix != "" && !strings.HasPrefix(a.DevAuth.Suffix, "@") {
		a.DevAuth.Suffix = "@" + a.DevAuth.Suffix
	}
	a.DevAuth.Suffix = strings.ToLower(a.DevAuth.Suffix)
}

// Validate rejects organisational domains that are bare public suffixes such as "co.za",
// which would classify every address under them as an administrator.
func (a *AuthConfig) Validate() error {
	var errs []error
	for _, d := range a.OrgDomains {
		if _, err := publicsuffix.EffectiveTLDPlusOne(d); err != nil {
			errs = append(errs, fmt.Errorf("AUTH_ORG_DOMAINS: %q is not a registrable domain: %w", d, err))
		}
	}
	if a.Mode == AuthModeGoTrue && a.Backend.URL == "" {
		errs = append(errs, errors.New("AUTH_BACKEND_URL is required when AUTH_MODE=gotrue"))
	}
	return errors.Join(errs...)
}

// MockAccounts parses DevAuth.Accounts into an email to password map.
func (a *AuthConfig) MockAccounts() map[string]string {
	out := make(map[string]string, len(a.DevAuth.Accounts))
	for _, pair := range a.DevAuth.Accounts {
		email, pw, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || email == "" {
			continue
		}
		out[strings.ToLower(email)] = pw
	}
	return out
}
