package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
)

// DevTokenTTL is the lifetime of forged development tokens.
const DevTokenTTL = time.Hour

// DevIssuer is the iss claim of forged development tokens.
const DevIssuer = "bdportal-dev"

// ErrNotDevEmail is returned when an address does not carry the reserved development suffix.
var ErrNotDevEmail = errors.New("email is not a development identity")

var devNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://bdportal.local/dev-identity"))

// DevClaims are the claims carried by a forged development access token.
type DevClaims struct {
	Email string `json:"email"`
	Type  string `json:"user_type"`
	jwt.RegisteredClaims
}

// DevIdentityServiceOptions groups dependencies for DevIdentityService.
type DevIdentityServiceOptions struct {
	Secret []byte
	Suffix string
	Now    func() time.Time
}

// DevIdentityService fabricates local sessions for development builds.
// Callers are responsible for checking that the bypass is compiled in and enabled.
type DevIdentityService struct {
	secret []byte
	suffix string
	now    func() time.Time
}

// NewDevIdentityService constructs a DevIdentityService.
func NewDevIdentityService(opts DevIdentityServiceOptions) *DevIdentityService {
	if len(opts.Secret) == 0 {
		panic("DevIdentityService: Secret is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &DevIdentityService{
		secret: opts.Secret,
		suffix: strings.ToLower(strings.TrimSpace(opts.Suffix)),
		now:    now,
	}
}

// Eligible reports whether email ends with the reserved development suffix.
func (d *DevIdentityService) Eligible(email string) bool {
	e := strings.ToLower(strings.TrimSpace(email))
	return d.suffix != "" && len(e) > len(d.suffix) && strings.HasSuffix(e, d.suffix)
}

// DevUserID derives the stable pseudo user id for a development email.
func DevUserID(email string) string {
	return uuid.NewSHA1(devNamespace, []byte(strings.ToLower(strings.TrimSpace(email)))).String()
}

// Forge builds a development session for email. An invalid type is derived from the email
// and an empty role list falls back to the role implied by the type.
func (d *DevIdentityService) Forge(
	email string,
	t domainauth.CoarseType,
	roles []domainauth.Role,
) (*domainauth.Session, error) {
	if !d.Eligible(email) {
		return nil, ErrNotDevEmail
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if !t.Valid() {
		t = domainauth.DetermineType(email)
	}
	set := domainauth.RoleSet{}
	for _, r := range roles {
		if _, ok := domainauth.ParseRole(string(r)); ok && !set.Has(r) {
			set = append(set, r)
		}
	}
	if len(set) == 0 {
		set = domainauth.RoleSet{domainauth.RoleFromType(t)}
	}

	id := DevUserID(email)
	now := d.now()
	exp := now.Add(DevTokenTTL)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, DevClaims{
		Email: email,
		Type:  string(t),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DevIssuer,
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}).SignedString(d.secret)
	if err != nil {
		return nil, fmt.Errorf("sign dev token: %w", err)
	}

	return &domainauth.Session{
		UserID: id,
		Email:  email,
		Type:   t,
		Roles:  set,
		Tokens: domainauth.TokenPair{
			AccessToken:  access,
			RefreshToken: "dev-" + uuid.NewString(),
			TokenType:    "bearer",
			ExpiresAt:    exp,
		},
		ExpiresAt: exp,
		IsDev:     true,
	}, nil
}
