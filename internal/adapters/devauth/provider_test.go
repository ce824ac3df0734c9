package devauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	"github.com/seda/bdportal/internal/ports"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestProvider(t *testing.T) (*Provider, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	p, err := NewProvider(Config{
		Accounts: map[string]string{"Admin@Seda.org.za": "password"},
		Now:      c.now,
	})
	require.NoError(t, err)
	return p, c
}

func TestProvider_SignInAndGetUser(t *testing.T) {
	p, c := newTestProvider(t)
	ctx := context.Background()

	sess, err := p.SignInWithPassword(ctx, " admin@SEDA.org.za", "password")
	require.NoError(t, err)
	assert.Equal(t, AccountID("admin@seda.org.za"), sess.Account.ID)
	assert.Equal(t, "admin@seda.org.za", sess.Account.Email)
	assert.Equal(t, c.t.Add(DefaultTokenTTL), sess.Tokens.ExpiresAt)
	assert.Len(t, sess.Tokens.AccessToken, 32)
	assert.NotEmpty(t, sess.Tokens.RefreshToken)

	acct, err := p.GetUser(ctx, sess.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.Account.ID, acct.ID)

	c.t = c.t.Add(DefaultTokenTTL)
	_, err = p.GetUser(ctx, sess.Tokens.AccessToken)
	require.Error(t, err)
}

func TestProvider_SignInFailures(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	_, err := p.SignInWithPassword(ctx, "admin@seda.org.za", "wrong")
	require.Error(t, err)
	assert.Equal(t, domainauth.KindInvalidCredentials, domainauth.TranslateError(err))

	_, err = p.SignInWithPassword(ctx, "nobody@example.com", "password")
	assert.Equal(t, domainauth.KindInvalidCredentials, domainauth.TranslateError(err))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.SignInWithPassword(cancelled, "admin@seda.org.za", "password")
	require.ErrorIs(t, err, context.Canceled)
}

func TestProvider_SignUp(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	acct, err := p.SignUp(ctx, ports.SignUpInput{
		Email:    "Founder@Example.com",
		Password: "hunter22",
		Metadata: map[string]any{"intended_role": "participant"},
	})
	require.NoError(t, err)
	assert.Equal(t, AccountID("founder@example.com"), acct.ID)
	assert.Equal(t, "participant", acct.Metadata["intended_role"])

	_, err = p.SignInWithPassword(ctx, "founder@example.com", "hunter22")
	require.NoError(t, err)

	_, err = p.SignUp(ctx, ports.SignUpInput{Email: "founder@example.com", Password: "another1"})
	assert.Equal(t, domainauth.KindEmailInUse, domainauth.TranslateError(err))
	assert.True(t, domainauth.IsDuplicateAccount(err))

	_, err = p.SignUp(ctx, ports.SignUpInput{Email: "short@example.com", Password: "abc"})
	assert.Equal(t, domainauth.KindWeakPassword, domainauth.TranslateError(err))
}

func TestProvider_RefreshRotates(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	sess, err := p.SignInWithPassword(ctx, "admin@seda.org.za", "password")
	require.NoError(t, err)

	next, err := p.Refresh(ctx, sess.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, sess.Tokens.AccessToken, next.Tokens.AccessToken)
	assert.Equal(t, sess.Account.ID, next.Account.ID)

	_, err = p.Refresh(ctx, sess.Tokens.RefreshToken)
	require.Error(t, err, "refresh tokens are single use")
	_, err = p.Refresh(ctx, "unknown")
	require.Error(t, err)
}

func TestProvider_SignOutRevokesAllTokens(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	a, err := p.SignInWithPassword(ctx, "admin@seda.org.za", "password")
	require.NoError(t, err)
	b, err := p.SignInWithPassword(ctx, "admin@seda.org.za", "password")
	require.NoError(t, err)

	require.NoError(t, p.SignOut(ctx, a.Tokens.AccessToken))

	_, err = p.GetUser(ctx, b.Tokens.AccessToken)
	require.Error(t, err)
	_, err = p.Refresh(ctx, b.Tokens.RefreshToken)
	require.Error(t, err)
	require.Error(t, p.SignOut(ctx, a.Tokens.AccessToken))
}

func TestProvider_MetadataIsCopied(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	meta := map[string]any{"first_name": "Ada"}
	_, err := p.SignUp(ctx, ports.SignUpInput{Email: "ada@example.com", Password: "secret1", Metadata: meta})
	require.NoError(t, err)
	meta["first_name"] = "changed"

	sess, err := p.SignInWithPassword(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", sess.Account.Metadata["first_name"])
}

func TestNewProvider_Validation(t *testing.T) {
	_, err := NewProvider(Config{Accounts: map[string]string{" ": "x"}})
	require.Error(t, err)
	_, err = NewProvider(Config{TokenTTL: -time.Second})
	require.Error(t, err)
}
