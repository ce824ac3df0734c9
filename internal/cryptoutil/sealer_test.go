package cryptoutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSealer(t *testing.T) *AESGCM {
	t.Helper()
	key, err := KeyFromString("correct horse battery staple")
	require.NoError(t, err)
	s, err := NewAESGCM(key)
	require.NoError(t, err)
	return s
}

func TestAESGCM_RoundTrip(t *testing.T) {
	s := newSealer(t)
	sealed, err := s.Seal([]byte(`{"refresh_token":"r"}`), "sess-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1:"))
	assert.NotContains(t, sealed, "refresh_token")

	pt, err := s.Open(sealed, "sess-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"refresh_token":"r"}`, string(pt))

	again, err := s.Seal([]byte(`{"refresh_token":"r"}`), "sess-1")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce is random")
}

func TestAESGCM_OpenRejects(t *testing.T) {
	s := newSealer(t)
	sealed, err := s.Seal([]byte("payload"), "sess-1")
	require.NoError(t, err)

	_, err = s.Open(sealed, "sess-2")
	require.ErrorIs(t, err, ErrUnsealable, "bound to a different record")

	other, err := NewAESGCM(make([]byte, 32))
	require.NoError(t, err)
	_, err = other.Open(sealed, "sess-1")
	require.ErrorIs(t, err, ErrUnsealable, "different key")

	for _, bad := range []string{"", "v2:abc", "v1:!!!", "v1:AAAA", "plain:cGF5bG9hZA"} {
		_, err = s.Open(bad, "sess-1")
		require.ErrorIs(t, err, ErrUnsealable, "input %q", bad)
	}
}

func TestKeyFromString(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	k, err := KeyFromString(hexKey)
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), k[0])
	assert.Len(t, k, 32)

	k, err = KeyFromString("short")
	require.NoError(t, err)
	assert.Len(t, k, 32)

	_, err = KeyFromString("  ")
	require.Error(t, err)

	_, err = NewAESGCM([]byte("too short"))
	require.Error(t, err)
}

func TestPlain(t *testing.T) {
	sealed, err := Plain{}.Seal([]byte("payload"), "ignored")
	require.NoError(t, err)
	assert.Equal(t, "plain:cGF5bG9hZA", sealed)

	pt, err := Plain{}.Open(sealed, "other")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(pt))

	_, err = Plain{}.Open("v1:abc", "")
	require.ErrorIs(t, err, ErrUnsealable)
}
