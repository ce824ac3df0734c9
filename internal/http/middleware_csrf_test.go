package httpx

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func csrfCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == DefaultCSRFCookieName {
			return c
		}
	}
	return nil
}

func okHandler(seen *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = GetCSRFToken(r)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestCSRFProtection_IssuesCookieOnSafeRequest(t *testing.T) {
	var seen string
	h := CSRFProtection(CSRFConfig{})(okHandler(&seen))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	c := csrfCookie(t, rr)
	require.NotNil(t, c)
	assert.NotEmpty(t, c.Value)
	assert.Equal(t, seen, c.Value)
	assert.False(t, c.HttpOnly, "htmx must be able to read the token")
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, int(DefaultCSRFMaxAge/time.Second), c.MaxAge)
	assert.False(t, c.Secure)
}

func TestCSRFProtection_KeepsExistingCookie(t *testing.T) {
	var seen string
	h := CSRFProtection(CSRFConfig{})(okHandler(&seen))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: "existing"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)

	assert.Nil(t, csrfCookie(t, rr))
	assert.Equal(t, "existing", seen)
}

func TestCSRFProtection_SecureBehindTLSProxy(t *testing.T) {
	h := CSRFProtection(CSRFConfig{})(okHandler(nil))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-Proto", "http, https")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)

	c := csrfCookie(t, rr)
	require.NotNil(t, c)
	assert.True(t, c.Secure)
}

func TestCSRFProtection_UnsafeMethods(t *testing.T) {
	const token = "tok-123"
	form := func(v string) string { return url.Values{DefaultCSRFCookieName: {v}}.Encode() }

	tests := []struct {
		name        string
		method      string
		cookie      string
		header      string
		contentType string
		body        string
		want        int
	}{
		{name: "no cookie", method: http.MethodPost, header: token, want: http.StatusForbidden},
		{name: "no token", method: http.MethodPost, cookie: token, want: http.StatusForbidden},
		{name: "header match", method: http.MethodPost, cookie: token, header: token, want: http.StatusOK},
		{name: "header mismatch", method: http.MethodPost, cookie: token, header: "other", want: http.StatusForbidden},
		{
			name: "form match", method: http.MethodPost, cookie: token,
			contentType: "application/x-www-form-urlencoded", body: form(token), want: http.StatusOK,
		},
		{
			name: "form mismatch", method: http.MethodPost, cookie: token,
			contentType: "application/x-www-form-urlencoded", body: form("other"), want: http.StatusForbidden,
		},
		{
			name: "header wins over form", method: http.MethodPost, cookie: token, header: "other",
			contentType: "application/x-www-form-urlencoded", body: form(token), want: http.StatusForbidden,
		},
		{
			name: "json body field is ignored", method: http.MethodPost, cookie: token,
			contentType: "application/json", body: `{"csrf_token":"tok-123"}`, want: http.StatusForbidden,
		},
		{name: "patch", method: http.MethodPatch, cookie: token, header: token, want: http.StatusOK},
		{name: "delete without token", method: http.MethodDelete, cookie: token, want: http.StatusForbidden},
		{name: "head is safe", method: http.MethodHead, want: http.StatusOK},
		{name: "options is safe", method: http.MethodOptions, want: http.StatusOK},
	}

	h := CSRFProtection(CSRFConfig{})(okHandler(nil))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/auth/login", strings.NewReader(tt.body))
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				r.Header.Set(DefaultCSRFHeaderName, tt.header)
			}
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, r)

			assert.Equal(t, tt.want, rr.Code)
			if tt.want == http.StatusForbidden {
				assert.Contains(t, rr.Body.String(), `"csrf_failed"`)
			}
		})
	}
}

func TestCSRFProtection_CustomNames(t *testing.T) {
	cfg := CSRFConfig{CookieName: "_xsrf", HeaderName: "X-Xsrf", TokenLength: 8}
	h := CSRFProtection(cfg)(okHandler(nil))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	var issued *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "_xsrf" {
			issued = c
		}
	}
	require.NotNil(t, issued)
	// 8 random bytes in padded URL-safe base64.
	assert.Len(t, issued.Value, 12)

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.AddCookie(issued)
	r.Header.Set("X-Xsrf", issued.Value)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusOK, rr.Code)
}
