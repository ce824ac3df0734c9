package httpx

import (
	"net/http"
	"time"
)

// SessionCookieName carries the opaque browser session id.
const SessionCookieName = "session_id"

// CookieConfig controls the attributes of the session cookie.
type CookieConfig struct {
	Domain string
	Secure bool
	// MaxAge should match the session record TTL so the cookie outlives idle store sweeps.
	MaxAge time.Duration
}

func (c CookieConfig) setSession(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure || r.TLS != nil || isForwardedHTTPS(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.MaxAge / time.Second),
	})
}

func (c CookieConfig) clearSession(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure || r.TLS != nil || isForwardedHTTPS(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func sessionIDFromRequest(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
