package config

import (
	"strings"
	"time"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// CookieDomain is the domain for session cookies.
	// Leave empty to use the request domain.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	// SecureCookies marks session cookies Secure.
	SecureCookies bool `env:"APP_SECURE_COOKIES" envDefault:"true"`

	// GuardReadyWait is how long a guarded request waits for session bootstrap
	// before the loading placeholder is served.
	GuardReadyWait time.Duration `env:"HTTP_GUARD_READY_WAIT" envDefault:"250ms"`

	// RoutesFile overrides the embedded route declarations.
	RoutesFile string `env:"ROUTES_FILE" envDefault:""`

	// ShutdownTimeout bounds graceful server shutdown.
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	h.RoutesFile = strings.TrimSpace(h.RoutesFile)
	if h.GuardReadyWait < 0 {
		h.GuardReadyWait = 0
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 10 * time.Second
	}
}
