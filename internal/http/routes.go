package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/seda/bdportal/internal/devbypass"
	"github.com/seda/bdportal/internal/guard"
)

// SessionStores creates, looks up and forgets per-browser session stores.
type SessionStores interface {
	StoreSource
	StoreRemover
}

// RouterServices groups the dependencies of NewRouter.
type RouterServices struct {
	Guard  *guard.Guard
	Stores SessionStores
	Pages  *Renderer
	// Dev enables /auth/dev-login in builds with the development bypass compiled in.
	Dev       DevIdentities
	Cookies   CookieConfig
	CSRF      CSRFConfig
	ReadyWait time.Duration
	// Metrics is served at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
	Logger      *slog.Logger
}

// NewRouter wires every portal endpoint. Health and metrics bypass sessions; everything else
// is CSRF-checked and carries the browser session's store.
func NewRouter(s RouterServices) http.Handler {
	if s.Guard == nil || s.Stores == nil || s.Pages == nil {
		panic("httpx.NewRouter: Guard, Stores and Pages are required")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	if s.Metrics != nil {
		path := s.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, s.Metrics)
	}

	csrf := CSRFProtection(s.CSRF)
	loader := SessionLoader(SessionLoaderConfig{
		Stores:    s.Stores,
		Cookies:   s.Cookies,
		ReadyWait: s.ReadyWait,
		Logger:    logger,
	})
	withSession := func(h http.HandlerFunc) http.Handler { return csrf(loader(h)) }

	auth := &AuthHandlers{
		Pages:      s.Pages,
		Stores:     s.Stores,
		Cookies:    s.Cookies,
		AdminRoles: s.Guard.Table().AdminRoles,
		Logger:     logger,
	}
	registerAuthRoutes(mux, auth, withSession)
	if devbypass.Compiled && s.Dev != nil {
		auth.Dev = s.Dev
		mux.Handle("POST /auth/dev-login", withSession(auth.DevLogin))
		logger.Warn("development sign-in endpoint enabled")
	} else {
		// Without it the GET / pattern would answer 405.
		mux.Handle("POST /auth/dev-login", http.NotFoundHandler())
	}

	profile := &ProfileHandlers{Logger: logger}
	mux.Handle("PATCH /api/profile", withSession(profile.Update))

	pages := RequireRoute(s.Guard, s.Pages)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, _ := RouteFromContext(r.Context())
		s.Pages.Page(w, r, req)
	}))
	mux.Handle("GET /", csrf(loader(pages)))

	return Recover(logger)(Logging(logger)(BrowserDetection()(mux)))
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers, wrap func(http.HandlerFunc) http.Handler) {
	mux.Handle("POST /auth/login", wrap(h.Login))
	mux.Handle("POST /auth/signup", wrap(h.Signup))
	mux.Handle("POST /auth/logout", wrap(h.Logout))
	mux.Handle("GET /auth/status", wrap(h.Status))
}
