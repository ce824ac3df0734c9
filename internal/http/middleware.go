package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seda/bdportal/internal/guard"
	obserrors "github.com/seda/bdportal/internal/observability/errors"
	"github.com/seda/bdportal/internal/service"
	"github.com/seda/bdportal/internal/session"
)

// Logging returns a middleware that logs HTTP requests and responses.
// Server errors log at ERROR; everything else at INFO.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *respWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity
						panic(err)
					}
					logger.ErrorContext(r.Context(), "panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// browserRequestKey is an unexported context key type for browser request detection.
type browserRequestKey struct{}

// BrowserDetection returns a middleware that records whether a request comes from a browser
// page (HTML and redirects) or a script (JSON status codes).
func BrowserDetection() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), browserRequestKey{}, isBrowserRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IsBrowserRequest returns true if the current request is from a browser.
func IsBrowserRequest(r *http.Request) bool {
	if isBrowser, ok := r.Context().Value(browserRequestKey{}).(bool); ok {
		return isBrowser
	}
	return isBrowserRequest(r)
}

// isBrowserRequest classifies by path, then content type, then Accept:
// /api/ is never a browser, htmx always is, JSON bodies are scripts.
func isBrowserRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return false
	}
	if IsHTMX(r) {
		return true
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return false
	}
	accept := r.Header.Get("Accept")
	if accept == "" {
		return true
	}
	return strings.Contains(accept, "text/html")
}

// StoreSource yields the live session store for a browser session id.
type StoreSource interface {
	Get(ctx context.Context, id string) (*session.Store, error)
}

// SessionLoaderConfig groups the dependencies of SessionLoader.
type SessionLoaderConfig struct {
	Stores  StoreSource
	Cookies CookieConfig
	// ReadyWait is how long a request waits for a bootstrapping store before continuing
	// with whatever state it has. Zero does not wait.
	ReadyWait time.Duration
	Logger    *slog.Logger
}

// SessionLoader attaches the browser session's store to the request context. Requests
// without a well-formed session cookie carry no store and read as signed out; stores for new
// browsers are created by the sign-in handlers. Expired access tokens are refreshed here.
func SessionLoader(cfg SessionLoaderConfig) func(http.Handler) http.Handler {
	if cfg.Stores == nil {
		panic("httpx.SessionLoader: Stores is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := sessionIDFromRequest(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			if uuid.Validate(id) != nil {
				cfg.Cookies.clearSession(w, r)
				next.ServeHTTP(w, r)
				return
			}

			st, err := cfg.Stores.Get(r.Context(), id)
			if err != nil {
				if !errors.Is(err, session.ErrRegistryClosed) {
					logger.ErrorContext(r.Context(), "session store unavailable", "error", err)
				}
				w.Header().Set("Retry-After", "1")
				WriteError(w, ErrorParams{
					Code:    http.StatusServiceUnavailable,
					ErrCode: "session_unavailable",
					Err:     errors.New("session unavailable"),
				})
				return
			}

			awaitReady(r.Context(), st, cfg.ReadyWait)
			if err := st.KeepAlive(r.Context()); err != nil && !errors.Is(err, service.ErrSessionExpired) {
				logger.WarnContext(r.Context(), "session token refresh failed",
					"session_id", id, "error_class", obserrors.Classify(err), "error", err)
			}
			next.ServeHTTP(w, r.WithContext(WithStore(r.Context(), st)))
		})
	}
}

func awaitReady(ctx context.Context, st *session.Store, wait time.Duration) {
	if wait <= 0 {
		return
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-st.Ready():
	case <-t.C:
	case <-ctx.Done():
	}
}

// loadingRetryAfter is the Retry-After hint, in seconds, sent while a session is loading.
const loadingRetryAfter = 1

// RequireRoute applies the guard's decision for the requested path. Rendered requests reach
// next with the matched requirement in context; undeclared paths are 404.
//
// Browsers get redirects (Hx-Redirect for htmx) and a self-refreshing loading page; scripts
// get 401, 403 or 503 JSON responses.
func RequireRoute(g *guard.Guard, pages *Renderer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dec, req, ok := g.EvaluatePath(principal(r.Context()), r.URL.RequestURI())
			if !ok {
				if IsBrowserRequest(r) {
					pages.NotFound(w, r)
					return
				}
				WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: errors.New("not found")})
				return
			}

			browser := IsBrowserRequest(r)
			switch dec.Outcome {
			case guard.OutcomeRender:
				next.ServeHTTP(w, r.WithContext(withRoute(r.Context(), req)))

			case guard.OutcomeLoading:
				w.Header().Set("Retry-After", strconv.Itoa(loadingRetryAfter))
				if browser {
					pages.Loading(w, r, req)
					return
				}
				WriteError(w, ErrorParams{
					Code:    http.StatusServiceUnavailable,
					ErrCode: "session_loading",
					Err:     errors.New("session is loading"),
				})

			case guard.OutcomeRedirectLogin:
				if !browser {
					WriteError(w, ErrorParams{
						Code:    http.StatusUnauthorized,
						ErrCode: "authentication_required",
						Err:     errors.New("authentication required"),
					})
					return
				}
				loc := dec.Location
				if cur := currentURL(r); IsHTMX(r) && cur != "" {
					loc = guard.LoginLocation(g.Table().LoginPath, cur)
				}
				Navigate(w, r, loc)

			case guard.OutcomeRedirectUnauthorized:
				if !browser {
					WriteError(w, ErrorParams{
						Code:    http.StatusForbidden,
						ErrCode: "insufficient_permissions",
						Err:     errors.New("insufficient permissions"),
					})
					return
				}
				Navigate(w, r, dec.Location)
			}
		})
	}
}
