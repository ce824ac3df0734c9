package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	apperrors "github.com/seda/bdportal/internal/errors"
	"github.com/seda/bdportal/internal/guard"
	"github.com/seda/bdportal/internal/service"
	"github.com/seda/bdportal/internal/session"
)

// portalAdmin marks a sign-in from the admin portal, which only admits admin-capable accounts.
const portalAdmin = "admin"

// errNotAdmin is reported when a non-admin account signs in through the admin portal.
const errNotAdmin = "not_admin"

const notAdminMessage = "This account does not have access to the admin portal"

// StoreRemover forgets a browser session's store.
type StoreRemover interface {
	Remove(id string)
}

// DevIdentities forges development sessions.
type DevIdentities interface {
	Eligible(email string) bool
	Forge(email string, t domainauth.CoarseType, roles []domainauth.Role) (*domainauth.Session, error)
}

// AuthHandlers provides HTTP handlers for authentication operations.
// Handlers run behind SessionLoader; a request may arrive without a store.
type AuthHandlers struct {
	Pages      *Renderer
	Stores     SessionStores
	Cookies    CookieConfig
	AdminRoles []domainauth.Role
	// Dev is nil unless development identities are enabled.
	Dev    DevIdentities
	Logger *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type loginInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Portal      string `json:"portal,omitempty"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

type signupInput struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	BusinessName string `json:"business_name,omitempty"`
}

type devLoginInput struct {
	Email       string                `json:"email"`
	UserType    domainauth.CoarseType `json:"user_type,omitempty"`
	Roles       []domainauth.Role     `json:"roles,omitempty"`
	RedirectURI string                `json:"redirect_uri,omitempty"`
}

// statusBody describes the browser session's authentication state.
type statusBody struct {
	Loading       bool                  `json:"loading"`
	Authenticated bool                  `json:"authenticated"`
	UserID        string                `json:"user_id,omitempty"`
	Email         string                `json:"email,omitempty"`
	UserType      domainauth.CoarseType `json:"user_type,omitempty"`
	Roles         []string              `json:"roles"`
	IsDevUser     bool                  `json:"is_dev_user"`
	ExpiresAt     *time.Time            `json:"expires_at,omitempty"`
	Redirect      string                `json:"redirect,omitempty"`
	// Cached marks a loading state filled from the last committed summary.
	Cached bool `json:"cached,omitempty"`
}

func statusOf(snap session.Snapshot) statusBody {
	b := statusBody{Loading: snap.Loading(), Roles: []string{}}
	sess := snap.Session()
	if sess == nil {
		return b
	}
	exp := sess.ExpiresAt
	b.Authenticated = true
	b.UserID = sess.UserID
	b.Email = sess.Email
	b.UserType = sess.Type
	b.Roles = sess.Roles.Strings()
	b.IsDevUser = sess.IsDev
	b.ExpiresAt = &exp
	return b
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// decodeInput reads a JSON body or a form into dst using fill for forms.
func decodeInput(w http.ResponseWriter, r *http.Request, dst any, fill func(get func(string) string)) bool {
	if isJSON(r) {
		return DecodeJSON(w, r, dst)
	}
	if err := r.ParseForm(); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_form", Err: err})
		return false
	}
	fill(r.PostForm.Get)
	return true
}

// begin creates the store for a sign-in attempt under a new session id, so an id issued
// before authentication never carries the authenticated session.
func (h *AuthHandlers) begin(w http.ResponseWriter, r *http.Request) (*session.Store, bool) {
	st, err := h.Stores.Get(r.Context(), session.NewSessionID())
	if err != nil {
		if !errors.Is(err, session.ErrRegistryClosed) {
			h.logger().ErrorContext(r.Context(), "session store unavailable", "error", err)
		}
		h.unavailable(w)
		return nil, false
	}
	return st, true
}

// promote makes fresh the browser's session and discards the one it replaces.
func (h *AuthHandlers) promote(w http.ResponseWriter, r *http.Request, fresh *session.Store) {
	h.Cookies.setSession(w, r, fresh.ID())
	old, ok := StoreFromContext(r.Context())
	if !ok || old.ID() == fresh.ID() {
		return
	}
	old.Forget()
	h.Stores.Remove(old.ID())
}

// abandon drops the store of a failed sign-in attempt.
func (h *AuthHandlers) abandon(fresh *session.Store) {
	h.Stores.Remove(fresh.ID())
}

// ensure returns the request's store, creating one for a browser that has none yet.
func (h *AuthHandlers) ensure(w http.ResponseWriter, r *http.Request) (*session.Store, bool) {
	if st, ok := StoreFromContext(r.Context()); ok {
		return st, true
	}
	st, ok := h.begin(w, r)
	if ok {
		h.Cookies.setSession(w, r, st.ID())
	}
	return st, ok
}

func (h *AuthHandlers) unavailable(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	WriteError(w, ErrorParams{
		Code:    http.StatusServiceUnavailable,
		ErrCode: "session_unavailable",
		Err:     errors.New("session unavailable"),
	})
}

// Login exchanges credentials for a session.
// POST /auth/login (JSON or form: email, password, portal, redirect_uri).
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var in loginInput
	if !decodeInput(w, r, &in, func(get func(string) string) {
		in = loginInput{Email: get("email"), Password: get("password"), Portal: get("portal"), RedirectURI: get("redirect_uri")}
	}) {
		return
	}
	st, ok := h.begin(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	res, err := st.SignIn(ctx, in.Email, in.Password)
	if err != nil {
		h.abandon(st)
		if errors.Is(err, session.ErrClosed) {
			h.unavailable(w)
			return
		}
		var t domainauth.CoarseType
		if res != nil {
			t = res.Type
		}
		h.logger().InfoContext(ctx, "sign-in failed",
			"session_id", st.ID(), "kind", domainauth.TranslateError(err), "user_type", t)
		h.loginFailed(w, r, in, err, t)
		return
	}

	sess := res.Session
	if in.Portal == portalAdmin && !domainauth.CanEnterAdmin(sess.Type, sess.Roles, h.AdminRoles...) {
		h.logger().InfoContext(ctx, "admin portal sign-in rejected",
			"session_id", st.ID(), "user_id", sess.UserID, "user_type", sess.Type)
		soCtx, cancel := signOutDeadline(ctx)
		defer cancel()
		if err := st.SignOut(soCtx); err != nil {
			h.logger().WarnContext(ctx, "sign-out after rejected admin sign-in failed", "error", err)
		}
		h.abandon(st)
		if isJSON(r) {
			WriteJSON(w, http.StatusForbidden, map[string]string{"error": errNotAdmin, "message": notAdminMessage})
			return
		}
		h.Pages.LoginForm(w, r, http.StatusForbidden, in, notAdminMessage)
		return
	}

	h.promote(w, r, st)
	h.signedIn(w, r, st, guard.PostLoginTarget(in.RedirectURI, sess.Type))
}

func (h *AuthHandlers) loginFailed(w http.ResponseWriter, r *http.Request, in loginInput, err error, t domainauth.CoarseType) {
	if isJSON(r) {
		WriteAuthError(w, err, t)
		return
	}
	status, msg := authFailure(err)
	h.Pages.LoginForm(w, r, status, in, msg)
}

// authFailure returns the status and user-facing message for a failed auth operation.
func authFailure(err error) (int, string) {
	if apperrors.IsValidation(err) {
		return http.StatusBadRequest, apperrors.PublicMessage(err)
	}
	kind := domainauth.TranslateError(err)
	return kindStatus[kind], kind.Message()
}

// signedIn sends the client on to target once the new session has been committed.
func (h *AuthHandlers) signedIn(w http.ResponseWriter, r *http.Request, st *session.Store, target string) {
	if isJSON(r) {
		body := statusOf(st.Snapshot())
		body.Redirect = target
		WriteJSON(w, http.StatusOK, body)
		return
	}
	Navigate(w, r, target)
}

// Signup registers an account. No session is established; the backend confirms by email.
// POST /auth/signup.
func (h *AuthHandlers) Signup(w http.ResponseWriter, r *http.Request) {
	var in signupInput
	if !decodeInput(w, r, &in, func(get func(string) string) {
		in = signupInput{
			Email:        get("email"),
			Password:     get("password"),
			FirstName:    get("first_name"),
			LastName:     get("last_name"),
			Phone:        get("phone"),
			BusinessName: get("business_name"),
		}
	}) {
		return
	}
	st, ok := h.ensure(w, r)
	if !ok {
		return
	}

	user, err := st.SignUp(r.Context(), service.SignUpRequest{
		Email:    in.Email,
		Password: in.Password,
		Metadata: signupMetadata(in),
	})
	if err != nil {
		h.logger().InfoContext(r.Context(), "sign-up failed",
			"session_id", st.ID(), "kind", domainauth.TranslateError(err))
		if isJSON(r) {
			WriteAuthError(w, err, "")
			return
		}
		status, msg := authFailure(err)
		h.Pages.SignupForm(w, r, status, in.Email, msg, "")
		return
	}

	if isJSON(r) {
		WriteJSON(w, http.StatusCreated, map[string]any{
			"user_id":               user.Account.ID,
			"email":                 user.Account.Email,
			"user_type":             user.Type,
			"roles":                 user.Roles.Strings(),
			"confirmation_required": true,
		})
		return
	}
	h.Pages.SignupForm(w, r, http.StatusCreated, user.Account.Email, "",
		"Check your inbox to confirm your email address, then sign in.")
}

func signupMetadata(in signupInput) map[string]any {
	meta := map[string]any{}
	for k, v := range map[string]string{
		"first_name":    in.FirstName,
		"last_name":     in.LastName,
		"phone":         in.Phone,
		"business_name": in.BusinessName,
	} {
		if v = strings.TrimSpace(v); v != "" {
			meta[k] = v
		}
	}
	return meta
}

// Logout ends the session and forgets the browser session id. Signing out twice is harmless.
// POST /auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if st, ok := StoreFromContext(r.Context()); ok {
		ctx, cancel := signOutDeadline(r.Context())
		defer cancel()
		if err := st.SignOut(ctx); err != nil {
			h.logger().WarnContext(r.Context(), "sign-out failed", "session_id", st.ID(), "error", err)
		}
		if h.Stores != nil {
			h.Stores.Remove(st.ID())
		}
	}
	h.Cookies.clearSession(w, r)

	if IsBrowserRequest(r) {
		Navigate(w, r, "/")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status reports the current authentication state. While the session is still loading the
// last committed type and roles are reported with cached set.
// GET /auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	body := statusOf(SnapshotFromContext(r.Context()))
	if st, ok := StoreFromContext(r.Context()); ok && body.Loading && !body.Authenticated {
		if sum, found := st.CachedSummary(r.Context()); found {
			body.Cached = true
			body.UserType = sum.UserType
			body.Roles = sum.UserRoles.Strings()
			body.IsDevUser = sum.IsDevUser
		}
	}
	WriteJSON(w, http.StatusOK, body)
}

// DevLogin commits a forged development session. It is only routed in builds with the
// development bypass compiled in, and still refuses addresses outside the reserved suffix.
// POST /auth/dev-login (JSON or form: email, user_type, roles, redirect_uri).
func (h *AuthHandlers) DevLogin(w http.ResponseWriter, r *http.Request) {
	if h.Dev == nil {
		http.NotFound(w, r)
		return
	}
	var in devLoginInput
	if !decodeInput(w, r, &in, func(get func(string) string) {
		in = devLoginInput{
			Email:       get("email"),
			UserType:    domainauth.CoarseType(get("user_type")),
			RedirectURI: get("redirect_uri"),
		}
		for _, raw := range r.PostForm["roles"] {
			in.Roles = append(in.Roles, domainauth.Role(raw))
		}
	}) {
		return
	}
	if !h.Dev.Eligible(in.Email) {
		http.NotFound(w, r)
		return
	}
	sess, err := h.Dev.Forge(in.Email, in.UserType, in.Roles)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	st, ok := h.begin(w, r)
	if !ok {
		return
	}
	if err := st.SetDevUser(r.Context(), sess); err != nil {
		h.abandon(st)
		if errors.Is(err, session.ErrClosed) {
			h.unavailable(w)
			return
		}
		WriteAppError(w, err)
		return
	}
	h.logger().WarnContext(r.Context(), "development identity signed in",
		"session_id", st.ID(), "user_id", sess.UserID, "user_type", sess.Type)

	h.promote(w, r, st)
	h.signedIn(w, r, st, guard.PostLoginTarget(in.RedirectURI, sess.Type))
}

var _ DevIdentities = (*service.DevIdentityService)(nil)

// signOutDeadline detaches sign-out from the request so a disconnecting client cannot
// leave a half-cleared session.
func signOutDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}
