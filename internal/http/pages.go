package httpx

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	"github.com/seda/bdportal/internal/domain/route"
	"github.com/seda/bdportal/internal/guard"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Page names understood by the layout.
const (
	pageGeneric  = "page"
	pageLogin    = "login"
	pageSignup   = "signup"
	pageLoading  = "loading"
	pageNotFound = "notfound"
)

// UserView is the part of a session pages may show.
type UserView struct {
	Email string
	Type  domainauth.CoarseType
	Roles []string
	IsDev bool
}

// PageData is the data passed to the layout template.
type PageData struct {
	Page        string
	Title       string
	Layout      route.Layout
	Path        string
	Lazy        bool
	User        *UserView
	CSRFToken   string
	RedirectURI string
	AdminPortal bool
	DevLogin    bool
	Email       string
	Error       string
	Notice      string
	RetryAfter  int
}

// Renderer renders placeholder pages for declared routes.
type Renderer struct {
	t        *template.Template
	devLogin bool
	logger   *slog.Logger
}

// RendererOptions groups parameters for NewRenderer.
type RendererOptions struct {
	// DevLogin shows the development sign-in form on the login page.
	DevLogin bool
	Logger   *slog.Logger
}

// NewRenderer parses the embedded templates.
func NewRenderer(opts RendererOptions) (*Renderer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t, err := template.New("root").ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		logger.Error("template parsing failed", slog.Any("error", err))
		return nil, err
	}
	return &Renderer{t: t, devLogin: opts.DevLogin, logger: logger}, nil
}

func (p *Renderer) base(r *http.Request, page, title string) PageData {
	d := PageData{
		Page:      page,
		Title:     title,
		Layout:    route.LayoutPublic,
		Path:      r.URL.Path,
		CSRFToken: GetCSRFToken(r),
		DevLogin:  p.devLogin,
	}
	if sess := SnapshotFromContext(r.Context()).Session(); sess != nil {
		d.User = &UserView{Email: sess.Email, Type: sess.Type, Roles: sess.Roles.Strings(), IsDev: sess.IsDev}
	}
	return d
}

// Page renders the placeholder for a declared route.
func (p *Renderer) Page(w http.ResponseWriter, r *http.Request, req route.Requirement) {
	d := p.base(r, pageGeneric, req.Title)
	d.Layout = req.Layout
	d.Lazy = req.Lazy
	switch r.URL.Path {
	case "/login":
		d.Page = pageLogin
		d.RedirectURI = r.URL.Query().Get(guard.RedirectParam)
		d.AdminPortal = r.URL.Query().Get("portal") == portalAdmin
	case "/signup":
		d.Page = pageSignup
	}
	p.render(w, http.StatusOK, d)
}

// Loading renders the self-refreshing placeholder served while a session bootstraps.
func (p *Renderer) Loading(w http.ResponseWriter, r *http.Request, req route.Requirement) {
	d := p.base(r, pageLoading, req.Title)
	d.Layout = req.Layout
	d.RetryAfter = loadingRetryAfter
	w.Header().Set("Cache-Control", "no-store")
	p.render(w, http.StatusOK, d)
}

// NotFound renders the 404 page.
func (p *Renderer) NotFound(w http.ResponseWriter, r *http.Request) {
	p.render(w, http.StatusNotFound, p.base(r, pageNotFound, "Not found"))
}

// LoginForm re-renders the login page after a failed attempt.
func (p *Renderer) LoginForm(w http.ResponseWriter, r *http.Request, status int, in loginInput, msg string) {
	d := p.base(r, pageLogin, "Sign in")
	d.Email = in.Email
	d.RedirectURI = in.RedirectURI
	d.AdminPortal = in.Portal == portalAdmin
	d.Error = msg
	p.render(w, status, d)
}

// SignupForm re-renders the registration page with an error or a notice.
func (p *Renderer) SignupForm(w http.ResponseWriter, r *http.Request, status int, email, errMsg, notice string) {
	d := p.base(r, pageSignup, "Register")
	d.Email = email
	d.Error = errMsg
	d.Notice = notice
	p.render(w, status, d)
}

// render executes into a buffer first so a template failure never leaves a half-written page.
func (p *Renderer) render(w http.ResponseWriter, status int, data PageData) {
	var buf bytes.Buffer
	if err := p.t.ExecuteTemplate(&buf, "layout", data); err != nil {
		p.logger.Error("template execution failed",
			slog.String("page", data.Page),
			slog.Any("error", err),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		p.logger.Debug("failed to write rendered page", slog.Any("error", err))
	}
}
