package httpx

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/publicsuffix"

	"github.com/seda/bdportal"
	"github.com/seda/bdportal/config"
	"github.com/seda/bdportal/internal/authevents"
	"github.com/seda/bdportal/internal/guard"
	mockauth "github.com/seda/bdportal/internal/mocks/auth"
	"github.com/seda/bdportal/internal/observability/metrics"
	"github.com/seda/bdportal/internal/service"
	"github.com/seda/bdportal/internal/session"
)

// portal is a full router over in-memory adapters.
type portal struct {
	backend  *mockauth.MockIdentityBackend
	roles    *mockauth.StaticRoleRepository
	profiles *mockauth.MemoryProfileRepository
	records  *mockauth.MemorySessionRecordStore
	bus      *authevents.Bus
	auth     *service.AuthService
	registry *session.Registry
	guard    *guard.Guard
	pages    *Renderer
	server   *httptest.Server
}

func newGuard(t *testing.T) *guard.Guard {
	t.Helper()
	tbl, err := config.ParseRoutes(bdportal.RoutesYAML)
	require.NoError(t, err)
	return guard.New(tbl, nil)
}

func newPortal(t *testing.T, mutate ...func(*RouterServices)) *portal {
	t.Helper()
	p := &portal{
		backend:  mockauth.NewMockIdentityBackend(),
		roles:    &mockauth.StaticRoleRepository{},
		profiles: mockauth.NewMemoryProfileRepository(),
		records:  mockauth.NewMemorySessionRecordStore(),
		bus:      authevents.New(nil),
		guard:    newGuard(t),
	}
	m := metrics.New(prometheus.NewRegistry())
	p.auth = service.NewAuthService(service.AuthServiceOptions{
		Backend: p.backend,
		Repos:   service.AuthRepos{Roles: p.roles, Profiles: p.profiles},
		Config:  service.AuthServiceConfig{RoleFetchTimeout: 200 * time.Millisecond, Metrics: m},
	})
	p.registry = session.NewRegistry(session.RegistryOptions{
		Deps: session.Deps{
			Resolver: p.auth,
			Bus:      p.bus,
			Records:  p.records,
			Local:    mockauth.NewMemoryLocalStorage(),
		},
		Config:  session.RegistryConfig{Store: session.Config{SignOutWait: 500 * time.Millisecond}},
		Metrics: m,
	})
	t.Cleanup(p.registry.Close)

	pages, err := NewRenderer(RendererOptions{})
	require.NoError(t, err)
	p.pages = pages

	svc := RouterServices{
		Guard:     p.guard,
		Stores:    p.registry,
		Pages:     pages,
		ReadyWait: 2 * time.Second,
	}
	for _, fn := range mutate {
		fn(&svc)
	}
	p.server = httptest.NewServer(NewRouter(svc))
	t.Cleanup(p.server.Close)
	return p
}

// browser is a cookie-keeping client that does not follow redirects.
type browser struct {
	t      *testing.T
	base   *url.URL
	client *http.Client
}

func (p *portal) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	require.NoError(t, err)
	base, err := url.Parse(p.server.URL)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: base,
		client: &http.Client{
			Jar:           jar,
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

func (b *browser) cookie(name string) string {
	for _, c := range b.client.Jar.Cookies(b.base) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// csrf returns the CSRF token, visiting a public page first if none was issued yet.
func (b *browser) csrf() string {
	if tok := b.cookie(DefaultCSRFCookieName); tok != "" {
		return tok
	}
	b.get("/login", nil).Body.Close()
	tok := b.cookie(DefaultCSRFCookieName)
	require.NotEmpty(b.t, tok)
	return tok
}

func (b *browser) do(req *http.Request) *http.Response {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	return resp
}

func (b *browser) get(path string, header http.Header) *http.Response {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base.String()+path, nil)
	require.NoError(b.t, err)
	req.Header.Set("Accept", "text/html")
	for k, v := range header {
		req.Header[k] = v
	}
	return b.do(req)
}

func (b *browser) postForm(path string, form url.Values) *http.Response {
	b.t.Helper()
	form.Set(DefaultCSRFCookieName, b.csrf())
	req, err := http.NewRequest(http.MethodPost, b.base.String()+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/html")
	return b.do(req)
}

func (b *browser) sendJSON(method, path string, body any) *http.Response {
	b.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(b.t, err)
	req, err := http.NewRequest(method, b.base.String()+path, strings.NewReader(string(raw)))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DefaultCSRFHeaderName, b.csrf())
	return b.do(req)
}

func (b *browser) status() statusBody {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base.String()+"/auth/status", nil)
	require.NoError(b.t, err)
	req.Header.Set("Accept", "application/json")
	resp := b.do(req)
	defer resp.Body.Close()
	require.Equal(b.t, http.StatusOK, resp.StatusCode)
	var out statusBody
	require.NoError(b.t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func decodeJSONBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}
