package guard

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seda/bdportal"
	"github.com/seda/bdportal/config"
	domainauth "github.com/seda/bdportal/internal/domain/auth"
	"github.com/seda/bdportal/internal/domain/route"
	"github.com/seda/bdportal/internal/observability/metrics"
	"github.com/seda/bdportal/internal/session"
)

func newGuard(t *testing.T) (*Guard, *metrics.Auth) {
	t.Helper()
	tbl, err := config.ParseRoutes(bdportal.RoutesYAML)
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	return New(tbl, m), m
}

func signedIn(t domainauth.CoarseType, roles ...domainauth.Role) session.Snapshot {
	return session.NewSnapshot(false, &domainauth.Session{
		UserID: "u1",
		Email:  "u@example.com",
		Type:   t,
		Roles:  roles,
	})
}

var (
	loading   = session.NewSnapshot(true, nil)
	signedOut = session.NewSnapshot(false, nil)
)

func TestGuard_Evaluate(t *testing.T) {
	g, _ := newGuard(t)

	tests := []struct {
		name     string
		who      Principal
		target   string
		state    State
		outcome  Outcome
		location string
	}{
		{"public page while loading", loading, "/programmes", StateOK, OutcomeRender, ""},
		{"public page signed out", signedOut, "/login", StateOK, OutcomeRender, ""},
		{"loading holds", loading, "/dashboard", StateLoading, OutcomeLoading, ""},
		{"nil principal", nil, "/profile", StateUnauthenticated, OutcomeRedirectLogin, "/login?redirect_uri=%2Fprofile"},
		{"signed out", signedOut, "/dashboard", StateUnauthenticated, OutcomeRedirectLogin, "/login?redirect_uri=%2Fdashboard"},
		{"participant dashboard", signedIn(domainauth.TypeParticipant), "/dashboard", StateOK, OutcomeRender, ""},
		{"any signed-in user", signedIn(domainauth.TypeParticipant, domainauth.RoleParticipant), "/profile", StateOK, OutcomeRender, ""},
		{
			"participant into admin namespace",
			signedIn(domainauth.TypeParticipant, domainauth.RoleParticipant),
			"/admin", StateInsufficient, OutcomeRedirectUnauthorized, "/unauthorized",
		},
		{
			"participant into undeclared admin page",
			signedIn(domainauth.TypeParticipant),
			"/admin/reports/2026", StateInsufficient, OutcomeRedirectUnauthorized, "/unauthorized",
		},
		{"admin type with stale roles", signedIn(domainauth.TypeAdmin), "/admin/registrations", StateOK, OutcomeRender, ""},
		{"admin type covers super_admin route", signedIn(domainauth.TypeAdmin), "/admin/users", StateOK, OutcomeRender, ""},
		{
			"finance role enters admin namespace",
			signedIn(domainauth.TypeParticipant, domainauth.RoleFinance),
			"/admin/finance", StateOK, OutcomeRender, "",
		},
		{
			"finance role lacks users page, falls back",
			signedIn(domainauth.TypeParticipant, domainauth.RoleFinance),
			"/admin/users", StateInsufficient, OutcomeRedirectUnauthorized, "/admin",
		},
		{
			"participant type covers participant page",
			signedIn(domainauth.TypeParticipant, domainauth.RoleProgramManager),
			"/applications", StateOK, OutcomeRender, "",
		},
		{
			"admin type on participant page",
			signedIn(domainauth.TypeAdmin, domainauth.RoleAdmin),
			"/dashboard", StateInsufficient, OutcomeRedirectUnauthorized, "/unauthorized",
		},
		{
			"admin holding participant role",
			signedIn(domainauth.TypeAdmin, domainauth.RoleAdmin, domainauth.RoleParticipant),
			"/dashboard", StateOK, OutcomeRender, "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, ok := g.EvaluatePath(tt.who, tt.target)
			require.True(t, ok)
			assert.Equal(t, tt.state, d.State)
			assert.Equal(t, tt.outcome, d.Outcome)
			assert.Equal(t, tt.location, d.Location)
		})
	}
}

// Unauthenticated admin-namespace request, then sign in as admin and return to it.
func TestGuard_LoginRoundTrip(t *testing.T) {
	g, m := newGuard(t)

	d, _, ok := g.EvaluatePath(signedOut, "/admin/registrations?status=pending")
	require.True(t, ok)
	require.Equal(t, OutcomeRedirectLogin, d.Outcome)

	loc, err := url.Parse(d.Location)
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)
	back := loc.Query().Get(RedirectParam)
	assert.Equal(t, "/admin/registrations?status=pending", back)

	admin := signedIn(domainauth.TypeAdmin)
	next := PostLoginTarget(back, admin.CoarseType())
	assert.Equal(t, "/admin/registrations?status=pending", next)

	d, _, ok = g.EvaluatePath(admin, next)
	require.True(t, ok)
	assert.Equal(t, OutcomeRender, d.Outcome)

	assert.InDelta(t, 1, testutil.ToFloat64(m.GuardDecisions.WithLabelValues(string(StateUnauthenticated))), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.GuardDecisions.WithLabelValues(string(StateOK))), 0)
}

// Every principal and requirement combination yields exactly one outcome with a
// consistent state and location.
func TestGuard_Totality(t *testing.T) {
	g, _ := newGuard(t)

	var principals []Principal
	principals = append(principals, nil, loading, signedOut)
	for _, ct := range []domainauth.CoarseType{domainauth.TypeAdmin, domainauth.TypeParticipant, ""} {
		principals = append(principals, signedIn(ct))
		for _, r := range domainauth.AllRoles() {
			principals = append(principals, signedIn(ct, r))
		}
	}

	var reqs []route.Requirement
	reqs = append(reqs, g.Table().Routes...)
	for _, r := range domainauth.AllRoles() {
		reqs = append(reqs,
			route.Requirement{Path: "/x", Roles: []domainauth.Role{r}},
			route.Requirement{Path: "/admin/x", Roles: []domainauth.Role{r}, FallbackPath: "/admin"},
		)
	}
	reqs = append(reqs, route.Requirement{Path: "/open"}, route.Requirement{Path: "/admin/open"})

	for i, p := range principals {
		for _, req := range reqs {
			t.Run(fmt.Sprintf("%d%s", i, req.Path), func(t *testing.T) {
				d := g.Evaluate(p, req.Path, req)
				switch d.Outcome {
				case OutcomeRender:
					assert.Equal(t, StateOK, d.State)
					assert.Empty(t, d.Location)
				case OutcomeLoading:
					assert.Equal(t, StateLoading, d.State)
					assert.Empty(t, d.Location)
				case OutcomeRedirectLogin:
					assert.Equal(t, StateUnauthenticated, d.State)
					assert.NotEmpty(t, d.Location)
				case OutcomeRedirectUnauthorized:
					assert.Equal(t, StateInsufficient, d.State)
					assert.NotEmpty(t, d.Location)
				default:
					t.Fatalf("no outcome for %+v", d)
				}
			})
		}
	}
}

func TestGuard_EvaluatePathUndeclared(t *testing.T) {
	g, _ := newGuard(t)
	_, _, ok := g.EvaluatePath(signedOut, "/nowhere")
	assert.False(t, ok)
}

func TestPostLoginTarget(t *testing.T) {
	tests := []struct {
		requested string
		typ       domainauth.CoarseType
		want      string
	}{
		{"/admin/users", domainauth.TypeAdmin, "/admin/users"},
		{"", domainauth.TypeAdmin, "/admin"},
		{"", domainauth.TypeParticipant, "/dashboard"},
		{"https://evil.example.com/", domainauth.TypeParticipant, "/dashboard"},
		{"//evil.example.com", domainauth.TypeParticipant, "/dashboard"},
		{"/\\evil.example.com", domainauth.TypeParticipant, "/dashboard"},
		{"relative/path", domainauth.TypeAdmin, "/admin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PostLoginTarget(tt.requested, tt.typ), tt.requested)
	}
}

func TestLoginLocation(t *testing.T) {
	assert.Equal(t, "/login", LoginLocation("/login", "/"))
	assert.Equal(t, "/login", LoginLocation("/login", ""))
	assert.Equal(t, "/login?redirect_uri=%2Fprofile%3Ftab%3D1", LoginLocation("/login", "/profile?tab=1"))
}
