// Package guard decides, per navigation, whether a page renders, waits or redirects.
package guard

import (
	"net/url"
	"strings"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	"github.com/seda/bdportal/internal/domain/route"
	"github.com/seda/bdportal/internal/observability/metrics"
)

// State is the guard state reached for one evaluation.
type State string

const (
	StateLoading         State = "LOADING"
	StateUnauthenticated State = "UNAUTHENTICATED"
	StateInsufficient    State = "AUTHENTICATED_INSUFFICIENT"
	StateOK              State = "AUTHENTICATED_OK"
)

// Outcome is what the caller must do with a decision.
type Outcome string

const (
	OutcomeLoading              Outcome = "loading"
	OutcomeRedirectLogin        Outcome = "redirect_login"
	OutcomeRedirectUnauthorized Outcome = "redirect_unauthorized"
	OutcomeRender               Outcome = "render"
)

// RedirectParam carries the originally requested path through the login page.
const RedirectParam = "redirect_uri"

// Principal is the session state the guard reads.
type Principal interface {
	Loading() bool
	IsAuthenticated() bool
	CoarseType() domainauth.CoarseType
	Roles() domainauth.RoleSet
}

// Decision is the result of one evaluation. Location is set for redirects.
type Decision struct {
	State    State
	Outcome  Outcome
	Location string
}

// Guard evaluates navigations against the route table.
type Guard struct {
	table   *route.Table
	metrics *metrics.Auth
}

// New returns a Guard over a normalised table.
func New(table *route.Table, m *metrics.Auth) *Guard {
	if table == nil {
		panic("guard: route table is required")
	}
	return &Guard{table: table, metrics: m}
}

// Table returns the route table the guard evaluates against.
func (g *Guard) Table() *route.Table { return g.table }

// Evaluate decides the navigation to target (path plus optional query) under req.
// It is pure apart from metrics and always yields exactly one outcome.
func (g *Guard) Evaluate(p Principal, target string, req route.Requirement) Decision {
	d := g.decide(p, target, req)
	g.metrics.ObserveGuard(string(d.State))
	return d
}

func (g *Guard) decide(p Principal, target string, req route.Requirement) Decision {
	if req.Public {
		return Decision{State: StateOK, Outcome: OutcomeRender}
	}
	if p != nil && p.Loading() {
		return Decision{State: StateLoading, Outcome: OutcomeLoading}
	}
	if p == nil || !p.IsAuthenticated() {
		return Decision{
			State:    StateUnauthenticated,
			Outcome:  OutcomeRedirectLogin,
			Location: LoginLocation(g.table.LoginPath, target),
		}
	}

	t, roles := p.CoarseType(), p.Roles()
	if g.table.InAdminNamespace(pathOf(target)) && !domainauth.CanEnterAdmin(t, roles, g.table.AdminRoles...) {
		return Decision{
			State:    StateInsufficient,
			Outcome:  OutcomeRedirectUnauthorized,
			Location: g.table.UnauthorizedPath,
		}
	}
	if !domainauth.Satisfies(t, roles, req.Roles) {
		return Decision{
			State:    StateInsufficient,
			Outcome:  OutcomeRedirectUnauthorized,
			Location: req.Fallback(),
		}
	}
	return Decision{State: StateOK, Outcome: OutcomeRender}
}

// EvaluatePath matches target in the table and evaluates it. Undeclared paths report false.
func (g *Guard) EvaluatePath(p Principal, target string) (Decision, route.Requirement, bool) {
	req, ok := g.table.Match(pathOf(target))
	if !ok {
		return Decision{}, route.Requirement{}, false
	}
	return g.Evaluate(p, target, req), req, true
}

// LoginLocation builds the login redirect carrying target for the post-login return.
func LoginLocation(loginPath, target string) string {
	if target == "" || target == "/" {
		return loginPath
	}
	return loginPath + "?" + url.Values{RedirectParam: {target}}.Encode()
}

// PostLoginTarget returns where to send a freshly signed-in user: the requested local path
// when it is safe, otherwise the landing page for their coarse type.
func PostLoginTarget(requested string, t domainauth.CoarseType) string {
	if SafeLocalPath(requested) {
		return requested
	}
	return Landing(t)
}

// Landing is the default page for a coarse type.
func Landing(t domainauth.CoarseType) string {
	if t == domainauth.TypeAdmin {
		return "/admin"
	}
	return "/dashboard"
}

// SafeLocalPath reports whether target is a same-origin absolute path.
func SafeLocalPath(target string) bool {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return false
	}
	if strings.ContainsAny(target, "\\\r\n") {
		return false
	}
	u, err := url.Parse(target)
	return err == nil && u.Scheme == "" && u.Host == ""
}

func pathOf(target string) string {
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		return target[:i]
	}
	return target
}
