// Package route describes the declarative authorization table for portal pages.
package route

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
)

// Layout selects the chrome a page is rendered in.
type Layout string

const (
	LayoutPublic  Layout = "public"
	LayoutDefault Layout = "default"
	LayoutAdmin   Layout = "admin"
)

// DefaultUnauthorizedPath is where insufficiently privileged users land.
const DefaultUnauthorizedPath = "/unauthorized"

// DefaultLoginPath is where unauthenticated users are sent.
const DefaultLoginPath = "/login"

// Requirement is the authorization declaration for one path.
type Requirement struct {
	Path         string            `yaml:"path"`
	Title        string            `yaml:"title,omitempty"`
	Roles        []domainauth.Role `yaml:"roles,omitempty"`
	Layout       Layout            `yaml:"layout,omitempty"`
	Public       bool              `yaml:"public,omitempty"`
	Lazy         bool              `yaml:"lazy,omitempty"`
	FallbackPath string            `yaml:"fallback,omitempty"`
}

// Fallback returns the redirect target when roles are not satisfied.
func (r Requirement) Fallback() string {
	if r.FallbackPath != "" {
		return r.FallbackPath
	}
	return DefaultUnauthorizedPath
}

// Table is the single source of truth for route authorization.
type Table struct {
	LoginPath        string            `yaml:"login_path,omitempty"`
	UnauthorizedPath string            `yaml:"unauthorized_path,omitempty"`
	AdminPrefix      string            `yaml:"admin_prefix,omitempty"`
	AdminRoles       []domainauth.Role `yaml:"admin_roles,omitempty"`
	Routes           []Requirement     `yaml:"routes"`

	byPath map[string]int
}

// Normalize fills defaults, validates entries and indexes the table.
func (t *Table) Normalize() error {
	if t.LoginPath == "" {
		t.LoginPath = DefaultLoginPath
	}
	if t.UnauthorizedPath == "" {
		t.UnauthorizedPath = DefaultUnauthorizedPath
	}
	if t.AdminPrefix == "" {
		t.AdminPrefix = "/admin"
	}
	t.AdminPrefix = "/" + strings.Trim(t.AdminPrefix, "/")
	if len(t.AdminRoles) == 0 {
		t.AdminRoles = domainauth.AdminRoles()
	}

	var errs []error
	t.byPath = make(map[string]int, len(t.Routes))
	for i := range t.Routes {
		r := &t.Routes[i]
		r.Path = cleanPath(r.Path)
		for _, role := range r.Roles {
			if _, ok := domainauth.ParseRole(string(role)); !ok {
				errs = append(errs, fmt.Errorf("route %s: unknown role %q", r.Path, role))
			}
		}
		if r.Layout == "" {
			switch {
			case r.Public:
				r.Layout = LayoutPublic
			case t.InAdminNamespace(r.Path):
				r.Layout = LayoutAdmin
			default:
				r.Layout = LayoutDefault
			}
		}
		if r.FallbackPath == "" {
			r.FallbackPath = t.UnauthorizedPath
		}
		if _, dup := t.byPath[r.Path]; dup {
			errs = append(errs, fmt.Errorf("route %s declared twice", r.Path))
			continue
		}
		t.byPath[r.Path] = i
	}
	for _, role := range t.AdminRoles {
		if _, ok := domainauth.ParseRole(string(role)); !ok {
			errs = append(errs, fmt.Errorf("admin_roles: unknown role %q", role))
		}
	}
	return errors.Join(errs...)
}

// InAdminNamespace reports whether p falls under the admin prefix.
func (t *Table) InAdminNamespace(p string) bool {
	p = cleanPath(p)
	return p == t.AdminPrefix || strings.HasPrefix(p, t.AdminPrefix+"/")
}

// Match finds the requirement declared for p. Exact matches win; otherwise the
// longest declared ancestor whose pattern ends in "/*" applies.
func (t *Table) Match(p string) (Requirement, bool) {
	p = cleanPath(p)
	if i, ok := t.byPath[p]; ok {
		return t.Routes[i], true
	}
	best := -1
	bestLen := -1
	for i, r := range t.Routes {
		prefix, ok := strings.CutSuffix(r.Path, "/*")
		if !ok {
			continue
		}
		if (p == prefix || strings.HasPrefix(p, prefix+"/")) && len(prefix) > bestLen {
			best, bestLen = i, len(prefix)
		}
	}
	if best < 0 {
		return Requirement{}, false
	}
	return t.Routes[best], true
}

// Paths returns every declared path, sorted.
func (t *Table) Paths() []string {
	out := make([]string, 0, len(t.Routes))
	for _, r := range t.Routes {
		out = append(out, r.Path)
	}
	sort.Strings(out)
	return out
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	wild := strings.HasSuffix(p, "/*")
	if wild {
		p = strings.TrimSuffix(p, "/*")
	}
	p = path.Clean("/" + p)
	if wild {
		if p == "/" {
			return "/*"
		}
		return p + "/*"
	}
	return p
}
