package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
)

func testTable(t *testing.T) *Table {
	t.Helper()
	tbl := &Table{Routes: []Requirement{
		{Path: "/", Public: true},
		{Path: "/dashboard"},
		{Path: "/admin/finance", Roles: []domainauth.Role{domainauth.RoleFinance}, FallbackPath: "/admin"},
		{Path: "/admin/*", Roles: []domainauth.Role{domainauth.RoleAdmin}},
		{Path: "programmes/"},
	}}
	require.NoError(t, tbl.Normalize())
	return tbl
}

func TestTable_NormalizeDefaults(t *testing.T) {
	tbl := testTable(t)
	assert.Equal(t, "/login", tbl.LoginPath)
	assert.Equal(t, "/unauthorized", tbl.UnauthorizedPath)
	assert.Equal(t, "/admin", tbl.AdminPrefix)
	assert.Equal(t, domainauth.AdminRoles(), tbl.AdminRoles)

	r, ok := tbl.Match("/")
	require.True(t, ok)
	assert.Equal(t, LayoutPublic, r.Layout)

	r, ok = tbl.Match("/admin/users")
	require.True(t, ok)
	assert.Equal(t, LayoutAdmin, r.Layout)
	assert.Equal(t, "/unauthorized", r.Fallback())

	r, ok = tbl.Match("/programmes")
	require.True(t, ok)
	assert.Equal(t, LayoutDefault, r.Layout)
}

func TestTable_MatchPrefersExact(t *testing.T) {
	tbl := testTable(t)
	r, ok := tbl.Match("/admin/finance/")
	require.True(t, ok)
	assert.Equal(t, "/admin/finance", r.Path)
	assert.Equal(t, "/admin", r.Fallback())

	_, ok = tbl.Match("/nowhere")
	assert.False(t, ok)
}

func TestTable_InAdminNamespace(t *testing.T) {
	tbl := testTable(t)
	assert.True(t, tbl.InAdminNamespace("/admin"))
	assert.True(t, tbl.InAdminNamespace("/admin/users"))
	assert.False(t, tbl.InAdminNamespace("/administrators"))
	assert.False(t, tbl.InAdminNamespace("/dashboard"))
}

func TestTable_NormalizeRejectsBadEntries(t *testing.T) {
	tbl := &Table{Routes: []Requirement{
		{Path: "/a", Roles: []domainauth.Role{"wizard"}},
		{Path: "/a/"},
	}}
	err := tbl.Normalize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
	assert.Contains(t, err.Error(), "declared twice")
}
