package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seda/bdportal/config"
	"github.com/seda/bdportal/internal/data"
	domainauth "github.com/seda/bdportal/internal/domain/auth"
)

func testContext(in string) (*commandContext, *bytes.Buffer) {
	var out bytes.Buffer
	return &commandContext{
		Ctx:    context.Background(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		In:     strings.NewReader(in),
		Out:    &out,
	}, &out
}

func TestPrintUsageListsCommandsSorted(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printUsage(&buf))

	out := buf.String()
	prev := -1
	for _, name := range []string{"grant-role", "list-roles", "migrate", "revoke-role", "roles", "sign-out-user"} {
		idx := strings.Index(out, "  "+name)
		require.NotEqual(t, -1, idx, "missing %s", name)
		assert.Greater(t, idx, prev, "%s out of order", name)
		prev = idx
	}
}

func TestParseMigrateFlags(t *testing.T) {
	opts, err := parseMigrateFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultMigrationTimeout, opts.Timeout)
	assert.False(t, opts.DryRun)

	opts, err = parseMigrateFlags([]string{"--timeout", "90s", "--dry-run"})
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, opts.Timeout)
	assert.True(t, opts.DryRun)

	_, err = parseMigrateFlags([]string{"--timeout", "0s"})
	require.ErrorContains(t, err, "greater than zero")
}

func TestParseRoleFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    roleOptions
		wantErr string
	}{
		{
			name: "email is normalised",
			args: []string{"--email", "  Ann@SEDA.org.za ", "--role", "finance"},
			want: roleOptions{User: userRef{Email: "ann@seda.org.za"}, Role: domainauth.RoleFinance},
		},
		{
			name: "user id",
			args: []string{"--user-id", "5f0c6a52-8a4e-4d7b-9b0c-2f7d9f1d3a11", "--role", "super_admin"},
			want: roleOptions{User: userRef{UserID: "5f0c6a52-8a4e-4d7b-9b0c-2f7d9f1d3a11"}, Role: domainauth.RoleSuperAdmin},
		},
		{name: "no user", args: []string{"--role", "admin"}, wantErr: "is required"},
		{name: "both", args: []string{"--email", "a@b.c", "--user-id", "x", "--role", "admin"}, wantErr: "not both"},
		{name: "bad uuid", args: []string{"--user-id", "nope", "--role", "admin"}, wantErr: "--user-id"},
		{name: "unknown role", args: []string{"--email", "a@b.c", "--role", "owner"}, wantErr: "unknown role"},
		{name: "missing role", args: []string{"--email", "a@b.c"}, wantErr: "unknown role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRoleFlags("grant-role", tt.args)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseListRolesFlags(t *testing.T) {
	opts, err := parseListRolesFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, listRolesOptions{}, opts)

	opts, err = parseListRolesFlags([]string{"--role", "program_manager", "--email", "X@Y.z"})
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleProgramManager, opts.Role)
	assert.Equal(t, "x@y.z", opts.User.Email)

	_, err = parseListRolesFlags([]string{"--role", "root"})
	require.ErrorContains(t, err, "unknown role")
}

func TestParseSignOutFlags(t *testing.T) {
	opts, err := parseSignOutFlags([]string{"--session", " s-1 "})
	require.NoError(t, err)
	assert.Equal(t, "s-1", opts.SessionID)

	opts, err = parseSignOutFlags([]string{"--email", "Bob@seda.org.za", "--yes"})
	require.NoError(t, err)
	assert.Equal(t, "bob@seda.org.za", opts.User.Email)
	assert.True(t, opts.Yes)

	_, err = parseSignOutFlags([]string{"--session", "s-1", "--email", "a@b.c"})
	require.ErrorContains(t, err, "not both")

	_, err = parseSignOutFlags(nil)
	require.ErrorContains(t, err, "--session")
}

func TestRunSignOutUser_RequiresRedis(t *testing.T) {
	cmdCtx, _ := testContext("")
	cmdCtx.Config = config.AppConfig{Redis: config.RedisConfig{}}

	err := runSignOutUser(cmdCtx, []string{"--session", "s-1", "--yes"})
	require.ErrorContains(t, err, "requires redis")
}

func TestRunSignOutUser_Aborted(t *testing.T) {
	cmdCtx, out := testContext("n\n")
	cmdCtx.Config = config.AppConfig{Redis: config.RedisConfig{URI: "localhost:6379"}}

	require.NoError(t, runSignOutUser(cmdCtx, []string{"--session", "s-1"}))
	assert.Contains(t, out.String(), "Sign out s-1 on every portal instance? [y/N]")
	assert.Contains(t, out.String(), "Aborted.")
}

func TestConfirmAction(t *testing.T) {
	for in, want := range map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "": false, "maybe\n": false} {
		cmdCtx, _ := testContext(in)
		assert.Equal(t, want, confirmAction(cmdCtx, "ok?"), "input %q", in)
	}
}

func TestRunPrintRoles(t *testing.T) {
	cmdCtx, out := testContext("")
	require.NoError(t, runPrintRoles(cmdCtx, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, len(domainauth.AllRoles()))
	assert.Equal(t, "participant", lines[0])
	assert.Equal(t, "admin (admin portal)", lines[1])
	assert.Contains(t, lines, "finance (admin portal)")
}

func TestPrintAssignments(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printAssignments(&buf, nil))
	assert.Equal(t, "(no role grants)\n", buf.String())

	buf.Reset()
	granted := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	rows := []data.RoleAssignment{
		{UserID: "u-1", Email: "ann@seda.org.za", Role: domainauth.RoleFinance, GrantedAt: granted},
		{UserID: "u-2", Email: "bob@seda.org.za", Role: domainauth.RoleAdmin, GrantedAt: granted},
	}
	require.NoError(t, printAssignments(&buf, rows))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "EMAIL"))
	assert.Contains(t, out, "ann@seda.org.za  finance  u-1      2026-03-01T09:30:00Z")
}

func TestFilterAssignments(t *testing.T) {
	rows := []data.RoleAssignment{
		{UserID: "u-1", Email: "ann@seda.org.za", Role: domainauth.RoleFinance},
		{UserID: "u-2", Email: "bob@seda.org.za", Role: domainauth.RoleAdmin},
		{UserID: "u-1", Email: "ann@seda.org.za", Role: domainauth.RoleAdmin},
	}
	got := filterAssignments(append([]data.RoleAssignment(nil), rows...), userRef{Email: "ann@seda.org.za"})
	require.Len(t, got, 2)
	for _, a := range got {
		assert.Equal(t, "u-1", a.UserID)
	}
	assert.Len(t, filterAssignments(append([]data.RoleAssignment(nil), rows...), userRef{UserID: "u-2"}), 1)
}
