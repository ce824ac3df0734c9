package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/seda/bdportal/internal/data"
	domainauth "github.com/seda/bdportal/internal/domain/auth"
)

// userRef identifies a user by id or email; exactly one is set after validation.
type userRef struct {
	UserID string
	Email  string
}

func (u userRef) validate(required bool) error {
	switch {
	case u.UserID != "" && u.Email != "":
		return errors.New("use either --user-id or --email, not both")
	case u.UserID == "" && u.Email == "":
		if required {
			return errors.New("--user-id or --email is required")
		}
		return nil
	case u.UserID != "":
		if err := uuid.Validate(u.UserID); err != nil {
			return fmt.Errorf("--user-id: %w", err)
		}
	}
	return nil
}

func (u userRef) String() string {
	if u.Email != "" {
		return u.Email
	}
	return u.UserID
}

type roleOptions struct {
	User userRef
	Role domainauth.Role
}

func parseRoleFlags(name string, args []string) (roleOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts roleOptions
	var role string
	fs.StringVar(&opts.User.UserID, "user-id", "", "User id (uuid)")
	fs.StringVar(&opts.User.Email, "email", "", "User email address")
	fs.StringVar(&role, "role", "", "Role name; see `portal-admin roles`")
	if err := fs.Parse(args); err != nil {
		return roleOptions{}, err
	}
	opts.User.Email = strings.ToLower(strings.TrimSpace(opts.User.Email))
	if err := opts.User.validate(true); err != nil {
		return roleOptions{}, err
	}
	r, ok := domainauth.ParseRole(role)
	if !ok {
		return roleOptions{}, fmt.Errorf("--role: unknown role %q", role)
	}
	opts.Role = r
	return opts, nil
}

type listRolesOptions struct {
	User userRef
	Role domainauth.Role
}

func parseListRolesFlags(args []string) (listRolesOptions, error) {
	fs := flag.NewFlagSet("list-roles", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts listRolesOptions
	var role string
	fs.StringVar(&opts.User.UserID, "user-id", "", "Only grants for this user id")
	fs.StringVar(&opts.User.Email, "email", "", "Only grants for this email address")
	fs.StringVar(&role, "role", "", "Only grants of this role")
	if err := fs.Parse(args); err != nil {
		return listRolesOptions{}, err
	}
	opts.User.Email = strings.ToLower(strings.TrimSpace(opts.User.Email))
	if err := opts.User.validate(false); err != nil {
		return listRolesOptions{}, err
	}
	if role != "" {
		r, ok := domainauth.ParseRole(role)
		if !ok {
			return listRolesOptions{}, fmt.Errorf("--role: unknown role %q", role)
		}
		opts.Role = r
	}
	return opts, nil
}

// resolveUserID maps ref to a user id, looking the email up in profiles.
func resolveUserID(ctx context.Context, profiles *data.ProfileRepo, ref userRef) (string, error) {
	if ref.UserID != "" {
		return ref.UserID, nil
	}
	p, err := profiles.GetByEmail(ctx, ref.Email)
	if err != nil {
		return "", fmt.Errorf("look up %s: %w", ref.Email, err)
	}
	return p.ID, nil
}

func runGrantRole(cmdCtx *commandContext, args []string) error {
	return changeRole(cmdCtx, "grant-role", args, func(ctx context.Context, repo *data.RoleRepo, id string, r domainauth.Role) error {
		return repo.Grant(ctx, id, r)
	})
}

func runRevokeRole(cmdCtx *commandContext, args []string) error {
	return changeRole(cmdCtx, "revoke-role", args, func(ctx context.Context, repo *data.RoleRepo, id string, r domainauth.Role) error {
		return repo.Revoke(ctx, id, r)
	})
}

// changeRole applies a grant or revoke and then announces USER_UPDATED so live sessions
// repopulate their roles. Announcing is best effort: without Redis the change applies on the
// user's next sign-in.
func changeRole(
	cmdCtx *commandContext,
	name string,
	args []string,
	apply func(context.Context, *data.RoleRepo, string, domainauth.Role) error,
) error {
	opts, err := parseRoleFlags(name, args)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	return withDatabase(cmdCtx, func(db *sql.DB) error {
		userID, err := resolveUserID(ctx, data.NewProfileRepo(db), opts.User)
		if err != nil {
			return err
		}
		if err := apply(ctx, data.NewRoleRepo(db), userID, opts.Role); err != nil {
			return err
		}
		cmdCtx.Logger.Info(name+" complete", "user_id", userID, "role", opts.Role)

		if err := announce(ctx, cmdCtx, domainauth.Event{Kind: domainauth.EventUserUpdated, UserID: userID}); err != nil {
			cmdCtx.Logger.Warn("live sessions not notified; change applies on next sign-in", "error", err)
		}
		return nil
	})
}

func runListRoles(cmdCtx *commandContext, args []string) error {
	opts, err := parseListRolesFlags(args)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	return withDatabase(cmdCtx, func(db *sql.DB) error {
		rows, err := data.NewRoleRepo(db).ListAssignments(ctx, opts.Role)
		if err != nil {
			return err
		}
		if opts.User.UserID != "" || opts.User.Email != "" {
			rows = filterAssignments(rows, opts.User)
		}
		return printAssignments(cmdCtx.Out, rows)
	})
}

func filterAssignments(rows []data.RoleAssignment, ref userRef) []data.RoleAssignment {
	out := rows[:0]
	for _, a := range rows {
		if (ref.UserID != "" && a.UserID == ref.UserID) || (ref.Email != "" && a.Email == ref.Email) {
			out = append(out, a)
		}
	}
	return out
}

func printAssignments(w io.Writer, rows []data.RoleAssignment) error {
	if len(rows) == 0 {
		return writeTo(w, "(no role grants)\n")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "EMAIL\tROLE\tUSER ID\tGRANTED\n"); err != nil {
		return err
	}
	for _, a := range rows {
		if err := writef(tw, "%s\t%s\t%s\t%s\n", a.Email, a.Role, a.UserID, a.GrantedAt.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func runPrintRoles(cmdCtx *commandContext, _ []string) error {
	for _, r := range domainauth.AllRoles() {
		admin := ""
		if slices.Contains(domainauth.AdminRoles(), r) {
			admin = " (admin portal)"
		}
		if err := writef(cmdCtx.Out, "%s%s\n", r, admin); err != nil {
			return err
		}
	}
	return nil
}
