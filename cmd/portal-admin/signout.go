package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/seda/bdportal/internal/data"
	domainauth "github.com/seda/bdportal/internal/domain/auth"
)

type signOutOptions struct {
	User      userRef
	SessionID string
	Yes       bool
}

func parseSignOutFlags(args []string) (signOutOptions, error) {
	fs := flag.NewFlagSet("sign-out-user", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts signOutOptions
	fs.StringVar(&opts.User.UserID, "user-id", "", "Sign out every session of this user id")
	fs.StringVar(&opts.User.Email, "email", "", "Sign out every session of this email address")
	fs.StringVar(&opts.SessionID, "session", "", "Sign out a single portal session id")
	fs.BoolVar(&opts.Yes, "yes", false, "Do not prompt for confirmation")
	if err := fs.Parse(args); err != nil {
		return signOutOptions{}, err
	}
	opts.User.Email = strings.ToLower(strings.TrimSpace(opts.User.Email))
	opts.SessionID = strings.TrimSpace(opts.SessionID)

	hasUser := opts.User.UserID != "" || opts.User.Email != ""
	switch {
	case hasUser && opts.SessionID != "":
		return signOutOptions{}, errors.New("use either a user (--user-id/--email) or --session, not both")
	case opts.SessionID != "":
		return opts, nil
	}
	if err := opts.User.validate(true); err != nil {
		return signOutOptions{}, fmt.Errorf("%w (or --session)", err)
	}
	return opts, nil
}

func runSignOutUser(cmdCtx *commandContext, args []string) error {
	opts, err := parseSignOutFlags(args)
	if err != nil {
		return err
	}
	if !cmdCtx.Config.Redis.Configured() {
		return errors.New("sign-out-user requires redis to reach running portal instances")
	}

	target := opts.SessionID
	if target == "" {
		target = opts.User.String()
	}
	if !opts.Yes && !confirmAction(cmdCtx, fmt.Sprintf("Sign out %s on every portal instance?", target)) {
		return writeTo(cmdCtx.Out, "Aborted.\n")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	ev := domainauth.Event{Kind: domainauth.EventSignedOut, SessionID: opts.SessionID}
	if opts.SessionID == "" {
		ev.UserID = opts.User.UserID
		if ev.UserID == "" {
			lookupErr := withDatabase(cmdCtx, func(db *sql.DB) error {
				id, err := resolveUserID(ctx, data.NewProfileRepo(db), opts.User)
				ev.UserID = id
				return err
			})
			if lookupErr != nil {
				return lookupErr
			}
		}
	}

	if err := announce(ctx, cmdCtx, ev); err != nil {
		return fmt.Errorf("announce sign-out: %w", err)
	}
	cmdCtx.Logger.Info("sign-out announced", "user_id", ev.UserID, "session_id", ev.SessionID)
	return writef(cmdCtx.Out, "Signed out %s.\n", target)
}

// confirmAction prompts on the command output and reads a y/N answer from stdin.
func confirmAction(cmdCtx *commandContext, prompt string) bool {
	if err := writef(cmdCtx.Out, "%s [y/N]: ", prompt); err != nil {
		return false
	}
	var answer string
	if _, err := fmt.Fscanln(cmdCtx.In, &answer); err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
