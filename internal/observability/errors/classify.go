package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"
)

// Classify returns a short error class suitable for log attributes and metric labels.
// Context deadline and cancellation map to "timeout" and "canceled"; anything else is
// named after the innermost concrete error type in snake_case-ish form. Joined errors are
// named after their first member.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case goerrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	}

	err = innermost(err)

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}

func innermost(err error) error {
	for {
		switch u := err.(type) {
		case interface{ Unwrap() error }:
			next := u.Unwrap()
			if next == nil {
				return err
			}
			err = next
		case interface{ Unwrap() []error }:
			next := firstNonNil(u.Unwrap())
			if next == nil {
				return err
			}
			err = next
		default:
			return err
		}
	}
}

func firstNonNil(errs []error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
