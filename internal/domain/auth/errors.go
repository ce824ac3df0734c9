package auth

import (
	"errors"
	"slices"
	"strings"
)

// ErrEmailInUse is returned by sign-up when a profile or account already owns the address.
var ErrEmailInUse = errors.New("an account with this email already exists")

// ErrorKind is the closed set of user-facing authentication failure categories.
type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindEmailNotConfirmed  ErrorKind = "email_not_confirmed"
	KindRateLimited        ErrorKind = "rate_limited"
	KindEmailInUse         ErrorKind = "email_in_use"
	KindWeakPassword       ErrorKind = "weak_password"
	KindAuthFailed         ErrorKind = "auth_failed"
)

var kindMessages = map[ErrorKind]string{
	KindInvalidCredentials: "Invalid email or password",
	KindEmailNotConfirmed:  "Please confirm your email address before signing in",
	KindRateLimited:        "Too many attempts. Please wait a moment and try again",
	KindEmailInUse:         "An account with this email already exists",
	KindWeakPassword:       "Password does not meet the minimum requirements",
	KindAuthFailed:         "Authentication failed",
}

// Message returns the user-facing text for k.
func (k ErrorKind) Message() string {
	if m, ok := kindMessages[k]; ok {
		return m
	}
	return kindMessages[KindAuthFailed]
}

// CodedError is implemented by backend errors that carry a machine-readable code.
type CodedError interface {
	error
	ErrorCode() string
}

type errorRule struct {
	codes    []string
	contains []string
	kind     ErrorKind
}

// errorRules is the one table that maps backend failures onto kinds.
// Codes are checked first across all rules, then message substrings in order.
var errorRules = []errorRule{
	{
		codes:    []string{"invalid_credentials", "invalid_grant"},
		contains: []string{"invalid login credentials", "invalid email or password"},
		kind:     KindInvalidCredentials,
	},
	{
		codes:    []string{"email_not_confirmed"},
		contains: []string{"email not confirmed"},
		kind:     KindEmailNotConfirmed,
	},
	{
		codes:    []string{"over_request_rate_limit", "over_email_send_rate_limit", "too_many_requests"},
		contains: []string{"rate limit", "too many requests"},
		kind:     KindRateLimited,
	},
	{
		codes:    []string{"user_already_exists", "email_exists"},
		contains: []string{"already registered", "already exists"},
		kind:     KindEmailInUse,
	},
	{
		codes:    []string{"weak_password"},
		contains: []string{"password should be", "weak password"},
		kind:     KindWeakPassword,
	},
}

// TranslateError maps any error onto an ErrorKind. Unknown errors become KindAuthFailed.
func TranslateError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrEmailInUse) {
		return KindEmailInUse
	}
	var coded CodedError
	if errors.As(err, &coded) {
		code := strings.ToLower(coded.ErrorCode())
		for _, rule := range errorRules {
			for _, c := range rule.codes {
				if code == c {
					return rule.kind
				}
			}
		}
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range errorRules {
		for _, sub := range rule.contains {
			if strings.Contains(msg, sub) {
				return rule.kind
			}
		}
	}
	return KindAuthFailed
}

// IsDuplicateAccount reports whether err means the address is already registered.
func IsDuplicateAccount(err error) bool {
	return TranslateError(err) == KindEmailInUse
}

// rejectionCodes mark a token the backend will never accept again.
var rejectionCodes = []string{
	"invalid_grant",
	"refresh_token_not_found",
	"refresh_token_already_used",
	"session_not_found",
	"session_expired",
	"bad_jwt",
	"user_not_found",
}

// IsSessionRejected reports whether err is the backend's definitive refusal of a token.
// Transport failures and unexpected responses are not rejections.
func IsSessionRejected(err error) bool {
	var coded CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return slices.Contains(rejectionCodes, strings.ToLower(coded.ErrorCode()))
}
