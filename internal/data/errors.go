package data

import (
	"errors"

	apperrors "github.com/seda/bdportal/internal/errors"
)

// Shared sentinel errors for data-layer repositories.
var (
	// ErrProfileNotFound carries the not_found code so handlers map it to 404.
	ErrProfileNotFound = apperrors.NotFound("profile not found")
	ErrUserIDRequired  = errors.New("user_id is required")
	ErrEmailRequired   = errors.New("email is required")
)
