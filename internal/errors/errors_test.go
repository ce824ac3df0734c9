package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("db down")
	err := Wrap(cause, ErrCodeInternal, "load profile")

	assert.Equal(t, "load profile: db down", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "not here", NotFound("not here").Error())
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "x"))
}

func TestPredicates(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Conflict("dup"))
	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.True(t, IsValidation(Validation("bad")))
	assert.True(t, IsTimeout(&AppError{Code: ErrCodeTimeout}))
	assert.Equal(t, ErrorCode(""), GetCode(errors.New("plain")))
	assert.Equal(t, "phone", GetField(ValidationField("phone", "bad")))
	assert.Equal(t, "x: y", Wrapf(errors.New("y"), ErrCodeValidation, "%s", "x").Error())
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "dup", PublicMessage(Conflict("dup")))
	assert.Equal(t, "Something went wrong. Please try again.", PublicMessage(Internal("secret detail")))
	assert.Equal(t, "Something went wrong. Please try again.", PublicMessage(errors.New("raw")))
}
