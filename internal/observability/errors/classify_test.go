package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type apiErr struct{}

func (*apiErr) Error() string { return "api" }

func TestClassify(t *testing.T) {
	assert.Empty(t, Classify(nil))
	assert.Equal(t, "timeout", Classify(fmt.Errorf("roles: %w", context.DeadlineExceeded)))
	assert.Equal(t, "canceled", Classify(context.Canceled))
	assert.Equal(t, "errors_apierr", Classify(fmt.Errorf("wrap: %w", &apiErr{})))
	assert.Equal(t, "errors_errorstring", Classify(errors.New("plain")))
}

func TestClassify_JoinedErrors(t *testing.T) {
	joined := errors.Join(nil, fmt.Errorf("refresh: %w", &apiErr{}), errors.New("second"))
	assert.Equal(t, "errors_apierr", Classify(joined))
	assert.Equal(t, "errors_apierr", Classify(fmt.Errorf("resume: %w", joined)))
	assert.Equal(t, "errors_apierr", Classify(fmt.Errorf("%w and %w", &apiErr{}, errors.New("other"))))
}
