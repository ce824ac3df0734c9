//go:build !devbypass

package devbypass

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompiledOffByDefault(t *testing.T) {
	assert.False(t, Compiled)
}
