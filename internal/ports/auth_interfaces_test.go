package ports_test

import (
	"testing"

	mocks "github.com/seda/bdportal/internal/mocks/auth"
	"github.com/seda/bdportal/internal/ports"
)

// This test only verifies that our mocks conform to the ports at compile time.
func TestMocksImplementPorts(t *testing.T) {
	t.Helper()

	var _ ports.IdentityBackend = (*mocks.MockIdentityBackend)(nil)
	var _ ports.SessionRecordStore = (*mocks.MemorySessionRecordStore)(nil)
	var _ ports.LocalStorage = (*mocks.MemoryLocalStorage)(nil)
	var _ ports.RoleRepository = (*mocks.StaticRoleRepository)(nil)
	var _ ports.ProfileRepository = (*mocks.MemoryProfileRepository)(nil)
}
