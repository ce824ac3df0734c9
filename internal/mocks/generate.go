// Package mocks provides generated mock implementations of the portal's repository ports.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	mockRepo := mocks.NewMockRoleRepository(ctrl)
//	mockRepo.EXPECT().RolesForUser(gomock.Any(), "user-1").Return([]string{"admin"}, nil)
package mocks

// Generate mocks for the repository and identity ports:
// RoleRepository (RolesForUser, Grant, Revoke), ProfileRepository (ExistsByEmail, Create, Update, GetByID)
// and IdentityBackend (SignInWithPassword, SignUp, Refresh, GetUser, SignOut).
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ports_mock.go github.com/seda/bdportal/internal/ports RoleRepository,ProfileRepository,IdentityBackend
