package data

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/seda/bdportal/internal/domain/auth"
	apperrors "github.com/seda/bdportal/internal/errors"
	"github.com/seda/bdportal/internal/testutil"
)

func TestProfileRepo_CreateAndExists(t *testing.T) {
	db := testutil.SetupTestDB(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	repo := NewProfileRepoWithTimeProvider(db, NewFixedTimeProvider(now))
	ctx := context.Background()

	id := uuid.NewString()
	p, err := repo.Create(ctx, domainauth.Profile{
		ID:           id,
		Email:        "  Founder@Example.com ",
		FirstName:    " Thandi ",
		BusinessName: "Acme Bakery",
	})
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "founder@example.com", p.Email)
	assert.Equal(t, "Thandi", p.FirstName)
	assert.Equal(t, domainauth.TypeParticipant, p.UserType)
	assert.True(t, p.CreatedAt.Equal(now))

	exists, err := repo.ExistsByEmail(ctx, "FOUNDER@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByEmail(ctx, "other@example.com")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repo.ExistsByEmail(ctx, "  ")
	require.ErrorIs(t, err, ErrEmailRequired)
}

func TestProfileRepo_DuplicateEmail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewProfileRepo(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, domainauth.Profile{ID: uuid.NewString(), Email: "dup@example.com"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, domainauth.Profile{ID: uuid.NewString(), Email: "DUP@example.com"})
	require.ErrorIs(t, err, domainauth.ErrEmailInUse)
	assert.True(t, apperrors.IsConflict(err))
}

func TestProfileRepo_Update(t *testing.T) {
	db := testutil.SetupTestDB(t)
	tp := NewFixedTimeProvider(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	repo := NewProfileRepoWithTimeProvider(db, tp)
	ctx := context.Background()

	id := uuid.NewString()
	_, err := repo.Create(ctx, domainauth.Profile{ID: id, Email: "u@example.com", Phone: "0110000000"})
	require.NoError(t, err)

	tp.AddTime(time.Hour)
	got, err := repo.Update(ctx, id, domainauth.ProfilePatch{LastName: testutil.StringPtr(" Mokoena ")})
	require.NoError(t, err)
	assert.Equal(t, "Mokoena", got.LastName)
	assert.Equal(t, "0110000000", got.Phone)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	_, err = repo.Update(ctx, uuid.NewString(), domainauth.ProfilePatch{Phone: testutil.StringPtr("1")})
	require.ErrorIs(t, err, ErrProfileNotFound)

	_, err = repo.GetByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, ErrProfileNotFound)
}

func TestProfileRepo_GetByEmail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewProfileRepo(db)
	ctx := context.Background()

	id := uuid.NewString()
	_, err := repo.Create(ctx, domainauth.Profile{ID: id, Email: "lookup@example.com"})
	require.NoError(t, err)

	got, err := repo.GetByEmail(ctx, " LOOKUP@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	_, err = repo.GetByEmail(ctx, "missing@example.com")
	require.ErrorIs(t, err, ErrProfileNotFound)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = repo.GetByEmail(ctx, "")
	require.ErrorIs(t, err, ErrEmailRequired)
}
