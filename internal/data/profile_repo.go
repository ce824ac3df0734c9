package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/seda/bdportal/internal/data/pgxutil"
	domainauth "github.com/seda/bdportal/internal/domain/auth"
	apperrors "github.com/seda/bdportal/internal/errors"
)

const profileColumns = `id::text AS id, email, first_name, last_name, phone, business_name, user_type, created_at, updated_at`

// ProfileRepo provides database operations for user profiles.
type ProfileRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewProfileRepo creates a new ProfileRepo with real time provider.
func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{DB: db, timeProvider: RealTimeProvider{}}
}

// NewProfileRepoWithTimeProvider creates a new ProfileRepo with a custom time provider (useful for tests).
func NewProfileRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ProfileRepo {
	return &ProfileRepo{DB: db, timeProvider: tp}
}

// ExistsByEmail reports whether a profile owns the normalized address.
func (r *ProfileRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return false, ErrEmailRequired
	}
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM profiles WHERE email = $1)`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check profile email: %w", apperrors.MapDBError(err))
	}
	return exists, nil
}

// Create inserts a profile. A duplicate email yields an error matching domainauth.ErrEmailInUse.
func (r *ProfileRepo) Create(ctx context.Context, p domainauth.Profile) (*domainauth.Profile, error) {
	if p.ID == "" {
		return nil, ErrUserIDRequired
	}
	p.Email = normalizeEmail(p.Email)
	if p.Email == "" {
		return nil, ErrEmailRequired
	}
	if !p.UserType.Valid() {
		p.UserType = domainauth.TypeParticipant
	}

	now := r.timeProvider.Now()
	var out domainauth.Profile
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO profiles (id, email, first_name, last_name, phone, business_name, user_type, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			RETURNING `+profileColumns,
			p.ID,
			p.Email,
			strings.TrimSpace(p.FirstName),
			strings.TrimSpace(p.LastName),
			strings.TrimSpace(p.Phone),
			strings.TrimSpace(p.BusinessName),
			string(p.UserType),
			now,
		)
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[domainauth.Profile])
		return err
	})
	if err != nil {
		return nil, r.mapWriteErr(err)
	}
	return &out, nil
}

// Update applies the non-nil fields of patch.
func (r *ProfileRepo) Update(
	ctx context.Context,
	id string,
	patch domainauth.ProfilePatch,
) (*domainauth.Profile, error) {
	if id == "" {
		return nil, ErrUserIDRequired
	}
	if patch.Empty() {
		return r.GetByID(ctx, id)
	}

	var out domainauth.Profile
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			UPDATE profiles SET
				first_name    = COALESCE($2, first_name),
				last_name     = COALESCE($3, last_name),
				phone         = COALESCE($4, phone),
				business_name = COALESCE($5, business_name),
				updated_at    = $6
			WHERE id = $1
			RETURNING `+profileColumns,
			id,
			trimPtr(patch.FirstName),
			trimPtr(patch.LastName),
			trimPtr(patch.Phone),
			trimPtr(patch.BusinessName),
			r.timeProvider.Now(),
		)
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[domainauth.Profile])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, r.mapWriteErr(err)
	}
	return &out, nil
}

// GetByID retrieves a profile by user id.
func (r *ProfileRepo) GetByID(ctx context.Context, id string) (*domainauth.Profile, error) {
	var out domainauth.Profile
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[domainauth.Profile])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", apperrors.MapDBError(err))
	}
	return &out, nil
}

// GetByEmail retrieves a profile by its normalised email address.
func (r *ProfileRepo) GetByEmail(ctx context.Context, email string) (*domainauth.Profile, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	var out domainauth.Profile
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+profileColumns+` FROM profiles WHERE email = $1`, email)
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[domainauth.Profile])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", apperrors.MapDBError(err))
	}
	return &out, nil
}

func (r *ProfileRepo) mapWriteErr(err error) error {
	mapped := apperrors.MapDBError(err)
	if apperrors.IsConflict(mapped) && apperrors.GetField(mapped) == "email" {
		return fmt.Errorf("%w: %w", domainauth.ErrEmailInUse, mapped)
	}
	return fmt.Errorf("write profile: %w", mapped)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
