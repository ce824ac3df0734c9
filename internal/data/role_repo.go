package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/seda/bdportal/internal/data/pgxutil"
	domainauth "github.com/seda/bdportal/internal/domain/auth"
	apperrors "github.com/seda/bdportal/internal/errors"
)

// RoleAssignment is one user_roles row joined with the owner's email.
type RoleAssignment struct {
	UserID    string          `db:"user_id"`
	Email     string          `db:"email"`
	Role      domainauth.Role `db:"role"`
	GrantedAt time.Time       `db:"granted_at"`
}

// RoleRepo provides database operations for fine-grained role grants.
type RoleRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewRoleRepo creates a new RoleRepo with real time provider.
func NewRoleRepo(db *sql.DB) *RoleRepo {
	return &RoleRepo{DB: db, timeProvider: RealTimeProvider{}}
}

// RolesForUser returns the raw role strings granted to userID, sorted.
// Honours ctx cancellation so a timed-out caller releases the connection.
func (r *RoleRepo) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	var out []string
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, userID)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read roles: %w", apperrors.MapDBError(err))
	}
	return out, nil
}

// Grant adds role to userID. Granting an existing role is a no-op.
func (r *RoleRepo) Grant(ctx context.Context, userID string, role domainauth.Role) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	if _, ok := domainauth.ParseRole(string(role)); !ok {
		return apperrors.ValidationField("role", fmt.Sprintf("unknown role %q", role))
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role, granted_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role) DO NOTHING`,
		userID, string(role), r.timeProvider.Now(),
	)
	if err != nil {
		return fmt.Errorf("grant role: %w", apperrors.MapDBError(err))
	}
	return nil
}

// Revoke removes role from userID. Revoking an absent role is a no-op.
func (r *RoleRepo) Revoke(ctx context.Context, userID string, role domainauth.Role) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	if _, err := r.DB.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role = $2`, userID, string(role),
	); err != nil {
		return fmt.Errorf("revoke role: %w", apperrors.MapDBError(err))
	}
	return nil
}

// ListAssignments returns every grant, optionally filtered to one role.
func (r *RoleRepo) ListAssignments(ctx context.Context, role domainauth.Role) ([]RoleAssignment, error) {
	var out []RoleAssignment
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT ur.user_id::text AS user_id, p.email, ur.role, ur.granted_at
			FROM user_roles ur
			JOIN profiles p ON p.id = ur.user_id
			WHERE $1 = '' OR ur.role = $1
			ORDER BY p.email, ur.role`, string(role))
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, pgx.RowToStructByName[RoleAssignment])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list role assignments: %w", apperrors.MapDBError(err))
	}
	return out, nil
}
