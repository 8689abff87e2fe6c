package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pilab-dev/shadow-authz/domain"
)

const singletonConstraint = "singleton_role_per_client"

// RoleRepository implements domain.RoleRepository. The singleton rule is the
// partial unique index singleton_role_per_client.
type RoleRepository struct {
	db DB
}

func NewRoleRepository(db DB) *RoleRepository {
	return &RoleRepository{db: db}
}

func (r *RoleRepository) UpsertAssignment(ctx context.Context, a *domain.AppRoleAssignment) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO app_role_assignments (user_id, client_id, role, permissions, singleton, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, client_id) DO UPDATE SET
		   role = EXCLUDED.role, permissions = EXCLUDED.permissions,
		   singleton = EXCLUDED.singleton, updated_at = EXCLUDED.updated_at`,
		a.UserID, a.ClientID, a.Role, a.Permissions, a.Singleton, a.CreatedAt, a.UpdatedAt)
	switch uniqueConstraint(err) {
	case "":
	case singletonConstraint:
		return domain.ErrSingletonRoleTaken
	default:
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("upsert role assignment: %w", err)
	}
	return nil
}

func scanAssignment(row pgx.Row) (*domain.AppRoleAssignment, error) {
	var a domain.AppRoleAssignment
	if err := row.Scan(&a.UserID, &a.ClientID, &a.Role, &a.Permissions, &a.Singleton, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

const assignmentColumns = `user_id, client_id, role, permissions, singleton, created_at, updated_at`

func (r *RoleRepository) GetAssignment(ctx context.Context, userID, clientID string) (*domain.AppRoleAssignment, error) {
	a, err := scanAssignment(r.db.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM app_role_assignments WHERE user_id = $1 AND client_id = $2`, userID, clientID))
	if err != nil {
		return nil, noRows(err)
	}
	return a, nil
}

func (r *RoleRepository) ListAssignments(ctx context.Context, clientID string) ([]*domain.AppRoleAssignment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+assignmentColumns+` FROM app_role_assignments WHERE client_id = $1 ORDER BY user_id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list role assignments: %w", err)
	}
	defer rows.Close()

	var out []*domain.AppRoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *RoleRepository) DeleteAssignment(ctx context.Context, userID, clientID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM app_role_assignments WHERE user_id = $1 AND client_id = $2`, userID, clientID)
	if err != nil {
		return fmt.Errorf("delete role assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *RoleRepository) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		roleID, permissionID)
	return err
}

func (r *RoleRepository) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return err
}

func (r *RoleRepository) ListRolePermissions(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT permission_id FROM role_permissions WHERE role_id = $1 ORDER BY permission_id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("list role permissions: %w", err)
	}
	perms, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan role permissions: %w", err)
	}
	return perms, nil
}

var _ domain.RoleRepository = (*RoleRepository)(nil)
