package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/rentshelf/pkg/apperrors"
)

// Store handles RBAC data persistence
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// PermissionActionsFor returns the union of permission actions across every
// role bound to the user.
func (s *Store) PermissionActionsFor(ctx context.Context, userID int64) (ActionSet, error) {
	query := `
		SELECT DISTINCT p.action
		FROM user_role_bindings urb
		JOIN role_permission_bindings rpb ON rpb.role_id = urb.role_id
		JOIN permissions p ON p.id = rpb.permission_id
		WHERE urb.user_id = $1
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query permission actions: %w", err)
	}
	defer rows.Close()

	actions := ActionSet{}
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			return nil, fmt.Errorf("failed to scan permission action: %w", err)
		}
		actions[Action(action)] = true
	}

	return actions, rows.Err()
}

// ActionsFor implements ActionResolver directly against the database
func (s *Store) ActionsFor(ctx context.Context, userID int64) (ActionSet, error) {
	return s.PermissionActionsFor(ctx, userID)
}

// HasAnyRoleWithAction reports whether any of the user's roles is bound to
// action or to the ALL wildcard. It reads the bindings directly; CachedResolver
// answers the same question from its cached action set.
func (s *Store) HasAnyRoleWithAction(ctx context.Context, userID int64, action Action) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM user_role_bindings urb
			JOIN role_permission_bindings rpb ON rpb.role_id = urb.role_id
			JOIN permissions p ON p.id = rpb.permission_id
			WHERE urb.user_id = $1 AND p.action IN ($2, $3)
		)
	`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, userID, string(action), string(ActionAll)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check role action: %w", err)
	}
	return exists, nil
}

// CreateRole creates a new role
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	query := `
		INSERT INTO roles (name, description, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	now := s.now().UTC()
	err := s.db.QueryRowContext(ctx, query, role.Name, role.Description, now).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", apperrors.FromDB(err, "role"))
	}

	role.CreatedAt = now
	return nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	query := `
		SELECT id, name, description, created_at
		FROM roles
		WHERE id = $1
	`

	var role Role
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, query, roleID).Scan(&role.ID, &role.Name, &description, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("role not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	role.Description = stringPtr(description)
	return &role, nil
}

// ListRoles lists all roles
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	query := `
		SELECT id, name, description, created_at
		FROM roles
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		var role Role
		var description sql.NullString
		if err := rows.Scan(&role.ID, &role.Name, &description, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		role.Description = stringPtr(description)
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// UpdateRole updates a role's name and description
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	query := `
		UPDATE roles
		SET name = $1, description = $2
		WHERE id = $3
	`

	result, err := s.db.ExecContext(ctx, query, role.Name, role.Description, role.ID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", apperrors.FromDB(err, "role"))
	}
	return requireAffected(result, "role")
}

// DeleteRole removes a role together with every binding that references it
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permission_bindings WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("failed to delete role permission bindings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_role_bindings WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("failed to delete user role bindings: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
		if err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
		return requireAffected(result, "role")
	})
}

// ListPermissions lists the seeded permissions
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, action, description FROM permissions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	permissions := []Permission{}
	for rows.Next() {
		var p Permission
		var action string
		var description sql.NullString
		if err := rows.Scan(&p.ID, &action, &description); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		p.Action = Action(action)
		p.Description = stringPtr(description)
		permissions = append(permissions, p)
	}

	return permissions, rows.Err()
}

// SeedPermissions inserts any seed permission whose action is not stored yet.
// Existing rows are left untouched, so reseeding is idempotent.
func (s *Store) SeedPermissions(ctx context.Context, seed *PermissionSeed) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range seed.Permissions {
			result, err := tx.ExecContext(ctx,
				`INSERT INTO permissions (action, description) VALUES ($1, $2) ON CONFLICT (action) DO NOTHING`,
				string(p.Action), nullIfEmpty(p.Description),
			)
			if err != nil {
				return fmt.Errorf("failed to seed permission %s: %w", p.Action, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to seed permission %s: %w", p.Action, err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// CreateRolePermissionBinding binds a permission to a role
func (s *Store) CreateRolePermissionBinding(ctx context.Context, b *RolePermissionBinding) error {
	query := `
		INSERT INTO role_permission_bindings (role_id, permission_id, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	now := s.now().UTC()
	if err := s.db.QueryRowContext(ctx, query, b.RoleID, b.PermissionID, now).Scan(&b.ID); err != nil {
		return fmt.Errorf("failed to bind permission: %w", apperrors.FromDB(err, "role permission binding"))
	}

	b.CreatedAt = now
	return nil
}

// GetRolePermissionBinding retrieves a role permission binding by ID
func (s *Store) GetRolePermissionBinding(ctx context.Context, id int64) (*RolePermissionBinding, error) {
	query := `
		SELECT id, role_id, permission_id, created_at
		FROM role_permission_bindings
		WHERE id = $1
	`

	var b RolePermissionBinding
	err := s.db.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.RoleID, &b.PermissionID, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("role permission binding not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role permission binding: %w", err)
	}
	return &b, nil
}

// ListRolePermissionBindings lists every role permission binding
func (s *Store) ListRolePermissionBindings(ctx context.Context) ([]RolePermissionBinding, error) {
	query := `
		SELECT id, role_id, permission_id, created_at
		FROM role_permission_bindings
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permission bindings: %w", err)
	}
	defer rows.Close()

	bindings := []RolePermissionBinding{}
	for rows.Next() {
		var b RolePermissionBinding
		if err := rows.Scan(&b.ID, &b.RoleID, &b.PermissionID, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role permission binding: %w", err)
		}
		bindings = append(bindings, b)
	}

	return bindings, rows.Err()
}

// UpdateRolePermissionBinding repoints a binding
func (s *Store) UpdateRolePermissionBinding(ctx context.Context, b *RolePermissionBinding) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE role_permission_bindings SET role_id = $1, permission_id = $2 WHERE id = $3`,
		b.RoleID, b.PermissionID, b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role permission binding: %w", apperrors.FromDB(err, "role permission binding"))
	}
	return requireAffected(result, "role permission binding")
}

// DeleteRolePermissionBinding deletes a binding
func (s *Store) DeleteRolePermissionBinding(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM role_permission_bindings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role permission binding: %w", err)
	}
	return requireAffected(result, "role permission binding")
}

// CreateUserRoleBinding assigns a role to a user
func (s *Store) CreateUserRoleBinding(ctx context.Context, b *UserRoleBinding) error {
	query := `
		INSERT INTO user_role_bindings (user_id, role_id, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	now := s.now().UTC()
	if err := s.db.QueryRowContext(ctx, query, b.UserID, b.RoleID, now).Scan(&b.ID); err != nil {
		return fmt.Errorf("failed to assign role: %w", apperrors.FromDB(err, "user role binding"))
	}

	b.CreatedAt = now
	return nil
}

// GetUserRoleBinding retrieves a binding visible in scope
func (s *Store) GetUserRoleBinding(ctx context.Context, id int64, scope Scope) (*UserRoleBinding, error) {
	query := `
		SELECT id, user_id, role_id, created_at
		FROM user_role_bindings
		WHERE id = $1
	`
	args := []interface{}{id}
	if clause, scopeArgs := scope.Clause(2, "user_id"); clause != "" {
		query += " AND " + clause
		args = append(args, scopeArgs...)
	}

	var b UserRoleBinding
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&b.ID, &b.UserID, &b.RoleID, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user role binding not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user role binding: %w", err)
	}
	return &b, nil
}

// ListUserRoleBindings lists the bindings visible in scope
func (s *Store) ListUserRoleBindings(ctx context.Context, scope Scope) ([]UserRoleBinding, error) {
	query := `
		SELECT id, user_id, role_id, created_at
		FROM user_role_bindings
	`
	var args []interface{}
	if clause, scopeArgs := scope.Clause(1, "user_id"); clause != "" {
		query += " WHERE " + clause
		args = scopeArgs
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list user role bindings: %w", err)
	}
	defer rows.Close()

	bindings := []UserRoleBinding{}
	for rows.Next() {
		var b UserRoleBinding
		if err := rows.Scan(&b.ID, &b.UserID, &b.RoleID, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user role binding: %w", err)
		}
		bindings = append(bindings, b)
	}

	return bindings, rows.Err()
}

// UpdateUserRoleBinding repoints a binding
func (s *Store) UpdateUserRoleBinding(ctx context.Context, b *UserRoleBinding) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE user_role_bindings SET user_id = $1, role_id = $2 WHERE id = $3`,
		b.UserID, b.RoleID, b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user role binding: %w", apperrors.FromDB(err, "user role binding"))
	}
	return requireAffected(result, "user role binding")
}

// DeleteUserRoleBinding deletes a binding
func (s *Store) DeleteUserRoleBinding(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user_role_bindings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user role binding: %w", err)
	}
	return requireAffected(result, "user role binding")
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func requireAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("%s not found", what)
	}
	return nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
