package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/rentshelf/pkg/apperrors"
	"github.com/platinummonkey/rentshelf/pkg/auth"
)

const userColumns = `id, username, email, age, first_name, last_name, is_admin, is_active, password_hash, created_at`

// Store persists user accounts
type Store struct {
	db *sql.DB
}

// NewStore creates a new user store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var u auth.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.Age,
		&u.FirstName,
		&u.LastName,
		&u.IsAdmin,
		&u.IsActive,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByID loads a user; it satisfies middleware.UserLoader
func (s *Store) GetUserByID(ctx context.Context, id int64) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername loads a user by login name
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsers lists users, newest first
func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []auth.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}

	return users, rows.Err()
}

// EmailTaken reports whether another account already uses email.
// excludeID skips the account being updated; pass 0 on create.
func (s *Store) EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 AND id <> $2)`,
		email, excludeID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return taken, nil
}

// CreateUser inserts a user and fills in its id and creation time
func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	query := `
		INSERT INTO users (username, email, age, first_name, last_name, is_admin, is_active, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, query,
		u.Username,
		u.Email,
		u.Age,
		u.FirstName,
		u.LastName,
		u.IsAdmin,
		u.IsActive,
		u.PasswordHash,
		now,
	).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", apperrors.FromDB(err, "user"))
	}

	u.CreatedAt = now
	return nil
}

// UpdateUser writes every mutable field of u
func (s *Store) UpdateUser(ctx context.Context, u *auth.User) error {
	query := `
		UPDATE users
		SET username = $1, email = $2, age = $3, first_name = $4, last_name = $5,
			is_admin = $6, is_active = $7, password_hash = $8
		WHERE id = $9
	`

	result, err := s.db.ExecContext(ctx, query,
		u.Username,
		u.Email,
		u.Age,
		u.FirstName,
		u.LastName,
		u.IsAdmin,
		u.IsActive,
		u.PasswordHash,
		u.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", apperrors.FromDB(err, "user"))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("user not found")
	}
	return nil
}

// DeleteUser removes a user in one transaction. References from books, tags
// and rent records are set to NULL; role bindings and reviews, which cannot
// exist without their user, are deleted.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	steps := []struct {
		what  string
		query string
	}{
		{"clear book creators", `UPDATE books SET created_by = NULL WHERE created_by = $1`},
		{"clear tag creators", `UPDATE tags SET created_by = NULL WHERE created_by = $1`},
		{"clear rent renters", `UPDATE rent_history SET user_id = NULL WHERE user_id = $1`},
		{"clear rent creators", `UPDATE rent_history SET created_by = NULL WHERE created_by = $1`},
		{"delete role bindings", `DELETE FROM user_role_bindings WHERE user_id = $1`},
		{"delete reviews", `DELETE FROM book_reviews WHERE user_id = $1`},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, id); err != nil {
			return fmt.Errorf("failed to %s: %w", step.what, err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("user not found")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
