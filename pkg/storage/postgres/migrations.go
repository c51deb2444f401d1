package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/rentshelf/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the schema history in application order.
// Dependent rows reference their parents without ON DELETE actions; the
// services null or remove dependents explicitly inside the deleting transaction.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(150) NOT NULL UNIQUE,
					email VARCHAR(254) NOT NULL UNIQUE,
					age INTEGER NOT NULL CHECK (age >= 1),
					first_name VARCHAR(150) NOT NULL,
					last_name VARCHAR(150) NOT NULL,
					is_admin BOOLEAN NOT NULL DEFAULT FALSE,
					password_hash TEXT NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create roles, permissions and bindings",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					action VARCHAR(16) NOT NULL UNIQUE
						CHECK (action IN ('CREATE', 'READ_ALL', 'UPDATE', 'DELETE', 'ALL')),
					description TEXT
				);

				CREATE TABLE IF NOT EXISTS role_permission_bindings (
					id BIGSERIAL PRIMARY KEY,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					permission_id BIGINT NOT NULL REFERENCES permissions(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (role_id, permission_id)
				);

				CREATE TABLE IF NOT EXISTS user_role_bindings (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id),
					role_id BIGINT NOT NULL REFERENCES roles(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (user_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_role_bindings_user_id ON user_role_bindings(user_id);
				CREATE INDEX IF NOT EXISTS idx_role_permission_bindings_role_id ON role_permission_bindings(role_id);
			`,
		},
		{
			Version:     3,
			Description: "Create books, tags and tag bindings",
			SQL: `
				CREATE TABLE IF NOT EXISTS books (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL CHECK (name <> ''),
					author VARCHAR(255) NOT NULL CHECK (author <> ''),
					status VARCHAR(20) NOT NULL DEFAULT 'AVAILABLE'
						CHECK (status IN ('AVAILABLE', 'RENTED', 'OUT_OF_SERVICE')),
					created_by BIGINT REFERENCES users(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS tags (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(100) NOT NULL UNIQUE CHECK (name <> ''),
					created_by BIGINT REFERENCES users(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS book_tag_bindings (
					id BIGSERIAL PRIMARY KEY,
					book_id BIGINT NOT NULL REFERENCES books(id),
					tag_id BIGINT NOT NULL REFERENCES tags(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (book_id, tag_id)
				);

				CREATE INDEX IF NOT EXISTS idx_tags_created_at ON tags(created_at DESC);
			`,
		},
		{
			Version:     4,
			Description: "Create rent history",
			SQL: `
				CREATE TABLE IF NOT EXISTS rent_history (
					id BIGSERIAL PRIMARY KEY,
					book_id BIGINT NOT NULL REFERENCES books(id),
					user_id BIGINT REFERENCES users(id),
					created_by BIGINT REFERENCES users(id),
					rented_date TIMESTAMPTZ NOT NULL,
					return_date TIMESTAMPTZ,
					status VARCHAR(20) NOT NULL DEFAULT 'IN_PROGRESS'
						CHECK (status IN ('IN_PROGRESS', 'COMPLETED', 'OVERDUE', 'UNPAID')),
					late_return_fee BIGINT NOT NULL DEFAULT 0 CHECK (late_return_fee >= 0)
				);

				CREATE INDEX IF NOT EXISTS idx_rent_history_book_id ON rent_history(book_id);
				CREATE INDEX IF NOT EXISTS idx_rent_history_user_id ON rent_history(user_id);
				CREATE INDEX IF NOT EXISTS idx_rent_history_created_by ON rent_history(created_by);
				CREATE INDEX IF NOT EXISTS idx_rent_history_status ON rent_history(status);
			`,
		},
		{
			Version:     5,
			Description: "Create book reviews",
			SQL: `
				CREATE TABLE IF NOT EXISTS book_reviews (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id),
					book_id BIGINT NOT NULL REFERENCES books(id),
					review TEXT NOT NULL CHECK (review <> ''),
					is_recommended BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_book_reviews_user_book ON book_reviews(user_id, book_id);
			`,
		},
		{
			Version:     6,
			Description: "Create audit events",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id UUID PRIMARY KEY,
					occurred_at TIMESTAMPTZ NOT NULL,
					event_type VARCHAR(100) NOT NULL,
					status VARCHAR(20) NOT NULL,
					user_id BIGINT,
					resource_type VARCHAR(50),
					resource_id VARCHAR(255),
					action VARCHAR(50),
					request_id VARCHAR(100),
					message TEXT,
					metadata JSONB
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_occurred_at ON audit_events(occurred_at DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
			`,
		},
		{
			Version:     7,
			Description: "Allow one open rent record per book",
			SQL: `
				CREATE UNIQUE INDEX IF NOT EXISTS idx_rent_history_one_open_per_book
					ON rent_history(book_id) WHERE status <> 'COMPLETED';
			`,
		},
		{
			Version:     8,
			Description: "Store late return fees to the cent",
			SQL: `
				ALTER TABLE rent_history
					ALTER COLUMN late_return_fee TYPE NUMERIC(10, 2) USING late_return_fee::NUMERIC(10, 2);
			`,
		},
	}
}

// LatestVersion is the schema version this binary expects
func LatestVersion() int {
	all := Migrations()
	return all[len(all)-1].Version
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}

		logger.WithField("version", m.Version).Infof("Running migration: %s", m.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
