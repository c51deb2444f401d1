// Package testutil holds database fixtures shared by package tests.
// It is imported only from _test.go files.
package testutil

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// sqliteSchema mirrors the postgres migrations closely enough for the
// queries that do not lock rows.
const sqliteSchema = `
	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		age INTEGER NOT NULL CHECK (age >= 1),
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT 0,
		password_hash TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL UNIQUE CHECK (action IN ('CREATE', 'READ_ALL', 'UPDATE', 'DELETE', 'ALL')),
		description TEXT
	);

	CREATE TABLE role_permission_bindings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		role_id INTEGER NOT NULL REFERENCES roles(id),
		permission_id INTEGER NOT NULL REFERENCES permissions(id),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (role_id, permission_id)
	);

	CREATE TABLE user_role_bindings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		role_id INTEGER NOT NULL REFERENCES roles(id),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (user_id, role_id)
	);

	CREATE TABLE books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL CHECK (name <> ''),
		author TEXT NOT NULL CHECK (author <> ''),
		status TEXT NOT NULL DEFAULT 'AVAILABLE' CHECK (status IN ('AVAILABLE', 'RENTED', 'OUT_OF_SERVICE')),
		created_by INTEGER REFERENCES users(id),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE CHECK (name <> ''),
		created_by INTEGER REFERENCES users(id),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE book_tag_bindings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		book_id INTEGER NOT NULL REFERENCES books(id),
		tag_id INTEGER NOT NULL REFERENCES tags(id),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (book_id, tag_id)
	);

	CREATE TABLE rent_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		book_id INTEGER NOT NULL REFERENCES books(id),
		user_id INTEGER REFERENCES users(id),
		created_by INTEGER REFERENCES users(id),
		rented_date TIMESTAMP NOT NULL,
		return_date TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'IN_PROGRESS' CHECK (status IN ('IN_PROGRESS', 'COMPLETED', 'OVERDUE', 'UNPAID')),
		late_return_fee NUMERIC NOT NULL DEFAULT 0 CHECK (late_return_fee >= 0)
	);

	CREATE TABLE book_reviews (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		book_id INTEGER NOT NULL REFERENCES books(id),
		review TEXT NOT NULL CHECK (review <> ''),
		is_recommended BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
`

// NewSQLiteDB opens an in-memory database with the rentshelf schema and
// foreign keys enforced. The handle is closed when the test ends.
func NewSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	// Every pooled connection would get its own in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)

	return db
}

// InsertUser adds a user and returns its id
func InsertUser(t *testing.T, db *sql.DB, username string, isAdmin bool) int64 {
	t.Helper()

	result, err := db.Exec(
		`INSERT INTO users (username, email, age, first_name, last_name, is_admin, password_hash)
		 VALUES (?, ?, 30, 'Test', 'User', ?, 'x')`,
		username, username+"@example.com", isAdmin,
	)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

// InsertBook adds a book with the given status and returns its id
func InsertBook(t *testing.T, db *sql.DB, name, status string) int64 {
	t.Helper()

	result, err := db.Exec(`INSERT INTO books (name, author, status) VALUES (?, 'Author', ?)`, name, status)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

// InsertRent adds a rent record and returns its id
func InsertRent(t *testing.T, db *sql.DB, bookID int64, userID, createdBy *int64, status string, rented time.Time) int64 {
	t.Helper()

	result, err := db.Exec(
		`INSERT INTO rent_history (book_id, user_id, created_by, rented_date, status) VALUES (?, ?, ?, ?, ?)`,
		bookID, userID, createdBy, rented.UTC(), status,
	)
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

// GrantActions creates a role bound to the given actions and assigns it to
// the user. Missing permission rows are created on the fly.
func GrantActions(t *testing.T, db *sql.DB, userID int64, roleName string, actions ...string) int64 {
	t.Helper()

	result, err := db.Exec(`INSERT INTO roles (name) VALUES (?)`, roleName)
	require.NoError(t, err)
	roleID, err := result.LastInsertId()
	require.NoError(t, err)

	for _, action := range actions {
		_, err := db.Exec(`INSERT INTO permissions (action) VALUES (?) ON CONFLICT (action) DO NOTHING`, action)
		require.NoError(t, err)

		var permissionID int64
		require.NoError(t, db.QueryRow(`SELECT id FROM permissions WHERE action = ?`, action).Scan(&permissionID))

		_, err = db.Exec(`INSERT INTO role_permission_bindings (role_id, permission_id) VALUES (?, ?)`, roleID, permissionID)
		require.NoError(t, err)
	}

	_, err = db.Exec(`INSERT INTO user_role_bindings (user_id, role_id) VALUES (?, ?)`, userID, roleID)
	require.NoError(t, err)

	return roleID
}

// Int64 returns a pointer to v
func Int64(v int64) *int64 {
	return &v
}
