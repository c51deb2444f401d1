// Package postgres opens the PostgreSQL pool and the optional Redis client and
// applies the rentshelf schema.
//
// Migrations are versioned and recorded in schema_migrations; each one runs in
// its own transaction and is skipped once recorded.
package postgres
