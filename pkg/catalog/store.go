package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/rentshelf/pkg/apperrors"
)

// Store handles persistence of books, tags and tag bindings
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new catalog store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// ListBooks lists all books
func (s *Store) ListBooks(ctx context.Context) ([]Book, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, author, status, created_by, created_at
		FROM books
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	books := []Book{}
	for rows.Next() {
		var b Book
		var createdBy sql.NullInt64
		if err := rows.Scan(&b.ID, &b.Name, &b.Author, &b.Status, &createdBy, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		b.CreatedBy = int64Ptr(createdBy)
		books = append(books, b)
	}

	return books, rows.Err()
}

// GetBook retrieves a book by ID
func (s *Store) GetBook(ctx context.Context, id int64) (*Book, error) {
	var b Book
	var createdBy sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, author, status, created_by, created_at
		FROM books
		WHERE id = $1
	`, id).Scan(&b.ID, &b.Name, &b.Author, &b.Status, &createdBy, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("book not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	b.CreatedBy = int64Ptr(createdBy)
	return &b, nil
}

// CreateBook inserts a book; an empty status defaults to AVAILABLE
func (s *Store) CreateBook(ctx context.Context, b *Book) error {
	if b.Status == "" {
		b.Status = StatusAvailable
	}

	now := s.now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO books (name, author, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, b.Name, b.Author, string(b.Status), b.CreatedBy, now).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("failed to create book: %w", apperrors.FromDB(err, "book"))
	}

	b.CreatedAt = now
	return nil
}

// UpdateBook writes a book's mutable fields
func (s *Store) UpdateBook(ctx context.Context, b *Book) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE books
		SET name = $1, author = $2, status = $3
		WHERE id = $4
	`, b.Name, b.Author, string(b.Status), b.ID)
	if err != nil {
		return fmt.Errorf("failed to update book: %w", apperrors.FromDB(err, "book"))
	}
	return requireAffected(result, "book")
}

// DeleteBook removes a book with its tag bindings, reviews and rent records
func (s *Store) DeleteBook(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"book_tag_bindings", "book_reviews", "rent_history"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE book_id = $1`, id); err != nil {
				return fmt.Errorf("failed to delete %s: %w", table, err)
			}
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete book: %w", err)
		}
		return requireAffected(result, "book")
	})
}

// ListTags lists tags, newest first
func (s *Store) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_by, created_at
		FROM tags
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	tags := []Tag{}
	for rows.Next() {
		var t Tag
		var createdBy sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Name, &createdBy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		t.CreatedBy = int64Ptr(createdBy)
		tags = append(tags, t)
	}

	return tags, rows.Err()
}

// GetTag retrieves a tag by ID
func (s *Store) GetTag(ctx context.Context, id int64) (*Tag, error) {
	var t Tag
	var createdBy sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_by, created_at
		FROM tags
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &createdBy, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("tag not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}

	t.CreatedBy = int64Ptr(createdBy)
	return &t, nil
}

// CreateTag inserts a tag. Names are unique.
func (s *Store) CreateTag(ctx context.Context, t *Tag) error {
	now := s.now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tags (name, created_by, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, t.Name, t.CreatedBy, now).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create tag: %w", apperrors.FromDB(err, "tag"))
	}

	t.CreatedAt = now
	return nil
}

// UpdateTag renames a tag
func (s *Store) UpdateTag(ctx context.Context, t *Tag) error {
	result, err := s.db.ExecContext(ctx, `UPDATE tags SET name = $1 WHERE id = $2`, t.Name, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update tag: %w", apperrors.FromDB(err, "tag"))
	}
	return requireAffected(result, "tag")
}

// DeleteTag removes a tag and unassigns it from every book
func (s *Store) DeleteTag(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM book_tag_bindings WHERE tag_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete tag bindings: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete tag: %w", err)
		}
		return requireAffected(result, "tag")
	})
}

// ListTagBindings lists tag assignments
func (s *Store) ListTagBindings(ctx context.Context) ([]TagBinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, book_id, tag_id, created_at
		FROM book_tag_bindings
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tag bindings: %w", err)
	}
	defer rows.Close()

	bindings := []TagBinding{}
	for rows.Next() {
		var b TagBinding
		if err := rows.Scan(&b.ID, &b.BookID, &b.TagID, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tag binding: %w", err)
		}
		bindings = append(bindings, b)
	}

	return bindings, rows.Err()
}

// GetTagBinding retrieves a tag assignment by ID
func (s *Store) GetTagBinding(ctx context.Context, id int64) (*TagBinding, error) {
	var b TagBinding
	err := s.db.QueryRowContext(ctx, `
		SELECT id, book_id, tag_id, created_at
		FROM book_tag_bindings
		WHERE id = $1
	`, id).Scan(&b.ID, &b.BookID, &b.TagID, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("tag binding not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tag binding: %w", err)
	}
	return &b, nil
}

// CreateTagBinding assigns a tag to a book. A pair that is already bound is
// a business rule violation.
func (s *Store) CreateTagBinding(ctx context.Context, b *TagBinding) error {
	if err := s.ensureUnbound(ctx, b.BookID, b.TagID, 0); err != nil {
		return err
	}

	now := s.now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO book_tag_bindings (book_id, tag_id, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, b.BookID, b.TagID, now).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("failed to create tag binding: %w", apperrors.FromDB(err, "tag binding"))
	}

	b.CreatedAt = now
	return nil
}

// UpdateTagBinding repoints a tag assignment
func (s *Store) UpdateTagBinding(ctx context.Context, b *TagBinding) error {
	if err := s.ensureUnbound(ctx, b.BookID, b.TagID, b.ID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE book_tag_bindings
		SET book_id = $1, tag_id = $2
		WHERE id = $3
	`, b.BookID, b.TagID, b.ID)
	if err != nil {
		return fmt.Errorf("failed to update tag binding: %w", apperrors.FromDB(err, "tag binding"))
	}
	return requireAffected(result, "tag binding")
}

// DeleteTagBinding removes a tag assignment
func (s *Store) DeleteTagBinding(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM book_tag_bindings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tag binding: %w", err)
	}
	return requireAffected(result, "tag binding")
}

// ensureUnbound rejects a (book, tag) pair held by a binding other than excludeID.
// The unique index still guards concurrent inserts.
func (s *Store) ensureUnbound(ctx context.Context, bookID, tagID, excludeID int64) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM book_tag_bindings
			WHERE book_id = $1 AND tag_id = $2 AND id <> $3
		)
	`, bookID, tagID, excludeID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check tag binding: %w", err)
	}
	if exists {
		return apperrors.BusinessRule("tag is already assigned to this book")
	}
	return nil
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

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
