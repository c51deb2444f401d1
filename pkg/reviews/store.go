package reviews

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/rentshelf/pkg/apperrors"
)

const reviewColumns = `id, user_id, book_id, review, is_recommended, created_at`

// Store handles persistence of book reviews
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new review store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// ListReviews lists all reviews
func (s *Store) ListReviews(ctx context.Context) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reviewColumns+` FROM book_reviews ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	reviews := []Review{}
	for rows.Next() {
		var r Review
		if err := rows.Scan(&r.ID, &r.UserID, &r.BookID, &r.ReviewDetail, &r.IsRecommended, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, r)
	}

	return reviews, rows.Err()
}

// GetReview retrieves a review by ID
func (s *Store) GetReview(ctx context.Context, id int64) (*Review, error) {
	var r Review
	err := s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM book_reviews WHERE id = $1`, id).
		Scan(&r.ID, &r.UserID, &r.BookID, &r.ReviewDetail, &r.IsRecommended, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("review not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return &r, nil
}

// CreateReview inserts a review
func (s *Store) CreateReview(ctx context.Context, r *Review) error {
	now := s.now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO book_reviews (user_id, book_id, review, is_recommended, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, r.UserID, r.BookID, r.ReviewDetail, r.IsRecommended, now).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("failed to create review: %w", apperrors.FromDB(err, "review"))
	}

	r.CreatedAt = now
	return nil
}

// UpdateReview writes a review's mutable fields
func (s *Store) UpdateReview(ctx context.Context, r *Review) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE book_reviews
		SET user_id = $1, book_id = $2, review = $3, is_recommended = $4
		WHERE id = $5
	`, r.UserID, r.BookID, r.ReviewDetail, r.IsRecommended, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update review: %w", apperrors.FromDB(err, "review"))
	}
	return requireAffected(result)
}

// DeleteReview removes a review
func (s *Store) DeleteReview(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM book_reviews WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete review: %w", err)
	}
	return requireAffected(result)
}

// CountCompletedRents counts the finished, settled rentals of a book by a user
func (s *Store) CountCompletedRents(ctx context.Context, userID, bookID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM rent_history
		WHERE user_id = $1 AND book_id = $2 AND status = 'COMPLETED'
	`, userID, bookID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed rents: %w", err)
	}
	return n, nil
}

// CountReviews counts the reviews a user has written for a book
func (s *Store) CountReviews(ctx context.Context, userID, bookID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM book_reviews
		WHERE user_id = $1 AND book_id = $2
	`, userID, bookID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count reviews: %w", err)
	}
	return n, nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("review not found")
	}
	return nil
}
