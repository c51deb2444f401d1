package rental

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/rentshelf/pkg/apperrors"
	"github.com/platinummonkey/rentshelf/pkg/audit"
	"github.com/platinummonkey/rentshelf/pkg/catalog"
	"github.com/platinummonkey/rentshelf/pkg/observability"
	"github.com/platinummonkey/rentshelf/pkg/rbac"
)

// Reasons reported for rejected transitions
const (
	ReasonAlreadyRented     = "The given book ID is already rented."
	ReasonOutOfService      = "Book is out of service"
	ReasonAlreadyReturned   = "Book is already returned"
	ReasonBookStatusFailure = "Can not update book status. Please contact admin."
)

const rentColumns = `id, book_id, user_id, created_by, rented_date, return_date, status, late_return_fee`

// Service runs the rental state machine. Create and return each change a
// book and a rent record in one transaction, with the book row locked so
// concurrent calls on the same book serialize.
type Service struct {
	db      *sql.DB
	clock   clockwork.Clock
	fees    FeePolicy
	metrics *observability.Metrics
	audit   *audit.Recorder
	tracer  trace.Tracer
}

// NewService creates a rental service. metrics and recorder may be nil.
func NewService(db *sql.DB, clock clockwork.Clock, fees FeePolicy, metrics *observability.Metrics, recorder *audit.Recorder) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		db:      db,
		clock:   clock,
		fees:    fees,
		metrics: metrics,
		audit:   recorder,
		tracer:  observability.Tracer("rental"),
	}
}

// CreateRent rents an AVAILABLE book with no open rent record to a user.
// The book becomes RENTED and a new IN_PROGRESS record is stored, or nothing changes.
func (s *Service) CreateRent(ctx context.Context, actorID *int64, in CreateInput) (*Rent, error) {
	ctx, span := s.tracer.Start(ctx, "rental.CreateRent", trace.WithAttributes(
		attribute.Int64("book.id", in.BookID),
		attribute.Int64("user.id", in.UserID),
	))
	defer span.End()

	rent, err := s.createRent(ctx, actorID, in)
	if err != nil {
		s.metrics.ObserveRent(outcomeOf(err))
		recordSpanError(span, err)
		return nil, err
	}

	s.metrics.ObserveRent("created")
	s.audit.RentCreated(ctx, valueOr(actorID), rent.ID, rent.BookID, in.UserID)
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"rent_id": rent.ID,
		"book_id": rent.BookID,
	}).Info("Book rented")
	return rent, nil
}

func (s *Service) createRent(ctx context.Context, actorID *int64, in CreateInput) (*Rent, error) {
	rent := &Rent{
		BookID:     in.BookID,
		UserID:     &in.UserID,
		CreatedBy:  actorID,
		RentedDate: in.RentedDate.UTC(),
		Status:     StatusInProgress,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		status, err := lockBook(ctx, tx, in.BookID)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				return apperrors.InvalidFields(map[string]string{"book_id": "does_not_exist"})
			}
			return err
		}

		var open bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM rent_history WHERE book_id = $1 AND status <> $2
			)
		`, in.BookID, string(StatusCompleted)).Scan(&open)
		if err != nil {
			return fmt.Errorf("failed to check open rents: %w", err)
		}
		if status != catalog.StatusAvailable || open {
			return apperrors.BusinessRule(ReasonAlreadyRented)
		}

		if err := setBookStatus(ctx, tx, in.BookID, catalog.StatusRented); err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO rent_history (book_id, user_id, created_by, rented_date, status, late_return_fee)
			VALUES ($1, $2, $3, $4, $5, 0)
			RETURNING id
		`, rent.BookID, rent.UserID, rent.CreatedBy, rent.RentedDate, string(rent.Status)).Scan(&rent.ID)
		if err != nil {
			err = apperrors.FromDB(err, "rent")
			if apperrors.Is(err, apperrors.KindBusinessRule) {
				// Lost a race against another rent of the same book.
				return apperrors.BusinessRule(ReasonAlreadyRented)
			}
			return fmt.Errorf("failed to create rent: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rent, nil
}

// ReturnBook closes the open rent record of a book and puts the book back on
// the shelf. Late returns become UNPAID with the fee charged by the policy.
func (s *Service) ReturnBook(ctx context.Context, actorID *int64, bookID int64) (*Rent, error) {
	ctx, span := s.tracer.Start(ctx, "rental.ReturnBook", trace.WithAttributes(
		attribute.Int64("book.id", bookID),
	))
	defer span.End()

	rent, err := s.returnBook(ctx, bookID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("rent.status", string(rent.Status)),
		attribute.String("rent.late_return_fee", rent.LateReturnFee.String()),
	)
	s.metrics.ObserveReturn(string(rent.Status), rent.LateReturnFee.InexactFloat64())
	s.audit.BookReturned(ctx, valueOr(actorID), bookID, rent.ID, string(rent.Status), rent.LateReturnFee)
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"rent_id": rent.ID,
		"book_id": bookID,
		"status":  rent.Status,
		"fee":     rent.LateReturnFee.String(),
	}).Info("Book returned")
	return rent, nil
}

func (s *Service) returnBook(ctx context.Context, bookID int64) (*Rent, error) {
	var rent *Rent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		status, err := lockBook(ctx, tx, bookID)
		if err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `
			SELECT `+rentColumns+`
			FROM rent_history
			WHERE book_id = $1 AND status IN ($2, $3)
			ORDER BY id ASC
			LIMIT 1
			FOR UPDATE
		`, bookID, string(StatusInProgress), string(StatusOverdue))
		open, err := scanRent(row)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to find open rent: %w", err)
		}

		if status == catalog.StatusOutOfService {
			return apperrors.BusinessRule(ReasonOutOfService)
		}
		if open == nil || status == catalog.StatusAvailable {
			return apperrors.BusinessRule(ReasonAlreadyReturned)
		}

		returned := s.clock.Now().UTC()
		open.Status, open.LateReturnFee = s.fees.Assess(open.Status, open.RentedDate, returned)
		open.ReturnDate = &returned

		if err := setBookStatus(ctx, tx, bookID, catalog.StatusAvailable); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE rent_history
			SET return_date = $1, status = $2, late_return_fee = $3
			WHERE id = $4
		`, returned, string(open.Status), open.LateReturnFee, open.ID)
		if err != nil {
			return fmt.Errorf("failed to close rent: %w", err)
		}

		rent = open
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rent, nil
}

// List returns the rent records visible in scope
func (s *Service) List(ctx context.Context, scope rbac.Scope) ([]Rent, error) {
	query := `SELECT ` + rentColumns + ` FROM rent_history`
	clause, args := scope.Clause(1, "user_id", "created_by")
	if clause != "" {
		query += ` WHERE ` + clause
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rents: %w", err)
	}
	defer rows.Close()

	rents := []Rent{}
	for rows.Next() {
		r, err := scanRent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rent: %w", err)
		}
		rents = append(rents, *r)
	}

	return rents, rows.Err()
}

// Get returns one rent record. Records outside scope are reported as not found.
func (s *Service) Get(ctx context.Context, id int64, scope rbac.Scope) (*Rent, error) {
	query := `SELECT ` + rentColumns + ` FROM rent_history WHERE id = $1`
	args := []interface{}{id}
	if clause, scoped := scope.Clause(2, "user_id", "created_by"); clause != "" {
		query += ` AND ` + clause
		args = append(args, scoped...)
	}

	rent, err := scanRent(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("rent not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rent: %w", err)
	}
	return rent, nil
}

// Update edits a rent record directly. It is an administrative path: the
// book status and late fee are left as the caller sets them.
func (s *Service) Update(ctx context.Context, actorID *int64, id int64, in UpdateInput) (*Rent, error) {
	if in.LateReturnFee != nil && in.LateReturnFee.IsNegative() {
		return nil, apperrors.InvalidFields(map[string]string{"late_return_fee": "gte=0"})
	}

	rent, err := s.Get(ctx, id, rbac.Unscoped)
	if err != nil {
		return nil, err
	}

	if in.BookID != nil {
		rent.BookID = *in.BookID
	}
	if in.UserID != nil {
		rent.UserID = in.UserID
	}
	if in.RentedDate != nil {
		rent.RentedDate = in.RentedDate.UTC()
	}
	if in.ReturnDate != nil {
		returned := in.ReturnDate.UTC()
		rent.ReturnDate = &returned
	}
	if in.Status != nil {
		rent.Status = *in.Status
	}
	if in.LateReturnFee != nil {
		rent.LateReturnFee = in.LateReturnFee.Round(2)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE rent_history
		SET book_id = $1, user_id = $2, rented_date = $3, return_date = $4, status = $5, late_return_fee = $6
		WHERE id = $7
	`, rent.BookID, rent.UserID, rent.RentedDate, rent.ReturnDate, string(rent.Status), rent.LateReturnFee, rent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update rent: %w", apperrors.FromDB(err, "rent"))
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, apperrors.NotFound("rent not found")
	}

	s.audit.RentUpdated(ctx, valueOr(actorID), rent.ID, string(rent.Status))
	return rent, nil
}

// Delete removes a rent record
func (s *Service) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rent_history WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rent: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete rent: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("rent not found")
	}
	return nil
}

// MarkOverdue moves IN_PROGRESS records that have run past the grace period
// to OVERDUE and returns their ids.
func (s *Service) MarkOverdue(ctx context.Context) ([]int64, error) {
	ctx, span := s.tracer.Start(ctx, "rental.MarkOverdue")
	defer span.End()

	cutoff := s.fees.OverdueCutoff(s.clock.Now().UTC())
	rows, err := s.db.QueryContext(ctx, `
		UPDATE rent_history
		SET status = $1
		WHERE status = $2 AND rented_date <= $3
		RETURNING id
	`, string(StatusOverdue), string(StatusInProgress), cutoff)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to mark overdue rents: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan rent id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to mark overdue rents: %w", err)
	}

	span.SetAttributes(attribute.Int("rent.overdue_count", len(ids)))
	s.metrics.ObserveOverdue(int64(len(ids)))
	if len(ids) > 0 {
		s.audit.OverdueMarked(ctx, ids)
	}
	return ids, nil
}

func lockBook(ctx context.Context, tx *sql.Tx, bookID int64) (catalog.BookStatus, error) {
	var status catalog.BookStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM books WHERE id = $1 FOR UPDATE`, bookID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.NotFound("book not found")
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock book: %w", err)
	}
	return status, nil
}

// setBookStatus flips the book inside the rental transaction. Any failure
// here aborts the unit as an internal inconsistency.
func setBookStatus(ctx context.Context, tx *sql.Tx, bookID int64, status catalog.BookStatus) error {
	result, err := tx.ExecContext(ctx, `UPDATE books SET status = $1 WHERE id = $2`, string(status), bookID)
	if err != nil {
		return apperrors.Internal(err, ReasonBookStatusFailure)
	}
	if n, err := result.RowsAffected(); err != nil || n != 1 {
		return apperrors.Internal(err, ReasonBookStatusFailure)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRent(row rowScanner) (*Rent, error) {
	var r Rent
	var userID, createdBy sql.NullInt64
	var returnDate sql.NullTime
	err := row.Scan(&r.ID, &r.BookID, &userID, &createdBy, &r.RentedDate, &returnDate, &r.Status, &r.LateReturnFee)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		r.UserID = &userID.Int64
	}
	if createdBy.Valid {
		r.CreatedBy = &createdBy.Int64
	}
	if returnDate.Valid {
		t := returnDate.Time
		r.ReturnDate = &t
	}
	return &r, nil
}

func (s *Service) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
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

func outcomeOf(err error) string {
	kind, ok := apperrors.KindOf(err)
	if !ok {
		return "error"
	}
	return strings.ToLower(string(kind))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, apperrors.ReasonOf(err))
}

func valueOr(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

