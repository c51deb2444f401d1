package rental

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rentshelf/pkg/apperrors"
	"github.com/platinummonkey/rentshelf/pkg/audit"
	"github.com/platinummonkey/rentshelf/pkg/observability"
)

var (
	lockBookSQL   = regexp.QuoteMeta(`SELECT status FROM books WHERE id = $1 FOR UPDATE`)
	openExistsSQL = regexp.QuoteMeta(`SELECT EXISTS ( SELECT 1 FROM rent_history WHERE book_id = $1 AND status <> $2 )`)
	setStatusSQL  = regexp.QuoteMeta(`UPDATE books SET status = $1 WHERE id = $2`)
	insertRentSQL = regexp.QuoteMeta(`INSERT INTO rent_history`)
	openRentSQL   = regexp.QuoteMeta(`FROM rent_history WHERE book_id = $1 AND status IN ($2, $3)`)
	closeRentSQL  = regexp.QuoteMeta(`UPDATE rent_history SET return_date = $1, status = $2, late_return_fee = $3 WHERE id = $4`)

	rentedAt = time.Date(2025, 10, 5, 12, 0, 0, 0, time.UTC)
)

type captureSink struct {
	events []*audit.Event
}

func (c *captureSink) Log(ctx context.Context, event *audit.Event) error {
	c.events = append(c.events, event)
	return nil
}

func (c *captureSink) Close() error {
	return nil
}

type mockFixture struct {
	service *Service
	mock    sqlmock.Sqlmock
	clock   *clockwork.FakeClock
	metrics *observability.Metrics
	sink    *captureSink
}

func newMockFixture(t *testing.T, now time.Time) *mockFixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &mockFixture{
		mock:    mock,
		clock:   clockwork.NewFakeClockAt(now),
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		sink:    &captureSink{},
	}
	f.service = NewService(db, f.clock, DefaultFeePolicy(), f.metrics, audit.NewRecorder(f.sink, f.clock, nil))
	return f
}

func rentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "book_id", "user_id", "created_by", "rented_date", "return_date", "status", "late_return_fee"})
}

func int64Ptr(v int64) *int64 {
	return &v
}

func TestService_CreateRent(t *testing.T) {
	in := CreateInput{BookID: 7, UserID: 3, RentedDate: rentedAt}

	t.Run("available book", func(t *testing.T) {
		f := newMockFixture(t, rentedAt)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockBookSQL).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("AVAILABLE"))
		f.mock.ExpectQuery(openExistsSQL).WithArgs(int64(7), "COMPLETED").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		f.mock.ExpectExec(setStatusSQL).WithArgs("RENTED", int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectQuery(insertRentSQL).WithArgs(int64(7), int64(3), int64(9), rentedAt, "IN_PROGRESS").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
		f.mock.ExpectCommit()

		rent, err := f.service.CreateRent(context.Background(), int64Ptr(9), in)
		require.NoError(t, err)
		assert.Equal(t, int64(11), rent.ID)
		assert.Equal(t, StatusInProgress, rent.Status)
		require.NotNil(t, rent.CreatedBy)
		assert.Equal(t, int64(9), *rent.CreatedBy)
		assert.Nil(t, rent.ReturnDate)
		assert.NoError(t, f.mock.ExpectationsWereMet())

		assert.Equal(t, float64(1), promtestutil.ToFloat64(f.metrics.RentsTotal.WithLabelValues("created")))
		require.Len(t, f.sink.events, 1)
		assert.Equal(t, audit.EventTypeRentCreate, f.sink.events[0].EventType)
	})

	t.Run("book not available", func(t *testing.T) {
		f := newMockFixture(t, rentedAt)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockBookSQL).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("RENTED"))
		f.mock.ExpectQuery(openExistsSQL).WithArgs(int64(7), "COMPLETED").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		f.mock.ExpectRollback()

		_, err := f.service.CreateRent(context.Background(), int64Ptr(9), in)
		assert.True(t, apperrors.Is(err, apperrors.KindBusinessRule))
		assert.Equal(t, ReasonAlreadyRented, apperrors.ReasonOf(err))
		assert.NoError(t, f.mock.ExpectationsWereMet())

		assert.Equal(t, float64(1), promtestutil.ToFloat64(f.metrics.RentsTotal.WithLabelValues("business_rule")))
		assert.Empty(t, f.sink.events)
	})

	t.Run("available book with an unsettled record", func(t *testing.T) {
		f := newMockFixture(t, rentedAt)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockBookSQL).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("AVAILABLE"))
		f.mock.ExpectQuery(openExistsSQL).WithArgs(int64(7), "COMPLETED").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		f.mock.ExpectRollback()

		_, err := f.service.CreateRent(context.Background(), int64Ptr(9), in)
		assert.Equal(t, ReasonAlreadyRented, apperrors.ReasonOf(err))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("unknown book", func(t *testing.T) {
		f := newMockFixture(t, rentedAt)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockBookSQL).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}))
		f.mock.ExpectRollback()

		_, err := f.service.CreateRent(context.Background(), int64Ptr(9), in)
		assert.True(t, apperrors.Is(err, apperrors.KindValidation))
		assert.Equal(t, map[string]string{"book_id": "does_not_exist"}, apperrors.FieldsOf(err))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("book status write fails", func(t *testing.T) {
		f := newMockFixture(t, rentedAt)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockBookSQL).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("AVAILABLE"))
		f.mock.ExpectQuery(openExistsSQL).WithArgs(int64(7), "COMPLETED").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		f.mock.ExpectExec(setStatusSQL).WithArgs("RENTED", int64(7)).
			WillReturnError(&pq.Error{Code: "23514"})
		f.mock.ExpectRollback()

		_, err := f.service.CreateRent(context.Background(), int64Ptr(9), in)
		assert.True(t, apperrors.Is(err, apperrors.KindInternal))
		assert.Equal(t, ReasonBookStatusFailure, apperrors.ReasonOf(err))
		assert.NoError(t, f.mock.ExpectationsWereMet(), "no rent record is inserted")
	})

	t.Run("concurrent rent wins the index", func(t *testing.T) {
		f := newMockFixture(t, rentedAt)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockBookSQL).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("AVAILABLE"))
		f.mock.ExpectQuery(openExistsSQL).WithArgs(int64(7), "COMPLETED").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		f.mock.ExpectExec(setStatusSQL).WithArgs("RENTED", int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectQuery(insertRentSQL).
			WillReturnError(&pq.Error{Code: "23505"})
		f.mock.ExpectRollback()

		_, err := f.service.CreateRent(context.Background(), int64Ptr(9), in)
		assert.True(t, apperrors.Is(err, apperrors.KindBusinessRule))
		assert.Equal(t, ReasonAlreadyRented, apperrors.ReasonOf(err))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestService_ReturnBook(t *testing.T) {
	returnedAt := time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC)

	expectLocked := func(f *mockFixture, bookStatus string, open *sqlmock.Rows) {
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockBookSQL).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(bookStatus))
		f.mock.ExpectQuery(openRentSQL).WithArgs(int64(7), "IN_PROGRESS", "OVERDUE").
			WillReturnRows(open)
	}

	t.Run("late return is charged", func(t *testing.T) {
		f := newMockFixture(t, returnedAt)
		expectLocked(f, "RENTED", rentRows().AddRow(int64(11), int64(7), int64(3), int64(9), rentedAt, nil, "IN_PROGRESS", int64(0)))
		f.mock.ExpectExec(setStatusSQL).WithArgs("AVAILABLE", int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(closeRentSQL).WithArgs(returnedAt, "UNPAID", "400", int64(11)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		rent, err := f.service.ReturnBook(context.Background(), int64Ptr(9), 7)
		require.NoError(t, err)
		assert.Equal(t, StatusUnpaid, rent.Status)
		assert.Equal(t, "400", rent.LateReturnFee.String())
		require.NotNil(t, rent.ReturnDate)
		assert.Equal(t, returnedAt, *rent.ReturnDate)
		assert.NoError(t, f.mock.ExpectationsWereMet())

		assert.Equal(t, float64(400), promtestutil.ToFloat64(f.metrics.LateFeesTotal))
		require.Len(t, f.sink.events, 1)
		assert.Equal(t, audit.EventTypeRentReturn, f.sink.events[0].EventType)
		assert.Equal(t, "400", f.sink.events[0].Metadata["late_return_fee"])
	})

	t.Run("return inside the grace period", func(t *testing.T) {
		f := newMockFixture(t, time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC))
		expectLocked(f, "RENTED", rentRows().AddRow(int64(11), int64(7), int64(3), int64(9), rentedAt, nil, "IN_PROGRESS", int64(0)))
		f.mock.ExpectExec(setStatusSQL).WithArgs("AVAILABLE", int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(closeRentSQL).WithArgs(sqlmock.AnyArg(), "COMPLETED", "0", int64(11)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		rent, err := f.service.ReturnBook(context.Background(), int64Ptr(9), 7)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, rent.Status)
		assert.True(t, rent.LateReturnFee.IsZero())
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("overdue record inside the grace period", func(t *testing.T) {
		f := newMockFixture(t, time.Date(2025, 10, 8, 12, 0, 0, 0, time.UTC))
		expectLocked(f, "RENTED", rentRows().AddRow(int64(11), int64(7), int64(3), int64(9), rentedAt, nil, "OVERDUE", int64(0)))
		f.mock.ExpectExec(setStatusSQL).WithArgs("AVAILABLE", int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(closeRentSQL).WithArgs(sqlmock.AnyArg(), "UNPAID", "0", int64(11)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		rent, err := f.service.ReturnBook(context.Background(), nil, 7)
		require.NoError(t, err)
		assert.Equal(t, StatusUnpaid, rent.Status)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("out of service", func(t *testing.T) {
		f := newMockFixture(t, returnedAt)
		expectLocked(f, "OUT_OF_SERVICE", rentRows().AddRow(int64(11), int64(7), int64(3), int64(9), rentedAt, nil, "IN_PROGRESS", int64(0)))
		f.mock.ExpectRollback()

		_, err := f.service.ReturnBook(context.Background(), int64Ptr(9), 7)
		assert.True(t, apperrors.Is(err, apperrors.KindBusinessRule))
		assert.Equal(t, ReasonOutOfService, apperrors.ReasonOf(err))
		assert.NoError(t, f.mock.ExpectationsWereMet())
		assert.Empty(t, f.sink.events)
	})

	t.Run("no open record", func(t *testing.T) {
		f := newMockFixture(t, returnedAt)
		expectLocked(f, "RENTED", rentRows())
		f.mock.ExpectRollback()

		_, err := f.service.ReturnBook(context.Background(), int64Ptr(9), 7)
		assert.Equal(t, ReasonAlreadyReturned, apperrors.ReasonOf(err))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("book already available", func(t *testing.T) {
		f := newMockFixture(t, returnedAt)
		expectLocked(f, "AVAILABLE", rentRows().AddRow(int64(11), int64(7), int64(3), int64(9), rentedAt, nil, "IN_PROGRESS", int64(0)))
		f.mock.ExpectRollback()

		_, err := f.service.ReturnBook(context.Background(), int64Ptr(9), 7)
		assert.Equal(t, ReasonAlreadyReturned, apperrors.ReasonOf(err))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("unknown book", func(t *testing.T) {
		f := newMockFixture(t, returnedAt)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockBookSQL).WithArgs(int64(7)).
			WillReturnError(sql.ErrNoRows)
		f.mock.ExpectRollback()

		_, err := f.service.ReturnBook(context.Background(), int64Ptr(9), 7)
		assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("rent write fails", func(t *testing.T) {
		f := newMockFixture(t, returnedAt)
		expectLocked(f, "RENTED", rentRows().AddRow(int64(11), int64(7), int64(3), int64(9), rentedAt, nil, "IN_PROGRESS", int64(0)))
		f.mock.ExpectExec(setStatusSQL).WithArgs("AVAILABLE", int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(closeRentSQL).
			WillReturnError(sql.ErrConnDone)
		f.mock.ExpectRollback()

		_, err := f.service.ReturnBook(context.Background(), int64Ptr(9), 7)
		assert.ErrorIs(t, err, sql.ErrConnDone)
		assert.NoError(t, f.mock.ExpectationsWereMet(), "the book flip is rolled back with it")
	})
}
