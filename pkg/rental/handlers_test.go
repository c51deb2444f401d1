package rental

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rentshelf/pkg/auth"
	"github.com/platinummonkey/rentshelf/pkg/rbac"
	"github.com/platinummonkey/rentshelf/pkg/testutil"
)

type handlerFixture struct {
	db     *sql.DB
	router *mux.Router
	users  map[int64]*auth.User
}

// newHandlerFixture serves the rental routes. Access decisions always read
// the sqlite database; rentals use service when given.
func newHandlerFixture(t *testing.T, service *Service) *handlerFixture {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	if service == nil {
		service = NewService(db, clockwork.NewFakeClockAt(rentedAt), DefaultFeePolicy(), nil, nil)
	}

	f := &handlerFixture{db: db, router: mux.NewRouter(), users: map[int64]*auth.User{}}
	f.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := strconv.ParseInt(r.Header.Get("X-Test-User"), 10, 64)
			if u, ok := f.users[id]; ok {
				r = r.WithContext(auth.WithAuthContext(r.Context(), &auth.AuthContext{User: u}))
			}
			next.ServeHTTP(w, r)
		})
	})
	NewHandlers(service, rbac.NewEngine(rbac.NewStore(db), nil, nil)).RegisterRoutes(f.router)
	return f
}

func (f *handlerFixture) user(t *testing.T, name string, admin bool) int64 {
	id := testutil.InsertUser(t, f.db, name, admin)
	f.users[id] = &auth.User{ID: id, Username: name, IsAdmin: admin, IsActive: true}
	return id
}

func (f *handlerFixture) do(method, path string, as int64, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if as != 0 {
		req.Header.Set("X-Test-User", strconv.FormatInt(as, 10))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_RentRecords(t *testing.T) {
	f := newHandlerFixture(t, nil)
	admin := f.user(t, "admin", true)
	alice := f.user(t, "alice", false)
	bob := f.user(t, "bob", false)
	auditor := f.user(t, "auditor", false)
	testutil.GrantActions(t, f.db, auditor, "auditors", "READ_ALL")

	book := testutil.InsertBook(t, f.db, "Dune", "RENTED")
	other := testutil.InsertBook(t, f.db, "Emma", "AVAILABLE")
	mine := testutil.InsertRent(t, f.db, book, &alice, &admin, "IN_PROGRESS", rentedAt)
	testutil.InsertRent(t, f.db, other, &bob, &bob, "COMPLETED", rentedAt)

	count := func(as int64) int {
		rec := f.do(http.MethodGet, "/books/rent/list", as, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var rents []Rent
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rents))
		return len(rents)
	}
	assert.Equal(t, 1, count(alice))
	assert.Equal(t, 1, count(bob))
	assert.Equal(t, 2, count(auditor))
	assert.Equal(t, 2, count(admin))

	rec := f.do(http.MethodGet, "/books/rent/list", 0, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	path := strconv.FormatInt(mine, 10)
	rec = f.do(http.MethodGet, "/books/rent/"+path, alice, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodGet, "/books/rent/"+path, bob, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPatch, "/books/rent/update/"+path, alice, `{"status":"COMPLETED"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code, "renters cannot settle their own records")

	rec = f.do(http.MethodPatch, "/books/rent/update/"+path, admin, `{"status":"LOST"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPatch, "/books/rent/update/"+path, admin, `{"status":"OVERDUE"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"OVERDUE"`)

	rec = f.do(http.MethodPut, "/books/rent/update/"+path, admin, `{"book_id":`+strconv.FormatInt(book, 10)+`}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "PUT needs the whole record")

	rec = f.do(http.MethodDelete, "/books/rent/delete/"+path, bob, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodDelete, "/books/rent/delete/"+path, admin, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandlers_RentAndReturn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := newHandlerFixture(t, NewService(db, clockwork.NewFakeClockAt(rentedAt), DefaultFeePolicy(), nil, nil))
	clerk := f.user(t, "clerk", false)
	reader := f.user(t, "reader", false)
	testutil.GrantActions(t, f.db, clerk, "clerks", "CREATE", "UPDATE")

	body := `{"book_id":7,"user_id":3,"rented_date":"2025-10-05T12:00:00Z"}`
	rec := f.do(http.MethodPost, "/books/rent/create", reader, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/books/rent/create", clerk, `{"book_id":7,"user_id":3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "rented_date has no default")

	mock.ExpectBegin()
	mock.ExpectQuery(lockBookSQL).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("AVAILABLE"))
	mock.ExpectQuery(openExistsSQL).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(setStatusSQL).WithArgs("RENTED", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(insertRentSQL).WithArgs(int64(7), int64(3), clerk, rentedAt, "IN_PROGRESS").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectCommit()

	rec = f.do(http.MethodPost, "/books/rent/create", clerk, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"rent_id":11`)

	mock.ExpectBegin()
	mock.ExpectQuery(lockBookSQL).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("RENTED"))
	mock.ExpectQuery(openExistsSQL).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	rec = f.do(http.MethodPost, "/books/rent/create", clerk, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), ReasonAlreadyRented)

	rec = f.do(http.MethodPatch, "/books/return/7", reader, "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "returns need UPDATE")

	mock.ExpectBegin()
	mock.ExpectQuery(lockBookSQL).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("RENTED"))
	mock.ExpectQuery(openRentSQL).
		WillReturnRows(rentRows().AddRow(int64(11), int64(7), int64(3), clerk, rentedAt, nil, "IN_PROGRESS", int64(0)))
	mock.ExpectExec(setStatusSQL).WithArgs("AVAILABLE", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(closeRentSQL).WithArgs(rentedAt, "COMPLETED", int64(0), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec = f.do(http.MethodPatch, "/books/return/7", clerk, "")
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Body.String())

	mock.ExpectBegin()
	mock.ExpectQuery(lockBookSQL).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("AVAILABLE"))
	mock.ExpectQuery(openRentSQL).
		WillReturnRows(rentRows())
	mock.ExpectRollback()

	rec = f.do(http.MethodPatch, "/books/return/7", clerk, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), ReasonAlreadyReturned)

	assert.NoError(t, mock.ExpectationsWereMet())
}
