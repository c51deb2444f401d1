package catalog

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/mux"
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

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
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
	NewHandlers(NewStore(db), rbac.NewEngine(rbac.NewStore(db), nil, nil)).RegisterRoutes(f.router)
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

func TestHandlers_Books(t *testing.T) {
	f := newHandlerFixture(t)
	admin := f.user(t, "admin", true)
	clerk := f.user(t, "clerk", false)
	reader := f.user(t, "reader", false)
	testutil.GrantActions(t, f.db, clerk, "clerks", "CREATE", "UPDATE")

	rec := f.do(http.MethodPost, "/books/create", reader, `{"name":"Dune","author":"Herbert"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code, "no CREATE permission")

	rec = f.do(http.MethodPost, "/books/create", clerk, `{"name":"Dune","author":"Herbert"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var book Book
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &book))
	assert.Equal(t, StatusAvailable, book.Status)
	require.NotNil(t, book.CreatedBy)
	assert.Equal(t, clerk, *book.CreatedBy)

	rec = f.do(http.MethodPost, "/books/create", clerk, `{"name":"Emma","author":"Austen","status":"OUT_OF_SERVICE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "admin_only")

	rec = f.do(http.MethodPost, "/books/create", clerk, `{"name":"Emma","author":"Austen","status":"LOST"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/books/create", clerk, `{"author":"Austen"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"required"`)

	path := strconv.FormatInt(book.ID, 10)
	rec = f.do(http.MethodGet, "/books/"+path, reader, "")
	assert.Equal(t, http.StatusOK, rec.Code, "public read")

	rec = f.do(http.MethodGet, "/books/list", 0, "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "anonymous")

	rec = f.do(http.MethodPatch, "/books/update/"+path, clerk, `{"author":"Frank Herbert"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"author":"Frank Herbert"`)

	rec = f.do(http.MethodPatch, "/books/update/"+path, clerk, `{"status":"OUT_OF_SERVICE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPatch, "/books/update/"+path, clerk, `{"status":"AVAILABLE"}`)
	assert.Equal(t, http.StatusOK, rec.Code, "unchanged status is allowed")

	rec = f.do(http.MethodPut, "/books/update/"+path, admin, `{"name":"Dune","author":"Herbert","status":"OUT_OF_SERVICE"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"OUT_OF_SERVICE"`)

	rec = f.do(http.MethodDelete, "/books/delete/"+path, clerk, "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "no DELETE permission")

	rec = f.do(http.MethodDelete, "/books/delete/"+path, admin, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/books/"+path, reader, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_TagsAndBindings(t *testing.T) {
	f := newHandlerFixture(t)
	admin := f.user(t, "admin", true)
	reader := f.user(t, "reader", false)
	bookID := testutil.InsertBook(t, f.db, "Dune", string(StatusAvailable))

	rec := f.do(http.MethodPost, "/tags/create", reader, `{"name":"sf"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/tags/create", admin, `{"name":"sf"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tag Tag
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tag))

	rec = f.do(http.MethodPost, "/tags/create", admin, `{"name":"sf"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "tag already exists")

	rec = f.do(http.MethodGet, "/tags/list", reader, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	body := `{"book_id":` + strconv.FormatInt(bookID, 10) + `,"tag_id":` + strconv.FormatInt(tag.ID, 10) + `}`
	rec = f.do(http.MethodPost, "/tags/assign", admin, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var binding TagBinding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &binding))

	rec = f.do(http.MethodPost, "/tags/assign", admin, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "tag is already assigned to this book")

	rec = f.do(http.MethodGet, "/tags/binding/"+strconv.FormatInt(binding.ID, 10), reader, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPut, "/tags/update/"+strconv.FormatInt(tag.ID, 10), admin, `{"name":"science-fiction"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "science-fiction")

	rec = f.do(http.MethodDelete, "/tags/delete/"+strconv.FormatInt(tag.ID, 10), admin, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/tags/binding/"+strconv.FormatInt(binding.ID, 10), reader, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "bindings go with their tag")
}
