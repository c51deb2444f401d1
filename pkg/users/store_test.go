package users

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rentshelf/pkg/apperrors"
	"github.com/platinummonkey/rentshelf/pkg/auth"
	"github.com/platinummonkey/rentshelf/pkg/testutil"
)

func newUser(username, email string) *auth.User {
	return &auth.User{
		Username:     username,
		Email:        email,
		Age:          25,
		FirstName:    "First",
		LastName:     "Last",
		IsActive:     true,
		PasswordHash: "hash",
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore(testutil.NewSQLiteDB(t))
	ctx := context.Background()

	u := newUser("jane", "jane@example.com")
	require.NoError(t, store.CreateUser(ctx, u))
	assert.NotZero(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	got, err := store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane", got.Username)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.True(t, got.IsActive)

	got, err = store.GetUserByUsername(ctx, "jane")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = store.GetUserByID(ctx, 999)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	_, err = store.GetUserByUsername(ctx, "nobody")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	err = store.CreateUser(ctx, newUser("jane", "other@example.com"))
	assert.True(t, apperrors.Is(err, apperrors.KindBusinessRule), "duplicate username: %v", err)
}

func TestStore_EmailTaken(t *testing.T) {
	store := NewStore(testutil.NewSQLiteDB(t))
	ctx := context.Background()

	u := newUser("jane", "jane@example.com")
	require.NoError(t, store.CreateUser(ctx, u))

	taken, err := store.EmailTaken(ctx, "jane@example.com", 0)
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = store.EmailTaken(ctx, "jane@example.com", u.ID)
	require.NoError(t, err)
	assert.False(t, taken, "own row is excluded")

	taken, err = store.EmailTaken(ctx, "john@example.com", 0)
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestStore_UpdateUser(t *testing.T) {
	store := NewStore(testutil.NewSQLiteDB(t))
	ctx := context.Background()

	u := newUser("jane", "jane@example.com")
	require.NoError(t, store.CreateUser(ctx, u))

	u.FirstName = "Janet"
	u.IsAdmin = true
	require.NoError(t, store.UpdateUser(ctx, u))

	got, err := store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Janet", got.FirstName)
	assert.True(t, got.IsAdmin)

	missing := newUser("ghost", "ghost@example.com")
	missing.ID = 999
	assert.True(t, apperrors.Is(store.UpdateUser(ctx, missing), apperrors.KindNotFound))
}

func TestStore_ListUsers(t *testing.T) {
	store := NewStore(testutil.NewSQLiteDB(t))
	ctx := context.Background()

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	require.NoError(t, store.CreateUser(ctx, newUser("a", "a@example.com")))
	require.NoError(t, store.CreateUser(ctx, newUser("b", "b@example.com")))

	users, err = store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestStore_DeleteUserDetachesReferences(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	store := NewStore(db)
	ctx := context.Background()

	doomed := testutil.InsertUser(t, db, "doomed", false)
	other := testutil.InsertUser(t, db, "other", false)
	testutil.GrantActions(t, db, doomed, "readers", "READ_ALL")

	bookID := testutil.InsertBook(t, db, "Dune", "AVAILABLE")
	_, err := db.Exec(`UPDATE books SET created_by = ? WHERE id = ?`, doomed, bookID)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO tags (name, created_by) VALUES ('sf', ?)`, doomed)
	require.NoError(t, err)

	rentID := testutil.InsertRent(t, db, bookID, testutil.Int64(doomed), testutil.Int64(doomed), "COMPLETED", time.Now())
	otherRent := testutil.InsertRent(t, db, bookID, testutil.Int64(other), testutil.Int64(doomed), "COMPLETED", time.Now())
	_, err = db.Exec(`INSERT INTO book_reviews (user_id, book_id, review) VALUES (?, ?, 'great')`, doomed, bookID)
	require.NoError(t, err)

	require.NoError(t, store.DeleteUser(ctx, doomed))

	_, err = store.GetUserByID(ctx, doomed)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	var createdBy sql.NullInt64
	require.NoError(t, db.QueryRow(`SELECT created_by FROM books WHERE id = ?`, bookID).Scan(&createdBy))
	assert.False(t, createdBy.Valid)
	require.NoError(t, db.QueryRow(`SELECT created_by FROM tags WHERE name = 'sf'`).Scan(&createdBy))
	assert.False(t, createdBy.Valid)

	var renter sql.NullInt64
	require.NoError(t, db.QueryRow(`SELECT user_id, created_by FROM rent_history WHERE id = ?`, rentID).Scan(&renter, &createdBy))
	assert.False(t, renter.Valid)
	assert.False(t, createdBy.Valid)
	require.NoError(t, db.QueryRow(`SELECT user_id, created_by FROM rent_history WHERE id = ?`, otherRent).Scan(&renter, &createdBy))
	assert.Equal(t, other, renter.Int64, "other renters are untouched")
	assert.False(t, createdBy.Valid)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM book_reviews`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM user_role_bindings`).Scan(&n))
	assert.Zero(t, n)

	assert.True(t, apperrors.Is(store.DeleteUser(ctx, doomed), apperrors.KindNotFound))
}
