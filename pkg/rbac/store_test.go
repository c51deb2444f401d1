package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rentshelf/pkg/apperrors"
	"github.com/platinummonkey/rentshelf/pkg/testutil"
)

func TestStore_PermissionActionsFor_UnionAcrossRoles(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	store := NewStore(db)

	alice := testutil.InsertUser(t, db, "alice", false)
	bob := testutil.InsertUser(t, db, "bob", false)
	testutil.GrantActions(t, db, alice, "librarian", "CREATE", "UPDATE")
	testutil.GrantActions(t, db, alice, "auditor", "READ_ALL", "UPDATE")

	actions, err := store.PermissionActionsFor(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, NewActionSet(ActionCreate, ActionUpdate, ActionReadAll), actions)

	actions, err = store.PermissionActionsFor(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestStore_HasAnyRoleWithAction(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	store := NewStore(db)

	editor := testutil.InsertUser(t, db, "editor", false)
	super := testutil.InsertUser(t, db, "super", false)
	testutil.GrantActions(t, db, editor, "editors", "UPDATE")
	testutil.GrantActions(t, db, super, "supers", "ALL")

	ok, err := store.HasAnyRoleWithAction(ctx, editor, ActionUpdate)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.HasAnyRoleWithAction(ctx, editor, ActionDelete)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.HasAnyRoleWithAction(ctx, super, ActionDelete)
	require.NoError(t, err)
	assert.True(t, ok, "ALL matches any action")
}

func TestStore_BookReturnThroughEngine(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	engine := NewEngine(NewStore(db), nil, nil)

	editor := testutil.InsertUser(t, db, "editor", false)
	super := testutil.InsertUser(t, db, "super", false)
	remover := testutil.InsertUser(t, db, "remover", false)
	testutil.GrantActions(t, db, editor, "editors", "UPDATE")
	testutil.GrantActions(t, db, super, "supers", "ALL")
	testutil.GrantActions(t, db, remover, "removers", "DELETE")

	tests := []struct {
		name    string
		userID  int64
		allowed bool
	}{
		{"update role", editor, true},
		{"all role", super, true},
		{"delete role only", remover, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := engine.Decide(ctx, ResourceBookReturn, Request{Principal: principal(tt.userID, false), Operation: OpReturn})
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, decision.Allowed, decision.Reason)
		})
	}
}

func TestStore_RoleCRUD(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	store := NewStore(db)

	desc := "Front desk staff"
	role := &Role{Name: "clerk", Description: &desc}
	require.NoError(t, store.CreateRole(ctx, role))
	assert.NotZero(t, role.ID)

	got, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "clerk", got.Name)
	require.NotNil(t, got.Description)
	assert.Equal(t, desc, *got.Description)

	got.Name = "senior-clerk"
	got.Description = nil
	require.NoError(t, store.UpdateRole(ctx, got))

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "senior-clerk", roles[0].Name)
	assert.Nil(t, roles[0].Description)

	err = store.CreateRole(ctx, &Role{Name: "senior-clerk"})
	assert.True(t, apperrors.Is(err, apperrors.KindBusinessRule), "duplicate role name: %v", err)

	_, err = store.GetRole(ctx, 9999)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestStore_DeleteRoleRemovesBindings(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	store := NewStore(db)

	user := testutil.InsertUser(t, db, "carol", false)
	roleID := testutil.GrantActions(t, db, user, "staff", "CREATE")

	require.NoError(t, store.DeleteRole(ctx, roleID))

	actions, err := store.PermissionActionsFor(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, actions)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM role_permission_bindings`).Scan(&n))
	assert.Zero(t, n)

	err = store.DeleteRole(ctx, roleID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestStore_DuplicateBindingsRejected(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	store := NewStore(db)

	_, err := store.SeedPermissions(ctx, DefaultPermissionSeed())
	require.NoError(t, err)

	user := testutil.InsertUser(t, db, "dave", false)
	role := &Role{Name: "members"}
	require.NoError(t, store.CreateRole(ctx, role))

	require.NoError(t, store.CreateUserRoleBinding(ctx, &UserRoleBinding{UserID: user, RoleID: role.ID}))
	err = store.CreateUserRoleBinding(ctx, &UserRoleBinding{UserID: user, RoleID: role.ID})
	assert.True(t, apperrors.Is(err, apperrors.KindBusinessRule), "duplicate user role binding: %v", err)

	require.NoError(t, store.CreateRolePermissionBinding(ctx, &RolePermissionBinding{RoleID: role.ID, PermissionID: 1}))
	err = store.CreateRolePermissionBinding(ctx, &RolePermissionBinding{RoleID: role.ID, PermissionID: 1})
	assert.True(t, apperrors.Is(err, apperrors.KindBusinessRule), "duplicate role permission binding: %v", err)

	err = store.CreateUserRoleBinding(ctx, &UserRoleBinding{UserID: 424242, RoleID: role.ID})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation), "unknown user: %v", err)
}

func TestStore_SeedPermissionsIsIdempotent(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	store := NewStore(db)

	n, err := store.SeedPermissions(ctx, DefaultPermissionSeed())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = store.SeedPermissions(ctx, DefaultPermissionSeed())
	require.NoError(t, err)
	assert.Zero(t, n)

	permissions, err := store.ListPermissions(ctx)
	require.NoError(t, err)
	require.Len(t, permissions, 5)
	assert.Equal(t, ActionCreate, permissions[0].Action)
}

func TestStore_UserRoleBindingsScoped(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	store := NewStore(db)

	erin := testutil.InsertUser(t, db, "erin", false)
	frank := testutil.InsertUser(t, db, "frank", false)
	testutil.GrantActions(t, db, erin, "a", "CREATE")
	testutil.GrantActions(t, db, frank, "b", "CREATE")

	all, err := store.ListUserRoleBindings(ctx, Unscoped)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	own, err := store.ListUserRoleBindings(ctx, Scope{UserID: erin})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, erin, own[0].UserID)

	var frankBinding int64
	for _, b := range all {
		if b.UserID == frank {
			frankBinding = b.ID
		}
	}
	_, err = store.GetUserRoleBinding(ctx, frankBinding, Scope{UserID: erin})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound), "out of scope reads as not found")

	got, err := store.GetUserRoleBinding(ctx, frankBinding, Unscoped)
	require.NoError(t, err)
	assert.Equal(t, frank, got.UserID)
}
