package rbac

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/rentshelf/pkg/audit"
	"github.com/platinummonkey/rentshelf/pkg/auth"
	"github.com/platinummonkey/rentshelf/pkg/httputil"
)

// Handlers provides HTTP handlers for roles, permissions and their bindings
type Handlers struct {
	store       *Store
	engine      *Engine
	invalidator Invalidator
	audit       *audit.Recorder
}

// NewHandlers creates new RBAC handlers. invalidator may be nil when no cache is in use.
func NewHandlers(store *Store, engine *Engine, invalidator Invalidator, recorder *audit.Recorder) *Handlers {
	return &Handlers{
		store:       store,
		engine:      engine,
		invalidator: invalidator,
		audit:       recorder,
	}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	e := h.engine

	// Roles
	router.Handle("/roles/list", e.Guard(ResourceRole, OpList, h.ListRoles)).Methods(http.MethodGet)
	router.Handle("/roles/create", e.Guard(ResourceRole, OpCreate, h.CreateRole)).Methods(http.MethodPost)
	router.Handle("/roles/{role_id:[0-9]+}", e.Guard(ResourceRole, OpRetrieve, h.GetRole)).Methods(http.MethodGet)
	router.Handle("/roles/update/{role_id:[0-9]+}", e.GuardUpdate(ResourceRole, h.UpdateRole)).Methods(http.MethodPut, http.MethodPatch)
	router.Handle("/roles/delete/{role_id:[0-9]+}", e.Guard(ResourceRole, OpDestroy, h.DeleteRole)).Methods(http.MethodDelete)

	// User role bindings
	router.Handle("/roles/list-binding", e.Guard(ResourceRoleBinding, OpList, h.ListRoleBindings)).Methods(http.MethodGet)
	router.Handle("/roles/assign", e.Guard(ResourceRoleBinding, OpCreate, h.AssignRole)).Methods(http.MethodPost)
	router.Handle("/roles/binding/{id:[0-9]+}", e.Guard(ResourceRoleBinding, OpRetrieve, h.GetRoleBinding)).Methods(http.MethodGet)
	router.Handle("/roles/update-binding/{id:[0-9]+}", e.GuardUpdate(ResourceRoleBinding, h.UpdateRoleBinding)).Methods(http.MethodPut, http.MethodPatch)
	router.Handle("/roles/delete-binding/{id:[0-9]+}", e.Guard(ResourceRoleBinding, OpDestroy, h.DeleteRoleBinding)).Methods(http.MethodDelete)

	// Role permission bindings
	router.Handle("/permission/actions", e.Guard(ResourcePermissionBinding, OpList, h.ListPermissions)).Methods(http.MethodGet)
	router.Handle("/permission/list", e.Guard(ResourcePermissionBinding, OpList, h.ListPermissionBindings)).Methods(http.MethodGet)
	router.Handle("/permission/assign", e.Guard(ResourcePermissionBinding, OpCreate, h.AssignPermission)).Methods(http.MethodPost)
	router.Handle("/permission/{id:[0-9]+}", e.Guard(ResourcePermissionBinding, OpRetrieve, h.GetPermissionBinding)).Methods(http.MethodGet)
	router.Handle("/permission/update/{id:[0-9]+}", e.GuardUpdate(ResourcePermissionBinding, h.UpdatePermissionBinding)).Methods(http.MethodPut, http.MethodPatch)
	router.Handle("/permission/delete/{id:[0-9]+}", e.Guard(ResourcePermissionBinding, OpDestroy, h.DeletePermissionBinding)).Methods(http.MethodDelete)
}

type roleRequest struct {
	Name        string  `json:"name" validate:"required,max=255"`
	Description *string `json:"description"`
}

type rolePatchRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description"`
}

type roleBindingRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

type roleBindingPatchRequest struct {
	UserID *int64 `json:"user_id" validate:"omitempty,gt=0"`
	RoleID *int64 `json:"role_id" validate:"omitempty,gt=0"`
}

type permissionBindingRequest struct {
	RoleID       int64 `json:"role_id" validate:"required,gt=0"`
	PermissionID int64 `json:"permission_id" validate:"required,gt=0"`
}

type permissionBindingPatchRequest struct {
	RoleID       *int64 `json:"role_id" validate:"omitempty,gt=0"`
	PermissionID *int64 `json:"permission_id" validate:"omitempty,gt=0"`
}

// ListRoles lists all roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// CreateRole creates a new role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	role := &Role{Name: req.Name, Description: req.Description}
	if err := h.store.CreateRole(r.Context(), role); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.RoleChanged(r.Context(), actorID(r.Context()), string(ResourceRole), "create", role.ID)
	httputil.WriteCreated(w, role)
}

// GetRole retrieves a role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole replaces (PUT) or patches (PATCH) a role
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	if httputil.IsPartial(r) {
		var req rolePatchRequest
		if err := httputil.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		if req.Name != nil {
			role.Name = *req.Name
		}
		if req.Description != nil {
			role.Description = req.Description
		}
	} else {
		var req roleRequest
		if err := httputil.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		role.Name = req.Name
		role.Description = req.Description
	}

	if err := h.store.UpdateRole(ctx, role); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.audit.RoleChanged(ctx, actorID(ctx), string(ResourceRole), "update", role.ID)
	httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a role and its bindings
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "role_id")
	if !ok {
		return
	}

	if err := h.store.DeleteRole(ctx, id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.invalidateAll(ctx)
	h.audit.RoleChanged(ctx, actorID(ctx), string(ResourceRole), "delete", id)
	httputil.WriteNoContent(w)
}

// ListRoleBindings lists the user role bindings visible to the caller
func (h *Handlers) ListRoleBindings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope, err := h.engine.ScopeFor(ctx, auth.FromContext(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	bindings, err := h.store.ListUserRoleBindings(ctx, scope)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, bindings)
}

// AssignRole binds a role to a user
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req roleBindingRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	binding := &UserRoleBinding{UserID: req.UserID, RoleID: req.RoleID}
	if err := h.store.CreateUserRoleBinding(ctx, binding); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.invalidateUsers(ctx, binding.UserID)
	h.audit.RoleChanged(ctx, actorID(ctx), string(ResourceRoleBinding), "create", binding.ID)
	httputil.WriteCreated(w, binding)
}

// GetRoleBinding retrieves a user role binding visible to the caller
func (h *Handlers) GetRoleBinding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	scope, err := h.engine.ScopeFor(ctx, auth.FromContext(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	binding, err := h.store.GetUserRoleBinding(ctx, id, scope)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, binding)
}

// UpdateRoleBinding repoints a user role binding
func (h *Handlers) UpdateRoleBinding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	binding, err := h.store.GetUserRoleBinding(ctx, id, Unscoped)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	previousUser := binding.UserID

	if httputil.IsPartial(r) {
		var req roleBindingPatchRequest
		if err := httputil.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		if req.UserID != nil {
			binding.UserID = *req.UserID
		}
		if req.RoleID != nil {
			binding.RoleID = *req.RoleID
		}
	} else {
		var req roleBindingRequest
		if err := httputil.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		binding.UserID = req.UserID
		binding.RoleID = req.RoleID
	}

	if err := h.store.UpdateUserRoleBinding(ctx, binding); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.invalidateUsers(ctx, previousUser, binding.UserID)
	h.audit.RoleChanged(ctx, actorID(ctx), string(ResourceRoleBinding), "update", binding.ID)
	httputil.WriteSuccess(w, binding)
}

// DeleteRoleBinding removes a user role binding
func (h *Handlers) DeleteRoleBinding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	binding, err := h.store.GetUserRoleBinding(ctx, id, Unscoped)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if err := h.store.DeleteUserRoleBinding(ctx, id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.invalidateUsers(ctx, binding.UserID)
	h.audit.RoleChanged(ctx, actorID(ctx), string(ResourceRoleBinding), "delete", id)
	httputil.WriteNoContent(w)
}

// ListPermissions lists the seeded permissions
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	permissions, err := h.store.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permissions)
}

// ListPermissionBindings lists role permission bindings
func (h *Handlers) ListPermissionBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := h.store.ListRolePermissionBindings(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, bindings)
}

// AssignPermission binds a permission to a role
func (h *Handlers) AssignPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req permissionBindingRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	binding := &RolePermissionBinding{RoleID: req.RoleID, PermissionID: req.PermissionID}
	if err := h.store.CreateRolePermissionBinding(ctx, binding); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.invalidateAll(ctx)
	h.audit.RoleChanged(ctx, actorID(ctx), string(ResourcePermissionBinding), "create", binding.ID)
	httputil.WriteCreated(w, binding)
}

// GetPermissionBinding retrieves a role permission binding
func (h *Handlers) GetPermissionBinding(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	binding, err := h.store.GetRolePermissionBinding(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, binding)
}

// UpdatePermissionBinding repoints a role permission binding
func (h *Handlers) UpdatePermissionBinding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	binding, err := h.store.GetRolePermissionBinding(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	if httputil.IsPartial(r) {
		var req permissionBindingPatchRequest
		if err := httputil.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		if req.RoleID != nil {
			binding.RoleID = *req.RoleID
		}
		if req.PermissionID != nil {
			binding.PermissionID = *req.PermissionID
		}
	} else {
		var req permissionBindingRequest
		if err := httputil.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		binding.RoleID = req.RoleID
		binding.PermissionID = req.PermissionID
	}

	if err := h.store.UpdateRolePermissionBinding(ctx, binding); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.invalidateAll(ctx)
	h.audit.RoleChanged(ctx, actorID(ctx), string(ResourcePermissionBinding), "update", binding.ID)
	httputil.WriteSuccess(w, binding)
}

// DeletePermissionBinding removes a role permission binding
func (h *Handlers) DeletePermissionBinding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteRolePermissionBinding(ctx, id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.invalidateAll(ctx)
	h.audit.RoleChanged(ctx, actorID(ctx), string(ResourcePermissionBinding), "delete", id)
	httputil.WriteNoContent(w)
}

func (h *Handlers) invalidateUsers(ctx context.Context, userIDs ...int64) {
	if h.invalidator != nil {
		h.invalidator.InvalidateUsers(ctx, userIDs...)
	}
}

func (h *Handlers) invalidateAll(ctx context.Context) {
	if h.invalidator != nil {
		h.invalidator.InvalidateAll(ctx)
	}
}

func actorID(ctx context.Context) int64 {
	id, _ := auth.FromContext(ctx).UserID()
	return id
}
