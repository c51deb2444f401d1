package users

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/rentshelf/pkg/auth"
	"github.com/platinummonkey/rentshelf/pkg/httputil"
	"github.com/platinummonkey/rentshelf/pkg/rbac"
)

// Handlers provides HTTP handlers for accounts and login
type Handlers struct {
	service *Service
	engine  *rbac.Engine
}

// NewHandlers creates new user handlers
func NewHandlers(service *Service, engine *rbac.Engine) *Handlers {
	return &Handlers{
		service: service,
		engine:  engine,
	}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RegisterRoutes registers the user routes. loginLimit, when non-nil, wraps
// the token endpoint.
func (h *Handlers) RegisterRoutes(router *mux.Router, loginLimit func(http.Handler) http.Handler) {
	e := h.engine

	router.Handle("/users/list", e.Guard(rbac.ResourceUser, rbac.OpList, h.ListUsers)).Methods(http.MethodGet)
	router.Handle("/users/create", e.Guard(rbac.ResourceUser, rbac.OpCreate, h.CreateUser)).Methods(http.MethodPost)
	router.HandleFunc("/users/{user_id:[0-9]+}", h.GetUser).Methods(http.MethodGet)
	router.HandleFunc("/users/update/{user_id:[0-9]+}", h.UpdateUser).Methods(http.MethodPut, http.MethodPatch)
	router.Handle("/users/delete/{user_id:[0-9]+}", e.Guard(rbac.ResourceUser, rbac.OpDestroy, h.DeleteUser)).Methods(http.MethodDelete)

	var login http.Handler = http.HandlerFunc(h.Login)
	if loginLimit != nil {
		login = loginLimit(login)
	}
	router.Handle("/auth/token", login).Methods(http.MethodPost)
}

// ListUsers lists all accounts
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, users)
}

// CreateUser registers an account
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateInput
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	user, err := h.service.Create(r.Context(), auth.FromContext(r.Context()), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// GetUser retrieves an account; callers may read their own
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	err := h.engine.Authorize(ctx, rbac.ResourceUser, rbac.Request{
		Principal: auth.FromContext(ctx),
		Operation: rbac.OpRetrieve,
		OwnerID:   &id,
	})
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	user, err := h.service.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// UpdateUser replaces (PUT) or patches (PATCH) an account
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	principal := auth.FromContext(ctx)
	err := h.engine.Authorize(ctx, rbac.ResourceUser, rbac.Request{
		Principal: principal,
		Operation: rbac.UpdateOperation(r),
		OwnerID:   &id,
	})
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	var patch PatchInput
	if httputil.IsPartial(r) {
		if err := httputil.DecodeAndValidate(r, &patch); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
	} else {
		var req CreateInput
		if err := httputil.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		patch = req.Patch()
	}

	user, err := h.service.Update(ctx, principal, id, patch)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// DeleteUser removes an account
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	actor, _ := auth.FromContext(ctx).UserID()
	if err := h.service.Delete(ctx, actor, id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Login exchanges credentials for a bearer token
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	token, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, token)
}
