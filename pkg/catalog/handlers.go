package catalog

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/rentshelf/pkg/apperrors"
	"github.com/platinummonkey/rentshelf/pkg/auth"
	"github.com/platinummonkey/rentshelf/pkg/httputil"
	"github.com/platinummonkey/rentshelf/pkg/rbac"
)

// Handlers provides HTTP handlers for books, tags and tag bindings
type Handlers struct {
	store  *Store
	engine *rbac.Engine
}

// NewHandlers creates new catalog handlers
func NewHandlers(store *Store, engine *rbac.Engine) *Handlers {
	return &Handlers{store: store, engine: engine}
}

// RegisterRoutes registers all catalog routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	e := h.engine

	// Books
	router.Handle("/books/list", e.Guard(rbac.ResourceBook, rbac.OpList, h.ListBooks)).Methods(http.MethodGet)
	router.Handle("/books/create", e.Guard(rbac.ResourceBook, rbac.OpCreate, h.CreateBook)).Methods(http.MethodPost)
	router.Handle("/books/{book_id:[0-9]+}", e.Guard(rbac.ResourceBook, rbac.OpRetrieve, h.GetBook)).Methods(http.MethodGet)
	router.Handle("/books/update/{book_id:[0-9]+}", e.GuardUpdate(rbac.ResourceBook, h.UpdateBook)).Methods(http.MethodPut, http.MethodPatch)
	router.Handle("/books/delete/{book_id:[0-9]+}", e.Guard(rbac.ResourceBook, rbac.OpDestroy, h.DeleteBook)).Methods(http.MethodDelete)

	// Tags
	router.Handle("/tags/list", e.Guard(rbac.ResourceTag, rbac.OpList, h.ListTags)).Methods(http.MethodGet)
	router.Handle("/tags/create", e.Guard(rbac.ResourceTag, rbac.OpCreate, h.CreateTag)).Methods(http.MethodPost)
	router.Handle("/tags/{tag_id:[0-9]+}", e.Guard(rbac.ResourceTag, rbac.OpRetrieve, h.GetTag)).Methods(http.MethodGet)
	router.Handle("/tags/update/{tag_id:[0-9]+}", e.GuardUpdate(rbac.ResourceTag, h.UpdateTag)).Methods(http.MethodPut, http.MethodPatch)
	router.Handle("/tags/delete/{tag_id:[0-9]+}", e.Guard(rbac.ResourceTag, rbac.OpDestroy, h.DeleteTag)).Methods(http.MethodDelete)

	// Tag bindings
	router.Handle("/tags/list-binding", e.Guard(rbac.ResourceTagBinding, rbac.OpList, h.ListTagBindings)).Methods(http.MethodGet)
	router.Handle("/tags/assign", e.Guard(rbac.ResourceTagBinding, rbac.OpCreate, h.AssignTag)).Methods(http.MethodPost)
	router.Handle("/tags/binding/{id:[0-9]+}", e.Guard(rbac.ResourceTagBinding, rbac.OpRetrieve, h.GetTagBinding)).Methods(http.MethodGet)
	router.Handle("/tags/update-binding/{id:[0-9]+}", e.GuardUpdate(rbac.ResourceTagBinding, h.UpdateTagBinding)).Methods(http.MethodPut, http.MethodPatch)
	router.Handle("/tags/delete-binding/{id:[0-9]+}", e.Guard(rbac.ResourceTagBinding, rbac.OpDestroy, h.DeleteTagBinding)).Methods(http.MethodDelete)
}

type bookRequest struct {
	Name   string      `json:"name" validate:"required,max=255"`
	Author string      `json:"author" validate:"required,max=255"`
	Status *BookStatus `json:"status" validate:"omitempty,oneof=AVAILABLE RENTED OUT_OF_SERVICE"`
}

type bookPatchRequest struct {
	Name   *string     `json:"name" validate:"omitempty,min=1,max=255"`
	Author *string     `json:"author" validate:"omitempty,min=1,max=255"`
	Status *BookStatus `json:"status" validate:"omitempty,oneof=AVAILABLE RENTED OUT_OF_SERVICE"`
}

type tagRequest struct {
	Name string `json:"name" validate:"required,max=150"`
}

type tagBindingRequest struct {
	BookID int64 `json:"book_id" validate:"required,gt=0"`
	TagID  int64 `json:"tag_id" validate:"required,gt=0"`
}

type tagBindingPatchRequest struct {
	BookID *int64 `json:"book_id" validate:"omitempty,gt=0"`
	TagID  *int64 `json:"tag_id" validate:"omitempty,gt=0"`
}

// ListBooks lists all books
func (h *Handlers) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.store.ListBooks(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, books)
}

// CreateBook adds a book; the caller is recorded as its creator
func (h *Handlers) CreateBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req bookRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	principal := auth.FromContext(ctx)
	book := &Book{
		Name:      req.Name,
		Author:    req.Author,
		Status:    StatusAvailable,
		CreatedBy: principal.UserIDPtr(),
	}
	if req.Status != nil && *req.Status != StatusAvailable {
		if !principal.IsAdmin() {
			httputil.WriteAppError(w, r, statusAdminOnly())
			return
		}
		book.Status = *req.Status
	}

	if err := h.store.CreateBook(ctx, book); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, book)
}

// GetBook retrieves a book
func (h *Handlers) GetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "book_id")
	if !ok {
		return
	}

	book, err := h.store.GetBook(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, book)
}

// UpdateBook replaces (PUT) or patches (PATCH) a book. Only admins may move
// a book between statuses here; the rental flow owns the normal cycle.
func (h *Handlers) UpdateBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "book_id")
	if !ok {
		return
	}

	book, err := h.store.GetBook(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	var status *BookStatus
	if httputil.IsPartial(r) {
		var req bookPatchRequest
		if err := httputil.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		if req.Name != nil {
			book.Name = *req.Name
		}
		if req.Author != nil {
			book.Author = *req.Author
		}
		status = req.Status
	} else {
		var req bookRequest
		if err := httputil.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		book.Name = req.Name
		book.Author = req.Author
		status = req.Status
	}

	if status != nil && *status != book.Status {
		if !auth.FromContext(ctx).IsAdmin() {
			httputil.WriteAppError(w, r, statusAdminOnly())
			return
		}
		book.Status = *status
	}

	if err := h.store.UpdateBook(ctx, book); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, book)
}

// DeleteBook removes a book and everything recorded against it
func (h *Handlers) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "book_id")
	if !ok {
		return
	}

	if err := h.store.DeleteBook(r.Context(), id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListTags lists tags, newest first
func (h *Handlers) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.store.ListTags(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tags)
}

// CreateTag adds a tag
func (h *Handlers) CreateTag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req tagRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	tag := &Tag{Name: req.Name, CreatedBy: auth.FromContext(ctx).UserIDPtr()}
	if err := h.store.CreateTag(ctx, tag); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, tag)
}

// GetTag retrieves a tag
func (h *Handlers) GetTag(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "tag_id")
	if !ok {
		return
	}

	tag, err := h.store.GetTag(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tag)
}

// UpdateTag renames a tag. PUT and PATCH carry the same single field.
func (h *Handlers) UpdateTag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "tag_id")
	if !ok {
		return
	}

	tag, err := h.store.GetTag(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	var req tagRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	tag.Name = req.Name

	if err := h.store.UpdateTag(ctx, tag); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tag)
}

// DeleteTag removes a tag
func (h *Handlers) DeleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "tag_id")
	if !ok {
		return
	}

	if err := h.store.DeleteTag(r.Context(), id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListTagBindings lists tag assignments
func (h *Handlers) ListTagBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := h.store.ListTagBindings(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, bindings)
}

// AssignTag binds a tag to a book
func (h *Handlers) AssignTag(w http.ResponseWriter, r *http.Request) {
	var req tagBindingRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	binding := &TagBinding{BookID: req.BookID, TagID: req.TagID}
	if err := h.store.CreateTagBinding(r.Context(), binding); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, binding)
}

// GetTagBinding retrieves a tag assignment
func (h *Handlers) GetTagBinding(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	binding, err := h.store.GetTagBinding(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, binding)
}

// UpdateTagBinding repoints a tag assignment
func (h *Handlers) UpdateTagBinding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	binding, err := h.store.GetTagBinding(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	if httputil.IsPartial(r) {
		var req tagBindingPatchRequest
		if err := httputil.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		if req.BookID != nil {
			binding.BookID = *req.BookID
		}
		if req.TagID != nil {
			binding.TagID = *req.TagID
		}
	} else {
		var req tagBindingRequest
		if err := httputil.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		binding.BookID = req.BookID
		binding.TagID = req.TagID
	}

	if err := h.store.UpdateTagBinding(ctx, binding); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, binding)
}

// DeleteTagBinding removes a tag assignment
func (h *Handlers) DeleteTagBinding(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteTagBinding(r.Context(), id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func statusAdminOnly() error {
	return apperrors.InvalidFields(map[string]string{"status": "admin_only"})
}
