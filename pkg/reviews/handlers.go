package reviews

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/rentshelf/pkg/auth"
	"github.com/platinummonkey/rentshelf/pkg/httputil"
	"github.com/platinummonkey/rentshelf/pkg/rbac"
)

// Handlers provides HTTP handlers for book reviews
type Handlers struct {
	service *Service
	engine  *rbac.Engine
}

// NewHandlers creates new review handlers
func NewHandlers(service *Service, engine *rbac.Engine) *Handlers {
	return &Handlers{service: service, engine: engine}
}

// RegisterRoutes registers all review routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	e := h.engine

	router.Handle("/books/reviews/list", e.Guard(rbac.ResourceReview, rbac.OpList, h.ListReviews)).Methods(http.MethodGet)
	router.Handle("/books/reviews/create", e.Guard(rbac.ResourceReview, rbac.OpCreate, h.CreateReview)).Methods(http.MethodPost)
	router.Handle("/books/reviews/{review_id:[0-9]+}", e.Guard(rbac.ResourceReview, rbac.OpRetrieve, h.GetReview)).Methods(http.MethodGet)
	// Updates are authorized against the review's author inside the handler.
	router.HandleFunc("/books/reviews/update/{review_id:[0-9]+}", h.UpdateReview).Methods(http.MethodPut, http.MethodPatch)
	router.Handle("/books/reviews/delete/{review_id:[0-9]+}", e.Guard(rbac.ResourceReview, rbac.OpDestroy, h.DeleteReview)).Methods(http.MethodDelete)
}

// ListReviews lists reviews
func (h *Handlers) ListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.service.List(r.Context())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, reviews)
}

// CreateReview adds a review for a book the reviewer has finished renting
func (h *Handlers) CreateReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateInput
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	review, err := h.service.Create(ctx, auth.FromContext(ctx), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, review)
}

// GetReview retrieves a review
func (h *Handlers) GetReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "review_id")
	if !ok {
		return
	}

	review, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, review)
}

// UpdateReview replaces (PUT) or patches (PATCH) a review
func (h *Handlers) UpdateReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "review_id")
	if !ok {
		return
	}

	principal := auth.FromContext(ctx)
	if !principal.IsAuthenticated() {
		// Anonymous callers learn nothing about which reviews exist.
		err := h.engine.Authorize(ctx, rbac.ResourceReview, rbac.Request{Principal: principal, Operation: rbac.UpdateOperation(r)})
		httputil.WriteAppError(w, r, err)
		return
	}

	review, err := h.service.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	err = h.engine.Authorize(ctx, rbac.ResourceReview, rbac.Request{
		Principal: principal,
		Operation: rbac.UpdateOperation(r),
		OwnerID:   &review.UserID,
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
		var req replaceInput
		if err := httputil.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		patch = req.patch()
	}

	review, err = h.service.Update(ctx, principal, review, patch)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, review)
}

// DeleteReview removes a review
func (h *Handlers) DeleteReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "review_id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
