package rental

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/platinummonkey/rentshelf/pkg/auth"
	"github.com/platinummonkey/rentshelf/pkg/httputil"
	"github.com/platinummonkey/rentshelf/pkg/rbac"
)

// Handlers provides HTTP handlers for rent records and book returns
type Handlers struct {
	service *Service
	engine  *rbac.Engine
}

// NewHandlers creates new rental handlers
func NewHandlers(service *Service, engine *rbac.Engine) *Handlers {
	return &Handlers{service: service, engine: engine}
}

// RegisterRoutes registers all rental routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	e := h.engine

	router.Handle("/books/rent/list", e.Guard(rbac.ResourceRent, rbac.OpList, h.ListRents)).Methods(http.MethodGet)
	router.Handle("/books/rent/create", e.Guard(rbac.ResourceRent, rbac.OpCreate, h.CreateRent)).Methods(http.MethodPost)
	router.Handle("/books/rent/{rent_id:[0-9]+}", e.Guard(rbac.ResourceRent, rbac.OpRetrieve, h.GetRent)).Methods(http.MethodGet)
	router.Handle("/books/rent/update/{rent_id:[0-9]+}", e.GuardUpdate(rbac.ResourceRent, h.UpdateRent)).Methods(http.MethodPut, http.MethodPatch)
	router.Handle("/books/rent/delete/{rent_id:[0-9]+}", e.Guard(rbac.ResourceRent, rbac.OpDestroy, h.DeleteRent)).Methods(http.MethodDelete)

	router.Handle("/books/return/{book_id:[0-9]+}", e.Guard(rbac.ResourceBookReturn, rbac.OpReturn, h.ReturnBook)).Methods(http.MethodPatch)
}

// rentRequest is the full record accepted by PUT
type rentRequest struct {
	BookID        int64           `json:"book_id" validate:"required,gt=0"`
	UserID        int64           `json:"user_id" validate:"required,gt=0"`
	RentedDate    time.Time       `json:"rented_date" validate:"required"`
	ReturnDate    *time.Time      `json:"return_date"`
	Status        RentStatus      `json:"status" validate:"required,oneof=IN_PROGRESS COMPLETED OVERDUE UNPAID"`
	LateReturnFee decimal.Decimal `json:"late_return_fee" validate:"gte=0"`
}

func (req rentRequest) update() UpdateInput {
	return UpdateInput{
		BookID:        &req.BookID,
		UserID:        &req.UserID,
		RentedDate:    &req.RentedDate,
		ReturnDate:    req.ReturnDate,
		Status:        &req.Status,
		LateReturnFee: &req.LateReturnFee,
	}
}

// ListRents lists the rent records the caller may see
func (h *Handlers) ListRents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope, err := h.engine.ScopeFor(ctx, auth.FromContext(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	rents, err := h.service.List(ctx, scope)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, rents)
}

// CreateRent rents a book to a user
func (h *Handlers) CreateRent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateInput
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	rent, err := h.service.CreateRent(ctx, auth.FromContext(ctx).UserIDPtr(), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, rent)
}

// GetRent retrieves a rent record within the caller's scope
func (h *Handlers) GetRent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "rent_id")
	if !ok {
		return
	}

	scope, err := h.engine.ScopeFor(ctx, auth.FromContext(ctx))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	rent, err := h.service.Get(ctx, id, scope)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, rent)
}

// UpdateRent edits a rent record directly. Fees are not recomputed.
func (h *Handlers) UpdateRent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := httputil.ParsePathInt64OrError(w, r, "rent_id")
	if !ok {
		return
	}

	var in UpdateInput
	if httputil.IsPartial(r) {
		if err := httputil.DecodeAndValidate(r, &in); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
	} else {
		var req rentRequest
		if err := httputil.DecodeAndValidate(r, &req); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		in = req.update()
	}

	rent, err := h.service.Update(ctx, auth.FromContext(ctx).UserIDPtr(), id, in)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, rent)
}

// DeleteRent removes a rent record
func (h *Handlers) DeleteRent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "rent_id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ReturnBook closes the open rent record of a book
func (h *Handlers) ReturnBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookID, ok := httputil.ParsePathInt64OrError(w, r, "book_id")
	if !ok {
		return
	}

	if _, err := h.service.ReturnBook(ctx, auth.FromContext(ctx).UserIDPtr(), bookID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
