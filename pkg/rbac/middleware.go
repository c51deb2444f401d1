package rbac

import (
	"net/http"

	"github.com/platinummonkey/rentshelf/pkg/auth"
	"github.com/platinummonkey/rentshelf/pkg/httputil"
)

// RequirePermission creates middleware that asks the engine whether the
// request principal may perform op on resource. Object-level checks that
// need the target's owner are done by the handler through Authorize.
func (e *Engine) RequirePermission(resource Resource, op Operation) func(http.Handler) http.Handler {
	return e.require(resource, func(*http.Request) Operation { return op })
}

func (e *Engine) require(resource Resource, opFor func(*http.Request) Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := e.Authorize(r.Context(), resource, Request{
				Principal: auth.FromContext(r.Context()),
				Operation: opFor(r),
			})
			if err != nil {
				httputil.WriteAppError(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Guard wraps a handler function with RequirePermission
func (e *Engine) Guard(resource Resource, op Operation, fn http.HandlerFunc) http.Handler {
	return e.RequirePermission(resource, op)(fn)
}

// GuardUpdate guards a PUT|PATCH route; the operation follows the method
func (e *Engine) GuardUpdate(resource Resource, fn http.HandlerFunc) http.Handler {
	return e.require(resource, UpdateOperation)(fn)
}

// UpdateOperation maps the request method to update or partial_update
func UpdateOperation(r *http.Request) Operation {
	if httputil.IsPartial(r) {
		return OpPartialUpdate
	}
	return OpUpdate
}
