package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/rentshelf/pkg/auth"
)

// Scope restricts a collection to the rows a principal may see
type Scope struct {
	Unrestricted bool
	UserID       int64
}

// Unscoped is the scope of an admin or READ_ALL holder
var Unscoped = Scope{Unrestricted: true}

// Clause returns a predicate matching rows whose columns reference the
// scoped user, using placeholder $n. It returns "" when unrestricted.
func (s Scope) Clause(n int, columns ...string) (string, []interface{}) {
	if s.Unrestricted || len(columns) == 0 {
		return "", nil
	}

	placeholder := fmt.Sprintf("$%d", n)
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = col + " = " + placeholder
	}
	return "(" + strings.Join(parts, " OR ") + ")", []interface{}{s.UserID}
}

// Allows reports whether a row owned by any of ids is visible in scope
func (s Scope) Allows(ids ...*int64) bool {
	if s.Unrestricted {
		return true
	}
	for _, id := range ids {
		if id != nil && *id == s.UserID {
			return true
		}
	}
	return false
}

// ScopeFor derives the collection scope of principal. Admins and holders of
// READ_ALL or ALL see everything; everyone else sees their own rows.
// Callers run it after the access check has allowed the request.
func (e *Engine) ScopeFor(ctx context.Context, principal *auth.AuthContext) (Scope, error) {
	if principal.IsAdmin() {
		return Unscoped, nil
	}

	userID, ok := principal.UserID()
	if !ok {
		// Anonymous callers never get past the policies; keep them scoped to nothing.
		return Scope{UserID: 0}, nil
	}

	actions, err := e.resolver.ActionsFor(ctx, userID)
	if err != nil {
		return Scope{}, fmt.Errorf("failed to resolve scope: %w", err)
	}
	if actions.Has(ActionReadAll) {
		return Unscoped, nil
	}
	return Scope{UserID: userID}, nil
}
