package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/rentshelf/pkg/apperrors"
	"github.com/platinummonkey/rentshelf/pkg/auth"
	"github.com/platinummonkey/rentshelf/pkg/contextkeys"
	"github.com/platinummonkey/rentshelf/pkg/httputil"
)

// UserLoader resolves the account behind a token subject
type UserLoader interface {
	GetUserByID(ctx context.Context, id int64) (*auth.User, error)
}

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	tokens *auth.TokenManager
	users  UserLoader
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens *auth.TokenManager, users UserLoader) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		users:  users,
	}
}

// Handler resolves the bearer token into an AuthContext.
// Requests without an Authorization header continue as anonymous; the access
// policies decide what an anonymous principal may do.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		userID, err := m.tokens.ParseToken(parts[1])
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		// Loaded per request so admin and active flags are never stale.
		user, err := m.users.GetUserByID(r.Context(), userID)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				httputil.WriteUnauthorized(w, "invalid or expired token")
				return
			}
			httputil.WriteAppError(w, r, err)
			return
		}
		if !user.IsActive {
			httputil.WriteUnauthorized(w, "user account is disabled")
			return
		}

		ctx := auth.WithAuthContext(r.Context(), &auth.AuthContext{User: user})
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(user.ID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
