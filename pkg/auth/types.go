package auth

import (
	"context"
	"time"

	"github.com/platinummonkey/rentshelf/pkg/contextkeys"
)

// User is an account as loaded from the users table
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Age          int       `json:"age"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	IsAdmin      bool      `json:"is_admin"`
	IsActive     bool      `json:"is_active"`
	PasswordHash string    `json:"-"` // Never expose hash
	CreatedAt    time.Time `json:"created_at"`
}

// AuthContext holds the principal of the current request.
// A nil *AuthContext or one without a User is the anonymous principal.
type AuthContext struct {
	User *User
}

// IsAuthenticated reports whether the principal is a known user
func (ac *AuthContext) IsAuthenticated() bool {
	return ac != nil && ac.User != nil
}

// IsAdmin reports whether the principal carries the admin flag
func (ac *AuthContext) IsAdmin() bool {
	return ac.IsAuthenticated() && ac.User.IsAdmin
}

// UserID returns the principal's user id, if authenticated
func (ac *AuthContext) UserID() (int64, bool) {
	if !ac.IsAuthenticated() {
		return 0, false
	}
	return ac.User.ID, true
}

// UserIDPtr returns the principal's user id or nil for anonymous callers
func (ac *AuthContext) UserIDPtr() *int64 {
	id, ok := ac.UserID()
	if !ok {
		return nil
	}
	return &id
}

// FromContext returns the principal stored by the auth middleware.
// Returns nil when the request is anonymous.
func FromContext(ctx context.Context) *AuthContext {
	ac, _ := ctx.Value(contextkeys.AuthKey).(*AuthContext)
	return ac
}

// WithAuthContext stores the principal in ctx
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return contextkeys.WithAuth(ctx, ac)
}
