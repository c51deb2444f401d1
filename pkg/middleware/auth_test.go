package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rentshelf/pkg/apperrors"
	"github.com/platinummonkey/rentshelf/pkg/auth"
	"github.com/platinummonkey/rentshelf/pkg/contextkeys"
)

type stubUsers map[int64]*auth.User

func (s stubUsers) GetUserByID(ctx context.Context, id int64) (*auth.User, error) {
	if id == 500 {
		return nil, errors.New("connection refused")
	}
	u, ok := s[id]
	if !ok {
		return nil, apperrors.NotFound("user not found")
	}
	return u, nil
}

func newTestAuth(t *testing.T) (*AuthMiddleware, *auth.TokenManager) {
	t.Helper()
	tm := auth.NewTokenManager("0123456789abcdef0123456789abcdef", time.Hour, clockwork.NewRealClock())
	users := stubUsers{
		1: {ID: 1, Username: "alice", IsActive: true, IsAdmin: true},
		2: {ID: 2, Username: "bob", IsActive: false},
	}
	return NewAuthMiddleware(tm, users), tm
}

func bearer(t *testing.T, tm *auth.TokenManager, id int64) string {
	t.Helper()
	token, _, err := tm.IssueToken(id)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestAuthMiddleware(t *testing.T) {
	m, tm := newTestAuth(t)

	var gotCtx *auth.AuthContext
	var gotUserID string
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCtx = auth.FromContext(r.Context())
		gotUserID = contextkeys.GetUserID(r.Context())
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   int64
	}{
		{name: "anonymous passes through", wantStatus: http.StatusOK},
		{name: "valid token", header: bearer(t, tm, 1), wantStatus: http.StatusOK, wantUser: 1},
		{name: "bad scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "unknown user", header: bearer(t, tm, 99), wantStatus: http.StatusUnauthorized},
		{name: "inactive user", header: bearer(t, tm, 2), wantStatus: http.StatusUnauthorized},
		{name: "store failure", header: bearer(t, tm, 500), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotCtx, gotUserID = nil, ""
			req := httptest.NewRequest(http.MethodGet, "/books/list", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantUser != 0 {
				require.True(t, gotCtx.IsAuthenticated())
				assert.Equal(t, tt.wantUser, gotCtx.User.ID)
				assert.Equal(t, "1", gotUserID)
			} else {
				assert.False(t, gotCtx.IsAuthenticated())
			}
		})
	}
}
