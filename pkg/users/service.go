package users

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/platinummonkey/rentshelf/pkg/apperrors"
	"github.com/platinummonkey/rentshelf/pkg/audit"
	"github.com/platinummonkey/rentshelf/pkg/auth"
	"github.com/platinummonkey/rentshelf/pkg/observability"
	"github.com/platinummonkey/rentshelf/pkg/rbac"
)

// bootstrapAge is recorded for the configured admin, which has no profile input
const bootstrapAge = 18

// CreateInput is the full set of account fields, used by create and PUT
type CreateInput struct {
	Username  string `json:"username" validate:"required,max=150"`
	Password  string `json:"password" validate:"required,max=72"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Age       int    `json:"age" validate:"required,gte=1"`
	FirstName string `json:"first_name" validate:"required,max=150"`
	LastName  string `json:"last_name" validate:"required,max=150"`
	IsAdmin   *bool  `json:"is_admin"`
	IsActive  *bool  `json:"is_active"`
}

// PatchInput carries the fields a PATCH sets; nil fields are left unchanged
type PatchInput struct {
	Username  *string `json:"username" validate:"omitempty,min=1,max=150"`
	Password  *string `json:"password" validate:"omitempty,min=1,max=72"`
	Email     *string `json:"email" validate:"omitempty,email,max=254"`
	Age       *int    `json:"age" validate:"omitempty,gte=1"`
	FirstName *string `json:"first_name" validate:"omitempty,min=1,max=150"`
	LastName  *string `json:"last_name" validate:"omitempty,min=1,max=150"`
	IsAdmin   *bool   `json:"is_admin"`
	IsActive  *bool   `json:"is_active"`
}

// Patch converts a full input into a patch that sets every field
func (in CreateInput) Patch() PatchInput {
	return PatchInput{
		Username:  &in.Username,
		Password:  &in.Password,
		Email:     &in.Email,
		Age:       &in.Age,
		FirstName: &in.FirstName,
		LastName:  &in.LastName,
		IsAdmin:   in.IsAdmin,
		IsActive:  in.IsActive,
	}
}

// TokenResponse is returned by a successful login
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Service implements account management and login
type Service struct {
	store       *Store
	hasher      auth.Hasher
	tokens      *auth.TokenManager
	invalidator rbac.Invalidator
	audit       *audit.Recorder
	logger      *observability.Logger
}

// NewService creates a user service. invalidator and recorder may be nil.
func NewService(store *Store, hasher auth.Hasher, tokens *auth.TokenManager, invalidator rbac.Invalidator, recorder *audit.Recorder, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	return &Service{
		store:       store,
		hasher:      hasher,
		tokens:      tokens,
		invalidator: invalidator,
		audit:       recorder,
		logger:      logger,
	}
}

// Store returns the underlying user store
func (s *Service) Store() *Store {
	return s.store
}

// Get loads a user
func (s *Service) Get(ctx context.Context, id int64) (*auth.User, error) {
	return s.store.GetUserByID(ctx, id)
}

// List lists all users
func (s *Service) List(ctx context.Context) ([]auth.User, error) {
	return s.store.ListUsers(ctx)
}

// Create registers a new account on behalf of principal
func (s *Service) Create(ctx context.Context, principal *auth.AuthContext, in CreateInput) (*auth.User, error) {
	if err := checkPrivilegedFields(principal, in.IsAdmin, in.IsActive); err != nil {
		return nil, err
	}

	user := &auth.User{
		Username:  in.Username,
		Email:     NormalizeEmail(in.Email),
		Age:       in.Age,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		IsActive:  true,
	}
	if in.IsAdmin != nil {
		user.IsAdmin = *in.IsAdmin
	}
	if in.IsActive != nil {
		user.IsActive = *in.IsActive
	}

	if err := s.ensureEmailFree(ctx, user.Email, 0); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = hash

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	observability.FromContext(ctx).WithField("target_user_id", user.ID).Info("User created")
	return user, nil
}

// Update applies a patch to an existing account
func (s *Service) Update(ctx context.Context, principal *auth.AuthContext, id int64, in PatchInput) (*auth.User, error) {
	if err := checkPrivilegedFields(principal, in.IsAdmin, in.IsActive); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Username != nil {
		user.Username = *in.Username
	}
	if in.Email != nil {
		email := NormalizeEmail(*in.Email)
		if err := s.ensureEmailFree(ctx, email, id); err != nil {
			return nil, err
		}
		user.Email = email
	}
	if in.Age != nil {
		user.Age = *in.Age
	}
	if in.FirstName != nil {
		user.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		user.LastName = *in.LastName
	}
	if in.IsAdmin != nil {
		user.IsAdmin = *in.IsAdmin
	}
	if in.IsActive != nil {
		user.IsActive = *in.IsActive
	}
	if in.Password != nil {
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = hash
	}

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// Delete removes an account and detaches the rows that referenced it
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}

	if s.invalidator != nil {
		s.invalidator.InvalidateUsers(ctx, id)
	}
	s.audit.UserDeleted(ctx, actorID, id)
	return nil
}

// Login verifies credentials and issues an access token
func (s *Service) Login(ctx context.Context, username, password string) (*TokenResponse, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			s.audit.LoginFailed(ctx, username)
			return nil, apperrors.Unauthorized("invalid username or password")
		}
		return nil, err
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, fmt.Errorf("failed to verify password: %w", err)
		}
		s.audit.LoginFailed(ctx, username)
		return nil, apperrors.Unauthorized("invalid username or password")
	}

	if !user.IsActive {
		s.audit.LoginFailed(ctx, username)
		return nil, apperrors.Unauthorized("user account is disabled")
	}

	token, expiresAt, err := s.tokens.IssueToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
	}, nil
}

// EnsureAdmin creates the configured bootstrap admin when no account with
// that username exists. It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, username, email, password string) (bool, error) {
	_, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !apperrors.Is(err, apperrors.KindNotFound) {
		return false, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &auth.User{
		Username:     username,
		Email:        NormalizeEmail(email),
		Age:          bootstrapAge,
		FirstName:    username,
		LastName:     username,
		IsAdmin:      true,
		IsActive:     true,
		PasswordHash: hash,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return false, err
	}

	s.logger.WithField("username", username).Info("Bootstrap admin created")
	return true, nil
}

func (s *Service) ensureEmailFree(ctx context.Context, email string, excludeID int64) error {
	taken, err := s.store.EmailTaken(ctx, email, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return apperrors.Validation("email is already in use")
	}
	return nil
}

func checkPrivilegedFields(principal *auth.AuthContext, isAdmin, isActive *bool) error {
	if principal.IsAdmin() {
		return nil
	}
	fields := map[string]string{}
	if isAdmin != nil {
		fields["is_admin"] = "admin_only"
	}
	if isActive != nil {
		fields["is_active"] = "admin_only"
	}
	if len(fields) > 0 {
		return apperrors.InvalidFields(fields)
	}
	return nil
}
