package reviews

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/rentshelf/pkg/apperrors"
	"github.com/platinummonkey/rentshelf/pkg/audit"
	"github.com/platinummonkey/rentshelf/pkg/auth"
	"github.com/platinummonkey/rentshelf/pkg/observability"
)

// ReasonNotEligible is reported when a review has no completed rental left to cover it
const ReasonNotEligible = "Book can be reviewed once per renting"

// Service applies review rules on top of the store
type Service struct {
	store   *Store
	metrics *observability.Metrics
	audit   *audit.Recorder
}

// NewService creates a review service. metrics and recorder may be nil.
func NewService(store *Store, metrics *observability.Metrics, recorder *audit.Recorder) *Service {
	return &Service{store: store, metrics: metrics, audit: recorder}
}

// Store returns the underlying store
func (s *Service) Store() *Store {
	return s.store
}

// CheckEligibility allows one review per COMPLETED rental of a book by a user.
// Repeat rentals of the same book earn further reviews.
func (s *Service) CheckEligibility(ctx context.Context, userID, bookID int64) error {
	var completed, written int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.store.CountCompletedRents(gctx, userID, bookID)
		completed = n
		return err
	})
	g.Go(func() error {
		n, err := s.store.CountReviews(gctx, userID, bookID)
		written = n
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if completed == 0 || written >= completed {
		return apperrors.Unprocessable(ReasonNotEligible)
	}
	return nil
}

// Create stores a review after the eligibility check
func (s *Service) Create(ctx context.Context, principal *auth.AuthContext, in CreateInput) (*Review, error) {
	review, err := s.create(ctx, principal, in)
	if err != nil {
		s.metrics.ObserveReview(outcomeOf(err))
		return nil, err
	}

	s.metrics.ObserveReview("created")
	s.audit.ReviewCreated(ctx, principalID(principal), review.ID, review.BookID)
	return review, nil
}

func (s *Service) create(ctx context.Context, principal *auth.AuthContext, in CreateInput) (*Review, error) {
	userID, err := reviewerFor(principal, in.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.CheckEligibility(ctx, userID, in.BookID); err != nil {
		observability.FromContext(ctx).WithFields(map[string]interface{}{
			"user_id": userID,
			"book_id": in.BookID,
		}).Info("Review rejected")
		return nil, err
	}

	review := &Review{
		UserID:        userID,
		BookID:        in.BookID,
		ReviewDetail:  in.ReviewDetail,
		IsRecommended: true,
	}
	if in.IsRecommended != nil {
		review.IsRecommended = *in.IsRecommended
	}

	if err := s.store.CreateReview(ctx, review); err != nil {
		return nil, err
	}
	return review, nil
}

// Get retrieves a review
func (s *Service) Get(ctx context.Context, id int64) (*Review, error) {
	return s.store.GetReview(ctx, id)
}

// List lists all reviews
func (s *Service) List(ctx context.Context) ([]Review, error) {
	return s.store.ListReviews(ctx)
}

// Update applies a patch to a review. Edits are not re-checked for eligibility.
func (s *Service) Update(ctx context.Context, principal *auth.AuthContext, review *Review, in PatchInput) (*Review, error) {
	if in.UserID != nil && *in.UserID != review.UserID {
		userID, err := reviewerFor(principal, in.UserID)
		if err != nil {
			return nil, err
		}
		review.UserID = userID
	}
	if in.BookID != nil {
		review.BookID = *in.BookID
	}
	if in.ReviewDetail != nil {
		review.ReviewDetail = *in.ReviewDetail
	}
	if in.IsRecommended != nil {
		review.IsRecommended = *in.IsRecommended
	}

	if err := s.store.UpdateReview(ctx, review); err != nil {
		return nil, err
	}
	return review, nil
}

// Delete removes a review
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteReview(ctx, id)
}

// reviewerFor resolves who a review is written as. Only admins may name
// another user.
func reviewerFor(principal *auth.AuthContext, requested *int64) (int64, error) {
	callerID, ok := principal.UserID()
	if requested == nil {
		if !ok {
			return 0, apperrors.InvalidFields(map[string]string{"user_id": "required"})
		}
		return callerID, nil
	}
	if !principal.IsAdmin() && (!ok || *requested != callerID) {
		return 0, apperrors.InvalidFields(map[string]string{"user_id": "self_only"})
	}
	return *requested, nil
}

func principalID(principal *auth.AuthContext) int64 {
	id, _ := principal.UserID()
	return id
}

func outcomeOf(err error) string {
	kind, ok := apperrors.KindOf(err)
	if !ok {
		return "error"
	}
	return strings.ToLower(string(kind))
}
