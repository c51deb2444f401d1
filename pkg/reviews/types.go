package reviews

import "time"

// Review is a reader's opinion of a book
type Review struct {
	ID            int64     `json:"review_id"`
	UserID        int64     `json:"user_id"`
	BookID        int64     `json:"book_id"`
	ReviewDetail  string    `json:"review_detail"`
	IsRecommended bool      `json:"is_recommended"`
	CreatedAt     time.Time `json:"created_date"`
}

// CreateInput is the request to review a book. UserID defaults to the caller.
type CreateInput struct {
	UserID        *int64 `json:"user_id" validate:"omitempty,gt=0"`
	BookID        int64  `json:"book_id" validate:"required,gt=0"`
	ReviewDetail  string `json:"review_detail" validate:"required"`
	IsRecommended *bool  `json:"is_recommended"`
}

// PatchInput carries the fields of a partial update
type PatchInput struct {
	UserID        *int64  `json:"user_id" validate:"omitempty,gt=0"`
	BookID        *int64  `json:"book_id" validate:"omitempty,gt=0"`
	ReviewDetail  *string `json:"review_detail" validate:"omitempty,min=1"`
	IsRecommended *bool   `json:"is_recommended"`
}

// replaceInput is the full review accepted by PUT
type replaceInput struct {
	UserID        int64  `json:"user_id" validate:"required,gt=0"`
	BookID        int64  `json:"book_id" validate:"required,gt=0"`
	ReviewDetail  string `json:"review_detail" validate:"required"`
	IsRecommended *bool  `json:"is_recommended"`
}

func (in replaceInput) patch() PatchInput {
	recommended := true
	if in.IsRecommended != nil {
		recommended = *in.IsRecommended
	}
	return PatchInput{
		UserID:        &in.UserID,
		BookID:        &in.BookID,
		ReviewDetail:  &in.ReviewDetail,
		IsRecommended: &recommended,
	}
}
