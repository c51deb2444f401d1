package rental

import (
	"time"

	"github.com/shopspring/decimal"
)

// RentStatus is the lifecycle state of a rent record
type RentStatus string

const (
	StatusInProgress RentStatus = "IN_PROGRESS"
	StatusCompleted  RentStatus = "COMPLETED"
	StatusOverdue    RentStatus = "OVERDUE"
	StatusUnpaid     RentStatus = "UNPAID"
)

// IsValid reports whether s is a known status
func (s RentStatus) IsValid() bool {
	switch s {
	case StatusInProgress, StatusCompleted, StatusOverdue, StatusUnpaid:
		return true
	}
	return false
}

// IsOpen reports whether a record in status s still holds its book
func (s RentStatus) IsOpen() bool {
	return s == StatusInProgress || s == StatusOverdue
}

// Rent is one borrow/return cycle of a book
type Rent struct {
	ID            int64           `json:"rent_id"`
	BookID        int64           `json:"book_id"`
	UserID        *int64          `json:"user_id"`
	CreatedBy     *int64          `json:"created_by"`
	RentedDate    time.Time       `json:"rented_date"`
	ReturnDate    *time.Time      `json:"return_date"`
	Status        RentStatus      `json:"status"`
	LateReturnFee decimal.Decimal `json:"late_return_fee"`
}

// CreateInput is the request to rent a book
type CreateInput struct {
	BookID     int64     `json:"book_id" validate:"required,gt=0"`
	UserID     int64     `json:"user_id" validate:"required,gt=0"`
	RentedDate time.Time `json:"rented_date" validate:"required"`
}

// UpdateInput is an administrative edit of a rent record. Nil fields are
// left unchanged; fees are not recomputed and are stored to the cent.
type UpdateInput struct {
	BookID        *int64           `json:"book_id" validate:"omitempty,gt=0"`
	UserID        *int64           `json:"user_id" validate:"omitempty,gt=0"`
	RentedDate    *time.Time       `json:"rented_date"`
	ReturnDate    *time.Time       `json:"return_date"`
	Status        *RentStatus      `json:"status" validate:"omitempty,oneof=IN_PROGRESS COMPLETED OVERDUE UNPAID"`
	LateReturnFee *decimal.Decimal `json:"late_return_fee" validate:"omitempty,gte=0"`
}
