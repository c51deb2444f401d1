package catalog

import "time"

// BookStatus is the shelf state of a book
type BookStatus string

const (
	StatusAvailable    BookStatus = "AVAILABLE"
	StatusRented       BookStatus = "RENTED"
	StatusOutOfService BookStatus = "OUT_OF_SERVICE"
)

// IsValid reports whether s is a known status
func (s BookStatus) IsValid() bool {
	switch s {
	case StatusAvailable, StatusRented, StatusOutOfService:
		return true
	}
	return false
}

// Book is a rentable title
type Book struct {
	ID        int64      `json:"book_id"`
	Name      string     `json:"name"`
	Author    string     `json:"author"`
	Status    BookStatus `json:"status"`
	CreatedBy *int64     `json:"created_by"`
	CreatedAt time.Time  `json:"created_date"`
}

// Tag categorizes books
type Tag struct {
	ID        int64     `json:"tag_id"`
	Name      string    `json:"name"`
	CreatedBy *int64    `json:"created_by"`
	CreatedAt time.Time `json:"created_date"`
}

// TagBinding assigns a tag to a book
type TagBinding struct {
	ID        int64     `json:"book_tag_binding_id"`
	BookID    int64     `json:"book_id"`
	TagID     int64     `json:"tag_id"`
	CreatedAt time.Time `json:"created_date"`
}
