package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"
	EventTypeAuthzRoleChange   EventType = "authz.role_change"

	// Authentication events
	EventTypeAuthLoginFailed EventType = "auth.login_failed"

	// Rental lifecycle events
	EventTypeRentCreate   EventType = "rental.create"
	EventTypeRentReturn   EventType = "rental.return"
	EventTypeRentUpdate   EventType = "rental.update"
	EventTypeRentOverdue  EventType = "rental.overdue"
	EventTypeReviewCreate EventType = "review.create"

	// Admin events
	EventTypeAdminUserDelete EventType = "admin.user_delete"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event represents a single audit log entry
type Event struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Acting principal; nil for anonymous callers and background jobs
	UserID *int64 `json:"user_id,omitempty"`

	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Action       string `json:"action,omitempty"`

	RequestID string                 `json:"request_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}
