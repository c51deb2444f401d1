package audit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/platinummonkey/rentshelf/pkg/contextkeys"
	"github.com/platinummonkey/rentshelf/pkg/observability"
)

// Logger is the interface for audit sinks
type Logger interface {
	// Log persists an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes any buffered events
	Close() error
}

// NoOpLogger discards every event. Used when auditing is disabled.
type NoOpLogger struct{}

func (NoOpLogger) Log(ctx context.Context, event *Event) error {
	return nil
}

func (NoOpLogger) Close() error {
	return nil
}

// Recorder builds events for domain transitions and hands them to a Logger.
// Sink failures are logged and swallowed so auditing never fails a request.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	sink   Logger
	clock  clockwork.Clock
	logger *observability.Logger
}

// NewRecorder creates a recorder writing to sink
func NewRecorder(sink Logger, clock clockwork.Clock, logger *observability.Logger) *Recorder {
	if sink == nil {
		sink = NoOpLogger{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recorder{sink: sink, clock: clock, logger: logger}
}

func (r *Recorder) record(ctx context.Context, event *Event) {
	if r == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = r.clock.Now().UTC()
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}

	if err := r.sink.Log(ctx, event); err != nil && r.logger != nil {
		r.logger.WithError(err).
			WithField("event_type", string(event.EventType)).
			Warn("Failed to write audit event")
	}
}

// AccessDenied records a deny decision
func (r *Recorder) AccessDenied(ctx context.Context, userID *int64, resource, action, reason string) {
	r.record(ctx, &Event{
		EventType:    EventTypeAuthzAccessDenied,
		Status:       EventStatusDenied,
		UserID:       userID,
		ResourceType: resource,
		Action:       action,
		Message:      fmt.Sprintf("Access denied: %s", reason),
	})
}

// LoginFailed records a rejected credential exchange
func (r *Recorder) LoginFailed(ctx context.Context, username string) {
	r.record(ctx, &Event{
		EventType:    EventTypeAuthLoginFailed,
		Status:       EventStatusFailure,
		ResourceType: "user",
		Metadata:     map[string]interface{}{"username": username},
	})
}

// RoleChanged records a role, role binding or permission binding mutation
func (r *Recorder) RoleChanged(ctx context.Context, actorID int64, resource, action string, id int64) {
	r.record(ctx, &Event{
		EventType:    EventTypeAuthzRoleChange,
		Status:       EventStatusSuccess,
		UserID:       &actorID,
		ResourceType: resource,
		ResourceID:   strconv.FormatInt(id, 10),
		Action:       action,
	})
}

// RentCreated records a successful rent creation
func (r *Recorder) RentCreated(ctx context.Context, actorID, rentID, bookID, renterID int64) {
	r.record(ctx, &Event{
		EventType:    EventTypeRentCreate,
		Status:       EventStatusSuccess,
		UserID:       &actorID,
		ResourceType: "rent",
		ResourceID:   strconv.FormatInt(rentID, 10),
		Action:       "create",
		Metadata: map[string]interface{}{
			"book_id": bookID,
			"user_id": renterID,
		},
	})
}

// RentUpdated records an administrative edit of a rent record
func (r *Recorder) RentUpdated(ctx context.Context, actorID, rentID int64, status string) {
	r.record(ctx, &Event{
		EventType:    EventTypeRentUpdate,
		Status:       EventStatusSuccess,
		UserID:       &actorID,
		ResourceType: "rent",
		ResourceID:   strconv.FormatInt(rentID, 10),
		Action:       "update",
		Metadata:     map[string]interface{}{"status": status},
	})
}

// BookReturned records a return and the resulting fee
func (r *Recorder) BookReturned(ctx context.Context, actorID, bookID, rentID int64, status string, fee decimal.Decimal) {
	r.record(ctx, &Event{
		EventType:    EventTypeRentReturn,
		Status:       EventStatusSuccess,
		UserID:       &actorID,
		ResourceType: "book",
		ResourceID:   strconv.FormatInt(bookID, 10),
		Action:       "return",
		Metadata: map[string]interface{}{
			"rent_id":         rentID,
			"status":          status,
			"late_return_fee": fee.String(),
		},
	})
}

// OverdueMarked records a completed overdue sweep
func (r *Recorder) OverdueMarked(ctx context.Context, rentIDs []int64) {
	if len(rentIDs) == 0 {
		return
	}
	r.record(ctx, &Event{
		EventType:    EventTypeRentOverdue,
		Status:       EventStatusSuccess,
		ResourceType: "rent",
		Action:       "mark_overdue",
		Message:      fmt.Sprintf("%d rent records marked OVERDUE", len(rentIDs)),
		Metadata:     map[string]interface{}{"rent_ids": rentIDs},
	})
}

// ReviewCreated records an accepted review
func (r *Recorder) ReviewCreated(ctx context.Context, actorID, reviewID, bookID int64) {
	r.record(ctx, &Event{
		EventType:    EventTypeReviewCreate,
		Status:       EventStatusSuccess,
		UserID:       &actorID,
		ResourceType: "review",
		ResourceID:   strconv.FormatInt(reviewID, 10),
		Action:       "create",
		Metadata:     map[string]interface{}{"book_id": bookID},
	})
}

// UserDeleted records an account deletion
func (r *Recorder) UserDeleted(ctx context.Context, actorID, targetID int64) {
	r.record(ctx, &Event{
		EventType:    EventTypeAdminUserDelete,
		Status:       EventStatusSuccess,
		UserID:       &actorID,
		ResourceType: "user",
		ResourceID:   strconv.FormatInt(targetID, 10),
		Action:       "destroy",
	})
}
