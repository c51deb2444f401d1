package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rentshelf/pkg/contextkeys"
	"github.com/platinummonkey/rentshelf/pkg/observability"
)

type captureLogger struct {
	events []*Event
	err    error
}

func (c *captureLogger) Log(ctx context.Context, event *Event) error {
	c.events = append(c.events, event)
	return c.err
}

func (c *captureLogger) Close() error {
	return nil
}

func TestRecorder_StampsEvents(t *testing.T) {
	sink := &captureLogger{}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 10, 5, 12, 0, 0, 0, time.UTC))
	rec := NewRecorder(sink, clock, nil)

	ctx := contextkeys.WithRequestID(context.Background(), "req-1")
	rec.RentCreated(ctx, 1, 10, 3, 2)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, clock.Now().UTC(), ev.Timestamp)
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, EventTypeRentCreate, ev.EventType)
	assert.Equal(t, "10", ev.ResourceID)
	assert.Equal(t, int64(3), ev.Metadata["book_id"])
	require.NotNil(t, ev.UserID)
	assert.Equal(t, int64(1), *ev.UserID)
}

func TestRecorder_AccessDeniedAllowsAnonymous(t *testing.T) {
	sink := &captureLogger{}
	rec := NewRecorder(sink, nil, nil)

	rec.AccessDenied(context.Background(), nil, "rent", "destroy", "no matching statement")

	require.Len(t, sink.events, 1)
	assert.Nil(t, sink.events[0].UserID)
	assert.Equal(t, EventStatusDenied, sink.events[0].Status)
	assert.Contains(t, sink.events[0].Message, "no matching statement")
}

func TestRecorder_SinkFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	sink := &captureLogger{err: errors.New("connection reset")}
	rec := NewRecorder(sink, nil, observability.NewLogger(observability.InfoLevel, &buf))

	rec.BookReturned(context.Background(), 1, 3, 10, "UNPAID", decimal.NewFromInt(400))

	assert.Contains(t, buf.String(), "Failed to write audit event")
	assert.Contains(t, buf.String(), "connection reset")
}

func TestRecorder_OverdueSkipsEmptySweep(t *testing.T) {
	sink := &captureLogger{}
	rec := NewRecorder(sink, nil, nil)

	rec.OverdueMarked(context.Background(), nil)
	assert.Empty(t, sink.events)

	rec.OverdueMarked(context.Background(), []int64{4, 5})
	require.Len(t, sink.events, 1)
	assert.Contains(t, sink.events[0].Message, "2 rent records")
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.UserDeleted(context.Background(), 1, 2)
	})
}

func TestNewRecorder_DefaultsToNoOp(t *testing.T) {
	rec := NewRecorder(nil, nil, nil)
	assert.NotPanics(t, func() {
		rec.ReviewCreated(context.Background(), 1, 2, 3)
	})
}
