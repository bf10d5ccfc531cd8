package events

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockHandler is an EventHandler implementation with injectable behavior.
type mockHandler struct {
	received []*ProgressEvent
	err      error
}

func (m *mockHandler) HandleEvent(ctx context.Context, event *ProgressEvent) error {
	m.received = append(m.received, event)
	return m.err
}

func TestInMemoryEmitter_DispatchesToAllHandlers(t *testing.T) {
	t.Parallel()

	emitter := NewInMemoryEmitter(testLogger())
	a := &mockHandler{}
	b := &mockHandler{}
	emitter.RegisterHandler(a)
	emitter.RegisterHandler(b)

	event, err := NewProgressEvent(EventResearchStarted, uuid.New(), map[string]int{"chunks": 1})
	require.NoError(t, err)

	require.NoError(t, emitter.Emit(context.Background(), event))
	assert.Len(t, a.received, 1)
	assert.Len(t, b.received, 1)
	assert.Equal(t, event.ID, a.received[0].ID)
}

func TestInMemoryEmitter_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	t.Parallel()

	emitter := NewInMemoryEmitter(testLogger())
	failing := &mockHandler{err: errors.New("sink unavailable")}
	healthy := &mockHandler{}
	emitter.RegisterHandler(failing)
	emitter.RegisterHandler(healthy)

	event, err := NewProgressEvent(EventAnswerFragment, uuid.New(), nil)
	require.NoError(t, err)

	emitErr := emitter.Emit(context.Background(), event)
	require.Error(t, emitErr)
	assert.Contains(t, emitErr.Error(), "sink unavailable")
	assert.Len(t, healthy.received, 1, "later handlers still receive the event")
}

func TestNewProgressEvent(t *testing.T) {
	t.Parallel()

	taskID := uuid.New()
	event, err := NewProgressEvent(EventChecklistGenerated, taskID, map[string]int{"items": 4})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, EventChecklistGenerated, event.Type)
	assert.Equal(t, taskID, event.TaskID)
	assert.JSONEq(t, `{"items": 4}`, string(event.Payload))
	assert.False(t, event.CreatedAt.IsZero())
}

func TestNewProgressEvent_NilPayload(t *testing.T) {
	t.Parallel()

	event, err := NewProgressEvent(EventResearchCompleted, uuid.New(), nil)
	require.NoError(t, err)
	assert.Nil(t, event.Payload)
}

func TestLogHandler_WritesEventToLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := NewLogHandler(slog.New(slog.NewJSONHandler(&buf, nil)))

	taskID := uuid.New()
	event, err := NewProgressEvent(EventResearchProgress, taskID, map[string]int{"chunk": 2})
	require.NoError(t, err)

	require.NoError(t, handler.HandleEvent(context.Background(), event))

	logged := buf.String()
	assert.Contains(t, logged, string(EventResearchProgress))
	assert.Contains(t, logged, taskID.String())
	assert.Contains(t, logged, `"chunk":2`)
}

func TestNoopEmitter(t *testing.T) {
	t.Parallel()

	event, err := NewProgressEvent(EventResearchProgress, uuid.New(), nil)
	require.NoError(t, err)
	assert.NoError(t, NewNoopEmitter().Emit(context.Background(), event))
}
