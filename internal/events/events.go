package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of progress event being published.
type EventType string

// Progress event types emitted by the executor and the chunked research loop.
const (
	EventResearchStarted    EventType = "research_started"
	EventResearchProgress   EventType = "research_progress"
	EventResearchCompleted  EventType = "research_completed"
	EventAnswerFragment     EventType = "answer_fragment"
	EventChecklistGenerated EventType = "checklist_generated"
)

// ProgressEvent carries one observability update about an in-flight pipeline
// run. Consumers must treat events as best-effort: execution correctness never
// depends on delivery.
type ProgressEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type indicates the kind of progress being reported
	Type EventType `json:"type"`

	// TaskID is the task whose run produced the event
	TaskID uuid.UUID `json:"task_id"`

	// Payload contains event-specific data serialized as JSON
	Payload json.RawMessage `json:"payload,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewProgressEvent creates a ProgressEvent of the given type for a task.
// A nil payload is allowed.
func NewProgressEvent(eventType EventType, taskID uuid.UUID, payload interface{}) (*ProgressEvent, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	return &ProgressEvent{
		ID:        uuid.New(),
		Type:      eventType,
		TaskID:    taskID,
		Payload:   raw,
		CreatedAt: time.Now(),
	}, nil
}

// EventHandler defines an interface for components that consume progress events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *ProgressEvent) error
}

// Emitter defines an interface for components that publish progress events.
type Emitter interface {
	// Emit publishes the given event to all registered handlers.
	Emit(ctx context.Context, event *ProgressEvent) error
}
