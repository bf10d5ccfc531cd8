package events

import (
	"context"
	"log/slog"
)

// LogHandler writes every progress event to a logger. It is the handler
// docketd registers so pipeline progress is visible without any external
// consumer attached.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a LogHandler writing to the given logger.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	return &LogHandler{logger: logger.With("component", "event_log")}
}

// HandleEvent logs the event. It never returns an error.
func (h *LogHandler) HandleEvent(ctx context.Context, event *ProgressEvent) error {
	h.logger.InfoContext(ctx, "pipeline progress",
		"event_id", event.ID,
		"event_type", event.Type,
		"task_id", event.TaskID,
		"payload", string(event.Payload))
	return nil
}
