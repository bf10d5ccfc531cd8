package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task. Terminal states are not
// persisted: completing or failing a task deletes its record and files.
type TaskStatus string

// Possible task status values
const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
)

// TaskType identifies the kind of work a task carries.
type TaskType string

// Known task types
const (
	TaskTypeSmallReview         TaskType = "review_small"
	TaskTypeLargeReview         TaskType = "review_large"
	TaskTypeChecklistGeneration TaskType = "checklist_generation"
)

// FileMode determines how an attached file is fed to the model.
type FileMode string

// Possible file processing modes
const (
	FileModeText  FileMode = "text"
	FileModeImage FileMode = "image"
)

// TaskFile describes one file attached to a task. Image-mode files carry
// pre-converted page images alongside the original bytes.
type TaskFile struct {
	ID             uuid.UUID `json:"id"`
	DisplayName    string    `json:"display_name"`
	StoragePath    string    `json:"storage_path"`
	Size           int64     `json:"size"`
	MimeType       string    `json:"mime_type"`
	Mode           FileMode  `json:"mode"`
	ConvertedPages int       `json:"converted_pages"`
}

// Task represents a unit of background work partitioned by tenant credential.
type Task struct {
	ID            uuid.UUID
	Type          TaskType
	Status        TaskStatus
	TenantKeyHash string
	Priority      int
	Payload       json.RawMessage
	Files         []TaskFile
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
}

// ReviewPayload is the payload for review_small and review_large tasks.
type ReviewPayload struct {
	TargetID    uuid.UUID `json:"target_id"`
	SpaceID     uuid.UUID `json:"space_id"`
	Instruction string    `json:"instruction,omitempty"`
	Retry       bool      `json:"retry,omitempty"`
}

// ChecklistGenerationPayload is the payload for checklist_generation tasks.
type ChecklistGenerationPayload struct {
	SpaceID      uuid.UUID `json:"space_id"`
	Requirements string    `json:"requirements"`
}

// TaskPayload is the decoded, type-specific payload of a task.
type TaskPayload interface {
	isTaskPayload()
}

func (ReviewPayload) isTaskPayload()              {}
func (ChecklistGenerationPayload) isTaskPayload() {}

// ErrUnknownTaskType is returned when a payload is decoded for a task type
// this build does not recognize.
var ErrUnknownTaskType = fmt.Errorf("unknown task type")

// DecodePayload parses the raw payload for the given task type into its typed
// form. An unrecognized type fails immediately rather than at use-sites.
func DecodePayload(taskType TaskType, raw json.RawMessage) (TaskPayload, error) {
	switch taskType {
	case TaskTypeSmallReview, TaskTypeLargeReview:
		var p ReviewPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode review payload: %w", err)
		}
		return p, nil
	case TaskTypeChecklistGeneration:
		var p ChecklistGenerationPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode checklist generation payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
	}
}
