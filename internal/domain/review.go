package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReviewTargetStatus represents the lifecycle state of a document under review.
type ReviewTargetStatus string

// Possible review target status values
const (
	ReviewTargetStatusPending   ReviewTargetStatus = "pending"
	ReviewTargetStatusReviewing ReviewTargetStatus = "reviewing"
	ReviewTargetStatusCompleted ReviewTargetStatus = "completed"
	ReviewTargetStatusError     ReviewTargetStatus = "error"
)

// ReviewTarget is a document (or document set) that checklist items are
// evaluated against.
type ReviewTarget struct {
	ID           uuid.UUID
	SpaceID      uuid.UUID
	Name         string
	Status       ReviewTargetStatus
	ErrorMessage string
	UpdatedAt    time.Time
}

// ReviewResult is one check-item verdict produced for a review target.
// Results stream in during a pipeline run and are persisted individually.
type ReviewResult struct {
	ID           uuid.UUID
	TargetID     uuid.UUID
	FileName     string
	CheckContent string
	Verdict      string
	Explanation  string
	CreatedAt    time.Time
}

// ChecklistItem is one generated checklist entry owned by a review space.
type ChecklistItem struct {
	ID        uuid.UUID
	SpaceID   uuid.UUID
	Content   string
	CreatedAt time.Time
}

// ReviewSpace groups review targets and checklist items. A failed checklist
// generation records its error message here.
type ReviewSpace struct {
	ID              uuid.UUID
	Name            string
	GenerationError string
	UpdatedAt       time.Time
}

// DocumentCache holds the extracted form of a task file so retries and chunked
// research reuse it instead of re-extracting. ChunkCount records the largest
// chunk count a research call needed for this document.
type DocumentCache struct {
	FileID     uuid.UUID
	FileName   string
	Mode       FileMode
	Text       string
	Pages      [][]byte
	ChunkCount int
	UpdatedAt  time.Time
}
