package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/docket-dev/docket/internal/domain"
)

// ReviewTargetStore persists review targets. Only the executor and crash
// recovery mutate target status from this subsystem.
type ReviewTargetStore interface {
	// FindByID retrieves a review target, or ErrReviewTargetNotFound.
	FindByID(ctx context.Context, id uuid.UUID) (*domain.ReviewTarget, error)

	// UpdateStatus sets the target's status and error message.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ReviewTargetStatus, errorMessage string) error
}

// ReviewResultStore persists streamed review results and their per-chunk detail.
type ReviewResultStore interface {
	// Save persists one review result.
	Save(ctx context.Context, result *domain.ReviewResult) error

	// DeleteByTarget removes every result for a target, used when a retry
	// supersedes earlier results.
	DeleteByTarget(ctx context.Context, targetID uuid.UUID) error

	// SaveChunkDetail attaches the raw output of one research chunk to a
	// previously saved result.
	SaveChunkDetail(ctx context.Context, resultID uuid.UUID, chunkIndex int, content string) error
}

// ChecklistItemStore persists generated checklist items.
type ChecklistItemStore interface {
	// InsertAll bulk-inserts the generated items.
	InsertAll(ctx context.Context, items []*domain.ChecklistItem) error
}

// ReviewSpaceStore records checklist generation outcomes on the owning space.
type ReviewSpaceStore interface {
	// SetGenerationError records a failed generation on the space.
	SetGenerationError(ctx context.Context, spaceID uuid.UUID, message string) error

	// ClearGenerationError removes any previously recorded generation error.
	ClearGenerationError(ctx context.Context, spaceID uuid.UUID) error
}

// DocumentCacheStore persists extracted document content across reviews of the
// same file.
type DocumentCacheStore interface {
	// FindByFileID retrieves the cached extraction for a file, or
	// ErrDocumentCacheNotFound.
	FindByFileID(ctx context.Context, fileID uuid.UUID) (*domain.DocumentCache, error)

	// Save persists an extraction, replacing any existing cache for the file.
	Save(ctx context.Context, cache *domain.DocumentCache) error

	// MaxChunkCount returns the largest chunk count recorded for the file
	// across past research calls, or zero if none was recorded.
	MaxChunkCount(ctx context.Context, fileID uuid.UUID) (int, error)

	// RecordChunkCount stores the chunk count a research call settled on,
	// keeping the maximum seen so far.
	RecordChunkCount(ctx context.Context, fileID uuid.UUID, count int) error
}
