// Package pipeline defines the boundary between the task execution core and
// the AI model integration, plus the chunked research and checklist
// refinement loops that sit on top of single model calls.
package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/docket-dev/docket/internal/domain"
)

// FileBuffer holds the in-memory content of one task file for the duration of
// a single task execution. Image-mode files carry converted pages instead of
// the original bytes.
type FileBuffer struct {
	File  domain.TaskFile
	Data  []byte
	Pages [][]byte
}

// ChunkFinding is the raw output of one research chunk, reported to the
// caller so large reviews can persist per-chunk detail. FileName and
// CheckContent identify the saved result the finding belongs to.
type ChunkFinding struct {
	FileName     string
	CheckContent string
	ChunkIndex   int
	ChunkTotal   int
	Content      string
}

// ReviewRun carries everything one review pipeline invocation needs. The
// callbacks let the pipeline stream results out without knowing about
// persistence.
type ReviewRun struct {
	TaskID      uuid.UUID
	TargetID    uuid.UUID
	Credential  string
	Instruction string
	Large       bool
	Retry       bool
	Buffers     map[uuid.UUID]*FileBuffer

	// ExtractDocument returns the extracted text of a text-mode file.
	ExtractDocument func(ctx context.Context, fileID uuid.UUID) (string, error)

	// MaxChunkCount returns the largest chunk count recorded for the file
	// across past research calls, or zero when none was recorded. Optional.
	MaxChunkCount func(ctx context.Context, fileID uuid.UUID) (int, error)

	// RecordChunkCount stores the chunk count a research call settled on so
	// the next research of the same document seeds from it. Optional.
	RecordChunkCount func(ctx context.Context, fileID uuid.UUID, count int) error

	// OnResult persists one review result as it streams in.
	OnResult func(ctx context.Context, result *domain.ReviewResult) error

	// CacheDocument persists the extracted form of a document the first time
	// it is processed. Skipped by the pipeline when Retry is set.
	CacheDocument func(ctx context.Context, cache *domain.DocumentCache) error

	// LoadCachedDocument returns the previously cached extraction for a file,
	// or store.ErrDocumentCacheNotFound.
	LoadCachedDocument func(ctx context.Context, fileID uuid.UUID) (*domain.DocumentCache, error)

	// OnChunkFinding persists per-chunk detail for large reviews. Optional;
	// errors are logged by the caller and never abort the run.
	OnChunkFinding func(ctx context.Context, finding ChunkFinding) error
}

// ChecklistRun carries everything one checklist generation invocation needs.
type ChecklistRun struct {
	TaskID       uuid.UUID
	SpaceID      uuid.UUID
	Credential   string
	Requirements string
	Buffers      map[uuid.UUID]*FileBuffer
}

// Pipeline is the AI invocation surface consumed by the executor. A run
// either succeeds, fails with an ordinary error, or fails with
// ErrContentTooLarge wrapped somewhere in the chain.
type Pipeline interface {
	// RunReview executes a document review, streaming results through the
	// run's callbacks.
	RunReview(ctx context.Context, run *ReviewRun) error

	// GenerateChecklist produces checklist items from the run's documents
	// and requirements.
	GenerateChecklist(ctx context.Context, run *ChecklistRun) ([]*domain.ChecklistItem, error)
}

// ChunkResearcher performs one model call over a single document chunk.
// Implementations return ErrContentTooLarge (possibly wrapped) when the chunk
// still exceeds the model's context capacity.
type ChunkResearcher interface {
	ResearchChunk(ctx context.Context, chunk Chunk, instruction string) (string, error)
}

// ItemRefiner performs one checklist refinement model call. It returns the
// raw model output, which may be truncated mid-structure.
type ItemRefiner interface {
	RefineItems(ctx context.Context, pending []string, alreadyRefined []string) (string, error)
}
