package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/docket-dev/docket/internal/domain"
	"github.com/docket-dev/docket/internal/pipeline"
	"github.com/docket-dev/docket/internal/store"
)

// CredentialProvider resolves the AI credential a tenant's tasks run with.
// The queue only ever carries the credential's hash.
type CredentialProvider interface {
	CredentialForTenant(ctx context.Context, tenantKeyHash string) (string, error)
}

// Executor turns a dequeued task into domain side effects via the AI
// pipeline. Execute never panics and never returns a raw error; every outcome
// is normalized into ExecResult.
type Executor struct {
	files       store.FileStore
	targets     store.ReviewTargetStore
	results     store.ReviewResultStore
	items       store.ChecklistItemStore
	spaces      store.ReviewSpaceStore
	docCache    store.DocumentCacheStore
	pipe        pipeline.Pipeline
	registry    Registry
	credentials CredentialProvider
	logger      *slog.Logger
}

// NewExecutor creates an Executor. A nil registry degrades to the no-op
// implementation.
func NewExecutor(
	files store.FileStore,
	targets store.ReviewTargetStore,
	results store.ReviewResultStore,
	items store.ChecklistItemStore,
	spaces store.ReviewSpaceStore,
	docCache store.DocumentCacheStore,
	pipe pipeline.Pipeline,
	registry Registry,
	credentials CredentialProvider,
	logger *slog.Logger,
) *Executor {
	if registry == nil {
		registry = NewNoopRegistry()
	}
	return &Executor{
		files:       files,
		targets:     targets,
		results:     results,
		items:       items,
		spaces:      spaces,
		docCache:    docCache,
		pipe:        pipe,
		registry:    registry,
		credentials: credentials,
		logger:      logger.With("component", "executor"),
	}
}

func failure(format string, args ...interface{}) ExecResult {
	return ExecResult{Success: false, ErrorMessage: fmt.Sprintf(format, args...)}
}

// Execute runs one task to a terminal outcome.
func (e *Executor) Execute(ctx context.Context, t *domain.Task) (res ExecResult) {
	log := e.logger.With("task_id", t.ID, "task_type", t.Type)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic during task execution", "panic", rec)
			res = failure("internal error: %v", rec)
		}
	}()

	buffers, err := e.loadBuffers(ctx, t)
	if err != nil {
		log.Error("failed to load task files", "error", err)
		return failure("failed to load task files: %v", err)
	}

	credential, err := e.credentials.CredentialForTenant(ctx, t.TenantKeyHash)
	if err != nil {
		log.Error("failed to resolve tenant credential", "error", err)
		return failure("failed to resolve tenant credential: %v", err)
	}

	switch t.Type {
	case domain.TaskTypeSmallReview, domain.TaskTypeLargeReview:
		return e.executeReview(ctx, t, credential, buffers, log)
	case domain.TaskTypeChecklistGeneration:
		return e.executeChecklistGeneration(ctx, t, credential, buffers, log)
	default:
		return failure("unknown task type %q", t.Type)
	}
}

// loadBuffers reads every file referenced by the task into memory, keyed by
// file id. Image-mode files with pre-converted pages load the pages instead
// of the original bytes.
func (e *Executor) loadBuffers(ctx context.Context, t *domain.Task) (map[uuid.UUID]*pipeline.FileBuffer, error) {
	buffers := make(map[uuid.UUID]*pipeline.FileBuffer, len(t.Files))
	for _, file := range t.Files {
		buf := &pipeline.FileBuffer{File: file}

		if file.Mode == domain.FileModeImage && file.ConvertedPages > 0 {
			pages, err := e.files.LoadConvertedImages(ctx, t.ID, file)
			if err != nil {
				return nil, fmt.Errorf("converted images missing for %q: %w", file.DisplayName, err)
			}
			buf.Pages = pages
		} else {
			data, err := e.files.LoadFile(ctx, t.ID, file)
			if err != nil {
				return nil, fmt.Errorf("file buffer missing for %q: %w", file.DisplayName, err)
			}
			buf.Data = data
		}
		buffers[file.ID] = buf
	}
	return buffers, nil
}

// withRegisteredRun registers a cancellable run for the task, invokes fn, and
// deregisters on every exit path.
func (e *Executor) withRegisteredRun(ctx context.Context, taskID uuid.UUID, fn func(ctx context.Context) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.registry.Register(taskID, RunHandleFunc(func() error {
		cancel()
		return nil
	}))
	defer e.registry.Deregister(taskID)

	return fn(runCtx)
}

func (e *Executor) executeReview(
	ctx context.Context,
	t *domain.Task,
	credential string,
	buffers map[uuid.UUID]*pipeline.FileBuffer,
	log *slog.Logger,
) ExecResult {
	payload, err := domain.DecodePayload(t.Type, t.Payload)
	if err != nil {
		return failure("invalid payload: %v", err)
	}
	review := payload.(domain.ReviewPayload)

	target, err := e.targets.FindByID(ctx, review.TargetID)
	if err != nil {
		return failure("failed to load review target: %v", err)
	}

	if review.Retry {
		// The new run supersedes whatever the previous one produced.
		if err := e.results.DeleteByTarget(ctx, target.ID); err != nil {
			return failure("failed to clear previous results: %v", err)
		}
	}

	if err := e.targets.UpdateStatus(ctx, target.ID, domain.ReviewTargetStatusReviewing, ""); err != nil {
		return failure("failed to mark target reviewing: %v", err)
	}

	// Saved results are tracked locally so chunk findings can be matched back
	// to them. The slice is private to this execution.
	var mu sync.Mutex
	var saved []*domain.ReviewResult

	fileByID := make(map[uuid.UUID]domain.TaskFile, len(t.Files))
	for _, f := range t.Files {
		fileByID[f.ID] = f
	}

	run := &pipeline.ReviewRun{
		TaskID:      t.ID,
		TargetID:    target.ID,
		Credential:  credential,
		Instruction: review.Instruction,
		Large:       t.Type == domain.TaskTypeLargeReview,
		Retry:       review.Retry,
		Buffers:     buffers,
		ExtractDocument: func(ctx context.Context, fileID uuid.UUID) (string, error) {
			file, ok := fileByID[fileID]
			if !ok {
				return "", fmt.Errorf("task has no file %s", fileID)
			}
			return e.files.ExtractText(ctx, t.ID, file)
		},
		MaxChunkCount: func(ctx context.Context, fileID uuid.UUID) (int, error) {
			return e.docCache.MaxChunkCount(ctx, fileID)
		},
		RecordChunkCount: func(ctx context.Context, fileID uuid.UUID, count int) error {
			return e.docCache.RecordChunkCount(ctx, fileID, count)
		},
		OnResult: func(ctx context.Context, result *domain.ReviewResult) error {
			if result.ID == uuid.Nil {
				result.ID = uuid.New()
			}
			result.TargetID = target.ID
			if err := e.results.Save(ctx, result); err != nil {
				return err
			}
			mu.Lock()
			saved = append(saved, result)
			mu.Unlock()
			return nil
		},
		CacheDocument: func(ctx context.Context, cache *domain.DocumentCache) error {
			if review.Retry {
				// Retries read from the cache instead of rebuilding it.
				return nil
			}
			return e.docCache.Save(ctx, cache)
		},
		LoadCachedDocument: func(ctx context.Context, fileID uuid.UUID) (*domain.DocumentCache, error) {
			return e.docCache.FindByFileID(ctx, fileID)
		},
		OnChunkFinding: func(ctx context.Context, finding pipeline.ChunkFinding) error {
			mu.Lock()
			var match *domain.ReviewResult
			for _, r := range saved {
				if r.FileName == finding.FileName && r.CheckContent == finding.CheckContent {
					match = r
					break
				}
			}
			mu.Unlock()

			if match == nil {
				log.Warn("chunk finding matches no saved result, dropping",
					"file_name", finding.FileName,
					"chunk_index", finding.ChunkIndex)
				return nil
			}
			return e.results.SaveChunkDetail(ctx, match.ID, finding.ChunkIndex, finding.Content)
		},
	}

	runErr := e.withRegisteredRun(ctx, t.ID, func(runCtx context.Context) error {
		return e.pipe.RunReview(runCtx, run)
	})

	if runErr != nil {
		log.Error("review pipeline failed", "error", runErr)
		if err := e.targets.UpdateStatus(ctx, target.ID, domain.ReviewTargetStatusError, runErr.Error()); err != nil {
			log.Error("failed to mark target errored", "error", err)
		}
		return failure("%v", runErr)
	}

	if err := e.targets.UpdateStatus(ctx, target.ID, domain.ReviewTargetStatusCompleted, ""); err != nil {
		return failure("review succeeded but target update failed: %v", err)
	}

	log.Info("review completed", "target_id", target.ID, "results", len(saved))
	return ExecResult{Success: true}
}

func (e *Executor) executeChecklistGeneration(
	ctx context.Context,
	t *domain.Task,
	credential string,
	buffers map[uuid.UUID]*pipeline.FileBuffer,
	log *slog.Logger,
) ExecResult {
	payload, err := domain.DecodePayload(t.Type, t.Payload)
	if err != nil {
		return failure("invalid payload: %v", err)
	}
	gen := payload.(domain.ChecklistGenerationPayload)

	run := &pipeline.ChecklistRun{
		TaskID:       t.ID,
		SpaceID:      gen.SpaceID,
		Credential:   credential,
		Requirements: gen.Requirements,
		Buffers:      buffers,
	}

	var generated []*domain.ChecklistItem
	runErr := e.withRegisteredRun(ctx, t.ID, func(runCtx context.Context) error {
		var pipeErr error
		generated, pipeErr = e.pipe.GenerateChecklist(runCtx, run)
		return pipeErr
	})

	if runErr != nil {
		log.Error("checklist generation failed", "error", runErr)
		if err := e.spaces.SetGenerationError(ctx, gen.SpaceID, runErr.Error()); err != nil {
			log.Error("failed to record generation error on space", "error", err)
		}
		return failure("%v", runErr)
	}

	for _, item := range generated {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.SpaceID = gen.SpaceID
	}
	if err := e.items.InsertAll(ctx, generated); err != nil {
		return failure("failed to save generated checklist items: %v", err)
	}
	if err := e.spaces.ClearGenerationError(ctx, gen.SpaceID); err != nil {
		log.Error("failed to clear generation error on space", "error", err)
	}

	log.Info("checklist generation completed",
		"space_id", gen.SpaceID,
		"items", len(generated))
	return ExecResult{Success: true}
}
