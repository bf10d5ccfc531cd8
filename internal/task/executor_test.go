package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docket-dev/docket/internal/domain"
	"github.com/docket-dev/docket/internal/pipeline"
)

type executorFixture struct {
	files       *mockFileStore
	targets     *mockTargetStore
	results     *mockResultStore
	items       *mockItemStore
	spaces      *mockSpaceStore
	docCache    *mockDocCacheStore
	pipe        *mockPipeline
	registry    *CancellationRegistry
	credentials *mockCredentials
}

func newExecutorFixture() *executorFixture {
	return &executorFixture{
		files:       &mockFileStore{},
		targets:     &mockTargetStore{},
		results:     &mockResultStore{},
		items:       &mockItemStore{},
		spaces:      &mockSpaceStore{},
		docCache:    &mockDocCacheStore{},
		pipe:        &mockPipeline{},
		registry:    NewCancellationRegistry(),
		credentials: &mockCredentials{},
	}
}

func (f *executorFixture) executor() *Executor {
	return NewExecutor(
		f.files, f.targets, f.results, f.items, f.spaces, f.docCache,
		f.pipe, f.registry, f.credentials, testLogger(),
	)
}

func reviewTask(t *testing.T, taskType domain.TaskType, payload domain.ReviewPayload, files ...domain.TaskFile) *domain.Task {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &domain.Task{
		ID:      uuid.New(),
		Type:    taskType,
		Status:  domain.TaskStatusProcessing,
		Payload: raw,
		Files:   files,
	}
}

func checklistTask(t *testing.T, payload domain.ChecklistGenerationPayload) *domain.Task {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &domain.Task{
		ID:      uuid.New(),
		Type:    domain.TaskTypeChecklistGeneration,
		Status:  domain.TaskStatusProcessing,
		Payload: raw,
	}
}

func TestExecutor_ReviewSuccess(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture()
	targetID := uuid.New()
	file := domain.TaskFile{ID: uuid.New(), DisplayName: "contract.md", Mode: domain.FileModeText}

	var statuses []domain.ReviewTargetStatus
	f.targets.UpdateStatusFn = func(ctx context.Context, id uuid.UUID, status domain.ReviewTargetStatus, errorMessage string) error {
		assert.Equal(t, targetID, id)
		statuses = append(statuses, status)
		return nil
	}

	var savedResults []*domain.ReviewResult
	f.results.SaveFn = func(ctx context.Context, result *domain.ReviewResult) error {
		savedResults = append(savedResults, result)
		return nil
	}

	f.pipe.RunReviewFn = func(ctx context.Context, run *pipeline.ReviewRun) error {
		assert.Equal(t, "check the payment terms", run.Instruction)
		assert.False(t, run.Large)
		require.Contains(t, run.Buffers, file.ID)
		assert.Equal(t, []byte("file content"), run.Buffers[file.ID].Data)

		return run.OnResult(ctx, &domain.ReviewResult{
			FileName:     "contract.md",
			CheckContent: run.Instruction,
			Verdict:      "pass",
		})
	}

	task := reviewTask(t, domain.TaskTypeSmallReview,
		domain.ReviewPayload{TargetID: targetID, Instruction: "check the payment terms"}, file)

	res := f.executor().Execute(context.Background(), task)

	assert.True(t, res.Success)
	assert.Equal(t,
		[]domain.ReviewTargetStatus{domain.ReviewTargetStatusReviewing, domain.ReviewTargetStatusCompleted},
		statuses)
	require.Len(t, savedResults, 1)
	assert.Equal(t, targetID, savedResults[0].TargetID)
	assert.NotEqual(t, uuid.Nil, savedResults[0].ID)
}

func TestExecutor_ReviewRetryClearsPreviousResults(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture()
	targetID := uuid.New()
	file := domain.TaskFile{ID: uuid.New(), DisplayName: "contract.md", Mode: domain.FileModeText}

	var deletedTarget uuid.UUID
	f.results.DeleteByTargetFn = func(ctx context.Context, id uuid.UUID) error {
		deletedTarget = id
		return nil
	}

	cacheSaved := false
	f.docCache.SaveFn = func(ctx context.Context, cache *domain.DocumentCache) error {
		cacheSaved = true
		return nil
	}

	f.pipe.RunReviewFn = func(ctx context.Context, run *pipeline.ReviewRun) error {
		assert.True(t, run.Retry)
		// On retries the cache callback must not overwrite the stored extraction.
		require.NoError(t, run.CacheDocument(ctx, &domain.DocumentCache{FileID: file.ID}))
		return nil
	}

	task := reviewTask(t, domain.TaskTypeLargeReview,
		domain.ReviewPayload{TargetID: targetID, Retry: true}, file)

	res := f.executor().Execute(context.Background(), task)

	assert.True(t, res.Success)
	assert.Equal(t, targetID, deletedTarget)
	assert.False(t, cacheSaved)
}

func TestExecutor_ReviewPipelineFailureMarksTargetErrored(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture()
	targetID := uuid.New()

	var errorStatus domain.ReviewTargetStatus
	var errorMessage string
	f.targets.UpdateStatusFn = func(ctx context.Context, id uuid.UUID, status domain.ReviewTargetStatus, msg string) error {
		if status == domain.ReviewTargetStatusError {
			errorStatus = status
			errorMessage = msg
		}
		return nil
	}

	f.pipe.RunReviewFn = func(ctx context.Context, run *pipeline.ReviewRun) error {
		return errors.New("document is empty")
	}

	task := reviewTask(t, domain.TaskTypeSmallReview, domain.ReviewPayload{TargetID: targetID})
	res := f.executor().Execute(context.Background(), task)

	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "document is empty")
	assert.Equal(t, domain.ReviewTargetStatusError, errorStatus)
	assert.Contains(t, errorMessage, "document is empty")
}

func TestExecutor_ReviewChunkFindingsAttachToSavedResults(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture()
	targetID := uuid.New()
	file := domain.TaskFile{ID: uuid.New(), DisplayName: "handbook.md", Mode: domain.FileModeText}

	var detailResultID uuid.UUID
	var detailChunk int
	f.results.SaveChunkDetailFn = func(ctx context.Context, resultID uuid.UUID, chunkIndex int, content string) error {
		detailResultID = resultID
		detailChunk = chunkIndex
		return nil
	}

	var savedID uuid.UUID
	f.pipe.RunReviewFn = func(ctx context.Context, run *pipeline.ReviewRun) error {
		result := &domain.ReviewResult{FileName: "handbook.md", CheckContent: run.Instruction, Verdict: "pass"}
		if err := run.OnResult(ctx, result); err != nil {
			return err
		}
		savedID = result.ID

		// A finding for the saved result attaches; an unmatched one is dropped
		// without failing the run.
		if err := run.OnChunkFinding(ctx, pipeline.ChunkFinding{
			FileName: "handbook.md", CheckContent: run.Instruction, ChunkIndex: 2, ChunkTotal: 3, Content: "chunk detail",
		}); err != nil {
			return err
		}
		return run.OnChunkFinding(ctx, pipeline.ChunkFinding{
			FileName: "other.md", CheckContent: run.Instruction, ChunkIndex: 0, ChunkTotal: 1, Content: "orphan",
		})
	}

	task := reviewTask(t, domain.TaskTypeLargeReview,
		domain.ReviewPayload{TargetID: targetID, Instruction: "verify"}, file)
	res := f.executor().Execute(context.Background(), task)

	assert.True(t, res.Success)
	assert.Equal(t, savedID, detailResultID)
	assert.Equal(t, 2, detailChunk)
}

func TestExecutor_ReviewRecordsChunkCount(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture()
	file := domain.TaskFile{ID: uuid.New(), DisplayName: "handbook.md", Mode: domain.FileModeText}

	var recordedFile uuid.UUID
	var recordedCount int
	f.docCache.RecordChunkCountFn = func(ctx context.Context, fileID uuid.UUID, count int) error {
		recordedFile = fileID
		recordedCount = count
		return nil
	}
	f.docCache.MaxChunkCountFn = func(ctx context.Context, fileID uuid.UUID) (int, error) {
		assert.Equal(t, file.ID, fileID)
		return 3, nil
	}

	f.pipe.RunReviewFn = func(ctx context.Context, run *pipeline.ReviewRun) error {
		text, err := run.ExtractDocument(ctx, file.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, "extracted text", text)

		recorded, err := run.MaxChunkCount(ctx, file.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, 3, recorded)

		return run.RecordChunkCount(ctx, file.ID, 4)
	}

	task := reviewTask(t, domain.TaskTypeLargeReview, domain.ReviewPayload{TargetID: uuid.New()}, file)
	res := f.executor().Execute(context.Background(), task)

	assert.True(t, res.Success)
	assert.Equal(t, file.ID, recordedFile)
	assert.Equal(t, 4, recordedCount)
}

func TestExecutor_ImageFilesLoadConvertedPages(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture()
	file := domain.TaskFile{
		ID:             uuid.New(),
		DisplayName:    "blueprint.pdf",
		Mode:           domain.FileModeImage,
		ConvertedPages: 2,
	}

	f.files.LoadConvertedImagesFn = func(ctx context.Context, taskID uuid.UUID, f domain.TaskFile) ([][]byte, error) {
		return [][]byte{[]byte("p1"), []byte("p2")}, nil
	}
	f.files.LoadFileFn = func(ctx context.Context, taskID uuid.UUID, f domain.TaskFile) ([]byte, error) {
		t.Fatal("image files with converted pages must not load the original bytes")
		return nil, nil
	}

	f.pipe.RunReviewFn = func(ctx context.Context, run *pipeline.ReviewRun) error {
		require.Contains(t, run.Buffers, file.ID)
		assert.Len(t, run.Buffers[file.ID].Pages, 2)
		assert.Nil(t, run.Buffers[file.ID].Data)
		return nil
	}

	task := reviewTask(t, domain.TaskTypeSmallReview, domain.ReviewPayload{TargetID: uuid.New()}, file)
	res := f.executor().Execute(context.Background(), task)
	assert.True(t, res.Success)
}

func TestExecutor_ChecklistGenerationSuccess(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture()
	spaceID := uuid.New()

	f.pipe.GenerateChecklistFn = func(ctx context.Context, run *pipeline.ChecklistRun) ([]*domain.ChecklistItem, error) {
		assert.Equal(t, spaceID, run.SpaceID)
		assert.Equal(t, "ISO 9001 clauses", run.Requirements)
		return []*domain.ChecklistItem{
			{Content: "verify calibration records"},
			{Content: "verify audit trail"},
		}, nil
	}

	var inserted []*domain.ChecklistItem
	f.items.InsertAllFn = func(ctx context.Context, items []*domain.ChecklistItem) error {
		inserted = items
		return nil
	}

	cleared := false
	f.spaces.ClearGenerationErrorFn = func(ctx context.Context, id uuid.UUID) error {
		assert.Equal(t, spaceID, id)
		cleared = true
		return nil
	}

	task := checklistTask(t, domain.ChecklistGenerationPayload{SpaceID: spaceID, Requirements: "ISO 9001 clauses"})
	res := f.executor().Execute(context.Background(), task)

	assert.True(t, res.Success)
	assert.True(t, cleared)
	require.Len(t, inserted, 2)
	for _, item := range inserted {
		assert.Equal(t, spaceID, item.SpaceID)
		assert.NotEqual(t, uuid.Nil, item.ID)
	}
}

func TestExecutor_ChecklistGenerationFailureRecordsSpaceError(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture()
	spaceID := uuid.New()

	f.pipe.GenerateChecklistFn = func(ctx context.Context, run *pipeline.ChecklistRun) ([]*domain.ChecklistItem, error) {
		return nil, errors.New("refinement exhausted")
	}

	var recordedMessage string
	f.spaces.SetGenerationErrorFn = func(ctx context.Context, id uuid.UUID, message string) error {
		assert.Equal(t, spaceID, id)
		recordedMessage = message
		return nil
	}

	task := checklistTask(t, domain.ChecklistGenerationPayload{SpaceID: spaceID})
	res := f.executor().Execute(context.Background(), task)

	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "refinement exhausted")
	assert.Contains(t, recordedMessage, "refinement exhausted")
}

func TestExecutor_UnknownTaskType(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture()
	task := &domain.Task{ID: uuid.New(), Type: "mystery", Payload: []byte(`{}`)}

	res := f.executor().Execute(context.Background(), task)

	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "unknown task type")
}

func TestExecutor_PanicInPipelineBecomesFailure(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture()
	f.pipe.RunReviewFn = func(ctx context.Context, run *pipeline.ReviewRun) error {
		panic("nil candidate")
	}

	task := reviewTask(t, domain.TaskTypeSmallReview, domain.ReviewPayload{TargetID: uuid.New()})
	res := f.executor().Execute(context.Background(), task)

	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "internal error")
}

func TestExecutor_CredentialFailure(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture()
	f.credentials.CredentialForTenantFn = func(ctx context.Context, tenantKeyHash string) (string, error) {
		return "", errors.New("no credential known")
	}

	task := reviewTask(t, domain.TaskTypeSmallReview, domain.ReviewPayload{TargetID: uuid.New()})
	res := f.executor().Execute(context.Background(), task)

	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "credential")
}

func TestExecutor_RunIsRegisteredWhileExecuting(t *testing.T) {
	t.Parallel()

	f := newExecutorFixture()
	task := reviewTask(t, domain.TaskTypeSmallReview, domain.ReviewPayload{TargetID: uuid.New()})

	f.pipe.RunReviewFn = func(ctx context.Context, run *pipeline.ReviewRun) error {
		assert.True(t, f.registry.IsRegistered(task.ID))

		// Cancelling through the registry must cancel the run context.
		assert.True(t, f.registry.Cancel(task.ID))
		<-ctx.Done()
		return ctx.Err()
	}

	res := f.executor().Execute(context.Background(), task)

	assert.False(t, res.Success)
	assert.False(t, f.registry.IsRegistered(task.ID))
}
