package task

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/docket-dev/docket/internal/domain"
	"github.com/docket-dev/docket/internal/pipeline"
)

// testLogger returns a logger that discards all output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockTaskQueue is a TaskQueue implementation with injectable behavior.
type mockTaskQueue struct {
	DequeueFn  func(ctx context.Context, tenantKeyHash string) (*domain.Task, error)
	CompleteFn func(ctx context.Context, taskID uuid.UUID) error
	FailFn     func(ctx context.Context, taskID uuid.UUID, errorMessage string) error
}

func (m *mockTaskQueue) Dequeue(ctx context.Context, tenantKeyHash string) (*domain.Task, error) {
	if m.DequeueFn != nil {
		return m.DequeueFn(ctx, tenantKeyHash)
	}
	return nil, nil
}

func (m *mockTaskQueue) Complete(ctx context.Context, taskID uuid.UUID) error {
	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, taskID)
	}
	return nil
}

func (m *mockTaskQueue) Fail(ctx context.Context, taskID uuid.UUID, errorMessage string) error {
	if m.FailFn != nil {
		return m.FailFn(ctx, taskID, errorMessage)
	}
	return nil
}

// mockExecutor is a TaskExecutor implementation with injectable behavior.
type mockExecutor struct {
	ExecuteFn func(ctx context.Context, task *domain.Task) ExecResult
}

func (m *mockExecutor) Execute(ctx context.Context, task *domain.Task) ExecResult {
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, task)
	}
	return ExecResult{Success: true}
}

// mockBootstrapQueue is a BootstrapQueue implementation with injectable behavior.
type mockBootstrapQueue struct {
	ProcessingTasksFn    func(ctx context.Context) ([]*domain.Task, error)
	DistinctTenantKeysFn func(ctx context.Context) ([]string, error)
	FailFn               func(ctx context.Context, taskID uuid.UUID, errorMessage string) error
}

func (m *mockBootstrapQueue) ProcessingTasks(ctx context.Context) ([]*domain.Task, error) {
	if m.ProcessingTasksFn != nil {
		return m.ProcessingTasksFn(ctx)
	}
	return nil, nil
}

func (m *mockBootstrapQueue) DistinctTenantKeys(ctx context.Context) ([]string, error) {
	if m.DistinctTenantKeysFn != nil {
		return m.DistinctTenantKeysFn(ctx)
	}
	return nil, nil
}

func (m *mockBootstrapQueue) Fail(ctx context.Context, taskID uuid.UUID, errorMessage string) error {
	if m.FailFn != nil {
		return m.FailFn(ctx, taskID, errorMessage)
	}
	return nil
}

// mockFileStore is a store.FileStore implementation with injectable behavior.
type mockFileStore struct {
	EnsureBaseDirFn       func() error
	SaveFileFn            func(ctx context.Context, taskID uuid.UUID, file domain.TaskFile, data []byte) (string, error)
	SaveConvertedImagesFn func(ctx context.Context, taskID uuid.UUID, fileID uuid.UUID, pages [][]byte) error
	LoadFileFn            func(ctx context.Context, taskID uuid.UUID, file domain.TaskFile) ([]byte, error)
	LoadConvertedImagesFn func(ctx context.Context, taskID uuid.UUID, file domain.TaskFile) ([][]byte, error)
	ExtractTextFn         func(ctx context.Context, taskID uuid.UUID, file domain.TaskFile) (string, error)
	DeleteTaskFilesFn     func(ctx context.Context, taskID uuid.UUID) error
}

func (m *mockFileStore) EnsureBaseDir() error {
	if m.EnsureBaseDirFn != nil {
		return m.EnsureBaseDirFn()
	}
	return nil
}

func (m *mockFileStore) SaveFile(ctx context.Context, taskID uuid.UUID, file domain.TaskFile, data []byte) (string, error) {
	if m.SaveFileFn != nil {
		return m.SaveFileFn(ctx, taskID, file, data)
	}
	return file.ID.String(), nil
}

func (m *mockFileStore) SaveConvertedImages(ctx context.Context, taskID uuid.UUID, fileID uuid.UUID, pages [][]byte) error {
	if m.SaveConvertedImagesFn != nil {
		return m.SaveConvertedImagesFn(ctx, taskID, fileID, pages)
	}
	return nil
}

func (m *mockFileStore) LoadFile(ctx context.Context, taskID uuid.UUID, file domain.TaskFile) ([]byte, error) {
	if m.LoadFileFn != nil {
		return m.LoadFileFn(ctx, taskID, file)
	}
	return []byte("file content"), nil
}

func (m *mockFileStore) LoadConvertedImages(ctx context.Context, taskID uuid.UUID, file domain.TaskFile) ([][]byte, error) {
	if m.LoadConvertedImagesFn != nil {
		return m.LoadConvertedImagesFn(ctx, taskID, file)
	}
	return [][]byte{[]byte("page")}, nil
}

func (m *mockFileStore) ExtractText(ctx context.Context, taskID uuid.UUID, file domain.TaskFile) (string, error) {
	if m.ExtractTextFn != nil {
		return m.ExtractTextFn(ctx, taskID, file)
	}
	return "extracted text", nil
}

func (m *mockFileStore) DeleteTaskFiles(ctx context.Context, taskID uuid.UUID) error {
	if m.DeleteTaskFilesFn != nil {
		return m.DeleteTaskFilesFn(ctx, taskID)
	}
	return nil
}

// mockTargetStore is a store.ReviewTargetStore implementation with injectable
// behavior.
type mockTargetStore struct {
	FindByIDFn     func(ctx context.Context, id uuid.UUID) (*domain.ReviewTarget, error)
	UpdateStatusFn func(ctx context.Context, id uuid.UUID, status domain.ReviewTargetStatus, errorMessage string) error
}

func (m *mockTargetStore) FindByID(ctx context.Context, id uuid.UUID) (*domain.ReviewTarget, error) {
	if m.FindByIDFn != nil {
		return m.FindByIDFn(ctx, id)
	}
	return &domain.ReviewTarget{ID: id, Status: domain.ReviewTargetStatusPending}, nil
}

func (m *mockTargetStore) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ReviewTargetStatus, errorMessage string) error {
	if m.UpdateStatusFn != nil {
		return m.UpdateStatusFn(ctx, id, status, errorMessage)
	}
	return nil
}

// mockResultStore is a store.ReviewResultStore implementation with injectable
// behavior.
type mockResultStore struct {
	SaveFn            func(ctx context.Context, result *domain.ReviewResult) error
	DeleteByTargetFn  func(ctx context.Context, targetID uuid.UUID) error
	SaveChunkDetailFn func(ctx context.Context, resultID uuid.UUID, chunkIndex int, content string) error
}

func (m *mockResultStore) Save(ctx context.Context, result *domain.ReviewResult) error {
	if m.SaveFn != nil {
		return m.SaveFn(ctx, result)
	}
	return nil
}

func (m *mockResultStore) DeleteByTarget(ctx context.Context, targetID uuid.UUID) error {
	if m.DeleteByTargetFn != nil {
		return m.DeleteByTargetFn(ctx, targetID)
	}
	return nil
}

func (m *mockResultStore) SaveChunkDetail(ctx context.Context, resultID uuid.UUID, chunkIndex int, content string) error {
	if m.SaveChunkDetailFn != nil {
		return m.SaveChunkDetailFn(ctx, resultID, chunkIndex, content)
	}
	return nil
}

// mockItemStore is a store.ChecklistItemStore implementation with injectable
// behavior.
type mockItemStore struct {
	InsertAllFn func(ctx context.Context, items []*domain.ChecklistItem) error
}

func (m *mockItemStore) InsertAll(ctx context.Context, items []*domain.ChecklistItem) error {
	if m.InsertAllFn != nil {
		return m.InsertAllFn(ctx, items)
	}
	return nil
}

// mockSpaceStore is a store.ReviewSpaceStore implementation with injectable
// behavior.
type mockSpaceStore struct {
	SetGenerationErrorFn   func(ctx context.Context, spaceID uuid.UUID, message string) error
	ClearGenerationErrorFn func(ctx context.Context, spaceID uuid.UUID) error
}

func (m *mockSpaceStore) SetGenerationError(ctx context.Context, spaceID uuid.UUID, message string) error {
	if m.SetGenerationErrorFn != nil {
		return m.SetGenerationErrorFn(ctx, spaceID, message)
	}
	return nil
}

func (m *mockSpaceStore) ClearGenerationError(ctx context.Context, spaceID uuid.UUID) error {
	if m.ClearGenerationErrorFn != nil {
		return m.ClearGenerationErrorFn(ctx, spaceID)
	}
	return nil
}

// mockDocCacheStore is a store.DocumentCacheStore implementation with
// injectable behavior.
type mockDocCacheStore struct {
	FindByFileIDFn     func(ctx context.Context, fileID uuid.UUID) (*domain.DocumentCache, error)
	SaveFn             func(ctx context.Context, cache *domain.DocumentCache) error
	MaxChunkCountFn    func(ctx context.Context, fileID uuid.UUID) (int, error)
	RecordChunkCountFn func(ctx context.Context, fileID uuid.UUID, count int) error
}

func (m *mockDocCacheStore) FindByFileID(ctx context.Context, fileID uuid.UUID) (*domain.DocumentCache, error) {
	if m.FindByFileIDFn != nil {
		return m.FindByFileIDFn(ctx, fileID)
	}
	return &domain.DocumentCache{FileID: fileID, ChunkCount: 1}, nil
}

func (m *mockDocCacheStore) Save(ctx context.Context, cache *domain.DocumentCache) error {
	if m.SaveFn != nil {
		return m.SaveFn(ctx, cache)
	}
	return nil
}

func (m *mockDocCacheStore) MaxChunkCount(ctx context.Context, fileID uuid.UUID) (int, error) {
	if m.MaxChunkCountFn != nil {
		return m.MaxChunkCountFn(ctx, fileID)
	}
	return 0, nil
}

func (m *mockDocCacheStore) RecordChunkCount(ctx context.Context, fileID uuid.UUID, count int) error {
	if m.RecordChunkCountFn != nil {
		return m.RecordChunkCountFn(ctx, fileID, count)
	}
	return nil
}

// mockPipeline is a pipeline.Pipeline implementation with injectable behavior.
type mockPipeline struct {
	RunReviewFn         func(ctx context.Context, run *pipeline.ReviewRun) error
	GenerateChecklistFn func(ctx context.Context, run *pipeline.ChecklistRun) ([]*domain.ChecklistItem, error)
}

func (m *mockPipeline) RunReview(ctx context.Context, run *pipeline.ReviewRun) error {
	if m.RunReviewFn != nil {
		return m.RunReviewFn(ctx, run)
	}
	return nil
}

func (m *mockPipeline) GenerateChecklist(ctx context.Context, run *pipeline.ChecklistRun) ([]*domain.ChecklistItem, error) {
	if m.GenerateChecklistFn != nil {
		return m.GenerateChecklistFn(ctx, run)
	}
	return nil, nil
}

// mockCredentials is a CredentialProvider implementation with injectable
// behavior.
type mockCredentials struct {
	CredentialForTenantFn func(ctx context.Context, tenantKeyHash string) (string, error)
}

func (m *mockCredentials) CredentialForTenant(ctx context.Context, tenantKeyHash string) (string, error) {
	if m.CredentialForTenantFn != nil {
		return m.CredentialForTenantFn(ctx, tenantKeyHash)
	}
	return "test-credential", nil
}
