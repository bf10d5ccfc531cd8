// Package queue owns the lifecycle of durable tasks: enqueue, atomic dequeue,
// and the terminal complete/fail operations that delete the record and its
// files. Ordering within a tenant is whatever the store's dequeue query
// implements; no ordering is guaranteed across tenants.
package queue

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/docket-dev/docket/internal/domain"
	"github.com/docket-dev/docket/internal/store"
)

// FileUpload is one file attached to an enqueue request. Pages carries the
// pre-converted page images for image-mode files.
type FileUpload struct {
	DisplayName string
	MimeType    string
	Mode        domain.FileMode
	Data        []byte
	Pages       [][]byte
}

// EnqueueRequest describes a task to be queued.
type EnqueueRequest struct {
	Type      domain.TaskType
	TenantKey string
	Priority  int
	Payload   json.RawMessage
	Files     []FileUpload
}

// EnqueueReceipt reports the outcome of an enqueue.
type EnqueueReceipt struct {
	TaskID        uuid.UUID
	TenantKeyHash string
	QueueLength   int
}

// Service implements the queue operations over the task and file stores.
type Service struct {
	tasks  store.TaskStore
	files  store.FileStore
	logger *slog.Logger
}

// NewService creates a queue Service.
func NewService(tasks store.TaskStore, files store.FileStore, logger *slog.Logger) *Service {
	return &Service{
		tasks:  tasks,
		files:  files,
		logger: logger.With("component", "queue"),
	}
}

// HashTenantKey computes the stable partition key for a tenant credential.
// Workers are scoped to this hash, never to the raw credential.
func HashTenantKey(tenantKey string) string {
	sum := sha3.Sum256([]byte(tenantKey))
	return hex.EncodeToString(sum[:])
}

// Enqueue validates the payload, persists any attached files, creates the
// task in queued state, and reports the tenant's new queue depth.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueReceipt, error) {
	if err := validatePayload(req.Type, req.Payload); err != nil {
		return nil, err
	}
	if req.TenantKey == "" {
		return nil, errors.New("tenant key cannot be empty")
	}

	taskID := uuid.New()
	hash := HashTenantKey(req.TenantKey)
	now := time.Now().UTC()

	files := make([]domain.TaskFile, 0, len(req.Files))
	for _, upload := range req.Files {
		file := domain.TaskFile{
			ID:             uuid.New(),
			DisplayName:    upload.DisplayName,
			Size:           int64(len(upload.Data)),
			MimeType:       upload.MimeType,
			Mode:           upload.Mode,
			ConvertedPages: len(upload.Pages),
		}

		path, err := s.files.SaveFile(ctx, taskID, file, upload.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to save file %q: %w", upload.DisplayName, err)
		}
		file.StoragePath = path

		if len(upload.Pages) > 0 {
			if err := s.files.SaveConvertedImages(ctx, taskID, file.ID, upload.Pages); err != nil {
				return nil, fmt.Errorf("failed to save converted images for %q: %w", upload.DisplayName, err)
			}
		}
		files = append(files, file)
	}

	task := &domain.Task{
		ID:            taskID,
		Type:          req.Type,
		Status:        domain.TaskStatusQueued,
		TenantKeyHash: hash,
		Priority:      req.Priority,
		Payload:       req.Payload,
		Files:         files,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.tasks.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	length, err := s.tasks.CountQueuedByTenantKey(ctx, hash)
	if err != nil {
		// The task is queued; depth is advisory.
		s.logger.Warn("failed to count queue length after enqueue",
			"task_id", taskID, "error", err)
	}

	s.logger.Info("task enqueued",
		"task_id", taskID,
		"task_type", task.Type,
		"queue_length", length)

	return &EnqueueReceipt{TaskID: taskID, TenantKeyHash: hash, QueueLength: length}, nil
}

// Dequeue atomically claims the next queued task for a tenant. It returns
// (nil, nil) when the queue is empty. The payload tag is validated here so an
// unrecognized variant fails fast instead of reaching the executor.
func (s *Service) Dequeue(ctx context.Context, tenantKeyHash string) (*domain.Task, error) {
	task, err := s.tasks.DequeueNext(ctx, tenantKeyHash)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}

	if _, err := domain.DecodePayload(task.Type, task.Payload); err != nil {
		s.logger.Error("dequeued task has an invalid payload, failing it",
			"task_id", task.ID,
			"task_type", task.Type,
			"error", err)
		if failErr := s.Fail(ctx, task.ID, err.Error()); failErr != nil {
			s.logger.Error("failed to discard invalid task", "task_id", task.ID, "error", failErr)
		}
		return nil, err
	}

	return task, nil
}

// Complete removes a finished task and its files. Completing a task that no
// longer exists is a no-op.
func (s *Service) Complete(ctx context.Context, taskID uuid.UUID) error {
	return s.remove(ctx, taskID, "")
}

// Fail records the failure in the log and removes the task and its files the
// same way Complete does; failed tasks are never retained. Failing a task
// that no longer exists is a no-op.
func (s *Service) Fail(ctx context.Context, taskID uuid.UUID, errorMessage string) error {
	return s.remove(ctx, taskID, errorMessage)
}

func (s *Service) remove(ctx context.Context, taskID uuid.UUID, errorMessage string) error {
	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load task: %w", err)
	}

	if errorMessage != "" {
		s.logger.Warn("task failed",
			"task_id", taskID,
			"task_type", task.Type,
			"error_message", errorMessage)
	} else {
		s.logger.Info("task completed", "task_id", taskID, "task_type", task.Type)
	}

	if err := s.files.DeleteTaskFiles(ctx, taskID); err != nil {
		return fmt.Errorf("failed to delete task files: %w", err)
	}
	if err := s.tasks.Delete(ctx, taskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// QueueLength returns the number of queued tasks for a tenant.
func (s *Service) QueueLength(ctx context.Context, tenantKeyHash string) (int, error) {
	return s.tasks.CountQueuedByTenantKey(ctx, tenantKeyHash)
}

// DistinctTenantKeys returns every tenant key hash with queued work.
func (s *Service) DistinctTenantKeys(ctx context.Context) ([]string, error) {
	return s.tasks.DistinctTenantKeysInQueue(ctx)
}

// ProcessingTasks returns every task currently marked processing.
func (s *Service) ProcessingTasks(ctx context.Context) ([]*domain.Task, error) {
	return s.tasks.FindByStatus(ctx, domain.TaskStatusProcessing)
}
