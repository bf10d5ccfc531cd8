package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/docket-dev/docket/internal/domain"
)

// TaskStore defines the interface for persisting tasks. Implementations must
// make DequeueNext atomic: under concurrent callers for the same tenant key,
// each queued task is claimed at most once.
type TaskStore interface {
	// FindByID retrieves a task by its ID, or ErrTaskNotFound.
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// FindByStatus retrieves all tasks with the given status.
	FindByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error)

	// DistinctTenantKeysInQueue returns every tenant key hash that currently
	// has at least one queued task.
	DistinctTenantKeysInQueue(ctx context.Context) ([]string, error)

	// CountQueuedByTenantKey returns the number of queued tasks for a tenant.
	CountQueuedByTenantKey(ctx context.Context, tenantKeyHash string) (int, error)

	// DequeueNext atomically claims the next queued task for the tenant,
	// transitioning it to processing. Returns ErrTaskNotFound when the
	// tenant's queue is empty.
	DequeueNext(ctx context.Context, tenantKeyHash string) (*domain.Task, error)

	// Save persists a task record.
	Save(ctx context.Context, task *domain.Task) error

	// Delete removes a task record. Deleting a missing task is a no-op.
	Delete(ctx context.Context, id uuid.UUID) error
}

// FileStore defines the interface for task file blobs and their derived forms.
type FileStore interface {
	// EnsureBaseDir creates the storage root if needed and acquires the
	// single-process lock on it.
	EnsureBaseDir() error

	// SaveFile persists the original bytes of a task file and returns the
	// storage path recorded in the task's file metadata.
	SaveFile(ctx context.Context, taskID uuid.UUID, file domain.TaskFile, data []byte) (string, error)

	// SaveConvertedImages persists the pre-converted page images of an
	// image-mode file.
	SaveConvertedImages(ctx context.Context, taskID uuid.UUID, fileID uuid.UUID, pages [][]byte) error

	// LoadFile reads back the original bytes of a task file.
	LoadFile(ctx context.Context, taskID uuid.UUID, file domain.TaskFile) ([]byte, error)

	// LoadConvertedImages reads back the converted page images of a file,
	// in page order.
	LoadConvertedImages(ctx context.Context, taskID uuid.UUID, file domain.TaskFile) ([][]byte, error)

	// ExtractText returns the markdown extraction of a stored text-mode file,
	// converting it on first use.
	ExtractText(ctx context.Context, taskID uuid.UUID, file domain.TaskFile) (string, error)

	// DeleteTaskFiles removes every stored file belonging to the task.
	DeleteTaskFiles(ctx context.Context, taskID uuid.UUID) error
}
