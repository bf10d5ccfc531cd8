package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/docket-dev/docket/internal/domain"
	"github.com/docket-dev/docket/internal/store"
)

// recoveryMessage is attached to every task found mid-flight at startup.
const recoveryMessage = "task interrupted by system restart"

// BootstrapQueue is the slice of the queue service the bootstrap consumes.
type BootstrapQueue interface {
	ProcessingTasks(ctx context.Context) ([]*domain.Task, error)
	DistinctTenantKeys(ctx context.Context) ([]string, error)
	Fail(ctx context.Context, taskID uuid.UUID, errorMessage string) error
}

// Bootstrap owns process startup and shutdown of the execution core: crash
// recovery of tasks stuck in processing, then a worker pool per tenant key
// with pending work. It is constructed once by the process entry point and
// injected wherever lazy initialization may be triggered; tests build their
// own instance for isolation.
type Bootstrap struct {
	queue   BootstrapQueue
	pool    *WorkerPool
	files   store.FileStore
	targets store.ReviewTargetStore
	spaces  store.ReviewSpaceStore
	logger  *slog.Logger

	mu          sync.Mutex
	initialized bool
}

// NewBootstrap creates a Bootstrap.
func NewBootstrap(
	queue BootstrapQueue,
	pool *WorkerPool,
	files store.FileStore,
	targets store.ReviewTargetStore,
	spaces store.ReviewSpaceStore,
	logger *slog.Logger,
) *Bootstrap {
	return &Bootstrap{
		queue:   queue,
		pool:    pool,
		files:   files,
		targets: targets,
		spaces:  spaces,
		logger:  logger.With("component", "bootstrap"),
	}
}

// Initialize prepares storage, recovers tasks left in processing by the
// previous run, and starts workers for every tenant key with queued work.
// Calling it again is a no-op; it is safe to trigger from multiple entry
// points.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		b.logger.Debug("already initialized")
		return nil
	}

	if err := b.files.EnsureBaseDir(); err != nil {
		return fmt.Errorf("failed to prepare file storage: %w", err)
	}

	if err := b.recoverStuckTasks(ctx); err != nil {
		return err
	}

	keys, err := b.queue.DistinctTenantKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenant keys in queue: %w", err)
	}
	for _, key := range keys {
		b.pool.StartWorkers(key)
	}

	b.initialized = true
	b.logger.Info("initialized", "tenant_keys", len(keys))
	return nil
}

// Shutdown stops all worker pools. It is a no-op before initialization.
func (b *Bootstrap) Shutdown() {
	b.mu.Lock()
	initialized := b.initialized
	b.mu.Unlock()

	if !initialized {
		return
	}
	b.pool.StopAll()
	b.logger.Info("shut down")
}

// StartWorkersForTenantKey lazily initializes if needed, then starts workers
// for the key unless some are already running.
func (b *Bootstrap) StartWorkersForTenantKey(ctx context.Context, tenantKeyHash string) error {
	if err := b.Initialize(ctx); err != nil {
		return err
	}
	if !b.pool.HasRunningWorkers(tenantKeyHash) {
		b.pool.StartWorkers(tenantKeyHash)
	}
	return nil
}

// recoverStuckTasks handles every task found in processing status: its domain
// entity is marked errored on a best-effort basis, then its files and record
// are removed unconditionally. A failure on one task never aborts recovery of
// the rest.
func (b *Bootstrap) recoverStuckTasks(ctx context.Context) error {
	stuck, err := b.queue.ProcessingTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list processing tasks: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	b.logger.Info("recovering tasks stuck in processing", "count", len(stuck))

	for _, t := range stuck {
		if err := b.markRecoveredTaskFailed(ctx, t); err != nil {
			b.logger.Error("failed to mark domain entity errored during recovery",
				"task_id", t.ID,
				"task_type", t.Type,
				"error", err)
		}

		if err := b.queue.Fail(ctx, t.ID, recoveryMessage); err != nil {
			b.logger.Error("failed to remove recovered task",
				"task_id", t.ID,
				"error", err)
		}
	}
	return nil
}

// markRecoveredTaskFailed applies the domain-level error marking for one
// recovered task based on its type.
func (b *Bootstrap) markRecoveredTaskFailed(ctx context.Context, t *domain.Task) error {
	payload, err := domain.DecodePayload(t.Type, t.Payload)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case domain.ReviewPayload:
		err := b.targets.UpdateStatus(ctx, p.TargetID, domain.ReviewTargetStatusError, recoveryMessage)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	case domain.ChecklistGenerationPayload:
		err := b.spaces.SetGenerationError(ctx, p.SpaceID, recoveryMessage)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return nil
}
