package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docket-dev/docket/internal/domain"
)

// errorBackoff is how long a worker sleeps after an uncaught loop error
// before resuming polling.
const errorBackoff = 5 * time.Second

// TaskQueue is the slice of the queue service a worker consumes.
type TaskQueue interface {
	Dequeue(ctx context.Context, tenantKeyHash string) (*domain.Task, error)
	Complete(ctx context.Context, taskID uuid.UUID) error
	Fail(ctx context.Context, taskID uuid.UUID, errorMessage string) error
}

// ExecResult is the normalized outcome of one task execution. Executors never
// surface errors any other way.
type ExecResult struct {
	Success      bool
	ErrorMessage string
}

// TaskExecutor runs one dequeued task to completion.
type TaskExecutor interface {
	Execute(ctx context.Context, task *domain.Task) ExecResult
}

// Worker is one polling loop bound to a single tenant key, executing at most
// one task at a time.
type Worker struct {
	id            string
	tenantKeyHash string
	queue         TaskQueue
	executor      TaskExecutor
	registry      Registry
	pollInterval  time.Duration
	logger        *slog.Logger

	mu            sync.Mutex
	running       bool
	stopping      bool
	stopCh        chan struct{}
	doneCh        chan struct{}
	currentTaskID uuid.UUID
}

// NewWorker creates a worker for one tenant key. A nil registry degrades to
// the no-op implementation.
func NewWorker(
	id string,
	tenantKeyHash string,
	queue TaskQueue,
	executor TaskExecutor,
	registry Registry,
	pollInterval time.Duration,
	logger *slog.Logger,
) *Worker {
	if registry == nil {
		registry = NewNoopRegistry()
	}
	return &Worker{
		id:            id,
		tenantKeyHash: tenantKeyHash,
		queue:         queue,
		executor:      executor,
		registry:      registry,
		pollInterval:  pollInterval,
		logger: logger.With(
			"component", "worker",
			"worker_id", id,
			"tenant_key_hash", tenantKeyHash),
	}
}

// ID returns the worker's identifier.
func (w *Worker) ID() string { return w.id }

// TenantKeyHash returns the tenant partition this worker polls.
func (w *Worker) TenantKeyHash() string { return w.tenantKeyHash }

// Running reports whether the polling loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// CurrentTaskID returns the id of the task in flight, or uuid.Nil.
func (w *Worker) CurrentTaskID() uuid.UUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentTaskID
}

// Start launches the polling loop. Starting a running worker is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopping = false
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go w.loop(w.stopCh, w.doneCh)
	w.logger.Info("worker started")
}

// Stop requests the loop to exit and waits for it. A task already in progress
// is allowed to finish; Stop waits for that too. Stopping a stopped worker is
// a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	alreadyStopping := w.stopping
	w.stopping = true
	w.mu.Unlock()

	// Only the first caller closes the channel; concurrent callers just wait.
	if !alreadyStopping {
		close(stopCh)
	}
	<-doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	w.logger.Info("worker stopped")
}

// loop polls until stop is requested. An uncaught error from the body never
// terminates the loop silently; it degrades to fail-the-task plus a fixed
// backoff and continues.
func (w *Worker) loop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if w.registry.IsCancelling() {
			// Bulk cancellation in progress elsewhere; do not pick up new
			// work until the flag clears.
			if !w.sleep(stopCh, w.pollInterval) {
				return
			}
			continue
		}

		idle, err := w.runOnce()
		if err != nil {
			w.logger.Error("worker loop error", "error", err)
			if !w.sleep(stopCh, errorBackoff) {
				return
			}
			continue
		}
		if idle {
			if !w.sleep(stopCh, w.pollInterval) {
				return
			}
		}
	}
}

// runOnce performs a single dequeue-execute-report cycle. It returns
// idle=true when the queue was empty. Panics from the executor path are
// converted into a best-effort task failure.
func (w *Worker) runOnce() (idle bool, err error) {
	ctx := context.Background()

	// The id is captured in a local because the deferred setCurrentTask below
	// runs before this recover does, clearing the field.
	var inFlight uuid.UUID
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in worker loop: %v", rec)
			w.failTask(ctx, inFlight, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	task, err := w.queue.Dequeue(ctx, w.tenantKeyHash)
	if err != nil {
		return false, fmt.Errorf("dequeue failed: %w", err)
	}
	if task == nil {
		return true, nil
	}

	inFlight = task.ID
	w.setCurrentTask(task.ID)
	defer w.setCurrentTask(uuid.Nil)

	w.logger.Info("processing task", "task_id", task.ID, "task_type", task.Type)
	result := w.executor.Execute(ctx, task)

	if result.Success {
		if err := w.queue.Complete(ctx, task.ID); err != nil {
			return false, fmt.Errorf("failed to complete task %s: %w", task.ID, err)
		}
		w.logger.Info("task completed", "task_id", task.ID)
	} else {
		if err := w.queue.Fail(ctx, task.ID, result.ErrorMessage); err != nil {
			return false, fmt.Errorf("failed to report task %s failure: %w", task.ID, err)
		}
		w.logger.Warn("task failed",
			"task_id", task.ID,
			"error_message", result.ErrorMessage)
	}
	return false, nil
}

// failTask best-effort fails a task after an uncaught panic. A Nil id means
// the panic happened before a task was claimed. Secondary errors are swallowed.
func (w *Worker) failTask(ctx context.Context, taskID uuid.UUID, message string) {
	if taskID == uuid.Nil {
		return
	}
	if err := w.queue.Fail(ctx, taskID, message); err != nil {
		w.logger.Error("failed to mark in-flight task failed",
			"task_id", taskID, "error", err)
	}
}

func (w *Worker) setCurrentTask(id uuid.UUID) {
	w.mu.Lock()
	w.currentTaskID = id
	w.mu.Unlock()
}

// sleep waits for the duration or a stop request, reporting false when the
// worker should exit. The stop-aware wait is what lets Stop return promptly
// instead of riding out a full polling interval.
func (w *Worker) sleep(stopCh <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stopCh:
		return false
	case <-timer.C:
		return true
	}
}
