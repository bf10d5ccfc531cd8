// Package task contains the worker-side execution core: the cancellation
// registry, the per-tenant polling workers and their pool, the executor that
// dispatches tasks to the AI pipeline, and the bootstrap that recovers and
// starts everything on process start.
package task

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// RunHandle is the capability a registered pipeline run exposes: cancel only.
type RunHandle interface {
	// Cancel interrupts the run. A run that does not observe the
	// interruption in time simply runs to completion.
	Cancel() error
}

// RunHandleFunc adapts a plain function to RunHandle.
type RunHandleFunc func() error

// Cancel calls the wrapped function.
func (f RunHandleFunc) Cancel() error { return f() }

// Registry tracks in-flight pipeline runs by task id and carries the
// process-wide "cancelling" flag that pauses new dequeues.
type Registry interface {
	// Register records the run handle for a task.
	Register(taskID uuid.UUID, handle RunHandle)

	// Deregister removes the entry for a task. Callers must deregister on
	// every exit path of a run.
	Deregister(taskID uuid.UUID)

	// Cancel invokes the registered handle for a task and reports whether
	// cancellation succeeded. The registry entry is removed either way; an
	// unknown task id returns false.
	Cancel(taskID uuid.UUID) bool

	// IsRegistered reports whether a run is tracked for the task.
	IsRegistered(taskID uuid.UUID) bool

	// IsCancelling reports the shared bulk-cancellation flag. Workers check
	// it once before every dequeue attempt; it is advisory and never aborts
	// a run already in flight.
	IsCancelling() bool

	// SetCancelling sets or clears the shared bulk-cancellation flag.
	SetCancelling(v bool)
}

// CancellationRegistry is the standard Registry implementation: a keyed map
// under its own lock plus an atomic flag. Operations on one task never block
// on another beyond the map access itself.
type CancellationRegistry struct {
	mu         sync.Mutex
	runs       map[uuid.UUID]RunHandle
	cancelling atomic.Bool
}

// NewCancellationRegistry creates an empty registry. One instance is owned by
// the process startup routine and injected everywhere it is needed; tests
// construct their own for isolation.
func NewCancellationRegistry() *CancellationRegistry {
	return &CancellationRegistry{
		runs: make(map[uuid.UUID]RunHandle),
	}
}

// Register records the run handle for a task.
func (r *CancellationRegistry) Register(taskID uuid.UUID, handle RunHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[taskID] = handle
}

// Deregister removes the entry for a task.
func (r *CancellationRegistry) Deregister(taskID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, taskID)
}

// Cancel invokes the registered handle and removes the entry regardless of
// whether the handle's cancel succeeded.
func (r *CancellationRegistry) Cancel(taskID uuid.UUID) bool {
	r.mu.Lock()
	handle, ok := r.runs[taskID]
	delete(r.runs, taskID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	return handle.Cancel() == nil
}

// IsRegistered reports whether a run is tracked for the task.
func (r *CancellationRegistry) IsRegistered(taskID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[taskID]
	return ok
}

// IsCancelling reports the shared bulk-cancellation flag.
func (r *CancellationRegistry) IsCancelling() bool {
	return r.cancelling.Load()
}

// SetCancelling sets or clears the shared bulk-cancellation flag.
func (r *CancellationRegistry) SetCancelling(v bool) {
	r.cancelling.Store(v)
}

// NoopRegistry satisfies Registry without tracking anything, so components
// whose caller supplies no registry keep unconditional call sites.
type NoopRegistry struct{}

// NewNoopRegistry creates a Registry that ignores all calls.
func NewNoopRegistry() *NoopRegistry { return &NoopRegistry{} }

func (*NoopRegistry) Register(uuid.UUID, RunHandle) {}
func (*NoopRegistry) Deregister(uuid.UUID)          {}
func (*NoopRegistry) Cancel(uuid.UUID) bool         { return false }
func (*NoopRegistry) IsRegistered(uuid.UUID) bool   { return false }
func (*NoopRegistry) IsCancelling() bool            { return false }
func (*NoopRegistry) SetCancelling(bool)            {}
