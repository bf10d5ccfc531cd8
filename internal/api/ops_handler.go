// Package api provides the operational HTTP surface: health, queue and
// worker introspection, and task cancellation. Task submission happens
// in-process through the queue service, not over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docket-dev/docket/internal/task"
)

// QueueInspector is the subset of the queue service the ops surface reads.
type QueueInspector interface {
	DistinctTenantKeys(ctx context.Context) ([]string, error)
	QueueLength(ctx context.Context, tenantKeyHash string) (int, error)
}

// PoolInspector is the subset of the worker pool the ops surface reads.
type PoolInspector interface {
	RunningWorkerCount() int
	ManagedTenantKeys() []string
}

// OpsHandler handles operational HTTP requests.
type OpsHandler struct {
	queue    QueueInspector
	pool     PoolInspector
	registry task.Registry
	logger   *slog.Logger
}

// NewOpsHandler creates an OpsHandler.
func NewOpsHandler(queue QueueInspector, pool PoolInspector, registry task.Registry, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{
		queue:    queue,
		pool:     pool,
		registry: registry,
		logger:   logger.With("component", "ops_handler"),
	}
}

// Routes mounts the ops endpoints on a fresh router.
func (h *OpsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Route("/ops", func(r chi.Router) {
		r.Get("/queues", h.Queues)
		r.Get("/workers", h.Workers)
		r.Post("/tasks/{id}/cancel", h.CancelTask)
	})
	return r
}

// Health handles GET /health requests.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// queueStatus is one tenant queue's depth as reported by GET /ops/queues.
type queueStatus struct {
	TenantKeyHash string `json:"tenant_key_hash"`
	QueuedTasks   int    `json:"queued_tasks"`
}

// Queues handles GET /ops/queues requests. It reports the queue depth of
// every tenant key with queued work.
func (h *OpsHandler) Queues(w http.ResponseWriter, r *http.Request) {
	keys, err := h.queue.DistinctTenantKeys(r.Context())
	if err != nil {
		h.logger.Error("failed to list tenant keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to list queues")
		return
	}

	queues := make([]queueStatus, 0, len(keys))
	for _, key := range keys {
		length, err := h.queue.QueueLength(r.Context(), key)
		if err != nil {
			h.logger.Error("failed to read queue length",
				"tenant_key_hash", key,
				"error", err)
			respondWithError(w, http.StatusInternalServerError, "failed to read queue length")
			return
		}
		queues = append(queues, queueStatus{TenantKeyHash: key, QueuedTasks: length})
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"queues":       queues,
		"generated_at": time.Now().UTC(),
	})
}

// Workers handles GET /ops/workers requests.
func (h *OpsHandler) Workers(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"running_workers":  h.pool.RunningWorkerCount(),
		"managed_tenants":  h.pool.ManagedTenantKeys(),
		"cancelling_phase": h.registry.IsCancelling(),
	})
}

// CancelTask handles POST /ops/tasks/{id}/cancel requests. Cancellation is
// cooperative: the run's context is cancelled and the task still finishes
// through its normal failure path.
func (h *OpsHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid task ID format")
		return
	}

	if !h.registry.IsRegistered(taskID) {
		respondWithError(w, http.StatusNotFound, "no running task with that ID")
		return
	}

	cancelled := h.registry.Cancel(taskID)
	h.logger.Info("task cancellation requested",
		"task_id", taskID,
		"cancelled", cancelled)

	respondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"task_id":   taskID,
		"cancelled": cancelled,
	})
}
