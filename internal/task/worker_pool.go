package task

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerPool owns the workers for every managed tenant key. Liveness is
// always computed from the workers themselves; the map may briefly retain
// stopped workers until the next StartWorkers for that key discards them.
type WorkerPool struct {
	queue        TaskQueue
	executor     TaskExecutor
	registry     Registry
	concurrency  int
	pollInterval time.Duration
	logger       *slog.Logger

	// workerLogger is the untagged logger handed to workers, which attach
	// their own component field.
	workerLogger *slog.Logger

	mu      sync.Mutex
	workers map[string][]*Worker
}

// NewWorkerPool creates a pool that starts `concurrency` workers per tenant
// key. Values below 1 fall back to 1.
func NewWorkerPool(
	queue TaskQueue,
	executor TaskExecutor,
	registry Registry,
	concurrency int,
	pollInterval time.Duration,
	logger *slog.Logger,
) *WorkerPool {
	if concurrency < 1 {
		logger.Warn("invalid worker concurrency specified, using 1",
			"specified", concurrency)
		concurrency = 1
	}
	return &WorkerPool{
		queue:        queue,
		executor:     executor,
		registry:     registry,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       logger.With("component", "worker_pool"),
		workerLogger: logger,
		workers:      make(map[string][]*Worker),
	}
}

// StartWorkers ensures workers are running for a tenant key. If any existing
// worker for the key is still running this is a no-op; a fully stopped set is
// discarded and replaced with a fresh one. Start does not block on the
// workers' loops.
func (p *WorkerPool) StartWorkers(tenantKeyHash string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.workers[tenantKeyHash] {
		if w.Running() {
			p.logger.Debug("workers already running for tenant key",
				"tenant_key_hash", tenantKeyHash)
			return
		}
	}

	// Any remaining entries are stopped; drop them.
	delete(p.workers, tenantKeyHash)

	ws := make([]*Worker, 0, p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		w := NewWorker(
			fmt.Sprintf("%.8s-%d", tenantKeyHash, i),
			tenantKeyHash,
			p.queue,
			p.executor,
			p.registry,
			p.pollInterval,
			p.workerLogger,
		)
		w.Start()
		ws = append(ws, w)
	}
	p.workers[tenantKeyHash] = ws

	p.logger.Info("started workers for tenant key",
		"tenant_key_hash", tenantKeyHash,
		"count", len(ws))
}

// StopWorkers stops every worker for a tenant key, waiting for all of them in
// parallel, and removes the key from the pool.
func (p *WorkerPool) StopWorkers(tenantKeyHash string) {
	p.mu.Lock()
	ws := p.workers[tenantKeyHash]
	delete(p.workers, tenantKeyHash)
	p.mu.Unlock()

	stopAll(ws)
	p.logger.Info("stopped workers for tenant key",
		"tenant_key_hash", tenantKeyHash,
		"count", len(ws))
}

// StopAll stops every managed worker, waiting for all keys in parallel.
func (p *WorkerPool) StopAll() {
	p.mu.Lock()
	all := p.workers
	p.workers = make(map[string][]*Worker)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, ws := range all {
		wg.Add(1)
		go func(ws []*Worker) {
			defer wg.Done()
			stopAll(ws)
		}(ws)
	}
	wg.Wait()
	p.logger.Info("stopped all workers")
}

// HasRunningWorkers reports whether at least one worker for the key is
// currently running.
func (p *WorkerPool) HasRunningWorkers(tenantKeyHash string) bool {
	p.mu.Lock()
	ws := p.workers[tenantKeyHash]
	p.mu.Unlock()

	for _, w := range ws {
		if w.Running() {
			return true
		}
	}
	return false
}

// RunningWorkerCount returns the number of running workers across all keys.
func (p *WorkerPool) RunningWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	for _, ws := range p.workers {
		for _, w := range ws {
			if w.Running() {
				count++
			}
		}
	}
	return count
}

// ManagedTenantKeys returns the tenant keys the pool currently holds workers
// for, running or not.
func (p *WorkerPool) ManagedTenantKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.workers))
	for key := range p.workers {
		keys = append(keys, key)
	}
	return keys
}

func stopAll(ws []*Worker) {
	var wg sync.WaitGroup
	for _, w := range ws {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
}
