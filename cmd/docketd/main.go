// Package main implements the entry point for the docketd daemon, which
// executes queued document review and checklist generation tasks and serves
// the operational HTTP surface.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/docket-dev/docket/internal/api"
	"github.com/docket-dev/docket/internal/config"
	"github.com/docket-dev/docket/internal/events"
	"github.com/docket-dev/docket/internal/platform/filestore"
	"github.com/docket-dev/docket/internal/platform/gemini"
	"github.com/docket-dev/docket/internal/platform/logger"
	"github.com/docket-dev/docket/internal/platform/postgres"
	"github.com/docket-dev/docket/internal/queue"
	"github.com/docket-dev/docket/internal/task"
)

func main() {
	// A .env file is a development convenience; deployments configure
	// through the environment.
	_ = godotenv.Load()

	if err := run(); err != nil {
		log.Fatalf("docketd failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logg := logger.Setup(cfg.Server)
	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"worker_concurrency", cfg.Queue.WorkerConcurrency,
		"polling_interval_ms", cfg.Queue.PollingIntervalMs)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := postgres.MigrateUp(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	files := filestore.New(cfg.Storage.BaseDir, logg)
	defer func() {
		if err := files.Close(); err != nil {
			slog.Error("failed to release storage lock", "error", err)
		}
	}()

	taskStore := postgres.NewTaskStore(db)
	reviewStore := postgres.NewReviewStore(db)
	docCacheStore := postgres.NewDocumentCacheStore(db)

	emitter := events.NewInMemoryEmitter(logg)
	emitter.RegisterHandler(events.NewLogHandler(logg))
	queueSvc := queue.NewService(taskStore, files, logg)
	registry := task.NewCancellationRegistry()

	pipe, err := gemini.NewPipeline(cfg.LLM, cfg.Queue.ChunkParallelism, emitter, logg)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	credentials := queue.NewStaticCredentials(cfg.LLM.GeminiAPIKey)

	executor := task.NewExecutor(
		files,
		reviewStore,
		reviewStore,
		reviewStore,
		reviewStore,
		docCacheStore,
		pipe,
		registry,
		credentials,
		logg,
	)
	pool := task.NewWorkerPool(
		queueSvc,
		executor,
		registry,
		cfg.Queue.WorkerConcurrency,
		time.Duration(cfg.Queue.PollingIntervalMs)*time.Millisecond,
		logg,
	)
	boot := task.NewBootstrap(queueSvc, pool, files, reviewStore, reviewStore, logg)

	if err := boot.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize execution core: %w", err)
	}

	ops := api.NewOpsHandler(queueSvc, pool, registry, logg)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           ops.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	slog.Info("docketd started", "addr", srv.Addr)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("ops server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("ops server shutdown failed", "error", err)
	}

	// Workers finish their in-flight task before stopping.
	boot.Shutdown()
	slog.Info("docketd stopped")
	return nil
}
