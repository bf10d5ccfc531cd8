package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Defaults applied before reading the environment. Queue values double as the
// fallback for out-of-range settings.
const (
	DefaultPort              = 8085
	DefaultLogLevel          = "info"
	DefaultPollingIntervalMs = 10000
	DefaultWorkerConcurrency = 1
	DefaultChunkParallelism  = 5

	minPollingIntervalMs = 1000
)

// Load reads configuration from environment variables (prefix DOCKET_) and an
// optional config.yaml in the working directory. Environment variables take
// precedence. Queue settings below their floors fall back to the defaults with
// a warning instead of failing validation, since a misconfigured interval
// should not keep workers from starting.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.log_level", DefaultLogLevel)
	v.SetDefault("storage.base_dir", "data/files")
	v.SetDefault("queue.polling_interval_ms", DefaultPollingIntervalMs)
	v.SetDefault("queue.worker_concurrency", DefaultWorkerConcurrency)
	v.SetDefault("queue.chunk_parallelism", DefaultChunkParallelism)
	v.SetDefault("llm.model_name", "gemini-2.0-flash")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DOCKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about; keys without
	// defaults must be bound explicitly or Unmarshal never sees them.
	for _, key := range []string{
		"server.port",
		"server.log_level",
		"database.url",
		"storage.base_dir",
		"queue.polling_interval_ms",
		"queue.worker_concurrency",
		"queue.chunk_parallelism",
		"llm.gemini_api_key",
		"llm.model_name",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment key %q: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; the environment alone may be complete.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyQueueFloors(&cfg.Queue)

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyQueueFloors replaces out-of-range queue settings with their defaults.
func applyQueueFloors(q *QueueConfig) {
	if q.PollingIntervalMs < minPollingIntervalMs {
		slog.Warn("invalid polling interval configured, using default",
			"configured_ms", q.PollingIntervalMs,
			"default_ms", DefaultPollingIntervalMs)
		q.PollingIntervalMs = DefaultPollingIntervalMs
	}
	if q.WorkerConcurrency < 1 {
		slog.Warn("invalid worker concurrency configured, using default",
			"configured", q.WorkerConcurrency,
			"default", DefaultWorkerConcurrency)
		q.WorkerConcurrency = DefaultWorkerConcurrency
	}
	if q.ChunkParallelism < 1 {
		slog.Warn("invalid chunk parallelism configured, using default",
			"configured", q.ChunkParallelism,
			"default", DefaultChunkParallelism)
		q.ChunkParallelism = DefaultChunkParallelism
	}
}
