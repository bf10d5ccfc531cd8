package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage"  validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"      validate:"required"`
}

// ServerConfig contains the ops HTTP server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// StorageConfig contains the task file store settings.
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir" validate:"required"`
}

// QueueConfig contains worker and chunk-research tuning. Values below the
// documented floors fall back to the defaults during Load.
type QueueConfig struct {
	// PollingIntervalMs is how long a worker sleeps between empty dequeue
	// attempts. Default 10000, floor 1000.
	PollingIntervalMs int `mapstructure:"polling_interval_ms" validate:"required,gte=1000"`

	// WorkerConcurrency is the number of workers started per tenant key.
	// Default 1, floor 1.
	WorkerConcurrency int `mapstructure:"worker_concurrency" validate:"required,gte=1"`

	// ChunkParallelism caps concurrent model calls within one chunked
	// research batch.
	ChunkParallelism int `mapstructure:"chunk_parallelism" validate:"required,gte=1"`
}

// LLMConfig contains all model integration related settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName    string `mapstructure:"model_name"     validate:"required"`
}
