package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Processing modes
const (
	ModeParallel   = "parallel"
	ModeSequential = "sequential"
)

// Storage backends
const (
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// Config holds all configuration for flightgraph
type Config struct {
	// Server configuration
	HTTPPort int    `env:"FLIGHTGRAPH_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"FLIGHTGRAPH_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// Worker configuration
	Workers WorkerConfig

	// Processing configuration
	Processing ProcessingConfig

	// Reference database configuration
	Reference ReferenceConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Event streams
	ConsumerGroup string `env:"REDIS_CONSUMER_GROUP" envDefault:"flightgraph"`
	ConsumerName  string `env:"REDIS_CONSUMER_NAME"`
	StreamMaxLen  int64  `env:"REDIS_STREAM_MAX_LEN" envDefault:"10000"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	// PoolSize of zero uses the available hardware parallelism
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"0"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// ProcessingConfig controls how flights are processed
type ProcessingConfig struct {
	Mode string `env:"PROCESSING_MODE" envDefault:"parallel"`
	// BatchParallelism bounds how many flights of a batch run at once
	BatchParallelism int           `env:"PROCESSING_BATCH_PARALLELISM" envDefault:"4"`
	RunTTL           time.Duration `env:"PROCESSING_RUN_TTL" envDefault:"168h"`
	Storage          string        `env:"PROCESSING_STORAGE" envDefault:"redis"`
	CatalogPath      string        `env:"PROCESSING_CATALOG_PATH"`
}

// ReferenceConfig holds the reference database connection. An empty DSN
// runs without reference data; steps needing it are skipped.
type ReferenceConfig struct {
	Driver string `env:"REFERENCE_DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"REFERENCE_DB_DSN"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	RunTimeout      time.Duration `env:"TIMEOUT_RUN" envDefault:"600s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	switch c.Processing.Storage {
	case StorageRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("invalid storage backend: %s (must be redis or memory)", c.Processing.Storage)
	}

	if c.Workers.PoolSize < 0 {
		return fmt.Errorf("worker pool size must not be negative")
	}

	switch c.Processing.Mode {
	case ModeParallel, ModeSequential:
	default:
		return fmt.Errorf("invalid processing mode: %s (must be parallel or sequential)", c.Processing.Mode)
	}
	if c.Processing.BatchParallelism < 1 {
		return fmt.Errorf("batch parallelism must be at least 1")
	}

	if c.Reference.DSN != "" {
		switch c.Reference.Driver {
		case "sqlite3", "mysql", "postgres":
		default:
			return fmt.Errorf("unsupported reference database driver: %s", c.Reference.Driver)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Sequential reports whether steps run one at a time
func (c *Config) Sequential() bool {
	return c.Processing.Mode == ModeSequential
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
