package config

import "time"

// Config is the root configuration structure for the LogHaven server.
type Config struct {
	// Server contains HTTP API server configuration.
	Server ServerConfig `yaml:"server"`

	// Storage contains SQLite storage configuration.
	Storage StorageConfig `yaml:"storage"`

	// Retention contains configuration for the cleanup engine and its
	// schedule.
	Retention RetentionConfig `yaml:"retention"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP API server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out response
	// writes. Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful
	// shutdown. Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig contains configuration for the SQLite storage backend.
type StorageConfig struct {
	// Driver selects the SQLite driver: "sqlite3" (cgo) or "sqlite"
	// (pure Go). Default: "sqlite3"
	Driver string `yaml:"driver"`

	// Path is the database file path.
	// Default: "data/loghaven.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RetentionConfig contains configuration for the cleanup engine.
type RetentionConfig struct {
	// Schedule is the cron expression for automatic cleanup runs.
	// Empty disables scheduled cleanup.
	// Default: "0 * * * *" (hourly)
	Schedule string `yaml:"schedule"`

	// StaleAfter is how long a run may stay in the running state before
	// a new run preempts it and marks it failed. Guards against runs
	// stuck after a crash. Default: 2h
	StaleAfter time.Duration `yaml:"stale_after"`

	// DeleteBatchSize bounds the size of each delete chunk within a
	// cleanup transaction. Default: 500
	DeleteBatchSize int `yaml:"delete_batch_size"`
}

// TelemetryConfig contains logging and metrics configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the log output format: "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether the /metrics endpoint is served.
	// Default: true
	Enabled bool `yaml:"enabled"`
}
