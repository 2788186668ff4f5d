package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"
)

// Config represents the main specmgr configuration
type Config struct {
	// Documents to index
	Documents DocumentsConfig `json:"documents" mapstructure:"documents" yaml:"documents"`

	// HTTP API
	Server ServerConfig `json:"server" mapstructure:"server" yaml:"server"`

	// Vector database
	VectorDB VectorDBConfig `json:"vector_db" mapstructure:"vector_db" yaml:"vector_db"`

	// Embedding provider
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding" yaml:"embedding"`

	// Change queue
	Queue QueueConfig `json:"queue" mapstructure:"queue" yaml:"queue"`

	// Periodic sync
	Scheduler SchedulerConfig `json:"scheduler" mapstructure:"scheduler" yaml:"scheduler"`

	Sync SyncConfig `json:"sync" mapstructure:"sync" yaml:"sync"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging" yaml:"logging"`

	// Data directory for the vector database, queue, PID file and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir" yaml:"data_dir"`
}

// DocumentsConfig describes the documents root
type DocumentsConfig struct {
	Path       string      `json:"path" mapstructure:"path" yaml:"path"`
	Extensions []string    `json:"extensions" mapstructure:"extensions" yaml:"extensions"`
	Exclude    []string    `json:"exclude" mapstructure:"exclude" yaml:"exclude"`
	Watch      WatchConfig `json:"watch" mapstructure:"watch" yaml:"watch"`
}

// WatchConfig holds file watcher settings
type WatchConfig struct {
	Enabled    bool `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	DebounceMs int  `json:"debounce_ms" mapstructure:"debounce_ms" yaml:"debounce_ms"`
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Enabled     bool     `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Host        string   `json:"host" mapstructure:"host" yaml:"host"`
	Port        int      `json:"port" mapstructure:"port" yaml:"port"`
	CORSOrigins []string `json:"cors_origins" mapstructure:"cors_origins" yaml:"cors_origins"`
}

// VectorDBConfig holds vector store configuration
type VectorDBConfig struct {
	Path       string `json:"path" mapstructure:"path" yaml:"path"`
	Collection string `json:"collection" mapstructure:"collection" yaml:"collection"`
	VectorSize int    `json:"vector_size" mapstructure:"vector_size" yaml:"vector_size"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider   string `json:"provider" mapstructure:"provider" yaml:"provider"` // openai, ollama, hash, none
	Model      string `json:"model" mapstructure:"model" yaml:"model"`
	APIKey     string `json:"api_key" mapstructure:"api_key" yaml:"api_key"`
	BaseURL    string `json:"base_url" mapstructure:"base_url" yaml:"base_url"`
	OllamaHost string `json:"ollama_host" mapstructure:"ollama_host" yaml:"ollama_host"`
	MaxTokens  int    `json:"max_tokens" mapstructure:"max_tokens" yaml:"max_tokens"`
}

// QueueConfig holds change queue settings
type QueueConfig struct {
	Path         string  `json:"path" mapstructure:"path" yaml:"path"`
	MaxRetries   int     `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
	BackoffBase  float64 `json:"backoff_base" mapstructure:"backoff_base" yaml:"backoff_base"`
	PopTimeoutMs int     `json:"pop_timeout_ms" mapstructure:"pop_timeout_ms" yaml:"pop_timeout_ms"`
	// Ephemeral keeps jobs in memory only.
	Ephemeral bool `json:"ephemeral" mapstructure:"ephemeral" yaml:"ephemeral"`
}

// SchedulerConfig holds periodic sync settings
type SchedulerConfig struct {
	Enabled         bool   `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	IntervalSeconds int    `json:"interval_seconds" mapstructure:"interval_seconds" yaml:"interval_seconds"`
	Cron            string `json:"cron" mapstructure:"cron" yaml:"cron"`
}

// SyncConfig holds bulk sync settings
type SyncConfig struct {
	OnStartup bool `json:"on_startup" mapstructure:"on_startup" yaml:"on_startup"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level" yaml:"level"`
	File      string `json:"file" mapstructure:"file" yaml:"file"`
	Console   bool   `json:"console" mapstructure:"console" yaml:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty" yaml:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size" yaml:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age" yaml:"max_age"`    // days
	Compress  bool   `json:"compress" mapstructure:"compress" yaml:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction" yaml:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Documents: DocumentsConfig{
			Path:       "docs",
			Extensions: []string{".md", ".markdown"},
			Exclude:    []string{"node_modules", ".git", ".specmgr-*"},
			Watch: WatchConfig{
				Enabled:    true,
				DebounceMs: 1000,
			},
		},
		Server: ServerConfig{
			Enabled:     true,
			Host:        "0.0.0.0",
			Port:        3000,
			CORSOrigins: []string{"http://localhost:5173"},
		},
		VectorDB: VectorDBConfig{
			Collection: "documents",
			VectorSize: 1536,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			MaxTokens: 8191,
		},
		Queue: QueueConfig{
			MaxRetries:   5,
			BackoffBase:  2,
			PopTimeoutMs: 1000,
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			IntervalSeconds: 30,
		},
		Sync: SyncConfig{
			OnStartup: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Debounce returns the watcher debounce window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Documents.Watch.DebounceMs) * time.Millisecond
}

// SchedulerInterval returns the pause between scheduled passes.
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}

// PopTimeout returns the queue poll timeout.
func (c *Config) PopTimeout() time.Duration {
	return time.Duration(c.Queue.PopTimeoutMs) * time.Millisecond
}

// PIDFile returns the daemon PID file location.
func (c *Config) PIDFile() string {
	return filepath.Join(c.DataDir, "specmgr.pid")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Documents.Path == "" {
		return fmt.Errorf("documents.path is required")
	}
	if len(c.Documents.Extensions) == 0 {
		return fmt.Errorf("documents.extensions must list at least one extension")
	}
	if c.Documents.Watch.DebounceMs < 0 {
		return fmt.Errorf("documents.watch.debounce_ms must be >= 0")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.VectorDB.Collection == "" {
		return fmt.Errorf("vector_db.collection is required")
	}
	if c.VectorDB.VectorSize <= 0 {
		return fmt.Errorf("vector_db.vector_size must be positive, got %d", c.VectorDB.VectorSize)
	}

	switch c.Embedding.Provider {
	case "", "none", "hash", "openai", "ollama":
	default:
		return fmt.Errorf("invalid embedding provider %s (must be: openai, ollama, hash, none)", c.Embedding.Provider)
	}

	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must be >= 0")
	}
	if c.Queue.BackoffBase < 1 {
		return fmt.Errorf("queue.backoff_base must be >= 1")
	}

	if c.Scheduler.Enabled && c.Scheduler.Cron == "" && c.Scheduler.IntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.interval_seconds must be positive when no cron expression is set")
	}

	return nil
}
