package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Database access modes. They control what metadata.json advertises to
// the frontend and whether the server expects a bridge peer.
const (
	DatabaseWASM   = "wasm"   // frontend-local database, server only serves files
	DatabaseREST   = "rest"   // frontend queries the server's /data/query endpoint
	DatabaseSocket = "socket" // queries forwarded to an attached peer over WebSocket
)

// Config represents the complete server configuration.
type Config struct {
	// Addr is the host:port the HTTP server listens on.
	Addr string `json:"addr"`

	// StaticPath is the directory holding the frontend bundle. Empty
	// disables static file serving.
	StaticPath string `json:"static_path,omitempty"`

	// CacheDir is the root directory for the projection cache and the
	// datasource scratch area. Empty selects a per-user default under
	// the OS cache directory.
	CacheDir string `json:"cache_dir,omitempty"`

	Dataset   DatasetConfig   `json:"dataset"`
	Workers   WorkerConfig    `json:"workers"`
	Bridge    BridgeConfig    `json:"bridge"`
	Database  DatabaseConfig  `json:"database"`
	Embedding EmbeddingConfig `json:"embedding"`
	CORS      CORSConfig      `json:"cors"`
}

// DatasetConfig identifies the dataset being served.
type DatasetConfig struct {
	// Identifier names the dataset; it namespaces the scratch cache.
	Identifier string `json:"identifier"`
	// Path points at the dataset file loaded into the query database.
	Path string `json:"path,omitempty"`
}

// WorkerConfig sizes the dispatcher that runs queries and exports.
type WorkerConfig struct {
	Count     int `json:"count"`
	QueueSize int `json:"queue_size"`
}

// BridgeConfig controls the WebSocket RPC bridge.
type BridgeConfig struct {
	Enabled        bool          `json:"enabled"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// DatabaseConfig describes how the frontend should reach the database.
type DatabaseConfig struct {
	Type string `json:"type"`
	// URI overrides the connection target for rest and socket modes.
	URI string `json:"uri,omitempty"`
	// Load tells the frontend to pull the dataset into its own
	// database when pointing at an external URI.
	Load bool `json:"load,omitempty"`
}

// EmbeddingConfig selects defaults for the embedding producers.
type EmbeddingConfig struct {
	// TextModel overrides the default text embedding model.
	TextModel string `json:"text_model,omitempty"`
	// ImageModel overrides the default image embedding model.
	ImageModel string `json:"image_model,omitempty"`
	// APIBase and APIKey configure the remote embedding API producer.
	// Empty APIKey disables it.
	APIBase string `json:"api_base,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
}

// CORSConfig controls cross-origin response headers.
type CORSConfig struct {
	Enabled        bool     `json:"enabled"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// Default returns a configuration with working defaults for local serving.
func Default() *Config {
	return &Config{
		Addr: "localhost:5055",
		Dataset: DatasetConfig{
			Identifier: "default",
		},
		Workers: WorkerConfig{
			Count:     4,
			QueueSize: 256,
		},
		Bridge: BridgeConfig{
			Enabled:        true,
			RequestTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Type: DatabaseREST,
		},
		CORS: CORSConfig{
			Enabled: true,
		},
	}
}

// Load reads a JSON configuration file and merges it over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.Dataset.Identifier == "" {
		return fmt.Errorf("dataset identifier is required")
	}

	switch c.Database.Type {
	case DatabaseWASM, DatabaseREST, DatabaseSocket:
	default:
		return fmt.Errorf("database type %q: must be one of %s, %s, %s",
			c.Database.Type, DatabaseWASM, DatabaseREST, DatabaseSocket)
	}

	if c.Workers.Count < 0 {
		return fmt.Errorf("workers count cannot be negative")
	}
	if c.Workers.QueueSize < 0 {
		return fmt.Errorf("workers queue size cannot be negative")
	}
	if c.Bridge.RequestTimeout < 0 {
		return fmt.Errorf("bridge request timeout cannot be negative")
	}

	if c.StaticPath != "" {
		info, err := os.Stat(c.StaticPath)
		if err != nil {
			return fmt.Errorf("static path %s: %w", c.StaticPath, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("static path %s is not a directory", c.StaticPath)
		}
	}

	return nil
}
