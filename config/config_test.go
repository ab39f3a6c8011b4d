package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "localhost:5055", cfg.Addr)
	assert.Equal(t, DatabaseREST, cfg.Database.Type)
	assert.Equal(t, 4, cfg.Workers.Count)
	assert.Equal(t, 30*time.Second, cfg.Bridge.RequestTimeout)
	assert.True(t, cfg.Bridge.Enabled)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"addr": "0.0.0.0:8080",
		"dataset": {"identifier": "mnist"},
		"database": {"type": "socket", "uri": "ws://localhost:5055/data/mcp_websocket"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
	assert.Equal(t, "mnist", cfg.Dataset.Identifier)
	assert.Equal(t, DatabaseSocket, cfg.Database.Type)
	// Untouched fields keep their defaults
	assert.Equal(t, 4, cfg.Workers.Count)
	assert.True(t, cfg.CORS.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing addr",
			mutate:  func(c *Config) { c.Addr = "" },
			wantErr: "addr",
		},
		{
			name:    "missing dataset identifier",
			mutate:  func(c *Config) { c.Dataset.Identifier = "" },
			wantErr: "identifier",
		},
		{
			name:    "unknown database type",
			mutate:  func(c *Config) { c.Database.Type = "duck" },
			wantErr: "database type",
		},
		{
			name:    "negative workers",
			mutate:  func(c *Config) { c.Workers.Count = -1 },
			wantErr: "workers count",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Bridge.RequestTimeout = -time.Second },
			wantErr: "timeout",
		},
		{
			name:    "static path does not exist",
			mutate:  func(c *Config) { c.StaticPath = "/definitely/not/here" },
			wantErr: "static path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateStaticPathIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	cfg := Default()
	cfg.StaticPath = path
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestHelpers(t *testing.T) {
	m := map[string]any{
		"model":      "all-MiniLM-L6-v2",
		"batch_size": float64(16), // JSON numbers decode as float64
		"min_dist":   0.25,
		"verbose":    true,
		"umap_args":  map[string]any{"n_neighbors": float64(10)},
	}

	assert.Equal(t, "all-MiniLM-L6-v2", GetString(m, "model", "fallback"))
	assert.Equal(t, "fallback", GetString(m, "missing", "fallback"))
	assert.Equal(t, 16, GetInt(m, "batch_size", 32))
	assert.Equal(t, 32, GetInt(m, "missing", 32))
	assert.Equal(t, 0.25, GetFloat64(m, "min_dist", 0.1))
	assert.True(t, GetBool(m, "verbose", false))
	assert.False(t, GetBool(m, "missing", false))

	nested := GetMap(m, "umap_args")
	require.NotNil(t, nested)
	assert.Equal(t, 10, GetInt(nested, "n_neighbors", 15))
	assert.Nil(t, GetMap(m, "model"))
}
