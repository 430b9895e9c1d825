package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.False(t, cfg.Engine.KeepDuplicates)
	assert.Equal(t, 1<<20, cfg.Engine.MaxLineBytes)
	assert.False(t, cfg.Snapshot.Enabled)
	assert.NotEmpty(t, cfg.Snapshot.Dir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadFile(t *testing.T) {
	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := writeConfig(t, `
engine:
  memory_limit: 256MB
  keep_duplicates: true
cache:
  ttl: 90s
logging:
  level: DEBUG
`)
		cfg, err := LoadFile(path)
		require.NoError(t, err)

		assert.Equal(t, int64(256*1024*1024), cfg.Engine.MemoryLimit)
		assert.True(t, cfg.Engine.KeepDuplicates)
		assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
		assert.Equal(t, "debug", cfg.Logging.Level)

		// untouched sections
		assert.True(t, cfg.Cache.Enabled)
		assert.Equal(t, 1000, cfg.Cache.Size)
		assert.Equal(t, 1<<20, cfg.Engine.MaxLineBytes)
		require.NoError(t, cfg.Validate())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfig(t, "engine: [not, a, map\n")
		_, err := LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing config")
	})
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	t.Setenv("NEURONET_WORKERS", "")
	t.Setenv("NEURONET_LOG_LEVEL", "")

	t.Run("empty path uses defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default().Cache, cfg.Cache)
	})

	t.Run("env wins over file", func(t *testing.T) {
		path := writeConfig(t, "engine:\n  workers: 2\nlogging:\n  level: warn\n")
		t.Setenv("NEURONET_WORKERS", "6")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 6, cfg.Engine.Workers)
		assert.Equal(t, "warn", cfg.Logging.Level)
	})

	t.Run("invalid result is rejected", func(t *testing.T) {
		t.Setenv("NEURONET_LOG_LEVEL", "loud")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "log level")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative engine memory", func(c *Config) { c.Engine.MemoryLimitStr = "-1GB"; c.resolve() }, "engine memory limit"},
		{"negative workers", func(c *Config) { c.Engine.Workers = -1 }, "worker count"},
		{"zero line bytes", func(c *Config) { c.Engine.MaxLineBytes = 0 }, "max line bytes"},
		{"zero cache size", func(c *Config) { c.Cache.Size = 0 }, "cache size"},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -time.Second }, "cache ttl"},
		{"snapshot without dir", func(c *Config) { c.Snapshot.Enabled = true; c.Snapshot.Dir = "" }, "no directory"},
		{"negative pool size", func(c *Config) { c.Pool.MaxSize = -5 }, "pool max size"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
		{"negative runtime memory", func(c *Config) { c.Runtime.MemoryLimit = -1 }, "runtime memory limit"},
		{"gc percent below off", func(c *Config) { c.Runtime.GCPercent = -2 }, "gc percent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("disabled cache ignores size", func(t *testing.T) {
		cfg := Default()
		cfg.Cache.Enabled = false
		cfg.Cache.Size = 0
		assert.NoError(t, cfg.Validate())
	})

	t.Run("gc off is allowed", func(t *testing.T) {
		cfg := Default()
		cfg.Runtime.GCPercent = -1
		assert.NoError(t, cfg.Validate())
	})
}

func TestYAML_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Engine.MemoryLimitStr = "1GB"
	cfg.Engine.Workers = 3
	cfg.Snapshot.Enabled = true
	cfg.Snapshot.Dir = "/tmp/neuronet-test"
	cfg.resolve()

	data, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "memory_limit: 1GB")

	path := writeConfig(t, string(data))
	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestEffectiveWorkers(t *testing.T) {
	cfg := Default()
	assert.Positive(t, cfg.EffectiveWorkers())

	cfg.Engine.Workers = 4
	assert.Equal(t, 4, cfg.EffectiveWorkers())
}

func TestString(t *testing.T) {
	cfg := Default()
	s := cfg.String()
	assert.True(t, strings.HasPrefix(s, "Config{"))
	assert.Contains(t, s, "MemoryLimit: unlimited")

	cfg.Engine.MemoryLimit = 2 * 1024 * 1024 * 1024
	assert.Contains(t, cfg.String(), "MemoryLimit: 2.00 GB")
}
