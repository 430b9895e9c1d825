// Package config handles NeuroNet configuration from YAML files and the
// environment.
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. Built-in defaults (Default)
//  2. An optional YAML file (LoadFile)
//  3. NEURONET_* environment variables (ApplyEnv)
//
// Load runs all three. Validate should be called before the Config is used.
//
// Example Usage:
//
//	cfg, err := config.Load("neuronet.yaml")
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	cfg.Runtime.ApplyRuntimeMemory()
//
// Environment Variables:
//   - NEURONET_MEMORY_LIMIT="4GB"        adjacency build budget (0 = unlimited)
//   - NEURONET_KEEP_DUPLICATES=false     store repeated edge lines
//   - NEURONET_WORKERS=8                 concurrent traversals in batch queries
//   - NEURONET_MAX_LINE_BYTES=1048576
//   - NEURONET_CACHE_ENABLED=true
//   - NEURONET_CACHE_SIZE=1000
//   - NEURONET_CACHE_TTL=5m
//   - NEURONET_SNAPSHOT_ENABLED=false
//   - NEURONET_SNAPSHOT_DIR="~/.cache/neuronet"
//   - NEURONET_SNAPSHOT_SYNC_WRITES=false
//   - NEURONET_POOL_ENABLED=true
//   - NEURONET_POOL_MAX_SIZE=16777216
//   - NEURONET_LOG_LEVEL=info            debug, info, warn, error
//   - NEURONET_LOG_FORMAT=console        console or json
//   - NEURONET_RUNTIME_MEMORY_LIMIT="0"  GOMEMLIMIT
//   - NEURONET_GC_PERCENT=100            GOGC
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file written by `neuronet init`.
const DefaultFileName = "neuronet.yaml"

// Config holds all NeuroNet configuration.
//
// Configuration is organized into logical sections:
//   - Engine: graph construction and query execution
//   - Cache: traversal result cache
//   - Snapshot: persisted adjacency snapshots
//   - Pool: traversal scratch-space pooling
//   - Logging: log level and encoding
//   - Runtime: Go runtime memory tuning
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Cache    CacheConfig    `yaml:"cache"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Pool     PoolConfig     `yaml:"pool"`
	Logging  LoggingConfig  `yaml:"logging"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

// EngineConfig holds graph construction and query settings.
type EngineConfig struct {
	// MemoryLimit caps the estimated bytes used while building the adjacency
	// arrays. 0 = unlimited. Resolved from MemoryLimitStr.
	MemoryLimit int64 `yaml:"-"`
	// MemoryLimitStr is the human-readable form (e.g., "2GB", "512MB")
	MemoryLimitStr string `yaml:"memory_limit"`
	// KeepDuplicates stores repeated edge lines instead of deduplicating
	KeepDuplicates bool `yaml:"keep_duplicates"`
	// Workers bounds concurrent traversals in batch queries (0 = GOMAXPROCS)
	Workers int `yaml:"workers"`
	// MaxLineBytes bounds a single input line
	MaxLineBytes int `yaml:"max_line_bytes"`
}

// CacheConfig holds traversal result cache settings.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

// SnapshotConfig holds adjacency snapshot settings.
type SnapshotConfig struct {
	// Enabled stores built graphs and reuses them while the dataset file is
	// unchanged
	Enabled bool `yaml:"enabled"`
	// Dir is the BadgerDB directory
	Dir string `yaml:"dir"`
	// SyncWrites forces fsync after each write
	SyncWrites bool `yaml:"sync_writes"`
}

// PoolConfig holds object pooling settings.
type PoolConfig struct {
	Enabled bool `yaml:"enabled"`
	MaxSize int  `yaml:"max_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
	// Format is console or json
	Format string `yaml:"format"`
}

// RuntimeConfig holds Go runtime memory management settings.
type RuntimeConfig struct {
	// MemoryLimit is the soft memory limit (GOMEMLIMIT) in bytes
	// 0 = unlimited (Go manages automatically)
	MemoryLimit int64 `yaml:"-"`
	// MemoryLimitStr is the human-readable form (e.g., "2GB", "512MB")
	MemoryLimitStr string `yaml:"memory_limit"`
	// GCPercent controls GC aggressiveness (GOGC)
	// 100 = default, lower = more aggressive (less memory, more CPU)
	GCPercent int `yaml:"gc_percent"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MemoryLimitStr: "0",
			Workers:        0,
			MaxLineBytes:   1 << 20,
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    1000,
			TTL:     5 * time.Minute,
		},
		Snapshot: SnapshotConfig{
			Enabled: false,
			Dir:     DefaultSnapshotDir(),
		},
		Pool: PoolConfig{
			Enabled: true,
			MaxSize: 1 << 24,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Runtime: RuntimeConfig{
			MemoryLimitStr: "0",
			GCPercent:      100,
		},
	}
}

// DefaultSnapshotDir returns the per-user cache directory for snapshots.
func DefaultSnapshotDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "neuronet")
	}
	return ".neuronet-cache"
}

// LoadFile reads a YAML config file over the defaults. Keys missing from
// the file keep their default values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.resolve()
	return cfg, nil
}

// Load resolves the full configuration: defaults, then path (skipped when
// empty), then the environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays NEURONET_* environment variables. Unset or unparsable
// variables leave the current value untouched.
func (c *Config) ApplyEnv() {
	c.Engine.MemoryLimitStr = getEnv("NEURONET_MEMORY_LIMIT", c.Engine.MemoryLimitStr)
	c.Engine.KeepDuplicates = getEnvBool("NEURONET_KEEP_DUPLICATES", c.Engine.KeepDuplicates)
	c.Engine.Workers = getEnvInt("NEURONET_WORKERS", c.Engine.Workers)
	c.Engine.MaxLineBytes = getEnvInt("NEURONET_MAX_LINE_BYTES", c.Engine.MaxLineBytes)

	c.Cache.Enabled = getEnvBool("NEURONET_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.Size = getEnvInt("NEURONET_CACHE_SIZE", c.Cache.Size)
	c.Cache.TTL = getEnvDuration("NEURONET_CACHE_TTL", c.Cache.TTL)

	c.Snapshot.Enabled = getEnvBool("NEURONET_SNAPSHOT_ENABLED", c.Snapshot.Enabled)
	c.Snapshot.Dir = getEnv("NEURONET_SNAPSHOT_DIR", c.Snapshot.Dir)
	c.Snapshot.SyncWrites = getEnvBool("NEURONET_SNAPSHOT_SYNC_WRITES", c.Snapshot.SyncWrites)

	c.Pool.Enabled = getEnvBool("NEURONET_POOL_ENABLED", c.Pool.Enabled)
	c.Pool.MaxSize = getEnvInt("NEURONET_POOL_MAX_SIZE", c.Pool.MaxSize)

	c.Logging.Level = getEnv("NEURONET_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("NEURONET_LOG_FORMAT", c.Logging.Format)

	c.Runtime.MemoryLimitStr = getEnv("NEURONET_RUNTIME_MEMORY_LIMIT", c.Runtime.MemoryLimitStr)
	c.Runtime.GCPercent = getEnvInt("NEURONET_GC_PERCENT", c.Runtime.GCPercent)

	c.resolve()
}

// resolve derives the byte values from their human-readable forms.
func (c *Config) resolve() {
	c.Engine.MemoryLimit = parseMemorySize(c.Engine.MemoryLimitStr)
	c.Runtime.MemoryLimit = parseMemorySize(c.Runtime.MemoryLimitStr)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
}

// Validate checks the configuration for logical errors and invalid values.
//
// Returns nil if configuration is valid, or an error describing the problem.
func (c *Config) Validate() error {
	if c.Engine.MemoryLimit < 0 {
		return fmt.Errorf("invalid engine memory limit: %q", c.Engine.MemoryLimitStr)
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("invalid worker count: %d", c.Engine.Workers)
	}
	if c.Engine.MaxLineBytes <= 0 {
		return fmt.Errorf("invalid max line bytes: %d", c.Engine.MaxLineBytes)
	}

	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return fmt.Errorf("invalid cache size: %d", c.Cache.Size)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("invalid cache ttl: %v", c.Cache.TTL)
	}

	if c.Snapshot.Enabled && c.Snapshot.Dir == "" {
		return fmt.Errorf("snapshots enabled but no directory provided")
	}

	if c.Pool.MaxSize < 0 {
		return fmt.Errorf("invalid pool max size: %d", c.Pool.MaxSize)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	if c.Runtime.MemoryLimit < 0 {
		return fmt.Errorf("invalid runtime memory limit: %q", c.Runtime.MemoryLimitStr)
	}
	if c.Runtime.GCPercent < -1 {
		return fmt.Errorf("invalid gc percent: %d", c.Runtime.GCPercent)
	}
	return nil
}

// EffectiveWorkers returns Engine.Workers, or GOMAXPROCS when unset.
func (c *Config) EffectiveWorkers() int {
	if c.Engine.Workers > 0 {
		return c.Engine.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// YAML renders the configuration as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// String returns a compact representation of the Config for logging.
func (c *Config) String() string {
	limit := "unlimited"
	if c.Engine.MemoryLimit > 0 {
		limit = FormatMemorySize(c.Engine.MemoryLimit)
	}
	return fmt.Sprintf(
		"Config{MemoryLimit: %s, KeepDuplicates: %v, Workers: %d, Cache: %v/%d, Snapshot: %v (%s), Log: %s/%s}",
		limit, c.Engine.KeepDuplicates, c.Engine.Workers,
		c.Cache.Enabled, c.Cache.Size,
		c.Snapshot.Enabled, c.Snapshot.Dir,
		c.Logging.Level, c.Logging.Format,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

// parseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0", "unlimited"
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}

// FormatMemorySize formats bytes as human-readable string.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// ApplyRuntimeMemory applies the runtime memory settings to the Go runtime.
// Should be called early in main() before heavy allocations.
func (c *RuntimeConfig) ApplyRuntimeMemory() {
	if c.MemoryLimit > 0 {
		debug.SetMemoryLimit(c.MemoryLimit)
	}
	if c.GCPercent != 100 {
		debug.SetGCPercent(c.GCPercent)
	}
}
