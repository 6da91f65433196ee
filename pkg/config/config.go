// Package config provides the caching engine configuration: validated
// limits, TTLs, compression parameters and eviction policy, constructible
// from defaults, environment variables, a plain map, or a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EvictionPolicy selects how a full tier chooses entries to remove.
type EvictionPolicy string

const (
	EvictionLRU  EvictionPolicy = "lru"
	EvictionLFU  EvictionPolicy = "lfu"
	EvictionFIFO EvictionPolicy = "fifo"
)

// envPrefix is the fixed naming scheme for environment overrides.
const envPrefix = "CONVO_CACHE_"

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid cache configuration")

// CacheConfig holds all tunables for the two-tier cache. It is treated as
// immutable after construction: the engine copies it and never writes back.
type CacheConfig struct {
	// Memory tier
	MemoryLimit        int64 `json:"memory_limit" yaml:"memory_limit" mapstructure:"memory_limit"`
	MemoryCacheEnabled bool  `json:"memory_cache_enabled" yaml:"memory_cache_enabled" mapstructure:"memory_cache_enabled"`

	// Disk tier
	DiskCacheDir     string `json:"disk_cache_dir" yaml:"disk_cache_dir" mapstructure:"disk_cache_dir"`
	DiskLimit        int64  `json:"disk_limit" yaml:"disk_limit" mapstructure:"disk_limit"`
	DiskCacheEnabled bool   `json:"disk_cache_enabled" yaml:"disk_cache_enabled" mapstructure:"disk_cache_enabled"`

	// TTL settings
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl" mapstructure:"default_ttl"`
	MaxTTL     time.Duration `json:"max_ttl" yaml:"max_ttl" mapstructure:"max_ttl"`

	// Compression settings (disk tier only)
	CompressionEnabled   bool  `json:"compression_enabled" yaml:"compression_enabled" mapstructure:"compression_enabled"`
	CompressionThreshold int64 `json:"compression_threshold" yaml:"compression_threshold" mapstructure:"compression_threshold"`
	CompressionLevel     int   `json:"compression_level" yaml:"compression_level" mapstructure:"compression_level"`

	// Key handling
	MaxKeyLength int `json:"max_key_length" yaml:"max_key_length" mapstructure:"max_key_length"`

	// CleanupInterval is how often each tier sweeps expired entries.
	// Zero disables background sweeping.
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval" mapstructure:"cleanup_interval"`

	// EvictionPolicy is one of lru, lfu, fifo.
	EvictionPolicy EvictionPolicy `json:"eviction_policy" yaml:"eviction_policy" mapstructure:"eviction_policy"`

	// CacheVersion is embedded into every physical key. Bumping it logically
	// invalidates all prior entries without deleting them.
	CacheVersion string `json:"cache_version" yaml:"cache_version" mapstructure:"cache_version"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *CacheConfig {
	return &CacheConfig{
		MemoryLimit:          100 * 1024 * 1024, // 100MB
		MemoryCacheEnabled:   true,
		DiskCacheDir:         "./cache",
		DiskLimit:            1024 * 1024 * 1024, // 1GB
		DiskCacheEnabled:     true,
		DefaultTTL:           time.Hour,
		MaxTTL:               24 * time.Hour,
		CompressionEnabled:   true,
		CompressionThreshold: 1024,
		CompressionLevel:     6,
		MaxKeyLength:         250,
		CleanupInterval:      5 * time.Minute,
		EvictionPolicy:       EvictionLRU,
		CacheVersion:         "1.0",
	}
}

// Validate checks all construction-time invariants. It fails fast and never
// silently corrects a bad value.
func (c *CacheConfig) Validate() error {
	if c.MemoryLimit < 0 {
		return fmt.Errorf("%w: memory_limit must be non-negative, got %d", ErrInvalidConfig, c.MemoryLimit)
	}
	if c.DiskLimit < 0 {
		return fmt.Errorf("%w: disk_limit must be non-negative, got %d", ErrInvalidConfig, c.DiskLimit)
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("%w: default_ttl must be non-negative, got %s", ErrInvalidConfig, c.DefaultTTL)
	}
	if c.MaxTTL < 0 {
		return fmt.Errorf("%w: max_ttl must be non-negative, got %s", ErrInvalidConfig, c.MaxTTL)
	}
	if c.MaxTTL < c.DefaultTTL {
		return fmt.Errorf("%w: max_ttl %s is smaller than default_ttl %s", ErrInvalidConfig, c.MaxTTL, c.DefaultTTL)
	}
	if c.CompressionThreshold < 0 {
		return fmt.Errorf("%w: compression_threshold must be non-negative, got %d", ErrInvalidConfig, c.CompressionThreshold)
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 9 {
		return fmt.Errorf("%w: compression_level must be in [1,9], got %d", ErrInvalidConfig, c.CompressionLevel)
	}
	if c.MaxKeyLength < 0 {
		return fmt.Errorf("%w: max_key_length must be non-negative, got %d", ErrInvalidConfig, c.MaxKeyLength)
	}
	if c.CleanupInterval < 0 {
		return fmt.Errorf("%w: cleanup_interval must be non-negative, got %s", ErrInvalidConfig, c.CleanupInterval)
	}
	switch c.EvictionPolicy {
	case EvictionLRU, EvictionLFU, EvictionFIFO:
	default:
		return fmt.Errorf("%w: unknown eviction_policy %q", ErrInvalidConfig, c.EvictionPolicy)
	}
	if c.DiskCacheEnabled && c.DiskCacheDir == "" {
		return fmt.Errorf("%w: disk_cache_dir is required when the disk tier is enabled", ErrInvalidConfig)
	}
	if c.CacheVersion == "" {
		return fmt.Errorf("%w: cache_version must not be empty", ErrInvalidConfig)
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *CacheConfig) Clone() *CacheConfig {
	clone := *c
	return &clone
}

// LoadConfig loads configuration from environment variables and defaults.
func LoadConfig() (*CacheConfig, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := DefaultConfig()
	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromMap builds a configuration from a plain map, starting from defaults.
// Unknown keys are rejected so that typos surface at construction time.
func FromMap(values map[string]any) (*CacheConfig, error) {
	cfg := DefaultConfig()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      cfg,
		ErrorUnused: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile builds a configuration from a YAML file. Duration fields use
// Go duration syntax ("30s", "15m").
func LoadFromFile(path string) (*CacheConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the caller
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return FromMap(values)
}

// loadFromEnv overrides config fields from CONVO_CACHE_* variables.
func loadFromEnv(cfg *CacheConfig) {
	if v, ok := envInt64("MEMORY_LIMIT"); ok {
		cfg.MemoryLimit = v
	}
	if v, ok := envBool("MEMORY_ENABLED"); ok {
		cfg.MemoryCacheEnabled = v
	}
	if v := os.Getenv(envPrefix + "DISK_DIR"); v != "" {
		cfg.DiskCacheDir = v
	}
	if v, ok := envInt64("DISK_LIMIT"); ok {
		cfg.DiskLimit = v
	}
	if v, ok := envBool("DISK_ENABLED"); ok {
		cfg.DiskCacheEnabled = v
	}
	if v, ok := envDuration("DEFAULT_TTL"); ok {
		cfg.DefaultTTL = v
	}
	if v, ok := envDuration("MAX_TTL"); ok {
		cfg.MaxTTL = v
	}
	if v, ok := envBool("COMPRESSION_ENABLED"); ok {
		cfg.CompressionEnabled = v
	}
	if v, ok := envInt64("COMPRESSION_THRESHOLD"); ok {
		cfg.CompressionThreshold = v
	}
	if v, ok := envInt64("COMPRESSION_LEVEL"); ok {
		cfg.CompressionLevel = int(v)
	}
	if v, ok := envInt64("MAX_KEY_LENGTH"); ok {
		cfg.MaxKeyLength = int(v)
	}
	if v, ok := envDuration("CLEANUP_INTERVAL"); ok {
		cfg.CleanupInterval = v
	}
	if v := os.Getenv(envPrefix + "EVICTION_POLICY"); v != "" {
		cfg.EvictionPolicy = EvictionPolicy(strings.ToLower(v))
	}
	if v := os.Getenv(envPrefix + "VERSION"); v != "" {
		cfg.CacheVersion = v
	}
}

// envBool parses a boolean env var case-insensitively: "true" is true,
// anything else present is false.
func envBool(name string) (bool, bool) {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return false, false
	}
	return strings.EqualFold(v, "true"), true
}

func envInt64(name string) (int64, bool) {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// envDuration accepts Go duration syntax; a bare integer is read as seconds.
func envDuration(name string) (time.Duration, bool) {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}
