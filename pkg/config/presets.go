package config

import "time"

// DevelopmentConfig returns a preset for local development: small limits,
// short TTLs and a frequent sweep so stale data is easy to notice.
func DevelopmentConfig() *CacheConfig {
	cfg := DefaultConfig()
	cfg.MemoryLimit = 32 * 1024 * 1024
	cfg.DiskLimit = 256 * 1024 * 1024
	cfg.DefaultTTL = 5 * time.Minute
	cfg.MaxTTL = time.Hour
	cfg.CleanupInterval = 30 * time.Second
	return cfg
}

// ProductionConfig returns a preset for long-running services: generous
// limits, long TTLs, compression on.
func ProductionConfig() *CacheConfig {
	cfg := DefaultConfig()
	cfg.MemoryLimit = 512 * 1024 * 1024
	cfg.DiskLimit = 4 * 1024 * 1024 * 1024
	cfg.DefaultTTL = 6 * time.Hour
	cfg.MaxTTL = 7 * 24 * time.Hour
	cfg.CompressionLevel = 6
	return cfg
}

// MemoryConstrainedConfig trades CPU for RAM: a small memory tier, maximum
// compression and aggressive sweeping.
func MemoryConstrainedConfig() *CacheConfig {
	cfg := DefaultConfig()
	cfg.MemoryLimit = 8 * 1024 * 1024
	cfg.DiskLimit = 512 * 1024 * 1024
	cfg.CompressionLevel = 9
	cfg.CompressionThreshold = 256
	cfg.CleanupInterval = time.Minute
	return cfg
}

// HighPerformanceConfig trades RAM and disk for latency: compression is
// disabled entirely to avoid CPU overhead on the hot path.
func HighPerformanceConfig() *CacheConfig {
	cfg := DefaultConfig()
	cfg.MemoryLimit = 1024 * 1024 * 1024
	cfg.DiskLimit = 8 * 1024 * 1024 * 1024
	cfg.CompressionEnabled = false
	cfg.EvictionPolicy = EvictionLFU
	return cfg
}

// MinimalConfig disables the disk tier entirely: a pure in-process cache
// with no persistence and no compression work.
func MinimalConfig() *CacheConfig {
	cfg := DefaultConfig()
	cfg.MemoryLimit = 16 * 1024 * 1024
	cfg.DiskCacheEnabled = false
	cfg.CompressionEnabled = false
	cfg.DefaultTTL = 10 * time.Minute
	cfg.MaxTTL = time.Hour
	return cfg
}
