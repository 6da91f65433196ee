package cache

import "conversation-cache/pkg/config"

// MemoryStats is a point-in-time snapshot of the memory tier.
type MemoryStats struct {
	EntryCount  int     `json:"entry_count"`
	SizeBytes   int64   `json:"size_bytes"`
	LimitBytes  int64   `json:"limit_bytes"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Sets        int64   `json:"sets"`
	Deletes     int64   `json:"deletes"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	HitRate     float64 `json:"hit_rate"`
}

// DiskStats is a point-in-time snapshot of the disk tier.
type DiskStats struct {
	EntryCount        int64   `json:"entry_count"`
	SizeBytes         int64   `json:"size_bytes"`
	LimitBytes        int64   `json:"limit_bytes"`
	Hits              int64   `json:"hits"`
	Misses            int64   `json:"misses"`
	Sets              int64   `json:"sets"`
	Deletes           int64   `json:"deletes"`
	Evictions         int64   `json:"evictions"`
	Expirations       int64   `json:"expirations"`
	ReadErrors        int64   `json:"read_errors"`
	CompressedEntries int64   `json:"compressed_entries"`
	HitRate           float64 `json:"hit_rate"`
}

// ManagerStats aggregates global counters, derived rates, both tiers'
// snapshots and the active configuration.
type ManagerStats struct {
	Requests          int64   `json:"requests"`
	Hits              int64   `json:"hits"`
	Misses            int64   `json:"misses"`
	MemoryHits        int64   `json:"memory_hits"`
	DiskHits          int64   `json:"disk_hits"`
	HitRate           float64 `json:"hit_rate"`
	MemoryHitRate     float64 `json:"memory_hit_rate"`
	DiskHitRate       float64 `json:"disk_hit_rate"`
	WarmingQueueDepth int     `json:"warming_queue_depth"`

	Memory *MemoryStats        `json:"memory,omitempty"`
	Disk   *DiskStats          `json:"disk,omitempty"`
	Config *config.CacheConfig `json:"config"`
}

// hitRate computes hits/requests, zero when there were no requests.
func hitRate(hits, requests int64) float64 {
	if requests <= 0 {
		return 0
	}
	return float64(hits) / float64(requests)
}
