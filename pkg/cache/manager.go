// Package cache implements the two-tier caching engine: an in-process
// memory tier and a persistent disk tier unified behind a manager that
// provides transparent fallback, promotion, warming and invalidation.
package cache

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"conversation-cache/pkg/config"
)

// warmingQueueCapacity bounds the promotion backlog. Enqueueing never
// blocks callers; candidates are dropped once the queue is full.
const warmingQueueCapacity = 256

// SetOptions controls which tiers a write reaches and how the disk tier
// stores it. MemoryOnly and DiskOnly are mutually exclusive; setting both
// is a caller error and the write is rejected.
type SetOptions struct {
	TTL              time.Duration
	MemoryOnly       bool
	DiskOnly         bool
	ForceCompression bool
}

// Option customizes a Manager at construction time.
type Option func(*Manager)

// WithWarming enables the background warming task: every interval the
// manager drains its queue of recently written keys and promotes those
// present on disk but absent from memory.
func WithWarming(interval time.Duration) Option {
	return func(m *Manager) { m.warmInterval = interval }
}

// Manager orchestrates the memory and disk tiers. Every caller-supplied
// logical key is translated to a versioned physical key before it reaches
// a tier; bumping the configured cache version therefore invalidates all
// prior entries without deleting them.
type Manager struct {
	cfg    *config.CacheConfig
	logger *zap.Logger

	memory *MemoryCache
	disk   *DiskCache

	mu         sync.Mutex
	requests   int64
	hits       int64
	misses     int64
	memoryHits int64
	diskHits   int64

	warmQueue    chan string
	warmInterval time.Duration
	warmStop     chan struct{}
	warmOnce     sync.Once
}

// NewManager validates the configuration, builds the enabled tiers and
// optionally starts the warming task. The manager owns both tiers for its
// lifetime.
func NewManager(cfg *config.CacheConfig, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.Clone()

	m := &Manager{
		cfg:       cfg,
		logger:    logger.Named("cache-manager"),
		warmQueue: make(chan string, warmingQueueCapacity),
		warmStop:  make(chan struct{}),
	}

	if cfg.MemoryCacheEnabled {
		m.memory = NewMemoryCache(cfg, logger)
	}
	if cfg.DiskCacheEnabled {
		disk, err := NewDiskCache(cfg, logger)
		if err != nil {
			if m.memory != nil {
				m.memory.Close()
			}
			return nil, err
		}
		m.disk = disk
	}

	for _, opt := range opts {
		opt(m)
	}
	if m.warmInterval > 0 && m.memory != nil && m.disk != nil {
		go m.warmLoop()
	}

	return m, nil
}

// Get returns the cached value for key. Memory is tried first; a disk hit
// is promoted into memory (promotion failure is silent and never fails the
// read).
func (m *Manager) Get(key string) (any, bool) {
	pk := m.physical(key)

	m.mu.Lock()
	m.requests++
	m.mu.Unlock()

	if m.memory != nil {
		if value, ok := m.memory.Get(pk); ok {
			m.recordHit(true)
			return value, true
		}
	}

	if m.disk != nil {
		if value, ok := m.disk.Get(pk); ok {
			m.recordHit(false)
			if m.memory != nil {
				if _, err := m.memory.Set(pk, value, 0); err != nil {
					m.logger.Debug("promotion rejected", zap.String("key", key), zap.Error(err))
				}
			}
			return value, true
		}
	}

	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
	return nil, false
}

// GetOrDefault returns the cached value or def on a miss.
func (m *Manager) GetOrDefault(key string, def any) any {
	if value, ok := m.Get(key); ok {
		return value
	}
	return def
}

// Set writes the value to every enabled tier with the given TTL (zero
// means the configured default).
func (m *Manager) Set(key string, value any, ttl time.Duration) (bool, error) {
	return m.SetWithOptions(key, value, SetOptions{TTL: ttl})
}

// SetWithOptions writes the value to the tiers selected by opts. It
// returns true when at least one tier accepted the write. A value that
// cannot be serialized returns ErrNotCacheable.
func (m *Manager) SetWithOptions(key string, value any, opts SetOptions) (bool, error) {
	if opts.MemoryOnly && opts.DiskOnly {
		m.logger.Warn("memory-only and disk-only are mutually exclusive, write rejected",
			zap.String("key", key))
		return false, nil
	}

	pk := m.physical(key)
	stored := false
	var firstErr error

	if m.memory != nil && !opts.DiskOnly {
		ok, err := m.memory.Set(pk, value, opts.TTL)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		stored = stored || ok
	}

	if m.disk != nil && !opts.MemoryOnly {
		ok, err := m.disk.Set(pk, value, opts.TTL, opts.ForceCompression)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ok {
			stored = true
			m.enqueueWarming(pk)
		}
	}

	return stored, firstErr
}

// Delete removes the key from every enabled tier, reporting whether any
// tier had it.
func (m *Manager) Delete(key string) bool {
	pk := m.physical(key)
	deleted := false
	if m.memory != nil && m.memory.Delete(pk) {
		deleted = true
	}
	if m.disk != nil && m.disk.Delete(pk) {
		deleted = true
	}
	return deleted
}

// Exists reports presence in any tier, memory first, without mutating
// access statistics.
func (m *Manager) Exists(key string) bool {
	pk := m.physical(key)
	if m.memory != nil && m.memory.Exists(pk) {
		return true
	}
	if m.disk != nil && m.disk.Exists(pk) {
		return true
	}
	return false
}

// Clear empties the selected tiers and always drains the warming queue.
// With neither flag set both tiers are cleared.
func (m *Manager) Clear(memoryOnly, diskOnly bool) {
	m.drainWarmingQueue()

	clearMemory := memoryOnly || !diskOnly
	clearDisk := diskOnly || !memoryOnly

	if clearMemory && m.memory != nil {
		m.memory.Clear()
	}
	if clearDisk && m.disk != nil {
		m.disk.Clear()
	}
}

// Keys returns the union of live keys from the selected tiers, in logical
// (unversioned) form. Keys that were collapsed to a hash are returned in
// their hashed form.
func (m *Manager) Keys(includeMemory, includeDisk bool) []string {
	seen := make(map[string]struct{})
	for _, pk := range m.physicalKeys(includeMemory, includeDisk) {
		seen[m.logical(pk)] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	return keys
}

// InvalidatePattern deletes every key across both tiers whose logical form
// matches the wildcard pattern, returning the number of distinct keys
// removed.
func (m *Manager) InvalidatePattern(pattern string) int {
	removed := make(map[string]struct{})
	for _, pk := range m.physicalKeys(true, true) {
		if !matchPattern(m.logical(pk), pattern) {
			continue
		}
		if m.memory != nil {
			m.memory.Delete(pk)
		}
		if m.disk != nil {
			m.disk.Delete(pk)
		}
		removed[pk] = struct{}{}
	}
	return len(removed)
}

// Stats returns the global counters, derived rates, each tier's snapshot
// and the active configuration.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	stats := ManagerStats{
		Requests:          m.requests,
		Hits:              m.hits,
		Misses:            m.misses,
		MemoryHits:        m.memoryHits,
		DiskHits:          m.diskHits,
		HitRate:           hitRate(m.hits, m.requests),
		MemoryHitRate:     hitRate(m.memoryHits, m.requests),
		DiskHitRate:       hitRate(m.diskHits, m.requests),
		WarmingQueueDepth: len(m.warmQueue),
		Config:            m.cfg.Clone(),
	}
	m.mu.Unlock()

	if m.memory != nil {
		memStats := m.memory.Stats()
		stats.Memory = &memStats
	}
	if m.disk != nil {
		diskStats := m.disk.Stats()
		stats.Disk = &diskStats
	}
	return stats
}

// Close stops the warming task and shuts down both tiers.
func (m *Manager) Close() error {
	m.warmOnce.Do(func() { close(m.warmStop) })

	if m.memory != nil {
		m.memory.Close()
	}
	if m.disk != nil {
		return m.disk.Close()
	}
	return nil
}

// physical translates a logical key to its versioned storage key.
func (m *Manager) physical(key string) string {
	return physicalKey(m.cfg.CacheVersion, key, m.cfg.MaxKeyLength)
}

// logical strips the version prefix from a physical key.
func (m *Manager) logical(pk string) string {
	return strings.TrimPrefix(pk, m.cfg.CacheVersion+":")
}

func (m *Manager) physicalKeys(includeMemory, includeDisk bool) []string {
	seen := make(map[string]struct{})
	if includeMemory && m.memory != nil {
		for _, key := range m.memory.Keys() {
			seen[key] = struct{}{}
		}
	}
	if includeDisk && m.disk != nil {
		for _, key := range m.disk.Keys() {
			seen[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	return keys
}

func (m *Manager) recordHit(memory bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
	if memory {
		m.memoryHits++
	} else {
		m.diskHits++
	}
}

// enqueueWarming registers a recently written key as a promotion
// candidate. Never blocks; drops the candidate when the queue is full.
func (m *Manager) enqueueWarming(pk string) {
	select {
	case m.warmQueue <- pk:
	default:
	}
}

func (m *Manager) drainWarmingQueue() {
	for {
		select {
		case <-m.warmQueue:
		default:
			return
		}
	}
}

func (m *Manager) warmLoop() {
	ticker := time.NewTicker(m.warmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.warmStop:
			return
		case <-ticker.C:
			m.warmPending()
		}
	}
}

// warmPending promotes queued keys that live on disk but not in memory.
func (m *Manager) warmPending() int {
	if m.memory == nil || m.disk == nil {
		m.drainWarmingQueue()
		return 0
	}

	promoted := 0
	for {
		select {
		case pk := <-m.warmQueue:
			if m.memory.Exists(pk) || !m.disk.Exists(pk) {
				continue
			}
			value, ok := m.disk.Get(pk)
			if !ok {
				continue
			}
			if stored, err := m.memory.Set(pk, value, 0); err == nil && stored {
				promoted++
			}
		default:
			if promoted > 0 {
				m.logger.Debug("warmed cache entries", zap.Int("promoted", promoted))
			}
			return promoted
		}
	}
}
