package cache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"conversation-cache/pkg/config"
)

// memoryEntry is a single memory-tier record. Value ownership is exclusive
// to this tier; promotion from disk always stores an independent copy.
type memoryEntry struct {
	key          string
	value        any
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  int64
	ttl          time.Duration
	size         int64
	elem         *list.Element // position in LRU order
}

// expired reports whether the entry's TTL has elapsed. A zero TTL never
// expires.
func (e *memoryEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) > e.ttl
}

// MemoryCache is the in-process tier: a byte-budgeted key/value store with
// policy-driven eviction, lazy expiry on access and a background sweep.
type MemoryCache struct {
	cfg    *config.CacheConfig
	logger *zap.Logger

	mu        sync.Mutex
	entries   map[string]*memoryEntry
	lruOrder  *list.List // front = least recently used
	sizeBytes int64

	hits        int64
	misses      int64
	sets        int64
	deletes     int64
	evictions   int64
	expirations int64

	janitor *janitor
	now     func() time.Time
	closed  bool
}

// NewMemoryCache creates a memory tier from a validated configuration and
// starts its expiry sweeper when a cleanup interval is configured.
func NewMemoryCache(cfg *config.CacheConfig, logger *zap.Logger) *MemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MemoryCache{
		cfg:      cfg,
		logger:   logger.Named("memory-cache"),
		entries:  make(map[string]*memoryEntry),
		lruOrder: list.New(),
		now:      time.Now,
	}
	m.janitor = newJanitor(cfg.CleanupInterval, func() {
		if removed := m.SweepExpired(); removed > 0 {
			m.logger.Debug("swept expired entries", zap.Int("removed", removed))
		}
	})
	return m
}

// Get returns the value for key, updating recency and frequency bookkeeping
// on a hit. Expired entries are removed opportunistically and reported as
// misses.
func (m *MemoryCache) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		m.misses++
		return nil, false
	}
	if entry.expired(m.now()) {
		m.removeLocked(entry)
		m.expirations++
		m.misses++
		return nil, false
	}

	entry.lastAccessed = m.now()
	entry.accessCount++
	m.lruOrder.MoveToBack(entry.elem)
	m.hits++
	return entry.value, true
}

// Set stores a value under key. It returns false when the key exceeds the
// configured maximum length or the value alone exceeds the memory limit.
// Otherwise it evicts per policy until the value fits, replaces any
// existing entry and returns true. The only error is ErrNotCacheable.
func (m *MemoryCache) Set(key string, value any, ttl time.Duration) (bool, error) {
	if m.cfg.MaxKeyLength > 0 && len(key) > m.cfg.MaxKeyLength {
		return false, nil
	}

	data, err := encodeValue(value)
	if err != nil {
		return false, err
	}
	size := int64(len(data))
	if size > m.cfg.MemoryLimit {
		return false, nil
	}

	ttl = m.effectiveTTL(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, nil
	}

	if existing, ok := m.entries[key]; ok {
		m.removeLocked(existing)
	}

	for m.sizeBytes+size > m.cfg.MemoryLimit {
		if !m.evictOneLocked() {
			break
		}
	}

	now := m.now()
	entry := &memoryEntry{
		key:          key,
		value:        value,
		createdAt:    now,
		lastAccessed: now,
		ttl:          ttl,
		size:         size,
	}
	entry.elem = m.lruOrder.PushBack(entry)
	m.entries[key] = entry
	m.sizeBytes += size
	m.sets++
	return true, nil
}

// Delete removes the entry for key, reporting whether it existed.
func (m *MemoryCache) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return false
	}
	m.removeLocked(entry)
	m.deletes++
	return true
}

// Exists reports presence without touching access statistics. Expiry is
// still treated as absence and the dead entry is dropped.
func (m *MemoryCache) Exists(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return false
	}
	if entry.expired(m.now()) {
		m.removeLocked(entry)
		m.expirations++
		return false
	}
	return true
}

// Keys returns all live keys, purging expired entries first.
func (m *MemoryCache) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()

	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	return keys
}

// Clear removes every entry.
func (m *MemoryCache) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*memoryEntry)
	m.lruOrder.Init()
	m.sizeBytes = 0
}

// Stats returns a snapshot of the tier's counters and totals.
func (m *MemoryCache) Stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return MemoryStats{
		EntryCount:  len(m.entries),
		SizeBytes:   m.sizeBytes,
		LimitBytes:  m.cfg.MemoryLimit,
		Hits:        m.hits,
		Misses:      m.misses,
		Sets:        m.sets,
		Deletes:     m.deletes,
		Evictions:   m.evictions,
		Expirations: m.expirations,
		HitRate:     hitRate(m.hits, m.hits+m.misses),
	}
}

// SweepExpired removes all expired entries and returns how many were
// dropped.
func (m *MemoryCache) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

// Close stops the background sweeper and drops all entries.
func (m *MemoryCache) Close() {
	m.janitor.halt()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = make(map[string]*memoryEntry)
	m.lruOrder.Init()
	m.sizeBytes = 0
}

// effectiveTTL applies the default for a zero TTL and clamps to the
// configured maximum.
func (m *MemoryCache) effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	if m.cfg.MaxTTL > 0 && ttl > m.cfg.MaxTTL {
		ttl = m.cfg.MaxTTL
	}
	return ttl
}

func (m *MemoryCache) sweepLocked() int {
	now := m.now()
	removed := 0
	for _, entry := range m.entries {
		if entry.expired(now) {
			m.removeLocked(entry)
			m.expirations++
			removed++
		}
	}
	return removed
}

// removeLocked unlinks an entry and keeps the running totals in step with
// the entry store.
func (m *MemoryCache) removeLocked(entry *memoryEntry) {
	delete(m.entries, entry.key)
	m.lruOrder.Remove(entry.elem)
	m.sizeBytes -= entry.size
}

// evictOneLocked removes a single entry chosen by the configured policy.
// Returns false when the cache is already empty.
func (m *MemoryCache) evictOneLocked() bool {
	if len(m.entries) == 0 {
		return false
	}

	var victim *memoryEntry
	switch m.cfg.EvictionPolicy {
	case config.EvictionLRU:
		victim = m.lruOrder.Front().Value.(*memoryEntry)
	case config.EvictionLFU:
		for _, entry := range m.entries {
			if victim == nil ||
				entry.accessCount < victim.accessCount ||
				(entry.accessCount == victim.accessCount && entry.lastAccessed.Before(victim.lastAccessed)) {
				victim = entry
			}
		}
	case config.EvictionFIFO:
		for _, entry := range m.entries {
			if victim == nil || entry.createdAt.Before(victim.createdAt) {
				victim = entry
			}
		}
	default:
		victim = m.lruOrder.Front().Value.(*memoryEntry)
	}

	m.removeLocked(victim)
	m.evictions++
	return true
}
