package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-cache/pkg/config"
)

func managerTestConfig(t *testing.T) *config.CacheConfig {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DiskCacheDir = t.TempDir()
	cfg.CompressionEnabled = false
	cfg.CleanupInterval = 0
	return cfg
}

func newTestManager(t *testing.T, cfg *config.CacheConfig, opts ...Option) (*Manager, *fakeClock) {
	t.Helper()
	m, err := NewManager(cfg, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	clock := newFakeClock()
	if m.memory != nil {
		m.memory.now = clock.now
	}
	if m.disk != nil {
		m.disk.now = clock.now
	}
	return m, clock
}

func TestManager_RejectsInvalidConfig(t *testing.T) {
	cfg := managerTestConfig(t)
	cfg.CompressionLevel = 42

	_, err := NewManager(cfg, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestManager_SetAndGet(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	stored, err := m.Set("conv:1", map[string]any{"summary": "hello"}, 0)
	require.NoError(t, err)
	require.True(t, stored)

	value, ok := m.Get("conv:1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"summary": "hello"}, value)

	_, ok = m.Get("conv:2")
	assert.False(t, ok)

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.Requests)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.MemoryHits)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestManager_DiskHitPromotesToMemory(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	stored, err := m.SetWithOptions("conv:1", "archived", SetOptions{DiskOnly: true})
	require.NoError(t, err)
	require.True(t, stored)
	require.False(t, m.memory.Exists(m.physical("conv:1")), "disk-only write must not touch memory")

	value, ok := m.Get("conv:1")
	require.True(t, ok)
	assert.Equal(t, "archived", value)
	assert.True(t, m.memory.Exists(m.physical("conv:1")), "disk hit must be promoted")

	_, ok = m.Get("conv:1")
	require.True(t, ok)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.DiskHits)
	assert.Equal(t, int64(1), stats.MemoryHits)
}

func TestManager_MemoryOnlyWriteSkipsDisk(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	stored, err := m.SetWithOptions("hot", "v", SetOptions{MemoryOnly: true})
	require.NoError(t, err)
	require.True(t, stored)

	assert.False(t, m.disk.Exists(m.physical("hot")))
	assert.True(t, m.Exists("hot"))
}

func TestManager_RejectsConflictingTierFlags(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	stored, err := m.SetWithOptions("k", "v", SetOptions{MemoryOnly: true, DiskOnly: true})
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, m.Exists("k"))
}

func TestManager_UnserializableValuePropagates(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	stored, err := m.Set("bad", make(chan int), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotCacheable)
	assert.False(t, stored)
}

func TestManager_VersionBumpInvalidatesEverything(t *testing.T) {
	cfg := managerTestConfig(t)

	first, _ := newTestManager(t, cfg)
	stored, err := first.Set("conv:1", "v1 data", 0)
	require.NoError(t, err)
	require.True(t, stored)
	require.NoError(t, first.Close())

	bumped := cfg.Clone()
	bumped.CacheVersion = "2.0"
	second, _ := newTestManager(t, bumped)

	_, ok := second.Get("conv:1")
	assert.False(t, ok, "old-version entries must be invisible after a version bump")

	// The stale entry still exists on disk under its old physical key.
	assert.True(t, second.disk.Exists("1.0:conv:1"))
}

func TestManager_InvalidatePattern(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	for _, key := range []string{"analysis:1", "analysis:2", "summary:1"} {
		stored, err := m.Set(key, "v", 0)
		require.NoError(t, err)
		require.True(t, stored)
	}

	removed := m.InvalidatePattern("analysis:*")
	assert.Equal(t, 2, removed)

	assert.False(t, m.Exists("analysis:1"))
	assert.False(t, m.Exists("analysis:2"))
	assert.True(t, m.Exists("summary:1"))
}

func TestManager_InvalidatePatternCoversDiskOnlyEntries(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	_, err := m.SetWithOptions("analysis:cold", "v", SetOptions{DiskOnly: true})
	require.NoError(t, err)
	_, err = m.SetWithOptions("analysis:hot", "v", SetOptions{MemoryOnly: true})
	require.NoError(t, err)

	assert.Equal(t, 2, m.InvalidatePattern("analysis:*"))
	assert.False(t, m.Exists("analysis:cold"))
	assert.False(t, m.Exists("analysis:hot"))
}

func TestManager_KeysReturnsLogicalUnion(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	_, err := m.SetWithOptions("hot", "v", SetOptions{MemoryOnly: true})
	require.NoError(t, err)
	_, err = m.SetWithOptions("cold", "v", SetOptions{DiskOnly: true})
	require.NoError(t, err)
	_, err = m.Set("both", "v", 0)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"hot", "cold", "both"}, m.Keys(true, true))
	assert.ElementsMatch(t, []string{"hot", "both"}, m.Keys(true, false))
	assert.ElementsMatch(t, []string{"cold", "both"}, m.Keys(false, true))
}

func TestManager_LongKeysCollapseButStayAddressable(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	long := strings.Repeat("conversation:", 30)
	stored, err := m.Set(long, "v", 0)
	require.NoError(t, err)
	require.True(t, stored)

	value, ok := m.Get(long)
	require.True(t, ok)
	assert.Equal(t, "v", value)

	// Collapsed keys surface in hashed form.
	keys := m.Keys(true, true)
	require.Len(t, keys, 1)
	assert.NotEqual(t, long, keys[0])
	assert.LessOrEqual(t, len(keys[0]), m.cfg.MaxKeyLength)
}

func TestManager_DeleteRemovesFromBothTiers(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	_, err := m.Set("k", "v", 0)
	require.NoError(t, err)

	assert.True(t, m.Delete("k"))
	assert.False(t, m.Delete("k"))
	assert.False(t, m.memory.Exists(m.physical("k")))
	assert.False(t, m.disk.Exists(m.physical("k")))
}

func TestManager_GetOrDefault(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	assert.Equal(t, "fallback", m.GetOrDefault("absent", "fallback"))

	_, err := m.Set("present", "v", 0)
	require.NoError(t, err)
	assert.Equal(t, "v", m.GetOrDefault("present", "fallback"))
}

func TestManager_ClearSelectsTiers(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	_, err := m.Set("k", "v", 0)
	require.NoError(t, err)

	m.Clear(true, false)
	assert.False(t, m.memory.Exists(m.physical("k")))
	assert.True(t, m.disk.Exists(m.physical("k")))

	// Read-through still serves the disk copy.
	value, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", value)

	m.Clear(false, false)
	assert.False(t, m.Exists("k"))
}

func TestManager_ClearDrainsWarmingQueue(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	_, err := m.SetWithOptions("cold", "v", SetOptions{DiskOnly: true})
	require.NoError(t, err)
	require.Equal(t, 1, m.Stats().WarmingQueueDepth)

	m.Clear(false, false)
	assert.Equal(t, 0, m.Stats().WarmingQueueDepth)
	assert.False(t, m.Exists("cold"))
}

func TestManager_WarmPendingPromotesDiskResidents(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	_, err := m.SetWithOptions("cold", "archived", SetOptions{DiskOnly: true})
	require.NoError(t, err)
	require.False(t, m.memory.Exists(m.physical("cold")))

	assert.Equal(t, 1, m.warmPending())
	assert.True(t, m.memory.Exists(m.physical("cold")))
	assert.Equal(t, 0, m.Stats().WarmingQueueDepth)
}

func TestManager_WarmPendingSkipsMemoryResidents(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	// A write to both tiers queues the key, but it already lives in memory.
	_, err := m.Set("warm", "v", 0)
	require.NoError(t, err)

	assert.Equal(t, 0, m.warmPending())
}

func TestManager_WarmPendingSkipsDeletedKeys(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	_, err := m.SetWithOptions("gone", "v", SetOptions{DiskOnly: true})
	require.NoError(t, err)
	require.True(t, m.disk.Delete(m.physical("gone")))

	assert.Equal(t, 0, m.warmPending())
	assert.False(t, m.memory.Exists(m.physical("gone")))
}

func TestManager_MemoryTierDisabled(t *testing.T) {
	cfg := managerTestConfig(t)
	cfg.MemoryCacheEnabled = false
	m, _ := newTestManager(t, cfg)
	require.Nil(t, m.memory)

	stored, err := m.Set("k", "v", 0)
	require.NoError(t, err)
	require.True(t, stored)

	value, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", value)
	assert.Equal(t, int64(1), m.Stats().DiskHits)
}

func TestManager_DiskTierDisabled(t *testing.T) {
	cfg := managerTestConfig(t)
	cfg.DiskCacheEnabled = false
	m, _ := newTestManager(t, cfg)
	require.Nil(t, m.disk)

	stored, err := m.Set("k", "v", 0)
	require.NoError(t, err)
	require.True(t, stored)

	value, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", value)

	// Disk-only writes have nowhere to go.
	stored, err = m.SetWithOptions("other", "v", SetOptions{DiskOnly: true})
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestManager_StatsOnFreshManager(t *testing.T) {
	m, _ := newTestManager(t, managerTestConfig(t))

	stats := m.Stats()
	assert.Equal(t, int64(0), stats.Requests)
	assert.Equal(t, 0.0, stats.HitRate)
	assert.Equal(t, 0.0, stats.MemoryHitRate)
	assert.Equal(t, 0.0, stats.DiskHitRate)
	require.NotNil(t, stats.Memory)
	require.NotNil(t, stats.Disk)
	assert.Equal(t, 0, stats.Memory.EntryCount)
	assert.Equal(t, int64(0), stats.Disk.EntryCount)
}

func TestManager_TTLFlowsToBothTiers(t *testing.T) {
	m, clock := newTestManager(t, managerTestConfig(t))

	_, err := m.Set("session", "state", 10*time.Second)
	require.NoError(t, err)

	clock.advance(11 * time.Second)
	_, ok := m.Get("session")
	assert.False(t, ok)
	assert.False(t, m.Exists("session"))
}
