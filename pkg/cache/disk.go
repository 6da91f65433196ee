package cache

import (
	"bytes"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	_ "github.com/mattn/go-sqlite3" // sqlite driver for the metadata index
	"go.uber.org/zap"

	"conversation-cache/pkg/config"
)

const (
	indexFilename = "cache.db"
	dataDirName   = "data"
)

// diskRow mirrors one metadata index row. The row is the source of truth
// for an entry; a content file with no row is garbage.
type diskRow struct {
	key              string
	filename         string
	createdAt        int64 // unix nanoseconds
	lastAccessed     int64
	accessCount      int64
	ttl              time.Duration
	sizeBytes        int64
	compressed       bool
	compressionRatio float64
}

func (r *diskRow) expired(now time.Time) bool {
	return r.ttl > 0 && now.Sub(time.Unix(0, r.createdAt)) > r.ttl
}

// DiskCache is the persistent tier: content files in a data directory plus
// a sqlite metadata index keyed by the physical cache key. Writes are
// atomic (temp file then rename), reads self-heal corrupted entries, and a
// background sweep removes expired rows together with their files.
type DiskCache struct {
	cfg    *config.CacheConfig
	logger *zap.Logger

	mu        sync.Mutex
	db        *sql.DB
	dataDir   string
	sizeBytes int64

	hits        int64
	misses      int64
	sets        int64
	deletes     int64
	evictions   int64
	expirations int64
	readErrors  int64

	janitor *janitor
	now     func() time.Time
	closed  bool
}

// NewDiskCache opens (or creates) the cache directory and its metadata
// index, restores the size accounting from the index, and starts the
// expiry sweeper. The directory must be owned by a single DiskCache in a
// single process; concurrent access from elsewhere is undefined.
func NewDiskCache(cfg *config.CacheConfig, logger *zap.Logger) (*DiskCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dataDir := filepath.Join(cfg.DiskCacheDir, dataDirName)
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dsn := filepath.Join(cfg.DiskCacheDir, indexFilename) + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata index: %w", err)
	}

	d := &DiskCache{
		cfg:     cfg,
		logger:  logger.Named("disk-cache"),
		db:      db,
		dataDir: dataDir,
		now:     time.Now,
	}

	if err := d.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := d.db.QueryRow(`SELECT COALESCE(SUM(size_bytes), 0) FROM entries`).Scan(&d.sizeBytes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to restore size accounting: %w", err)
	}

	d.janitor = newJanitor(cfg.CleanupInterval, func() {
		if removed := d.SweepExpired(); removed > 0 {
			d.logger.Debug("swept expired entries", zap.Int("removed", removed))
		}
	})
	return d, nil
}

func (d *DiskCache) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS entries (
	key               TEXT PRIMARY KEY,
	filename          TEXT NOT NULL,
	created_at        INTEGER NOT NULL,
	last_accessed     INTEGER NOT NULL,
	access_count      INTEGER NOT NULL DEFAULT 0,
	ttl_ns            INTEGER NOT NULL DEFAULT 0,
	size_bytes        INTEGER NOT NULL,
	compressed        INTEGER NOT NULL DEFAULT 0,
	compression_ratio REAL NOT NULL DEFAULT 1.0
);
CREATE INDEX IF NOT EXISTS idx_entries_last_accessed ON entries(last_accessed);
CREATE INDEX IF NOT EXISTS idx_entries_created_at ON entries(created_at);
`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize metadata index: %w", err)
	}
	return nil
}

// Get returns the stored value for key. The index row is checked first;
// the content file is read only on a confirmed, non-expired hit. A
// corrupted or unreadable file evicts the entry and reports a miss.
func (d *DiskCache) Get(key string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, false
	}

	row, ok := d.lookupLocked(key)
	if !ok {
		d.misses++
		return nil, false
	}
	if row.expired(d.now()) {
		d.removeEntryLocked(row)
		d.expirations++
		d.misses++
		return nil, false
	}

	value, err := d.readContent(row)
	if err != nil {
		// Self-heal: drop the bad entry and degrade to a miss.
		d.logger.Warn("unreadable cache entry evicted",
			zap.String("key", key), zap.Error(err))
		d.removeEntryLocked(row)
		d.readErrors++
		d.misses++
		return nil, false
	}

	now := d.now().UnixNano()
	if _, err := d.db.Exec(
		`UPDATE entries SET last_accessed = ?, access_count = access_count + 1 WHERE key = ?`,
		now, key,
	); err != nil {
		d.logger.Warn("failed to update access metadata", zap.String("key", key), zap.Error(err))
	}

	d.hits++
	return value, true
}

// Set serializes the value, compresses it when configured (or forced),
// evicts per policy until the payload fits the disk limit and writes it
// atomically: temp file, rename, then the index row. On any I/O failure it
// returns false and leaves no partial index row or temp file behind. The
// only error returned is ErrNotCacheable.
func (d *DiskCache) Set(key string, value any, ttl time.Duration, forceCompress bool) (bool, error) {
	if d.cfg.MaxKeyLength > 0 && len(key) > d.cfg.MaxKeyLength {
		return false, nil
	}

	raw, err := encodeValue(value)
	if err != nil {
		return false, err
	}

	payload, compressed, ratio := d.maybeCompress(raw, forceCompress)
	size := int64(len(payload))
	if size > d.cfg.DiskLimit {
		return false, nil
	}

	ttl = d.effectiveTTL(ttl)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false, nil
	}

	var replacedSize int64
	if existing, ok := d.lookupLocked(key); ok {
		replacedSize = existing.sizeBytes
	}

	for d.sizeBytes-replacedSize+size > d.cfg.DiskLimit {
		if !d.evictOneLocked(key) {
			break
		}
	}

	filename := contentFilename(key)
	if !d.writeContentFile(filename, payload) {
		return false, nil
	}

	now := d.now().UnixNano()
	_, err = d.db.Exec(`
INSERT INTO entries (key, filename, created_at, last_accessed, access_count, ttl_ns, size_bytes, compressed, compression_ratio)
VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	filename = excluded.filename,
	created_at = excluded.created_at,
	last_accessed = excluded.last_accessed,
	access_count = 0,
	ttl_ns = excluded.ttl_ns,
	size_bytes = excluded.size_bytes,
	compressed = excluded.compressed,
	compression_ratio = excluded.compression_ratio`,
		key, filename, now, now, int64(ttl), size, compressed, ratio,
	)
	if err != nil {
		// The content file was already renamed into place; without a row it
		// is garbage, so remove both to leave no partial state.
		d.logger.Error("failed to record index row", zap.String("key", key), zap.Error(err))
		_, _ = d.db.Exec(`DELETE FROM entries WHERE key = ?`, key)
		_ = os.Remove(filepath.Join(d.dataDir, filename))
		d.sizeBytes -= replacedSize
		return false, nil
	}

	d.sizeBytes += size - replacedSize
	d.sets++
	return true, nil
}

// Delete removes the index row and its content file, reporting whether the
// key existed.
func (d *DiskCache) Delete(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	row, ok := d.lookupLocked(key)
	if !ok {
		return false
	}
	d.removeEntryLocked(row)
	d.deletes++
	return true
}

// Exists reports presence without touching access statistics.
func (d *DiskCache) Exists(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	row, ok := d.lookupLocked(key)
	if !ok {
		return false
	}
	if row.expired(d.now()) {
		d.removeEntryLocked(row)
		d.expirations++
		return false
	}
	return true
}

// Keys returns all live keys, purging expired rows first.
func (d *DiskCache) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.sweepLocked()

	rows, err := d.db.Query(`SELECT key FROM entries`)
	if err != nil {
		d.logger.Warn("failed to list keys", zap.Error(err))
		return nil
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Clear removes every entry and content file.
func (d *DiskCache) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if _, err := d.db.Exec(`DELETE FROM entries`); err != nil {
		d.logger.Warn("failed to clear metadata index", zap.Error(err))
		return
	}
	if err := os.RemoveAll(d.dataDir); err != nil {
		d.logger.Warn("failed to remove data directory", zap.Error(err))
	}
	if err := os.MkdirAll(d.dataDir, 0o750); err != nil {
		d.logger.Error("failed to recreate data directory", zap.Error(err))
	}
	d.sizeBytes = 0
}

// Stats returns a snapshot of the tier's counters and totals.
func (d *DiskCache) Stats() DiskStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	var entryCount, compressedEntries int64
	if !d.closed {
		_ = d.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&entryCount)
		_ = d.db.QueryRow(`SELECT COUNT(*) FROM entries WHERE compressed = 1`).Scan(&compressedEntries)
	}

	return DiskStats{
		EntryCount:        entryCount,
		SizeBytes:         d.sizeBytes,
		LimitBytes:        d.cfg.DiskLimit,
		Hits:              d.hits,
		Misses:            d.misses,
		Sets:              d.sets,
		Deletes:           d.deletes,
		Evictions:         d.evictions,
		Expirations:       d.expirations,
		ReadErrors:        d.readErrors,
		CompressedEntries: compressedEntries,
		HitRate:           hitRate(d.hits, d.hits+d.misses),
	}
}

// EntryInfo exposes the stored metadata for a key, mainly for inspection
// and statistics. It does not touch access bookkeeping.
func (d *DiskCache) EntryInfo(key string) (compressed bool, ratio float64, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false, 0, false
	}
	row, found := d.lookupLocked(key)
	if !found {
		return false, 0, false
	}
	return row.compressed, row.compressionRatio, true
}

// SweepExpired removes all expired rows and their content files, returning
// how many entries were dropped.
func (d *DiskCache) SweepExpired() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0
	}
	return d.sweepLocked()
}

// Close stops the sweeper and closes the metadata index.
func (d *DiskCache) Close() error {
	d.janitor.halt()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

func (d *DiskCache) effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = d.cfg.DefaultTTL
	}
	if d.cfg.MaxTTL > 0 && ttl > d.cfg.MaxTTL {
		ttl = d.cfg.MaxTTL
	}
	return ttl
}

// maybeCompress gzips the payload when compression is enabled and the
// payload meets the threshold, or when explicitly forced. Compression is
// kept only when it actually shrinks the payload.
func (d *DiskCache) maybeCompress(raw []byte, force bool) (payload []byte, compressed bool, ratio float64) {
	eligible := force || (d.cfg.CompressionEnabled && int64(len(raw)) >= d.cfg.CompressionThreshold)
	if !eligible || len(raw) == 0 {
		return raw, false, 1.0
	}

	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, d.cfg.CompressionLevel)
	if err != nil {
		return raw, false, 1.0
	}
	if _, err := w.Write(raw); err != nil {
		return raw, false, 1.0
	}
	if err := w.Close(); err != nil {
		return raw, false, 1.0
	}

	if buf.Len() >= len(raw) {
		return raw, false, 1.0
	}
	return buf.Bytes(), true, float64(buf.Len()) / float64(len(raw))
}

// writeContentFile performs the atomic write sequence: a temp file in the
// data directory, fsync, then rename onto the final path. No reader ever
// observes a partially-written file.
func (d *DiskCache) writeContentFile(filename string, payload []byte) bool {
	finalPath := filepath.Join(d.dataDir, filename)
	tmpPath := finalPath + ".tmp-" + uuid.NewString()

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		d.logger.Error("failed to create temp file", zap.Error(err))
		return false
	}

	if _, err := f.Write(payload); err == nil {
		err = f.Sync()
	} else {
		d.logger.Error("failed to write temp file", zap.Error(err))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpPath, finalPath)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		d.logger.Error("failed to persist content file", zap.String("filename", filename), zap.Error(err))
		return false
	}
	return true
}

// readContent loads and decodes the content file for a row.
func (d *DiskCache) readContent(row *diskRow) (any, error) {
	path := filepath.Join(d.dataDir, row.filename)
	data, err := os.ReadFile(path) // #nosec G304 -- path is derived from a key hash
	if err != nil {
		return nil, err
	}

	if row.compressed {
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		data, err = io.ReadAll(r)
		if cerr := r.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, err
		}
	}

	return decodeValue(data)
}

func (d *DiskCache) lookupLocked(key string) (*diskRow, bool) {
	row := &diskRow{key: key}
	var ttlNS int64
	err := d.db.QueryRow(`
SELECT filename, created_at, last_accessed, access_count, ttl_ns, size_bytes, compressed, compression_ratio
FROM entries WHERE key = ?`, key).Scan(
		&row.filename, &row.createdAt, &row.lastAccessed, &row.accessCount,
		&ttlNS, &row.sizeBytes, &row.compressed, &row.compressionRatio,
	)
	if err != nil {
		if err != sql.ErrNoRows {
			d.logger.Warn("index lookup failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	row.ttl = time.Duration(ttlNS)
	return row, true
}

// removeEntryLocked deletes row and content file together so no reader can
// see one without the other.
func (d *DiskCache) removeEntryLocked(row *diskRow) {
	if _, err := d.db.Exec(`DELETE FROM entries WHERE key = ?`, row.key); err != nil {
		d.logger.Warn("failed to delete index row", zap.String("key", row.key), zap.Error(err))
		return
	}
	if err := os.Remove(filepath.Join(d.dataDir, row.filename)); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("failed to remove content file", zap.String("filename", row.filename), zap.Error(err))
	}
	d.sizeBytes -= row.sizeBytes
}

// evictOneLocked removes a single victim chosen by the configured policy.
// skipKey protects the entry currently being replaced. Returns false when
// nothing is left to evict.
func (d *DiskCache) evictOneLocked(skipKey string) bool {
	var orderBy string
	switch d.cfg.EvictionPolicy {
	case config.EvictionLFU:
		orderBy = "access_count ASC, last_accessed ASC"
	case config.EvictionFIFO:
		orderBy = "created_at ASC"
	default:
		orderBy = "last_accessed ASC"
	}

	victim := &diskRow{}
	var ttlNS int64
	// Victim choice is an index-only decision.
	//nolint:gosec // orderBy is from a closed set of constants
	err := d.db.QueryRow(`
SELECT key, filename, size_bytes, ttl_ns FROM entries
WHERE key != ? ORDER BY `+orderBy+` LIMIT 1`, skipKey).Scan(
		&victim.key, &victim.filename, &victim.sizeBytes, &ttlNS,
	)
	if err != nil {
		return false
	}

	d.removeEntryLocked(victim)
	d.evictions++
	return true
}

func (d *DiskCache) sweepLocked() int {
	now := d.now().UnixNano()
	rows, err := d.db.Query(`
SELECT key, filename, size_bytes FROM entries
WHERE ttl_ns > 0 AND created_at + ttl_ns < ?`, now)
	if err != nil {
		d.logger.Warn("expiry sweep query failed", zap.Error(err))
		return 0
	}

	var expired []*diskRow
	for rows.Next() {
		row := &diskRow{}
		if err := rows.Scan(&row.key, &row.filename, &row.sizeBytes); err != nil {
			continue
		}
		expired = append(expired, row)
	}
	_ = rows.Close()

	for _, row := range expired {
		d.removeEntryLocked(row)
		d.expirations++
	}
	return len(expired)
}
