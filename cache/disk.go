package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/CreativeUnicorns/tiercache"
)

const (
	recordExt    = ".json"
	hashedPrefix = "#"
	tempPrefix   = ".tmp-"
	healthProbe  = tempPrefix + "health-probe"
	lockStripes  = 64

	// maxFileName is the common per-name limit of Linux, macOS and Windows filesystems.
	maxFileName = 255
)

// record is the on-disk layout of one cache entry.
type record struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value,omitempty"`
	Sealed    string          `json:"sealed,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

func (r *record) expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// DiskBackend stores one JSON record per key in a directory.
//
// Writes go to a temporary file that is renamed over the record, so readers
// never observe a partial record. There is no in-memory index; the directory
// listing is the source of truth. Expired records are removed when read.
type DiskBackend struct {
	fs      billy.Filesystem
	root    string
	maxSize int
	enc     tiercache.Encrypter
	logger  tiercache.Logger
	now     func() time.Time

	// locks serialize writers and expiry removals of the same key.
	locks [lockStripes]sync.Mutex
}

type diskConfig struct {
	logger  tiercache.Logger
	now     func() time.Time
	maxSize int
	enc     tiercache.Encrypter
}

// DiskOption configures a DiskBackend.
type DiskOption func(*diskConfig)

// WithDiskLogger sets the logger used by the backend.
func WithDiskLogger(l tiercache.Logger) DiskOption {
	return func(c *diskConfig) {
		c.logger = l
	}
}

// WithDiskClock replaces time.Now, mainly for tests.
func WithDiskClock(now func() time.Time) DiskOption {
	return func(c *diskConfig) {
		c.now = now
	}
}

// WithDiskMaxSize records a nominal capacity reported in stats. The disk tier does not evict.
func WithDiskMaxSize(n int) DiskOption {
	return func(c *diskConfig) {
		c.maxSize = n
	}
}

// WithEncryption seals record values at rest.
func WithEncryption(enc tiercache.Encrypter) DiskOption {
	return func(c *diskConfig) {
		c.enc = enc
	}
}

// NewDiskBackend creates the cache directory if needed and stores records in it.
func NewDiskBackend(cacheDir string, opts ...DiskOption) (*DiskBackend, error) {
	if cacheDir == "" {
		return nil, fmt.Errorf("%w: disk cache directory is required", tiercache.ErrInvalidConfig)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return newDiskBackend(osfs.New(cacheDir), cacheDir, opts...), nil
}

// NewDiskBackendFS stores records at the root of an existing billy filesystem.
func NewDiskBackendFS(fs billy.Filesystem, opts ...DiskOption) (*DiskBackend, error) {
	if fs == nil {
		return nil, fmt.Errorf("%w: filesystem is required", tiercache.ErrInvalidConfig)
	}
	return newDiskBackend(fs, fs.Root(), opts...), nil
}

func newDiskBackend(fs billy.Filesystem, root string, opts ...DiskOption) *DiskBackend {
	cfg := &diskConfig{
		logger: tiercache.NewDefaultLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &DiskBackend{
		fs:      fs,
		root:    root,
		maxSize: cfg.maxSize,
		enc:     cfg.enc,
		logger:  cfg.logger,
		now:     cfg.now,
	}
}

// fileName maps a key to its record file. Escaped names are reversible with
// keyFromFile. Keys whose escaped name does not fit in maxFileName are stored
// under a digest instead, and only the record knows their key. PathEscape
// always escapes '#', so the two forms never clash.
func fileName(key string) string {
	name := url.PathEscape(key) + recordExt
	if len(name) <= maxFileName {
		return name
	}
	return fmt.Sprintf("%s%016x%s", hashedPrefix, xxhash.Sum64String(key), recordExt)
}

func isHashedName(name string) bool {
	return strings.HasPrefix(name, hashedPrefix) && strings.HasSuffix(name, recordExt)
}

// isRecordFile reports whether name was produced by fileName.
func isRecordFile(name string) bool {
	if isHashedName(name) {
		return true
	}
	_, ok := keyFromFile(name)
	return ok
}

func keyFromFile(name string) (string, bool) {
	if !strings.HasSuffix(name, recordExt) || isHashedName(name) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, recordExt))
	if err != nil {
		return "", false
	}
	return key, true
}

func (b *DiskBackend) lockFor(key string) *sync.Mutex {
	return &b.locks[xxhash.Sum64String(key)%lockStripes]
}

// read loads the record for key. A missing record yields os.ErrNotExist, and
// so does a hashed record that belongs to a different key.
func (b *DiskBackend) read(key string) (*record, error) {
	name := fileName(key)
	rec, err := b.readFile(name)
	if err != nil {
		return nil, err
	}
	if isHashedName(name) && rec.Key != key {
		return nil, fmt.Errorf("record %s holds another key: %w", name, os.ErrNotExist)
	}
	return rec, nil
}

func (b *DiskBackend) readFile(name string) (*record, error) {
	f, err := b.fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache record: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: corrupted record: %v", tiercache.ErrSerialization, err)
	}
	return &rec, nil
}

// lookup returns the live record for key, removing it if it has expired.
func (b *DiskBackend) lookup(key string) (*record, bool) {
	rec, err := b.read(key)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.logger.Error("Failed to read cache record", "key", key, "error", err)
		}
		return nil, false
	}
	if rec.expired(b.now()) {
		b.expire(key)
		return nil, false
	}
	return rec, true
}

// expire removes key's record if it is still expired once the key lock is held,
// so a concurrent overwrite is never deleted.
func (b *DiskBackend) expire(key string) {
	mu := b.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	rec, err := b.read(key)
	if err != nil || !rec.expired(b.now()) {
		return
	}
	if err := b.fs.Remove(fileName(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		b.logger.Error("Failed to remove expired cache record", "key", key, "error", err)
	}
}

func (b *DiskBackend) decode(rec *record) (any, error) {
	payload := []byte(rec.Value)
	if rec.Sealed != "" {
		if b.enc == nil {
			return nil, fmt.Errorf("%w: record is encrypted but no encrypter is configured", tiercache.ErrSerialization)
		}
		plain, err := b.enc.Decrypt(rec.Sealed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", tiercache.ErrSerialization, err)
		}
		payload = []byte(plain)
	}
	return tiercache.DecodeValue(payload)
}

// Get returns the decoded value for key.
func (b *DiskBackend) Get(_ context.Context, key string) (any, bool) {
	rec, ok := b.lookup(key)
	if !ok {
		return nil, false
	}
	value, err := b.decode(rec)
	if err != nil {
		b.logger.Warn("Failed to decode cache record", "key", key, "error", err)
		return nil, false
	}
	return value, true
}

// Set writes the record for key atomically.
func (b *DiskBackend) Set(_ context.Context, key string, value any, ttl time.Duration) bool {
	payload, err := tiercache.EncodeValue(value)
	if err != nil {
		b.logger.Error("Failed to encode cache value", "key", key, "error", err)
		return false
	}

	now := b.now()
	rec := record{Key: key, CreatedAt: now}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		rec.ExpiresAt = &expiresAt
	}
	if b.enc != nil {
		sealed, err := b.enc.Encrypt(string(payload))
		if err != nil {
			b.logger.Error("Failed to encrypt cache value", "key", key, "error", err)
			return false
		}
		rec.Sealed = sealed
	} else {
		rec.Value = payload
	}

	data, err := json.Marshal(rec)
	if err != nil {
		b.logger.Error("Failed to encode cache record", "key", key, "error", err)
		return false
	}

	mu := b.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	if err := b.writeAtomic(fileName(key), data); err != nil {
		b.logger.Error("Failed to write cache record", "key", key, "error", err)
		return false
	}
	return true
}

// writeAtomic writes data to a temporary file and renames it over name.
func (b *DiskBackend) writeAtomic(name string, data []byte) error {
	tmp, err := b.fs.TempFile(".", tempPrefix)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := b.fs.Rename(tmpName, name); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Delete removes the record for key. An expired record is removed but reported as absent.
func (b *DiskBackend) Delete(_ context.Context, key string) bool {
	mu := b.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	rec, err := b.read(key)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	if err := b.fs.Remove(fileName(key)); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.logger.Error("Failed to delete cache record", "key", key, "error", err)
		}
		return false
	}
	return rec == nil || !rec.expired(b.now())
}

// Exists reports whether a live record exists for key.
func (b *DiskBackend) Exists(_ context.Context, key string) bool {
	_, ok := b.lookup(key)
	return ok
}

func (b *DiskBackend) list() ([]os.FileInfo, error) {
	infos, err := b.fs.ReadDir(".")
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}
	return infos, nil
}

// Clear removes every record and any leftover temporary file.
func (b *DiskBackend) Clear(_ context.Context) bool {
	infos, err := b.list()
	if err != nil {
		b.logger.Error("Failed to clear cache directory", "error", err)
		return false
	}

	ok := true
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || (!strings.HasSuffix(name, recordExt) && !strings.HasPrefix(name, tempPrefix)) {
			continue
		}
		if err := b.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.logger.Error("Failed to remove cache record", "file", name, "error", err)
			ok = false
		}
	}
	return ok
}

// Keys returns the sorted live keys matching pattern.
func (b *DiskBackend) Keys(_ context.Context, pattern string) []string {
	match, err := tiercache.CompilePattern(pattern)
	if err != nil {
		b.logger.Warn("Invalid key pattern", "pattern", pattern, "error", err)
		return nil
	}

	infos, err := b.list()
	if err != nil {
		b.logger.Error("Failed to list cache keys", "error", err)
		return nil
	}

	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !isRecordFile(name) {
			continue
		}
		key, ok := keyFromFile(name)
		if !ok {
			rec, err := b.readFile(name)
			if err != nil {
				b.logger.Warn("Skipping unreadable cache record", "file", name, "error", err)
				continue
			}
			key = rec.Key
		}
		if !match(key) {
			continue
		}
		if _, live := b.lookup(key); live {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

// BatchGet loops over Get.
func (b *DiskBackend) BatchGet(ctx context.Context, keys []string) map[string]any {
	return tiercache.SequentialBatchGet(ctx, b, keys)
}

// BatchSet loops over Set.
func (b *DiskBackend) BatchSet(ctx context.Context, items map[string]any, ttl time.Duration) bool {
	return tiercache.SequentialBatchSet(ctx, b, items, ttl)
}

// BatchDelete loops over Delete.
func (b *DiskBackend) BatchDelete(ctx context.Context, keys []string) bool {
	return tiercache.SequentialBatchDelete(ctx, b, keys)
}

// Capabilities reports the nominal size; there is no native batching.
func (b *DiskBackend) Capabilities() tiercache.Capabilities {
	return tiercache.Capabilities{MaxSize: b.maxSize}
}

// HealthCheck writes, reads back and removes a probe file.
func (b *DiskBackend) HealthCheck(_ context.Context) tiercache.HealthReport {
	report := tiercache.HealthReport{
		LastCheck: b.now(),
		Details:   map[string]any{"cache_dir": b.root},
	}

	probe := []byte("ok")
	if err := b.writeAtomic(healthProbe, probe); err != nil {
		report.Status = tiercache.StatusUnhealthy
		report.Error = err.Error()
		return report
	}
	defer func() {
		_ = b.fs.Remove(healthProbe)
	}()

	f, err := b.fs.Open(healthProbe)
	if err != nil {
		report.Status = tiercache.StatusUnhealthy
		report.Error = err.Error()
		return report
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil || string(data) != string(probe) {
		report.Status = tiercache.StatusUnhealthy
		report.Error = fmt.Sprintf("probe read back mismatch: %v", err)
		return report
	}
	report.Status = tiercache.StatusHealthy
	return report
}

// MemoryUsage reports the number of records and their total size on disk.
func (b *DiskBackend) MemoryUsage(_ context.Context) tiercache.UsageReport {
	infos, err := b.list()
	if err != nil {
		b.logger.Error("Failed to compute disk usage", "error", err)
		return tiercache.UsageReport{}
	}

	var entries int
	var total int64
	for _, info := range infos {
		if info.IsDir() || !isRecordFile(info.Name()) {
			continue
		}
		entries++
		total += info.Size()
	}
	return tiercache.UsageReport{
		"entries":     entries,
		"max_size":    b.maxSize,
		"bytes":       total,
		"bytes_human": humanize.Bytes(uint64(total)),
		"cache_dir":   b.root,
	}
}

// Close is a no-op; records stay on disk for the next process.
func (b *DiskBackend) Close() error {
	return nil
}
