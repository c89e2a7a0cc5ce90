// Package cache provides the concrete tiercache backends: a bounded in-memory
// store, an on-disk record store and a Redis-backed remote store.
package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CreativeUnicorns/tiercache"
)

// entry is a single cached value with its metadata.
type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryBackend is a bounded in-process store with LRU, LFU or FIFO eviction.
//
// Expiry is checked lazily on every Get, Exists and Keys. A background sweep
// additionally reclaims expired entries that are never read again.
type MemoryBackend struct {
	mu      sync.Mutex
	items   map[string]*entry
	evictor evictor

	maxSize int
	policy  tiercache.CachePolicy
	logger  tiercache.Logger
	now     func() time.Time

	evictions   atomic.Int64
	expirations atomic.Int64

	stop      chan struct{}
	closeOnce sync.Once
}

type memoryConfig struct {
	logger        tiercache.Logger
	now           func() time.Time
	sweepInterval time.Duration
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*memoryConfig)

// WithMemoryLogger sets the logger used by the backend.
func WithMemoryLogger(l tiercache.Logger) MemoryOption {
	return func(c *memoryConfig) {
		c.logger = l
	}
}

// WithMemoryClock replaces time.Now, mainly for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *memoryConfig) {
		c.now = now
	}
}

// WithSweepInterval sets how often expired entries are reclaimed in the
// background. Zero disables the sweep. Defaults to one minute.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(c *memoryConfig) {
		c.sweepInterval = d
	}
}

// NewMemoryBackend creates a MemoryBackend holding at most maxSize entries.
func NewMemoryBackend(maxSize int, policy tiercache.CachePolicy, opts ...MemoryOption) (*MemoryBackend, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: memory max size must be positive, got %d", tiercache.ErrInvalidConfig, maxSize)
	}
	if _, err := tiercache.ParsePolicy(string(policy)); err != nil {
		return nil, err
	}

	cfg := &memoryConfig{
		logger:        tiercache.NewDefaultLogger(),
		now:           time.Now,
		sweepInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	b := &MemoryBackend{
		items:   make(map[string]*entry),
		evictor: newEvictor(policy),
		maxSize: maxSize,
		policy:  policy,
		logger:  cfg.logger,
		now:     cfg.now,
		stop:    make(chan struct{}),
	}
	if cfg.sweepInterval > 0 {
		go b.sweep(cfg.sweepInterval)
	}
	return b, nil
}

// removeLocked drops key from the entry map and the policy bookkeeping.
func (b *MemoryBackend) removeLocked(key string) {
	delete(b.items, key)
	b.evictor.remove(key)
}

// liveLocked returns the entry for key, dropping it first if it has expired.
func (b *MemoryBackend) liveLocked(key string, now time.Time) (*entry, bool) {
	e, ok := b.items[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		b.removeLocked(key)
		b.expirations.Add(1)
		return nil, false
	}
	return e, true
}

// purgeExpiredLocked drops every expired entry.
func (b *MemoryBackend) purgeExpiredLocked(now time.Time) {
	for key := range b.items {
		b.liveLocked(key, now)
	}
}

// Get returns the value for key and records the access for the eviction policy.
func (b *MemoryBackend) Get(_ context.Context, key string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.liveLocked(key, b.now())
	if !ok {
		return nil, false
	}
	b.evictor.touch(key)
	return e.value, true
}

// Set stores value under key, replacing any previous entry and its expiry.
// Inserting a new key into a full backend first drops expired entries, and
// evicts one entry by policy only if that did not free a slot.
func (b *MemoryBackend) Set(_ context.Context, key string, value any, ttl time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	e := &entry{value: value, createdAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	if _, exists := b.items[key]; !exists && len(b.items) >= b.maxSize {
		b.purgeExpiredLocked(now)
	}
	if _, exists := b.items[key]; !exists && len(b.items) >= b.maxSize {
		if victim, ok := b.evictor.victim(); ok {
			b.removeLocked(victim)
			b.evictions.Add(1)
			b.logger.Debug("Evicted cache entry", "key", victim, "policy", string(b.policy))
		}
	}

	b.items[key] = e
	b.evictor.insert(key)
	return true
}

// Delete removes key. Expired entries count as absent.
func (b *MemoryBackend) Delete(_ context.Context, key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.liveLocked(key, b.now()); !ok {
		return false
	}
	b.removeLocked(key)
	return true
}

// Exists reports whether a live entry exists without counting as an access.
func (b *MemoryBackend) Exists(_ context.Context, key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.liveLocked(key, b.now())
	return ok
}

// Clear removes all entries.
func (b *MemoryBackend) Clear(_ context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.items)
	b.evictor.reset()
	return true
}

// Keys returns the sorted live keys matching pattern.
func (b *MemoryBackend) Keys(_ context.Context, pattern string) []string {
	match, err := tiercache.CompilePattern(pattern)
	if err != nil {
		b.logger.Warn("Invalid key pattern", "pattern", pattern, "error", err)
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	keys := make([]string, 0, len(b.items))
	for key := range b.items {
		if _, ok := b.liveLocked(key, now); ok && match(key) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

// BatchGet loops over Get.
func (b *MemoryBackend) BatchGet(ctx context.Context, keys []string) map[string]any {
	return tiercache.SequentialBatchGet(ctx, b, keys)
}

// BatchSet loops over Set.
func (b *MemoryBackend) BatchSet(ctx context.Context, items map[string]any, ttl time.Duration) bool {
	return tiercache.SequentialBatchSet(ctx, b, items, ttl)
}

// BatchDelete loops over Delete.
func (b *MemoryBackend) BatchDelete(ctx context.Context, keys []string) bool {
	return tiercache.SequentialBatchDelete(ctx, b, keys)
}

// Capabilities reports the entry bound; there is no native batching.
func (b *MemoryBackend) Capabilities() tiercache.Capabilities {
	return tiercache.Capabilities{MaxSize: b.maxSize}
}

// Len returns the number of entries held, including expired entries not yet reclaimed.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// HealthCheck always reports healthy; an in-process map cannot be unreachable.
func (b *MemoryBackend) HealthCheck(_ context.Context) tiercache.HealthReport {
	return tiercache.HealthReport{
		Status:    tiercache.StatusHealthy,
		LastCheck: b.now(),
		Details: map[string]any{
			"entries":  b.Len(),
			"max_size": b.maxSize,
			"policy":   string(b.policy),
		},
	}
}

// MemoryUsage reports occupancy and policy counters.
func (b *MemoryBackend) MemoryUsage(_ context.Context) tiercache.UsageReport {
	n := b.Len()
	return tiercache.UsageReport{
		"entries":     n,
		"max_size":    b.maxSize,
		"utilization": float64(n) / float64(b.maxSize),
		"policy":      string(b.policy),
		"evictions":   b.evictions.Load(),
		"expirations": b.expirations.Load(),
	}
}

// Close stops the sweep goroutine and drops all entries.
func (b *MemoryBackend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stop)
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.items)
	b.evictor.reset()
	return nil
}

// sweep periodically removes expired entries.
func (b *MemoryBackend) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			b.purgeExpiredLocked(b.now())
			b.mu.Unlock()
		case <-b.stop:
			return
		}
	}
}
