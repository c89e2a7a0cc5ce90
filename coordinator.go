// coordinator.go
package tiercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// tierStats holds the Coordinator-owned counters for one tier.
type tierStats struct {
	hits    atomic.Int64
	misses  atomic.Int64
	size    atomic.Int64
	maxSize int64
}

func (s *tierStats) snapshot() CacheStats {
	hits, misses := s.hits.Load(), s.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{
		Hits:    hits,
		Misses:  misses,
		Size:    s.size.Load(),
		MaxSize: s.maxSize,
		HitRate: rate,
	}
}

// shrink lowers size by n without going below zero.
func (s *tierStats) shrink(n int64) {
	for {
		cur := s.size.Load()
		if s.size.CompareAndSwap(cur, max(cur-n, 0)) {
			return
		}
	}
}

type tier struct {
	level   CacheLevel
	backend Backend
	caps    Capabilities
	stats   *tierStats
}

// Coordinator fronts an ordered set of backends, fastest first.
// It is safe for concurrent use; each backend is responsible for its own locking.
type Coordinator struct {
	mu     sync.RWMutex
	tiers  []*tier
	config *Config

	closeOnce sync.Once
	closeErr  error
}

// New creates a Coordinator. Backends can be supplied with WithBackend or
// registered later with AddBackend.
func New(opts ...Option) *Coordinator {
	cfg := &Config{
		logger:     NewDefaultLogger(),
		defaultTTL: DefaultTTL,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	c := &Coordinator{config: cfg}
	for _, r := range cfg.backends {
		c.AddBackend(r.level, r.backend)
	}
	return c
}

// AddBackend registers b as the backend for level and initializes its stats.
// Registering a level twice replaces the previous backend without closing it.
func (c *Coordinator) AddBackend(level CacheLevel, b Backend) {
	caps := b.Capabilities()
	t := &tier{
		level:   level,
		backend: b,
		caps:    caps,
		stats:   &tierStats{maxSize: int64(caps.MaxSize)},
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.tiers {
		if existing.level == level {
			c.config.logger.Warn("Replacing cache backend", "level", level.String())
			c.tiers[i] = t
			return
		}
	}
	c.tiers = append(c.tiers, t)
	slices.SortStableFunc(c.tiers, func(a, b *tier) int { return int(a.level) - int(b.level) })
	c.config.logger.Info("Cache backend registered", "level", level.String(), "native_batch", caps.NativeBatch, "max_size", caps.MaxSize)
}

// Levels returns the registered levels in priority order.
func (c *Coordinator) Levels() []CacheLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	levels := make([]CacheLevel, len(c.tiers))
	for i, t := range c.tiers {
		levels[i] = t.level
	}
	return levels
}

// DefaultTTL returns the TTL applied to writes without an explicit one.
func (c *Coordinator) DefaultTTL() time.Duration {
	return c.config.defaultTTL
}

func (c *Coordinator) selectTiers(o callOptions) []*tier {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if o.hasLevel {
		for _, t := range c.tiers {
			if t.level == o.level {
				return []*tier{t}
			}
		}
		return nil
	}
	return slices.Clone(c.tiers)
}

func (c *Coordinator) writeTTL(o callOptions) time.Duration {
	if o.hasTTL {
		return o.ttl
	}
	return c.config.defaultTTL
}

func (c *Coordinator) validKey(key string) bool {
	if err := ValidateKey(key); err != nil {
		c.config.logger.Warn("Rejected cache key", "error", err)
		return false
	}
	return true
}

// Get looks key up tier by tier. On a hit below the first tier, the value is
// backfilled into every faster tier that missed, using the default TTL.
// With AtLevel only that tier is consulted and nothing is backfilled.
func (c *Coordinator) Get(ctx context.Context, key string, opts ...CallOption) (any, bool) {
	if !c.validKey(key) {
		return nil, false
	}
	o := applyCallOptions(opts)
	tiers := c.selectTiers(o)

	for i, t := range tiers {
		value, ok := t.backend.Get(ctx, key)
		if !ok {
			t.stats.misses.Add(1)
			continue
		}
		t.stats.hits.Add(1)
		if i > 0 {
			c.backfill(ctx, tiers[:i], key, value)
		}
		return value, true
	}
	return nil, false
}

func (c *Coordinator) backfill(ctx context.Context, faster []*tier, key string, value any) {
	for _, t := range faster {
		if t.backend.Set(ctx, key, value, c.config.defaultTTL) {
			t.stats.size.Add(1)
			continue
		}
		c.config.logger.Debug("Cache backfill failed", "level", t.level.String(), "key", key)
	}
}

// Set writes value to every enabled tier (or only the AtLevel tier) and
// reports whether at least one tier accepted the write.
func (c *Coordinator) Set(ctx context.Context, key string, value any, opts ...CallOption) bool {
	if !c.validKey(key) {
		return false
	}
	o := applyCallOptions(opts)
	ttl := c.writeTTL(o)

	ok := false
	for _, t := range c.selectTiers(o) {
		if t.backend.Set(ctx, key, value, ttl) {
			t.stats.size.Add(1)
			ok = true
			continue
		}
		c.config.logger.Warn("Cache write failed", "level", t.level.String(), "key", key)
	}
	return ok
}

// Delete removes key from the selected tiers and reports whether any tier held it.
func (c *Coordinator) Delete(ctx context.Context, key string, opts ...CallOption) bool {
	if !c.validKey(key) {
		return false
	}
	o := applyCallOptions(opts)

	ok := false
	for _, t := range c.selectTiers(o) {
		if t.backend.Delete(ctx, key) {
			t.stats.shrink(1)
			ok = true
		}
	}
	return ok
}

// Exists reports whether any selected tier holds a live entry for key.
func (c *Coordinator) Exists(ctx context.Context, key string, opts ...CallOption) bool {
	if !c.validKey(key) {
		return false
	}
	o := applyCallOptions(opts)

	for _, t := range c.selectTiers(o) {
		if t.backend.Exists(ctx, key) {
			return true
		}
	}
	return false
}

// Clear empties the selected tiers. Hit and miss counters are kept.
func (c *Coordinator) Clear(ctx context.Context, opts ...CallOption) bool {
	o := applyCallOptions(opts)

	ok := false
	for _, t := range c.selectTiers(o) {
		if t.backend.Clear(ctx) {
			t.stats.size.Store(0)
			ok = true
			continue
		}
		c.config.logger.Warn("Cache clear failed", "level", t.level.String())
	}
	return ok
}

// Keys returns the sorted union of live keys matching pattern across the selected tiers.
func (c *Coordinator) Keys(ctx context.Context, pattern string, opts ...CallOption) []string {
	if _, err := CompilePattern(pattern); err != nil {
		c.config.logger.Warn("Rejected key pattern", "error", err)
		return nil
	}
	o := applyCallOptions(opts)

	seen := make(map[string]struct{})
	for _, t := range c.selectTiers(o) {
		for _, key := range t.backend.Keys(ctx, pattern) {
			seen[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// BatchGet fetches keys tier by tier, asking each tier only for the keys still
// missing. Stats are recorded per key. Values found below the first tier are
// backfilled into the faster tiers.
func (c *Coordinator) BatchGet(ctx context.Context, keys []string, opts ...CallOption) map[string]any {
	o := applyCallOptions(opts)
	result := make(map[string]any, len(keys))

	remaining := make([]string, 0, len(keys))
	for _, key := range keys {
		if c.validKey(key) && !slices.Contains(remaining, key) {
			remaining = append(remaining, key)
		}
	}

	tiers := c.selectTiers(o)
	for i, t := range tiers {
		if len(remaining) == 0 {
			break
		}
		found := c.tierBatchGet(ctx, t, remaining)

		missing := make([]string, 0, len(remaining))
		for _, key := range remaining {
			value, ok := found[key]
			if !ok {
				t.stats.misses.Add(1)
				missing = append(missing, key)
				continue
			}
			t.stats.hits.Add(1)
			result[key] = value
		}
		if i > 0 && len(found) > 0 {
			for _, faster := range tiers[:i] {
				c.tierBatchSet(ctx, faster, found, c.config.defaultTTL)
			}
		}
		remaining = missing
	}
	return result
}

// BatchSet writes items to every selected tier and reports whether any tier
// accepted all of them.
func (c *Coordinator) BatchSet(ctx context.Context, items map[string]any, opts ...CallOption) bool {
	o := applyCallOptions(opts)
	ttl := c.writeTTL(o)

	valid := make(map[string]any, len(items))
	for key, value := range items {
		if c.validKey(key) {
			valid[key] = value
		}
	}
	if len(valid) == 0 {
		return len(items) == 0
	}

	ok := false
	for _, t := range c.selectTiers(o) {
		if c.tierBatchSet(ctx, t, valid, ttl) {
			ok = true
			continue
		}
		c.config.logger.Warn("Cache batch write failed", "level", t.level.String(), "keys", len(valid))
	}
	return ok && len(valid) == len(items)
}

// BatchDelete removes keys from every selected tier and reports whether any
// tier removed at least one of them.
func (c *Coordinator) BatchDelete(ctx context.Context, keys []string, opts ...CallOption) bool {
	o := applyCallOptions(opts)

	valid := make([]string, 0, len(keys))
	for _, key := range keys {
		if c.validKey(key) {
			valid = append(valid, key)
		}
	}
	if len(valid) == 0 {
		return false
	}

	ok := false
	for _, t := range c.selectTiers(o) {
		if c.tierBatchDelete(ctx, t, valid) {
			ok = true
		}
	}
	return ok
}

func (c *Coordinator) tierBatchGet(ctx context.Context, t *tier, keys []string) map[string]any {
	if t.caps.NativeBatch {
		return t.backend.BatchGet(ctx, keys)
	}
	return SequentialBatchGet(ctx, t.backend, keys)
}

func (c *Coordinator) tierBatchSet(ctx context.Context, t *tier, items map[string]any, ttl time.Duration) bool {
	if t.caps.NativeBatch {
		ok := t.backend.BatchSet(ctx, items, ttl)
		if ok {
			t.stats.size.Add(int64(len(items)))
		}
		return ok
	}

	written := 0
	for key, value := range items {
		if t.backend.Set(ctx, key, value, ttl) {
			written++
		}
	}
	t.stats.size.Add(int64(written))
	return written == len(items)
}

func (c *Coordinator) tierBatchDelete(ctx context.Context, t *tier, keys []string) bool {
	if t.caps.NativeBatch {
		ok := t.backend.BatchDelete(ctx, keys)
		if ok {
			t.stats.shrink(int64(len(keys)))
		}
		return ok
	}

	removed := 0
	for _, key := range keys {
		if t.backend.Delete(ctx, key) {
			removed++
		}
	}
	t.stats.shrink(int64(removed))
	return removed > 0
}

// Increment adds delta to the integer stored at key and writes the result back
// through the selected tiers. A missing key counts as zero. The read and the
// write are separate operations, so concurrent increments of one key can be lost.
func (c *Coordinator) Increment(ctx context.Context, key string, delta int64, opts ...CallOption) (int64, bool) {
	var current int64
	if value, ok := c.Get(ctx, key, opts...); ok {
		n, err := toInt64(value)
		if err != nil {
			c.config.logger.Warn("Cannot increment non-integer cache value", "key", key, "error", err)
			return 0, false
		}
		current = n
	}

	next := current + delta
	if !c.Set(ctx, key, next, opts...) {
		return 0, false
	}
	return next, true
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrSerialization, n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("%w: unsupported counter type %T", ErrSerialization, v)
	}
}

// GetStats returns a snapshot of the selected tiers' counters. Asking for an
// unregistered level yields zero stats for it.
func (c *Coordinator) GetStats(opts ...CallOption) map[CacheLevel]CacheStats {
	o := applyCallOptions(opts)
	stats := make(map[CacheLevel]CacheStats)

	tiers := c.selectTiers(o)
	if o.hasLevel && len(tiers) == 0 {
		stats[o.level] = CacheStats{}
		return stats
	}
	for _, t := range tiers {
		stats[t.level] = t.stats.snapshot()
	}
	return stats
}

// HealthCheck probes the selected tiers concurrently. Known levels without a
// registered backend report StatusNotConfigured.
func (c *Coordinator) HealthCheck(ctx context.Context, opts ...CallOption) map[CacheLevel]HealthReport {
	o := applyCallOptions(opts)
	registered := c.selectTiers(callOptions{})

	levels := slices.Clone(AllLevels)
	if o.hasLevel {
		levels = []CacheLevel{o.level}
	} else {
		for _, t := range registered {
			if !slices.Contains(levels, t.level) {
				levels = append(levels, t.level)
			}
		}
	}

	var (
		mu      sync.Mutex
		g       errgroup.Group
		reports = make(map[CacheLevel]HealthReport, len(levels))
	)
	for _, level := range levels {
		idx := slices.IndexFunc(registered, func(t *tier) bool { return t.level == level })
		if idx < 0 {
			reports[level] = HealthReport{
				Status:    StatusNotConfigured,
				Error:     fmt.Sprintf("backend for %s not configured", level),
				LastCheck: time.Now(),
			}
			continue
		}
		t := registered[idx]
		g.Go(func() error {
			report := t.backend.HealthCheck(ctx)
			if report.Status == "" {
				report.Status = StatusUnknown
			}
			mu.Lock()
			reports[t.level] = report
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// MemoryUsage collects usage reports from the selected tiers. A backend that
// has nothing to report is described by the Coordinator's own counters.
func (c *Coordinator) MemoryUsage(ctx context.Context, opts ...CallOption) map[CacheLevel]UsageReport {
	o := applyCallOptions(opts)
	usage := make(map[CacheLevel]UsageReport)

	for _, t := range c.selectTiers(o) {
		report := t.backend.MemoryUsage(ctx)
		if len(report) == 0 {
			s := t.stats.snapshot()
			report = UsageReport{
				"size":     s.Size,
				"max_size": s.MaxSize,
				"hit_rate": s.HitRate,
			}
		}
		usage[t.level] = report
	}
	return usage
}

// Close closes every registered backend. Subsequent calls return the first result.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		for _, t := range c.selectTiers(callOptions{}) {
			if err := t.backend.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s backend: %w", t.level, err))
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
