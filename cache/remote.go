package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CreativeUnicorns/tiercache"
)

const (
	defaultKeyPrefix      = "tiercache:"
	defaultMaxConnections = 10
	defaultHealthInterval = 30 * time.Second
	connectTimeout        = 5 * time.Second
	scanCount             = 500
)

// RemoteBackend stores entries in Redis. Keys are namespaced with a prefix,
// the connection pool is bounded by max connections, and batch operations are
// a single MGET, pipeline or DEL round trip.
type RemoteBackend struct {
	client         *redis.Client
	prefix         string
	maxConnections int
	logger         tiercache.Logger

	healthy   atomic.Bool
	lastCheck atomic.Int64 // unix nanos

	stop      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

type remoteConfig struct {
	prefix         string
	maxConnections int
	healthInterval time.Duration
	dialTimeout    time.Duration
	ioTimeout      time.Duration
	logger         tiercache.Logger
}

// RemoteOption configures a RemoteBackend.
type RemoteOption func(*remoteConfig)

// WithKeyPrefix sets the namespace prepended to every key. Defaults to "tiercache:".
func WithKeyPrefix(prefix string) RemoteOption {
	return func(c *remoteConfig) {
		c.prefix = prefix
	}
}

// WithMaxConnections bounds the connection pool. Callers beyond the bound wait
// for a free connection. Defaults to 10.
func WithMaxConnections(n int) RemoteOption {
	return func(c *remoteConfig) {
		c.maxConnections = n
	}
}

// WithHealthCheckInterval sets how often the background probe pings the
// server. Zero disables the probe. Defaults to 30s.
func WithHealthCheckInterval(d time.Duration) RemoteOption {
	return func(c *remoteConfig) {
		c.healthInterval = d
	}
}

// WithRemoteTimeouts sets the dial timeout and the read/write timeout.
func WithRemoteTimeouts(dial, io time.Duration) RemoteOption {
	return func(c *remoteConfig) {
		c.dialTimeout = dial
		c.ioTimeout = io
	}
}

// WithRemoteLogger sets the logger used by the backend.
func WithRemoteLogger(l tiercache.Logger) RemoteOption {
	return func(c *remoteConfig) {
		c.logger = l
	}
}

// NewRemoteBackend connects to the Redis server at endpoint, which is either
// a redis:// URL or a host:port address. It fails if the server cannot be reached.
func NewRemoteBackend(endpoint string, opts ...RemoteOption) (*RemoteBackend, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: remote endpoint is required", tiercache.ErrInvalidConfig)
	}

	cfg := &remoteConfig{
		prefix:         defaultKeyPrefix,
		maxConnections: defaultMaxConnections,
		healthInterval: defaultHealthInterval,
		logger:         tiercache.NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.maxConnections <= 0 {
		return nil, fmt.Errorf("%w: max connections must be positive, got %d", tiercache.ErrInvalidConfig, cfg.maxConnections)
	}

	var options *redis.Options
	if strings.Contains(endpoint, "://") {
		parsed, err := redis.ParseURL(endpoint)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid redis url: %v", tiercache.ErrInvalidConfig, err)
		}
		options = parsed
	} else {
		options = &redis.Options{Addr: endpoint}
	}
	options.PoolSize = cfg.maxConnections
	if cfg.dialTimeout > 0 {
		options.DialTimeout = cfg.dialTimeout
	}
	if cfg.ioTimeout > 0 {
		options.ReadTimeout = cfg.ioTimeout
		options.WriteTimeout = cfg.ioTimeout
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: failed to connect to redis: %v", tiercache.ErrBackendUnavailable, err)
	}

	b := &RemoteBackend{
		client:         client,
		prefix:         cfg.prefix,
		maxConnections: cfg.maxConnections,
		logger:         cfg.logger,
		stop:           make(chan struct{}),
	}
	b.recordHealth(nil)
	if cfg.healthInterval > 0 {
		go b.monitor(cfg.healthInterval)
	}
	return b, nil
}

func (b *RemoteBackend) fullKey(key string) string {
	return b.prefix + key
}

func (b *RemoteBackend) fullKeys(keys []string) []string {
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = b.fullKey(key)
	}
	return full
}

// Get returns the decoded value stored under key.
func (b *RemoteBackend) Get(ctx context.Context, key string) (any, bool) {
	data, err := b.client.Get(ctx, b.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		b.logger.Error("Failed to get from redis", "key", key, "error", err)
		return nil, false
	}

	value, err := tiercache.DecodeValue(data)
	if err != nil {
		b.logger.Warn("Failed to decode redis value", "key", key, "error", err)
		return nil, false
	}
	return value, true
}

// Set stores value with the given TTL; ttl <= 0 stores without expiry.
func (b *RemoteBackend) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := tiercache.EncodeValue(value)
	if err != nil {
		b.logger.Error("Failed to encode redis value", "key", key, "error", err)
		return false
	}
	if err := b.client.Set(ctx, b.fullKey(key), data, max(ttl, 0)).Err(); err != nil {
		b.logger.Error("Failed to set in redis", "key", key, "error", err)
		return false
	}
	return true
}

// Delete removes key and reports whether it existed.
func (b *RemoteBackend) Delete(ctx context.Context, key string) bool {
	n, err := b.client.Del(ctx, b.fullKey(key)).Result()
	if err != nil {
		b.logger.Error("Failed to delete from redis", "key", key, "error", err)
		return false
	}
	return n > 0
}

// Exists reports whether key is present. Redis expires keys itself.
func (b *RemoteBackend) Exists(ctx context.Context, key string) bool {
	n, err := b.client.Exists(ctx, b.fullKey(key)).Result()
	if err != nil {
		b.logger.Error("Failed to check redis key", "key", key, "error", err)
		return false
	}
	return n > 0
}

// scan returns every stored key under the prefix, prefix included.
func (b *RemoteBackend) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, escapeGlob(b.prefix)+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Clear removes every key under the prefix. Keys outside the namespace are untouched.
func (b *RemoteBackend) Clear(ctx context.Context) bool {
	keys, err := b.scan(ctx)
	if err != nil {
		b.logger.Error("Failed to scan redis keys", "error", err)
		return false
	}
	for start := 0; start < len(keys); start += scanCount {
		end := min(start+scanCount, len(keys))
		if err := b.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			b.logger.Error("Failed to clear redis keys", "error", err)
			return false
		}
	}
	return true
}

// Keys returns the unprefixed keys matching pattern.
func (b *RemoteBackend) Keys(ctx context.Context, pattern string) []string {
	match, err := tiercache.CompilePattern(pattern)
	if err != nil {
		b.logger.Warn("Invalid key pattern", "pattern", pattern, "error", err)
		return nil
	}

	full, err := b.scan(ctx)
	if err != nil {
		b.logger.Error("Failed to list redis keys", "pattern", pattern, "error", err)
		return nil
	}

	keys := make([]string, 0, len(full))
	for _, k := range full {
		key := strings.TrimPrefix(k, b.prefix)
		if match(key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// BatchGet fetches keys with a single MGET.
func (b *RemoteBackend) BatchGet(ctx context.Context, keys []string) map[string]any {
	result := make(map[string]any, len(keys))
	if len(keys) == 0 {
		return result
	}

	values, err := b.client.MGet(ctx, b.fullKeys(keys)...).Result()
	if err != nil {
		b.logger.Error("Failed to batch get from redis", "keys", len(keys), "error", err)
		return result
	}

	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		value, err := tiercache.DecodeValue([]byte(s))
		if err != nil {
			b.logger.Warn("Failed to decode redis value", "key", keys[i], "error", err)
			continue
		}
		result[keys[i]] = value
	}
	return result
}

// BatchSet writes all items in one pipeline. Items that cannot be encoded are
// skipped and make the result false; the rest are still written.
func (b *RemoteBackend) BatchSet(ctx context.Context, items map[string]any, ttl time.Duration) bool {
	if len(items) == 0 {
		return true
	}

	ok := true
	encoded := make(map[string][]byte, len(items))
	for key, value := range items {
		data, err := tiercache.EncodeValue(value)
		if err != nil {
			b.logger.Error("Failed to encode redis value", "key", key, "error", err)
			ok = false
			continue
		}
		encoded[b.fullKey(key)] = data
	}

	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, data := range encoded {
			pipe.Set(ctx, key, data, max(ttl, 0))
		}
		return nil
	})
	if err != nil {
		b.logger.Error("Failed to batch set in redis", "keys", len(encoded), "error", err)
		return false
	}
	return ok
}

// BatchDelete removes keys with a single DEL and reports whether any existed.
func (b *RemoteBackend) BatchDelete(ctx context.Context, keys []string) bool {
	if len(keys) == 0 {
		return false
	}
	n, err := b.client.Del(ctx, b.fullKeys(keys)...).Result()
	if err != nil {
		b.logger.Error("Failed to batch delete from redis", "keys", len(keys), "error", err)
		return false
	}
	return n > 0
}

// Capabilities declares native batching.
func (b *RemoteBackend) Capabilities() tiercache.Capabilities {
	return tiercache.Capabilities{NativeBatch: true}
}

// HealthCheck pings the server, queries client stats and reports pool state.
func (b *RemoteBackend) HealthCheck(ctx context.Context) tiercache.HealthReport {
	report := tiercache.HealthReport{LastCheck: time.Now()}

	pong, err := b.client.Ping(ctx).Result()
	b.recordHealth(err)
	if err != nil {
		b.logger.Error("Redis health check failed", "error", err)
		report.Status = tiercache.StatusUnhealthy
		report.Error = err.Error()
		return report
	}

	ps := b.client.PoolStats()
	details := map[string]any{
		"ping":            pong,
		"max_connections": b.maxConnections,
		"pool": map[string]any{
			"total_conns": ps.TotalConns,
			"idle_conns":  ps.IdleConns,
			"stale_conns": ps.StaleConns,
			"hits":        ps.Hits,
			"misses":      ps.Misses,
			"timeouts":    ps.Timeouts,
		},
	}
	if info, err := b.client.Info(ctx, "clients").Result(); err == nil {
		details["connected_clients"] = infoInt(parseInfo(info), "connected_clients")
	} else {
		details["stats_error"] = err.Error()
	}

	report.Status = tiercache.StatusHealthy
	report.Details = details
	return report
}

// MemoryUsage reports the server's memory section.
func (b *RemoteBackend) MemoryUsage(ctx context.Context) tiercache.UsageReport {
	info, err := b.client.Info(ctx, "memory").Result()
	if err != nil {
		b.logger.Error("Failed to get redis memory usage", "error", err)
		return tiercache.UsageReport{}
	}

	fields := parseInfo(info)
	return tiercache.UsageReport{
		"used_memory":            infoInt(fields, "used_memory"),
		"used_memory_human":      fields["used_memory_human"],
		"used_memory_peak":       infoInt(fields, "used_memory_peak"),
		"used_memory_peak_human": fields["used_memory_peak_human"],
		"used_memory_rss":        infoInt(fields, "used_memory_rss"),
		"used_memory_rss_human":  fields["used_memory_rss_human"],
	}
}

// LastProbe reports the result and time of the most recent ping.
func (b *RemoteBackend) LastProbe() (bool, time.Time) {
	return b.healthy.Load(), time.Unix(0, b.lastCheck.Load())
}

// Close stops the background probe and releases the connection pool.
func (b *RemoteBackend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stop)
		b.closeErr = b.client.Close()
	})
	return b.closeErr
}

func (b *RemoteBackend) recordHealth(err error) {
	b.lastCheck.Store(time.Now().UnixNano())
	wasHealthy := b.healthy.Swap(err == nil)

	if wasHealthy && err != nil {
		b.logger.Warn("Redis became unhealthy", "error", err)
	} else if !wasHealthy && err == nil {
		b.logger.Info("Redis recovered")
	}
}

// monitor pings the server every interval until Close.
func (b *RemoteBackend) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := b.client.Ping(ctx).Err()
			cancel()
			b.recordHealth(err)
		case <-b.stop:
			return
		}
	}
}

// parseInfo splits an INFO reply into its key:value fields.
func parseInfo(info string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			fields[k] = v
		}
	}
	return fields
}

func infoInt(fields map[string]string, key string) int64 {
	n, _ := strconv.ParseInt(fields[key], 10, 64)
	return n
}

// escapeGlob quotes the characters Redis MATCH treats specially.
func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
