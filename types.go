// Package tiercache defines the core types used by the tiered cache.
package tiercache

import (
	"fmt"
	"strings"
	"time"
)

// CacheLevel identifies one tier in the Coordinator's priority order.
// Lower values are faster tiers and are consulted first.
type CacheLevel int

const (
	// LevelMemory is the bounded in-process tier.
	LevelMemory CacheLevel = iota
	// LevelDisk is the persisted local tier.
	LevelDisk
	// LevelRemote is the networked tier.
	LevelRemote
)

// AllLevels lists every known level in priority order, fastest first.
var AllLevels = []CacheLevel{LevelMemory, LevelDisk, LevelRemote}

// String returns the lowercase level name used in reports and logs.
func (l CacheLevel) String() string {
	switch l {
	case LevelMemory:
		return "memory"
	case LevelDisk:
		return "disk"
	case LevelRemote:
		return "remote"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// MarshalText lets CacheLevel be used as a JSON object key.
func (l CacheLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLevel converts a level name ("memory", "disk", "remote") to a CacheLevel.
func ParseLevel(s string) (CacheLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "memory", "mem":
		return LevelMemory, nil
	case "disk":
		return LevelDisk, nil
	case "remote", "redis":
		return LevelRemote, nil
	}
	return 0, fmt.Errorf("%w: unknown cache level %q", ErrInvalidConfig, s)
}

// CachePolicy is the eviction discipline of a bounded backend.
type CachePolicy string

const (
	// PolicyLRU evicts the least recently used key.
	PolicyLRU CachePolicy = "lru"
	// PolicyLFU evicts the least frequently read key.
	PolicyLFU CachePolicy = "lfu"
	// PolicyFIFO evicts the earliest created key regardless of access.
	PolicyFIFO CachePolicy = "fifo"
)

// ParsePolicy converts a policy name to a CachePolicy.
func ParsePolicy(s string) (CachePolicy, error) {
	p := CachePolicy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PolicyLRU, PolicyLFU, PolicyFIFO:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown eviction policy %q", ErrInvalidConfig, s)
}

// CacheStats is a point-in-time snapshot of one tier's counters.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Size    int64   `json:"size"`
	MaxSize int64   `json:"max_size"`
	HitRate float64 `json:"hit_rate"`
}

// Health status values reported by backends and the Coordinator.
const (
	StatusHealthy       = "healthy"
	StatusUnhealthy     = "unhealthy"
	StatusUnknown       = "unknown"
	StatusNotConfigured = "not_configured"
)

// HealthReport is a best-effort diagnostic of a single backend.
type HealthReport struct {
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	LastCheck time.Time      `json:"last_check"`
	Details   map[string]any `json:"details,omitempty"`
}

// UsageReport describes the resources held by a backend. Keys are backend specific.
type UsageReport map[string]any

// Capabilities is declared by every backend at construction time.
type Capabilities struct {
	// NativeBatch is true when the Batch* methods are cheaper than a loop
	// over the single-key operations (e.g. one pipelined network round trip).
	NativeBatch bool
	// MaxSize is the entry bound of the backend, or 0 when unbounded.
	MaxSize int
}

// Config holds the internal configuration for a Coordinator instance.
// It is populated by applying functional Options when a Coordinator is created with New().
type Config struct {
	logger     Logger
	defaultTTL time.Duration
	backends   []registration
}

type registration struct {
	level   CacheLevel
	backend Backend
}

// DefaultTTL is used by Coordinator writes that do not specify a TTL.
const DefaultTTL = time.Hour

// Option configures a Coordinator.
type Option func(*Config)

// WithLogger sets the Logger used by the Coordinator.
// If not set, NewDefaultLogger is used.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		c.logger = l
	}
}

// WithDefaultTTL sets the TTL applied to writes and backfills that do not carry one.
// A value <= 0 means entries written without an explicit TTL never expire.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.defaultTTL = ttl
	}
}

// WithBackend registers a backend for the given level at construction time.
func WithBackend(level CacheLevel, b Backend) Option {
	return func(c *Config) {
		c.backends = append(c.backends, registration{level: level, backend: b})
	}
}

// callOptions are the per-call parameters accepted by Coordinator operations.
type callOptions struct {
	level    CacheLevel
	hasLevel bool
	ttl      time.Duration
	hasTTL   bool
}

// CallOption adjusts a single Coordinator call.
type CallOption func(*callOptions)

// AtLevel restricts the call to a single tier.
func AtLevel(level CacheLevel) CallOption {
	return func(o *callOptions) {
		o.level = level
		o.hasLevel = true
	}
}

// WithTTL overrides the Coordinator's default TTL for a write.
// WithTTL(0) stores the entry without expiry.
func WithTTL(ttl time.Duration) CallOption {
	return func(o *callOptions) {
		o.ttl = ttl
		o.hasTTL = true
	}
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
