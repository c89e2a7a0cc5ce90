package tiercache

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// MockBackend implements the Backend interface for testing. It can be taken
// down to simulate an unreachable tier, and can round-trip values through JSON
// like the persisted tiers do.
type MockBackend struct {
	mu        sync.Mutex
	data      map[string]any
	ttls      map[string]time.Duration
	caps      Capabilities
	serialize bool
	down      bool
	health    HealthReport
	usage     UsageReport
	closeErr  error
	closed    int

	calls     map[string]int
	batchKeys [][]string // keys passed to each BatchGet call
}

func NewMockBackend() *MockBackend {
	return &MockBackend{
		data:   make(map[string]any),
		ttls:   make(map[string]time.Duration),
		calls:  make(map[string]int),
		health: HealthReport{Status: StatusHealthy},
	}
}

// NewNativeBatchBackend returns a MockBackend that declares native batching.
func NewNativeBatchBackend() *MockBackend {
	m := NewMockBackend()
	m.caps.NativeBatch = true
	return m
}

func (m *MockBackend) record(method string) {
	m.calls[method]++
}

func (m *MockBackend) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockBackend) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// Peek reads the stored value without recording a call.
func (m *MockBackend) Peek(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *MockBackend) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttls[key]
}

func (m *MockBackend) Get(_ context.Context, key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Get")
	return m.getLocked(key)
}

func (m *MockBackend) getLocked(key string) (any, bool) {
	if m.down {
		return nil, false
	}
	v, ok := m.data[key]
	return v, ok
}

func (m *MockBackend) Set(_ context.Context, key string, value any, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Set")
	return m.setLocked(key, value, ttl)
}

func (m *MockBackend) setLocked(key string, value any, ttl time.Duration) bool {
	if m.down {
		return false
	}
	if m.serialize {
		data, err := EncodeValue(value)
		if err != nil {
			return false
		}
		decoded, err := DecodeValue(data)
		if err != nil {
			return false
		}
		value = decoded
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return true
}

func (m *MockBackend) Delete(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Delete")
	return m.deleteLocked(key)
}

func (m *MockBackend) deleteLocked(key string) bool {
	if m.down {
		return false
	}
	if _, ok := m.data[key]; !ok {
		return false
	}
	delete(m.data, key)
	delete(m.ttls, key)
	return true
}

func (m *MockBackend) Exists(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Exists")
	_, ok := m.getLocked(key)
	return ok
}

func (m *MockBackend) Clear(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Clear")
	if m.down {
		return false
	}
	clear(m.data)
	clear(m.ttls)
	return true
}

func (m *MockBackend) Keys(_ context.Context, pattern string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Keys")
	if m.down {
		return nil
	}
	var keys []string
	for k := range m.data {
		if MatchPattern(pattern, k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func (m *MockBackend) BatchGet(_ context.Context, keys []string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("BatchGet")
	m.batchKeys = append(m.batchKeys, slices.Clone(keys))
	result := make(map[string]any)
	for _, k := range keys {
		if v, ok := m.getLocked(k); ok {
			result[k] = v
		}
	}
	return result
}

func (m *MockBackend) BatchSet(_ context.Context, items map[string]any, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("BatchSet")
	ok := true
	for k, v := range items {
		if !m.setLocked(k, v, ttl) {
			ok = false
		}
	}
	return ok
}

func (m *MockBackend) BatchDelete(_ context.Context, keys []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("BatchDelete")
	removed := false
	for _, k := range keys {
		if m.deleteLocked(k) {
			removed = true
		}
	}
	return removed
}

func (m *MockBackend) Capabilities() Capabilities {
	return m.caps
}

func (m *MockBackend) HealthCheck(_ context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return HealthReport{Status: StatusUnhealthy, Error: "backend is down", LastCheck: time.Now()}
	}
	return m.health
}

func (m *MockBackend) MemoryUsage(_ context.Context) UsageReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return m.closeErr
}

var errMockClose = errors.New("mock close failure")

// MockLogger records log messages for assertions.
type MockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *MockLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, level+": "+msg)
}

func (l *MockLogger) Debug(msg string, _ ...any) { l.log("DEBUG", msg) }
func (l *MockLogger) Info(msg string, _ ...any) { l.log("INFO", msg) }
func (l *MockLogger) Warn(msg string, _ ...any) { l.log("WARN", msg) }
func (l *MockLogger) Error(msg string, _ ...any) { l.log("ERROR", msg) }
func (l *MockLogger) SetLevel(LogLevel) {}

func (l *MockLogger) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.messages)
}
