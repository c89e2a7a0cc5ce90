package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CreativeUnicorns/tiercache"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// setupSQLiteTest creates a SQLite database in a temporary directory.
func setupSQLiteTest(t *testing.T) (*SQLBackend, *testClock, string) {
	t.Helper()
	clock := &testClock{now: testNow}
	dbPath := filepath.Join(t.TempDir(), "cache.db")

	b, err := NewSQLiteBackend(dbPath, WithSQLLogger(tiercache.NewNopLogger()), WithSQLClock(clock.Now), WithSQLMaxSize(100))
	require.NoError(t, err, "Failed to initialize SQLite backend")
	t.Cleanup(func() {
		require.NoError(t, b.Close(), "Failed to close backend")
	})
	return b, clock, dbPath
}

func TestSQLiteBackend_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	b, _, _ := setupSQLiteTest(t)

	_, ok := b.Get(ctx, "missing")
	assert.False(t, ok)

	require.True(t, b.Set(ctx, "user:1", map[string]any{"name": "ada", "admin": true}, time.Hour))
	v, ok := b.Get(ctx, "user:1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "ada", "admin": true}, v)
	assert.True(t, b.Exists(ctx, "user:1"))

	require.True(t, b.Set(ctx, "user:1", "replaced", 0))
	v, _ = b.Get(ctx, "user:1")
	assert.Equal(t, "replaced", v)

	assert.True(t, b.Delete(ctx, "user:1"))
	assert.False(t, b.Delete(ctx, "user:1"))
	assert.False(t, b.Exists(ctx, "user:1"))

	assert.False(t, b.Set(ctx, "bad", make(chan int), 0))
}

func TestSQLiteBackend_TTL(t *testing.T) {
	ctx := context.Background()
	b, clock, _ := setupSQLiteTest(t)

	require.True(t, b.Set(ctx, "short", "v", time.Second))
	require.True(t, b.Set(ctx, "forever", "v", 0))

	clock.Advance(time.Second)
	_, ok := b.Get(ctx, "short")
	assert.False(t, ok)
	assert.False(t, b.Delete(ctx, "short"))
	assert.Equal(t, []string{"forever"}, b.Keys(ctx, "*"))
	assert.Equal(t, int64(1), b.MemoryUsage(ctx)["entries"], "expired row removed on read")
}

func TestSQLiteBackend_OverwriteRefreshesExpiry(t *testing.T) {
	ctx := context.Background()
	b, clock, _ := setupSQLiteTest(t)

	require.True(t, b.Set(ctx, "k", "old", time.Second))
	clock.Advance(2 * time.Second)
	require.True(t, b.Set(ctx, "k", "new", time.Hour))

	// The conditional removal must not touch the fresh row.
	b.removeExpired(ctx, "k")
	v, ok := b.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestSQLiteBackend_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	b, clock, _ := setupSQLiteTest(t)

	require.True(t, b.BatchSet(ctx, map[string]any{"a": 1, "b": 2}, time.Second))
	require.True(t, b.Set(ctx, "c", 3, 0))
	clock.Advance(time.Minute)

	n, err := b.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"c"}, b.Keys(ctx, ""))
}

func TestSQLiteBackend_Batch(t *testing.T) {
	ctx := context.Background()
	b, clock, _ := setupSQLiteTest(t)

	assert.True(t, b.Capabilities().NativeBatch)
	assert.Equal(t, 100, b.Capabilities().MaxSize)

	items := make(map[string]any)
	for i := range 600 {
		items[fmt.Sprintf("k%03d", i)] = i
	}
	require.True(t, b.BatchSet(ctx, items, 0))

	keys := make([]string, 0, 601)
	for k := range items {
		keys = append(keys, k)
	}
	keys = append(keys, "absent")
	got := b.BatchGet(ctx, keys)
	assert.Len(t, got, 600)
	assert.Equal(t, json.Number("42"), got["k042"])

	require.True(t, b.Set(ctx, "dying", "v", time.Second))
	clock.Advance(time.Second)
	assert.False(t, b.BatchDelete(ctx, []string{"dying", "absent"}))
	assert.True(t, b.BatchDelete(ctx, keys))
	assert.Empty(t, b.Keys(ctx, "*"))

	ok := b.BatchSet(ctx, map[string]any{"good": 1, "bad": make(chan int)}, 0)
	assert.False(t, ok)
	assert.True(t, b.Exists(ctx, "good"))
}

func TestSQLiteBackend_KeysAndClear(t *testing.T) {
	ctx := context.Background()
	b, _, _ := setupSQLiteTest(t)

	for _, k := range []string{"user:2", "user:1", "session:1"} {
		require.True(t, b.Set(ctx, k, k, 0))
	}
	assert.Equal(t, []string{"session:1", "user:1", "user:2"}, b.Keys(ctx, "*"))
	assert.Equal(t, []string{"user:1", "user:2"}, b.Keys(ctx, "user:?"))
	assert.Nil(t, b.Keys(ctx, "[bad"))

	assert.True(t, b.Clear(ctx))
	assert.Empty(t, b.Keys(ctx, "*"))
}

func TestSQLiteBackend_Persistence(t *testing.T) {
	ctx := context.Background()
	b, _, dbPath := setupSQLiteTest(t)
	require.True(t, b.Set(ctx, "kept", []any{"a", "b"}, 0))

	other, err := NewSQLiteBackend(dbPath, WithSQLLogger(tiercache.NewNopLogger()))
	require.NoError(t, err)
	defer other.Close()

	v, ok := other.Get(ctx, "kept")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, v)
}

func TestSQLiteBackend_HealthAndUsage(t *testing.T) {
	ctx := context.Background()
	b, _, _ := setupSQLiteTest(t)
	require.True(t, b.Set(ctx, "k", "value", 0))

	report := b.HealthCheck(ctx)
	assert.Equal(t, tiercache.StatusHealthy, report.Status)
	assert.Equal(t, "sqlite", report.Details["driver"])
	assert.Equal(t, int64(1), report.Details["entries"])

	usage := b.MemoryUsage(ctx)
	assert.Equal(t, int64(1), usage["entries"])
	assert.Equal(t, int64(len(`"value"`)), usage["bytes"])
}

func TestSQLiteBackend_Concurrency(t *testing.T) {
	ctx := context.Background()
	b, _, _ := setupSQLiteTest(t)

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := range 25 {
				key := fmt.Sprintf("g%d-%d", g, i)
				assert.True(t, b.Set(ctx, key, i, time.Minute))
				_, ok := b.Get(ctx, key)
				assert.True(t, ok)
			}
		}(g)
	}
	wg.Wait()

	assert.Len(t, b.Keys(ctx, "*"), 100)
}

func TestNewSQLiteBackend_BadPath(t *testing.T) {
	_, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "missing", "dir", "cache.db"))
	assert.Error(t, err)
}

func TestSQLiteBackend_LargeIntegers(t *testing.T) {
	ctx := context.Background()
	b, _, _ := setupSQLiteTest(t)

	const big = int64(1<<53 + 1)
	require.True(t, b.Set(ctx, "n", big, 0))
	require.True(t, b.BatchSet(ctx, map[string]any{"m": big - 2}, 0))

	v, ok := b.Get(ctx, "n")
	require.True(t, ok)
	assert.Equal(t, json.Number("9007199254740993"), v)
	assert.Equal(t, map[string]any{
		"n": json.Number("9007199254740993"),
		"m": json.Number("9007199254740991"),
	}, b.BatchGet(ctx, []string{"n", "m"}))
}
