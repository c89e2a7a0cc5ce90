package tiercache_test

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-billy/v5/memfs"

	"github.com/CreativeUnicorns/tiercache"
	"github.com/CreativeUnicorns/tiercache/cache"
)

func Example() {
	ctx := context.Background()
	logger := tiercache.NewNopLogger()

	mem, err := cache.NewMemoryBackend(1000, tiercache.PolicyLRU, cache.WithMemoryLogger(logger))
	if err != nil {
		panic(err)
	}
	disk, err := cache.NewDiskBackendFS(memfs.New(), cache.WithDiskLogger(logger))
	if err != nil {
		panic(err)
	}

	c := tiercache.New(
		tiercache.WithLogger(logger),
		tiercache.WithDefaultTTL(10*time.Minute),
		tiercache.WithBackend(tiercache.LevelMemory, mem),
		tiercache.WithBackend(tiercache.LevelDisk, disk),
	)
	defer c.Close()

	c.Set(ctx, "greeting", "hello", tiercache.AtLevel(tiercache.LevelDisk))

	v, ok := c.Get(ctx, "greeting")
	fmt.Println(v, ok)

	stats := c.GetStats()
	fmt.Println(stats[tiercache.LevelMemory].Misses, stats[tiercache.LevelDisk].Hits)
	fmt.Println(c.Exists(ctx, "greeting", tiercache.AtLevel(tiercache.LevelMemory)))
	// Output:
	// hello true
	// 1 1
	// true
}

func ExampleMemoize() {
	ctx := context.Background()
	logger := tiercache.NewNopLogger()

	mem, err := cache.NewMemoryBackend(100, tiercache.PolicyLFU, cache.WithMemoryLogger(logger))
	if err != nil {
		panic(err)
	}
	c := tiercache.New(tiercache.WithLogger(logger), tiercache.WithBackend(tiercache.LevelMemory, mem))
	defer c.Close()

	calls := 0
	double := tiercache.Memoize(c, "double", func(_ context.Context, args ...any) (int, error) {
		calls++
		return args[0].(int) * 2, nil
	})

	a, _ := double(ctx, 21)
	b, _ := double(ctx, 21)
	fmt.Println(a, b, calls)
	// Output: 42 42 1
}
