// Package main is the entry point for the tiercache-server application.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CreativeUnicorns/tiercache"
	"github.com/CreativeUnicorns/tiercache/api"
	"github.com/CreativeUnicorns/tiercache/cache"
	"github.com/CreativeUnicorns/tiercache/storage"
)

// encryptionKeyEnv names the variable holding the 32-byte disk encryption key.
const encryptionKeyEnv = "TIERCACHE_ENCRYPTION_KEY"

type flags struct {
	listenAddr   string
	memorySize   int
	memoryPolicy string
	diskDir      string
	sqlitePath   string
	postgresDSN  string
	redisURL     string
	redisPrefix  string
	defaultTTL   time.Duration
	logLevel     string
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.listenAddr, "listen-addr", ":8080", "HTTP listen address")
	flag.IntVar(&f.memorySize, "memory-size", 1000, "Maximum entries in the memory tier (0 disables it)")
	flag.StringVar(&f.memoryPolicy, "memory-policy", string(tiercache.PolicyLRU), "Memory eviction policy: lru, lfu or fifo")
	flag.StringVar(&f.diskDir, "disk-dir", "", "Directory for the file-backed disk tier")
	flag.StringVar(&f.sqlitePath, "sqlite-path", "", "SQLite database used as the disk tier instead of -disk-dir")
	flag.StringVar(&f.postgresDSN, "postgres-dsn", "", "PostgreSQL connection string used as the disk tier instead of -disk-dir")
	flag.StringVar(&f.redisURL, "redis-url", "", "Redis address or redis:// URL for the remote tier")
	flag.StringVar(&f.redisPrefix, "redis-prefix", "tiercache:", "Key prefix for the remote tier")
	flag.DurationVar(&f.defaultTTL, "default-ttl", tiercache.DefaultTTL, "TTL applied to writes without an explicit one")
	flag.StringVar(&f.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flag.Parse()
	return f
}

func parseLogLevel(s string) (tiercache.LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return tiercache.LogLevelDebug, nil
	case "info":
		return tiercache.LogLevelInfo, nil
	case "warn", "warning":
		return tiercache.LogLevelWarn, nil
	case "error":
		return tiercache.LogLevelError, nil
	default:
		return 0, fmt.Errorf("%w: unknown log level %q", tiercache.ErrInvalidConfig, s)
	}
}

// buildCoordinator registers one backend per configured tier.
func buildCoordinator(f flags, logger tiercache.Logger) (*tiercache.Coordinator, error) {
	coord := tiercache.New(
		tiercache.WithLogger(logger),
		tiercache.WithDefaultTTL(f.defaultTTL),
	)

	if f.memorySize > 0 {
		mem, err := cache.NewMemoryBackend(f.memorySize, tiercache.CachePolicy(strings.ToLower(f.memoryPolicy)), cache.WithMemoryLogger(logger))
		if err != nil {
			return nil, err
		}
		coord.AddBackend(tiercache.LevelMemory, mem)
	}

	persistent := 0
	for _, v := range []string{f.diskDir, f.sqlitePath, f.postgresDSN} {
		if v != "" {
			persistent++
		}
	}
	if persistent > 1 {
		_ = coord.Close()
		return nil, fmt.Errorf("%w: -disk-dir, -sqlite-path and -postgres-dsn are mutually exclusive", tiercache.ErrInvalidConfig)
	}

	switch {
	case f.diskDir != "":
		opts := []cache.DiskOption{cache.WithDiskLogger(logger)}
		if key := os.Getenv(encryptionKeyEnv); key != "" {
			enc, err := tiercache.NewEncryptionAdapter([]byte(key))
			if err != nil {
				_ = coord.Close()
				return nil, err
			}
			opts = append(opts, cache.WithEncryption(enc))
		}
		disk, err := cache.NewDiskBackend(f.diskDir, opts...)
		if err != nil {
			_ = coord.Close()
			return nil, err
		}
		coord.AddBackend(tiercache.LevelDisk, disk)
	case f.sqlitePath != "":
		db, err := storage.NewSQLiteBackend(f.sqlitePath, storage.WithSQLLogger(logger))
		if err != nil {
			_ = coord.Close()
			return nil, err
		}
		coord.AddBackend(tiercache.LevelDisk, db)
	case f.postgresDSN != "":
		db, err := storage.NewPostgresBackend(f.postgresDSN, storage.WithSQLLogger(logger))
		if err != nil {
			_ = coord.Close()
			return nil, err
		}
		coord.AddBackend(tiercache.LevelDisk, db)
	}

	if f.redisURL != "" {
		remote, err := cache.NewRemoteBackend(f.redisURL,
			cache.WithKeyPrefix(f.redisPrefix),
			cache.WithRemoteLogger(logger),
		)
		if err != nil {
			_ = coord.Close()
			return nil, err
		}
		coord.AddBackend(tiercache.LevelRemote, remote)
	}

	if len(coord.Levels()) == 0 {
		return nil, fmt.Errorf("%w: no cache tier configured", tiercache.ErrNotConfigured)
	}
	return coord, nil
}

func main() {
	f := parseFlags()

	logger := tiercache.NewDefaultLogger()
	level, err := parseLogLevel(f.logLevel)
	if err != nil {
		logger.Error("Invalid log level", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(level)
	logger.Info("Tiercache server starting up...")

	coord, err := buildCoordinator(f, logger)
	if err != nil {
		logger.Error("Failed to configure cache tiers", "error", err)
		os.Exit(1)
	}
	logger.Info("Cache tiers ready", "levels", coord.Levels())

	apiServer, err := api.NewServer(api.Config{
		ListenAddress: f.listenAddr,
		Coordinator:   coord,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("Failed to create API server", "error", err)
		_ = coord.Close()
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
	}
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Stop(ctx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
	if err := coord.Close(); err != nil {
		logger.Error("Failed to close cache tiers", "error", err)
	}

	logger.Info("Server exited gracefully")
}
