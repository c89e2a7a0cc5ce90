// Package tiercache defines the backend contract and the logging and encryption
// interfaces used across the tiered cache.
package tiercache

import (
	"context"
	"time"
)

// Backend is the contract every concrete cache store implements.
//
// Data-path methods never return errors: I/O and serialization failures are
// logged by the backend and surface as a miss or a false result. A ttl <= 0
// stores the entry without expiry. Exists and Keys honour TTLs the same way Get does.
type Backend interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool
	Delete(ctx context.Context, key string) bool
	Exists(ctx context.Context, key string) bool
	Clear(ctx context.Context) bool
	Keys(ctx context.Context, pattern string) []string

	// Batch operations. Backends that cannot batch natively implement these
	// with SequentialBatchGet/Set/Delete and report NativeBatch: false.
	BatchGet(ctx context.Context, keys []string) map[string]any
	BatchSet(ctx context.Context, items map[string]any, ttl time.Duration) bool
	BatchDelete(ctx context.Context, keys []string) bool

	Capabilities() Capabilities
	HealthCheck(ctx context.Context) HealthReport
	MemoryUsage(ctx context.Context) UsageReport

	// Close releases backend resources. It is safe to call more than once.
	Close() error
}

// Encrypter seals and opens opaque payloads. Used by persisted tiers that
// encrypt records at rest.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SequentialBatchGet loops over Get and returns the keys that were found.
func SequentialBatchGet(ctx context.Context, b Backend, keys []string) map[string]any {
	result := make(map[string]any, len(keys))
	for _, key := range keys {
		if value, ok := b.Get(ctx, key); ok {
			result[key] = value
		}
	}
	return result
}

// SequentialBatchSet loops over Set and reports whether every write succeeded.
func SequentialBatchSet(ctx context.Context, b Backend, items map[string]any, ttl time.Duration) bool {
	ok := true
	for key, value := range items {
		if !b.Set(ctx, key, value, ttl) {
			ok = false
		}
	}
	return ok
}

// SequentialBatchDelete loops over Delete and reports whether any record was removed.
func SequentialBatchDelete(ctx context.Context, b Backend, keys []string) bool {
	removed := false
	for _, key := range keys {
		if b.Delete(ctx, key) {
			removed = true
		}
	}
	return removed
}
