package tiercache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

type memoizeConfig struct {
	ttl      time.Duration
	hasTTL   bool
	keyFunc  func(args ...any) string
	level    CacheLevel
	hasLevel bool
}

// MemoizeOption configures Memoize.
type MemoizeOption func(*memoizeConfig)

// MemoizeTTL sets the TTL of memoized results. Defaults to the Coordinator's default TTL.
func MemoizeTTL(ttl time.Duration) MemoizeOption {
	return func(c *memoizeConfig) {
		c.ttl = ttl
		c.hasTTL = true
	}
}

// MemoizeKeyFunc replaces the structural fingerprint with a caller supplied key.
func MemoizeKeyFunc(fn func(args ...any) string) MemoizeOption {
	return func(c *memoizeConfig) {
		c.keyFunc = fn
	}
}

// MemoizeLevel restricts memoized reads and writes to one tier.
func MemoizeLevel(level CacheLevel) MemoizeOption {
	return func(c *memoizeConfig) {
		c.level = level
		c.hasLevel = true
	}
}

// Memoize wraps fn so that results are cached in c under a key derived from
// name and the call arguments. Errors are returned as is and never cached.
// Concurrent calls with the same key share a single execution of fn, which runs
// with the first caller's context values but without its cancellation.
//
// Values read back from a serializing tier (disk, remote) are decoded into T
// through JSON when they are not already of type T.
func Memoize[T any](c *Coordinator, name string, fn func(ctx context.Context, args ...any) (T, error), opts ...MemoizeOption) func(ctx context.Context, args ...any) (T, error) {
	cfg := &memoizeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var callOpts []CallOption
	if cfg.hasLevel {
		callOpts = append(callOpts, AtLevel(cfg.level))
	}
	if cfg.hasTTL {
		callOpts = append(callOpts, WithTTL(cfg.ttl))
	}

	var group singleflight.Group

	return func(ctx context.Context, args ...any) (T, error) {
		key, err := memoKey(name, cfg.keyFunc, args)
		if err != nil {
			c.config.logger.Warn("Memoize key derivation failed, calling through", "name", name, "error", err)
			return fn(ctx, args...)
		}

		if cached, ok := c.Get(ctx, key, callOpts...); ok {
			value, err := convertCached[T](cached)
			if err == nil {
				return value, nil
			}
			c.config.logger.Warn("Discarding undecodable memoized value", "key", key, "error", err)
		}

		// fn is detached from the cancellation of the caller that starts it.
		shared := context.WithoutCancel(ctx)
		v, err, _ := group.Do(key, func() (any, error) {
			result, err := fn(shared, args...)
			if err != nil {
				return result, err
			}
			c.Set(shared, key, result, callOpts...)
			return result, nil
		})
		result, _ := v.(T)
		return result, err
	}
}

func memoKey(name string, keyFunc func(args ...any) string, args []any) (string, error) {
	if keyFunc != nil {
		key := keyFunc(args...)
		if err := ValidateKey(key); err != nil {
			return "", err
		}
		return key, nil
	}
	return Fingerprint(name, args...)
}

// convertCached returns v as T, going through JSON for values a serializing
// tier decoded into maps, slices or json.Number.
func convertCached[T any](v any) (T, error) {
	if value, ok := v.(T); ok {
		return value, nil
	}
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return out, nil
}
