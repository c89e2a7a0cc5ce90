// Package storage provides a SQL-backed persisted cache tier. One table holds
// every entry; expiry is enforced when entries are read.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/CreativeUnicorns/tiercache"
)

// maxBatchParams bounds the number of keys bound in one IN (...) clause.
const maxBatchParams = 500

var _ tiercache.Backend = (*SQLBackend)(nil)

// dialect holds the statements that differ between database engines.
// Positional parameters are written with bind.
type dialect struct {
	name        string
	createTable string
	upsert      string // key, value, created_at, expires_at
	selectOne   string // key
	deleteLive  string // key, now
	deleteDead  string // key, now
	selectLive  string // now
	purge       string // now
	bind        func(i int) string
}

// list returns n comma separated parameters starting at position start.
func (d dialect) list(start, n int) string {
	params := make([]string, n)
	for i := range params {
		params[i] = d.bind(start + i)
	}
	return strings.Join(params, ", ")
}

// SQLBackend stores entries in a SQL table. Batch operations run as single
// statements or inside one transaction.
type SQLBackend struct {
	db      *sql.DB
	dialect dialect
	maxSize int
	logger  tiercache.Logger
	now     func() time.Time

	closeOnce sync.Once
	closeErr  error
}

type sqlConfig struct {
	logger  tiercache.Logger
	now     func() time.Time
	maxSize int
}

// SQLOption configures a SQLBackend.
type SQLOption func(*sqlConfig)

// WithSQLLogger sets the logger used by the backend.
func WithSQLLogger(l tiercache.Logger) SQLOption {
	return func(c *sqlConfig) {
		c.logger = l
	}
}

// WithSQLClock replaces time.Now, mainly for tests.
func WithSQLClock(now func() time.Time) SQLOption {
	return func(c *sqlConfig) {
		c.now = now
	}
}

// WithSQLMaxSize records a nominal capacity reported in stats. Rows are never evicted.
func WithSQLMaxSize(n int) SQLOption {
	return func(c *sqlConfig) {
		c.maxSize = n
	}
}

func newSQLBackend(db *sql.DB, d dialect, opts ...SQLOption) (*SQLBackend, error) {
	cfg := &sqlConfig{
		logger: tiercache.NewDefaultLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	b := &SQLBackend{
		db:      db,
		dialect: d,
		maxSize: cfg.maxSize,
		logger:  cfg.logger,
		now:     cfg.now,
	}
	if err := b.migrate(); err != nil {
		return nil, fmt.Errorf("%s: failed to run migrations: %w", d.name, err)
	}
	return b, nil
}

// migrate creates the entry table if it does not exist.
func (b *SQLBackend) migrate() error {
	_, err := b.db.Exec(b.dialect.createTable)
	return err
}

func (b *SQLBackend) nowNanos() int64 {
	return b.now().UnixNano()
}

func expiresAt(now time.Time, ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: now.Add(ttl).UnixNano(), Valid: true}
}

func live(exp sql.NullInt64, now int64) bool {
	return !exp.Valid || exp.Int64 > now
}

func encode(value any) (string, error) {
	data, err := tiercache.EncodeValue(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decode(data string) (any, error) {
	return tiercache.DecodeValue([]byte(data))
}

// removeExpired deletes key only if its row is still expired, so a concurrent
// overwrite with a fresh expiry survives.
func (b *SQLBackend) removeExpired(ctx context.Context, key string) {
	if _, err := b.db.ExecContext(ctx, b.dialect.deleteDead, key, b.nowNanos()); err != nil {
		b.logger.Error("Failed to remove expired cache row", "key", key, "error", err)
	}
}

// lookup returns the stored payload for key if it is live.
func (b *SQLBackend) lookup(ctx context.Context, key string) (string, bool) {
	var value string
	var exp sql.NullInt64

	err := b.db.QueryRowContext(ctx, b.dialect.selectOne, key).Scan(&value, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		b.logger.Error("Failed to get cache row", "key", key, "error", err)
		return "", false
	}
	if !live(exp, b.nowNanos()) {
		b.removeExpired(ctx, key)
		return "", false
	}
	return value, true
}

// Get returns the decoded value for key.
func (b *SQLBackend) Get(ctx context.Context, key string) (any, bool) {
	data, ok := b.lookup(ctx, key)
	if !ok {
		return nil, false
	}
	value, err := decode(data)
	if err != nil {
		b.logger.Warn("Failed to decode cache row", "key", key, "error", err)
		return nil, false
	}
	return value, true
}

// Set upserts the row for key.
func (b *SQLBackend) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := encode(value)
	if err != nil {
		b.logger.Error("Failed to encode cache value", "key", key, "error", err)
		return false
	}

	now := b.now()
	if _, err := b.db.ExecContext(ctx, b.dialect.upsert, key, data, now.UnixNano(), expiresAt(now, ttl)); err != nil {
		b.logger.Error("Failed to set cache row", "key", key, "error", err)
		return false
	}
	return true
}

// Delete removes key and reports whether a live row existed.
func (b *SQLBackend) Delete(ctx context.Context, key string) bool {
	res, err := b.db.ExecContext(ctx, b.dialect.deleteLive, key, b.nowNanos())
	if err != nil {
		b.logger.Error("Failed to delete cache row", "key", key, "error", err)
		return false
	}
	n, err := res.RowsAffected()
	if err != nil {
		b.logger.Error("Failed to get affected rows", "key", key, "error", err)
		return false
	}
	if n == 0 {
		b.removeExpired(ctx, key)
	}
	return n > 0
}

// Exists reports whether a live row exists for key.
func (b *SQLBackend) Exists(ctx context.Context, key string) bool {
	_, ok := b.lookup(ctx, key)
	return ok
}

// Clear deletes every row.
func (b *SQLBackend) Clear(ctx context.Context) bool {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM cache_entries"); err != nil {
		b.logger.Error("Failed to clear cache table", "error", err)
		return false
	}
	return true
}

// Keys returns the sorted live keys matching pattern.
func (b *SQLBackend) Keys(ctx context.Context, pattern string) []string {
	match, err := tiercache.CompilePattern(pattern)
	if err != nil {
		b.logger.Warn("Invalid key pattern", "pattern", pattern, "error", err)
		return nil
	}

	rows, err := b.db.QueryContext(ctx, b.dialect.selectLive, b.nowNanos())
	if err != nil {
		b.logger.Error("Failed to list cache keys", "error", err)
		return nil
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			b.logger.Error("Failed to close rows", "error", cerr)
		}
	}()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			b.logger.Error("Failed to scan cache key", "error", err)
			return nil
		}
		if match(key) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		b.logger.Error("Error iterating cache keys", "error", err)
		return nil
	}
	return keys
}

func chunks(keys []string) [][]string {
	var out [][]string
	for start := 0; start < len(keys); start += maxBatchParams {
		out = append(out, keys[start:min(start+maxBatchParams, len(keys))])
	}
	return out
}

func args(keys []string, leading ...any) []any {
	out := make([]any, 0, len(leading)+len(keys))
	out = append(out, leading...)
	for _, k := range keys {
		out = append(out, k)
	}
	return out
}

// BatchGet fetches keys with one SELECT ... IN per chunk of keys.
func (b *SQLBackend) BatchGet(ctx context.Context, keys []string) map[string]any {
	result := make(map[string]any, len(keys))
	var expired []string

	for _, chunk := range chunks(keys) {
		query := fmt.Sprintf("SELECT key, value, expires_at FROM cache_entries WHERE key IN (%s)", b.dialect.list(1, len(chunk)))
		found, dead, err := b.queryEntries(ctx, query, args(chunk)...)
		if err != nil {
			b.logger.Error("Failed to batch get cache rows", "keys", len(chunk), "error", err)
			continue
		}
		for key, data := range found {
			value, err := decode(data)
			if err != nil {
				b.logger.Warn("Failed to decode cache row", "key", key, "error", err)
				continue
			}
			result[key] = value
		}
		expired = append(expired, dead...)
	}

	for _, key := range expired {
		b.removeExpired(ctx, key)
	}
	return result
}

// queryEntries runs a key/value/expires_at query and splits rows into live
// payloads and expired keys.
func (b *SQLBackend) queryEntries(ctx context.Context, query string, params ...any) (map[string]string, []string, error) {
	rows, err := b.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			b.logger.Error("Failed to close rows", "error", cerr)
		}
	}()

	now := b.nowNanos()
	found := make(map[string]string)
	var expired []string
	for rows.Next() {
		var key, value string
		var exp sql.NullInt64
		if err := rows.Scan(&key, &value, &exp); err != nil {
			return nil, nil, fmt.Errorf("failed to scan cache row: %w", err)
		}
		if live(exp, now) {
			found[key] = value
		} else {
			expired = append(expired, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return found, expired, nil
}

// BatchSet upserts all items in one transaction. Items that cannot be encoded
// are skipped and make the result false; a failed statement rolls back the batch.
func (b *SQLBackend) BatchSet(ctx context.Context, items map[string]any, ttl time.Duration) bool {
	if len(items) == 0 {
		return true
	}

	ok := true
	encoded := make(map[string]string, len(items))
	for key, value := range items {
		data, err := encode(value)
		if err != nil {
			b.logger.Error("Failed to encode cache value", "key", key, "error", err)
			ok = false
			continue
		}
		encoded[key] = data
	}

	now := b.now()
	exp := expiresAt(now, ttl)
	err := b.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, b.dialect.upsert)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for key, data := range encoded {
			if _, err := stmt.ExecContext(ctx, key, data, now.UnixNano(), exp); err != nil {
				return fmt.Errorf("failed to set %q: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		b.logger.Error("Failed to batch set cache rows", "keys", len(encoded), "error", err)
		return false
	}
	return ok
}

// BatchDelete removes keys in one transaction and reports whether any live row existed.
func (b *SQLBackend) BatchDelete(ctx context.Context, keys []string) bool {
	if len(keys) == 0 {
		return false
	}

	var removed int64
	err := b.inTx(ctx, func(tx *sql.Tx) error {
		now := b.nowNanos()
		for _, chunk := range chunks(keys) {
			query := fmt.Sprintf("DELETE FROM cache_entries WHERE (expires_at IS NULL OR expires_at > %s) AND key IN (%s)",
				b.dialect.bind(1), b.dialect.list(2, len(chunk)))
			res, err := tx.ExecContext(ctx, query, args(chunk, now)...)
			if err != nil {
				return fmt.Errorf("failed to delete live rows: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get affected rows: %w", err)
			}
			removed += n

			query = fmt.Sprintf("DELETE FROM cache_entries WHERE key IN (%s)", b.dialect.list(1, len(chunk)))
			if _, err := tx.ExecContext(ctx, query, args(chunk)...); err != nil {
				return fmt.Errorf("failed to delete expired rows: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		b.logger.Error("Failed to batch delete cache rows", "keys", len(keys), "error", err)
		return false
	}
	return removed > 0
}

func (b *SQLBackend) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			b.logger.Error("Failed to roll back transaction", "error", rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PurgeExpired deletes every expired row and returns how many were removed.
func (b *SQLBackend) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := b.db.ExecContext(ctx, b.dialect.purge, b.nowNanos())
	if err != nil {
		return 0, fmt.Errorf("%s: failed to purge expired rows: %w", b.dialect.name, err)
	}
	return res.RowsAffected()
}

// Capabilities declares native batching.
func (b *SQLBackend) Capabilities() tiercache.Capabilities {
	return tiercache.Capabilities{NativeBatch: true, MaxSize: b.maxSize}
}

func (b *SQLBackend) usage(ctx context.Context) (entries, size int64, err error) {
	err = b.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(LENGTH(value)), 0) FROM cache_entries").Scan(&entries, &size)
	return entries, size, err
}

// HealthCheck pings the database and counts the stored rows.
func (b *SQLBackend) HealthCheck(ctx context.Context) tiercache.HealthReport {
	report := tiercache.HealthReport{LastCheck: b.now()}

	if err := b.db.PingContext(ctx); err != nil {
		report.Status = tiercache.StatusUnhealthy
		report.Error = err.Error()
		return report
	}
	entries, _, err := b.usage(ctx)
	if err != nil {
		report.Status = tiercache.StatusUnhealthy
		report.Error = err.Error()
		return report
	}

	stats := b.db.Stats()
	report.Status = tiercache.StatusHealthy
	report.Details = map[string]any{
		"driver":           b.dialect.name,
		"entries":          entries,
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
	}
	return report
}

// MemoryUsage reports the row count and payload bytes.
func (b *SQLBackend) MemoryUsage(ctx context.Context) tiercache.UsageReport {
	entries, size, err := b.usage(ctx)
	if err != nil {
		b.logger.Error("Failed to compute table usage", "error", err)
		return tiercache.UsageReport{}
	}
	return tiercache.UsageReport{
		"entries":     entries,
		"max_size":    b.maxSize,
		"bytes":       size,
		"bytes_human": humanize.Bytes(uint64(size)),
		"driver":      b.dialect.name,
	}
}

// Close closes the database connection.
func (b *SQLBackend) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.db.Close()
	})
	return b.closeErr
}
