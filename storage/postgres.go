package storage

import (
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// sqlOpenFunc is a package-level variable that can be overridden for testing.
var sqlOpenFunc = sql.Open

var postgresDialect = dialect{
	name: "postgres",
	createTable: `
		CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			expires_at BIGINT
		);

		CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at
		ON cache_entries(expires_at);
	`,
	upsert: `
		INSERT INTO cache_entries (key, value, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key)
		DO UPDATE SET value = $2, created_at = $3, expires_at = $4
	`,
	selectOne: `SELECT value, expires_at FROM cache_entries WHERE key = $1`,
	deleteLive: `
		DELETE FROM cache_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
	`,
	deleteDead: `
		DELETE FROM cache_entries
		WHERE key = $1 AND expires_at IS NOT NULL AND expires_at <= $2
	`,
	selectLive: `
		SELECT key FROM cache_entries
		WHERE expires_at IS NULL OR expires_at > $1
		ORDER BY key
	`,
	purge: `DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`,
	bind:  func(i int) string { return "$" + strconv.Itoa(i) },
}

// NewPostgresBackend connects to PostgreSQL using connString and creates the
// entry table if needed.
func NewPostgresBackend(connString string, opts ...SQLOption) (*SQLBackend, error) {
	db, err := sqlOpenFunc("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	b, err := newSQLBackend(db, postgresDialect, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}
