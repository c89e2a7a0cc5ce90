package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var sqliteDialect = dialect{
	name: "sqlite",
	createTable: `
		CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at
		ON cache_entries(expires_at);
	`,
	upsert: `
		INSERT INTO cache_entries (key, value, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key)
		DO UPDATE SET value = excluded.value, created_at = excluded.created_at, expires_at = excluded.expires_at
	`,
	selectOne: `SELECT value, expires_at FROM cache_entries WHERE key = ?`,
	deleteLive: `
		DELETE FROM cache_entries
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
	`,
	deleteDead: `
		DELETE FROM cache_entries
		WHERE key = ? AND expires_at IS NOT NULL AND expires_at <= ?
	`,
	selectLive: `
		SELECT key FROM cache_entries
		WHERE expires_at IS NULL OR expires_at > ?
		ORDER BY key
	`,
	purge: `DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
	bind: func(int) string { return "?" },
}

// NewSQLiteBackend opens the SQLite database at dbPath and creates the entry
// table if needed.
func NewSQLiteBackend(dbPath string, opts ...SQLOption) (*SQLBackend, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	b, err := newSQLBackend(db, sqliteDialect, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}
