// Package store owns the shared SQLite handle used by the memory and usage
// subsystems. One database file, one connection pool, schema applied on open.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// TimeLayout is the fixed-width UTC timestamp format used by every table.
// Fixed width matters: the schema compares and orders timestamps as strings,
// and variable-width fractions (RFC3339Nano trims trailing zeros) would make
// lexicographic order disagree with time order.
const TimeLayout = "2006-01-02 15:04:05.000000000"

// FormatTime renders t for storage. The zero time becomes the empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// ParseTime is the inverse of FormatTime; unparseable input yields the zero
// time.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	channel_id TEXT NOT NULL DEFAULT '',
	message_id TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT 'fact',
	label TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '',
	importance INTEGER NOT NULL DEFAULT 0,
	embedding BLOB,
	embedding_model TEXT NOT NULL DEFAULT '',
	embedding_updated_at TEXT NOT NULL DEFAULT '',
	expires_at TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_tenant ON memories(tenant_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_memories_tenant_user ON memories(tenant_id, user_id);

CREATE TABLE IF NOT EXISTS usage_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	task_type TEXT NOT NULL DEFAULT '',
	tokens_input INTEGER NOT NULL DEFAULT 0,
	tokens_output INTEGER NOT NULL DEFAULT 0,
	tokens_total INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_log(created_at);
CREATE INDEX IF NOT EXISTS idx_usage_provider ON usage_log(provider, created_at);
`

// DB wraps the shared database handle.
type DB struct {
	sql *sql.DB
}

// Open creates the parent directory if needed, opens the database, applies
// pragmas and the schema. The schema is idempotent so Open is safe on every
// start.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{sql: db}, nil
}

// SQL exposes the underlying handle to the subsystems sharing this store.
func (d *DB) SQL() *sql.DB { return d.sql }

// Tenants returns the distinct tenant ids present in the memories table.
func (d *DB) Tenants() ([]string, error) {
	rows, err := d.sql.Query(`SELECT DISTINCT tenant_id FROM memories ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

// Close closes the database.
func (d *DB) Close() error { return d.sql.Close() }
