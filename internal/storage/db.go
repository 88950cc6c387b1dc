// Package storage provides the default, swappable SQLite-backed persistence
// adapters named in spec.md section 6: DocStore, and the crash-recovery
// snapshot tables for AgentState/CycleRecord/PoolProfile/Pattern. Production
// deployments may inject any other DocStore/VectorIndex implementation; this
// package exists so the system is runnable end-to-end without one.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/rs/zerolog"

	"github.com/sonu96/project-athena-sub001/pkg/logger"
)

// DB wraps a single SQLite connection configured the way the teacher's
// internal/database package configures its "standard" profile: WAL mode,
// NORMAL synchronous, a 64MB page cache, one checkpoint every 1000 pages.
type DB struct {
	conn *sql.DB
	log  zerolog.Logger
}

// Open creates (or reuses) the SQLite file at path and applies the schema.
func Open(path string, log zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("storage.Open: mkdir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", connectionString(path))
	if err != nil {
		return nil, fmt.Errorf("storage.Open: %w", err)
	}
	conn.SetMaxOpenConns(1) // modernc.org/sqlite: one writer, avoid SQLITE_BUSY under WAL
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("storage.Open: ping: %w", err)
	}

	db := &DB{conn: conn, log: logger.Scoped(log, "storage")}
	if err := db.migrate(ctx); err != nil {
		return nil, fmt.Errorf("storage.Open: migrate: %w", err)
	}
	return db, nil
}

// connectionString mirrors the teacher's "standard" profile PRAGMA set
// (internal/database/db.go buildConnectionString), balanced for a
// single-writer, long-running process.
func connectionString(path string) string {
	connStr := path + "?_pragma=journal_mode(WAL)"
	connStr += "&_pragma=synchronous(NORMAL)"
	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=wal_autocheckpoint(1000)"
	connStr += "&_pragma=cache_size(-64000)"
	connStr += "&_pragma=busy_timeout(5000)"
	return connStr
}

func (db *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			category TEXT NOT NULL,
			pool TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL,
			timestamp_unix INTEGER NOT NULL,
			data BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_pool ON memories(pool)`,
		`CREATE TABLE IF NOT EXISTS vector_entries (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_state (
			id TEXT PRIMARY KEY CHECK (id = 'current'),
			data BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cycles (
			cycle_number INTEGER PRIMARY KEY,
			data BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pool_profiles (
			pool_id TEXT PRIMARY KEY,
			data BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS patterns (
			id TEXT PRIMARY KEY,
			data BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			data BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
