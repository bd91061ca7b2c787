// Package store wraps the relational store (SQLite via database/sql) that
// backs credentials, rate-limit windows, and usage accounting.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQL connection, adapted directly from
// internal/database/database.go.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database at dbPath and configures the
// connection pool. SQLite is single-writer, so MaxOpenConns stays at 1
// regardless of the caller's concurrency — matching database.Open
// exactly; a non-sqlite relational backend in a real deployment would
// widen this.
func Open(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying *sql.DB for callers that need raw access.
func (db *DB) Conn() *sql.DB { return db.conn }

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// ExecTx runs fn inside a transaction, rolling back on error and committing
// otherwise — adapted verbatim from database.DB.ExecTx.
func (db *DB) ExecTx(fn func(*sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Retry runs fn once, and on failure retries exactly once after a 100ms
// backoff, covering transient database failures. Callers wrap every
// infra-kind write with this; errors should always be %w-wrapped so this
// kind of higher-level retry logic can inspect them.
func Retry(fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	time.Sleep(100 * time.Millisecond)
	return fn()
}

// GetVersion returns the current schema version, or 0 if unmigrated.
func (db *DB) GetVersion() (int, error) {
	var version int
	err := db.conn.QueryRow("SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}
