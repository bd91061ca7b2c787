package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration mirrors internal/database/migrations.go's shape: an ordered,
// versioned list of forward-only schema changes.
type Migration struct {
	Version     int
	Description string
	Up          func(*sql.Tx) error
}

var migrations = []Migration{
	{1, "create schema_version", migration001Up},
	{2, "create api_keys", migration002Up},
	{3, "create rate_limit_windows", migration003Up},
	{4, "create usage_logs", migration004Up},
	{5, "create monthly_usage", migration005Up},
	{6, "create template_catalog", migration006Up},
}

// RunMigrations applies every migration newer than the current schema
// version, each inside its own transaction.
func (db *DB) RunMigrations() error {
	if _, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return fmt.Errorf("bootstrap schema_version: %w", err)
	}

	current, err := db.GetVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := db.ExecTx(func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
			_, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`, m.Version, time.Now())
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func migration001Up(tx *sql.Tx) error {
	return nil // schema_version itself is bootstrapped before migrations run
}

func migration002Up(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE TABLE api_keys (
		id TEXT PRIMARY KEY,
		prefix TEXT NOT NULL,
		hash TEXT NOT NULL UNIQUE,
		tier TEXT NOT NULL,
		rate_limit_per_minute INTEGER NOT NULL,
		monthly_quota INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		expires_at TIMESTAMP,
		last_used_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`CREATE INDEX idx_api_keys_prefix ON api_keys (prefix)`)
	return err
}

func migration003Up(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE TABLE rate_limit_windows (
		principal_id TEXT NOT NULL,
		window_start TIMESTAMP NOT NULL,
		request_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (principal_id, window_start)
	)`)
	return err
}

func migration004Up(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE TABLE usage_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		principal_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		template_id TEXT,
		status_code INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		error_code TEXT,
		ip TEXT,
		user_agent TEXT,
		created_at TIMESTAMP NOT NULL
	)`)
	return err
}

func migration005Up(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE TABLE monthly_usage (
		principal_id TEXT NOT NULL,
		month TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		billable INTEGER NOT NULL DEFAULT 0,
		overage INTEGER NOT NULL DEFAULT 0,
		quota INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (principal_id, month)
	)`)
	return err
}

func migration006Up(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE TABLE template_catalog (
		id TEXT PRIMARY KEY,
		product_type TEXT,
		variant TEXT,
		color TEXT,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		print_x INTEGER NOT NULL,
		print_y INTEGER NOT NULL,
		print_width INTEGER NOT NULL,
		print_height INTEGER NOT NULL,
		base_image_path TEXT NOT NULL,
		displacement_map_path TEXT,
		mask_path TEXT,
		displacement_encoding TEXT NOT NULL DEFAULT 'luma',
		displacement_strength REAL NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1
	)`)
	return err
}
