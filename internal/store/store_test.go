package store

import (
	"database/sql"
	"errors"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	version, err := db.GetVersion()
	if err != nil {
		t.Fatalf("failed to read version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema version %d, got %d", len(migrations), version)
	}
}

func TestRunMigrationsCreatesExpectedTables(t *testing.T) {
	db := openTestDB(t)
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	tables := []string{"api_keys", "rate_limit_windows", "usage_logs", "monthly_usage", "template_catalog"}
	for _, table := range tables {
		var name string
		err := db.Conn().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("expected table %q to exist: %v", table, err)
		}
	}
}

func TestExecTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	boom := errors.New("boom")
	failErr := db.ExecTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO api_keys (id, prefix, hash, tier, rate_limit_per_minute, monthly_quota, created_at) VALUES ('x','prefix','hash','standard',1,1,datetime('now'))`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(failErr, boom) {
		t.Fatalf("expected wrapped boom error, got %v", failErr)
	}

	var count int
	if err := db.Conn().QueryRow(`SELECT COUNT(*) FROM api_keys WHERE id = 'x'`).Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 0 {
		t.Fatal("expected insert to be rolled back")
	}
}

func TestRetryRunsSecondAttemptAfterFailure(t *testing.T) {
	attempts := 0
	err := Retry(func() error {
		attempts++
		if attempts == 1 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestRetryReturnsSecondFailure(t *testing.T) {
	boom := errors.New("still broken")
	attempts := 0
	err := Retry(func() error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom error, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}
