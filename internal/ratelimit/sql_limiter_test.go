package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/printforge/mockupcore/internal/store"
)

func openLimiterTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

func TestSQLLimiterAllowsUnderLimit(t *testing.T) {
	l := NewSQLLimiter(openLimiterTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.CheckAndConsume(ctx, "p1", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed under limit", i)
		}
	}
}

func TestSQLLimiterBlocksOverLimit(t *testing.T) {
	l := NewSQLLimiter(openLimiterTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.CheckAndConsume(ctx, "p1", 3); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	d, err := l.CheckAndConsume(ctx, "p1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected 4th request to be blocked at limit 3")
	}
}

func TestSQLLimiterSweepDeletesOldWindows(t *testing.T) {
	db := openLimiterTestDB(t)
	l := NewSQLLimiter(db)
	ctx := context.Background()

	old := time.Now().UTC().Add(-5 * time.Minute).Truncate(time.Minute)
	if _, err := db.Conn().ExecContext(ctx, `INSERT INTO rate_limit_windows (principal_id, window_start, request_count) VALUES (?, ?, ?)`, "p1", old, 9); err != nil {
		t.Fatalf("failed to seed stale window: %v", err)
	}

	if err := l.Sweep(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	if err := db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM rate_limit_windows WHERE principal_id = 'p1'`).Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 0 {
		t.Fatal("expected stale window to be swept")
	}
}
