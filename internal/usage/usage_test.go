package usage

import (
	"context"
	"testing"

	"github.com/printforge/mockupcore/internal/creds"
	"github.com/printforge/mockupcore/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
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

func seedPrincipal(t *testing.T, db *store.DB, id string, quota int) {
	t.Helper()
	credStore := creds.NewStore(db)
	if err := credStore.Create(context.Background(), id, "rim_abcdefghijklmnopqrstuvwxyz01", "standard", 60, quota, nil); err != nil {
		t.Fatalf("failed to seed principal: %v", err)
	}
}

func TestRecordAccumulatesMonthlyTotals(t *testing.T) {
	db := openTestDB(t)
	seedPrincipal(t, db, "p1", 100)
	r := NewRecorder(db)
	ctx := context.Background()

	r.Record(ctx, LogEntry{PrincipalID: "p1", Endpoint: "render", StatusCode: 200, LatencyMs: 10})
	r.Record(ctx, LogEntry{PrincipalID: "p1", Endpoint: "render", StatusCode: 500, LatencyMs: 5})
	r.Record(ctx, LogEntry{PrincipalID: "p1", Endpoint: "render", StatusCode: 200, LatencyMs: 8})

	summary, err := r.CurrentMonth(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Total != 3 || summary.Success != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected totals: %+v", summary)
	}
	if summary.Billable != 3 || summary.Overage != 0 {
		t.Fatalf("expected no overage under quota, got %+v", summary)
	}
}

func TestRecordAppliesOverageAboveQuota(t *testing.T) {
	db := openTestDB(t)
	seedPrincipal(t, db, "p1", 2)
	r := NewRecorder(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r.Record(ctx, LogEntry{PrincipalID: "p1", Endpoint: "render", StatusCode: 200, LatencyMs: 1})
	}

	summary, err := r.CurrentMonth(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Total != 5 {
		t.Fatalf("expected total 5, got %d", summary.Total)
	}
	if summary.Billable != 2 {
		t.Fatalf("expected billable capped at quota 2, got %d", summary.Billable)
	}
	if summary.Overage != 3 {
		t.Fatalf("expected overage of 3, got %d", summary.Overage)
	}
}

func TestCurrentMonthReturnsZeroSummaryWhenUnrecorded(t *testing.T) {
	db := openTestDB(t)
	r := NewRecorder(db)
	summary, err := r.CurrentMonth(context.Background(), "unknown-principal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Total != 0 || summary.Billable != 0 {
		t.Fatalf("expected zeroed summary, got %+v", summary)
	}
}
