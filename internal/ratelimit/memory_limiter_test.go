package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterAllowsUnderLimit(t *testing.T) {
	l := NewMemoryLimiter()
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

func TestMemoryLimiterBlocksOverLimit(t *testing.T) {
	l := NewMemoryLimiter()
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
	if d.RetryAfterSeconds <= 0 {
		t.Fatalf("expected positive retry-after, got %d", d.RetryAfterSeconds)
	}
}

func TestMemoryLimiterPrincipalsAreIndependent(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.CheckAndConsume(ctx, "p1", 3); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	d, err := l.CheckAndConsume(ctx, "p2", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("a different principal should not share p1's exhausted window")
	}
}

func TestMemoryLimiterSweepRemovesOldWindows(t *testing.T) {
	l := NewMemoryLimiter()
	old := time.Now().UTC().Add(-5 * time.Minute).Truncate(time.Minute)
	l.windows["p1"] = map[time.Time]int64{old: 4}

	if err := l.Sweep(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := l.windows["p1"]; ok {
		t.Fatal("expected stale principal bucket to be removed by sweep")
	}
}

func TestEffectiveRateInterpolatesAcrossWindowBoundary(t *testing.T) {
	curStart := time.Now().UTC().Truncate(time.Minute)
	atStart := effectiveRate(0, 10, curStart, curStart)
	if atStart != 10 {
		t.Fatalf("expected full weight at window start, got %v", atStart)
	}
	atEnd := effectiveRate(0, 10, curStart.Add(70*time.Second), curStart)
	if atEnd != 0 {
		t.Fatalf("expected zero weight once previous window fully expires, got %v", atEnd)
	}
}
