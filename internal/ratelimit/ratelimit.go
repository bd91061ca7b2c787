// Package ratelimit implements sliding-window-by-minute admission control:
// a two-window interpolated rate computed from the current and previous
// one-minute buckets.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Decision is the result of a CheckAndConsume call.
type Decision struct {
	Allowed           bool
	Limit             int
	Remaining         int
	ResetSeconds      int // seconds until the current window rolls over
	RetryAfterSeconds int // only meaningful when !Allowed
}

// Limiter is implemented by both the SQL-backed and in-memory backends: a
// shared atomic store is required for multi-replica deployments, a
// per-process store is acceptable otherwise.
type Limiter interface {
	CheckAndConsume(ctx context.Context, principalID string, limitPerMinute int) (Decision, error)
}

// effectiveRate computes the interpolated sliding-window rate:
//
//	effective = cur_count + prev_count * (1 - (now - cur_start) / 60s)
func effectiveRate(curCount, prevCount int64, now, curStart time.Time) float64 {
	elapsed := now.Sub(curStart).Seconds()
	weight := 1 - elapsed/60
	if weight < 0 {
		weight = 0
	}
	return float64(curCount) + float64(prevCount)*weight
}

func windowBounds(now time.Time) (curStart, prevStart time.Time) {
	curStart = now.Truncate(time.Minute)
	prevStart = curStart.Add(-time.Minute)
	return
}

func ceilRemaining(limit int, effective float64) int {
	remaining := float64(limit) - effective - 1
	if remaining < 0 {
		return 0
	}
	return int(math.Ceil(remaining))
}
