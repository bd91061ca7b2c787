package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/printforge/mockupcore/internal/store"
)

// SQLLimiter persists windows to rate_limit_windows, giving linearizable
// admission decisions across multiple server replicas sharing one
// database. The read-then-branch-then-write transaction shape is adapted
// from internal/database/account_checkout.go's CheckoutAccount.
type SQLLimiter struct {
	db *store.DB
}

func NewSQLLimiter(db *store.DB) *SQLLimiter {
	return &SQLLimiter{db: db}
}

func (l *SQLLimiter) CheckAndConsume(ctx context.Context, principalID string, limitPerMinute int) (Decision, error) {
	now := time.Now().UTC()
	curStart, prevStart := windowBounds(now)

	var decision Decision
	err := store.Retry(func() error {
		return l.db.ExecTx(func(tx *sql.Tx) error {
			curCount, err := readCount(tx, principalID, curStart)
			if err != nil {
				return fmt.Errorf("read current window: %w", err)
			}
			prevCount, err := readCount(tx, principalID, prevStart)
			if err != nil {
				return fmt.Errorf("read previous window: %w", err)
			}

			effective := effectiveRate(curCount, prevCount, now, curStart)

			if effective >= float64(limitPerMinute) {
				resetAt := curStart.Add(time.Minute)
				decision = Decision{
					Allowed:           false,
					Limit:             limitPerMinute,
					Remaining:         0,
					ResetSeconds:      int(math.Ceil(resetAt.Sub(now).Seconds())),
					RetryAfterSeconds: int(math.Ceil(resetAt.Sub(now).Seconds())),
				}
				return nil
			}

			if _, err := tx.Exec(`
				INSERT INTO rate_limit_windows (principal_id, window_start, request_count)
				VALUES (?, ?, 1)
				ON CONFLICT(principal_id, window_start) DO UPDATE SET request_count = request_count + 1
			`, principalID, curStart); err != nil {
				return fmt.Errorf("increment window: %w", err)
			}

			resetAt := curStart.Add(time.Minute)
			decision = Decision{
				Allowed:      true,
				Limit:        limitPerMinute,
				Remaining:    ceilRemaining(limitPerMinute, effective),
				ResetSeconds: int(math.Ceil(resetAt.Sub(now).Seconds())),
			}
			return nil
		})
	})
	if err != nil {
		return Decision{}, err
	}
	return decision, nil
}

func readCount(tx *sql.Tx, principalID string, windowStart time.Time) (int64, error) {
	var count int64
	err := tx.QueryRow(`
		SELECT request_count FROM rate_limit_windows WHERE principal_id = ? AND window_start = ?
	`, principalID, windowStart).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

// Sweep deletes windows older than 2 minutes. Intended to run on a
// periodic ticker from the caller (see cmd/mockupd).
func (l *SQLLimiter) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-2 * time.Minute)
	return store.Retry(func() error {
		_, err := l.db.Conn().ExecContext(ctx, `DELETE FROM rate_limit_windows WHERE window_start < ?`, cutoff)
		return err
	})
}
