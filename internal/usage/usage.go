// Package usage implements the per-request log append and monthly
// aggregate upsert, both best-effort and both atomic.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/printforge/mockupcore/internal/logging"
	"github.com/printforge/mockupcore/internal/store"
)

// LogEntry mirrors one row written to usage_logs.
type LogEntry struct {
	PrincipalID string
	Endpoint    string
	TemplateID  string
	StatusCode  int
	LatencyMs   int
	ErrorCode   string
	IP          string
	UserAgent   string
}

// Recorder performs two best-effort writes per request, grounded on
// internal/database/errors.go's insert shape and packs.go's aggregate
// pattern.
type Recorder struct {
	db     *store.DB
	logger *logging.Logger
}

func NewRecorder(db *store.DB) *Recorder {
	return &Recorder{db: db, logger: logging.NewLogger("usage.Recorder")}
}

// Record appends the usage log row and updates the monthly aggregate.
// Failures are logged, never returned — a usage-recording failure must
// never fail the user's request.
func (r *Recorder) Record(ctx context.Context, e LogEntry) {
	if err := r.appendLog(ctx, e); err != nil {
		r.logger.ErrorWithContext("failed to append usage log", err, map[string]interface{}{
			"principal_id": e.PrincipalID, "endpoint": e.Endpoint,
		})
	}

	success := e.StatusCode >= 200 && e.StatusCode < 300
	month := time.Now().UTC().Format("2006-01")
	if err := r.upsertMonthly(ctx, e.PrincipalID, month, success); err != nil {
		r.logger.ErrorWithContext("failed to update monthly usage", err, map[string]interface{}{
			"principal_id": e.PrincipalID, "month": month,
		})
	}
}

func (r *Recorder) appendLog(ctx context.Context, e LogEntry) error {
	return store.Retry(func() error {
		_, err := r.db.Conn().ExecContext(ctx, `
			INSERT INTO usage_logs (principal_id, endpoint, template_id, status_code, latency_ms, error_code, ip, user_agent, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.PrincipalID, e.Endpoint, nullIfEmpty(e.TemplateID), e.StatusCode, e.LatencyMs, nullIfEmpty(e.ErrorCode), e.IP, e.UserAgent, time.Now())
		return err
	})
}

// upsertMonthly applies the monthly aggregate invariants:
//
//	billable = min(total, quota); overage = max(0, total-quota); total = success+failed
//
// atomically, inside one transaction via DB.ExecTx, itself wrapped in
// store.Retry since the write is an infra-kind operation.
func (r *Recorder) upsertMonthly(ctx context.Context, principalID, month string, success bool) error {
	return store.Retry(func() error {
		return r.db.ExecTx(func(tx *sql.Tx) error {
			var total, succ, failed, quota int64
			err := tx.QueryRow(`
				SELECT total, success, failed, quota FROM monthly_usage WHERE principal_id = ? AND month = ?
			`, principalID, month).Scan(&total, &succ, &failed, &quota)
			if err == sql.ErrNoRows {
				quota, err = r.lookupQuota(tx, principalID)
				if err != nil {
					return err
				}
			} else if err != nil {
				return fmt.Errorf("read monthly usage: %w", err)
			}

			if success {
				succ++
			} else {
				failed++
			}
			total = succ + failed
			billable := total
			if billable > quota {
				billable = quota
			}
			overage := total - quota
			if overage < 0 {
				overage = 0
			}

			_, err = tx.Exec(`
				INSERT INTO monthly_usage (principal_id, month, total, success, failed, billable, overage, quota)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(principal_id, month) DO UPDATE SET
					total = excluded.total, success = excluded.success, failed = excluded.failed,
					billable = excluded.billable, overage = excluded.overage, quota = excluded.quota
			`, principalID, month, total, succ, failed, billable, overage, quota)
			if err != nil {
				return fmt.Errorf("upsert monthly usage: %w", err)
			}
			return nil
		})
	})
}

func (r *Recorder) lookupQuota(tx *sql.Tx, principalID string) (int64, error) {
	var quota int64
	err := tx.QueryRow(`SELECT monthly_quota FROM api_keys WHERE id = ?`, principalID).Scan(&quota)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return quota, err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Summary mirrors the MonthlyUsage projection returned by GET /api/v1/usage.
type Summary struct {
	Month    string
	Total    int64
	Success  int64
	Failed   int64
	Billable int64
	Overage  int64
	Quota    int64
}

// CurrentMonth fetches the caller's usage row for the current month,
// returning a zeroed Summary if no requests have been recorded yet.
func (r *Recorder) CurrentMonth(ctx context.Context, principalID string) (Summary, error) {
	month := time.Now().UTC().Format("2006-01")
	var s Summary
	s.Month = month
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT total, success, failed, billable, overage, quota FROM monthly_usage WHERE principal_id = ? AND month = ?
	`, principalID, month).Scan(&s.Total, &s.Success, &s.Failed, &s.Billable, &s.Overage, &s.Quota)
	if err == sql.ErrNoRows {
		return s, nil
	}
	return s, err
}
