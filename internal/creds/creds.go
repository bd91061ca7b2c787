// Package creds resolves an incoming API key to a Principal. Only a
// SHA-256 hash and a 12-character prefix are ever persisted or logged —
// the cleartext key is never stored.
package creds

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/printforge/mockupcore/internal/logging"
	"github.com/printforge/mockupcore/internal/store"
)

// ErrKind enumerates the auth error taxonomy. All kinds
// map to HTTP 401; the kind itself is recorded in logs only, never in the
// response body, so a caller can't probe which reason a key was rejected
// for.
type ErrKind string

const (
	ErrMissing   ErrKind = "MISSING_KEY"
	ErrMalformed ErrKind = "MALFORMED_KEY"
	ErrUnknown   ErrKind = "UNKNOWN_KEY"
	ErrRevoked   ErrKind = "REVOKED_KEY"
	ErrExpired   ErrKind = "EXPIRED_KEY"
)

// AuthError carries the internal kind alongside a caller-safe message.
type AuthError struct {
	Kind ErrKind
	Msg  string
}

func (e *AuthError) Error() string { return e.Msg }

func authErr(kind ErrKind, msg string) error { return &AuthError{Kind: kind, Msg: msg} }

// Principal is the resolved identity attached to the request context so
// handlers and the usage recorder share it without re-resolving.
type Principal struct {
	ID                 string
	Tier               string
	RateLimitPerMinute int
	MonthlyQuota       int
}

const keyPrefixLen = 12
const minKeyLen = 16

var keyPattern = regexp.MustCompile(`^rim_[A-Za-z0-9]{28,}$`)

// Store resolves presented keys against the api_keys table, grounded on
// internal/database/accounts.go's lookup shape.
type Store struct {
	db     *store.DB
	logger *logging.Logger
}

func NewStore(db *store.DB) *Store {
	return &Store{db: db, logger: logging.NewLogger("creds.Store")}
}

type candidateRow struct {
	id         string
	hash       string
	tier       string
	rateLimit  int
	quota      int
	active     bool
	expiresAt  sql.NullTime
}

// Authenticate resolves a presented key to a Principal: validate format,
// look up candidates by prefix, compare hashes in constant time, then
// check active/expiry state.
func (s *Store) Authenticate(ctx context.Context, presentedKey string) (*Principal, error) {
	if presentedKey == "" {
		return nil, authErr(ErrMissing, "missing API key")
	}
	if len(presentedKey) < minKeyLen || !keyPattern.MatchString(presentedKey) {
		return nil, authErr(ErrMalformed, "malformed API key")
	}

	prefix := presentedKey[:keyPrefixLen]
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, hash, tier, rate_limit_per_minute, monthly_quota, active, expires_at
		FROM api_keys WHERE prefix = ?`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	presentedHash := sha256.Sum256([]byte(presentedKey))
	presentedHashHex := hex.EncodeToString(presentedHash[:])

	var candidates []candidateRow
	for rows.Next() {
		var c candidateRow
		if err := rows.Scan(&c.id, &c.hash, &c.tier, &c.rateLimit, &c.quota, &c.active, &c.expiresAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}

	var match *candidateRow
	for i := range candidates {
		if subtle.ConstantTimeCompare([]byte(candidates[i].hash), []byte(presentedHashHex)) == 1 {
			match = &candidates[i]
			break
		}
	}
	if match == nil {
		return nil, authErr(ErrUnknown, "unknown API key")
	}
	if !match.active {
		return nil, authErr(ErrRevoked, "revoked API key")
	}
	if match.expiresAt.Valid && match.expiresAt.Time.Before(time.Now()) {
		return nil, authErr(ErrExpired, "expired API key")
	}

	go s.updateLastUsedBestEffort(match.id)

	return &Principal{
		ID:                 match.id,
		Tier:               match.tier,
		RateLimitPerMinute: match.rateLimit,
		MonthlyQuota:       match.quota,
	}, nil
}

// updateLastUsedBestEffort runs detached from the caller's context/timeout;
// failure here must never deny the request.
func (s *Store) updateLastUsedBestEffort(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.UpdateLastUsed(ctx, id, time.Now()); err != nil {
		s.logger.WarnWithContext("failed to update last_used_at", map[string]interface{}{"principal_id": id, "error": err.Error()})
	}
}

// UpdateLastUsed is the eventual-consistency write behind the best-effort
// update above. Wrapped in store.Retry since a transient write failure here
// is an infra error, not a reason to deny the request that's already past
// authentication.
func (s *Store) UpdateLastUsed(ctx context.Context, id string, ts time.Time) error {
	return store.Retry(func() error {
		_, err := s.db.Conn().ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, ts, id)
		return err
	})
}

// Create inserts a new credential, hashing the cleartext key before it
// ever touches the database. Used by cmd/seed-credentials and tests.
func (s *Store) Create(ctx context.Context, id, cleartextKey, tier string, rateLimitPerMinute, monthlyQuota int, expiresAt *time.Time) error {
	if len(cleartextKey) < minKeyLen {
		return fmt.Errorf("key too short")
	}
	hash := sha256.Sum256([]byte(cleartextKey))
	prefix := cleartextKey[:keyPrefixLen]
	return store.Retry(func() error {
		_, err := s.db.Conn().ExecContext(ctx, `
			INSERT INTO api_keys (id, prefix, hash, tier, rate_limit_per_minute, monthly_quota, active, expires_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			id, prefix, hex.EncodeToString(hash[:]), tier, rateLimitPerMinute, monthlyQuota, expiresAt, time.Now())
		return err
	})
}
