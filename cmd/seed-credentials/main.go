// Command seed-credentials provisions one API key and prints its
// cleartext value exactly once. Only the SHA-256 hash and a 12-character
// prefix are written to the database, mirroring cmd/seed-database's
// one-shot provisioning shape.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/printforge/mockupcore/internal/creds"
	"github.com/printforge/mockupcore/internal/store"
)

func main() {
	dbPath := flag.String("db", "./data/mockupd.db", "path to the SQLite database")
	tier := flag.String("tier", "standard", "tier name for the new key")
	rateLimit := flag.Int("rate-limit", 60, "requests per minute")
	quota := flag.Int("quota", 10000, "monthly request quota")
	expiresInDays := flag.Int("expires-in-days", 0, "expiry in days from now; 0 means never expires")
	flag.Parse()

	db, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	cleartext, err := generateKey()
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}

	var expiresAt *time.Time
	if *expiresInDays > 0 {
		t := time.Now().Add(time.Duration(*expiresInDays) * 24 * time.Hour)
		expiresAt = &t
	}

	id := uuid.NewString()
	credStore := creds.NewStore(db)
	if err := credStore.Create(context.Background(), id, cleartext, *tier, *rateLimit, *quota, expiresAt); err != nil {
		log.Fatalf("failed to persist credential: %v", err)
	}

	fmt.Println("API key created. This is the only time the cleartext value is shown:")
	fmt.Println(cleartext)
	fmt.Printf("principal_id=%s tier=%s rate_limit_per_minute=%d monthly_quota=%d\n", id, *tier, *rateLimit, *quota)
}

// generateKey builds a "rim_" + 32 base32-encoded random characters key,
// satisfying creds.Store's format validation (rim_ followed by 28+
// alphanumeric characters).
func generateKey() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	encoded := strings.ToLower(strings.TrimRight(base32.StdEncoding.EncodeToString(buf), "="))
	return "rim_" + encoded, nil
}

