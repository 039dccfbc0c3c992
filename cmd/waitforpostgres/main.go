package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"medcare/portal/internal/auth"
	"medcare/portal/internal/observability"
)

// waitforpostgres blocks until the portal database accepts connections and
// then creates the account and session tables.
func main() {
	log := observability.NewLogger(os.Getenv("LOG_LEVEL"))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("TEST_POSTGRES_DSN")
	}
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL or TEST_POSTGRES_DSN is required")
		os.Exit(2)
	}

	timeout := 60 * time.Second
	if raw := os.Getenv("WAIT_FOR_POSTGRES_TIMEOUT_SEC"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			fmt.Fprintf(os.Stderr, "invalid WAIT_FOR_POSTGRES_TIMEOUT_SEC: %q\n", raw)
			os.Exit(2)
		}
		timeout = time.Duration(secs) * time.Second
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Error("open postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := waitReady(db, timeout); err != nil {
		log.Error("postgres not ready", "timeout", timeout, "error", err)
		os.Exit(1)
	}
	if _, err := auth.NewPostgresCredentialStore(db); err != nil {
		log.Error("prepare account table", "error", err)
		os.Exit(1)
	}
	if _, err := auth.NewPostgresSessionSlot(db, auth.SessionKey); err != nil {
		log.Error("prepare session table", "error", err)
		os.Exit(1)
	}
	log.Info("postgres ready")
}

func waitReady(db *sql.DB, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := db.PingContext(ctx)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(2 * time.Second)
	}
}
