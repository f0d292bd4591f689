// Package dbtest opens the integration-test database. Tests using it are
// skipped unless TEST_DATABASE_URL is set.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/mwork/ledger-api/internal/pkg/database"
)

// Open connects to TEST_DATABASE_URL, migrates it up and empties the ledger
// tables.
func Open(t *testing.T) *sqlx.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := database.NewPostgres(url, database.PoolConfig{MaxOpen: 20, MaxIdle: 5})
	if err != nil {
		t.Skipf("db not available: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if err := database.Migrate(ctx, db.DB, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_, err = db.ExecContext(ctx, `
		TRUNCATE notifications, notification_channels, webhook_retries,
		         provider_events, subscriptions, ledger_entries, balances
		RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return db
}
