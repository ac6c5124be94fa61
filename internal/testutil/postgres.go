// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/ticket-engine/internal/schema"
)

// SkipIfNoIntegration skips unless INTEGRATION_TEST=true
func SkipIfNoIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run.")
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// PostgresPool connects to the TEST_POSTGRES_* database, applies the schema
// and truncates the given tables
func PostgresPool(t *testing.T, truncate ...string) *pgxpool.Pool {
	t.Helper()
	SkipIfNoIntegration(t)

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		getenv("TEST_POSTGRES_USER", "postgres"),
		getenv("TEST_POSTGRES_PASSWORD", "postgres"),
		getenv("TEST_POSTGRES_HOST", "localhost"),
		getenv("TEST_POSTGRES_PORT", "5432"),
		getenv("TEST_POSTGRES_DB", "ticket_engine_test"),
	)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("Failed to ping PostgreSQL: %v", err)
	}
	if err := schema.Migrate(ctx, pool); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	for _, table := range truncate {
		if _, err := pool.Exec(ctx, "TRUNCATE "+table+" CASCADE"); err != nil {
			t.Fatalf("Failed to truncate %s: %v", table, err)
		}
	}
	return pool
}
