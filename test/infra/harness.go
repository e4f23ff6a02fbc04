package infra

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	sharedOnce sync.Once
	sharedDSN  string
	sharedErr  error
)

// OpenTestDB returns a pool bound to a freshly migrated, per-test schema.
// DATABASE_URL (or STRESS_TEST_PG_DSN) selects an existing server; otherwise a
// Postgres container is started once per test binary and left to the
// testcontainers reaper. The test is skipped when neither is available.
func OpenTestDB(t testing.TB) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("short mode; skipping integration test")
	}

	dsn := resolveDSN(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, teardown, err := ApplyMigrations(ctx, dsn, true)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	})
	return pool
}

func resolveDSN(t testing.TB) string {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "STRESS_TEST_PG_DSN"} {
		if dsn := os.Getenv(key); dsn != "" {
			return dsn
		}
	}

	sharedOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if !DockerAvailable(ctx) {
			sharedErr = errNoDatabase
			return
		}
		_, sharedDSN, sharedErr = StartPostgres16(ctx, "")
	})
	if sharedErr == errNoDatabase {
		t.Skip("DATABASE_URL not set and docker unavailable; skipping integration test")
	}
	if sharedErr != nil {
		t.Fatalf("start postgres: %v", sharedErr)
	}
	return sharedDSN
}

var errNoDatabase = fmt.Errorf("infra: no database available")

// Reset truncates mutable tables to provide a clean slate for the next epoch.
func Reset(ctx context.Context, pool *pgxpool.Pool) error {
	tables := []string{
		"payment_history",
		"contract_splits",
		"clins",
		"contracts",
		"workspace_splits",
		"workspace_line_items",
		"workspaces",
		"staged_line_items",
		"staged_contracts",
		"idiq_contracts",
		"suppliers",
		"nsns",
		"buyers",
		"sequence_counters",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}

	return nil
}
