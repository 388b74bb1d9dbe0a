// Package testinfra provisions a migrated PostgreSQL database for integration tests.
package testinfra

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"creditflow/db"
)

var (
	startOnce sync.Once
	sharedDSN string
	startErr  error
)

// DSN returns a connection string for a migrated database. DATABASE_URL wins;
// otherwise a postgres:16 container is started once per test binary. Tests
// are skipped in -short mode or when neither is available.
func DSN(t testing.TB) string {
	t.Helper()

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		startOnce.Do(func() {
			sharedDSN = dsn
			startErr = db.Migrate(dsn, nil)
		})
	} else {
		if testing.Short() {
			t.Skip("skipping integration test in short mode")
		}
		startOnce.Do(func() {
			sharedDSN, startErr = startContainer(context.Background())
			if startErr == nil {
				startErr = db.Migrate(sharedDSN, nil)
			}
		})
	}

	if startErr != nil {
		t.Skipf("postgres unavailable: %v", startErr)
	}
	return sharedDSN
}

// Pool opens a pool on DSN(t) and closes it when the test ends.
func Pool(t testing.TB) *pgxpool.Pool {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, DSN(t))
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// The container is left to the testcontainers reaper when the binary exits.
func startContainer(ctx context.Context) (string, error) {
	pgC, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("creditflow"),
		postgres.WithUsername("creditflow"),
		postgres.WithPassword("creditflow"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return "", err
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return "", err
	}
	return dsn, nil
}
