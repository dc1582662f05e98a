package pg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"signal_bridge/internal/modules/ledger/migrations"
	"signal_bridge/pkg/db"
)

// setupTestDB starts a PostgreSQL container and applies the embedded
// migrations. The test is skipped when no container runtime is available.
func setupTestDB(t *testing.T) (*db.PgTxManager, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests are skipped in -short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("ledger"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err, "failed to create pool")
	tm := db.NewPgTxManager(pool)

	applied, err := migrations.RunPostgres(ctx, tm.Conn())
	require.NoError(t, err, "failed to apply migrations")
	t.Logf("applied migrations: %v", applied)

	cleanup := func() {
		tm.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return tm, cleanup
}

func truncateAll(t *testing.T, tm *db.PgTxManager) {
	t.Helper()
	_, err := tm.Conn().Exec(context.Background(),
		`TRUNCATE signals, orders, executions, positions, performance_metrics, system_health RESTART IDENTITY`)
	require.NoError(t, err)
}
