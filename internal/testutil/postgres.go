// Package testutil starts throwaway dependencies for integration tests.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/backend/pkg/database"
)

// NewPostgres starts a Postgres container, applies the embedded migrations and
// returns a pool. Skipped under -short or when CLASSROOM_INTEGRATION is unset.
func NewPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() || os.Getenv("CLASSROOM_INTEGRATION") == "" {
		t.Skip("integration test: set CLASSROOM_INTEGRATION=1 to run")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("classroom"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := database.NewPostgresPool(ctx, dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool))
	return pool
}

// InsertUser adds a durable user row.
func InsertUser(t *testing.T, pool *pgxpool.Pool, id, name, role string) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO users (id, display_name, role) VALUES ($1, $2, $3)`, id, name, role)
	require.NoError(t, err)
}
