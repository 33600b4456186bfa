package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/database"
	"github.com/davidleathers/handyman-marketplace-backend/internal/testutil/containers"
)

// TestDB is a migrated PostgreSQL database running in a throwaway container
type TestDB struct {
	t         *testing.T
	pool      *pgxpool.Pool
	container *containers.PostgresContainer
}

// NewTestDB starts a container, applies the embedded migrations and opens a
// pool. Tests using it are skipped in short mode.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	container, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	require.NoError(t, database.Migrate(container.ConnectionString, zaptest.NewLogger(t)))

	pool, err := pgxpool.New(ctx, container.ConnectionString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return &TestDB{t: t, pool: pool, container: container}
}

// Pool returns the pgx pool
func (tdb *TestDB) Pool() *pgxpool.Pool {
	return tdb.pool
}

// ConnectionString returns the container DSN
func (tdb *TestDB) ConnectionString() string {
	return tdb.container.ConnectionString
}

// TruncateTables truncates all tables for test isolation
func (tdb *TestDB) TruncateTables() {
	tdb.t.Helper()

	tables := []string{
		"assignments",
		"price_recommendations",
		"bids",
		"job_offers",
		"exchange_rates",
	}
	for _, table := range tables {
		_, err := tdb.pool.Exec(context.Background(), fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		require.NoError(tdb.t, err)
	}
}

// AssertRowCount asserts the number of rows in a table
func (tdb *TestDB) AssertRowCount(table string, expected int) {
	tdb.t.Helper()

	var count int
	err := tdb.pool.QueryRow(context.Background(), fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
	require.NoError(tdb.t, err)
	require.Equal(tdb.t, expected, count, "expected %d rows in %s, got %d", expected, table, count)
}
