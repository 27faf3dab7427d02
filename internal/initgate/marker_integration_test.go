package initgate

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestPostgresMarker_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("accesswash_db"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(pg) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	marker := &PostgresMarker{
		DSN:     dsn,
		Query:   "SELECT to_regclass('public.tenants_utility') IS NOT NULL",
		Timeout: 10 * time.Second,
	}

	state, err := marker.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, NotInitialized, state)

	conn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "CREATE TABLE tenants_utility (id serial primary key)")
	require.NoError(t, err)
	require.NoError(t, conn.Close(ctx))

	state, err = marker.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, Initialized, state)

	broken := &PostgresMarker{DSN: dsn, Query: "SELECT 'not a bool'::text"}
	state, err = broken.Probe(ctx)
	assert.Equal(t, Unknown, state)
	assert.Error(t, err)
}
