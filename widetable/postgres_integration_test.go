//go:build integration

package widetable_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"evtcore.dev/precondition"
	"evtcore.dev/widetable"
)

// setupPostgresContainer starts a disposable PostgreSQL instance the way
// the teacher's db package spins one up for its own integration suite,
// adapted to hand back a DSN for widetable.NewPostgresStore instead of a
// gorm connection.
func setupPostgresContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	return dsn, func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}
}

func TestPostgresStoreIntegrationRoundTrip(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	ctx := context.Background()
	store, err := widetable.NewPostgresStore(ctx, dsn, "rows_integration")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.EnsureTable(ctx))
	require.NoError(t, store.Healthy(ctx))

	row := widetable.Row{
		PartitionKey: "Order",
		RowKey:       "order-1",
		Columns:      map[string]interface{}{"status": "open"},
	}
	etag, err := store.Upsert(ctx, row, precondition.IfAbsent())
	require.NoError(t, err)
	assert.NotEmpty(t, etag)

	got, err := store.Get(ctx, "Order", "order-1")
	require.NoError(t, err)
	assert.Equal(t, "open", got.Columns["status"])

	got.Columns["status"] = "closed"
	_, err = store.Upsert(ctx, got, precondition.IfMatch(got.ETag))
	require.NoError(t, err)

	// A stale ETag must be rejected.
	_, err = store.Upsert(ctx, got, precondition.IfMatch(got.ETag))
	assert.Error(t, err)
}

func TestPostgresStoreIntegrationBinaryColumnRoundTrip(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	ctx := context.Background()
	store, err := widetable.NewPostgresStore(ctx, dsn, "rows_binary_integration")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.EnsureTable(ctx))

	testBinaryColumnRoundTrip(t, store)
}
