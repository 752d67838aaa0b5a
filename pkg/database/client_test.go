package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestPool provisions a migrated database and returns a pool on it.
// In CI (when CI_DATABASE_URL is set): connects to the external PostgreSQL
// service container. In local dev: spins up a testcontainer.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}

	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
	} else {
		t.Log("Using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)

		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	require.NoError(t, Migrate(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func TestMigrateIsIdempotent(t *testing.T) {
	pool := newTestPool(t)

	// A second run sees no pending migrations and must not fail.
	err := Migrate(context.Background(), pool.Config().ConnString())
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	pool := newTestPool(t)

	status, err := Health(context.Background(), pool)
	require.NoError(t, err)

	assert.Equal(t, "healthy", status.Status)
	assert.GreaterOrEqual(t, status.ResponseTime, int64(0))
	assert.Greater(t, status.MaxConns, int32(0))
}

func TestSchemaConstraints(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	convID := uuid.NewString()
	_, err := pool.Exec(ctx, `INSERT INTO conversations (id) VALUES ($1)`, convID)
	require.NoError(t, err)

	_, err = pool.Exec(ctx,
		`INSERT INTO events (conversation_id, event_id, payload) VALUES ($1, 0, '{"kind":"message"}')`, convID)
	require.NoError(t, err)

	// Duplicate event id within a conversation violates the primary key.
	_, err = pool.Exec(ctx,
		`INSERT INTO events (conversation_id, event_id, payload) VALUES ($1, 0, '{}')`, convID)
	require.Error(t, err)

	// Events require an existing conversation row.
	_, err = pool.Exec(ctx,
		`INSERT INTO events (conversation_id, event_id, payload) VALUES ($1, 0, '{}')`, uuid.NewString())
	require.Error(t, err)

	// Deleting the conversation cascades to its events.
	_, err = pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, convID)
	require.NoError(t, err)

	var count int
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM events WHERE conversation_id = $1`, convID).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{
		Host:     "db.internal",
		Port:     5433,
		User:     "svc",
		Password: "pw",
		Database: "conductor",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=svc password=pw dbname=conductor sslmode=require",
		cfg.DSN())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, key := range []string{"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE", "DB_MAX_CONNS", "DB_MIN_CONNS"} {
			t.Setenv(key, "")
		}

		cfg, err := LoadConfigFromEnv()
		require.NoError(t, err)

		assert.Equal(t, "localhost", cfg.Host)
		assert.Equal(t, 5432, cfg.Port)
		assert.Equal(t, "conductor", cfg.User)
		assert.Equal(t, "conductor", cfg.Database)
		assert.Equal(t, "disable", cfg.SSLMode)
		assert.Equal(t, int32(10), cfg.MaxConns)
		assert.Equal(t, int32(2), cfg.MinConns)
		assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("DB_HOST", "pg.internal")
		t.Setenv("DB_PORT", "5433")
		t.Setenv("DB_USER", "svc")
		t.Setenv("DB_PASSWORD", "secret")
		t.Setenv("DB_NAME", "conductor_test")
		t.Setenv("DB_SSLMODE", "require")
		t.Setenv("DB_MAX_CONNS", "20")

		cfg, err := LoadConfigFromEnv()
		require.NoError(t, err)

		assert.Equal(t, "pg.internal", cfg.Host)
		assert.Equal(t, 5433, cfg.Port)
		assert.Equal(t, "svc", cfg.User)
		assert.Equal(t, "secret", cfg.Password)
		assert.Equal(t, "conductor_test", cfg.Database)
		assert.Equal(t, "require", cfg.SSLMode)
		assert.Equal(t, int32(20), cfg.MaxConns)
	})

	t.Run("invalid port", func(t *testing.T) {
		t.Setenv("DB_PORT", "not-a-port")

		_, err := LoadConfigFromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DB_PORT")
	})
}
