package testutil

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/WDP301-BKS/reservation-service-go/internal/db"
)

const (
	dbUser     = "fieldbook_user"
	dbPassword = "fieldbook_pass"
	dbName     = "fieldbook"
)

// StartPostgres launches a temporary Postgres container, applies the
// migrations, and returns a connection pool plus a cleanup function.
// Tests are skipped when no container runtime is available.
func StartPostgres(ctx context.Context, t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image: "postgres:16-alpine",
		Env: map[string]string{
			"POSTGRES_USER":     dbUser,
			"POSTGRES_PASSWORD": dbPassword,
			"POSTGRES_DB":       dbName,
		},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("container runtime unavailable, skipping: %v", err)
	}

	var pool *pgxpool.Pool
	cleanup := func() {
		if pool != nil {
			pool.Close()
		}
		terminateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = container.Terminate(terminateCtx)
	}

	host, err := container.Host(ctx)
	if err != nil {
		cleanup()
		t.Fatalf("container host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		cleanup()
		t.Fatalf("container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", dbUser, dbPassword, host, mappedPort.Port(), dbName)
	pool = connectAndMigrate(ctx, t, dsn)

	return pool, cleanup
}

func connectAndMigrate(ctx context.Context, t *testing.T, dsn string) *pgxpool.Pool {
	t.Helper()

	logger := log.New(os.Stdout, "testutil: ", log.LstdFlags)
	deadline := time.Now().Add(30 * time.Second)

	for {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for postgres to accept connections")
		}

		pool, err := pgxpool.New(ctx, dsn)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				if err := db.RunMigrations(dsn, logger); err != nil {
					pool.Close()
					t.Fatalf("apply migrations: %v", err)
				}
				return pool
			}
			pool.Close()
		}

		select {
		case <-ctx.Done():
			t.Fatalf("context cancelled connecting to postgres: %v", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}
