//go:build integration

package queuestore_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/seojun/maildrain/internal/queuestore"
)

var (
	sharedStore *queuestore.PostgresStore
	sharedPool  *pgxpool.Pool
	sharedDSN   string
	pgContainer testcontainers.Container
)

// TestMain sets up a shared PostgreSQL container for all integration tests.
func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	var err error
	pgContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	sharedDSN = fmt.Sprintf("postgres://test:test@%s:%s/test?sslmode=disable", host, port.Port())

	if err := execMigrations(ctx, sharedDSN); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	sharedStore, err = queuestore.NewPostgresStore(ctx, queuestore.PostgresConfig{
		URL:            sharedDSN,
		PoolMin:        2,
		PoolMax:        10,
		ConnectTimeout: 10 * time.Second,
	}, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create store: %v\n", err)
		os.Exit(1)
	}

	sharedPool, err = pgxpool.New(ctx, sharedDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create helper pool: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	sharedPool.Close()
	sharedStore.Close()
	if err := pgContainer.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate container: %v\n", err)
	}

	os.Exit(code)
}

// resetQueue truncates the queue table so each test starts empty.
func resetQueue(t *testing.T) {
	t.Helper()
	if _, err := sharedPool.Exec(context.Background(), "TRUNCATE mail_queue"); err != nil {
		t.Fatalf("failed to truncate mail_queue: %v", err)
	}
}

// seedMessage inserts a queue row and returns its id.
func seedMessage(t *testing.T, status string, retryCount, maxRetries int, createdAt time.Time) string {
	t.Helper()
	var id string
	err := sharedPool.QueryRow(context.Background(), `
		INSERT INTO mail_queue (recipient, subject, body_text, status, retry_count, max_retries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		"rcpt@example.com", "integration test", "hello", status, retryCount, maxRetries, createdAt).
		Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed message: %v", err)
	}
	return id
}

// execMigrations runs all up migration files in order.
func execMigrations(ctx context.Context, dsn string) error {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect for migrations: %w", err)
	}
	defer pool.Close()

	_, filename, _, _ := runtime.Caller(0)
	migrationsDir := filepath.Join(filepath.Dir(filename), "..", "..", "migrations")

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}

	var upFiles []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, f := range upFiles {
		content, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}

		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", f, err)
		}
	}

	return nil
}
