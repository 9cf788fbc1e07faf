package testpg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	database = "conversation_identity"
	user     = "identity"
	password = "identity"
)

// StartPostgres runs a throwaway Postgres holding an empty conversation_identity
// database and returns a DSN for it. Skips when docker is not available.
func StartPostgres(tb *testing.T) string {
	tb.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(tb)

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase(database),
		postgres.WithUsername(user),
		postgres.WithPassword(password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90*time.Second),
		),
	)
	testcontainers.CleanupContainer(tb, container)
	if err != nil {
		tb.Fatalf("postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("postgres dsn: %v", err)
	}
	if err := ping(ctx, dsn, 20*time.Second); err != nil {
		tb.Fatalf("postgres not accepting connections: %v", err)
	}
	return dsn
}

// ping retries a pgx connection until the server answers or the wait elapses.
func ping(ctx context.Context, dsn string, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	err := errors.New("no attempt made")
	for {
		var conn *pgx.Conn
		if conn, err = pgx.Connect(ctx, dsn); err == nil {
			err = conn.Ping(ctx)
			_ = conn.Close(ctx)
			if err == nil {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return err
		case <-ticker.C:
		}
	}
}
