package testinfinispan

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chirino/conversation-identity/internal/config"
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	username = "admin"
	password = "password"
)

// StartInfinispan starts a disposable Infinispan server with its RESP
// connector enabled and points cfg at it. The test is skipped when no
// container provider is reachable.
func StartInfinispan(tb *testing.T, cfg *config.Config) {
	tb.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(tb)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "quay.io/infinispan/server:15.2",
			ExposedPorts: []string{"11222/tcp"},
			Env:          map[string]string{"USER": username, "PASS": password},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("11222/tcp"),
				wait.ForLog("Started connector Resp"),
			).WithDeadline(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("start infinispan container: %v", err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate infinispan container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		tb.Fatalf("get infinispan host: %v", err)
	}
	port, err := container.MappedPort(ctx, "11222")
	if err != nil {
		tb.Fatalf("get infinispan mapped port: %v", err)
	}

	cfg.InfinispanHost = fmt.Sprintf("%s:%s", host, port.Port())
	cfg.InfinispanUsername = username
	cfg.InfinispanPassword = password
	if err := waitForRESP(ctx, cfg); err != nil {
		tb.Fatalf("infinispan RESP not ready: %v", err)
	}
}

// The RESP connector may come up after the log line; ping until it answers.
func waitForRESP(ctx context.Context, cfg *config.Config) error {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.InfinispanHost,
		Username: cfg.InfinispanUsername,
		Password: cfg.InfinispanPassword,
		Protocol: 2,
	})
	defer client.Close()

	deadline := time.Now().Add(60 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			return nil
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("RESP ping timeout: %w", lastErr)
}
