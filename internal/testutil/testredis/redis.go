package testredis

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartRedis runs a throwaway Redis and returns its redis:// URL. The same
// instance can back the KV, the conversation store and the link lease.
// Skips when docker is not available.
func StartRedis(tb *testing.T) string {
	tb.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(tb)

	ctx := context.Background()
	container, err := testcontainers.Run(ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second),
		),
	)
	testcontainers.CleanupContainer(tb, container)
	if err != nil {
		tb.Fatalf("redis container: %v", err)
	}

	url, err := container.PortEndpoint(ctx, "6379/tcp", "redis")
	if err != nil {
		tb.Fatalf("redis endpoint: %v", err)
	}
	return url
}
