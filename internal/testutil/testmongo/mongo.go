package testmongo

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

// StartMongo runs a throwaway MongoDB and returns its URI. Skips when docker is
// not available.
func StartMongo(tb *testing.T) string {
	tb.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(tb)

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	testcontainers.CleanupContainer(tb, container)
	if err != nil {
		tb.Fatalf("mongodb container: %v", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		tb.Fatalf("mongodb uri: %v", err)
	}
	return uri
}
