package metrics_test

import (
	"testing"

	"github.com/chirino/conversation-identity/internal/plugin/store/memory"
	"github.com/chirino/conversation-identity/internal/plugin/store/metrics"
	registrystore "github.com/chirino/conversation-identity/internal/registry/store"
	"github.com/chirino/conversation-identity/internal/security"
	"github.com/chirino/conversation-identity/internal/testutil/teststore"
)

func TestMetricsStorePassesThrough(t *testing.T) {
	security.InitMetrics(nil)
	teststore.Run(t, func(t *testing.T, limit int) registrystore.Store {
		return metrics.Wrap(memory.New(limit))
	})
}
