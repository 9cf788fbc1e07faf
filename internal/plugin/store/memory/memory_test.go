package memory_test

import (
	"testing"

	"github.com/chirino/conversation-identity/internal/plugin/store/memory"
	registrystore "github.com/chirino/conversation-identity/internal/registry/store"
	"github.com/chirino/conversation-identity/internal/testutil/teststore"
)

func TestMemoryStore(t *testing.T) {
	teststore.Run(t, func(t *testing.T, limit int) registrystore.Store {
		return memory.New(limit)
	})
}
