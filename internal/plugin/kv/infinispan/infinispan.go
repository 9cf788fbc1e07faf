// Package infinispan provides a key-value plugin that connects to Infinispan
// via its RESP (Redis protocol) endpoint, reusing the Redis implementation.
package infinispan

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/conversation-identity/internal/config"
	"github.com/chirino/conversation-identity/internal/plugin/kv/redis"
	registrykv "github.com/chirino/conversation-identity/internal/registry/kv"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registrykv.Register(registrykv.Plugin{
		Name:   "infinispan",
		Loader: load,
	})
}

func load(ctx context.Context) (registrykv.KeyValueStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.InfinispanHost == "" {
		return nil, fmt.Errorf("infinispan kv: CONVERSATION_IDENTITY_INFINISPAN_HOST is required")
	}
	timeout := cfg.InfinispanStartupTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Infinispan's RESP endpoint does not support the RESP3 HELLO command,
	// so we must use Protocol 2 (RESP2) to avoid a handshake hang.
	return redis.LoadFromOptions(timeoutCtx, Options(cfg))
}

// Options builds the go-redis options used to reach an Infinispan RESP endpoint.
func Options(cfg *config.Config) *goredis.Options {
	return &goredis.Options{
		Addr:     cfg.InfinispanHost,
		Username: cfg.InfinispanUsername,
		Password: cfg.InfinispanPassword,
		Protocol: 2,
	}
}
