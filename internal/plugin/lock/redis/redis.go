// Package redis provides leases shared by every process talking to the same
// Redis server.
package redis

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/chirino/conversation-identity/internal/config"
	registrylock "github.com/chirino/conversation-identity/internal/registry/lock"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "conv:lock:"
	retryDelay   = 25 * time.Millisecond
	maxRetryWait = 250 * time.Millisecond
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func init() {
	registrylock.Register(registrylock.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrylock.Locker, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis lock: CONVERSATION_IDENTITY_REDIS_URL is required")
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis lock: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis lock: ping failed: %w", err)
	}
	return New(client, cfg.LockTTL), nil
}

// Locker takes leases with SET NX PX. A lease that outlives ttl is dropped
// by Redis and its Unlock reports registrylock.ErrNotHeld.
type Locker struct {
	client goredis.Cmdable
	ttl    time.Duration
}

// Close releases the client when the locker owns one.
func (l *Locker) Close() error {
	if c, ok := l.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// New returns a Locker whose leases expire after ttl (10s when ttl <= 0).
func New(client goredis.Cmdable, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Locker{client: client, ttl: ttl}
}

func (l *Locker) Lock(ctx context.Context, key string) (registrylock.Unlock, error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()
	wait := retryDelay
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait < maxRetryWait {
			wait *= 2
		}
	}
	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
		if err != nil {
			return fmt.Errorf("redis unlock %s: %w", key, err)
		}
		if n == 0 {
			return registrylock.ErrNotHeld
		}
		return nil
	}, nil
}

var _ registrylock.Locker = (*Locker)(nil)
