package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/chirino/conversation-identity/internal/config"
	registrykv "github.com/chirino/conversation-identity/internal/registry/kv"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registrykv.Register(registrykv.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrykv.KeyValueStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis kv: CONVERSATION_IDENTITY_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL)
}

// LoadFromURL creates a KeyValueStore from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis kv: invalid URL: %w", err)
	}
	return LoadFromOptions(ctx, opts)
}

// LoadFromOptions creates a KeyValueStore from go-redis Options.
// This allows callers to customize options (e.g. Protocol for RESP2).
func LoadFromOptions(ctx context.Context, opts *goredis.Options) (*Store, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis kv: ping failed: %w", err)
	}
	return New(client), nil
}

// New wraps an existing client.
func New(client goredis.Cmdable) *Store {
	return &Store{client: client}
}

// Store is a KeyValueStore over plain Redis string keys.
type Store struct {
	client goredis.Cmdable
}

func (s *Store) Close() error {
	if c, ok := s.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return registrykv.ErrInvalidTTL
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *Store) PutForever(ctx context.Context, key string, value string) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *Store) Forget(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// TTL reports the remaining time to live; -1 means no expiry.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.client.TTL(ctx, key).Result()
}

var _ registrykv.KeyValueStore = (*Store)(nil)
