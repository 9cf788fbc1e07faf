package redis

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/chirino/conversation-identity/internal/config"
	"github.com/chirino/conversation-identity/internal/model"
	registrystore "github.com/chirino/conversation-identity/internal/registry/store"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrystore.Store, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis store: CONVERSATION_IDENTITY_REDIS_URL is required")
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis store: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: ping failed: %w", err)
	}
	return New(client, cfg.ResolvedHistoryLimit()), nil
}

// New returns a store keeping each log in a Redis list and each metadata map in a hash.
func New(client goredis.Cmdable, limit int) *Store {
	return &Store{client: client, limit: limit}
}

// Store implements registrystore.Store on Redis lists and hashes.
type Store struct {
	client goredis.Cmdable
	limit  int
}

// Close releases the client when the store owns one.
func (s *Store) Close() error {
	if c, ok := s.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func historyKey(conversationID string) string {
	return "conv:" + conversationID + ":history"
}

func metadataKey(conversationID string) string {
	return "conv:" + conversationID + ":metadata"
}

func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg model.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	key := historyKey(conversationID)
	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.RPush(ctx, key, data)
		if s.limit > 0 {
			p.LTrim(ctx, key, int64(-s.limit), -1)
		}
		return nil
	})
	return err
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raws, err := s.client.LRange(ctx, historyKey(conversationID), start, -1).Result()
	if err != nil {
		return nil, err
	}
	return registrystore.DecodeMessages(conversationID, raws), nil
}

func (s *Store) ReplaceMessages(ctx context.Context, conversationID string, msgs []model.Message) error {
	values := make([]any, 0, len(msgs))
	for _, m := range msgs {
		data, err := m.Encode()
		if err != nil {
			return err
		}
		values = append(values, data)
	}
	key := historyKey(conversationID)
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, key)
		if len(values) > 0 {
			p.RPush(ctx, key, values...)
		}
		return nil
	})
	return err
}

func (s *Store) ClearMessages(ctx context.Context, conversationID string) error {
	return s.client.Del(ctx, historyKey(conversationID)).Err()
}

func (s *Store) GetMetadata(ctx context.Context, conversationID string) (model.Metadata, error) {
	values, err := s.client.HGetAll(ctx, metadataKey(conversationID)).Result()
	if errors.Is(err, goredis.Nil) {
		return model.Metadata{}, nil
	}
	if err != nil {
		return nil, err
	}
	return model.Metadata(values), nil
}

func (s *Store) SetMetadata(ctx context.Context, conversationID string, md model.Metadata) error {
	key := metadataKey(conversationID)
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, key)
		if len(md) > 0 {
			p.HSet(ctx, key, map[string]string(md))
		}
		return nil
	})
	return err
}

func (s *Store) ForgetMetadata(ctx context.Context, conversationID string) error {
	return s.client.Del(ctx, metadataKey(conversationID)).Err()
}

var _ registrystore.Store = (*Store)(nil)
