// Package memory provides a process-local conversation store used by the
// "memory" store kind and by tests.
package memory

import (
	"context"
	"sync"

	"github.com/chirino/conversation-identity/internal/config"
	"github.com/chirino/conversation-identity/internal/model"
	registrystore "github.com/chirino/conversation-identity/internal/registry/store"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrystore.Store, error) {
			return New(config.FromContext(ctx).ResolvedHistoryLimit()), nil
		},
	})
}

// Store keeps message logs and metadata maps in memory.
type Store struct {
	mu       sync.RWMutex
	limit    int
	messages map[string][]model.Message
	metadata map[string]model.Metadata
}

// New returns an empty store whose logs are trimmed to limit on append.
func New(limit int) *Store {
	return &Store{
		limit:    limit,
		messages: map[string][]model.Message{},
		metadata: map[string]model.Metadata{},
	}
}

func (s *Store) AppendMessage(_ context.Context, conversationID string, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append(s.messages[conversationID], msg)
	s.messages[conversationID] = append([]model.Message(nil), registrystore.Tail(msgs, s.limit)...)
	return nil
}

func (s *Store) ListMessages(_ context.Context, conversationID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Message{}, registrystore.Tail(s.messages[conversationID], limit)...), nil
}

func (s *Store) ReplaceMessages(_ context.Context, conversationID string, msgs []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(msgs) == 0 {
		delete(s.messages, conversationID)
		return nil
	}
	s.messages[conversationID] = append([]model.Message(nil), msgs...)
	return nil
}

func (s *Store) ClearMessages(_ context.Context, conversationID string) error {
	s.mu.Lock()
	delete(s.messages, conversationID)
	s.mu.Unlock()
	return nil
}

func (s *Store) GetMetadata(_ context.Context, conversationID string) (model.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := model.Metadata{}
	for k, v := range s.metadata[conversationID] {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SetMetadata(_ context.Context, conversationID string, md model.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(md) == 0 {
		delete(s.metadata, conversationID)
		return nil
	}
	cp := make(model.Metadata, len(md))
	for k, v := range md {
		cp[k] = v
	}
	s.metadata[conversationID] = cp
	return nil
}

func (s *Store) ForgetMetadata(_ context.Context, conversationID string) error {
	s.mu.Lock()
	delete(s.metadata, conversationID)
	s.mu.Unlock()
	return nil
}

var _ registrystore.Store = (*Store)(nil)
