package metrics

import (
	"context"
	"io"
	"time"

	"github.com/chirino/conversation-identity/internal/model"
	"github.com/chirino/conversation-identity/internal/registry/store"
	"github.com/chirino/conversation-identity/internal/security"
)

// Wrap returns a Store that records StoreLatency for every operation.
func Wrap(inner store.Store) store.Store {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.Store
}

func observe(op string, start time.Time) {
	if security.StoreLatency == nil {
		return
	}
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) AppendMessage(ctx context.Context, conversationID string, msg model.Message) error {
	defer observe("append_message", time.Now())
	return m.inner.AppendMessage(ctx, conversationID, msg)
}

func (m *metricsStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	defer observe("list_messages", time.Now())
	return m.inner.ListMessages(ctx, conversationID, limit)
}

func (m *metricsStore) ReplaceMessages(ctx context.Context, conversationID string, msgs []model.Message) error {
	defer observe("replace_messages", time.Now())
	return m.inner.ReplaceMessages(ctx, conversationID, msgs)
}

func (m *metricsStore) ClearMessages(ctx context.Context, conversationID string) error {
	defer observe("clear_messages", time.Now())
	return m.inner.ClearMessages(ctx, conversationID)
}

func (m *metricsStore) GetMetadata(ctx context.Context, conversationID string) (model.Metadata, error) {
	defer observe("get_metadata", time.Now())
	return m.inner.GetMetadata(ctx, conversationID)
}

func (m *metricsStore) SetMetadata(ctx context.Context, conversationID string, md model.Metadata) error {
	defer observe("set_metadata", time.Now())
	return m.inner.SetMetadata(ctx, conversationID, md)
}

func (m *metricsStore) ForgetMetadata(ctx context.Context, conversationID string) error {
	defer observe("forget_metadata", time.Now())
	return m.inner.ForgetMetadata(ctx, conversationID)
}

// Close closes the wrapped store when it holds a client.
func (m *metricsStore) Close() error {
	if c, ok := m.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var _ store.Store = (*metricsStore)(nil)
