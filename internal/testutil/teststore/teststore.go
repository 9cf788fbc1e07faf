// Package teststore holds the behaviour checks every conversation store
// backend must pass.
package teststore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chirino/conversation-identity/internal/model"
	registrystore "github.com/chirino/conversation-identity/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh store whose append bound is limit.
type Factory func(t *testing.T, limit int) registrystore.Store

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(i int) model.Message {
	role := model.RoleUser
	if i%2 == 1 {
		role = model.RoleAssistant
	}
	return model.NewMessage(role, fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second))
}

// Run exercises the ConversationStore and MetadataStore contracts.
func Run(t *testing.T, factory Factory) {
	t.Run("append trims to limit", func(t *testing.T) {
		ctx := context.Background()
		s := factory(t, 3)
		id := uuid.NewString()
		for i := 0; i < 5; i++ {
			require.NoError(t, s.AppendMessage(ctx, id, msg(i)))
		}
		got, err := s.ListMessages(ctx, id, 0)
		require.NoError(t, err)
		assert.Equal(t, []model.Message{msg(2), msg(3), msg(4)}, got)

		got, err = s.ListMessages(ctx, id, 2)
		require.NoError(t, err)
		assert.Equal(t, []model.Message{msg(3), msg(4)}, got)
	})

	t.Run("unknown conversation is empty", func(t *testing.T) {
		ctx := context.Background()
		s := factory(t, 50)
		id := uuid.NewString()
		got, err := s.ListMessages(ctx, id, 50)
		require.NoError(t, err)
		assert.Empty(t, got)

		md, err := s.GetMetadata(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, md)
		assert.Empty(t, md)
	})

	t.Run("replace is not bounded", func(t *testing.T) {
		ctx := context.Background()
		s := factory(t, 2)
		id := uuid.NewString()
		require.NoError(t, s.AppendMessage(ctx, id, msg(9)))
		want := []model.Message{msg(0), msg(1), msg(2), msg(3)}
		require.NoError(t, s.ReplaceMessages(ctx, id, want))
		got, err := s.ListMessages(ctx, id, 0)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		require.NoError(t, s.ClearMessages(ctx, id))
		got, err = s.ListMessages(ctx, id, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("metadata set replaces and forget removes", func(t *testing.T) {
		ctx := context.Background()
		s := factory(t, 50)
		id := uuid.NewString()
		require.NoError(t, s.SetMetadata(ctx, id, model.Metadata{"last_cpf": "111", "note": "x"}))
		require.NoError(t, s.SetMetadata(ctx, id, model.Metadata{"last_cpf": "222"}))
		md, err := s.GetMetadata(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.Metadata{"last_cpf": "222"}, md)

		require.NoError(t, s.ForgetMetadata(ctx, id))
		md, err = s.GetMetadata(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, md)
	})
}
