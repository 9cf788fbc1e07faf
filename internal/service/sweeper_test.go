package service

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/conversation-identity/internal/plugin/kv/memory"
	registrykv "github.com/chirino/conversation-identity/internal/registry/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nativeTTL hides Sweep, like a backend that expires keys itself.
type nativeTTL struct{ registrykv.KeyValueStore }

func TestSweeperService_RunOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	kv := memory.NewWithClock(func() time.Time { return now })
	require.NoError(t, kv.Put(ctx, "conv:p:last_tool_used", "tickets", time.Hour))
	require.NoError(t, kv.PutForever(ctx, "conv:alias:wa:5511999999999", "cpf:x"))

	s := NewSweeperService(kv, time.Minute)
	require.NotNil(t, s)
	s.now = func() time.Time { return now.Add(2 * time.Hour) }

	assert.Equal(t, 1, s.RunOnce(ctx))
	assert.Equal(t, 0, s.RunOnce(ctx))

	now = now.Add(2 * time.Hour)
	assert.Equal(t, []string{"conv:alias:wa:5511999999999"}, kv.Keys())
}

func TestSweeperService_Disabled(t *testing.T) {
	assert.Nil(t, NewSweeperService(memory.New(), 0))
	assert.Nil(t, NewSweeperService(nativeTTL{memory.New()}, time.Minute))
}
