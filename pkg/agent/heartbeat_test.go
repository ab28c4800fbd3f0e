package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gal-Doron/Baragon-test-8/pkg/registry"
)

func TestHeartbeatWorker_PublishesRecord(t *testing.T) {
	kv := newMemKV()
	reg := registry.New(kv, zap.NewNop())
	worker := NewHeartbeatWorker(reg, "web", "agent-1", 30*time.Second, zap.NewNop())

	require.NoError(t, worker.Run(context.Background()))

	hb, err := reg.GetHeartbeat("web", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", hb.AgentID)
	assert.WithinDuration(t, time.Now(), hb.At, 5*time.Second)
}

func TestHeartbeatWorker_RefreshOverwrites(t *testing.T) {
	kv := newMemKV()
	reg := registry.New(kv, zap.NewNop())
	worker := NewHeartbeatWorker(reg, "web", "agent-1", 30*time.Second, zap.NewNop())

	require.NoError(t, worker.Run(context.Background()))
	require.NoError(t, worker.Run(context.Background()))

	assert.Equal(t, 2, kv.sets("heartbeats/web/agent-1"))
}

type failingKV struct{ *memKV }

func (f failingKV) SetWithTTL(key string, value []byte, ttl time.Duration) error {
	return assert.AnError
}

func TestHeartbeatWorker_StoreFailureReturned(t *testing.T) {
	reg := registry.New(failingKV{newMemKV()}, zap.NewNop())
	worker := NewHeartbeatWorker(reg, "web", "agent-1", 30*time.Second, zap.NewNop())

	assert.Error(t, worker.Run(context.Background()))
}
