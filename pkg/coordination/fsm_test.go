package coordination

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func applyCommand(t *testing.T, f *fsm, cmd command) interface{} {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	return f.Apply(&raft.Log{Data: data, Index: 1})
}

func TestFSM_SetGet(t *testing.T) {
	f := newFSM(zap.NewNop())

	resp := applyCommand(t, f, command{Op: "set", Key: "groups/web", Value: []byte("info")})
	assert.Nil(t, resp)

	value, err := f.get("groups/web")
	require.NoError(t, err)
	assert.Equal(t, []byte("info"), value)
}

func TestFSM_GetMissing(t *testing.T) {
	f := newFSM(zap.NewNop())

	_, err := f.get("absent")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestFSM_Delete(t *testing.T) {
	f := newFSM(zap.NewNop())

	applyCommand(t, f, command{Op: "set", Key: "k", Value: []byte("v")})
	applyCommand(t, f, command{Op: "delete", Key: "k"})

	_, err := f.get("k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestFSM_ExpiredKeyIsGone(t *testing.T) {
	f := newFSM(zap.NewNop())

	applyCommand(t, f, command{
		Op:        "set",
		Key:       "heartbeats/web/agent-1",
		Value:     []byte("hb"),
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	})

	_, err := f.get("heartbeats/web/agent-1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Empty(t, f.keys("heartbeats/"))
}

func TestFSM_FutureExpiryStillLive(t *testing.T) {
	f := newFSM(zap.NewNop())

	applyCommand(t, f, command{
		Op:        "set",
		Key:       "heartbeats/web/agent-1",
		Value:     []byte("hb"),
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})

	value, err := f.get("heartbeats/web/agent-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hb"), value)
}

func TestFSM_KeysByPrefix(t *testing.T) {
	f := newFSM(zap.NewNop())

	applyCommand(t, f, command{Op: "set", Key: "agents/web/a1", Value: []byte("1")})
	applyCommand(t, f, command{Op: "set", Key: "agents/web/a2", Value: []byte("2")})
	applyCommand(t, f, command{Op: "set", Key: "agents/other/a3", Value: []byte("3")})

	assert.ElementsMatch(t, []string{"agents/web/a1", "agents/web/a2"}, f.keys("agents/web/"))
	assert.Len(t, f.keys("agents/"), 3)
	assert.Empty(t, f.keys("groups/"))
}

func TestFSM_UnknownOperation(t *testing.T) {
	f := newFSM(zap.NewNop())

	resp := applyCommand(t, f, command{Op: "increment", Key: "k"})
	err, ok := resp.(error)
	require.True(t, ok)
	assert.Contains(t, err.Error(), "unknown operation")
}

type memorySink struct {
	bytes.Buffer
	cancelled bool
}

func (s *memorySink) ID() string    { return "memory" }
func (s *memorySink) Cancel() error { s.cancelled = true; return nil }
func (s *memorySink) Close() error  { return nil }

func TestFSM_SnapshotRestore(t *testing.T) {
	f := newFSM(zap.NewNop())

	applyCommand(t, f, command{Op: "set", Key: "groups/web", Value: []byte("info")})
	f.mu.Lock()
	f.data["heartbeats/web/a1"] = &record{
		Value:     []byte("hb"),
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	}
	f.mu.Unlock()

	snap, err := f.Snapshot()
	require.NoError(t, err)

	sink := &memorySink{}
	require.NoError(t, snap.Persist(sink))
	snap.Release()

	restored := newFSM(zap.NewNop())
	require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	value, err := restored.get("groups/web")
	require.NoError(t, err)
	assert.Equal(t, []byte("info"), value)

	// Expired entries are dropped on restore.
	_, err = restored.get("heartbeats/web/a1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
