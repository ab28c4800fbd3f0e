package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gal-Doron/Baragon-test-8/pkg/lb"
	"github.com/Gal-Doron/Baragon-test-8/pkg/registry"
)

func TestConfigChecker_NoDrift(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lb.conf"), []byte("server {}\n"), 0644))

	tracker := &ChecksumTracker{}
	sum, err := lb.DirChecksum(dir)
	require.NoError(t, err)
	tracker.Set(sum)

	checker := NewConfigChecker(dir, tracker, zap.NewNop())
	assert.NoError(t, checker.Run(context.Background()))
}

func TestConfigChecker_DriftIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lb.conf")
	require.NoError(t, os.WriteFile(path, []byte("server {}\n"), 0644))

	tracker := &ChecksumTracker{}
	sum, err := lb.DirChecksum(dir)
	require.NoError(t, err)
	tracker.Set(sum)

	require.NoError(t, os.WriteFile(path, []byte("server { edited out of band }\n"), 0644))

	checker := NewConfigChecker(dir, tracker, zap.NewNop())
	assert.NoError(t, checker.Run(context.Background()), "drift is reported, not returned")
}

func TestConfigChecker_NothingAppliedYet(t *testing.T) {
	dir := t.TempDir()
	checker := NewConfigChecker(dir, &ChecksumTracker{}, zap.NewNop())
	assert.NoError(t, checker.Run(context.Background()))
}

func TestConfigChecker_ReadErrorReturned(t *testing.T) {
	tracker := &ChecksumTracker{}
	tracker.Set("deadbeef")
	checker := NewConfigChecker("/nonexistent/path/for/test", tracker, zap.NewNop())
	assert.Error(t, checker.Run(context.Background()))
}

func stateCheckerFixture(t *testing.T) (*InternalStateChecker, *registry.Registry, registry.KnownAgentMetadata) {
	t.Helper()
	cfg := testConfig(t)
	kv := newMemKV()
	reg := registry.New(kv, zap.NewNop())

	known := registry.KnownAgentFromMetadata(registry.AgentMetadata{
		AgentID: cfg.AgentID,
		Host:    cfg.Host,
		Port:    cfg.Port,
	}, time.Now().UTC())

	checker := NewInternalStateChecker(reg, cfg, func() (registry.KnownAgentMetadata, bool) {
		return known, true
	}, zap.NewNop())
	return checker, reg, known
}

func TestInternalStateChecker_ReRegistersMissingEntry(t *testing.T) {
	checker, reg, known := stateCheckerFixture(t)
	require.NoError(t, reg.UpdateGroupInfo("web", "", nil, nil, 2))

	require.NoError(t, checker.Run(context.Background()))

	stored, err := reg.GetKnownAgent("web", known.AgentID)
	require.NoError(t, err)
	assert.Equal(t, known.AgentMetadata, stored.AgentMetadata)
}

func TestInternalStateChecker_ReRegistersDivergedEntry(t *testing.T) {
	checker, reg, known := stateCheckerFixture(t)
	require.NoError(t, reg.UpdateGroupInfo("web", "", nil, nil, 2))

	stale := known
	stale.Host = "old-hostname"
	require.NoError(t, reg.AddKnownAgent("web", stale))

	require.NoError(t, checker.Run(context.Background()))

	stored, err := reg.GetKnownAgent("web", known.AgentID)
	require.NoError(t, err)
	assert.Equal(t, known.Host, stored.Host)
}

func TestInternalStateChecker_NoopBeforeRegistration(t *testing.T) {
	cfg := testConfig(t)
	kv := newMemKV()
	reg := registry.New(kv, zap.NewNop())

	checker := NewInternalStateChecker(reg, cfg, func() (registry.KnownAgentMetadata, bool) {
		return registry.KnownAgentMetadata{}, false
	}, zap.NewNop())

	require.NoError(t, checker.Run(context.Background()))
	keys, err := kv.ListKeys("agents/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestInternalStateChecker_GroupDivergenceIsFlagOnly(t *testing.T) {
	checker, reg, _ := stateCheckerFixture(t)
	require.NoError(t, reg.UpdateGroupInfo("web", "", nil, nil, 99))

	require.NoError(t, checker.Run(context.Background()))

	info, err := reg.GetGroupInfo("web")
	require.NoError(t, err)
	assert.Equal(t, 99, info.MinHealthyAgents, "stored group info must be left alone")
}
