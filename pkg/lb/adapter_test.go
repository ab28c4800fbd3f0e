package lb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gal-Doron/Baragon-test-8/pkg/config"
)

func TestApplyCurrentConfigs_Success(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "reloaded")
	adapter := NewCommandAdapter(config.LoadBalancerConfig{
		CheckConfigCommand:  "true",
		ReloadConfigCommand: "touch " + marker,
	}, zap.NewNop())

	require.NoError(t, adapter.ApplyCurrentConfigs(context.Background()))
	assert.FileExists(t, marker)
}

func TestApplyCurrentConfigs_CheckFailureSkipsReload(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "reloaded")
	adapter := NewCommandAdapter(config.LoadBalancerConfig{
		CheckConfigCommand:  "false",
		ReloadConfigCommand: "touch " + marker,
	}, zap.NewNop())

	err := adapter.ApplyCurrentConfigs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config check failed")
	assert.NoFileExists(t, marker, "reload must not run after a failed check")
}

func TestApplyCurrentConfigs_ReloadFailure(t *testing.T) {
	adapter := NewCommandAdapter(config.LoadBalancerConfig{
		ReloadConfigCommand: "exit 3",
	}, zap.NewNop())

	err := adapter.ApplyCurrentConfigs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config reload failed")
}

func TestApplyCurrentConfigs_NoCheckCommand(t *testing.T) {
	adapter := NewCommandAdapter(config.LoadBalancerConfig{
		ReloadConfigCommand: "true",
	}, zap.NewNop())

	assert.NoError(t, adapter.ApplyCurrentConfigs(context.Background()))
}

func TestApplyCurrentConfigs_ErrorIncludesOutput(t *testing.T) {
	adapter := NewCommandAdapter(config.LoadBalancerConfig{
		ReloadConfigCommand: "echo bad directive on line 7; exit 1",
	}, zap.NewNop())

	err := adapter.ApplyCurrentConfigs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad directive on line 7")
}

func TestTriggerLogrotate(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "rotated")
	adapter := NewCommandAdapter(config.LoadBalancerConfig{
		LogRotateCommand: "touch " + marker,
	}, zap.NewNop())

	adapter.TriggerLogrotate()
	assert.FileExists(t, marker)
}

func TestTriggerLogrotate_FailureDoesNotPanic(t *testing.T) {
	adapter := NewCommandAdapter(config.LoadBalancerConfig{
		LogRotateCommand: "exit 1",
	}, zap.NewNop())

	adapter.TriggerLogrotate()
}

func TestTriggerLogrotate_NoCommand(t *testing.T) {
	adapter := NewCommandAdapter(config.LoadBalancerConfig{}, zap.NewNop())
	adapter.TriggerLogrotate()
}

func TestDirChecksum_StableAcrossReads(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.conf"), []byte("upstream a\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "conf.d"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conf.d", "b.conf"), []byte("upstream b\n"), 0644))

	first, err := DirChecksum(dir)
	require.NoError(t, err)
	second, err := DirChecksum(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDirChecksum_ChangesOnEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.conf")
	require.NoError(t, os.WriteFile(path, []byte("upstream a\n"), 0644))

	before, err := DirChecksum(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("upstream a; edited\n"), 0644))
	after, err := DirChecksum(dir)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestDirChecksum_ChangesOnRename(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.conf"), []byte("x"), 0644))

	before, err := DirChecksum(dir)
	require.NoError(t, err)

	require.NoError(t, os.Rename(filepath.Join(dir, "a.conf"), filepath.Join(dir, "b.conf")))
	after, err := DirChecksum(dir)
	require.NoError(t, err)
	assert.NotEqual(t, before, after, "checksum covers file names, not just contents")
}

func TestDirChecksum_MissingDir(t *testing.T) {
	_, err := DirChecksum("/nonexistent/path/for/test")
	assert.Error(t, err)
}
