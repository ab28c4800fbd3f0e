package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger_ValidLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "fatal", "INFO", "Debug"} {
		t.Run(level, func(t *testing.T) {
			logger, err := NewLogger(level)
			require.NoError(t, err)
			require.NotNil(t, logger)
			logger.Info("test message")
		})
	}
}

func TestNewLogger_InvalidLevels(t *testing.T) {
	for _, level := range []string{"", "verbose", "123", "inf@!"} {
		t.Run(level, func(t *testing.T) {
			logger, err := NewLogger(level)
			require.Error(t, err)
			assert.Nil(t, logger)
			assert.Contains(t, err.Error(), "unknown log level")
		})
	}
}

func TestWithFields(t *testing.T) {
	logger, err := NewLogger("info")
	require.NoError(t, err)

	child := WithFields(logger, zap.String("agent_id", "agent-1"), zap.Int("port", 8080))
	require.NotNil(t, child)
	child.Info("message with fields")

	grandchild := WithFields(child, zap.String("group", "web"))
	require.NotNil(t, grandchild)
	grandchild.Info("message with more fields")
}
