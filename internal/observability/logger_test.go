package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		env, level string
		expected   zapcore.Level
	}{
		{"", "", zap.InfoLevel},
		{"dev", "", zap.DebugLevel},
		{"development", "warn", zap.WarnLevel},
		{"production", "DEBUG", zap.DebugLevel},
		{"staging", "", zap.InfoLevel},
		{"", "ERROR", zap.ErrorLevel},
		{"", "verbose", zap.InfoLevel},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, LevelFor(tc.env, tc.level), "env=%q level=%q", tc.env, tc.level)
	}
}

func TestInitLoggerWithLevel(t *testing.T) {
	logger, err := InitLoggerWithLevel(zap.WarnLevel, "adselection-test")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.ErrorLevel))
}
