package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		log, err := New(LogConfig{Level: "debug", Format: format})
		require.NoError(t, err)
		require.NotNil(t, log)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	}
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, err := New(LogConfig{Level: "loud", Format: "text"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestConvertFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := &Logger{Logger: zap.New(core)}

	log.Info("stream live", "camera", "owner1.dev2", "attempt", 3, 42, "dropped", "error", errors.New("boom"))

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "owner1.dev2", ctx["camera"])
	assert.EqualValues(t, 3, ctx["attempt"])
	assert.Equal(t, "boom", ctx["error"])
	assert.NotContains(t, ctx, "dropped")
}

func TestNamedAndWith(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := (&Logger{Logger: zap.New(core)}).Named("thumbnail").With("camera", "a.b")

	log.Info("refreshed")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "thumbnail", entry.LoggerName)
	assert.Equal(t, "a.b", entry.ContextMap()["camera"])
}

func TestSensitiveKeysRedacted(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := (&Logger{Logger: zap.New(core)}).With("Authorization", "ManythingToken abc")

	log.Debug("login", "email", "user@example.com", "password", "hunter2", "api_key", "AIza123")

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "user@example.com", ctx["email"])
	assert.Equal(t, "[REDACTED]", ctx["password"])
	assert.Equal(t, "[REDACTED]", ctx["api_key"])
	assert.Equal(t, "[REDACTED]", ctx["Authorization"])
}

func TestNew_StderrOutput(t *testing.T) {
	log, err := New(LogConfig{Level: "warn", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	log.Sync()
}

func TestSetLevel_SharedWithChildren(t *testing.T) {
	log, err := New(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	child := log.Named("stream").With("camera", "o.d")

	assert.False(t, child.Core().Enabled(zapcore.DebugLevel))
	require.NoError(t, log.SetLevel("debug"))
	assert.True(t, child.Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, log.SetLevel("loud"))
	assert.Error(t, NewNopLogger().SetLevel("debug"))
}
