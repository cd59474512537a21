package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(zap.NewNop()) })

	Debug("debug msg", "k", 1)
	Info("info msg")
	Warn("warn msg", "status", "0xf002")
	Error("error msg")
	Log(Level("bogus"), "fallback msg")

	entries := logs.All()
	require.Len(t, entries, 5)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, int64(1), entries[0].ContextMap()["k"])
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "0xf002", entries[2].ContextMap()["status"])
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[4].Level)
}

func TestInit(t *testing.T) {
	t.Cleanup(func() { SetLogger(zap.NewNop()) })

	t.Run("bad level", func(t *testing.T) {
		assert.Error(t, Init(Config{Level: "loud"}))
	})

	t.Run("bad encoding", func(t *testing.T) {
		assert.Error(t, Init(Config{Encoding: "xml"}))
	})

	t.Run("rotating file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "drm.log")
		require.NoError(t, Init(Config{Level: "info", File: path}))

		Info("written to file", "op", "perform_sealed_policy")
		_ = Sync()

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(b), "perform_sealed_policy")
	})
}
