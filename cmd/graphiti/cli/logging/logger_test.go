package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), "input %q", tt.in)
	}
}

func TestInitWritesJSONToFile(t *testing.T) {
	stateDir := t.TempDir()
	t.Setenv(LogLevelEnvVar, "debug")

	Init(stateDir)
	ctx := WithComponent(context.Background(), "capture")
	ctx = WithSession(ctx, "sess-1")
	Info(ctx, "pipeline started", slog.Int("batch_size", 10))
	Close()

	data, err := os.ReadFile(filepath.Join(stateDir, "logs", LogFileName))
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "pipeline started", entry["msg"])
	assert.Equal(t, "capture", entry["component"])
	assert.Equal(t, "sess-1", entry["session_id"])
	assert.Equal(t, float64(10), entry["batch_size"])
}

func TestInitFallsBackWhenDirUnwritable(t *testing.T) {
	// A file where the logs dir should be forces the stderr fallback; no
	// panic, logging still works.
	stateDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "logs"), []byte("x"), 0o644))

	Init(stateDir)
	defer Close()
	Info(context.Background(), "still alive")
}

func TestLogDuration(t *testing.T) {
	stateDir := t.TempDir()
	Init(stateDir)
	LogDuration(context.Background(), slog.LevelInfo, "done", time.Now().Add(-50*time.Millisecond))
	Close()

	data, err := os.ReadFile(filepath.Join(stateDir, "logs", LogFileName))
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.GreaterOrEqual(t, entry["duration_ms"], float64(50))
}
