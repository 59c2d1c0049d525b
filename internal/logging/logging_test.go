package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		assert.Equal(t, want, LevelFromString(in), "level %q", in)
	}
}

func TestNew(t *testing.T) {
	t.Run("JSON format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, "warn", "json")

		logger.Info("dropped")
		logger.Warn("kept", slog.String("run_id", "abc"))

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "kept", entry["msg"])
		assert.Equal(t, "abc", entry["run_id"])
	})

	t.Run("Console format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, "DEBUG", "text")

		logger.Debug("polling", slog.Int("attempt", 2))
		assert.Contains(t, buf.String(), "polling")
		assert.Contains(t, buf.String(), "attempt")
	})
}
