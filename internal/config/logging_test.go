package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLoggerWithWriters_Fanout(t *testing.T) {
	var stderr, file bytes.Buffer
	log := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	log.Debug("hidden")
	log.Info("run completed", "pipeline", "movies", "loaded", 3)

	assert.Contains(t, stderr.String(), "msg=\"run completed\"")
	assert.Contains(t, stderr.String(), "pipeline=movies")
	assert.NotContains(t, stderr.String(), "hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &entry))
	assert.Equal(t, "run completed", entry["msg"])
	assert.Equal(t, float64(3), entry["loaded"])
}

func TestSetupLogger_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moviesync.log")
	log, cleanup := SetupLogger(path, slog.LevelInfo)
	log.Info("page processed", "page", 1)
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"page processed"`)
}

func TestSetupLogger_FallsBackToStderr(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "moviesync.log")
	log, cleanup := SetupLogger(path, slog.LevelInfo)
	require.NotNil(t, log)
	assert.NoError(t, cleanup())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}
