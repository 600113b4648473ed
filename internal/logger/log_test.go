package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-progress/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestJSONHandlerTagsService(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LogConfig{Level: "info"}))

	log.Debug("hidden")
	log.Info("daily.cycle.done", "date", "2024-03-13")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "daily.cycle.done", rec["msg"])
	assert.Equal(t, "smart-progress", rec["service"])
	assert.Equal(t, "2024-03-13", rec["date"])
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LogConfig{Level: "debug", Format: "text"}))

	log.Debug("job.start", "job", "daily_report")

	assert.Contains(t, buf.String(), "msg=job.start")
	assert.Contains(t, buf.String(), "service=smart-progress")
	assert.Contains(t, buf.String(), "job=daily_report")
}
