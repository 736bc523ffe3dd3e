package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/reliabus/relay"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"trace": relay.LevelTrace,
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(&buf, "reliabus", "info", "json")

	logger.Debug("hidden")
	logger.Info("shown", "key", "value")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "reliabus", entry["service"])
	assert.Equal(t, Version, entry["version"])
	assert.Equal(t, "value", entry["key"])
	assert.Contains(t, entry, "pid")
}

func TestSetupLogger_TraceLevelName(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(&buf, "reliabus", "trace", "text")

	logger.Log(context.Background(), relay.LevelTrace, "per message")

	assert.Contains(t, buf.String(), "level=TRACE")
	assert.Contains(t, buf.String(), "per message")
}

func TestSetupLogger_TraceHiddenAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(&buf, "reliabus", "debug", "text")

	logger.Log(context.Background(), relay.LevelTrace, "per message")
	logger.Debug("debug line")

	assert.NotContains(t, buf.String(), "per message")
	assert.Contains(t, buf.String(), "debug line")
}
