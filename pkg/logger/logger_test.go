package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/koopa0/system-design/14-rps-arena/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}

	for input, expected := range tests {
		assert.Equal(t, expected, logger.ParseLevel(input), "level %q", input)
	}
}

func TestNew_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, "info", "json")

	ctx := logger.WithConnID(context.Background(), "conn-1")
	ctx = logger.WithRoomCode(ctx, "ABC234")
	log.With("component", "game").InfoContext(ctx, "回合結算", "round", 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "回合結算", entry["msg"])
	assert.Equal(t, "conn-1", entry["conn_id"])
	assert.Equal(t, "ABC234", entry["room_code"])
	assert.Equal(t, "game", entry["component"])
	assert.Equal(t, float64(2), entry["round"])
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, "warn", "text")

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
