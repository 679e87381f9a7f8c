package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/helixml/vecmatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNew_JSONCarriesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.LogFormatJSON, "INFO")

	ctx := WithCorrelationID(context.Background(), "run-123")
	logger.With("kind", "sources").InfoContext(ctx, "batch done", "batch", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "batch done", line["msg"])
	assert.Equal(t, "run-123", line[CorrelationIDAttr])
	assert.Equal(t, "sources", line["kind"])
	assert.EqualValues(t, 3, line["batch"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.LogFormatJSON, "WARN")

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestCorrelationID(t *testing.T) {
	assert.Empty(t, CorrelationID(context.Background()))

	id := NewCorrelationID()
	assert.Len(t, id, 36)
	assert.Equal(t, id, CorrelationID(WithCorrelationID(context.Background(), id)))
	assert.NotEqual(t, id, NewCorrelationID())
}
