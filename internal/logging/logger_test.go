package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{" warn ", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithSink("info", FormatJSON, zapcore.AddSync(&buf))

	For(logger, "session").Debugw("hidden")
	For(logger, "session").Infow("Session started", "plant", 7)
	require.NoError(t, logger.Sync())

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "Session started", line["msg"])
	assert.Equal(t, "session", line["component"])
	assert.Equal(t, "INFO", line["level"])
	assert.EqualValues(t, 7, line["plant"])
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithSink("debug", FormatConsole, zapcore.AddSync(&buf))
	logger.Named("api").Debug("request")
	require.NoError(t, logger.Sync())
	assert.Contains(t, buf.String(), " | api | ")
}
