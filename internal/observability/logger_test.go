package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/relayarr/internal/config"
)

// newCaptureLogger returns a JSON logger at the given level together with the
// buffer it writes into.
func newCaptureLogger(level string) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: level, Format: "json"}, &buf)
	return logger, &buf
}

func TestNewLoggerWithWriter_JSONFormat(t *testing.T) {
	logger, buf := newCaptureLogger("info")

	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, `"key":"value"`)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &parsed))
}

func TestNewLoggerWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Info("test message", slog.String("key", "value"))

	assert.Contains(t, buf.String(), "test message")
	assert.Contains(t, buf.String(), "key=value")
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	tests := []struct {
		name        string
		configLevel string
		logLevel    slog.Level
		shouldLog   bool
	}{
		{"debug logs at debug level", "debug", slog.LevelDebug, true},
		{"debug logs at info level", "debug", slog.LevelInfo, true},
		{"info does not log debug", "info", slog.LevelDebug, false},
		{"info logs at info level", "info", slog.LevelInfo, true},
		{"warn does not log info", "warn", slog.LevelInfo, false},
		{"warn logs at warn level", "warn", slog.LevelWarn, true},
		{"error does not log warn", "error", slog.LevelWarn, false},
		{"error logs at error level", "error", slog.LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newCaptureLogger(tt.configLevel)

			logger.Log(context.Background(), tt.logLevel, "test")

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestNewLoggerWithWriter_RedactsPasswordFields(t *testing.T) {
	logger, buf := newCaptureLogger("debug")

	auth := config.AuthConfig{
		Username: "encoder",
		Password: "super-secret",
	}
	logger.Debug("configuration loaded", slog.Any("auth", auth))

	output := buf.String()
	assert.Contains(t, output, "encoder")
	assert.Contains(t, output, "[REDACTED]")
	assert.NotContains(t, output, "super-secret")
}

func TestNewLoggerWithWriter_CustomTimeFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		TimeFormat: "2006-01-02",
	}, &buf)

	logger.Info("test message")

	assert.Contains(t, buf.String(), time.Now().Format("2006-01-02"))
}

func TestFieldHelpers(t *testing.T) {
	tests := []struct {
		name   string
		tag    func(*slog.Logger) *slog.Logger
		expect string
	}{
		{
			"component",
			func(l *slog.Logger) *slog.Logger { return WithComponent(l, "relay") },
			`"component":"relay"`,
		},
		{
			"stream key",
			func(l *slog.Logger) *slog.Logger { return WithStreamKey(l, "abcd-1234") },
			`"stream_key":"abcd-1234"`,
		},
		{
			"session id",
			func(l *slog.Logger) *slog.Logger { return WithSessionID(l, "abcd-1234_20260102_150405") },
			`"session_id":"abcd-1234_20260102_150405"`,
		},
		{
			"error",
			func(l *slog.Logger) *slog.Logger { return WithError(l, errors.New("something went wrong")) },
			`"error":"something went wrong"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newCaptureLogger("info")

			tt.tag(logger).Info("test")

			assert.Contains(t, buf.String(), tt.expect)
		})
	}
}

func TestWithError_NilLeavesLoggerUntouched(t *testing.T) {
	logger, buf := newCaptureLogger("info")

	WithError(logger, nil).Info("test")

	assert.NotContains(t, buf.String(), `"error"`)
}

func TestLoggerContextRoundTrip(t *testing.T) {
	logger, buf := newCaptureLogger("info")

	ctx := ContextWithLogger(context.Background(), logger)
	LoggerFromContext(ctx).Info("from context")

	assert.Contains(t, buf.String(), "from context")
}

func TestLoggerFromContext_FallsBackToDefault(t *testing.T) {
	assert.NotNil(t, LoggerFromContext(context.Background()))
}

func TestRequestIDContextRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-789")
	assert.Equal(t, "req-789", RequestIDFromContext(ctx))

	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}
