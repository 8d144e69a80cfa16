package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "json config", config: &Config{Level: "debug", Format: "json", Output: io.Discard}},
		{name: "console config", config: &Config{Level: "info", Format: "console", Output: io.Discard}},
		{name: "nil output falls back", config: &Config{Level: "warn"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, New(tt.config))
		})
	}
}

func TestLogger_JSONOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(&Config{Level: "info", Format: "json", Output: buf})

	l.Info("connected")

	entry := decode(t, buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "connected", entry["message"])
	assert.NotEmpty(t, entry["time"])
}

func TestLogger_ComponentAndFields(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(&Config{Level: "info", Format: "json", Output: buf})

	l.Component("postgres").With().
		Str("connection", "gis [localhost:5432]").
		Int("port", 5432).
		Logger().
		Info("session opened")

	entry := decode(t, buf)
	assert.Equal(t, "postgres", entry["component"])
	assert.Equal(t, "gis [localhost:5432]", entry["connection"])
	assert.Equal(t, float64(5432), entry["port"])
}

func TestLogger_ErrorWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(&Config{Level: "error", Format: "json", Output: buf})

	l.ErrorWith("table insert failed", errors.New("duplicate key value"), map[string]any{
		"table": "roads",
		"row":   3,
	})

	entry := decode(t, buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "duplicate key value", entry["error"])
	assert.Equal(t, "roads", entry["table"])
	assert.Equal(t, float64(3), entry["row"])
}

func TestLogger_Context(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(&Config{Level: "info", Format: "json", Output: buf})

	FromContext(l.WithContext(context.Background())).Info("from context")

	assert.Equal(t, "from context", decode(t, buf)["message"])
	assert.Same(t, Global(), FromContext(context.Background()))
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		logFunc  func(*Logger)
		expected bool
	}{
		{"debug level logs debug", "debug", func(l *Logger) { l.Debug("d") }, true},
		{"info level skips debug", "info", func(l *Logger) { l.Debugf("%s", "d") }, false},
		{"error level logs error", "error", func(l *Logger) { l.Errorf("e %d", 1) }, true},
		{"error level skips warn", "error", func(l *Logger) { l.Warn("w") }, false},
		{"disabled skips error", "disabled", func(l *Logger) { l.Error("e") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.logFunc(New(&Config{Level: tt.level, Format: "json", Output: buf}))

			if tt.expected {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestLogger_PgxTracer(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(&Config{Level: "debug", Format: "json", Output: buf})

	tracer := l.PgxTracer("debug")
	require.NotNil(t, tracer)
	assert.Equal(t, tracelog.LogLevelDebug, tracer.LogLevel)

	tracer.Logger.Log(context.Background(), tracelog.LogLevelInfo, "Query", map[string]any{"sql": "select 1"})

	entry := decode(t, buf)
	assert.Equal(t, "pgx", entry["module"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "select 1", entry["sql"])

	assert.Equal(t, tracelog.LogLevelWarn, l.PgxTracer("nonsense").LogLevel)
}

func BenchmarkLogger_Info(b *testing.B) {
	l := New(&Config{Level: "info", Format: "json", Output: io.Discard})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Info("benchmark message")
	}
}
