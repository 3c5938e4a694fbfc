package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/geopulse/pkg/geopulse"
)

func TestZerologLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		log   func(l *Logger)
		level string
	}{
		{"debug", func(l *Logger) { l.Debug("m") }, "debug"},
		{"info", func(l *Logger) { l.Info("m") }, "info"},
		{"warn", func(l *Logger) { l.Warn("m") }, "warn"},
		{"error", func(l *Logger) { l.Error("m") }, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			zlog := zerolog.New(&out)
			tt.log(NewLogger(&zlog))

			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(out.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "m", entry["message"])
		})
	}
}

func TestZerologLogger_LogLevelFiltering(t *testing.T) {
	var out bytes.Buffer
	zlog := zerolog.New(&out).Level(zerolog.WarnLevel)
	logger := NewLogger(&zlog)

	logger.Debug("debug message")
	logger.Info("info message")
	if out.Len() != 0 {
		t.Error("Expected debug and info to be filtered out")
	}

	logger.Warn("warn message")
	if out.Len() == 0 {
		t.Error("Expected warn to be logged")
	}
}

func TestZerologLogger_TypedFields(t *testing.T) {
	var out bytes.Buffer
	zlog := zerolog.New(&out)
	logger := NewLogger(&zlog)

	logger.Info("batch completed",
		geopulse.Field{Key: "run_id", Value: "r-1"},
		geopulse.Field{Key: "properties", Value: 3},
		geopulse.Field{Key: "success_rate_pct", Value: 66.6667},
		geopulse.Field{Key: "ok", Value: true},
		geopulse.Field{Key: "cause", Value: errors.New("boom")},
		geopulse.Field{Key: "window", Value: []string{"before"}},
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &entry))
	assert.Equal(t, "r-1", entry["run_id"])
	assert.Equal(t, float64(3), entry["properties"])
	assert.Equal(t, 66.6667, entry["success_rate_pct"])
	assert.Equal(t, true, entry["ok"])
	assert.Equal(t, "boom", entry["cause"])
	assert.Equal(t, []interface{}{"before"}, entry["window"])
}

func TestZerologLogger_ImplementsInterface(t *testing.T) {
	zlog := zerolog.Nop()
	var _ geopulse.Logger = NewLogger(&zlog)
}
