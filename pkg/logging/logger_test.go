package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, LevelInfo, cfg.Level)
	assert.False(t, cfg.Pretty, "JSON output by default")
	assert.NotNil(t, cfg.Output)
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name  string
		level LogLevel
		emit  func(zerolog.Logger, string)
	}{
		{"info_level", LevelInfo, func(l zerolog.Logger, msg string) { l.Info().Msg(msg) }},
		{"debug_level", LevelDebug, func(l zerolog.Logger, msg string) { l.Debug().Msg(msg) }},
		{"warn_level", LevelWarn, func(l zerolog.Logger, msg string) { l.Warn().Msg(msg) }},
		{"error_level", LevelError, func(l zerolog.Logger, msg string) { l.Error().Msg(msg) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})

			msg := "test " + string(tt.level) + " message"
			tt.emit(logger, msg)

			assert.Contains(t, buf.String(), msg)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input LogLevel
		want  zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger(ComponentAggregator)
	logger.Info().Msg("fan-out finished")

	assert.Contains(t, buf.String(), `"component":"aggregator"`)
	assert.Contains(t, buf.String(), "fan-out finished")
}

func TestOrDefault(t *testing.T) {
	buf := &bytes.Buffer{}
	injected := zerolog.New(buf)

	logger := OrDefault(&injected, ComponentCache)
	logger.Info().Msg("injected")

	assert.NotContains(t, buf.String(), "component", "injected logger should be used unchanged")
	assert.Contains(t, buf.String(), "injected")
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})

	logger := NewLogger(ComponentThrottle)
	logger.Debug().Msg("waiting for slot")
	logger.Info().Msg("slot granted")
	logger.Warn().Msg("source rate limited")
	logger.Error().Msg("retries exhausted")

	output := buf.String()
	assert.NotContains(t, output, "waiting for slot")
	assert.NotContains(t, output, "slot granted")
	assert.Contains(t, output, "source rate limited")
	assert.Contains(t, output, "retries exhausted")
}
