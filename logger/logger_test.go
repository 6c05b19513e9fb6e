package logger_test

import (
	"bytes"
	stdlog "log"
	"os"
	"strings"
	"testing"

	"github.com/ampkernel/amp/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleLoggerDoesNotPanic(t *testing.T) {
	log := logger.NewSimpleLogger()
	log.Debug("debug message", "key", "value")
	log.Info("info message", "key", "value")
	log.Warn("warn message", "key", "value")
	log.Error("error message", "key", "value")
}

func TestWithFieldsIsImmutable(t *testing.T) {
	base := logger.NewSimpleLogger()
	scoped := base.WithField("component", "scheduler")

	require.NotSame(t, base, scoped)
	scoped.Info("hello")
}

func TestSetLevelGatesMessages(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		infoShown bool
		warnShown bool
	}{
		{"debug", "debug", true, true},
		{"info", "info", true, true},
		{"warn", "WARN", false, true},
		{"error", "Error", false, false},
		{"unrecognized", "trace", true, true},
	}

	var buf bytes.Buffer
	stdlog.SetOutput(&buf)
	t.Cleanup(func() { stdlog.SetOutput(os.Stderr) })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := logger.NewSimpleLogger()
			log.SetLevel(tt.level)
			assert.NotNil(t, log)

			buf.Reset()
			log.Info("info message")
			assert.Equal(t, tt.infoShown, strings.Contains(buf.String(), "[INFO]"))

			buf.Reset()
			log.Warn("warn message")
			assert.Equal(t, tt.warnShown, strings.Contains(buf.String(), "[WARN]"))
		})
	}
}

func TestLevelFromEnvDefaultsToInfo(t *testing.T) {
	t.Setenv("AMP_LOG_LEVEL", "")
	assert.Equal(t, "INFO", logger.LevelFromEnv())

	t.Setenv("AMP_LOG_LEVEL", "DEBUG")
	assert.Equal(t, "DEBUG", logger.LevelFromEnv())
}
