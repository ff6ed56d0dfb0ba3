package observability

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)
	fn()
	return buf.String()
}

func TestStandardLoggerLevelFiltering(t *testing.T) {
	logger := NewStandardLogger("test")

	out := captureOutput(t, func() {
		logger.Debug("hidden", nil)
		logger.Info("shown", nil)
	})

	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "[test]")
}

func TestStandardLoggerDebugLevel(t *testing.T) {
	logger := NewStandardLoggerWithLevel("test", LogLevelDebug)

	out := captureOutput(t, func() {
		logger.Debug("visible now", nil)
	})
	assert.Contains(t, out, "visible now")
	assert.Contains(t, out, "[DEBUG]")
}

func TestStandardLoggerFields(t *testing.T) {
	logger := NewStandardLogger("test")

	out := captureOutput(t, func() {
		logger.Info("message", map[string]interface{}{
			"band_id": 7,
			"tag":     "trending",
		})
	})
	assert.Contains(t, out, "band_id=7")
	assert.Contains(t, out, "tag=trending")
}

func TestStandardLoggerWith(t *testing.T) {
	logger := NewStandardLogger("test").With(map[string]interface{}{"component": "warming"})

	out := captureOutput(t, func() {
		logger.Warn("slow warm", map[string]interface{}{"items": 3})
	})
	assert.Contains(t, out, "component=warming")
	assert.Contains(t, out, "items=3")
}

func TestStandardLoggerWithPrefix(t *testing.T) {
	logger := NewStandardLogger("server").WithPrefix("database")

	out := captureOutput(t, func() {
		logger.Error("probe failed", nil)
	})
	assert.Contains(t, out, "[database]")
	assert.NotContains(t, out, "[server]")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, LogLevelWarn, ParseLogLevel("WARNING"))
	assert.Equal(t, LogLevelError, ParseLogLevel(" error "))
	assert.Equal(t, LogLevelInfo, ParseLogLevel("bogus"))
	assert.Equal(t, LogLevelInfo, ParseLogLevel(""))
}

func TestNoopLoggerIsSilent(t *testing.T) {
	logger := NewNoopLogger()

	out := captureOutput(t, func() {
		logger.Error("nothing", map[string]interface{}{"k": "v"})
		logger.Infof("nothing %d", 42)
	})
	assert.Empty(t, out)
}
