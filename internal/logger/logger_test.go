package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing.
// Returns the buffer and a cleanup function to restore original output.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false // disable colors for easier testing
	mu.Unlock()

	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}

	return buf, cleanup
}

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		output := buf.String()
		assert.Contains(t, output, "debug message")
		assert.Contains(t, output, "info message")
		assert.Contains(t, output, "warn message")
		assert.Contains(t, output, "error message")
	})

	t.Run("InfoLevelFiltersDebug", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")

		Debug("debug message")
		Info("info message")

		output := buf.String()
		assert.NotContains(t, output, "debug message")
		assert.Contains(t, output, "info message")
	})

	t.Run("ErrorLevelShowsOnlyErrors", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("ERROR")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		output := buf.String()
		assert.NotContains(t, output, "debug message")
		assert.NotContains(t, output, "info message")
		assert.NotContains(t, output, "warn message")
		assert.Contains(t, output, "error message")

		SetLevel("INFO")
	})
}

func TestSetLevel(t *testing.T) {
	t.Run("SetLevelIsCaseInsensitive", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("debug")
		Debug("lowercase works")

		assert.Contains(t, buf.String(), "lowercase works")
		SetLevel("INFO")
	})

	t.Run("SetLevelIgnoresInvalidValues", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		SetLevel("VERBOSE") // invalid, ignored

		Debug("should not appear")
		Info("should appear")

		output := buf.String()
		assert.NotContains(t, output, "should not appear")
		assert.Contains(t, output, "should appear")
	})
}

func TestMessageFormatting(t *testing.T) {
	t.Run("FormatsMessagesWithStructuredFields", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		Info("file stored", "store", "avatars", "file_id", "abc-123", "size", 42)

		output := buf.String()
		assert.Contains(t, output, "file stored")
		assert.Contains(t, output, "store=avatars")
		assert.Contains(t, output, "file_id=abc-123")
		assert.Contains(t, output, "size=42")
	})

	t.Run("HandlesEmptyMessages", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		Info("")

		assert.Contains(t, buf.String(), "INFO")
	})
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}

func TestJSONFormat(t *testing.T) {
	t.Run("JSONFormatProducesValidJSON", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetFormat("json")
		defer SetFormat("text")

		Info("json message", "store", "default")

		line := strings.TrimSpace(buf.String())
		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &decoded))
		assert.Equal(t, "json message", decoded["msg"])
		assert.Equal(t, "default", decoded["store"])
	})

	t.Run("InvalidFormatIgnored", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetFormat("text")
		SetFormat("xml") // invalid, ignored

		Info("still text")

		assert.Contains(t, buf.String(), "[INFO]")
	})
}

func TestContextLogging(t *testing.T) {
	t.Run("LogContextInjectsFields", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		lc := NewLogContext("req-1").WithFile("avatars", "abc-123")
		ctx := WithContext(context.Background(), lc)

		InfoCtx(ctx, "serving file")

		output := buf.String()
		assert.Contains(t, output, "request_id=req-1")
		assert.Contains(t, output, "store=avatars")
		assert.Contains(t, output, "file_id=abc-123")
	})

	t.Run("ContextWithoutLogContextHandled", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		InfoCtx(context.Background(), "no log context")

		assert.Contains(t, buf.String(), "no log context")
	})
}

func TestLogContext(t *testing.T) {
	t.Run("Clone", func(t *testing.T) {
		lc := NewLogContext("req-1").WithFile("avatars", "abc").WithClient("10.0.0.1")
		clone := lc.Clone()

		require.NotNil(t, clone)
		assert.Equal(t, lc.RequestID, clone.RequestID)
		assert.Equal(t, lc.Store, clone.Store)
		assert.Equal(t, lc.FileID, clone.FileID)
		assert.Equal(t, lc.ClientIP, clone.ClientIP)
	})

	t.Run("CloneNil", func(t *testing.T) {
		var lc *LogContext
		assert.Nil(t, lc.Clone())
	})
}

func TestFieldHelpers(t *testing.T) {
	t.Run("ErrHandlesNil", func(t *testing.T) {
		attr := Err(nil)
		assert.Equal(t, "", attr.Value.String())
	})

	t.Run("ErrFormatsError", func(t *testing.T) {
		attr := Err(errors.New("boom"))
		assert.Equal(t, "boom", attr.Value.String())
	})

	t.Run("SizeIsInt64", func(t *testing.T) {
		attr := Size(1024)
		assert.Equal(t, int64(1024), attr.Value.Int64())
	})
}

func TestConcurrentLogging(t *testing.T) {
	t.Run("ConcurrentLogsDoNotRace", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")

		const numGoroutines = 10
		const logsPerGoroutine = 50

		var wg sync.WaitGroup
		wg.Add(numGoroutines)

		for i := 0; i < numGoroutines; i++ {
			go func(id int) {
				defer wg.Done()
				for j := 0; j < logsPerGoroutine; j++ {
					Info("goroutine log", "id", id, "iteration", j)
				}
			}(i)
		}

		wg.Wait()

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		assert.Equal(t, numGoroutines*logsPerGoroutine, len(lines))
	})
}
