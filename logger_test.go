package tiercache

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	slogHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Remove time for consistent test output
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})

	logger := &defaultSlogLogger{
		slogger: slog.New(slogHandler),
	}

	logger.Debug("evicted entry", "key", "a", "policy", "lru")
	logger.Info("backend registered")
	logger.Warn("corrupted record", "key", "b")
	logger.Error("disk write failed", "error", "boom")

	logOutput := buf.String()

	expected := []string{
		`level=DEBUG msg="evicted entry" key=a policy=lru`,
		`level=INFO msg="backend registered"`,
		`level=WARN msg="corrupted record" key=b`,
		`level=ERROR msg="disk write failed" error=boom`,
	}
	for _, want := range expected {
		if !strings.Contains(logOutput, want) {
			t.Errorf("Expected log output to contain: %s\nGot: %s", want, logOutput)
		}
	}
}

func TestLoggerSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newSlogLogger(&buf, slog.LevelInfo)

	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("Expected debug message to be filtered at info level, got: %s", buf.String())
	}

	logger.SetLevel(LogLevelDebug)
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("Expected debug message after SetLevel, got: %s", buf.String())
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Error("nothing to see", "key", "value")
	logger.SetLevel(LogLevelDebug)
	logger.Debug("still nothing")
}
