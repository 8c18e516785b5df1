package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithLevel("test", &buf, slog.LevelInfo)

	logger.Info("Import started", "organization", "org1", "batch", 3)

	line := buf.String()
	if !strings.Contains(line, "[test]") {
		t.Errorf("expected source tag in %q", line)
	}
	if !strings.Contains(line, "INFO Import started") {
		t.Errorf("expected level and message in %q", line)
	}
	if !strings.Contains(line, "organization=org1") {
		t.Errorf("expected attr organization=org1 in %q", line)
	}
	if !strings.Contains(line, "batch=3") {
		t.Errorf("expected attr batch=3 in %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Error("expected trailing newline")
	}
}

func TestHandlerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithLevel("test", &buf, slog.LevelWarn)

	logger.Info("should be dropped")
	if buf.Len() != 0 {
		t.Errorf("info record should be filtered at warn level, got %q", buf.String())
	}

	logger.Warn("should be kept")
	if !strings.Contains(buf.String(), "WARN should be kept") {
		t.Errorf("warn record missing, got %q", buf.String())
	}
}

func TestHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithLevel("test", &buf, slog.LevelInfo).With("job", "abc123")

	logger.Info("batch persisted", "offset", 200)

	line := buf.String()
	if !strings.Contains(line, "job=abc123") {
		t.Errorf("expected bound attr job=abc123 in %q", line)
	}
	if !strings.Contains(line, "offset=200") {
		t.Errorf("expected record attr offset=200 in %q", line)
	}
}
