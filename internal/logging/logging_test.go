package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerWritesToProvidedWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Options{Writer: &buf, NoColor: true, Level: slog.LevelInfo})
	logger.Info("sync started", "series", "kanji")

	out := buf.String()
	if !strings.Contains(out, "sync started") || !strings.Contains(out, "kanji") {
		t.Fatalf("expected the log line to mention the message and attribute, got %q", out)
	}
}

func TestNewStdLoggerPrefixesLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Options{Writer: &buf, NoColor: true})
	std := NewStdLogger(logger, "sync: ")
	std.Print("hello")

	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected the message to reach the underlying writer, got %q", buf.String())
	}
}
