package logging

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "not-a-level"})
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNew_JSONOutput(t *testing.T) {
	logger, err := New(Config{Level: "info", Format: FormatJSON})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var buf bytes.Buffer
	l := logger.Output(&buf)
	l.Info().Msg("hello")
	if !strings.Contains(buf.String(), `"message":"hello"`) {
		t.Fatalf("expected JSON log line, got %q", buf.String())
	}
}

func TestNew_FileRotationCreatesDir(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "nested", "digest.log")
	_, err := New(Config{Level: "info", Format: FormatJSON, LogFile: logPath})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithFields(t *testing.T) {
	logger, _ := New(Config{Level: "info", Format: FormatJSON})
	var buf bytes.Buffer
	l := logger.Output(&buf)
	WithFields(l.Info(), map[string]any{"channel": "news"}).Msg("ingested")
	if !strings.Contains(buf.String(), `"channel":"news"`) {
		t.Fatalf("expected channel field, got %q", buf.String())
	}
}
