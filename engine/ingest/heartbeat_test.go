package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHeartbeat_TouchesFileOnStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heartbeat")

	h := NewHeartbeat(path, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	stop := h.Start(ctx)
	defer func() {
		cancel()
		stop()
	}()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected heartbeat file to exist, got %v", err)
	}
}

func TestHeartbeat_DisabledWhenPathEmpty(t *testing.T) {
	h := NewHeartbeat("", time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	stop := h.Start(ctx)
	cancel()
	stop() // must return immediately, not hang
}

func TestHeartbeat_UpdatesMtimeOnTick(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heartbeat")

	h := NewHeartbeat(path, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	stop := h.Start(ctx)
	initial, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	cancel()
	stop()

	later, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !later.ModTime().After(initial.ModTime()) {
		t.Fatalf("expected mtime to advance: initial=%v later=%v", initial.ModTime(), later.ModTime())
	}
}
