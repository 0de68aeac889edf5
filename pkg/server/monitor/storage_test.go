package monitor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStorageMonitor_GetLimit(t *testing.T) {
	sm := NewStorageMonitor(t.TempDir(), 1<<30)
	if got := sm.GetLimit(); got != 1<<30 {
		t.Errorf("GetLimit() = %d, want %d", got, 1<<30)
	}
}

func TestStorageMonitor_GetUsage(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "badger"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "badger", "000001.vlog"), make([]byte, 8192), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	sm := NewStorageMonitor(dir, 1<<30)
	usage, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if usage < 4096 {
		t.Errorf("GetUsage() = %d, want at least 4096", usage)
	}
}

func TestStorageMonitor_Caching(t *testing.T) {
	dir := t.TempDir()
	sm := NewStorageMonitor(dir, 1<<30)

	before, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "late.sst"), make([]byte, 64*1024), 0o644); err != nil {
		t.Fatal(err)
	}

	after, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if before != after {
		t.Errorf("cached value changed within cache window: %d != %d", before, after)
	}
}

func TestStorageMonitor_InvalidDir(t *testing.T) {
	sm := NewStorageMonitor(filepath.Join(t.TempDir(), "missing"), 1<<30)
	if _, err := sm.GetUsage(); err == nil {
		t.Error("GetUsage() should return error for nonexistent directory")
	}
}
