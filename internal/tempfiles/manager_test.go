package tempfiles

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := Config{
		Dir:          t.TempDir(),
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
	}
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAcquireCreatesFileWithSuffix(t *testing.T) {
	m := newTestManager(t)
	f, err := m.Acquire(".wav")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !strings.HasSuffix(f.Path(), ".wav") {
		t.Fatalf("expected .wav suffix, got %s", f.Path())
	}
	if _, err := os.Stat(f.Path()); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}
	m.Release(f)
}

func TestReleaseDeletesFile(t *testing.T) {
	m := newTestManager(t)
	f, err := m.Acquire(".tmp")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	path := f.Path()
	m.Release(f)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err: %v", err)
	}
}

func TestReleaseMissingFileIsQuiet(t *testing.T) {
	m := newTestManager(t)
	f, err := m.Acquire(".tmp")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := os.Remove(f.Path()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	// Already gone: release must not panic or block.
	m.Release(f)
}

func TestReleaseNilFile(t *testing.T) {
	m := newTestManager(t)
	m.Release(nil)
	m.Release(&File{})
}

func TestReleasePathExternalFile(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(t.TempDir(), "external.bin")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m.ReleasePath(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected external file removed")
	}
}

func TestReleaseUndeletableLeaksWithoutError(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	locked := filepath.Join(dir, "locked")
	if err := os.MkdirAll(filepath.Join(locked, "child"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// Removing a non-empty directory fails on every attempt; Release must
	// absorb that and return instead of escalating.
	done := make(chan struct{})
	go func() {
		m.ReleasePath(locked)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("release did not give up on undeletable path")
	}
	if _, err := os.Stat(locked); err != nil {
		t.Fatalf("expected leaked path to still exist: %v", err)
	}
}
