// Package tempfiles provides scoped lifecycle management for the transient
// files the pipeline hands to external tools: chunk WAVs for the transform
// capability, extracted audio tracks, and encoder staging files. Deletion is
// best-effort with retries, because decode/encode libraries on some platforms
// release file handles asynchronously and a remove can race their close.
package tempfiles

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config controls where temp files live and how hard release tries.
type Config struct {
	// Dir is the parent directory; empty means the system temp dir.
	Dir string
	// MaxRetries bounds deletion attempts per file.
	MaxRetries int
	// InitialDelay is the first retry interval; subsequent intervals grow.
	InitialDelay time.Duration
}

// File is a filesystem path plus its cleanup obligation. The stage that
// acquired it owns it until it calls Release.
type File struct {
	path string
}

// Path returns the file's location on disk.
func (f *File) Path() string { return f.path }

// Manager creates and reclaims transient files.
type Manager struct {
	cfg Config
	log *slog.Logger
}

// New returns a manager writing under cfg.Dir.
func New(cfg Config, log *slog.Logger) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	return &Manager{cfg: cfg, log: log.With(slog.String("component", "tempfiles"))}
}

// Acquire creates an empty temp file with the given suffix and returns its
// handle. The caller owns the file until Release.
func (m *Manager) Acquire(suffix string) (*File, error) {
	f, err := os.CreateTemp(m.cfg.Dir, "sonant_*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	return &File{path: f.Name()}, nil
}

// Release deletes the file, retrying with growing backoff to ride out
// transient "file in use" errors. If every attempt fails the file is
// abandoned and logged: a leaked temp file is lower-severity than failing
// the request that produced it, so Release never returns an error to the
// pipeline.
func (m *Manager) Release(f *File) {
	if f == nil || f.path == "" {
		return
	}
	m.ReleasePath(f.path)
	f.path = ""
}

// ReleasePath applies the same retried deletion to a bare path, for files
// created by external tools rather than Acquire.
func (m *Manager) ReleasePath(path string) {
	remove := func() (struct{}, error) {
		err := os.Remove(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.cfg.InitialDelay

	_, err := backoff.Retry(context.Background(), remove,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(m.cfg.MaxRetries)))
	if err != nil {
		m.log.Warn("abandoning temp file after retries",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}
