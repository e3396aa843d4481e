package jobstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := Config{RetentionMode: "ephemeral"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	// All writes must be silent no-ops.
	if err := s.BeginJob(context.Background(), "job-1", "audio", "/in.wav", "cpu"); err != nil {
		t.Fatalf("begin job: %v", err)
	}
	if err := s.FinishJob(context.Background(), "job-1", "/out.wav", 3, 0, ""); err != nil {
		t.Fatalf("finish job: %v", err)
	}
	events, err := s.ListChunkEvents(context.Background(), "job-1", 10)
	if err != nil || events != nil {
		t.Fatalf("expected no events from ephemeral store, got %v, %v", events, err)
	}
}

func TestJobLifecycle(t *testing.T) {
	tmp := t.TempDir()
	cfg := Config{Path: filepath.Join(tmp, "jobs.db"), RetentionMode: "persistent"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	if err := s.BeginJob(ctx, "job-42", "video", "/in.mp4", "cuda"); err != nil {
		t.Fatalf("begin job: %v", err)
	}
	if err := s.AppendChunkEvent(ctx, ChunkEvent{JobID: "job-42", ChunkIndex: 0, Type: "converted"}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := s.AppendChunkEvent(ctx, ChunkEvent{JobID: "job-42", ChunkIndex: 1, Type: "substituted", Detail: "capability timeout"}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := s.FinishJob(ctx, "job-42", "/out.mp4", 1, 1, ""); err != nil {
		t.Fatalf("finish job: %v", err)
	}

	job, err := s.GetJob(ctx, "job-42")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != "done" || job.Successful != 1 || job.Substituted != 1 {
		t.Fatalf("unexpected job row: %+v", job)
	}
	if job.OutputPath != "/out.mp4" || job.Device != "cuda" {
		t.Fatalf("unexpected job fields: %+v", job)
	}

	events, err := s.ListChunkEvents(ctx, "job-42", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Type != "substituted" || events[1].Detail != "capability timeout" {
		t.Fatalf("unexpected event: %+v", events[1])
	}
}

func TestFinishJobWithError(t *testing.T) {
	tmp := t.TempDir()
	cfg := Config{Path: filepath.Join(tmp, "jobs.db"), RetentionMode: "persistent"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	if err := s.BeginJob(ctx, "job-err", "audio", "/in.wav", "cpu"); err != nil {
		t.Fatalf("begin job: %v", err)
	}
	if err := s.FinishJob(ctx, "job-err", "", 0, 0, "model load failed"); err != nil {
		t.Fatalf("finish job: %v", err)
	}
	job, err := s.GetJob(ctx, "job-err")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != "failed" || job.Error != "model load failed" {
		t.Fatalf("unexpected failed job row: %+v", job)
	}
}

func TestPruneByDays(t *testing.T) {
	tmp := t.TempDir()
	cfg := Config{Path: filepath.Join(tmp, "jobs.db"), RetentionMode: "persistent", RetentionDays: 1}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.BeginJob(ctx, "old-job", "audio", "/in.wav", "cpu"); err != nil {
		t.Fatalf("begin job: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if _, err := s.GetJob(ctx, "old-job"); err == nil {
		t.Fatal("expected old job pruned")
	}
}
