package convert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sonantlabs/sonant-core/internal/audio"
	"github.com/sonantlabs/sonant-core/internal/jobstore"
	"github.com/sonantlabs/sonant-core/internal/model"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// flakyCapability echoes input but fails for chunk indexes listed in
// failFor. Chunk identity is inferred from dispatch order, so tests that use
// it must run with MaxParallel 1.
type flakyCapability struct {
	calls   atomic.Int64
	failFor map[int]bool
}

func (c *flakyCapability) ConvertVoice(ctx context.Context, samples []float64, rate int, ref string) ([]float64, error) {
	call := int(c.calls.Add(1)) - 1
	if c.failFor[call] {
		return nil, errors.New("transform crashed")
	}
	out := make([]float64, len(samples))
	for i, v := range samples {
		out[i] = v * 0.5
	}
	return out, nil
}

func (c *flakyCapability) SynthesizeSpeech(ctx context.Context, text, ref string, p model.SynthParams) ([]float64, int, error) {
	return make([]float64, 22050), 22050, nil
}

func (c *flakyCapability) Close() error { return nil }

func newTestPipeline(t *testing.T, cap model.Capability) (*Pipeline, *jobstore.Store) {
	t.Helper()
	log := newLogger()
	loader := func(ctx context.Context, device string) (model.Capability, error) {
		return cap, nil
	}
	manager := model.NewManager(loader, []string{"cpu"}, time.Minute, log)
	t.Cleanup(func() { manager.Unload() })

	store, err := jobstore.Open(context.Background(),
		jobstore.Config{Path: filepath.Join(t.TempDir(), "jobs.db"), RetentionMode: "persistent"}, log)
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return NewPipeline(manager, nil, store, Limits{}, nil, log), store
}

func writeToneWAV(t *testing.T, path string, seconds float64, rate int) audio.Signal {
	t.Helper()
	n := int(seconds * float64(rate))
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.4 * math.Sin(2*math.Pi*220*float64(i)/float64(rate))
	}
	s := audio.Signal{Samples: samples, SampleRate: rate}
	if err := audio.WriteWAVFile(path, s); err != nil {
		t.Fatalf("write input wav: %v", err)
	}
	return s
}

func TestConvertAudioEndToEnd(t *testing.T) {
	p, store := newTestPipeline(t, &flakyCapability{})
	tmp := t.TempDir()
	in := filepath.Join(tmp, "in.wav")
	out := filepath.Join(tmp, "out.wav")
	writeToneWAV(t, in, 5, 16000)

	res, err := p.ConvertAudio(context.Background(), Request{
		JobID:      "job-e2e",
		InputPath:  in,
		OutputPath: out,
		Device:     "cpu",
		Chunking:   ChunkConfig{Enabled: true, DurationSeconds: 1, SampleRate: 16000, MaxParallel: 1},
	})
	if err != nil {
		t.Fatalf("convert audio: %v", err)
	}
	if res.Summary.Successful != 5 || res.Summary.Substituted != 0 {
		t.Fatalf("unexpected summary: %+v", res.Summary)
	}

	got, err := audio.ReadWAVFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(got.Samples) != 5*16000 {
		t.Fatalf("expected 80000 output samples, got %d", len(got.Samples))
	}

	job, err := store.GetJob(context.Background(), "job-e2e")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != "done" || job.Successful != 5 {
		t.Fatalf("unexpected job record: %+v", job)
	}
}

func TestConvertAudioSubstitutesFailedChunk(t *testing.T) {
	cap := &flakyCapability{failFor: map[int]bool{2: true}}
	p, store := newTestPipeline(t, cap)
	tmp := t.TempDir()
	in := filepath.Join(tmp, "in.wav")
	out := filepath.Join(tmp, "out.wav")
	writeToneWAV(t, in, 5, 16000)

	res, err := p.ConvertAudio(context.Background(), Request{
		JobID:      "job-sub",
		InputPath:  in,
		OutputPath: out,
		Device:     "cpu",
		Chunking:   ChunkConfig{Enabled: true, DurationSeconds: 1, SampleRate: 16000, MaxParallel: 1},
	})
	if err != nil {
		t.Fatalf("convert audio: %v", err)
	}
	if res.Summary.Successful != 4 || res.Summary.Substituted != 1 {
		t.Fatalf("unexpected summary: %+v", res.Summary)
	}

	got, err := audio.ReadWAVFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(got.Samples) != 5*16000 {
		t.Fatalf("substitution changed output length: %d", len(got.Samples))
	}
	// The third chunk's seconds must be silent.
	for i := 2 * 16000; i < 3*16000; i++ {
		if got.Samples[i] != 0 {
			t.Fatalf("expected silence at sample %d, got %f", i, got.Samples[i])
		}
	}

	events, err := store.ListChunkEvents(context.Background(), "job-sub", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var substituted int
	for _, e := range events {
		if e.Type == "substituted" {
			substituted++
			if e.ChunkIndex != 2 {
				t.Fatalf("substitution recorded for wrong chunk: %+v", e)
			}
		}
	}
	if substituted != 1 {
		t.Fatalf("expected 1 substitution event, got %d", substituted)
	}
}

func TestConvertAudioChunkingDisabled(t *testing.T) {
	cap := &flakyCapability{}
	p, _ := newTestPipeline(t, cap)
	tmp := t.TempDir()
	in := filepath.Join(tmp, "in.wav")
	out := filepath.Join(tmp, "out.wav")
	writeToneWAV(t, in, 3, 16000)

	res, err := p.ConvertAudio(context.Background(), Request{
		InputPath:  in,
		OutputPath: out,
		Device:     "cpu",
		Chunking:   ChunkConfig{Enabled: false, SampleRate: 16000},
	})
	if err != nil {
		t.Fatalf("convert audio: %v", err)
	}
	if res.Summary.Total() != 1 {
		t.Fatalf("expected a single chunk, got %+v", res.Summary)
	}
	if cap.calls.Load() != 1 {
		t.Fatalf("expected 1 capability call, got %d", cap.calls.Load())
	}
	if res.JobID == "" {
		t.Fatal("expected a generated job id")
	}
}

func TestConvertAudioRejectsTooShortInput(t *testing.T) {
	p, _ := newTestPipeline(t, &flakyCapability{})
	tmp := t.TempDir()
	in := filepath.Join(tmp, "in.wav")
	writeToneWAV(t, in, 0.2, 16000)

	_, err := p.ConvertAudio(context.Background(), Request{
		InputPath:  in,
		OutputPath: filepath.Join(tmp, "out.wav"),
		Device:     "cpu",
	})
	if !errors.Is(err, ErrInputTooShort) {
		t.Fatalf("expected ErrInputTooShort, got %v", err)
	}
}

func TestConvertAudioRejectsUndecodableInput(t *testing.T) {
	p, _ := newTestPipeline(t, &flakyCapability{})
	tmp := t.TempDir()

	_, err := p.ConvertAudio(context.Background(), Request{
		InputPath:  filepath.Join(tmp, "missing.wav"),
		OutputPath: filepath.Join(tmp, "out.wav"),
		Device:     "cpu",
	})
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestConvertAudioCancelledBetweenChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, _ := newTestPipeline(t, &flakyCapability{})
	tmp := t.TempDir()
	in := filepath.Join(tmp, "in.wav")
	writeToneWAV(t, in, 3, 16000)

	_, err := p.ConvertAudio(ctx, Request{
		InputPath:  in,
		OutputPath: filepath.Join(tmp, "out.wav"),
		Device:     "cpu",
		Chunking:   ChunkConfig{Enabled: true, DurationSeconds: 1, SampleRate: 16000},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConvertVideoUnconfigured(t *testing.T) {
	p, _ := newTestPipeline(t, &flakyCapability{})
	_, err := p.ConvertVideo(context.Background(), Request{InputPath: "/in.mp4", Device: "cpu"})
	if err == nil {
		t.Fatal("expected error when video conversion is not configured")
	}
}
