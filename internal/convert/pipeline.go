package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sonantlabs/sonant-core/internal/audio"
	"github.com/sonantlabs/sonant-core/internal/jobstore"
	"github.com/sonantlabs/sonant-core/internal/model"
	"github.com/sonantlabs/sonant-core/internal/video"
)

var (
	// ErrInputTooLarge indicates the input file exceeds the size ceiling.
	ErrInputTooLarge = errors.New("input file too large")
	// ErrInputTooLong indicates the decoded audio exceeds the duration ceiling.
	ErrInputTooLong = errors.New("input audio too long")
	// ErrInputTooShort indicates the decoded audio is below the minimum length.
	ErrInputTooShort = errors.New("input audio too short")
)

// Input ceilings carried over from the system this replaces.
const (
	DefaultMaxInputBytes = 100 << 20
	DefaultMaxDuration   = 10 * time.Minute
	DefaultMinDuration   = time.Second
	DefaultChunkSeconds  = 60
	DefaultSampleRate    = 16000
)

// ChunkConfig controls how a job's input is segmented.
type ChunkConfig struct {
	// Enabled false processes the whole signal as a single chunk.
	Enabled         bool
	DurationSeconds int
	SampleRate      int
	MaxParallel     int
}

// Limits bounds accepted inputs. Zero values take the defaults above.
type Limits struct {
	MaxInputBytes int64
	MaxDuration   time.Duration
	MinDuration   time.Duration
}

// Request describes one conversion job.
type Request struct {
	JobID          string
	InputPath      string
	OutputPath     string
	TargetVoiceRef string
	Device         string
	Chunking       ChunkConfig
	Effects        audio.Effects
}

// Result is a finished job: a usable output plus per-chunk diagnostics. A
// non-zero Substituted count is not a failure; callers decide whether to
// surface it.
type Result struct {
	JobID      string
	OutputPath string
	Summary    audio.Summary
	Duration   time.Duration
}

// Pipeline wires the conversion stages together and owns nothing between
// requests: signals, chunks, and outcomes live only for one job.
type Pipeline struct {
	models  *model.Manager
	worker  *Worker
	effects *audio.Processor
	video   *video.Reconciler
	store   *jobstore.Store
	limits  Limits
	metrics *Metrics
	log     *slog.Logger
}

// NewPipeline builds a pipeline. The reconciler may be nil when video
// conversion is disabled.
func NewPipeline(
	models *model.Manager,
	reconciler *video.Reconciler,
	store *jobstore.Store,
	limits Limits,
	metrics *Metrics,
	log *slog.Logger,
) *Pipeline {
	if limits.MaxInputBytes <= 0 {
		limits.MaxInputBytes = DefaultMaxInputBytes
	}
	if limits.MaxDuration <= 0 {
		limits.MaxDuration = DefaultMaxDuration
	}
	if limits.MinDuration <= 0 {
		limits.MinDuration = DefaultMinDuration
	}
	return &Pipeline{
		models:  models,
		worker:  NewWorker(log, metrics),
		effects: audio.NewProcessor(log),
		video:   reconciler,
		store:   store,
		limits:  limits,
		metrics: metrics,
		log:     log.With(slog.String("component", "pipeline")),
	}
}

// ConvertAudio runs a full audio job: decode, split, convert per chunk,
// combine, post-process, encode. Per-chunk failures surface only in the
// result summary; job-level failures (undecodable input, model load, output
// write) return a classified error.
func (p *Pipeline) ConvertAudio(ctx context.Context, req Request) (Result, error) {
	req = p.normalize(req)
	p.beginJob(req, "audio")

	signal, err := p.loadAudioInput(req.InputPath)
	if err != nil {
		return p.fail(ctx, req, "audio", err)
	}

	converted, summary, err := p.convertSignal(ctx, req, signal)
	if err != nil {
		return p.fail(ctx, req, "audio", err)
	}

	if err := audio.WriteWAVFile(req.OutputPath, converted); err != nil {
		return p.fail(ctx, req, "audio", fmt.Errorf("write output: %w", err))
	}

	return p.finish(ctx, req, "audio", converted.Duration(), summary)
}

// ConvertVideo extracts the video's audio track, converts it, and reconciles
// the result back into the container at the video's exact duration.
func (p *Pipeline) ConvertVideo(ctx context.Context, req Request) (Result, error) {
	req = p.normalize(req)
	p.beginJob(req, "video")

	if p.video == nil {
		return p.fail(ctx, req, "video", errors.New("video conversion is not configured"))
	}

	signal, info, err := p.video.ExtractAudio(ctx, req.InputPath)
	if err != nil {
		return p.fail(ctx, req, "video", err)
	}
	if err := p.checkDuration(signal); err != nil {
		return p.fail(ctx, req, "video", err)
	}

	converted, summary, err := p.convertSignal(ctx, req, signal)
	if err != nil {
		return p.fail(ctx, req, "video", err)
	}

	if err := p.video.Reconcile(ctx, req.InputPath, converted, req.OutputPath); err != nil {
		return p.fail(ctx, req, "video", err)
	}

	return p.finish(ctx, req, "video", info.Duration, summary)
}

// convertSignal is the shared middle of both job kinds: chunk, borrow the
// model, convert with bounded parallelism, combine in index order, and apply
// effects.
func (p *Pipeline) convertSignal(ctx context.Context, req Request, signal audio.Signal) (audio.Signal, audio.Summary, error) {
	var chunks []audio.Chunk
	if req.Chunking.Enabled {
		split, err := audio.Split(signal, req.Chunking.DurationSeconds, req.Chunking.SampleRate)
		if err != nil {
			return audio.Signal{}, audio.Summary{}, err
		}
		chunks = split
	} else {
		resampled, err := audio.Resample(signal, req.Chunking.SampleRate)
		if err != nil {
			return audio.Signal{}, audio.Summary{}, err
		}
		chunks = []audio.Chunk{{Index: 0, Signal: resampled}}
	}

	lease, err := p.models.Ensure(ctx, req.Device)
	if err != nil {
		return audio.Signal{}, audio.Summary{}, err
	}
	defer lease.Release()

	outcomes, err := p.convertChunks(ctx, req, chunks, lease.Handle())
	if err != nil {
		return audio.Signal{}, audio.Summary{}, err
	}

	combined, summary, err := audio.Combine(outcomes)
	if err != nil {
		// Index gaps here are an integration bug, not a runtime condition.
		return audio.Signal{}, audio.Summary{}, err
	}

	p.log.Info("chunks combined",
		slog.String("job_id", req.JobID),
		slog.Int("successful", summary.Successful),
		slog.Int("substituted", summary.Substituted))

	return p.effects.Apply(combined, req.Effects), summary, nil
}

// convertChunks runs workers across the job's chunks with bounded
// parallelism. Completion order is irrelevant: each outcome lands in its
// chunk's slot and the combiner enforces index order. Cancellation is
// honored between dispatches; an already-running chunk finishes on its own
// terms.
func (p *Pipeline) convertChunks(ctx context.Context, req Request, chunks []audio.Chunk, handle *model.Handle) ([]audio.Outcome, error) {
	maxParallel := req.Chunking.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}

	outcomes := make([]audio.Outcome, len(chunks))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup
	var dispatchErr error

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			dispatchErr = err
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(c audio.Chunk) {
			defer wg.Done()
			defer func() { <-sem }()
			outcome := p.worker.Convert(ctx, c, handle, req.TargetVoiceRef)
			outcomes[c.Index] = outcome
			p.recordChunk(req.JobID, outcome)
		}(chunk)
	}
	wg.Wait()

	if dispatchErr != nil {
		return nil, dispatchErr
	}
	return outcomes, nil
}

func (p *Pipeline) normalize(req Request) Request {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	if req.Chunking.DurationSeconds <= 0 {
		req.Chunking.DurationSeconds = DefaultChunkSeconds
	}
	if req.Chunking.SampleRate <= 0 {
		req.Chunking.SampleRate = DefaultSampleRate
	}
	return req
}

func (p *Pipeline) loadAudioInput(path string) (audio.Signal, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return audio.Signal{}, fmt.Errorf("%w: %v", audio.ErrDecode, err)
	}
	if stat.Size() > p.limits.MaxInputBytes {
		return audio.Signal{}, fmt.Errorf("%w: %d bytes (limit %d)",
			ErrInputTooLarge, stat.Size(), p.limits.MaxInputBytes)
	}

	signal, err := audio.ReadWAVFile(path)
	if err != nil {
		return audio.Signal{}, err
	}
	if err := p.checkDuration(signal); err != nil {
		return audio.Signal{}, err
	}
	return signal, nil
}

func (p *Pipeline) checkDuration(signal audio.Signal) error {
	d := signal.Duration()
	if d > p.limits.MaxDuration {
		return fmt.Errorf("%w: %s (limit %s)", ErrInputTooLong, d, p.limits.MaxDuration)
	}
	if d < p.limits.MinDuration {
		return fmt.Errorf("%w: %s (minimum %s)", ErrInputTooShort, d, p.limits.MinDuration)
	}
	return nil
}

// Job-store writes are diagnostics: they use a background context so a
// cancelled job still records its ending, and their own failures are logged,
// never returned.

func (p *Pipeline) beginJob(req Request, kind string) {
	if err := p.store.BeginJob(context.Background(), req.JobID, kind, req.InputPath, req.Device); err != nil {
		p.log.Warn("job store begin failed", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) recordChunk(jobID string, outcome audio.Outcome) {
	evt := jobstore.ChunkEvent{JobID: jobID, ChunkIndex: outcome.Index, Type: "converted"}
	if !outcome.OK {
		evt.Type = "substituted"
		evt.Detail = outcome.Reason
	}
	if err := p.store.AppendChunkEvent(context.Background(), evt); err != nil {
		p.log.Warn("job store chunk event failed", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) fail(ctx context.Context, req Request, kind string, err error) (Result, error) {
	if storeErr := p.store.FinishJob(context.Background(), req.JobID, "", 0, 0, err.Error()); storeErr != nil {
		p.log.Warn("job store finish failed", slog.String("error", storeErr.Error()))
	}
	p.metrics.recordJob(ctx, kind, true)
	p.log.Error("job failed",
		slog.String("job_id", req.JobID),
		slog.String("kind", kind),
		slog.String("error", err.Error()))
	return Result{JobID: req.JobID}, err
}

func (p *Pipeline) finish(ctx context.Context, req Request, kind string, duration time.Duration, summary audio.Summary) (Result, error) {
	if err := p.store.FinishJob(context.Background(), req.JobID, req.OutputPath,
		summary.Successful, summary.Substituted, ""); err != nil {
		p.log.Warn("job store finish failed", slog.String("error", err.Error()))
	}
	p.metrics.recordJob(ctx, kind, false)
	p.models.ScheduleIdleEviction(0)
	return Result{
		JobID:      req.JobID,
		OutputPath: req.OutputPath,
		Summary:    summary,
		Duration:   duration,
	}, nil
}
