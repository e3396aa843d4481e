// Package convert runs the chunked conversion pipeline: split a decoded
// signal into bounded segments, push each through the borrowed transform
// capability, reassemble in index order, post-process, and (for video)
// reconcile the converted track back into the container.
package convert

import (
	"context"
	"log/slog"
	"time"

	"github.com/sonantlabs/sonant-core/internal/audio"
	"github.com/sonantlabs/sonant-core/internal/model"
)

// Worker converts one chunk at a time against a borrowed handle. It is
// stateless; the only policy it carries is silence substitution: a failure
// from the capability never propagates upward as an error, it becomes an
// all-zero outcome with the exact shape of the input chunk. One corrupt or
// oversized segment costs a local glitch in the output, not a multi-minute
// job.
type Worker struct {
	log     *slog.Logger
	metrics *Metrics
}

// NewWorker returns a chunk conversion worker.
func NewWorker(log *slog.Logger, metrics *Metrics) *Worker {
	return &Worker{
		log:     log.With(slog.String("component", "worker")),
		metrics: metrics,
	}
}

// Convert delegates the chunk to the capability behind the handle. The
// returned outcome always has the same sample count and rate as the input
// when conversion fails, so downstream alignment is preserved.
func (w *Worker) Convert(ctx context.Context, chunk audio.Chunk, handle *model.Handle, targetVoiceRef string) audio.Outcome {
	started := time.Now()
	converted, err := handle.Capability().ConvertVoice(
		ctx, chunk.Signal.Samples, chunk.Signal.SampleRate, targetVoiceRef)
	elapsed := time.Since(started)

	if err != nil {
		w.log.Warn("chunk conversion failed, substituting silence",
			slog.Int("chunk", chunk.Index),
			slog.String("error", err.Error()))
		w.metrics.recordChunk(ctx, false, elapsed.Seconds())
		return audio.Outcome{
			Index:  chunk.Index,
			Signal: audio.Silence(len(chunk.Signal.Samples), chunk.Signal.SampleRate),
			OK:     false,
			Reason: err.Error(),
		}
	}

	w.metrics.recordChunk(ctx, true, elapsed.Seconds())
	return audio.Outcome{
		Index:  chunk.Index,
		Signal: audio.Signal{Samples: converted, SampleRate: chunk.Signal.SampleRate},
		OK:     true,
	}
}
