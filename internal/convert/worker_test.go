package convert

import (
	"context"
	"testing"
	"time"

	"github.com/sonantlabs/sonant-core/internal/audio"
	"github.com/sonantlabs/sonant-core/internal/model"
)

func leaseFor(t *testing.T, cap model.Capability) *model.Lease {
	t.Helper()
	loader := func(ctx context.Context, device string) (model.Capability, error) {
		return cap, nil
	}
	m := model.NewManager(loader, []string{"cpu"}, time.Minute, newLogger())
	lease, err := m.Ensure(context.Background(), "cpu")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	t.Cleanup(func() {
		lease.Release()
		m.Unload()
	})
	return lease
}

func TestWorkerConvertSuccess(t *testing.T) {
	lease := leaseFor(t, &flakyCapability{})
	w := NewWorker(newLogger(), nil)

	chunk := audio.Chunk{Index: 3, Signal: audio.Signal{Samples: []float64{0.2, 0.4, -0.6}, SampleRate: 16000}}
	out := w.Convert(context.Background(), chunk, lease.Handle(), "")
	if !out.OK || out.Index != 3 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Signal.Samples[0] != 0.1 || out.Signal.Samples[2] != -0.3 {
		t.Fatalf("capability output not propagated: %v", out.Signal.Samples)
	}
}

func TestWorkerSubstitutesSilenceOnFailure(t *testing.T) {
	lease := leaseFor(t, &flakyCapability{failFor: map[int]bool{0: true}})
	w := NewWorker(newLogger(), nil)

	chunk := audio.Chunk{Index: 7, Signal: audio.Signal{Samples: make([]float64, 1234), SampleRate: 16000}}
	out := w.Convert(context.Background(), chunk, lease.Handle(), "voice.wav")
	if out.OK {
		t.Fatal("expected substituted outcome")
	}
	if out.Index != 7 || out.Reason == "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	// Substitution preserves the chunk's exact shape.
	if len(out.Signal.Samples) != 1234 || out.Signal.SampleRate != 16000 {
		t.Fatalf("substituted signal has wrong shape: %d @ %d", len(out.Signal.Samples), out.Signal.SampleRate)
	}
	for i, v := range out.Signal.Samples {
		if v != 0 {
			t.Fatalf("expected silence, got %f at %d", v, i)
		}
	}
}
