package audio

import (
	"math"
	"testing"
)

func sineSignal(seconds int, rate int) Signal {
	samples := make([]float64, seconds*rate)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*220*float64(i)/float64(rate))
	}
	return Signal{Samples: samples, SampleRate: rate}
}

func TestSplitChunkLengths(t *testing.T) {
	sig := sineSignal(150, 16000)
	chunks, err := Split(sig, 60, 16000)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	want := []int{960000, 960000, 480000}
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("chunk %d has index %d", i, c.Index)
		}
		if len(c.Signal.Samples) != want[i] {
			t.Fatalf("chunk %d: expected %d samples, got %d", i, want[i], len(c.Signal.Samples))
		}
		if c.Signal.SampleRate != 16000 {
			t.Fatalf("chunk %d: unexpected rate %d", i, c.Signal.SampleRate)
		}
	}
}

func TestSplitRoundTrip(t *testing.T) {
	sig := sineSignal(7, 8000)
	chunks, err := Split(sig, 2, 8000)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	var rejoined []float64
	for _, c := range chunks {
		rejoined = append(rejoined, c.Signal.Samples...)
	}
	if len(rejoined) != len(sig.Samples) {
		t.Fatalf("expected %d samples, got %d", len(sig.Samples), len(rejoined))
	}
	for i := range rejoined {
		if rejoined[i] != sig.Samples[i] {
			t.Fatalf("sample %d differs after round trip", i)
		}
	}
}

func TestSplitEmptyInput(t *testing.T) {
	chunks, err := Split(Signal{SampleRate: 16000}, 60, 16000)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestSplitInvalidDuration(t *testing.T) {
	if _, err := Split(sineSignal(1, 8000), 0, 8000); err == nil {
		t.Fatal("expected error for zero chunk duration")
	}
}

func TestSplitResamples(t *testing.T) {
	sig := sineSignal(2, 48000)
	chunks, err := Split(sig, 1, 16000)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if got := len(chunks[0].Signal.Samples); got != 16000 {
		t.Fatalf("expected 16000 samples after resample, got %d", got)
	}
}
