package audio

import (
	"errors"
	"testing"
)

func okOutcome(index, samples, rate int) Outcome {
	sig := Signal{Samples: make([]float64, samples), SampleRate: rate}
	for i := range sig.Samples {
		sig.Samples[i] = 0.25
	}
	return Outcome{Index: index, Signal: sig, OK: true}
}

func TestCombineOrdersByIndex(t *testing.T) {
	outcomes := []Outcome{
		okOutcome(2, 10, 16000),
		okOutcome(0, 10, 16000),
		okOutcome(1, 10, 16000),
	}
	sig, summary, err := Combine(outcomes)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if len(sig.Samples) != 30 {
		t.Fatalf("expected 30 samples, got %d", len(sig.Samples))
	}
	if summary.Successful != 3 || summary.Substituted != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestCombineSubstitutedChunks(t *testing.T) {
	outcomes := make([]Outcome, 5)
	for i := range outcomes {
		outcomes[i] = okOutcome(i, 100, 16000)
	}
	outcomes[3] = Outcome{
		Index:  3,
		Signal: Silence(100, 16000),
		Reason: "capability timeout",
	}

	sig, summary, err := Combine(outcomes)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if len(sig.Samples) != 500 {
		t.Fatalf("expected total length unchanged, got %d", len(sig.Samples))
	}
	if summary.Successful != 4 || summary.Substituted != 1 {
		t.Fatalf("expected successful=4 substituted=1, got %+v", summary)
	}
	for i := 300; i < 400; i++ {
		if sig.Samples[i] != 0 {
			t.Fatalf("expected silence at substituted position %d", i)
		}
	}
}

func TestCombineMissingIndex(t *testing.T) {
	outcomes := []Outcome{okOutcome(0, 10, 16000), okOutcome(2, 10, 16000)}
	_, _, err := Combine(outcomes)
	if !errors.Is(err, ErrMissingChunk) {
		t.Fatalf("expected ErrMissingChunk, got %v", err)
	}
}

func TestCombineDuplicateIndex(t *testing.T) {
	outcomes := []Outcome{okOutcome(0, 10, 16000), okOutcome(0, 10, 16000)}
	_, _, err := Combine(outcomes)
	if !errors.Is(err, ErrMissingChunk) {
		t.Fatalf("expected ErrMissingChunk, got %v", err)
	}
}

func TestCombineAllSubstitutedStillReturnsSignal(t *testing.T) {
	outcomes := []Outcome{
		{Index: 0, Signal: Silence(50, 8000), Reason: "oom"},
		{Index: 1, Signal: Silence(50, 8000), Reason: "oom"},
	}
	sig, summary, err := Combine(outcomes)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if len(sig.Samples) != 100 || sig.SampleRate != 8000 {
		t.Fatalf("expected well-formed silence signal, got %d samples at %d Hz",
			len(sig.Samples), sig.SampleRate)
	}
	if summary.Successful != 0 || summary.Substituted != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestCombineEmpty(t *testing.T) {
	sig, summary, err := Combine(nil)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if !sig.Empty() || summary.Total() != 0 {
		t.Fatalf("expected empty result")
	}
}
