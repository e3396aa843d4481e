// Package audio holds the in-memory representation of decoded audio and the
// pure transformations the conversion pipeline is built from: splitting a
// signal into bounded chunks, recombining ordered chunk outcomes, resampling,
// and post-processing effects. Everything in this package operates on mono
// float64 samples in [-1, 1]; disk formats are handled in wav.go.
package audio

import (
	"errors"
	"math"
	"time"
)

var (
	// ErrDecode indicates the source bytes could not be decoded as audio.
	ErrDecode = errors.New("decode audio")
	// ErrMissingChunk indicates a gap or duplicate in a chunk index sequence.
	ErrMissingChunk = errors.New("missing chunk")
	// ErrInvalidRate indicates a non-positive sample rate.
	ErrInvalidRate = errors.New("sample rate must be positive")
)

// Signal is a decoded mono audio signal. A Signal is immutable once produced;
// every stage of the pipeline returns a new one.
type Signal struct {
	Samples    []float64
	SampleRate int
}

// Duration derives the signal length from its sample count.
func (s Signal) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	seconds := float64(len(s.Samples)) / float64(s.SampleRate)
	return time.Duration(seconds * float64(time.Second))
}

// Empty reports whether the signal carries no samples.
func (s Signal) Empty() bool { return len(s.Samples) == 0 }

// Silence returns an all-zero signal of the given shape.
func Silence(samples int, sampleRate int) Signal {
	return Signal{Samples: make([]float64, samples), SampleRate: sampleRate}
}

// Chunk is a Signal plus its zero-based position within a parent signal.
// Concatenating all chunks of a split, in index order, reproduces the parent
// samples exactly.
type Chunk struct {
	Index  int
	Signal Signal
}

// Outcome is the result of converting one chunk. On failure OK is false and
// Signal is silence with the same sample count and rate as the input chunk,
// so downstream alignment is never lost.
type Outcome struct {
	Index  int
	Signal Signal
	OK     bool
	Reason string
}

// Resample converts a signal to the target rate using linear interpolation.
// The input signal is returned untouched when it is empty or already at the
// target rate.
func Resample(s Signal, targetRate int) (Signal, error) {
	if targetRate <= 0 {
		return Signal{}, ErrInvalidRate
	}
	if s.Empty() {
		return Signal{Samples: nil, SampleRate: targetRate}, nil
	}
	if s.SampleRate == targetRate {
		return s, nil
	}
	if s.SampleRate <= 0 {
		return Signal{}, ErrInvalidRate
	}

	ratio := float64(s.SampleRate) / float64(targetRate)
	outLen := int(math.Round(float64(len(s.Samples)) * float64(targetRate) / float64(s.SampleRate)))
	if outLen < 1 {
		outLen = 1
	}

	out := make([]float64, outLen)
	for i := range out {
		pos := float64(i) * ratio
		left := int(pos)
		if left >= len(s.Samples)-1 {
			out[i] = s.Samples[len(s.Samples)-1]
			continue
		}
		frac := pos - float64(left)
		out[i] = s.Samples[left]*(1-frac) + s.Samples[left+1]*frac
	}
	return Signal{Samples: out, SampleRate: targetRate}, nil
}
