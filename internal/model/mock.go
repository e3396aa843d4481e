package model

import (
	"context"
	"time"
)

// mockCapability echoes its input after a short delay. It exists for local
// development and tests, matching the shape contract of the real capability:
// converted output has the same sample count and rate as the input.
type mockCapability struct {
	delay time.Duration
}

// NewMockLoader returns a Loader whose capability passes audio through
// unchanged.
func NewMockLoader(delay time.Duration) Loader {
	return func(ctx context.Context, device string) (Capability, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		return &mockCapability{delay: delay}, nil
	}
}

func (m *mockCapability) ConvertVoice(ctx context.Context, samples []float64, sampleRate int, targetVoiceRef string) ([]float64, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.delay):
	}
	out := make([]float64, len(samples))
	copy(out, samples)
	return out, nil
}

func (m *mockCapability) SynthesizeSpeech(ctx context.Context, text string, referenceVoiceRef string, params SynthParams) ([]float64, int, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-time.After(m.delay):
	}
	// Half a second of silence per ten characters keeps durations plausible.
	n := (len(text)/10 + 1) * 11025
	return make([]float64, n), 22050, nil
}

func (m *mockCapability) Close() error { return nil }
