// Package model owns the lifecycle of the heavyweight voice-transform
// capability: loading it on demand per compute device, lending it to
// conversion jobs, and evicting it after idle periods so accelerator memory
// is not held while the service is quiet. The capability itself is opaque;
// this package only knows the narrow contract below.
package model

import (
	"context"
	"errors"
)

var (
	// ErrModelLoad indicates the capability failed to initialize on the
	// requested device.
	ErrModelLoad = errors.New("model load failed")
	// ErrUnknownDevice indicates a device outside the configured inventory.
	ErrUnknownDevice = errors.New("unknown device")
)

// SynthParams carries generation controls for speech synthesis.
type SynthParams struct {
	Exaggeration float64
	Temperature  float64
	CFGWeight    float64
	Seed         int
}

// Capability is the loaded transform model. Implementations may serialize
// invocations internally if the underlying engine is not concurrency-safe;
// callers must assume ConvertVoice and SynthesizeSpeech can block for the
// full length of the segment being processed.
type Capability interface {
	// ConvertVoice transforms the given mono samples into the target voice.
	// targetVoiceRef is an opaque reference (typically a sample path) or
	// empty for the default voice.
	ConvertVoice(ctx context.Context, samples []float64, sampleRate int, targetVoiceRef string) ([]float64, error)

	// SynthesizeSpeech renders text to mono samples, returning the samples
	// and their rate.
	SynthesizeSpeech(ctx context.Context, text string, referenceVoiceRef string, params SynthParams) ([]float64, int, error)

	// Close releases the capability's device memory. It must release
	// synchronously: the deployment environments this runs in have hard
	// memory ceilings and cannot wait for a collector.
	Close() error
}

// Loader creates a capability bound to a device. The manager is the only
// caller.
type Loader func(ctx context.Context, device string) (Capability, error)
