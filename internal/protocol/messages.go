// Package protocol defines the bus subjects and JSON message shapes spoken
// between the runtime and its clients.
package protocol

import "time"

const (
	SubjectConvertAudio = "convert.audio"
	SubjectConvertVideo = "convert.video"
	SubjectSynthSpeech  = "synth.speech"
	SubjectModelStatus  = "model.status"
	SubjectModelLoad    = "model.load"
	SubjectModelUnload  = "model.unload"
)

// ConvertRequest asks the runtime to convert the voice in a media file. Paths
// are local to the runtime host; the bus carries references, not audio.
type ConvertRequest struct {
	JobID          string  `json:"job_id,omitempty"`
	InputPath      string  `json:"input_path"`
	OutputPath     string  `json:"output_path"`
	TargetVoiceRef string  `json:"target_voice_ref,omitempty"`
	Device         string  `json:"device,omitempty"`
	// EnableChunking overrides the configured chunking mode for this job;
	// nil keeps the configured default.
	EnableChunking *bool   `json:"enable_chunking,omitempty"`
	PitchSemitones float64 `json:"pitch_semitones,omitempty"`
	SpeedFactor    float64 `json:"speed_factor,omitempty"`
	VolumeFactor   float64 `json:"volume_factor,omitempty"`
}

// ConvertResult reports a finished conversion job. Substituted counts chunks
// replaced with silence; a non-zero value still means a usable output exists.
type ConvertResult struct {
	JobID       string  `json:"job_id"`
	OutputPath  string  `json:"output_path,omitempty"`
	Successful  int     `json:"successful"`
	Substituted int     `json:"substituted"`
	DurationSec float64 `json:"duration_seconds,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// SynthRequest asks the runtime to render text to speech.
type SynthRequest struct {
	Text              string  `json:"text"`
	ReferenceVoiceRef string  `json:"reference_voice_ref,omitempty"`
	OutputPath        string  `json:"output_path"`
	Device            string  `json:"device,omitempty"`
	Exaggeration      float64 `json:"exaggeration,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	CFGWeight         float64 `json:"cfg_weight,omitempty"`
	Seed              int     `json:"seed,omitempty"`
}

// SynthResult reports a finished synthesis request.
type SynthResult struct {
	OutputPath  string  `json:"output_path,omitempty"`
	DurationSec float64 `json:"duration_seconds,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// ModelCommand targets a lifecycle operation at a device. An empty device
// means the runtime's default.
type ModelCommand struct {
	Device string `json:"device,omitempty"`
}

// ModelStatus is the runtime's view of the transform capability.
type ModelStatus struct {
	State            string    `json:"state"`
	Device           string    `json:"device,omitempty"`
	AvailableDevices []string  `json:"available_devices"`
	LoadedAt         time.Time `json:"loaded_at,omitempty"`
	LastUsed         time.Time `json:"last_used,omitempty"`
}

// Ack is a minimal reply for commands with no richer result.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
