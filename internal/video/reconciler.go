// Package video reconciles a converted audio track back into its source
// video. Container probing, track extraction, and remuxing go through
// ffprobe/ffmpeg as external tools; the duration-fitting logic itself is pure
// and lives in FitToDuration.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/sonantlabs/sonant-core/internal/audio"
	"github.com/sonantlabs/sonant-core/internal/tempfiles"
)

var (
	// ErrNoAudioTrack indicates the source video has no decodable audio.
	ErrNoAudioTrack = errors.New("video has no audio track")
	// ErrVideoEncode indicates the output container could not be produced.
	ErrVideoEncode = errors.New("video encode failed")
	// ErrProbe indicates the source could not be inspected at all.
	ErrProbe = errors.New("probe video")
)

// DefaultDurationFallback is used when a container does not report its
// duration (WebM in particular). It is a guess carried over from the system
// this replaces; downstream duration matching needs a concrete target, so a
// bounded default beats failing the job. Overridable via config.
const DefaultDurationFallback = 60 * time.Second

// Info is a read-only view over a probed source file.
type Info struct {
	Duration  time.Duration
	FrameRate string
	Width     int
	Height    int
	HasAudio  bool
	HasVideo  bool
}

// Config points the reconciler at its external tools.
type Config struct {
	FFmpegPath       string
	FFprobePath      string
	DurationFallback time.Duration
	ExtractRate      int
}

// Reconciler extracts and replaces audio tracks on video containers.
type Reconciler struct {
	cfg   Config
	temps *tempfiles.Manager
	log   *slog.Logger
}

// New returns a reconciler using the configured tool paths; empty paths fall
// back to ffmpeg/ffprobe on PATH.
func New(cfg Config, temps *tempfiles.Manager, log *slog.Logger) *Reconciler {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.DurationFallback <= 0 {
		cfg.DurationFallback = DefaultDurationFallback
	}
	if cfg.ExtractRate <= 0 {
		cfg.ExtractRate = 16000
	}
	return &Reconciler{cfg: cfg, temps: temps, log: log.With(slog.String("component", "video"))}
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

// Probe inspects the container. A missing or unparsable duration is replaced
// with the configured fallback rather than failing: the reconciler must
// always have a concrete duration target.
func (r *Reconciler) Probe(ctx context.Context, path string) (Info, error) {
	cmd := exec.CommandContext(ctx, r.cfg.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Info{}, fmt.Errorf("%w: %v: %s", ErrProbe, err, stderr.String())
	}

	var probed probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &probed); err != nil {
		return Info{}, fmt.Errorf("%w: decode ffprobe output: %v", ErrProbe, err)
	}

	info := Info{}
	for _, s := range probed.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
		case "video":
			info.HasVideo = true
			info.Width = s.Width
			info.Height = s.Height
			info.FrameRate = s.AvgFrameRate
		}
	}

	if seconds, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil && seconds > 0 {
		info.Duration = time.Duration(seconds * float64(time.Second))
	} else {
		r.log.Warn("container did not report duration, using fallback",
			slog.String("path", path),
			slog.Duration("fallback", r.cfg.DurationFallback))
		info.Duration = r.cfg.DurationFallback
	}
	return info, nil
}

// ExtractAudio decodes the video's audio track to a mono signal at the
// configured rate. Fails with ErrNoAudioTrack when the container carries no
// audio stream.
func (r *Reconciler) ExtractAudio(ctx context.Context, videoPath string) (audio.Signal, Info, error) {
	info, err := r.Probe(ctx, videoPath)
	if err != nil {
		return audio.Signal{}, Info{}, err
	}
	if !info.HasAudio {
		return audio.Signal{}, info, fmt.Errorf("%w: %s", ErrNoAudioTrack, videoPath)
	}

	wavFile, err := r.temps.Acquire(".wav")
	if err != nil {
		return audio.Signal{}, info, fmt.Errorf("stage extracted audio: %w", err)
	}
	defer r.temps.Release(wavFile)

	cmd := exec.CommandContext(ctx, r.cfg.FFmpegPath,
		"-y",
		"-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(r.cfg.ExtractRate),
		"-f", "wav",
		wavFile.Path(),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return audio.Signal{}, info, fmt.Errorf("%w: extract audio: %v: %s",
			audio.ErrDecode, err, stderr.String())
	}

	signal, err := audio.ReadWAVFile(wavFile.Path())
	if err != nil {
		return audio.Signal{}, info, err
	}
	return signal, info, nil
}

// Reconcile replaces the video's audio track with the converted signal,
// forcing the track to the video's exact duration first (truncating excess,
// padding deficit with silence), then remuxing with the video stream copied.
// The output file's audio duration always equals the video duration, which
// standard players require for correct playback.
func (r *Reconciler) Reconcile(ctx context.Context, videoPath string, converted audio.Signal, outputPath string) error {
	info, err := r.Probe(ctx, videoPath)
	if err != nil {
		return err
	}
	if !info.HasAudio {
		return fmt.Errorf("%w: %s", ErrNoAudioTrack, videoPath)
	}

	fitted := FitToDuration(converted, info.Duration)

	wavFile, err := r.temps.Acquire(".wav")
	if err != nil {
		return fmt.Errorf("stage reconciled audio: %w", err)
	}
	defer r.temps.Release(wavFile)

	if err := audio.WriteWAVFile(wavFile.Path(), fitted); err != nil {
		return fmt.Errorf("write reconciled audio: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.cfg.FFmpegPath,
		"-y",
		"-i", videoPath,
		"-i", wavFile.Path(),
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v: %s", ErrVideoEncode, err, stderr.String())
	}
	return nil
}

// FitToDuration forces the signal to exactly the target duration: longer
// input is truncated, shorter input is padded with trailing silence of the
// exact deficit, equal input passes through unchanged.
func FitToDuration(s audio.Signal, target time.Duration) audio.Signal {
	if s.SampleRate <= 0 {
		return s
	}
	want := int(target.Seconds() * float64(s.SampleRate))
	if want < 0 {
		want = 0
	}
	switch {
	case len(s.Samples) == want:
		return s
	case len(s.Samples) > want:
		return audio.Signal{Samples: s.Samples[:want], SampleRate: s.SampleRate}
	default:
		padded := make([]float64, want)
		copy(padded, s.Samples)
		return audio.Signal{Samples: padded, SampleRate: s.SampleRate}
	}
}
