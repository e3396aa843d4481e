package model

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/sonantlabs/sonant-core/internal/audio"
	"github.com/sonantlabs/sonant-core/internal/tempfiles"
)

// execCapability drives an external model process through files: input and
// output audio travel as WAV paths because the underlying engines only accept
// paths. Invocations are serialized with a mutex; the engines we wrap are not
// safe for concurrent inference on one device.
type execCapability struct {
	cmd    []string
	device string
	temps  *tempfiles.Manager
	log    *slog.Logger
	mu     sync.Mutex
}

// NewExecLoader returns a Loader that runs the configured command line. At
// load time the command is probed with --probe so a broken install or an
// unavailable device surfaces as ErrModelLoad instead of failing the first
// conversion.
func NewExecLoader(command string, temps *tempfiles.Manager, log *slog.Logger) (Loader, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capability command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capability command empty")
	}

	return func(ctx context.Context, device string) (Capability, error) {
		probe := exec.CommandContext(ctx, args[0], append(args[1:], "--probe", "--device", device)...)
		var stderr bytes.Buffer
		probe.Stderr = &stderr
		if err := probe.Run(); err != nil {
			return nil, fmt.Errorf("%w: probe on %s: %v: %s", ErrModelLoad, device, err, stderr.String())
		}
		return &execCapability{
			cmd:    args,
			device: device,
			temps:  temps,
			log:    log.With(slog.String("component", "exec-capability"), slog.String("device", device)),
		}, nil
	}, nil
}

func (c *execCapability) ConvertVoice(ctx context.Context, samples []float64, sampleRate int, targetVoiceRef string) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	in, err := c.temps.Acquire(".wav")
	if err != nil {
		return nil, fmt.Errorf("stage input: %w", err)
	}
	defer c.temps.Release(in)

	out, err := c.temps.Acquire(".wav")
	if err != nil {
		return nil, fmt.Errorf("stage output: %w", err)
	}
	defer c.temps.Release(out)

	if err := audio.WriteWAVFile(in.Path(), audio.Signal{Samples: samples, SampleRate: sampleRate}); err != nil {
		return nil, fmt.Errorf("write capability input: %w", err)
	}

	cmdArgs := append([]string{}, c.cmd[1:]...)
	cmdArgs = append(cmdArgs,
		"--mode", "convert",
		"--device", c.device,
		"--audio", in.Path(),
		"--output", out.Path(),
	)
	if targetVoiceRef != "" {
		cmdArgs = append(cmdArgs, "--target-voice", targetVoiceRef)
	}

	if err := c.run(ctx, cmdArgs); err != nil {
		return nil, err
	}

	converted, err := audio.ReadWAVFile(out.Path())
	if err != nil {
		return nil, fmt.Errorf("read capability output: %w", err)
	}
	return converted.Samples, nil
}

func (c *execCapability) SynthesizeSpeech(ctx context.Context, text string, referenceVoiceRef string, params SynthParams) ([]float64, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.temps.Acquire(".wav")
	if err != nil {
		return nil, 0, fmt.Errorf("stage output: %w", err)
	}
	defer c.temps.Release(out)

	cmdArgs := append([]string{}, c.cmd[1:]...)
	cmdArgs = append(cmdArgs,
		"--mode", "synth",
		"--device", c.device,
		"--text", text,
		"--output", out.Path(),
		"--exaggeration", fmt.Sprintf("%.3f", params.Exaggeration),
		"--temperature", fmt.Sprintf("%.3f", params.Temperature),
		"--cfg-weight", fmt.Sprintf("%.3f", params.CFGWeight),
		"--seed", fmt.Sprintf("%d", params.Seed),
	)
	if referenceVoiceRef != "" {
		cmdArgs = append(cmdArgs, "--reference-voice", referenceVoiceRef)
	}

	if err := c.run(ctx, cmdArgs); err != nil {
		return nil, 0, err
	}

	synthesized, err := audio.ReadWAVFile(out.Path())
	if err != nil {
		return nil, 0, fmt.Errorf("read capability output: %w", err)
	}
	return synthesized.Samples, synthesized.SampleRate, nil
}

func (c *execCapability) run(ctx context.Context, args []string) error {
	command := exec.CommandContext(ctx, c.cmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return fmt.Errorf("capability command failed: %w: %s", err, stderr.String())
	}
	return nil
}

// Close is a no-op for the exec boundary: the process exits after each
// invocation, so device memory is already released when the manager unloads.
func (c *execCapability) Close() error {
	return nil
}
