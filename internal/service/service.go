// Package service exposes the conversion pipeline and model lifecycle over
// the bus. Requests reference files on the runtime host; audio itself never
// crosses the bus.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sonantlabs/sonant-core/internal/audio"
	"github.com/sonantlabs/sonant-core/internal/bus"
	"github.com/sonantlabs/sonant-core/internal/config"
	"github.com/sonantlabs/sonant-core/internal/convert"
	"github.com/sonantlabs/sonant-core/internal/model"
	"github.com/sonantlabs/sonant-core/internal/protocol"
)

// Effects parameter bounds. Requests outside these are rejected, not clamped.
const (
	minPitchSemitones = -12.0
	maxPitchSemitones = 12.0
	minSpeedFactor    = 0.5
	maxSpeedFactor    = 2.0
	minVolumeFactor   = 0.1
	maxVolumeFactor   = 2.0
)

const jobTimeout = 15 * time.Minute

type Service struct {
	cfg      config.Config
	bus      *bus.Client
	pipeline *convert.Pipeline
	models   *model.Manager
	subs     []*nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, pipeline *convert.Pipeline, models *model.Manager, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		pipeline: pipeline,
		models:   models,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "convert-service")),
	}
}

func (s *Service) Start() error {
	handlers := []struct {
		subject string
		fn      nats.MsgHandler
	}{
		{protocol.SubjectConvertAudio, s.handleConvertAudio},
		{protocol.SubjectConvertVideo, s.handleConvertVideo},
		{protocol.SubjectSynthSpeech, s.handleSynth},
		{protocol.SubjectModelStatus, s.handleModelStatus},
		{protocol.SubjectModelLoad, s.handleModelLoad},
		{protocol.SubjectModelUnload, s.handleModelUnload},
	}
	for _, h := range handlers {
		sub, err := s.bus.Conn().Subscribe(h.subject, h.fn)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return len(s.subs) > 0 }

func (s *Service) handleConvertAudio(msg *nats.Msg) { s.handleConvert(msg, "audio") }
func (s *Service) handleConvertVideo(msg *nats.Msg) { s.handleConvert(msg, "video") }

func (s *Service) handleConvert(msg *nats.Msg, kind string) {
	var req protocol.ConvertRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode convert request", slogError(err))
		s.respond(msg, protocol.ConvertResult{Error: "malformed request"})
		return
	}
	if req.InputPath == "" || req.OutputPath == "" {
		s.respond(msg, protocol.ConvertResult{JobID: req.JobID, Error: "input_path and output_path are required"})
		return
	}

	fx, err := s.effectsFor(req)
	if err != nil {
		s.respond(msg, protocol.ConvertResult{JobID: req.JobID, Error: err.Error()})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()

		chunking := s.cfg.Pipeline.ChunkingEnabled
		if req.EnableChunking != nil {
			chunking = *req.EnableChunking
		}

		preq := convert.Request{
			JobID:          req.JobID,
			InputPath:      req.InputPath,
			OutputPath:     req.OutputPath,
			TargetVoiceRef: req.TargetVoiceRef,
			Device:         req.Device,
			Chunking: convert.ChunkConfig{
				Enabled:         chunking,
				DurationSeconds: s.cfg.Pipeline.ChunkSeconds,
				SampleRate:      s.cfg.Pipeline.SampleRate,
				MaxParallel:     s.cfg.Pipeline.MaxParallel,
			},
			Effects: fx,
		}

		var res convert.Result
		if kind == "video" {
			res, err = s.pipeline.ConvertVideo(ctx, preq)
		} else {
			res, err = s.pipeline.ConvertAudio(ctx, preq)
		}
		if err != nil {
			s.respond(msg, protocol.ConvertResult{JobID: res.JobID, Error: err.Error()})
			return
		}
		s.respond(msg, protocol.ConvertResult{
			JobID:       res.JobID,
			OutputPath:  res.OutputPath,
			Successful:  res.Summary.Successful,
			Substituted: res.Summary.Substituted,
			DurationSec: res.Duration.Seconds(),
		})
	}()
}

// effectsFor merges request effects over configured defaults and enforces
// parameter bounds. Zero-valued request fields mean "use the default".
func (s *Service) effectsFor(req protocol.ConvertRequest) (audio.Effects, error) {
	fx := audio.Effects{
		PitchSemitones: s.cfg.Effects.PitchSemitones,
		SpeedFactor:    s.cfg.Effects.SpeedFactor,
		VolumeFactor:   s.cfg.Effects.VolumeFactor,
	}
	if req.PitchSemitones != 0 {
		fx.PitchSemitones = req.PitchSemitones
	}
	if req.SpeedFactor != 0 {
		fx.SpeedFactor = req.SpeedFactor
	}
	if req.VolumeFactor != 0 {
		fx.VolumeFactor = req.VolumeFactor
	}

	if fx.PitchSemitones < minPitchSemitones || fx.PitchSemitones > maxPitchSemitones {
		return audio.Effects{}, fmt.Errorf("pitch_semitones must be in [%g, %g]", minPitchSemitones, maxPitchSemitones)
	}
	if fx.SpeedFactor != 0 && (fx.SpeedFactor < minSpeedFactor || fx.SpeedFactor > maxSpeedFactor) {
		return audio.Effects{}, fmt.Errorf("speed_factor must be in [%g, %g]", minSpeedFactor, maxSpeedFactor)
	}
	if fx.VolumeFactor != 0 && (fx.VolumeFactor < minVolumeFactor || fx.VolumeFactor > maxVolumeFactor) {
		return audio.Effects{}, fmt.Errorf("volume_factor must be in [%g, %g]", minVolumeFactor, maxVolumeFactor)
	}
	return fx, nil
}

func (s *Service) handleSynth(msg *nats.Msg) {
	var req protocol.SynthRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode synth request", slogError(err))
		s.respond(msg, protocol.SynthResult{Error: "malformed request"})
		return
	}
	if req.Text == "" || req.OutputPath == "" {
		s.respond(msg, protocol.SynthResult{Error: "text and output_path are required"})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()

		lease, err := s.models.Ensure(ctx, req.Device)
		if err != nil {
			s.respond(msg, protocol.SynthResult{Error: err.Error()})
			return
		}
		defer lease.Release()

		samples, rate, err := lease.Handle().Capability().SynthesizeSpeech(ctx, req.Text, req.ReferenceVoiceRef, model.SynthParams{
			Exaggeration: req.Exaggeration,
			Temperature:  req.Temperature,
			CFGWeight:    req.CFGWeight,
			Seed:         req.Seed,
		})
		if err != nil {
			s.respond(msg, protocol.SynthResult{Error: err.Error()})
			return
		}

		out := audio.Signal{Samples: samples, SampleRate: rate}
		if err := audio.WriteWAVFile(req.OutputPath, out); err != nil {
			s.respond(msg, protocol.SynthResult{Error: err.Error()})
			return
		}
		s.models.ScheduleIdleEviction(0)
		s.respond(msg, protocol.SynthResult{
			OutputPath:  req.OutputPath,
			DurationSec: out.Duration().Seconds(),
		})
	}()
}

func (s *Service) handleModelStatus(msg *nats.Msg) {
	st := s.models.Status()
	s.respond(msg, protocol.ModelStatus{
		State:            string(st.State),
		Device:           st.Device,
		AvailableDevices: st.AvailableDevices,
		LoadedAt:         st.LoadedAt,
		LastUsed:         st.LastUsed,
	})
}

func (s *Service) handleModelLoad(msg *nats.Msg) {
	var cmd protocol.ModelCommand
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			s.respond(msg, protocol.Ack{Error: "malformed request"})
			return
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()

		lease, err := s.models.Ensure(ctx, cmd.Device)
		if err != nil {
			s.respond(msg, protocol.Ack{Error: err.Error()})
			return
		}
		lease.Release()
		s.models.ScheduleIdleEviction(0)
		s.respond(msg, protocol.Ack{OK: true})
	}()
}

func (s *Service) handleModelUnload(msg *nats.Msg) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.models.Unload()
		s.respond(msg, protocol.Ack{OK: true})
	}()
}

func (s *Service) respond(msg *nats.Msg, payload any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to publish reply", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
