package audio

import (
	"log/slog"
	"math"
)

// Effects holds the post-processing parameters for a converted signal. Zero
// pitch shift, unit speed, and unit volume are identity values; a stage at
// its identity value is skipped entirely.
type Effects struct {
	PitchSemitones float64
	SpeedFactor    float64
	VolumeFactor   float64
}

// Identity reports whether applying these effects would change nothing.
func (e Effects) Identity() bool {
	return e.PitchSemitones == 0 && e.SpeedFactor == 1.0 && e.VolumeFactor == 1.0
}

// Processor applies pitch shift, time stretch, and gain to decoded signals.
type Processor struct {
	log *slog.Logger
}

// NewProcessor returns an effects processor that logs skipped stages.
func NewProcessor(log *slog.Logger) *Processor {
	return &Processor{log: log.With(slog.String("component", "effects"))}
}

// Apply runs the three effect stages in order: pitch shift (duration
// preserved), time stretch (duration scaled by 1/speed), then gain with a
// hard clip to [-1, 1]. Clipping is deliberate: an audible artifact beats an
// out-of-range sample that downstream encoders would wrap or reject. A stage
// with an invalid parameter is skipped and logged, leaving the signal
// unmodified up to that point, rather than failing the job.
func (p *Processor) Apply(s Signal, fx Effects) Signal {
	if fx.Identity() || s.Empty() {
		return s
	}

	out := s
	if fx.PitchSemitones != 0 {
		if shifted, ok := pitchShift(out.Samples, fx.PitchSemitones); ok {
			out = Signal{Samples: shifted, SampleRate: out.SampleRate}
		} else {
			p.log.Warn("pitch shift skipped",
				slog.Float64("semitones", fx.PitchSemitones))
		}
	}

	if fx.SpeedFactor != 1.0 {
		if fx.SpeedFactor > 0 && !math.IsNaN(fx.SpeedFactor) && !math.IsInf(fx.SpeedFactor, 0) {
			out = Signal{
				Samples:    timeStretch(out.Samples, fx.SpeedFactor),
				SampleRate: out.SampleRate,
			}
		} else {
			p.log.Warn("time stretch skipped",
				slog.Float64("speed_factor", fx.SpeedFactor))
		}
	}

	if fx.VolumeFactor != 1.0 {
		if fx.VolumeFactor >= 0 && !math.IsNaN(fx.VolumeFactor) && !math.IsInf(fx.VolumeFactor, 0) {
			out = Signal{
				Samples:    scaleAndClip(out.Samples, fx.VolumeFactor),
				SampleRate: out.SampleRate,
			}
		} else {
			p.log.Warn("volume adjustment skipped",
				slog.Float64("volume_factor", fx.VolumeFactor))
		}
	}
	return out
}

// stretchFrame and its hop were chosen for speech at 16-48 kHz: long enough
// to keep pitch periods intact, short enough that transients do not smear.
const (
	stretchFrame = 2048
	stretchHop   = stretchFrame / 4
)

// timeStretch changes duration by 1/rate without shifting pitch, using
// windowed overlap-add. Output length is exactly round(len(x)/rate).
func timeStretch(x []float64, rate float64) []float64 {
	if len(x) == 0 {
		return nil
	}
	outLen := int(math.Round(float64(len(x)) / rate))
	if outLen < 1 {
		outLen = 1
	}

	win := hannWindow(stretchFrame)
	acc := make([]float64, outLen+stretchFrame)
	weight := make([]float64, outLen+stretchFrame)
	for outPos := 0; outPos < outLen; outPos += stretchHop {
		inPos := int(math.Round(float64(outPos) * rate))
		for i := 0; i < stretchFrame && inPos+i < len(x); i++ {
			acc[outPos+i] += x[inPos+i] * win[i]
			weight[outPos+i] += win[i]
		}
	}

	out := make([]float64, outLen)
	for i := range out {
		if weight[i] > 1e-9 {
			out[i] = acc[i] / weight[i]
		}
	}
	return out
}

// pitchShift moves spectral content by the given semitone count while keeping
// duration: time-stretch by the pitch ratio, then resample back to the
// original length.
func pitchShift(x []float64, semitones float64) ([]float64, bool) {
	if math.IsNaN(semitones) || math.IsInf(semitones, 0) {
		return nil, false
	}
	factor := math.Pow(2, semitones/12)
	stretched := timeStretch(x, factor)
	return resampleTo(stretched, len(x)), true
}

func scaleAndClip(x []float64, gain float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		scaled := v * gain
		switch {
		case scaled > 1.0:
			out[i] = 1.0
		case scaled < -1.0:
			out[i] = -1.0
		default:
			out[i] = scaled
		}
	}
	return out
}

// resampleTo linearly interpolates x to exactly outLen samples.
func resampleTo(x []float64, outLen int) []float64 {
	if outLen <= 0 || len(x) == 0 {
		return make([]float64, outLen)
	}
	out := make([]float64, outLen)
	step := float64(len(x)-1) / float64(outLen)
	if outLen > 1 {
		step = float64(len(x)-1) / float64(outLen-1)
	}
	for i := range out {
		pos := float64(i) * step
		left := int(pos)
		if left >= len(x)-1 {
			out[i] = x[len(x)-1]
			continue
		}
		frac := pos - float64(left)
		out[i] = x[left]*(1-frac) + x[left+1]*frac
	}
	return out
}

func hannWindow(n int) []float64 {
	win := make([]float64, n)
	for i := range win {
		win[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return win
}
