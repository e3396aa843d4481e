package audio

import (
	"fmt"
	"io"
	"math"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeWAV decodes a WAV stream into a mono Signal. Multi-channel input is
// downmixed by averaging; samples are normalized to [-1, 1] by source bit
// depth. Undecodable input fails with ErrDecode.
func DecodeWAV(r io.ReadSeeker) (Signal, error) {
	decoder := wav.NewDecoder(r)
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return Signal{}, fmt.Errorf("%w: missing format header", ErrDecode)
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float64(int64(1) << (bitDepth - 1))

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[f*channels+c])
		}
		samples[f] = sum / float64(channels) / scale
	}
	return Signal{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// ReadWAVFile decodes the WAV file at path.
func ReadWAVFile(path string) (Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// EncodeWAV writes the signal as 16-bit mono PCM WAV. Samples outside [-1, 1]
// are clamped at the integer boundary.
func EncodeWAV(w io.WriteSeeker, s Signal) error {
	if s.SampleRate <= 0 {
		return ErrInvalidRate
	}

	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: s.SampleRate},
		Data:           make([]int, len(s.Samples)),
		SourceBitDepth: 16,
	}
	// The decoder divides by 1<<15; the same scale here keeps a round trip
	// within one quantization step.
	for i, v := range s.Samples {
		scaled := math.Round(v * 32768)
		switch {
		case scaled > 32767:
			buf.Data[i] = 32767
		case scaled < -32768:
			buf.Data[i] = -32768
		default:
			buf.Data[i] = int(scaled)
		}
	}

	enc := wav.NewEncoder(w, s.SampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteWAVFile encodes the signal to a new file at path.
func WriteWAVFile(path string, s Signal) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	defer f.Close()
	return EncodeWAV(f, s)
}
