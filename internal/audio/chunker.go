package audio

import (
	"errors"
	"fmt"
)

// ErrChunkDuration indicates a non-positive chunk duration.
var ErrChunkDuration = errors.New("chunk duration must be positive")

// Split resamples the signal to targetRate and partitions it into chunks of
// chunkSeconds each. The final chunk holds the remainder and may be shorter;
// an empty input yields an empty slice. Boundaries are deterministic: the same
// input and parameters always produce the same chunks.
func Split(s Signal, chunkSeconds int, targetRate int) ([]Chunk, error) {
	if chunkSeconds <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrChunkDuration, chunkSeconds)
	}

	resampled, err := Resample(s, targetRate)
	if err != nil {
		return nil, err
	}
	if resampled.Empty() {
		return nil, nil
	}

	chunkSize := chunkSeconds * targetRate
	samples := resampled.Samples
	chunks := make([]Chunk, 0, (len(samples)+chunkSize-1)/chunkSize)
	for start := 0; start < len(samples); start += chunkSize {
		end := start + chunkSize
		if end > len(samples) {
			end = len(samples)
		}
		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Signal: Signal{Samples: samples[start:end], SampleRate: targetRate},
		})
	}
	return chunks, nil
}
