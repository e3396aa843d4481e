package audio

import (
	"fmt"
	"sort"
)

// Summary counts how a combined job went. Substituted chunks carry silence in
// the output; callers inspect the summary to decide whether to surface a
// job-level failure, the combiner itself never does.
type Summary struct {
	Successful  int
	Substituted int
}

// Total returns the number of chunks the summary covers.
func (s Summary) Total() int { return s.Successful + s.Substituted }

// Combine concatenates per-chunk outcomes into a single signal in strict
// index order. Outcomes are sorted defensively; every index 0..N-1 must be
// present exactly once or Combine fails with ErrMissingChunk. A job where
// every chunk was substituted still returns a well-formed (all silence)
// signal so the caller keeps a deterministic result to reconcile or encode.
func Combine(outcomes []Outcome) (Signal, Summary, error) {
	if len(outcomes) == 0 {
		return Signal{}, Summary{}, nil
	}

	sorted := make([]Outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	total := 0
	for i, o := range sorted {
		if o.Index != i {
			return Signal{}, Summary{}, fmt.Errorf(
				"%w: expected index %d, found %d", ErrMissingChunk, i, o.Index)
		}
		total += len(o.Signal.Samples)
	}

	var summary Summary
	rate := sorted[0].Signal.SampleRate
	samples := make([]float64, 0, total)
	for _, o := range sorted {
		samples = append(samples, o.Signal.Samples...)
		if o.OK {
			summary.Successful++
		} else {
			summary.Substituted++
		}
	}
	return Signal{Samples: samples, SampleRate: rate}, summary, nil
}
