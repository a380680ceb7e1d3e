package dispatch

import (
	"iter"

	"inferd/pkg/types"
)

// Stream is the result sequence of one execution. C yields zero or more
// partial results followed by at most one terminal result, then closes.
// A cancelled execution closes C without a terminal result.
type Stream struct {
	RequestID string
	C         <-chan types.InferenceResult
	cancel    func()
}

// Cancel asks the execution to stop. Safe to call more than once.
func (s *Stream) Cancel() { s.cancel() }

// All ranges over the results. Breaking out of the loop cancels the
// execution.
func (s *Stream) All() iter.Seq[types.InferenceResult] {
	return func(yield func(types.InferenceResult) bool) {
		for r := range s.C {
			if !yield(r) {
				s.cancel()
				return
			}
		}
	}
}

// Collect drains the stream and returns every result.
func (s *Stream) Collect() []types.InferenceResult {
	var out []types.InferenceResult
	for r := range s.C {
		out = append(out, r)
	}
	return out
}
