package registry

import (
	"math"

	"inferd/internal/runner"
)

// Score ranks a vendor/tier pair; lower is better. Vendors are spaced by ten
// so tiers never collide across vendor boundaries.
func Score(v runner.Vendor, t runner.Tier) int {
	return int(v)*10 + int(t)
}

// ScoreOf scores r from its descriptor. Runners without one always rank last.
func ScoreOf(r runner.Runner) int {
	d, ok := r.(runner.Described)
	if !ok {
		return math.MaxInt
	}
	desc := d.Descriptor()
	return Score(desc.Vendor, desc.Tier)
}

// SelectBest returns the candidate with the lowest score. Ties go to the
// earliest candidate. It returns nil for an empty slice.
func SelectBest(candidates []runner.Runner) runner.Runner {
	var best runner.Runner
	bestScore := 0
	for _, c := range candidates {
		s := ScoreOf(c)
		if best == nil || s < bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

// Ranked returns candidates ordered by score, stable on ties.
func Ranked(candidates []runner.Runner) []runner.Runner {
	out := make([]runner.Runner, len(candidates))
	copy(out, candidates)
	// insertion sort keeps equal scores in registration order
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && ScoreOf(out[j]) < ScoreOf(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
