package sweep

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/kestrel-controls/plantid/internal/filters"
)

// ObjectiveWeights blends the two error terms into the scalar score.
// Lower scores are better.
type ObjectiveWeights struct {
	// SteadyState weights the RMS innovation over the settled tail.
	SteadyState float64 `json:"steady_state"`

	// Convergence weights the fraction of the run spent above the
	// settled band.
	Convergence float64 `json:"convergence"`

	// FailurePenalty is added per failed tick, normalised by run length.
	FailurePenalty float64 `json:"failure_penalty"`
}

// DefaultObjectiveWeights returns the weights used when a sweep config
// does not override them.
func DefaultObjectiveWeights() ObjectiveWeights {
	return ObjectiveWeights{
		SteadyState:    1.0,
		Convergence:    0.5,
		FailurePenalty: 10.0,
	}
}

// tailFraction is the portion of the trace treated as settled for the
// steady-state term.
const tailFraction = 0.25

// settledBandMultiple scales the steady-state RMS into the band a smoothed
// trace must enter to count as converged.
const settledBandMultiple = 2.0

// smoothTimeConstant is the FiltFilt time constant applied to the
// innovation trace, in ticks.
const smoothTimeConstant = 8.0

// ComboResult holds the metrics collected from replaying the log with one
// combination.
type ComboResult struct {
	Combo

	Ticks          int     `json:"ticks"`
	Failures       int     `json:"failures"`
	SteadyStateRMS float64 `json:"steady_state_rms"`

	// ConvergenceFraction is the portion of the run before the smoothed
	// innovation trace last entered the settled band; 1 means it never
	// settled.
	ConvergenceFraction float64 `json:"convergence_fraction"`

	FinalEstimate []float32 `json:"final_estimate"`
}

// Evaluate fills the error metrics of a result from the per-tick innovation
// norms. The trace is smoothed zero-phase first so a single noisy tick does
// not decide the convergence point.
func Evaluate(result *ComboResult, innovationNorms []float32) {
	n := len(innovationNorms)
	result.Ticks = n
	if n == 0 {
		result.SteadyStateRMS = math.MaxFloat64
		result.ConvergenceFraction = 1
		return
	}

	smoothed := make([]float32, n)
	ticks := make([]float32, n)
	copy(smoothed, innovationNorms)
	for i := range ticks {
		ticks[i] = float32(i)
	}
	filters.FiltFilt(smoothed, ticks, smoothTimeConstant)

	tailStart := n - int(math.Ceil(float64(n)*tailFraction))
	if tailStart >= n {
		tailStart = n - 1
	}
	tail := make([]float64, 0, n-tailStart)
	for _, v := range innovationNorms[tailStart:] {
		tail = append(tail, float64(v)*float64(v))
	}
	result.SteadyStateRMS = math.Sqrt(stat.Mean(tail, nil))

	// Walk backward: convergence is the last time the smoothed trace sat
	// outside the settled band.
	band := settledBandMultiple * result.SteadyStateRMS
	converged := 0
	for i := n - 1; i >= 0; i-- {
		if float64(smoothed[i]) > band {
			converged = i + 1
			break
		}
	}
	result.ConvergenceFraction = float64(converged) / float64(n)
}

// Score collapses a result into the scalar objective. Lower is better.
func Score(result ComboResult, weights ObjectiveWeights) float64 {
	score := weights.SteadyState * result.SteadyStateRMS
	score += weights.Convergence * result.ConvergenceFraction
	if result.Ticks > 0 {
		score += weights.FailurePenalty * float64(result.Failures) / float64(result.Ticks)
	} else {
		score += weights.FailurePenalty
	}
	return score
}

// ScoredResult pairs a result with its objective score.
type ScoredResult struct {
	ComboResult
	Score float64 `json:"score"`
}

// RankResults scores every result and sorts best (lowest score) first.
func RankResults(results []ComboResult, weights ObjectiveWeights) []ScoredResult {
	scored := make([]ScoredResult, len(results))
	for i, r := range results {
		scored[i] = ScoredResult{ComboResult: r, Score: Score(r, weights)}
	}
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Score < scored[j].Score
	})
	return scored
}
