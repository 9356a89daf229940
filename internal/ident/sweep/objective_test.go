package sweep

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decayTrace builds an innovation trace that decays to a noise floor over
// the first settle ticks.
func decayTrace(n, settle int, floor float32) []float32 {
	trace := make([]float32, n)
	for i := range trace {
		trace[i] = floor + 2*float32(math.Exp(-3*float64(i)/float64(settle)))
	}
	return trace
}

func TestEvaluateSteadyState(t *testing.T) {
	trace := make([]float32, 100)
	for i := range trace {
		trace[i] = 0.5
	}

	var result ComboResult
	Evaluate(&result, trace)

	assert.Equal(t, 100, result.Ticks)
	assert.InDelta(t, 0.5, result.SteadyStateRMS, 1e-6)
	assert.Zero(t, result.ConvergenceFraction, "a flat trace is settled from tick zero")
}

func TestEvaluateConvergencePoint(t *testing.T) {
	var fast, slow ComboResult
	Evaluate(&fast, decayTrace(200, 20, 0.05))
	Evaluate(&slow, decayTrace(200, 120, 0.05))

	assert.Less(t, fast.ConvergenceFraction, slow.ConvergenceFraction)
	assert.Greater(t, fast.ConvergenceFraction, 0.0)
	assert.Less(t, slow.ConvergenceFraction, 1.0)
}

func TestEvaluateEmptyTrace(t *testing.T) {
	var result ComboResult
	Evaluate(&result, nil)
	assert.Equal(t, math.MaxFloat64, result.SteadyStateRMS)
	assert.Equal(t, 1.0, result.ConvergenceFraction)
}

func TestScoreBlendsTerms(t *testing.T) {
	weights := ObjectiveWeights{SteadyState: 1, Convergence: 0.5, FailurePenalty: 10}

	base := ComboResult{Ticks: 100, SteadyStateRMS: 0.2, ConvergenceFraction: 0.4}
	assert.InDelta(t, 0.4, Score(base, weights), 1e-9)

	failing := base
	failing.Failures = 10
	assert.InDelta(t, 1.4, Score(failing, weights), 1e-9)
}

func TestRankResultsBestFirst(t *testing.T) {
	results := []ComboResult{
		{Combo: Combo{Alpha: 0.9}, Ticks: 100, SteadyStateRMS: 0.8},
		{Combo: Combo{Alpha: 0.3}, Ticks: 100, SteadyStateRMS: 0.1},
		{Combo: Combo{Alpha: 0.6}, Ticks: 100, SteadyStateRMS: 0.4},
	}

	ranked := RankResults(results, DefaultObjectiveWeights())
	require.Len(t, ranked, 3)
	assert.Equal(t, 0.3, ranked[0].Alpha)
	assert.Equal(t, 0.9, ranked[2].Alpha)
	assert.Less(t, ranked[0].Score, ranked[1].Score)
}
