package sysid

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/kestrel-controls/plantid/internal/linalg"
)

var identity = TransitionFunc(func(dw, x, w []float32) { copy(dw, w) })

func newTestEstimator(t *testing.T, dim int, alpha, forgetting float32, re []float32) *Estimator {
	t.Helper()
	e, err := NewEstimator(Config{
		Dim:              dim,
		Alpha:            alpha,
		Beta:             2,
		ForgettingFactor: forgetting,
		Noise:            re,
		Transition:       identity,
	})
	if err != nil {
		t.Fatalf("NewEstimator failed: %v", err)
	}
	return e
}

func diagNoise(dim int, v float32) []float32 {
	re := make([]float32, dim*dim)
	for i := 0; i < dim; i++ {
		re[i*dim+i] = v
	}
	return re
}

func TestWeights_Normalized(t *testing.T) {
	for _, dim := range []int{1, 2, 5} {
		for _, alpha := range []float32{0.1, 0.5, 1} {
			e := newTestEstimator(t, dim, alpha, 1, diagNoise(dim, 0.01))

			var sum float32
			for _, w := range e.wm {
				sum += w
			}
			if math.Abs(float64(sum-1)) > 1e-3 {
				t.Errorf("dim=%d alpha=%v: sum(Wm) = %v, want 1", dim, alpha, sum)
			}
			for j := 1; j < e.n; j++ {
				if e.wc[j] != e.wm[j] {
					t.Errorf("dim=%d alpha=%v: Wc[%d] = %v != Wm[%d] = %v",
						dim, alpha, j, e.wc[j], j, e.wm[j])
				}
			}
		}
	}
}

func TestSigmaPoints_CenterColumnIsEstimate(t *testing.T) {
	e := newTestEstimator(t, 2, 0.5, 1, diagNoise(2, 0.01))
	what := []float32{0.25, -0.5}
	sw := []float32{1.5, 0.2, 0, 0.8}

	W := make([]float32, 2*e.n)
	e.sigmaPoints(W, what, sw)

	for i := 0; i < 2; i++ {
		if W[i*e.n] != what[i] {
			t.Errorf("W[%d,0] = %v, want exactly %v", i, W[i*e.n], what[i])
		}
	}
}

func TestSigmaPoints_SymmetricPairs(t *testing.T) {
	e := newTestEstimator(t, 2, 0.5, 1, diagNoise(2, 0.01))
	what := []float32{0.25, -0.5}
	sw := []float32{1.5, 0.2, 0, 0.8}

	W := make([]float32, 2*e.n)
	e.sigmaPoints(W, what, sw)

	// Columns j and j+dim perturb by +/- gamma times the same factor
	// column, so each pair averages back to the estimate.
	for j := 1; j <= 2; j++ {
		for i := 0; i < 2; i++ {
			sum := W[i*e.n+j] + W[i*e.n+j+2]
			if math.Abs(float64(sum-2*what[i])) > 1e-5 {
				t.Errorf("W[%d,%d]+W[%d,%d] = %v, want %v", i, j, i, j+2, sum, 2*what[i])
			}
		}
	}
}

func TestStep_IdentityTransitionPredictsEstimate(t *testing.T) {
	e := newTestEstimator(t, 2, 0.5, 1, diagNoise(2, 0.01))
	what := []float32{0.25, -0.5}
	if err := e.Seed(what, []float32{1, 0, 0, 1}); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	if err := e.Step([]float32{0.25, -0.5}, []float32{0, 0}); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	for i := range what {
		if math.Abs(float64(e.dhat[i]-what[i])) > 1e-5 {
			t.Errorf("dhat[%d] = %v, want %v (identity model predicts the estimate)",
				i, e.dhat[i], what[i])
		}
	}
}

func TestStep_MeasurementAtPredictionMovesNothing(t *testing.T) {
	e := newTestEstimator(t, 2, 0.5, 1, diagNoise(2, 0.01))
	what := []float32{0.25, -0.5}
	if err := e.Seed(what, []float32{1, 0, 0, 1}); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	// With the identity model the prediction equals the estimate, so a
	// measurement at the estimate carries a zero residual.
	if err := e.Step([]float32{0.25, -0.5}, []float32{0, 0}); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	got := e.Parameters()
	for i := range what {
		if math.Abs(float64(got[i]-what[i])) > 1e-5 {
			t.Errorf("what[%d] moved from %v to %v on a zero residual", i, what[i], got[i])
		}
	}
}

func TestStep_OneParameterScenario(t *testing.T) {
	// One parameter, identity model, unit prior factor, Re = 0.01:
	//
	//   innovation variance = 2 * Wc[1] * gamma^2 + Re = 1.01
	//   gain                = Pwd / innovation     = 1/1.01
	//   posterior what      = 0 + gain * (1 - 0)   = 0.990099
	//   posterior factor    = sqrt(1 - gain)       = 0.099504
	e := newTestEstimator(t, 1, 0.1, 1, []float32{0.01})
	if err := e.Seed([]float32{0}, []float32{1}); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	if err := e.Step([]float32{1}, []float32{0}); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	what := e.Parameters()
	if math.Abs(float64(what[0])-100.0/101.0) > 1e-4 {
		t.Errorf("what = %v, want %v", what[0], 100.0/101.0)
	}
	sw := e.Covariance()
	if math.Abs(float64(sw[0])-0.09950372) > 1e-4 {
		t.Errorf("Sw = %v, want 0.09950372", sw[0])
	}
}

func TestStep_KeepsFactorInvertible(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	// alpha 0.1 drives the center weight negative (downdate gate), alpha 1
	// keeps it positive (update gate); both must hold the factor invertible
	// across random well-conditioned priors.
	for _, alpha := range []float32{0.1, 1} {
		for _, dim := range []int{1, 2, 3} {
			for trial := 0; trial < 20; trial++ {
				e := newTestEstimator(t, dim, alpha, 0.995, diagNoise(dim, 0.1))

				what := make([]float32, dim)
				sw := make([]float32, dim*dim)
				d := make([]float32, dim)
				x := make([]float32, dim)
				for i := 0; i < dim; i++ {
					what[i] = float32(rng.Float64()*2 - 1)
					d[i] = what[i] + float32(rng.Float64()-0.5)*0.1
					x[i] = float32(rng.Float64())
					sw[i*dim+i] = 1 + float32(rng.Float64())
					for j := i + 1; j < dim; j++ {
						sw[i*dim+j] = float32(rng.Float64()*0.2 - 0.1)
					}
				}
				if err := e.Seed(what, sw); err != nil {
					t.Fatalf("Seed failed: %v", err)
				}

				if err := e.Step(d, x); err != nil {
					t.Fatalf("alpha=%v dim=%d trial=%d: Step failed: %v", alpha, dim, trial, err)
				}
				det, err := linalg.Det(e.Covariance(), dim)
				if err != nil {
					t.Fatalf("alpha=%v dim=%d trial=%d: Det failed: %v", alpha, dim, trial, err)
				}
				if det == 0 {
					t.Errorf("alpha=%v dim=%d trial=%d: factor went singular", alpha, dim, trial)
				}
			}
		}
	}
}

func TestStep_FailureLeavesStateUntouched(t *testing.T) {
	// A zero prior factor with zero noise collapses every sigma point onto
	// the estimate, so the innovation factor downdate hits a zero radicand.
	e := newTestEstimator(t, 2, 0.1, 1, make([]float32, 4))
	what := []float32{0.5, -0.25}
	sw := make([]float32, 4)
	if err := e.Seed(what, sw); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	err := e.Step([]float32{1, 1}, []float32{0, 0})
	if err == nil {
		t.Fatal("expected a degenerate tick to fail")
	}
	if !errors.Is(err, ErrUpdateFailed) {
		t.Errorf("error %v does not wrap ErrUpdateFailed", err)
	}
	if !errors.Is(err, linalg.ErrNotPositiveDefinite) {
		t.Errorf("error %v does not wrap the downdate failure", err)
	}

	got := e.Parameters()
	for i := range what {
		if got[i] != what[i] {
			t.Errorf("what[%d] = %v after failed tick, want %v", i, got[i], what[i])
		}
	}
	for i, v := range e.Covariance() {
		if v != 0 {
			t.Errorf("Sw[%d] = %v after failed tick, want 0", i, v)
		}
	}
}

func TestApplyForgetting_SweepCoversTwoRows(t *testing.T) {
	// forgetting 0.25 doubles the swept entries. The sweep stops after
	// 2*dim flat entries: the first two rows, not the full matrix.
	e := newTestEstimator(t, 3, 0.5, 0.25, diagNoise(3, 0.01))

	s := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	e.applyForgetting(s)

	want := []float32{2, 4, 6, 8, 10, 12, 7, 8, 9}
	for i := range want {
		if s[i] != want[i] {
			t.Errorf("s[%d] = %v, want %v", i, s[i], want[i])
		}
	}
}

func TestStep_ForgettingSweepAtDimensionOne(t *testing.T) {
	// At dim 1 the sweep covers two entries against a one-entry matrix; the
	// factor buffer carries the extra slot so the tick must run clean.
	e := newTestEstimator(t, 1, 0.1, 0.25, []float32{0.01})
	if err := e.Seed([]float32{0.5}, []float32{1}); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if err := e.Step([]float32{0.6}, []float32{0}); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
}

func TestEstimate_OneShot(t *testing.T) {
	what := []float32{0}
	sw := []float32{1}

	err := Estimate([]float32{1}, what, []float32{0.01}, []float32{0},
		identity, 1, sw, 0.1, 2, 1)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	if math.Abs(float64(what[0])-100.0/101.0) > 1e-4 {
		t.Errorf("what = %v, want %v", what[0], 100.0/101.0)
	}
	if math.Abs(float64(sw[0])-0.09950372) > 1e-4 {
		t.Errorf("Sw = %v, want 0.09950372", sw[0])
	}
}

func TestEstimate_InvalidConfigLeavesBuffersUntouched(t *testing.T) {
	what := []float32{0.5}
	sw := []float32{2}

	err := Estimate([]float32{1}, what, []float32{0.01}, []float32{0},
		identity, 1, sw, 0, 2, 1)
	if err == nil {
		t.Fatal("expected zero alpha to be rejected")
	}
	if what[0] != 0.5 || sw[0] != 2 {
		t.Errorf("buffers modified on rejected call: what=%v sw=%v", what[0], sw[0])
	}
}

func TestNewEstimator_Validation(t *testing.T) {
	valid := Config{
		Dim:              2,
		Alpha:            0.5,
		Beta:             2,
		ForgettingFactor: 1,
		Noise:            diagNoise(2, 0.01),
		Transition:       identity,
	}
	if _, err := NewEstimator(valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dimension", func(c *Config) { c.Dim = 0 }},
		{"zero alpha", func(c *Config) { c.Alpha = 0 }},
		{"zero forgetting", func(c *Config) { c.ForgettingFactor = 0 }},
		{"forgetting above one", func(c *Config) { c.ForgettingFactor = 1.5 }},
		{"nil transition", func(c *Config) { c.Transition = nil }},
		{"short noise", func(c *Config) { c.Noise = []float32{0.01} }},
		{"negative noise", func(c *Config) { c.Noise = []float32{0.01, 0, 0, -1} }},
	}
	for _, tc := range cases {
		cfg := valid
		tc.mutate(&cfg)
		if _, err := NewEstimator(cfg); err == nil {
			t.Errorf("%s: config accepted, want error", tc.name)
		}
	}
}

func TestStep_DimensionMismatch(t *testing.T) {
	e := newTestEstimator(t, 2, 0.5, 1, diagNoise(2, 0.01))
	if err := e.Step([]float32{1}, []float32{0, 0}); err == nil {
		t.Error("short measurement accepted, want error")
	}
	if err := e.Step([]float32{1, 1}, []float32{0}); err == nil {
		t.Error("short state accepted, want error")
	}
}
