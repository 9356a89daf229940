// Package sysid implements a square-root unscented Kalman filter for online
// estimation of plant model parameters. The filter owns its parameter
// estimate and the square root of the estimate covariance, advances once per
// measurement tick, and leaves both untouched when a tick fails.
package sysid

import (
	"errors"
	"fmt"
)

// ErrUpdateFailed reports a tick that could not complete because a
// decomposition or downdate inside the update failed. The estimate and
// covariance factor keep their previous values.
var ErrUpdateFailed = errors.New("filter update failed, state not advanced")

// Config parameterizes an Estimator.
type Config struct {
	// Dim is the number of estimated parameters.
	Dim int

	// Alpha sets the sigma point spread around the estimate, usually
	// within [0.01, 1]. Must be nonzero.
	Alpha float32

	// Beta folds prior knowledge of the parameter distribution into the
	// covariance weights. 2 is optimal for Gaussian priors.
	Beta float32

	// ForgettingFactor is the RLS forgetting factor in (0, 1]. Values
	// close to 1, such as 0.995, keep the filter responsive to drifting
	// parameters without discarding history.
	ForgettingFactor float32

	// Noise is the Dim x Dim measurement noise covariance, row-major.
	// The innovation stage takes element-wise square roots of its rows,
	// which is only meaningful for a diagonal matrix, so entries must be
	// non-negative and off-diagonals should be zero.
	Noise []float32

	// Transition evaluates the plant model G.
	Transition Transition
}

// Estimator carries the filter state and the scratch matrices for one
// logical parameter estimate. It is not safe for concurrent ticks; callers
// that need parallel filters create one Estimator per estimate.
type Estimator struct {
	dim int
	n   int // sigma point count, 2*dim+1

	g          Transition
	forgetting float32
	invSqrtFF  float32
	gamma      float32
	wm, wc     []float32

	// Filter state. The factor buffers hold dim*dim entries plus room for
	// the forgetting sweep, which covers 2*dim entries and runs past the
	// matrix when dim == 1.
	what []float32
	sw   []float32
	re   []float32

	// Staged copies, committed only when a tick fully succeeds.
	wwork []float32
	swork []float32

	// Per-tick scratch.
	sigmaW   []float32 // dim x n
	sigmaD   []float32 // dim x n
	dhat     []float32
	at       []float32 // dim x 3*dim, transposed in place before QR
	rwork    []float32 // 3*dim x dim
	bres     []float32
	sd       []float32
	sdT      []float32
	sdTsd    []float32
	pwd      []float32
	gain     []float32
	u        []float32
	uk       []float32
	residual []float32
	corr     []float32
	diagW    []float32 // n x n, off-diagonals permanently zero
	diagWD   []float32 // n x dim
	dw, wcol []float32
}

// NewEstimator validates cfg and builds an estimator seeded with a zero
// parameter vector and an identity covariance factor. Use Seed to install a
// different prior.
func NewEstimator(cfg Config) (*Estimator, error) {
	if cfg.Dim < 1 {
		return nil, fmt.Errorf("dimension must be at least 1, got %d", cfg.Dim)
	}
	if cfg.Alpha == 0 {
		return nil, errors.New("alpha must be nonzero")
	}
	if !(cfg.ForgettingFactor > 0) || cfg.ForgettingFactor > 1 {
		return nil, fmt.Errorf("forgetting factor must be in (0, 1], got %v", cfg.ForgettingFactor)
	}
	if cfg.Transition == nil {
		return nil, errors.New("transition model is required")
	}
	if len(cfg.Noise) != cfg.Dim*cfg.Dim {
		return nil, fmt.Errorf("measurement noise must have %d entries, got %d", cfg.Dim*cfg.Dim, len(cfg.Noise))
	}
	for i, v := range cfg.Noise {
		if v < 0 {
			return nil, fmt.Errorf("measurement noise entry %d is negative: %v", i, v)
		}
	}

	dim := cfg.Dim
	n := 2*dim + 1
	factorLen := dim * dim
	if 2*dim > factorLen {
		factorLen = 2 * dim
	}

	e := &Estimator{
		dim:        dim,
		n:          n,
		g:          cfg.Transition,
		forgetting: cfg.ForgettingFactor,
		invSqrtFF:  1 / sqrt32(cfg.ForgettingFactor),
		wm:         make([]float32, n),
		wc:         make([]float32, n),
		what:       make([]float32, dim),
		sw:         make([]float32, factorLen),
		re:         make([]float32, dim*dim),
		wwork:      make([]float32, dim),
		swork:      make([]float32, factorLen),
		sigmaW:     make([]float32, dim*n),
		sigmaD:     make([]float32, dim*n),
		dhat:       make([]float32, dim),
		at:         make([]float32, dim*3*dim),
		rwork:      make([]float32, 3*dim*dim),
		bres:       make([]float32, dim),
		sd:         make([]float32, dim*dim),
		sdT:        make([]float32, dim*dim),
		sdTsd:      make([]float32, dim*dim),
		pwd:        make([]float32, dim*dim),
		gain:       make([]float32, dim*dim),
		u:          make([]float32, dim*dim),
		uk:         make([]float32, dim),
		residual:   make([]float32, dim),
		corr:       make([]float32, dim),
		diagW:      make([]float32, n*n),
		diagWD:     make([]float32, n*dim),
		dw:         make([]float32, dim),
		wcol:       make([]float32, dim),
	}
	copy(e.re, cfg.Noise)

	// kappa is 3 - L for parameter estimation, which pins the sigma scale
	// to gamma = sqrt(3)*|alpha| regardless of dimension.
	kappa := 3 - float32(dim)
	lambda := cfg.Alpha*cfg.Alpha*(float32(dim)+kappa) - float32(dim)
	e.gamma = sqrt32(float32(dim) + lambda)

	e.wm[0] = lambda / (float32(dim) + lambda)
	e.wc[0] = e.wm[0] + 1 - cfg.Alpha*cfg.Alpha + cfg.Beta
	for i := 1; i < n; i++ {
		e.wc[i] = 0.5 / (float32(dim) + lambda)
		e.wm[i] = e.wc[i]
	}

	for i := 0; i < dim; i++ {
		e.sw[i*dim+i] = 1
	}
	return e, nil
}

// Dim returns the number of estimated parameters.
func (e *Estimator) Dim() int { return e.dim }

// Seed installs a parameter prior and its covariance square-root factor,
// replacing the current filter state.
func (e *Estimator) Seed(what, Sw []float32) error {
	if len(what) != e.dim || len(Sw) != e.dim*e.dim {
		return fmt.Errorf("prior must have %d and %d entries, got %d and %d",
			e.dim, e.dim*e.dim, len(what), len(Sw))
	}
	copy(e.what, what)
	copy(e.sw, Sw)
	for i := e.dim * e.dim; i < len(e.sw); i++ {
		e.sw[i] = 0
	}
	return nil
}

// SetNoise replaces the measurement noise covariance.
func (e *Estimator) SetNoise(Re []float32) error {
	if len(Re) != e.dim*e.dim {
		return fmt.Errorf("measurement noise must have %d entries, got %d", e.dim*e.dim, len(Re))
	}
	for i, v := range Re {
		if v < 0 {
			return fmt.Errorf("measurement noise entry %d is negative: %v", i, v)
		}
	}
	copy(e.re, Re)
	return nil
}

// Parameters returns a copy of the current parameter estimate.
func (e *Estimator) Parameters() []float32 {
	out := make([]float32, e.dim)
	copy(out, e.what)
	return out
}

// Covariance returns a copy of the current covariance square-root factor.
func (e *Estimator) Covariance() []float32 {
	out := make([]float32, e.dim*e.dim)
	copy(out, e.sw)
	return out
}

// Step advances the filter one tick against measurement d taken at plant
// state x. On failure the error wraps ErrUpdateFailed and the estimate and
// factor are left exactly as before the call.
//
// The tick works through the square-root form in order:
//
//  1. Inflate the staged covariance factor by the forgetting factor.
//  2. Fan the estimate into 2*dim+1 sigma points scaled by gamma.
//  3. Push every sigma point through the transition model.
//  4. Collapse the propagated points into the predicted measurement dhat.
//  5. Rebuild the innovation factor Sd from a QR of the weighted residuals
//     and the noise rows, then rank-one adjust it with the center residual.
//  6. Form the cross covariance Pwd from the centered point matrices.
//  7. Apply the Kalman correction through a full inverse of Sd'Sd and
//     downdate the parameter factor once per gain column, left to right.
func (e *Estimator) Step(d, x []float32) error {
	if len(d) != e.dim || len(x) != e.dim {
		return fmt.Errorf("measurement and state must have %d entries, got %d and %d",
			e.dim, len(d), len(x))
	}

	copy(e.wwork, e.what)
	copy(e.swork, e.sw)

	e.applyForgetting(e.swork)
	e.sigmaPoints(e.sigmaW, e.wwork, e.swork)
	e.propagate(e.sigmaD, e.sigmaW, x)
	e.weightedMean(e.dhat, e.sigmaD)
	if err := e.innovationFactor(e.sd, e.sigmaD, e.dhat); err != nil {
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}
	e.crossCovariance(e.pwd, e.sigmaW, e.sigmaD, e.wwork, e.dhat)
	if err := e.correct(d, e.wwork, e.swork); err != nil {
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}

	copy(e.what, e.wwork)
	copy(e.sw, e.swork)
	return nil
}

// Estimate runs a single filter tick with caller-owned state: what and Sw
// are updated in place on success and left untouched on error. It matches
// the one-call-per-tick shape of the original control loop entry point;
// long-running callers should hold an Estimator instead and reuse its
// scratch.
func Estimate(d, what, Re, x []float32, g Transition, lambdaRLS float32, Sw []float32, alpha, beta float32, dim int) error {
	e, err := NewEstimator(Config{
		Dim:              dim,
		Alpha:            alpha,
		Beta:             beta,
		ForgettingFactor: lambdaRLS,
		Noise:            Re,
		Transition:       g,
	})
	if err != nil {
		return err
	}
	if err := e.Seed(what, Sw); err != nil {
		return err
	}
	if err := e.Step(d, x); err != nil {
		return err
	}
	copy(what, e.what)
	copy(Sw, e.sw[:dim*dim])
	return nil
}
