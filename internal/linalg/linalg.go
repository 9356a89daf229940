// Package linalg provides the dense float32 linear algebra primitives used by
// the estimation kernel: LU decomposition with partial pivoting and the
// determinant/inverse derived from it, Householder QR, rank-one Cholesky
// update/downdate, and the small matrix helpers (multiply, transpose, forward
// substitution).
//
// All matrices are flattened row-major []float32 buffers addressed by
// row*width+col, matching the estimator's data model. The functions perform no
// dimension checking; shapes are caller-guaranteed and validated at the
// estimator boundary instead.
package linalg

import (
	"errors"
	"math"
)

// pivotTolerance is the float32 machine epsilon. Pivots below this magnitude
// are treated as zero during decomposition.
const pivotTolerance = 1.1920929e-07

// ErrSingular is returned by decompositions and solves when the input matrix
// has no usable pivot.
var ErrSingular = errors.New("linalg: matrix is singular")

// ErrNotPositiveDefinite is returned by CholUpdate when a downdate would
// destroy positive-definiteness of the factor.
var ErrNotPositiveDefinite = errors.New("linalg: downdate breaks positive definiteness")

func abs32(x float32) float32 {
	return float32(math.Abs(float64(x)))
}

func sqrt32(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}
