package sysid

import (
	"math"

	"github.com/kestrel-controls/plantid/internal/linalg"
)

func sqrt32(v float32) float32 { return float32(math.Sqrt(float64(v))) }

func abs32(v float32) float32 { return float32(math.Abs(float64(v))) }

// applyForgetting inflates the staged covariance factor by 1/sqrt of the
// forgetting factor. The sweep covers the first 2*dim entries of the flat
// buffer, which for dim >= 2 is the first two rows of the matrix, never the
// whole factor.
func (e *Estimator) applyForgetting(s []float32) {
	m := 2 * e.dim
	for i := 0; i < m; i++ {
		s[i] *= e.invSqrtFF
	}
}

// sigmaPoints writes the dim x (2*dim+1) sigma point matrix W. Column 0 is
// the estimate itself; columns 1..dim add gamma times the factor columns and
// the remaining dim columns subtract them.
func (e *Estimator) sigmaPoints(W, what, s []float32) {
	n := e.n
	k := e.dim + 1

	for i := 0; i < e.dim; i++ {
		W[i*n] = what[i]
	}
	for j := 1; j < k; j++ {
		for i := 0; i < e.dim; i++ {
			W[i*n+j] = what[i] + e.gamma*s[i*e.dim+j-1]
		}
	}
	for j := k; j < n; j++ {
		for i := 0; i < e.dim; i++ {
			W[i*n+j] = what[i] - e.gamma*s[i*e.dim+j-k]
		}
	}
}

// propagate evaluates the transition model column by column, filling D with
// G(x, W[:,j]).
func (e *Estimator) propagate(D, W, x []float32) {
	n := e.n
	for j := 0; j < n; j++ {
		for i := 0; i < e.dim; i++ {
			e.wcol[i] = W[i*n+j]
		}
		e.g.Propagate(e.dw, x, e.wcol)
		for i := 0; i < e.dim; i++ {
			D[i*n+j] = e.dw[i]
		}
	}
}

// weightedMean collapses the propagated sigma points into the predicted
// measurement dhat using the mean weights.
func (e *Estimator) weightedMean(dhat, D []float32) {
	n := e.n
	for i := range dhat {
		dhat[i] = 0
	}
	for j := 0; j < n; j++ {
		for i := 0; i < e.dim; i++ {
			dhat[i] += e.wm[j] * D[i*n+j]
		}
	}
}

// innovationFactor rebuilds the measurement covariance square root Sd. The
// compound matrix stacks the |Wc[1]|-weighted sigma residuals with the
// element-wise square roots of the noise rows, is reduced by QR, and the
// leading dim x dim block of R is then rank-one adjusted with the center
// residual. The adjustment direction follows the sign of Wc[0], so a
// negative center weight turns it into a downdate that can fail.
func (e *Estimator) innovationFactor(sd, D, dhat []float32) error {
	n := e.n
	m := 3 * e.dim
	k := 2 * e.dim
	weight := sqrt32(abs32(e.wc[1]))

	for j := 0; j < k; j++ {
		for i := 0; i < e.dim; i++ {
			e.at[i*m+j] = weight * (D[i*n+j+1] - dhat[i])
		}
	}
	for j := k; j < m; j++ {
		for i := 0; i < e.dim; i++ {
			e.at[i*m+j] = sqrt32(e.re[i*e.dim+j-k])
		}
	}

	linalg.Tran(e.at, e.dim, m)
	linalg.QR(e.at, nil, e.rwork, m, e.dim, true)
	copy(sd, e.rwork[:e.dim*e.dim])

	for i := 0; i < e.dim; i++ {
		e.bres[i] = D[i*n] - dhat[i]
	}
	return linalg.CholUpdate(sd, e.bres, e.dim, e.wc[0] >= 0)
}

// crossCovariance computes Pwd = W * diag(Wc) * D'. It centers W and D in
// place; both are consumed here and rebuilt from scratch on the next tick.
func (e *Estimator) crossCovariance(pwd, W, D, what, dhat []float32) {
	n := e.n
	for j := 0; j < n; j++ {
		for i := 0; i < e.dim; i++ {
			W[i*n+j] -= what[i]
			D[i*n+j] -= dhat[i]
		}
	}

	for i := 0; i < n; i++ {
		e.diagW[i*n+i] = e.wc[i]
	}

	linalg.Tran(D, e.dim, n)
	linalg.Mul(e.diagW, D, e.diagWD, n, n, e.dim)
	linalg.Mul(W, e.diagWD, pwd, e.dim, n, e.dim)
}

// correct applies the measurement update to the staged estimate and factor.
// The gain comes from a full inverse of Sd'Sd rather than triangular solves
// against Sd. The factor then takes one rank-one downdate per column of
// U = K*Sd, processed left to right.
func (e *Estimator) correct(d, what, s []float32) error {
	dim := e.dim

	copy(e.sdT, e.sd)
	linalg.Tran(e.sdT, dim, dim)
	linalg.Mul(e.sdT, e.sd, e.sdTsd, dim, dim, dim)
	if err := linalg.Inv(e.sdTsd, dim); err != nil {
		return err
	}
	linalg.Mul(e.pwd, e.sdTsd, e.gain, dim, dim, dim)

	for i := 0; i < dim; i++ {
		e.residual[i] = d[i] - e.dhat[i]
	}
	linalg.Mul(e.gain, e.residual, e.corr, dim, dim, 1)
	for i := 0; i < dim; i++ {
		what[i] += e.corr[i]
	}

	linalg.Mul(e.gain, e.sd, e.u, dim, dim, dim)
	for j := 0; j < dim; j++ {
		for i := 0; i < dim; i++ {
			e.uk[i] = e.u[i*dim+j]
		}
		if err := linalg.CholUpdate(s, e.uk, dim, false); err != nil {
			return err
		}
	}
	return nil
}
