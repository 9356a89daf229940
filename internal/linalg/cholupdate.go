package linalg

// CholUpdate performs a rank-one update (update=true) or downdate of the n×n
// upper triangular square-root factor S in place, so that the updated factor
// S' satisfies S'ᵀS' = SᵀS ± x·xᵀ. x is consumed as scratch and holds no
// meaningful value afterwards.
//
// A downdate that would make the underlying matrix lose positive-definiteness
// returns ErrNotPositiveDefinite with S partially modified; callers that need
// atomicity stage S into a temporary first.
func CholUpdate(S, x []float32, n int, update bool) error {
	alpha := float32(1)
	if !update {
		alpha = -1
	}

	for k := 0; k < n; k++ {
		skk := S[k*n+k]
		radicand := skk*skk + alpha*x[k]*x[k]
		if !update && radicand <= 0 {
			return ErrNotPositiveDefinite
		}
		r := sqrt32(radicand)
		c := r / skk
		s := x[k] / skk
		S[k*n+k] = r

		// Sweep the rest of row k, rotating x alongside.
		for i := k + 1; i < n; i++ {
			S[k*n+i] = (S[k*n+i] + alpha*s*x[i]) / c
			x[i] = c*x[i] - s*S[k*n+i]
		}
	}

	return nil
}
