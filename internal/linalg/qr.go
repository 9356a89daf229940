package linalg

// QR computes the QR decomposition of the m×n matrix A (m ≥ n) by Householder
// reflections. R receives an m×n upper triangular factor (subdiagonal entries
// are written as exact zeros); callers that want the economy factor take the
// leading n×n block. When onlyR is true the orthogonal factor is skipped and Q
// may be nil; otherwise Q receives the m×m accumulated product.
//
// A is not modified. The sign convention follows the reflector choice
// (diagonal entries of R may be negative), which downstream consumers must
// not rely on.
func QR(A, Q, R []float32, m, n int, onlyR bool) {
	copy(R[:m*n], A[:m*n])

	if !onlyR {
		for i := range Q[:m*m] {
			Q[i] = 0
		}
		for i := 0; i < m; i++ {
			Q[i*m+i] = 1
		}
	}

	v := make([]float32, m)
	for j := 0; j < n && j < m-1; j++ {
		// Norm of column j from the diagonal down.
		var norm float32
		for i := j; i < m; i++ {
			norm += R[i*n+j] * R[i*n+j]
		}
		norm = sqrt32(norm)
		if norm == 0 {
			continue
		}
		// Pick the reflection that moves the diagonal away from zero.
		if R[j*n+j] > 0 {
			norm = -norm
		}

		v[j] = R[j*n+j] - norm
		for i := j + 1; i < m; i++ {
			v[i] = R[i*n+j]
		}
		var vtv float32
		for i := j; i < m; i++ {
			vtv += v[i] * v[i]
		}
		beta := 2 / vtv

		// Apply H = I - beta·v·vᵀ to the remaining columns of R.
		for k := j; k < n; k++ {
			var dot float32
			for i := j; i < m; i++ {
				dot += v[i] * R[i*n+k]
			}
			dot *= beta
			for i := j; i < m; i++ {
				R[i*n+k] -= dot * v[i]
			}
		}

		// Accumulate Q = Q·H.
		if !onlyR {
			for r := 0; r < m; r++ {
				var dot float32
				for i := j; i < m; i++ {
					dot += Q[r*m+i] * v[i]
				}
				dot *= beta
				for i := j; i < m; i++ {
					Q[r*m+i] -= dot * v[i]
				}
			}
		}
	}

	// The reflections leave round-off dust below the diagonal; clear it so R
	// is exactly triangular.
	for j := 0; j < n; j++ {
		for i := j + 1; i < m; i++ {
			R[i*n+j] = 0
		}
	}
}
