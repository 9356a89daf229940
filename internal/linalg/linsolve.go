package linalg

// SolveLowerTriangular solves A·x = b by forward substitution for a square
// lower triangular A (as produced by a Cholesky factorization). The diagonal
// must be non-zero; no singularity check is performed.
func SolveLowerTriangular(A, x, b []float32, n int) {
	for i := 0; i < n; i++ {
		var sum float32
		for j := 0; j < i; j++ {
			sum += A[n*i+j] * x[j]
		}
		x[i] = (b[i] - sum) / A[n*i+i]
	}
}
