package linalg

// LUP computes an LU decomposition of the square n×n matrix A with partial
// (row) pivoting. The combined factors are written into LU with rows addressed
// through the permutation P: row P[i] of LU holds row i of the factorization,
// so the pivots sit at LU[n*P[i]+i]. The strictly lower part (through P) is
// the unit lower triangular factor, the upper part the upper triangular one.
//
// A is left untouched unless A and LU share backing storage, which is allowed.
// Returns ErrSingular when no pivot above tolerance can be found for a column.
func LUP(A, LU []float32, P []int, n int) error {
	if &A[0] != &LU[0] {
		copy(LU[:n*n], A[:n*n])
	}

	for i := 0; i < n; i++ {
		P[i] = i
	}

	for i := 0; i < n-1; i++ {
		// Select the row with the largest magnitude entry in column i.
		indMax := i
		for j := i + 1; j < n; j++ {
			if abs32(LU[n*P[j]+i]) > abs32(LU[n*P[indMax]+i]) {
				indMax = j
			}
		}
		P[i], P[indMax] = P[indMax], P[i]

		if abs32(LU[n*P[i]+i]) < pivotTolerance {
			return ErrSingular
		}

		// Eliminate column i below the pivot.
		for j := i + 1; j < n; j++ {
			LU[n*P[j]+i] /= LU[n*P[i]+i]
			for k := i + 1; k < n; k++ {
				LU[n*P[j]+k] -= LU[n*P[i]+k] * LU[n*P[j]+i]
			}
		}
	}

	return nil
}

// solveLUP solves A·x = b given the LUP factorization of A. Forward
// substitution through the permuted unit lower factor, then backward
// substitution through the upper factor.
func solveLUP(LU []float32, P []int, x, b []float32, n int) {
	for i := 0; i < n; i++ {
		x[i] = b[P[i]]
		for j := 0; j < i; j++ {
			x[i] -= LU[n*P[i]+j] * x[j]
		}
	}
	for i := n - 1; i >= 0; i-- {
		for j := i + 1; j < n; j++ {
			x[i] -= LU[n*P[i]+j] * x[j]
		}
		x[i] /= LU[n*P[i]+i]
	}
}
