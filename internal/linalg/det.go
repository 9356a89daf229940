package linalg

// Det computes the determinant of the square n×n matrix A via LUP: the
// product of the pivot diagonal, sign-corrected by the permutation's
// displaced-row count. Returns (0, ErrSingular) when the decomposition fails.
func Det(A []float32, n int) (float32, error) {
	LU := make([]float32, n*n)
	P := make([]int, n)
	if err := LUP(A, LU, P, n); err != nil {
		return 0, err
	}

	determinant := float32(1.0)
	for i := 0; i < n; i++ {
		determinant *= LU[n*P[i]+i]
	}

	j := 0
	for i := 0; i < n; i++ {
		if P[i] != i {
			j++
		}
	}
	if j != 0 && (j-1)%2 == 1 {
		determinant = -determinant
	}

	return determinant, nil
}
