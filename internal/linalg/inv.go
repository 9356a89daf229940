package linalg

// Inv inverts the square n×n matrix A in place by solving A·x = e for each
// basis column over the LUP factorization. Returns ErrSingular (leaving A
// untouched) when any pivot falls below tolerance.
func Inv(A []float32, n int) error {
	LU := make([]float32, n*n)
	P := make([]int, n)
	if err := LUP(A, LU, P, n); err != nil {
		return err
	}
	// LUP only validates pivots for the columns it eliminates; the last
	// diagonal entry is checked here so a singular tail cannot reach the
	// substitution divides.
	if abs32(LU[n*P[n-1]+n-1]) < pivotTolerance {
		return ErrSingular
	}

	inverse := make([]float32, n*n)
	e := make([]float32, n)
	x := make([]float32, n)
	for c := 0; c < n; c++ {
		e[c] = 1
		solveLUP(LU, P, x, e, n)
		for r := 0; r < n; r++ {
			inverse[r*n+c] = x[r]
		}
		e[c] = 0
	}

	copy(A[:n*n], inverse)
	return nil
}
