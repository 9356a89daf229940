// Package optimize provides a small dense-simplex linear program solver.
// The excitation planner uses it to allocate drive amplitudes against
// actuator and power budget constraints.
package optimize

import "github.com/kestrel-controls/plantid/internal/linalg"

// epsilon is the float32 machine epsilon, used to guard divisions and to
// recognise basic columns in the final tableau.
const epsilon float32 = 1.1920929e-07

// Maximize solves
//
//	max  c'x
//	s.t. A x <= b, x >= 0
//
// with the simplex method. A is rowA x colA (rowA >= colA), b has rowA
// entries, c and x have colA entries. The solution is written to x; entries
// of x that never enter the basis stay zero. iterationLimit caps the number
// of pivots.
func Maximize(c, A, b, x []float32, rowA, colA, iterationLimit int) {
	opti(c, A, b, x, rowA, colA, false, iterationLimit)
}

// Minimize solves
//
//	min  c'x
//	s.t. A x >= b, x >= 0
//
// by running Maximize on the dual: max b'w subject to A'w <= c. The primal
// solution is read off the slack columns of the final tableau. A is left
// untouched; the transpose works on a copy.
func Minimize(c, A, b, x []float32, rowA, colA, iterationLimit int) {
	At := make([]float32, rowA*colA)
	copy(At, A)
	linalg.Tran(At, rowA, colA)

	opti(b, At, c, x, colA, rowA, true, iterationLimit)
}

// opti runs the simplex tableau. Layout per constraint row: the colA
// structural columns, rowA slack columns, the objective slack, then b. The
// objective row sits below the constraint rows with -c in the structural
// columns.
func opti(c, A, b, x []float32, rowA, colA int, minimize bool, iterationLimit int) {
	if minimize {
		for i := 0; i < rowA; i++ {
			x[i] = 0
		}
	} else {
		for i := 0; i < colA; i++ {
			x[i] = 0
		}
	}

	width := colA + rowA + 2
	tableau := make([]float32, (rowA+1)*width)

	for i := 0; i < rowA; i++ {
		copy(tableau[i*width:i*width+colA], A[i*colA:(i+1)*colA])
		tableau[i*width+colA+i] = 1
		tableau[i*width+width-1] = b[i]
	}
	for i := 0; i < colA; i++ {
		tableau[rowA*width+i] = -c[i]
	}
	tableau[rowA*width+width-2] = 1

	count := 0
	for {
		// Pivot column: most negative objective entry, b column excluded.
		pivotCol := 0
		entry := float32(0)
		for i := 0; i < width-1; i++ {
			if v := tableau[rowA*width+i]; v < entry {
				entry = v
				pivotCol = i
			}
		}
		if entry >= 0 || count >= iterationLimit {
			break
		}

		// Pivot row: smallest positive ratio b/column over the constraint
		// rows. A negative running smallest always yields to the next row.
		pivotRow := 0
		v := tableau[pivotCol]
		if v == 0 {
			v = epsilon
		}
		smallest := tableau[width-1] / v
		for i := 1; i < rowA; i++ {
			v = tableau[i*width+pivotCol]
			if v == 0 {
				v = epsilon
			}
			ratio := tableau[i*width+width-1] / v
			if (ratio > 0 && ratio < smallest) || smallest < 0 {
				smallest = ratio
				pivotRow = i
			}
		}

		pivot := tableau[pivotRow*width+pivotCol]
		if pivot == 0 {
			pivot = epsilon
		}
		for i := 0; i < width; i++ {
			tableau[pivotRow*width+i] *= 1 / pivot
		}

		for i := 0; i <= rowA; i++ {
			if i == pivotRow {
				continue
			}
			factor := tableau[i*width+pivotCol]
			for j := 0; j < width; j++ {
				tableau[i*width+j] -= factor * tableau[pivotRow*width+j]
			}
		}
		count++
	}

	if minimize {
		// Dual read-out: the primal minimizer sits in the objective row
		// under the slack columns.
		for i := 0; i < rowA; i++ {
			x[i] = tableau[rowA*width+colA+i]
		}
		return
	}

	// A structural column whose running sum reaches one at a one-valued cell
	// is taken as basic and keeps that row's b entry. Tableaus that stop
	// before any pivot can satisfy this spuriously.
	for i := 0; i < colA; i++ {
		var sum float32
		for j := 0; j <= rowA; j++ {
			sum += tableau[j*width+i]
			cell := tableau[j*width+i]
			if sum < 1+epsilon && sum > 1-epsilon && cell > 1-epsilon {
				x[i] = tableau[j*width+width-1]
			}
		}
	}
}
