package linalg

// Mul computes C = A·B for A sized rowA×colA and B sized colA×colB. C must
// not alias A or B.
func Mul(A, B, C []float32, rowA, colA, colB int) {
	for i := 0; i < rowA; i++ {
		for j := 0; j < colB; j++ {
			var sum float32
			for k := 0; k < colA; k++ {
				sum += A[i*colA+k] * B[k*colB+j]
			}
			C[i*colB+j] = sum
		}
	}
}

// Tran transposes the rows×cols matrix A in place; afterwards A is addressed
// as cols×rows.
func Tran(A []float32, rows, cols int) {
	scratch := make([]float32, rows*cols)
	copy(scratch, A[:rows*cols])
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			A[j*rows+i] = scratch[i*cols+j]
		}
	}
}
