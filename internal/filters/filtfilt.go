// Package filters provides the zero-phase smoother used by the estimate
// trace endpoints and the sweep reports.
package filters

// FiltFilt low-pass filters y in place with a first-order Euler simulation,
// run forward and then backward so the phase lag of the two passes cancels.
//
// t supplies the sample instants; only the first step t[1]-t[0] sets the
// integration step, so t is assumed uniform. K is the filter time constant
// and must be positive; larger K smooths harder. Slices shorter than two
// samples are returned unchanged.
func FiltFilt(y, t []float32, K float32) {
	if len(y) < 2 || len(t) < 2 {
		return
	}

	simulate(K, y, t)
	flip(y)
	simulate(K, y, t)
	flip(y)
}

// simulate runs the low-pass ODE x' = (-x + u)/K over y with the Euler
// method, writing the state back over the input.
func simulate(K float32, y, t []float32) {
	h := t[1] - t[0]
	x := y[0]
	for i := range y {
		x = x + h*(-1/K*x+1/K*y[i])
		y[i] = x
	}
}

func flip(y []float32) {
	for i := 0; i < len(y)/2; i++ {
		y[i], y[len(y)-1-i] = y[len(y)-1-i], y[i]
	}
}
