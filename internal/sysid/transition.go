package sysid

// Transition evaluates the plant model G with a candidate parameter vector.
// Implementations must be pure and fast: Propagate runs once per sigma point
// on every tick and must not retain the slices it is handed.
type Transition interface {
	// Propagate writes G(x, w) into dw. All three slices have the
	// estimator's dimension.
	Propagate(dw, x, w []float32)
}

// TransitionFunc adapts an ordinary function to the Transition interface.
type TransitionFunc func(dw, x, w []float32)

// Propagate calls f.
func (f TransitionFunc) Propagate(dw, x, w []float32) { f(dw, x, w) }
