// Package stats provides small float32 reductions shared by the
// identification pipeline and the sweep reports.
package stats

import "math"

// Mean returns the arithmetic mean of x. Returns 0 for an empty slice.
func Mean(x []float32) float32 {
	if len(x) == 0 {
		return 0
	}
	var sum float32
	for _, v := range x {
		sum += v
	}
	return sum / float32(len(x))
}

// StdDev returns the population standard deviation of x (divisor len(x),
// not len(x)-1). Returns 0 for an empty slice.
func StdDev(x []float32) float32 {
	if len(x) == 0 {
		return 0
	}
	mu := Mean(x)
	var sum float32
	for _, v := range x {
		d := v - mu
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum / float32(len(x)))))
}
