package stats

import (
	"math"
	"testing"
)

func TestMean(t *testing.T) {
	cases := []struct {
		name string
		x    []float32
		want float32
	}{
		{"empty", nil, 0},
		{"single", []float32{3}, 3},
		{"mixed", []float32{1, 2, 3, 4}, 2.5},
		{"negatives", []float32{-2, 2, -4, 4}, 0},
	}
	for _, tc := range cases {
		if got := Mean(tc.x); got != tc.want {
			t.Errorf("%s: Mean = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestStdDev_Population(t *testing.T) {
	// Population divisor: stddev([2 4 4 4 5 5 7 9]) = 2 exactly.
	x := []float32{2, 4, 4, 4, 5, 5, 7, 9}
	if got := StdDev(x); math.Abs(float64(got-2)) > 1e-6 {
		t.Errorf("StdDev = %v, want 2", got)
	}
}

func TestStdDev_Degenerate(t *testing.T) {
	if got := StdDev(nil); got != 0 {
		t.Errorf("StdDev(nil) = %v, want 0", got)
	}
	if got := StdDev([]float32{5}); got != 0 {
		t.Errorf("StdDev of single sample = %v, want 0", got)
	}
	if got := StdDev([]float32{3, 3, 3}); got != 0 {
		t.Errorf("StdDev of constant series = %v, want 0", got)
	}
}
