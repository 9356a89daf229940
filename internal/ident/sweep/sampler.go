package sweep

import (
	"fmt"
	"math/rand"
)

// maxCombos caps the total number of combinations a sweep may expand to.
const maxCombos = 10000

// Combo is one hyperparameter combination to evaluate.
type Combo struct {
	Alpha   float64 `json:"alpha"`
	Beta    float64 `json:"beta"`
	Lambda  float64 `json:"lambda_rls"`
	ReScale float64 `json:"re_scale"`
}

// GridSample expands the axes into their full cartesian product.
func GridSample(axes Axes) ([]Combo, error) {
	alpha, beta, lambda, reScale, err := axes.Expand()
	if err != nil {
		return nil, err
	}

	total := len(alpha) * len(beta) * len(lambda) * len(reScale)
	if total > maxCombos {
		return nil, fmt.Errorf("grid expands to %d combinations, limit is %d", total, maxCombos)
	}

	combos := make([]Combo, 0, total)
	for _, a := range alpha {
		for _, b := range beta {
			for _, l := range lambda {
				for _, r := range reScale {
					combos = append(combos, Combo{Alpha: a, Beta: b, Lambda: l, ReScale: r})
				}
			}
		}
	}
	return combos, nil
}

// RandomSample draws n combinations uniformly from the axis bounds. Each
// axis must be a min:max:step range; the step only sets the bounds here.
// The seed makes a sweep reproducible.
func RandomSample(axes Axes, n int, seed int64) ([]Combo, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", n)
	}
	if n > maxCombos {
		return nil, fmt.Errorf("sample count %d exceeds limit %d", n, maxCombos)
	}

	bounds := func(name, spec string, fallback float64) (lo, hi float64, err error) {
		if spec == "" {
			return fallback, fallback, nil
		}
		r, err := ParseRangeSpec(spec)
		if err != nil {
			return 0, 0, fmt.Errorf("axis %s: %w", name, err)
		}
		if r.Min > r.Max {
			return 0, 0, fmt.Errorf("axis %s: min %v above max %v", name, r.Min, r.Max)
		}
		return r.Min, r.Max, nil
	}

	aLo, aHi, err := bounds("alpha", axes.Alpha, 0.5)
	if err != nil {
		return nil, err
	}
	bLo, bHi, err := bounds("beta", axes.Beta, 2.0)
	if err != nil {
		return nil, err
	}
	lLo, lHi, err := bounds("lambda_rls", axes.Lambda, 0.995)
	if err != nil {
		return nil, err
	}
	rLo, rHi, err := bounds("re_scale", axes.ReScale, 1.0)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	uniform := func(lo, hi float64) float64 {
		if lo == hi {
			return lo
		}
		return lo + rng.Float64()*(hi-lo)
	}

	combos := make([]Combo, n)
	for i := range combos {
		combos[i] = Combo{
			Alpha:   uniform(aLo, aHi),
			Beta:    uniform(bLo, bHi),
			Lambda:  uniform(lLo, lHi),
			ReScale: uniform(rLo, rHi),
		}
	}
	return combos, nil
}
