// Package sweep searches filter hyperparameters against a recorded frame
// log: each combination replays the log through a fresh session and is
// scored on steady-state innovation error and convergence time.
package sweep

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// maxValues caps the number of values a single range may expand to.
const maxValues = 10000

// RangeSpec defines one swept axis as min:max:step.
type RangeSpec struct {
	Min  float64
	Max  float64
	Step float64
}

// ParseRangeSpec parses a "min:max:step" string into a RangeSpec.
func ParseRangeSpec(s string) (RangeSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return RangeSpec{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}

	min, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return RangeSpec{}, fmt.Errorf("invalid min value %q: %w", parts[0], err)
	}
	max, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return RangeSpec{}, fmt.Errorf("invalid max value %q: %w", parts[1], err)
	}
	step, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return RangeSpec{}, fmt.Errorf("invalid step value %q: %w", parts[2], err)
	}
	if step <= 0 {
		return RangeSpec{}, fmt.Errorf("step must be positive, got %f", step)
	}

	return RangeSpec{Min: min, Max: max, Step: step}, nil
}

// GenerateRange expands a range into its values, min to max inclusive.
// Values are rounded to millis to stop floating-point accumulation from
// dropping the last step.
func GenerateRange(min, max, step float64) []float64 {
	if step <= 0 || min > max {
		return nil
	}

	expectedCount := int((max-min)/step) + 1
	if expectedCount > maxValues || expectedCount < 0 {
		return nil
	}

	var result []float64
	for v := min; v <= max+step/1000; v += step {
		if len(result) >= maxValues {
			break
		}
		rounded := math.Round(v*1000) / 1000
		if rounded <= max {
			result = append(result, rounded)
		}
	}
	return result
}

// ParseParamList parses either a "min:max:step" range or a comma-separated
// value list into the concrete axis values.
func ParseParamList(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}

	if strings.Contains(s, ":") {
		spec, err := ParseRangeSpec(s)
		if err != nil {
			return nil, err
		}
		return GenerateRange(spec.Min, spec.Max, spec.Step), nil
	}

	parts := strings.Split(s, ",")
	values := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", p, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// Axes holds the swept hyperparameter axes as range/list strings. ReScale
// multiplies the configured measurement noise diagonal; an empty ReScale
// pins it at 1.
type Axes struct {
	Alpha   string `json:"alpha"`
	Beta    string `json:"beta"`
	Lambda  string `json:"lambda_rls"`
	ReScale string `json:"re_scale,omitempty"`
}

// Expand parses every axis and returns the per-axis value lists in
// alpha, beta, lambda, reScale order. An empty axis collapses to a single
// identity value so the cartesian product stays well-defined.
func (a Axes) Expand() (alpha, beta, lambda, reScale []float64, err error) {
	parse := func(name, spec string, fallback float64) ([]float64, error) {
		if spec == "" {
			return []float64{fallback}, nil
		}
		values, err := ParseParamList(spec)
		if err != nil {
			return nil, fmt.Errorf("axis %s: %w", name, err)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("axis %s: range %q expands to no values", name, spec)
		}
		return values, nil
	}

	if alpha, err = parse("alpha", a.Alpha, 0.5); err != nil {
		return nil, nil, nil, nil, err
	}
	if beta, err = parse("beta", a.Beta, 2.0); err != nil {
		return nil, nil, nil, nil, err
	}
	if lambda, err = parse("lambda_rls", a.Lambda, 0.995); err != nil {
		return nil, nil, nil, nil, err
	}
	if reScale, err = parse("re_scale", a.ReScale, 1.0); err != nil {
		return nil, nil, nil, nil, err
	}
	return alpha, beta, lambda, reScale, nil
}

// Validate checks the expanded axes against the filter's own parameter
// constraints before any combination runs.
func (a Axes) Validate() error {
	alpha, _, lambda, reScale, err := a.Expand()
	if err != nil {
		return err
	}
	for _, v := range alpha {
		if v == 0 {
			return fmt.Errorf("alpha axis contains zero")
		}
	}
	for _, v := range lambda {
		if !(v > 0) || v > 1 {
			return fmt.Errorf("lambda_rls axis value %v outside (0, 1]", v)
		}
	}
	for _, v := range reScale {
		if v < 0 {
			return fmt.Errorf("re_scale axis value %v is negative", v)
		}
	}
	return nil
}
