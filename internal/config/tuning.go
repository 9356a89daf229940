package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for estimator and session tuning.
// The schema matches the /api/config endpoint so the same JSON can be used
// for both startup configuration and runtime updates. All fields are
// pointers; omitted fields fall back to the Get* defaults, so partial
// configs are safe.
type TuningConfig struct {
	// Filter params
	Alpha            *float64  `json:"alpha,omitempty"`
	Beta             *float64  `json:"beta,omitempty"`
	ForgettingFactor *float64  `json:"forgetting_factor,omitempty"`
	MeasurementNoise *float64  `json:"measurement_noise,omitempty"` // uniform Re diagonal
	PriorCovariance  *float64  `json:"prior_covariance,omitempty"`  // seed Sw diagonal
	Prior            []float64 `json:"prior,omitempty"`             // seed what, zeros when omitted

	// Session params
	Dim                    *int      `json:"dim,omitempty"`
	Model                  *string   `json:"model,omitempty"`
	MaxConsecutiveFailures *int      `json:"max_consecutive_failures,omitempty"`
	EnvelopeX              []float64 `json:"envelope_x,omitempty"` // operating envelope polygon
	EnvelopeY              []float64 `json:"envelope_y,omitempty"`
	FlushInterval          *string   `json:"flush_interval,omitempty"` // duration string like "60s"

	// Reporting params
	SmoothTimeConstant  *float64 `json:"smooth_time_constant,omitempty"`
	PlotOutputDir       *string  `json:"plot_output_dir,omitempty"`
	TraceSampleInterval *int     `json:"trace_sample_interval,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/ident/sweep/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.Alpha != nil && *c.Alpha == 0 {
		return fmt.Errorf("alpha must be nonzero")
	}
	if c.ForgettingFactor != nil {
		if *c.ForgettingFactor <= 0 || *c.ForgettingFactor > 1 {
			return fmt.Errorf("forgetting_factor must be in (0, 1], got %f", *c.ForgettingFactor)
		}
	}
	if c.MeasurementNoise != nil && *c.MeasurementNoise < 0 {
		return fmt.Errorf("measurement_noise must be non-negative, got %f", *c.MeasurementNoise)
	}
	if c.PriorCovariance != nil && *c.PriorCovariance <= 0 {
		return fmt.Errorf("prior_covariance must be positive, got %f", *c.PriorCovariance)
	}
	if c.Dim != nil {
		if *c.Dim < 1 || *c.Dim > 255 {
			return fmt.Errorf("dim must be between 1 and 255, got %d", *c.Dim)
		}
	}
	if len(c.Prior) > 0 && c.Dim != nil && len(c.Prior) != *c.Dim {
		return fmt.Errorf("prior has %d entries but dim is %d", len(c.Prior), *c.Dim)
	}
	if len(c.EnvelopeX) != len(c.EnvelopeY) {
		return fmt.Errorf("envelope_x has %d vertices but envelope_y has %d", len(c.EnvelopeX), len(c.EnvelopeY))
	}
	if c.FlushInterval != nil && *c.FlushInterval != "" {
		if _, err := time.ParseDuration(*c.FlushInterval); err != nil {
			return fmt.Errorf("invalid flush_interval '%s': %w", *c.FlushInterval, err)
		}
	}
	if c.SmoothTimeConstant != nil && *c.SmoothTimeConstant <= 0 {
		return fmt.Errorf("smooth_time_constant must be positive, got %f", *c.SmoothTimeConstant)
	}
	if c.TraceSampleInterval != nil && *c.TraceSampleInterval < 1 {
		return fmt.Errorf("trace_sample_interval must be at least 1, got %d", *c.TraceSampleInterval)
	}
	if c.MaxConsecutiveFailures != nil && *c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max_consecutive_failures must be at least 1, got %d", *c.MaxConsecutiveFailures)
	}
	return nil
}

// GetAlpha returns the sigma point spread or the default.
func (c *TuningConfig) GetAlpha() float64 {
	if c.Alpha == nil {
		return 0.5
	}
	return *c.Alpha
}

// GetBeta returns the prior shape weight or the default.
func (c *TuningConfig) GetBeta() float64 {
	if c.Beta == nil {
		return 2.0
	}
	return *c.Beta
}

// GetForgettingFactor returns the forgetting_factor value or the default.
func (c *TuningConfig) GetForgettingFactor() float64 {
	if c.ForgettingFactor == nil {
		return 0.995
	}
	return *c.ForgettingFactor
}

// GetMeasurementNoise returns the measurement_noise value or the default.
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 0.01
	}
	return *c.MeasurementNoise
}

// GetPriorCovariance returns the prior_covariance value or the default.
func (c *TuningConfig) GetPriorCovariance() float64 {
	if c.PriorCovariance == nil {
		return 1.0
	}
	return *c.PriorCovariance
}

// GetDim returns the dim value or the default.
func (c *TuningConfig) GetDim() int {
	if c.Dim == nil {
		return 1
	}
	return *c.Dim
}

// GetModel returns the model value or the default.
func (c *TuningConfig) GetModel() string {
	if c.Model == nil || *c.Model == "" {
		return "identity"
	}
	return *c.Model
}

// GetMaxConsecutiveFailures returns the max_consecutive_failures value or the default.
func (c *TuningConfig) GetMaxConsecutiveFailures() int {
	if c.MaxConsecutiveFailures == nil {
		return 5
	}
	return *c.MaxConsecutiveFailures
}

// GetFlushInterval parses and returns the FlushInterval as a time.Duration.
func (c *TuningConfig) GetFlushInterval() time.Duration {
	if c.FlushInterval == nil || *c.FlushInterval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.FlushInterval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

// GetSmoothTimeConstant returns the smooth_time_constant value or the default.
func (c *TuningConfig) GetSmoothTimeConstant() float64 {
	if c.SmoothTimeConstant == nil {
		return 4.0
	}
	return *c.SmoothTimeConstant
}

// GetPlotOutputDir returns the plot_output_dir value or the default.
func (c *TuningConfig) GetPlotOutputDir() string {
	if c.PlotOutputDir == nil || *c.PlotOutputDir == "" {
		return "plots"
	}
	return *c.PlotOutputDir
}

// GetTraceSampleInterval returns the trace_sample_interval value or the default.
func (c *TuningConfig) GetTraceSampleInterval() int {
	if c.TraceSampleInterval == nil {
		return 1
	}
	return *c.TraceSampleInterval
}

// GetPrior returns the seed parameter vector sized to dim. Omitted or
// short priors are zero padded.
func (c *TuningConfig) GetPrior() []float32 {
	dim := c.GetDim()
	out := make([]float32, dim)
	for i := 0; i < dim && i < len(c.Prior); i++ {
		out[i] = float32(c.Prior[i])
	}
	return out
}

// GetEnvelope returns the operating envelope polygon as float32 vertex
// slices. Both are empty when no envelope is configured.
func (c *TuningConfig) GetEnvelope() (px, py []float32) {
	if len(c.EnvelopeX) == 0 {
		return nil, nil
	}
	px = make([]float32, len(c.EnvelopeX))
	py = make([]float32, len(c.EnvelopeY))
	for i := range c.EnvelopeX {
		px[i] = float32(c.EnvelopeX[i])
		py[i] = float32(c.EnvelopeY[i])
	}
	return px, py
}
