package ident

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/kestrel-controls/plantid/internal/db"
	"github.com/kestrel-controls/plantid/internal/frames"
	"github.com/kestrel-controls/plantid/internal/geom"
	"github.com/kestrel-controls/plantid/internal/monitoring"
	"github.com/kestrel-controls/plantid/internal/stats"
	"github.com/kestrel-controls/plantid/internal/sysid"
	"github.com/kestrel-controls/plantid/internal/timeutil"
)

// innovationWindow is the number of recent innovation norms kept for the
// live snapshot statistics.
const innovationWindow = 256

// TraceRecorder receives per-tick estimates for plot output. The traceplot
// package provides the real implementation; a nil recorder disables tracing.
type TraceRecorder interface {
	Record(tick int64, what, swDiag, innovation []float32)
}

// SessionConfig wires a Session together. DB, Recorder and the envelope are
// optional; everything else is required.
type SessionConfig struct {
	Model            string
	Dim              int
	Alpha            float32
	Beta             float32
	ForgettingFactor float32

	// NoiseDiag is the diagonal of the measurement noise covariance Re.
	// The filter takes row-wise square roots of Re, so off-diagonals are
	// fixed at zero and entries must be non-negative.
	NoiseDiag []float32

	// Prior seeds the parameter estimate; PriorCovariance seeds the
	// diagonal of the covariance square root. Both are reused on re-seed.
	Prior           []float32
	PriorCovariance float32

	// EnvelopeX/Y define the operating envelope polygon over the
	// (x[0], d[0]) operating point. Frames outside are skipped. An empty
	// polygon disables gating.
	EnvelopeX, EnvelopeY []float32

	// MaxConsecutiveFailures triggers an automatic re-seed to the prior
	// after that many failed ticks in a row. Zero disables the policy.
	MaxConsecutiveFailures int

	// TraceSampleInterval persists every Nth tick (1 = every tick).
	TraceSampleInterval int

	DB       *db.DB
	Recorder TraceRecorder
	Clock    timeutil.Clock
}

// Snapshot is the latest state of a session, safe to hand to the API layer.
type Snapshot struct {
	RunID               string    `json:"run_id"`
	Model               string    `json:"model"`
	Dim                 int       `json:"dim"`
	Tick                int64     `json:"tick"`
	UnixNanos           int64     `json:"unix_nanos"`
	What                []float32 `json:"what"`
	SwDiag              []float32 `json:"sw_diag"`
	Innovation          []float32 `json:"innovation"`
	InnovationMean      float32   `json:"innovation_mean"`
	InnovationStdDev    float32   `json:"innovation_stddev"`
	Ticks               int64     `json:"ticks"`
	Skipped             int64     `json:"skipped"`
	Failures            int64     `json:"failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Reseeds             int64     `json:"reseeds"`
}

// Session drives one estimator from a stream of measurement frames. It
// serializes ticks internally, so serial and UDP sources may feed the same
// session concurrently.
type Session struct {
	mu sync.Mutex

	cfg       SessionConfig
	estimator *sysid.Estimator
	model     sysid.Transition
	clock     timeutil.Clock

	runID string

	tick                int64
	skipped             int64
	failures            int64
	consecutiveFailures int
	reseeds             int64

	lastInnovation []float32
	lastNanos      int64

	// Recent innovation norms for snapshot stats plus cumulative energy
	// for the run summary RMS.
	innovationNorms []float32
	sumSquaredNorm  float64

	pred []float32
}

// NewSession builds the estimator, seeds it from the prior and records the
// run start. The run id has the run_<uuid> form.
func NewSession(cfg SessionConfig) (*Session, error) {
	model, err := Lookup(cfg.Model)
	if err != nil {
		return nil, err
	}
	if len(cfg.NoiseDiag) != cfg.Dim {
		return nil, fmt.Errorf("noise diagonal has %d entries, want %d", len(cfg.NoiseDiag), cfg.Dim)
	}
	if cfg.PriorCovariance <= 0 {
		return nil, fmt.Errorf("prior covariance must be positive, got %v", cfg.PriorCovariance)
	}
	if len(cfg.EnvelopeX) != len(cfg.EnvelopeY) {
		return nil, fmt.Errorf("envelope has %d x and %d y vertices", len(cfg.EnvelopeX), len(cfg.EnvelopeY))
	}
	if cfg.TraceSampleInterval < 1 {
		cfg.TraceSampleInterval = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	noise := make([]float32, cfg.Dim*cfg.Dim)
	for i, v := range cfg.NoiseDiag {
		noise[i*cfg.Dim+i] = v
	}

	estimator, err := sysid.NewEstimator(sysid.Config{
		Dim:              cfg.Dim,
		Alpha:            cfg.Alpha,
		Beta:             cfg.Beta,
		ForgettingFactor: cfg.ForgettingFactor,
		Noise:            noise,
		Transition:       model,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:       cfg,
		estimator: estimator,
		model:     model,
		clock:     cfg.Clock,
		runID:     "run_" + uuid.NewString(),
		pred:      make([]float32, cfg.Dim),
	}
	if err := s.seedLocked(); err != nil {
		return nil, err
	}

	if cfg.DB != nil {
		configJSON, err := json.Marshal(map[string]any{
			"alpha":             cfg.Alpha,
			"beta":              cfg.Beta,
			"forgetting_factor": cfg.ForgettingFactor,
			"noise_diag":        cfg.NoiseDiag,
			"prior":             cfg.Prior,
			"prior_covariance":  cfg.PriorCovariance,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode run config: %w", err)
		}
		err = cfg.DB.InsertRun(db.Run{
			ID:               s.runID,
			Model:            cfg.Model,
			Dim:              cfg.Dim,
			StartedUnixNanos: s.clock.Now().UnixNano(),
			ConfigJSON:       string(configJSON),
		})
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

// RunID returns the run identifier assigned at construction.
func (s *Session) RunID() string { return s.runID }

// seedLocked re-seeds the estimator from the configured prior. Callers hold
// s.mu (or run before the session is shared).
func (s *Session) seedLocked() error {
	dim := s.cfg.Dim
	prior := make([]float32, dim)
	copy(prior, s.cfg.Prior)
	sw := make([]float32, dim*dim)
	for i := 0; i < dim; i++ {
		sw[i*dim+i] = s.cfg.PriorCovariance
	}
	return s.estimator.Seed(prior, sw)
}

// HandleFrame runs one filter tick for the frame. Frames with the wrong
// dimension are rejected; frames outside the operating envelope are skipped
// and counted. A failed tick leaves the estimate unchanged per the filter's
// contract; after MaxConsecutiveFailures in a row the session re-seeds to
// the prior and keeps going.
func (s *Session) HandleFrame(f *frames.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.Dim() != s.cfg.Dim {
		return fmt.Errorf("frame has dimension %d, session expects %d", f.Dim(), s.cfg.Dim)
	}

	if len(s.cfg.EnvelopeX) > 0 && !geom.InPolygon(f.X[0], f.D[0], s.cfg.EnvelopeX, s.cfg.EnvelopeY) {
		s.skipped++
		return nil
	}

	if err := s.estimator.Step(f.D, f.X); err != nil {
		s.failures++
		s.consecutiveFailures++
		monitoring.Logf("run %s tick %d failed (%d consecutive): %v",
			s.runID, s.tick, s.consecutiveFailures, err)
		if s.cfg.MaxConsecutiveFailures > 0 && s.consecutiveFailures >= s.cfg.MaxConsecutiveFailures {
			if seedErr := s.seedLocked(); seedErr != nil {
				return fmt.Errorf("re-seed after %d failures: %w", s.consecutiveFailures, seedErr)
			}
			s.reseeds++
			s.consecutiveFailures = 0
			monitoring.Logf("run %s re-seeded to prior after repeated failures", s.runID)
		}
		return err
	}
	s.consecutiveFailures = 0

	what := s.estimator.Parameters()

	// Innovation against the post-update estimate: d - G(x, what).
	s.model.Propagate(s.pred, f.X, what)
	innovation := make([]float32, s.cfg.Dim)
	var normSq float64
	for i := range innovation {
		innovation[i] = f.D[i] - s.pred[i]
		normSq += float64(innovation[i]) * float64(innovation[i])
	}
	norm := float32(math.Sqrt(normSq))
	s.innovationNorms = append(s.innovationNorms, norm)
	if len(s.innovationNorms) > innovationWindow {
		s.innovationNorms = s.innovationNorms[1:]
	}
	s.sumSquaredNorm += normSq

	swDiag := s.covDiagLocked()
	s.lastInnovation = innovation
	s.lastNanos = f.UnixNanos

	if s.cfg.Recorder != nil {
		s.cfg.Recorder.Record(s.tick, what, swDiag, innovation)
	}

	if s.cfg.DB != nil && s.tick%int64(s.cfg.TraceSampleInterval) == 0 {
		err := s.cfg.DB.InsertEstimate(db.Estimate{
			RunID:      s.runID,
			Tick:       s.tick,
			UnixNanos:  f.UnixNanos,
			What:       what,
			Innovation: innovation,
			SwDiag:     swDiag,
		})
		if err != nil {
			monitoring.Logf("run %s: failed to persist tick %d: %v", s.runID, s.tick, err)
		}
	}

	s.tick++
	return nil
}

// HandleControl processes frontend control events. A reset event re-seeds
// the estimator to the configured prior.
func (s *Session) HandleControl(event string, fields map[string]any) error {
	switch event {
	case "reset":
		return s.Reset(nil)
	default:
		monitoring.Logf("run %s: ignoring control event %q", s.runID, event)
		return nil
	}
}

// Reset re-seeds the estimator. A nil prior reuses the configured one; a
// non-nil prior replaces it for this and future re-seeds.
func (s *Session) Reset(prior []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prior != nil {
		if len(prior) != s.cfg.Dim {
			return fmt.Errorf("prior has %d entries, want %d", len(prior), s.cfg.Dim)
		}
		s.cfg.Prior = append([]float32(nil), prior...)
	}
	if err := s.seedLocked(); err != nil {
		return err
	}
	s.reseeds++
	s.consecutiveFailures = 0
	return nil
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		RunID:               s.runID,
		Model:               s.cfg.Model,
		Dim:                 s.cfg.Dim,
		Tick:                s.tick,
		UnixNanos:           s.lastNanos,
		What:                s.estimator.Parameters(),
		SwDiag:              s.covDiagLocked(),
		Innovation:          append([]float32(nil), s.lastInnovation...),
		InnovationMean:      stats.Mean(s.innovationNorms),
		InnovationStdDev:    stats.StdDev(s.innovationNorms),
		Ticks:               s.tick,
		Skipped:             s.skipped,
		Failures:            s.failures,
		ConsecutiveFailures: s.consecutiveFailures,
		Reseeds:             s.reseeds,
	}
}

// covDiagLocked extracts the diagonal of the covariance square root.
func (s *Session) covDiagLocked() []float32 {
	sw := s.estimator.Covariance()
	diag := make([]float32, s.cfg.Dim)
	for i := 0; i < s.cfg.Dim; i++ {
		diag[i] = sw[i*s.cfg.Dim+i]
	}
	return diag
}

// Close ends the run: it writes the final status and a summary with the
// last estimate and the whole-run innovation RMS.
func (s *Session) Close(status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.DB == nil {
		return nil
	}

	var rms float64
	if s.tick > 0 {
		rms = math.Sqrt(s.sumSquaredNorm / float64(s.tick))
	}
	summaryJSON, err := json.Marshal(map[string]any{
		"final_what":     s.estimator.Parameters(),
		"ticks":          s.tick,
		"skipped":        s.skipped,
		"failures":       s.failures,
		"reseeds":        s.reseeds,
		"innovation_rms": rms,
	})
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	return s.cfg.DB.CloseRun(s.runID, s.clock.Now().UnixNano(), status, string(summaryJSON))
}
