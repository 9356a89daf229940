package ident

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-controls/plantid/internal/db"
	"github.com/kestrel-controls/plantid/internal/frames"
	"github.com/kestrel-controls/plantid/internal/timeutil"
)

func gainSessionConfig() SessionConfig {
	return SessionConfig{
		Model:            "gain",
		Dim:              1,
		Alpha:            0.5,
		Beta:             2.0,
		ForgettingFactor: 0.995,
		NoiseDiag:        []float32{0.01},
		Prior:            []float32{0},
		PriorCovariance:  1.0,
	}
}

// feedGain drives n ticks of d = gain*x with a sinusoidal excitation.
func feedGain(t *testing.T, s *Session, gain float32, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		x := float32(1 + 0.5*math.Sin(float64(i)/7))
		require.NoError(t, s.HandleFrame(&frames.Frame{
			Seq:       uint32(i),
			UnixNanos: int64(i) * int64(time.Millisecond),
			X:         []float32{x},
			D:         []float32{gain * x},
		}))
	}
}

func TestNewSessionValidation(t *testing.T) {
	cfg := gainSessionConfig()
	cfg.Model = "nope"
	_, err := NewSession(cfg)
	assert.ErrorContains(t, err, "unknown model")

	cfg = gainSessionConfig()
	cfg.NoiseDiag = []float32{1, 2}
	_, err = NewSession(cfg)
	assert.ErrorContains(t, err, "noise diagonal")

	cfg = gainSessionConfig()
	cfg.PriorCovariance = 0
	_, err = NewSession(cfg)
	assert.ErrorContains(t, err, "prior covariance")

	cfg = gainSessionConfig()
	cfg.EnvelopeX = []float32{0, 1}
	cfg.EnvelopeY = []float32{0}
	_, err = NewSession(cfg)
	assert.ErrorContains(t, err, "envelope")
}

func TestSessionConvergesOnStaticGain(t *testing.T) {
	s, err := NewSession(gainSessionConfig())
	require.NoError(t, err)

	feedGain(t, s, 1.5, 100)

	snap := s.Snapshot()
	assert.InDelta(t, 1.5, snap.What[0], 0.05)
	assert.Equal(t, int64(100), snap.Ticks)
	assert.Zero(t, snap.Failures)
	assert.Less(t, snap.InnovationMean, float32(0.1))
}

func TestSessionRunIDForm(t *testing.T) {
	s, err := NewSession(gainSessionConfig())
	require.NoError(t, err)
	assert.Regexp(t, `^run_[0-9a-f-]{36}$`, s.RunID())
}

func TestSessionRejectsWrongDimension(t *testing.T) {
	s, err := NewSession(gainSessionConfig())
	require.NoError(t, err)

	err = s.HandleFrame(&frames.Frame{X: []float32{1, 2}, D: []float32{1, 2}})
	assert.ErrorContains(t, err, "dimension")
	assert.Zero(t, s.Snapshot().Ticks)
}

func TestSessionEnvelopeGating(t *testing.T) {
	cfg := gainSessionConfig()
	// Rectangle over the (x, d) operating point.
	cfg.EnvelopeX = []float32{0, 2, 2, 0}
	cfg.EnvelopeY = []float32{0, 0, 4, 4}
	s, err := NewSession(cfg)
	require.NoError(t, err)

	require.NoError(t, s.HandleFrame(&frames.Frame{X: []float32{1}, D: []float32{1.5}}))
	require.NoError(t, s.HandleFrame(&frames.Frame{X: []float32{5}, D: []float32{7.5}}))

	snap := s.Snapshot()
	assert.Equal(t, int64(1), snap.Ticks)
	assert.Equal(t, int64(1), snap.Skipped)
}

func TestSessionReseedAfterConsecutiveFailures(t *testing.T) {
	cfg := gainSessionConfig()
	// Zero noise plus zero excitation collapses the innovation factor, so
	// every tick fails with a singular gain solve.
	cfg.NoiseDiag = []float32{0}
	cfg.MaxConsecutiveFailures = 3
	s, err := NewSession(cfg)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		err = s.HandleFrame(&frames.Frame{X: []float32{0}, D: []float32{1}})
		assert.Error(t, err)
	}

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap.Failures)
	assert.Equal(t, int64(1), snap.Reseeds)
	assert.Zero(t, snap.ConsecutiveFailures, "reseed clears the streak")
	assert.Equal(t, []float32{0}, snap.What, "back at the prior")
}

func TestSessionResetControlEvent(t *testing.T) {
	s, err := NewSession(gainSessionConfig())
	require.NoError(t, err)

	feedGain(t, s, 1.5, 50)
	require.InDelta(t, 1.5, s.Snapshot().What[0], 0.1)

	require.NoError(t, s.HandleControl("reset", nil))
	snap := s.Snapshot()
	assert.Equal(t, []float32{0}, snap.What)
	assert.Equal(t, int64(1), snap.Reseeds)

	// Unknown events are ignored.
	require.NoError(t, s.HandleControl("telemetry", map[string]any{"v": 1}))
}

func TestSessionResetWithNewPrior(t *testing.T) {
	s, err := NewSession(gainSessionConfig())
	require.NoError(t, err)

	assert.ErrorContains(t, s.Reset([]float32{1, 2}), "prior has 2 entries")

	require.NoError(t, s.Reset([]float32{1.4}))
	assert.Equal(t, []float32{1.4}, s.Snapshot().What)
}

func TestSessionPersistsRunAndEstimates(t *testing.T) {
	database := db.NewTestDB(t)
	clock := timeutil.NewMockClock(time.Unix(1000, 0))

	cfg := gainSessionConfig()
	cfg.DB = database
	cfg.Clock = clock
	s, err := NewSession(cfg)
	require.NoError(t, err)

	run, err := database.GetRun(s.RunID())
	require.NoError(t, err)
	assert.Equal(t, "gain", run.Model)
	assert.Equal(t, "running", run.Status)
	assert.Equal(t, time.Unix(1000, 0).UnixNano(), run.StartedUnixNanos)

	feedGain(t, s, 1.5, 20)

	series, err := database.EstimateSeries(s.RunID())
	require.NoError(t, err)
	require.Len(t, series, 20)
	assert.InDelta(t, 1.5, series[19].What[0], 0.1)
	require.Len(t, series[19].SwDiag, 1)

	clock.Advance(time.Minute)
	require.NoError(t, s.Close("completed"))

	run, err = database.GetRun(s.RunID())
	require.NoError(t, err)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, time.Unix(1060, 0).UnixNano(), run.EndedUnixNanos)

	var summary struct {
		FinalWhat     []float32 `json:"final_what"`
		Ticks         int64     `json:"ticks"`
		InnovationRMS float64   `json:"innovation_rms"`
	}
	require.NoError(t, json.Unmarshal([]byte(run.SummaryJSON), &summary))
	assert.Equal(t, int64(20), summary.Ticks)
	assert.InDelta(t, 1.5, summary.FinalWhat[0], 0.1)
	assert.Greater(t, summary.InnovationRMS, 0.0)
}

func TestSessionTraceSampleInterval(t *testing.T) {
	database := db.NewTestDB(t)

	cfg := gainSessionConfig()
	cfg.DB = database
	cfg.TraceSampleInterval = 5
	s, err := NewSession(cfg)
	require.NoError(t, err)

	feedGain(t, s, 1.5, 12)

	series, err := database.EstimateSeries(s.RunID())
	require.NoError(t, err)
	require.Len(t, series, 3, "ticks 0, 5 and 10")
	assert.Equal(t, int64(10), series[2].Tick)
}

type recordingTrace struct {
	ticks []int64
}

func (r *recordingTrace) Record(tick int64, what, swDiag, innovation []float32) {
	r.ticks = append(r.ticks, tick)
}

func TestSessionFeedsRecorder(t *testing.T) {
	rec := &recordingTrace{}
	cfg := gainSessionConfig()
	cfg.Recorder = rec
	s, err := NewSession(cfg)
	require.NoError(t, err)

	feedGain(t, s, 1.5, 4)
	assert.Equal(t, []int64{0, 1, 2, 3}, rec.ticks)
}
