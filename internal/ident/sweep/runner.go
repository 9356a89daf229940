package sweep

import (
	"context"
	"fmt"
	"math"

	"github.com/kestrel-controls/plantid/internal/frames"
	"github.com/kestrel-controls/plantid/internal/fsutil"
	"github.com/kestrel-controls/plantid/internal/ident"
	"github.com/kestrel-controls/plantid/internal/monitoring"
)

// Runner replays one frame log through a fresh session per combination.
type Runner struct {
	// Base is the session configuration shared by every combination; the
	// combo overrides Alpha, Beta, ForgettingFactor and scales NoiseDiag.
	// Store and recorder hooks are ignored during sweeps.
	Base ident.SessionConfig

	Frames  []*frames.Frame
	Weights ObjectiveWeights
}

// normTrace collects the per-tick innovation norms a combination produces.
type normTrace struct {
	norms []float32
}

func (n *normTrace) Record(tick int64, what, swDiag, innovation []float32) {
	var sum float64
	for _, v := range innovation {
		sum += float64(v) * float64(v)
	}
	n.norms = append(n.norms, float32(math.Sqrt(sum)))
}

// RunCombo replays the log with one combination and returns its metrics.
// Tick failures are counted, not fatal; only a session that cannot be
// constructed is an error.
func (r *Runner) RunCombo(combo Combo) (ComboResult, error) {
	cfg := r.Base
	cfg.Alpha = float32(combo.Alpha)
	cfg.Beta = float32(combo.Beta)
	cfg.ForgettingFactor = float32(combo.Lambda)
	cfg.NoiseDiag = make([]float32, len(r.Base.NoiseDiag))
	for i, v := range r.Base.NoiseDiag {
		cfg.NoiseDiag[i] = v * float32(combo.ReScale)
	}
	cfg.DB = nil
	trace := &normTrace{}
	cfg.Recorder = trace

	session, err := ident.NewSession(cfg)
	if err != nil {
		return ComboResult{}, fmt.Errorf("combo %+v: %w", combo, err)
	}

	failures := 0
	for _, f := range r.Frames {
		if err := session.HandleFrame(f); err != nil {
			failures++
		}
	}

	snap := session.Snapshot()
	result := ComboResult{
		Combo:         combo,
		Failures:      failures,
		FinalEstimate: snap.What,
	}
	Evaluate(&result, trace.norms)
	return result, nil
}

// Run evaluates every combination in order and returns the raw results.
// The context cancels a long sweep between combinations.
func (r *Runner) Run(ctx context.Context, combos []Combo) ([]ComboResult, error) {
	if len(r.Frames) == 0 {
		return nil, fmt.Errorf("sweep has no frames to replay")
	}

	results := make([]ComboResult, 0, len(combos))
	for i, combo := range combos {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := r.RunCombo(combo)
		if err != nil {
			return results, err
		}
		results = append(results, result)
		if (i+1)%50 == 0 {
			monitoring.Logf("sweep: %d/%d combinations done", i+1, len(combos))
		}
	}
	return results, nil
}

// ReadFrameLog loads a binary frame log: back-to-back encoded frames, each
// carrying its own dimension byte.
func ReadFrameLog(fsys fsutil.FileSystem, path string) ([]*frames.Frame, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame log %s: %w", path, err)
	}

	var out []*frames.Frame
	for off := 0; off < len(data); {
		if len(data)-off < frames.HeaderSize {
			return nil, fmt.Errorf("frame log %s: %w at offset %d", path, frames.ErrShortFrame, off)
		}
		size := frames.EncodedSize(int(data[off+3]))
		if off+size > len(data) {
			return nil, fmt.Errorf("frame log %s: %w at offset %d", path, frames.ErrShortFrame, off)
		}
		f, err := frames.Unmarshal(data[off : off+size])
		if err != nil {
			return nil, fmt.Errorf("frame log %s at offset %d: %w", path, off, err)
		}
		out = append(out, f)
		off += size
	}
	return out, nil
}
