// Package traceplot records estimate traces during a run and renders them
// as PNG line plots after it.
package traceplot

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Sample is one recorded tick of a session.
type Sample struct {
	Tick       int64
	What       []float32
	SwDiag     []float32
	Innovation []float32
}

// Recorder accumulates per-tick samples for plotting after a run. It is
// safe for concurrent use; recording while disabled is a no-op, so the
// session can keep its recorder hook installed unconditionally.
type Recorder struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string
	dim       int
	samples   []Sample
}

// NewRecorder creates a recorder for dim parameters.
func NewRecorder(dim int) *Recorder {
	return &Recorder{dim: dim}
}

// Start clears any previous trace and begins recording into outputDir.
func (r *Recorder) Start(outputDir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	r.outputDir = outputDir
	r.enabled = true
	r.samples = nil
	return nil
}

// Stop disables recording. Call WritePlots to produce the output files.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = false
}

// IsEnabled reports whether the recorder is currently collecting samples.
func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Record captures one tick. The slices are copied, so the caller may reuse
// its buffers.
func (r *Recorder) Record(tick int64, what, swDiag, innovation []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}

	r.samples = append(r.samples, Sample{
		Tick:       tick,
		What:       append([]float32(nil), what...),
		SwDiag:     append([]float32(nil), swDiag...),
		Innovation: append([]float32(nil), innovation...),
	})
}

// SampleCount returns the number of recorded ticks.
func (r *Recorder) SampleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// Samples returns a copy of the recorded trace.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

// OutputDir returns the directory configured by Start.
func (r *Recorder) OutputDir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputDir
}

// WritePlots renders the recorded trace: one PNG per parameter with the
// estimate and its covariance band, plus one innovation PNG with a line per
// channel. Returns the number of files written.
func (r *Recorder) WritePlots() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if len(r.samples) == 0 {
		return 0, nil
	}

	written := 0
	for i := 0; i < r.dim; i++ {
		file := filepath.Join(r.outputDir, fmt.Sprintf("param_%02d.png", i))
		if err := r.writeParameterPlot(i, file); err != nil {
			return written, fmt.Errorf("parameter %d: %w", i, err)
		}
		written++
	}

	file := filepath.Join(r.outputDir, "innovation.png")
	if err := r.writeInnovationPlot(file); err != nil {
		return written, fmt.Errorf("innovation: %w", err)
	}
	written++

	return written, nil
}

// writeParameterPlot draws one parameter's estimate with its spread band.
func (r *Recorder) writeParameterPlot(param int, file string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Parameter %d", param)
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "Estimate"

	est := make(plotter.XYs, 0, len(r.samples))
	upper := make(plotter.XYs, 0, len(r.samples))
	lower := make(plotter.XYs, 0, len(r.samples))
	for _, s := range r.samples {
		if param >= len(s.What) {
			continue
		}
		x := float64(s.Tick)
		w := float64(s.What[param])
		est = append(est, plotter.XY{X: x, Y: w})
		if param < len(s.SwDiag) {
			spread := float64(s.SwDiag[param])
			upper = append(upper, plotter.XY{X: x, Y: w + spread})
			lower = append(lower, plotter.XY{X: x, Y: w - spread})
		}
	}

	estLine, err := plotter.NewLine(est)
	if err != nil {
		return err
	}
	estLine.Color = color.RGBA{R: 30, G: 90, B: 200, A: 255}
	estLine.Width = vg.Points(1.5)
	p.Add(estLine)
	p.Legend.Add("estimate", estLine)

	for _, band := range []plotter.XYs{upper, lower} {
		if len(band) == 0 {
			continue
		}
		line, err := plotter.NewLine(band)
		if err != nil {
			return err
		}
		line.Color = color.RGBA{R: 150, G: 150, B: 150, A: 255}
		line.Width = vg.Points(0.75)
		line.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
		p.Add(line)
	}
	if len(upper) > 0 {
		p.Legend.Add("± spread", mustLine(upper))
	}

	p.Legend.Top = true
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save parameter plot: %w", err)
	}
	return nil
}

// writeInnovationPlot draws one line per innovation channel.
func (r *Recorder) writeInnovationPlot(file string) error {
	p := plot.New()
	p.Title.Text = "Innovation"
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "d - G(x, w)"

	colors := generateColors(r.dim)
	for ch := 0; ch < r.dim; ch++ {
		pts := make(plotter.XYs, 0, len(r.samples))
		for _, s := range r.samples {
			if ch >= len(s.Innovation) {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(s.Tick), Y: float64(s.Innovation[ch])})
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = colors[ch]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("channel %d", ch), line)
	}

	p.Legend.Top = true
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save innovation plot: %w", err)
	}
	return nil
}

func mustLine(pts plotter.XYs) *plotter.Line {
	line, err := plotter.NewLine(pts)
	if err != nil {
		panic(err)
	}
	line.Color = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	line.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
	return line
}

// generateColors builds a palette of distinct line colors.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB in the 0-255 range.
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir builds a timestamped output directory under baseDir.
// Replays use the capture basename; live runs use a live_ prefix.
func MakePlotOutputDir(baseDir, captureFile string) string {
	ts := FormatTimestamp(time.Now())
	if captureFile != "" {
		base := filepath.Base(captureFile)
		name := base[:len(base)-len(filepath.Ext(base))]
		return filepath.Join(baseDir, name, ts)
	}
	return filepath.Join(baseDir, "live_"+ts)
}
