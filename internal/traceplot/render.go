package traceplot

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// RenderPNG draws every parameter trace on one chart and writes the PNG to
// w. Used by the run plot endpoint and the replay tool, which hold a series
// loaded from the store rather than a live recorder.
func RenderPNG(w io.Writer, samples []Sample) error {
	if len(samples) == 0 {
		return fmt.Errorf("no samples to render")
	}

	dim := len(samples[0].What)
	p := plot.New()
	p.Title.Text = "Parameter convergence"
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "Estimate"

	colors := generateColors(dim)
	for param := 0; param < dim; param++ {
		pts := make(plotter.XYs, 0, len(samples))
		for _, s := range samples {
			if param >= len(s.What) {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(s.Tick), Y: float64(s.What[param])})
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = colors[param]
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("w[%d]", param), line)
	}

	p.Legend.Top = true
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	writer, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	if _, err := writer.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write plot: %w", err)
	}
	return nil
}
