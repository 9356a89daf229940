package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kestrel-controls/plantid/internal/db"
	"github.com/kestrel-controls/plantid/internal/httputil"
	"github.com/kestrel-controls/plantid/internal/traceplot"
)

// runReport renders an HTML report for a run: parameter traces, innovation
// and the covariance diagonal, one go-echarts line chart each.
func (s *Server) runReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	runID := r.PathValue("id")
	run, err := s.db.GetRun(runID)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	series, err := s.db.EstimateSeries(runID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load estimates: %v", err))
		return
	}
	if len(series) == 0 {
		httputil.NotFound(w, fmt.Sprintf("no estimates for run %s", runID))
		return
	}

	ticks := make([]string, len(series))
	for i, e := range series {
		ticks[i] = strconv.FormatInt(e.Tick, 10)
	}

	page := components.NewPage()
	page.AddCharts(
		seriesChart("Parameter estimates", fmt.Sprintf("run=%s model=%s dim=%d", run.ID, run.Model, run.Dim),
			ticks, series, "w[%d]", func(e db.Estimate) []float32 { return e.What }),
		seriesChart("Innovation", "d - G(x, w) per channel",
			ticks, series, "channel %d", func(e db.Estimate) []float32 { return e.Innovation }),
		seriesChart("Covariance factor diagonal", "Sw[i][i] per parameter",
			ticks, series, "Sw[%d]", func(e db.Estimate) []float32 { return e.SwDiag }),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render report: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// seriesChart builds one line chart with a series per channel of the
// extracted vector.
func seriesChart(title, subtitle string, ticks []string, series []db.Estimate, nameFormat string, extract func(db.Estimate) []float32) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "tick"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(ticks)

	dim := len(extract(series[0]))
	for ch := 0; ch < dim; ch++ {
		data := make([]opts.LineData, len(series))
		for i, e := range series {
			values := extract(e)
			if ch < len(values) {
				data[i] = opts.LineData{Value: values[ch]}
			}
		}
		line.AddSeries(fmt.Sprintf(nameFormat, ch), data)
	}
	return line
}

// runPlot renders the run's parameter traces as a PNG.
func (s *Server) runPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	series, err := s.loadSeries(r.PathValue("id"))
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	if len(series) == 0 {
		httputil.NotFound(w, "no estimates to plot")
		return
	}

	samples := make([]traceplot.Sample, len(series))
	for i, e := range series {
		samples[i] = traceplot.Sample{
			Tick:       e.Tick,
			What:       e.What,
			SwDiag:     e.SwDiag,
			Innovation: e.Innovation,
		}
	}

	var buf bytes.Buffer
	if err := traceplot.RenderPNG(&buf, samples); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}
