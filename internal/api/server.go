// Package api serves the daemon's HTTP surface: run history, the live
// estimate, estimator control and the tuning config.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kestrel-controls/plantid/internal/config"
	"github.com/kestrel-controls/plantid/internal/db"
	"github.com/kestrel-controls/plantid/internal/filters"
	"github.com/kestrel-controls/plantid/internal/httputil"
	"github.com/kestrel-controls/plantid/internal/ident"
	"github.com/kestrel-controls/plantid/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Session is the live-session surface the API needs. Nil when the daemon
// runs without a source (replay-only, history browsing).
type Session interface {
	RunID() string
	Snapshot() ident.Snapshot
	Reset(prior []float32) error
}

type Server struct {
	db      *db.DB
	session Session
	started time.Time

	mu  sync.RWMutex
	cfg *config.TuningConfig
}

func NewServer(database *db.DB, session Session, cfg *config.TuningConfig) *Server {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	return &Server{
		db:      database,
		session: session,
		cfg:     cfg,
		started: time.Now(),
	}
}

// Config returns the current tuning config.
func (s *Server) Config() *config.TuningConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.health)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/{id}", s.getRun)
	mux.HandleFunc("/api/runs/{id}/estimates", s.runEstimates)
	mux.HandleFunc("/api/runs/{id}/report", s.runReport)
	mux.HandleFunc("/api/runs/{id}/plot.png", s.runPlot)
	mux.HandleFunc("/api/estimate", s.latestEstimate)
	mux.HandleFunc("/api/estimator/reset", s.resetEstimator)
	mux.HandleFunc("/api/sweeps", s.listSweeps)
	mux.HandleFunc("/api/config", s.handleConfig)
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	payload := map[string]any{
		"status":         "ok",
		"version":        version.Version,
		"git_sha":        version.GitSHA,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}
	if s.session != nil {
		payload["run_id"] = s.session.RunID()
	}
	httputil.WriteJSONOK(w, payload)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.db.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	run, err := s.db.GetRun(r.PathValue("id"))
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, run)
}

// runEstimates returns the persisted tick series for a run. An optional
// smooth=K query runs the zero-phase smoother over every parameter trace
// with time constant K ticks.
func (s *Server) runEstimates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	series, err := s.loadSeries(r.PathValue("id"))
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}

	if smooth := r.URL.Query().Get("smooth"); smooth != "" {
		k, err := strconv.ParseFloat(smooth, 32)
		if err != nil || k <= 0 {
			httputil.BadRequest(w, "invalid 'smooth' parameter, want a positive time constant")
			return
		}
		smoothSeries(series, float32(k))
	}

	httputil.WriteJSONOK(w, series)
}

// loadSeries fetches a run's series after confirming the run exists, so a
// bad id and an empty run are distinguishable.
func (s *Server) loadSeries(runID string) ([]db.Estimate, error) {
	if _, err := s.db.GetRun(runID); err != nil {
		return nil, err
	}
	series, err := s.db.EstimateSeries(runID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		series = []db.Estimate{}
	}
	return series, nil
}

// smoothSeries runs the zero-phase smoother over each parameter channel of
// the series in place.
func smoothSeries(series []db.Estimate, k float32) {
	if len(series) < 2 {
		return
	}
	dim := len(series[0].What)
	ticks := make([]float32, len(series))
	trace := make([]float32, len(series))
	for i := range series {
		ticks[i] = float32(series[i].Tick)
	}
	for ch := 0; ch < dim; ch++ {
		for i := range series {
			if ch < len(series[i].What) {
				trace[i] = series[i].What[ch]
			}
		}
		filters.FiltFilt(trace, ticks, k)
		for i := range series {
			if ch < len(series[i].What) {
				series[i].What[ch] = trace[i]
			}
		}
	}
}

func (s *Server) latestEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.session == nil {
		httputil.NotFound(w, "no live session")
		return
	}
	httputil.WriteJSONOK(w, s.session.Snapshot())
}

func (s *Server) resetEstimator(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.session == nil {
		httputil.NotFound(w, "no live session")
		return
	}

	// An empty body re-seeds to the configured prior; a body with a prior
	// field replaces it.
	var body struct {
		Prior []float32 `json:"prior"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, fmt.Sprintf("invalid reset body: %v", err))
		return
	}

	if err := s.session.Reset(body.Prior); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.session.Snapshot())
}

func (s *Server) listSweeps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	sweeps, err := s.db.ListSweeps(50)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list sweeps: %v", err))
		return
	}
	if sweeps == nil {
		sweeps = []db.Sweep{}
	}
	httputil.WriteJSONOK(w, sweeps)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.Config())
	case http.MethodPost:
		var incoming config.TuningConfig
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&incoming); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid config JSON: %v", err))
			return
		}
		if err := incoming.Validate(); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}

		s.mu.Lock()
		s.cfg = &incoming
		s.mu.Unlock()

		// Applies to the next session or reset; the running estimator
		// keeps its state.
		httputil.WriteJSONOK(w, &incoming)
	default:
		httputil.MethodNotAllowed(w)
	}
}
