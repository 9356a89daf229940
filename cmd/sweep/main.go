// Command sweep replays a recorded frame log across a grid or random sample
// of filter tunings, ranks the combinations by the convergence objective and
// writes a ranked report. The winning tuning can be pushed straight to a
// running daemon's /api/config.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kestrel-controls/plantid/internal/config"
	"github.com/kestrel-controls/plantid/internal/db"
	"github.com/kestrel-controls/plantid/internal/fsutil"
	"github.com/kestrel-controls/plantid/internal/httputil"
	"github.com/kestrel-controls/plantid/internal/ident"
	"github.com/kestrel-controls/plantid/internal/ident/sweep"
)

var (
	frameLog   = flag.String("frames", "", "Binary frame log to replay (required)")
	configPath = flag.String("config", "", "Tuning config JSON for the base session")
	model      = flag.String("model", "", "Transition model, overrides the config")
	dim        = flag.Int("dim", 0, "Parameter count, overrides the config")

	alphaSpec   = flag.String("alpha", "", "Alpha axis: min:max:step or comma list (default 0.5)")
	betaSpec    = flag.String("beta", "", "Beta axis: min:max:step or comma list (default 2.0)")
	lambdaSpec  = flag.String("lambda", "", "Forgetting factor axis (default 0.995)")
	reScaleSpec = flag.String("rescale", "", "Noise rescale axis (default 1.0)")

	randomN = flag.Int("random", 0, "Sample N random combinations instead of the full grid")
	seed    = flag.Int64("seed", 0, "Random sample seed (0 uses the current time)")

	outPath = flag.String("out", "", "Write the ranked report JSON to this path")
	dbFile  = flag.String("db", "", "Persist the report to this SQLite database")
	topN    = flag.Int("top", 5, "How many leading combinations to print and store")
	apply   = flag.String("apply", "", "Daemon base URL; POST the best tuning to its /api/config")
)

func main() {
	flag.Parse()

	if *frameLog == "" {
		log.Fatal("a frame log is required, pass -frames")
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if *model != "" {
		cfg.Model = model
	}
	if *dim > 0 {
		cfg.Dim = dim
	}

	fsys := fsutil.OSFileSystem{}
	replay, err := sweep.ReadFrameLog(fsys, *frameLog)
	if err != nil {
		log.Fatalf("failed to read frame log: %v", err)
	}
	if len(replay) > 0 && len(replay[0].X) != cfg.GetDim() {
		log.Fatalf("frame log carries dim %d but the session wants dim %d", len(replay[0].X), cfg.GetDim())
	}

	axes := sweep.Axes{
		Alpha:   *alphaSpec,
		Beta:    *betaSpec,
		Lambda:  *lambdaSpec,
		ReScale: *reScaleSpec,
	}
	var combos []sweep.Combo
	if *randomN > 0 {
		s := *seed
		if s == 0 {
			s = time.Now().UnixNano()
		}
		combos, err = sweep.RandomSample(axes, *randomN, s)
	} else {
		combos, err = sweep.GridSample(axes)
	}
	if err != nil {
		log.Fatalf("failed to build combinations: %v", err)
	}

	runner := &sweep.Runner{
		Base:    baseSessionConfig(cfg),
		Frames:  replay,
		Weights: sweep.DefaultObjectiveWeights(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("sweeping %d combinations over %d frames (model %s, dim %d)",
		len(combos), len(replay), cfg.GetModel(), cfg.GetDim())
	started := time.Now()
	results, err := runner.Run(ctx, combos)
	if err != nil {
		log.Fatalf("sweep aborted after %d combinations: %v", len(results), err)
	}

	ranked := sweep.RankResults(results, runner.Weights)
	report := &sweep.Report{
		ID:               sweep.NewReportID(),
		StartedUnixNanos: started.UnixNano(),
		Model:            cfg.GetModel(),
		Dim:              cfg.GetDim(),
		FrameCount:       len(replay),
		Axes:             axes,
		Weights:          runner.Weights,
		Results:          ranked,
		Best:             sweep.BestN(ranked, *topN),
	}

	for i, r := range report.Best {
		log.Printf("#%d score=%.4f alpha=%.3f beta=%.2f lambda=%.4f rescale=%.2f rms=%.4f failures=%d",
			i+1, r.Score, r.Combo.Alpha, r.Combo.Beta, r.Combo.Lambda, r.Combo.ReScale,
			r.SteadyStateRMS, r.Failures)
	}

	if *outPath != "" {
		if err := sweep.WriteReport(fsys, *outPath, report); err != nil {
			log.Fatalf("%v", err)
		}
		log.Printf("wrote report to %s", *outPath)
	}

	if *dbFile != "" {
		database, err := db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer database.Close()
		if err := sweep.PersistReport(database, report); err != nil {
			log.Fatalf("%v", err)
		}
		log.Printf("persisted report %s", report.ID)
	}

	if *apply != "" {
		if len(report.Best) == 0 {
			log.Fatal("no combination to apply")
		}
		client := httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second})
		if err := applyBest(client, *apply, report.Best[0].Combo, cfg); err != nil {
			log.Fatalf("failed to apply tuning: %v", err)
		}
		log.Printf("applied best tuning to %s", *apply)
	}
}

// baseSessionConfig translates the tuning config into the session config a
// sweep runner varies per combination.
func baseSessionConfig(cfg *config.TuningConfig) ident.SessionConfig {
	d := cfg.GetDim()
	noise := make([]float32, d)
	for i := range noise {
		noise[i] = float32(cfg.GetMeasurementNoise())
	}
	px, py := cfg.GetEnvelope()
	return ident.SessionConfig{
		Model:                  cfg.GetModel(),
		Dim:                    d,
		NoiseDiag:              noise,
		Prior:                  cfg.GetPrior(),
		PriorCovariance:        float32(cfg.GetPriorCovariance()),
		EnvelopeX:              px,
		EnvelopeY:              py,
		MaxConsecutiveFailures: cfg.GetMaxConsecutiveFailures(),
	}
}

// applyBest POSTs the winning combination to a daemon's config endpoint,
// merged over the base tuning so unrelated fields survive.
func applyBest(client httputil.HTTPClient, baseURL string, combo sweep.Combo, cfg *config.TuningConfig) error {
	tuned := *cfg
	alpha := combo.Alpha
	beta := combo.Beta
	lambda := combo.Lambda
	noise := cfg.GetMeasurementNoise() * combo.ReScale
	tuned.Alpha = &alpha
	tuned.Beta = &beta
	tuned.ForgettingFactor = &lambda
	tuned.MeasurementNoise = &noise

	body, err := json.Marshal(&tuned)
	if err != nil {
		return fmt.Errorf("failed to encode tuning: %w", err)
	}

	url := strings.TrimSuffix(baseURL, "/") + "/api/config"
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("POST %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
