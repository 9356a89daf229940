// Command replay feeds the measurement frames of a packet capture back
// through the estimator, either into a local session or forwarded over UDP
// to a running daemon. Local replays can persist the run and write
// convergence plots. Requires a binary built with the pcap tag; otherwise
// the replay call reports that support is missing.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os/signal"
	"syscall"

	"github.com/kestrel-controls/plantid/internal/config"
	"github.com/kestrel-controls/plantid/internal/db"
	"github.com/kestrel-controls/plantid/internal/frames"
	"github.com/kestrel-controls/plantid/internal/ident"
	"github.com/kestrel-controls/plantid/internal/network"
	"github.com/kestrel-controls/plantid/internal/security"
	"github.com/kestrel-controls/plantid/internal/traceplot"
)

var (
	pcapFile   = flag.String("pcap", "", "Capture file to replay (required)")
	udpPort    = flag.Int("udp-port", 9999, "UDP port the capture's measurement traffic uses")
	speed      = flag.Float64("speed", 0, "Replay pacing (1.0 real-time, 0 as fast as possible)")
	forward    = flag.String("forward", "", "Forward frames to this UDP address instead of running locally")
	dbFile     = flag.String("db", "", "Persist the replayed run to this SQLite database")
	configPath = flag.String("config", "", "Tuning config JSON (built-in defaults when empty)")
	model      = flag.String("model", "", "Transition model, overrides the config")
	dim        = flag.Int("dim", 0, "Parameter count, overrides the config")
	plots      = flag.Bool("plots", false, "Write convergence plots after the replay")
)

func main() {
	flag.Parse()

	if *pcapFile == "" {
		log.Fatal("a capture file is required, pass -pcap")
	}
	if err := security.ValidateExportPath(*pcapFile); err != nil {
		log.Fatalf("refusing capture path: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := network.NewFrameStats()
	replayCfg := network.ReplayConfig{
		UDPPort:         *udpPort,
		SpeedMultiplier: *speed,
		Stats:           stats,
	}

	if *forward != "" {
		if err := forwardReplay(ctx, *forward, replayCfg); err != nil && err != context.Canceled {
			log.Fatalf("replay failed: %v", err)
		}
		return
	}

	if err := localReplay(ctx, replayCfg); err != nil && err != context.Canceled {
		log.Fatalf("replay failed: %v", err)
	}
}

// forwardReplay re-emits every decoded frame as a UDP datagram, so a live
// daemon can consume the capture as if the plant were running.
func forwardReplay(ctx context.Context, addr string, replayCfg network.ReplayConfig) error {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	sent := 0
	err = network.ReplayPcap(ctx, *pcapFile, replayCfg, func(f *frames.Frame) {
		data, err := frames.Marshal(f)
		if err != nil {
			log.Printf("skipping frame %d: %v", f.Seq, err)
			return
		}
		if _, err := conn.Write(data); err != nil {
			log.Printf("forward write failed: %v", err)
			return
		}
		sent++
	})
	log.Printf("forwarded %d frames to %s", sent, addr)
	return err
}

// localReplay runs the capture through a fresh session, optionally backed
// by the database and the plot recorder.
func localReplay(ctx context.Context, replayCfg network.ReplayConfig) error {
	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			return err
		}
	}
	if *model != "" {
		cfg.Model = model
	}
	if *dim > 0 {
		cfg.Dim = dim
	}

	var database *db.DB
	if *dbFile != "" {
		var err error
		database, err = db.NewDB(*dbFile)
		if err != nil {
			return err
		}
		defer database.Close()
	}

	var recorder *traceplot.Recorder
	if *plots {
		recorder = traceplot.NewRecorder(cfg.GetDim())
		outputDir := traceplot.MakePlotOutputDir(cfg.GetPlotOutputDir(), *pcapFile)
		if err := recorder.Start(outputDir); err != nil {
			return err
		}
		log.Printf("recording convergence plots to %s", outputDir)
	}

	d := cfg.GetDim()
	noise := make([]float32, d)
	for i := range noise {
		noise[i] = float32(cfg.GetMeasurementNoise())
	}
	px, py := cfg.GetEnvelope()
	session, err := ident.NewSession(ident.SessionConfig{
		Model:                  cfg.GetModel(),
		Dim:                    d,
		Alpha:                  float32(cfg.GetAlpha()),
		Beta:                   float32(cfg.GetBeta()),
		ForgettingFactor:       float32(cfg.GetForgettingFactor()),
		NoiseDiag:              noise,
		Prior:                  cfg.GetPrior(),
		PriorCovariance:        float32(cfg.GetPriorCovariance()),
		EnvelopeX:              px,
		EnvelopeY:              py,
		MaxConsecutiveFailures: cfg.GetMaxConsecutiveFailures(),
		TraceSampleInterval:    cfg.GetTraceSampleInterval(),
		DB:                     database,
		Recorder:               sessionRecorder(recorder),
	})
	if err != nil {
		return err
	}
	log.Printf("replaying into run %s (model %s, dim %d)", session.RunID(), cfg.GetModel(), d)

	dropped := 0
	replayErr := network.ReplayPcap(ctx, *pcapFile, replayCfg, func(f *frames.Frame) {
		if err := session.HandleFrame(f); err != nil {
			dropped++
		}
	})

	snap := session.Snapshot()
	log.Printf("replay done: %d ticks, %d skipped, %d failures, %d dropped",
		snap.Ticks, snap.Skipped, snap.Failures, dropped)
	log.Printf("final estimate: %v", snap.What)

	if err := session.Close("completed"); err != nil {
		log.Printf("failed to close run: %v", err)
	}
	if recorder != nil {
		recorder.Stop()
		if n, err := recorder.WritePlots(); err != nil {
			log.Printf("failed to write plots: %v", err)
		} else {
			log.Printf("wrote %d plots to %s", n, recorder.OutputDir())
		}
	}
	return replayErr
}

// sessionRecorder keeps the session's recorder hook nil when plotting is
// off, so a typed-nil *Recorder never sneaks into the interface field.
func sessionRecorder(r *traceplot.Recorder) ident.TraceRecorder {
	if r == nil {
		return nil
	}
	return r
}
