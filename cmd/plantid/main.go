// Command plantid runs the identification daemon: it feeds measurement
// frames from a serial frontend and/or a UDP socket through the estimation
// session, persists the run to SQLite and serves the HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kestrel-controls/plantid/internal/api"
	"github.com/kestrel-controls/plantid/internal/config"
	"github.com/kestrel-controls/plantid/internal/db"
	"github.com/kestrel-controls/plantid/internal/frames"
	"github.com/kestrel-controls/plantid/internal/ident"
	"github.com/kestrel-controls/plantid/internal/network"
	"github.com/kestrel-controls/plantid/internal/serialmux"
	"github.com/kestrel-controls/plantid/internal/traceplot"
	"github.com/kestrel-controls/plantid/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Use a mock serial frontend emitting synthetic frames")
	serialPort = flag.String("port", "", "Serial device carrying measurement frames (empty disables)")
	baudRate   = flag.Int("baud", 115200, "Serial baud rate")
	udpAddr    = flag.String("udp", "", "UDP listen address for binary frames (empty disables)")
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	dbFile     = flag.String("db", "plantid.db", "SQLite database path")
	configPath = flag.String("config", "", "Tuning config JSON (built-in defaults when empty)")
	model      = flag.String("model", "", "Transition model, overrides the config")
	dim        = flag.Int("dim", 0, "Parameter count, overrides the config")
	migrateCmd = flag.String("migrate", "", "Run a migration command (up|down|version|force N|to N) and exit")
	plots      = flag.Bool("plots", false, "Record the run and write convergence plots on shutdown")
)

const migrationsDir = "db/migrations"

func main() {
	flag.Parse()

	if *migrateCmd != "" {
		db.RunMigrateCommand(strings.Fields(*migrateCmd), *dbFile, migrationsDir)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
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

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	var recorder *traceplot.Recorder
	if *plots {
		recorder = traceplot.NewRecorder(cfg.GetDim())
		outputDir := traceplot.MakePlotOutputDir(cfg.GetPlotOutputDir(), "")
		if err := recorder.Start(outputDir); err != nil {
			log.Fatalf("failed to start plot recorder: %v", err)
		}
		log.Printf("recording convergence plots to %s", outputDir)
	}

	session, err := newSession(cfg, database, recorder)
	if err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	log.Printf("plantid %s (%s): run %s, model %s, dim %d",
		version.Version, version.GitSHA, session.RunID(), cfg.GetModel(), cfg.GetDim())

	var mux serialmux.SerialMuxInterface
	switch {
	case *devMode:
		mux = serialmux.NewMockSerialMux(cfg.GetDim(), 20*time.Millisecond)
	case *serialPort != "":
		mux, err = serialmux.NewRealSerialMux(*serialPort, serialmux.PortOptions{BaudRate: *baudRate})
		if err != nil {
			log.Fatalf("failed to open serial port: %v", err)
		}
	default:
		mux = serialmux.NewDisabledSerialMux()
	}
	defer mux.Close()

	if err := mux.Initialize(); err != nil {
		log.Fatalf("failed to initialize frontend: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Serial IO loop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mux.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("serial monitor stopped: %v", err)
		}
	}()

	// Serial lines into the session.
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := mux.Subscribe()
		defer mux.Unsubscribe(id)
		for {
			select {
			case payload := <-c:
				if err := serialmux.HandleEvent(session, payload); err != nil {
					log.Printf("serial frame dropped: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// UDP frames into the session.
	if *udpAddr != "" {
		listener := network.NewUDPListener(network.UDPListenerConfig{
			Address: *udpAddr,
			Stats:   network.NewFrameStats(),
			OnFrame: func(f *frames.Frame) {
				if err := session.HandleFrame(f); err != nil {
					log.Printf("udp frame dropped: %v", err)
				}
			},
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("udp listener stopped: %v", err)
			}
		}()
	}

	// HTTP server.
	wg.Add(1)
	go func() {
		defer wg.Done()

		serveMux := api.NewServer(database, session, cfg).ServeMux()
		mux.AttachAdminRoutes(serveMux)
		database.AttachAdminRoutes(serveMux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(serveMux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
	}()

	wg.Wait()

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
	log.Printf("shutdown complete")
}

// newSession translates the tuning config into a live session.
func newSession(cfg *config.TuningConfig, database *db.DB, recorder *traceplot.Recorder) (*ident.Session, error) {
	d := cfg.GetDim()
	noise := make([]float32, d)
	for i := range noise {
		noise[i] = float32(cfg.GetMeasurementNoise())
	}
	px, py := cfg.GetEnvelope()

	sessionCfg := ident.SessionConfig{
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
	}
	if recorder != nil {
		sessionCfg.Recorder = recorder
	}
	return ident.NewSession(sessionCfg)
}
