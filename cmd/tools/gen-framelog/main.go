// Command gen-framelog simulates a plant and writes the resulting
// measurement frames to a binary log for sweeps and replay testing. The
// per-channel excitation amplitudes come from a small linear program that
// spends a total drive budget against per-channel actuator limits; the
// response is the chosen transition model evaluated at a known true
// parameter vector plus Gaussian measurement noise.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net"
	"os"
	"strings"
	"time"

	"github.com/kestrel-controls/plantid/internal/frames"
	"github.com/kestrel-controls/plantid/internal/fsutil"
	"github.com/kestrel-controls/plantid/internal/ident"
	"github.com/kestrel-controls/plantid/internal/ident/sweep"
	"github.com/kestrel-controls/plantid/internal/optimize"
	"github.com/kestrel-controls/plantid/internal/security"
	"github.com/kestrel-controls/plantid/internal/sysid"
)

var (
	outPath   = flag.String("out", "", "Binary frame log output path (required unless -udp)")
	csvPath   = flag.String("csv", "", "Also write the frames as CSV lines to this path")
	udpAddr   = flag.String("udp", "", "Stream the frames to this UDP address instead of exiting")
	modelName = flag.String("model", "gain", "Transition model to simulate")
	dim       = flag.Int("dim", 2, "Parameter count")
	ticks     = flag.Int("ticks", 2000, "Number of frames to generate")
	truthSpec = flag.String("truth", "", "True parameter values, comma list (default 1.5 per channel)")
	noiseStd  = flag.Float64("noise", 0.05, "Gaussian measurement noise standard deviation")
	ampMax    = flag.Float64("amp-max", 1.0, "Per-channel excitation amplitude limit")
	budget    = flag.Float64("budget", 0, "Total drive budget across channels (0 = dim * amp-max)")
	rate      = flag.Duration("rate", 10*time.Millisecond, "Tick interval for timestamps and UDP pacing")
	seed      = flag.Int64("seed", 1, "Noise generator seed")
)

func main() {
	flag.Parse()

	if *outPath == "" && *udpAddr == "" {
		log.Fatal("nowhere to write, pass -out or -udp")
	}
	if *dim < 1 || *dim > frames.MaxDim {
		log.Fatalf("dim must be in 1..%d, got %d", frames.MaxDim, *dim)
	}

	model, err := ident.Lookup(*modelName)
	if err != nil {
		log.Fatalf("%v", err)
	}
	truth, err := parseTruth(*truthSpec, *dim)
	if err != nil {
		log.Fatalf("%v", err)
	}

	totalBudget := float32(*budget)
	if totalBudget <= 0 {
		totalBudget = float32(*ampMax) * float32(*dim)
	}
	limits := make([]float32, *dim)
	for i := range limits {
		limits[i] = float32(*ampMax)
	}
	amps := planAmplitudes(limits, totalBudget)
	log.Printf("excitation amplitudes: %v (budget %.2f)", amps, totalBudget)

	generated := simulate(model, truth, amps, *ticks, float32(*noiseStd), *seed, *rate)
	log.Printf("simulated %d ticks of %q with truth %v", len(generated), *modelName, truth)

	fsys := fsutil.OSFileSystem{}
	if *outPath != "" {
		if err := security.ValidateExportPath(*outPath); err != nil {
			log.Fatalf("refusing output path: %v", err)
		}
		data, err := encodeLog(generated)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if err := fsys.WriteFile(*outPath, data, os.FileMode(0o644)); err != nil {
			log.Fatalf("failed to write frame log: %v", err)
		}
		log.Printf("wrote %d frames (%d bytes) to %s", len(generated), len(data), *outPath)
	}

	if *csvPath != "" {
		if err := security.ValidateExportPath(*csvPath); err != nil {
			log.Fatalf("refusing CSV path: %v", err)
		}
		if err := fsys.WriteFile(*csvPath, encodeCSV(generated), os.FileMode(0o644)); err != nil {
			log.Fatalf("failed to write CSV: %v", err)
		}
		log.Printf("wrote CSV to %s", *csvPath)
	}

	if *udpAddr != "" {
		if err := stream(*udpAddr, generated, *rate); err != nil {
			log.Fatalf("failed to stream frames: %v", err)
		}
	}
}

func parseTruth(spec string, dim int) ([]float32, error) {
	truth := make([]float32, dim)
	if spec == "" {
		for i := range truth {
			truth[i] = 1.5
		}
		return truth, nil
	}
	values, err := sweep.ParseParamList(spec)
	if err != nil {
		return nil, fmt.Errorf("bad truth list: %w", err)
	}
	if len(values) != dim {
		return nil, fmt.Errorf("truth has %d entries but dim is %d", len(values), dim)
	}
	for i, v := range values {
		truth[i] = float32(v)
	}
	return truth, nil
}

// planAmplitudes allocates per-channel drive amplitudes: maximize the total
// excitation subject to each channel's actuator limit and the shared drive
// budget. Channels are weighted slightly in favour of the lower indices so
// the solver has a unique optimum when the budget cannot saturate them all.
func planAmplitudes(limits []float32, budget float32) []float32 {
	dim := len(limits)
	c := make([]float32, dim)
	for i := range c {
		c[i] = 1 + float32(dim-i)*1e-3
	}

	rows := dim + 1
	A := make([]float32, rows*dim)
	b := make([]float32, rows)
	for i := 0; i < dim; i++ {
		A[i*dim+i] = 1
		b[i] = limits[i]
	}
	for j := 0; j < dim; j++ {
		A[dim*dim+j] = 1
	}
	b[dim] = budget

	amps := make([]float32, dim)
	optimize.Maximize(c, A, b, amps, rows, dim, 10*rows)
	return amps
}

// simulate runs the plant model over a phase-staggered sine excitation and
// returns the measurement frames. The noise generator is seeded so logs are
// reproducible.
func simulate(model sysid.Transition, truth, amps []float32, ticks int, noiseStd float32, seed int64, interval time.Duration) []*frames.Frame {
	dim := len(truth)
	rng := rand.New(rand.NewSource(seed))
	base := time.Now().UnixNano()

	out := make([]*frames.Frame, 0, ticks)
	d := make([]float32, dim)
	for tick := 0; tick < ticks; tick++ {
		t := float64(tick) * interval.Seconds()
		x := make([]float32, dim)
		for i := 0; i < dim; i++ {
			// Distinct frequency per channel keeps the excitation
			// persistently exciting for cross-coupled models.
			freq := 0.4 * (1 + 0.3*float64(i))
			phase := 2 * math.Pi * float64(i) / float64(dim)
			x[i] = amps[i] * float32(math.Sin(2*math.Pi*freq*t+phase))
		}

		model.Propagate(d, x, truth)
		resp := make([]float32, dim)
		for i := range resp {
			resp[i] = d[i] + noiseStd*float32(rng.NormFloat64())
		}

		out = append(out, &frames.Frame{
			Seq:       uint32(tick),
			UnixNanos: base + int64(tick)*interval.Nanoseconds(),
			X:         x,
			D:         resp,
		})
	}
	return out
}

// encodeLog concatenates the binary encoding of every frame, the layout
// sweep.ReadFrameLog expects.
func encodeLog(generated []*frames.Frame) ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range generated {
		data, err := frames.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("failed to encode frame %d: %w", f.Seq, err)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func encodeCSV(generated []*frames.Frame) []byte {
	var b strings.Builder
	for _, f := range generated {
		b.WriteString(frames.MarshalCSV(f))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// stream paces the frames out as UDP datagrams at the tick interval.
func stream(addr string, generated []*frames.Frame, interval time.Duration) error {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for _, f := range generated {
		<-ticker.C
		data, err := frames.Marshal(f)
		if err != nil {
			return err
		}
		if _, err := conn.Write(data); err != nil {
			return err
		}
	}
	log.Printf("streamed %d frames to %s", len(generated), addr)
	return nil
}
