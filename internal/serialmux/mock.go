package serialmux

import (
	"bytes"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/kestrel-controls/plantid/internal/frames"
)

// MockSerialPort implements SerialPorter for dev mode and testing. Reads are
// fed from an io.Pipe carrying synthetic measurement lines; writes are
// discarded after being recorded.
type MockSerialPort struct {
	io.Reader

	mu       sync.Mutex
	written  bytes.Buffer
	closeFn  func() error
	isClosed bool
}

func (m *MockSerialPort) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isClosed {
		return 0, errors.New("mock serial port closed")
	}
	return m.written.Write(p)
}

// Commands returns everything written to the mock port so far.
func (m *MockSerialPort) Commands() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isClosed {
		return nil
	}
	m.isClosed = true
	if m.closeFn != nil {
		return m.closeFn()
	}
	return nil
}

// NewMockSerialMux creates a SerialMux backed by a synthetic measurement
// frontend. The generator simulates a first-order plant with dim channels:
// the excitation is a phase-staggered sine sweep and the response is the
// excitation scaled by a slowly drifting gain, which gives the estimator
// something real to chase in dev mode.
func NewMockSerialMux(dim int, interval time.Duration) *SerialMux[*MockSerialPort] {
	if dim < 1 {
		dim = 1
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	r, w := io.Pipe()
	mockPort := &MockSerialPort{
		Reader:  r,
		closeFn: r.Close,
	}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var seq uint32
		x := make([]float32, dim)
		d := make([]float32, dim)
		for range ticker.C {
			t := float64(seq) * interval.Seconds()
			for i := 0; i < dim; i++ {
				phase := 2 * math.Pi * float64(i) / float64(dim)
				x[i] = float32(math.Sin(0.4*t + phase))
				// gain drifts around 1.5 so the parameter track is nontrivial
				gain := 1.5 + 0.2*math.Sin(0.01*t)
				d[i] = float32(gain) * x[i]
			}
			frame := &frames.Frame{
				Seq:       seq,
				UnixNanos: time.Now().UnixNano(),
				X:         x,
				D:         d,
			}
			line := frames.MarshalCSV(frame) + "\n"
			if _, err := w.Write([]byte(line)); err != nil {
				return
			}
			seq++
		}
	}()

	return NewSerialMux(mockPort)
}
