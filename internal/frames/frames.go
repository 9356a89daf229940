// Package frames implements the measurement frame codec shared by the UDP
// listener, the serial feed, the log replayer and the synthetic generator.
//
// Binary layout (little-endian, 16 + 8*dim bytes total):
//
//	├── Magic   (2 bytes)  0x5249
//	├── Version (1 byte)   currently 1
//	├── Dim     (1 byte)   parameter count, 1..255
//	├── Seq     (4 bytes)  per-source monotonic counter
//	├── Nanos   (8 bytes)  capture time, Unix nanoseconds
//	├── X       (4*dim)    plant state at the tick, float32
//	└── D       (4*dim)    measured response, float32
//
// The serial feed carries the same tick as a text line:
//
//	seq,unix_nanos,x0,...,xN,d0,...,dN
package frames

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// Magic marks the start of every binary measurement frame.
	Magic uint16 = 0x5249

	// Version is the current frame layout version.
	Version uint8 = 1

	// HeaderSize is the fixed prefix before the float payload.
	HeaderSize = 16

	// MaxDim is the largest parameter count the one-byte Dim field carries.
	MaxDim = 255
)

var (
	ErrShortFrame = errors.New("frames: truncated frame")
	ErrBadMagic   = errors.New("frames: bad magic")
	ErrBadVersion = errors.New("frames: unsupported version")
)

// Frame is one measurement tick: the plant state X the controller applied
// and the response D the plant produced, both sized to the parameter count.
type Frame struct {
	Seq       uint32
	UnixNanos int64
	X         []float32
	D         []float32
}

// Dim returns the parameter count of the frame.
func (f *Frame) Dim() int { return len(f.X) }

// EncodedSize returns the byte length of a binary frame for dim parameters.
func EncodedSize(dim int) int { return HeaderSize + 8*dim }

// Marshal encodes f into the binary frame layout.
func Marshal(f *Frame) ([]byte, error) {
	dim := len(f.X)
	if dim == 0 || dim > MaxDim {
		return nil, fmt.Errorf("frames: dimension %d outside 1..%d", dim, MaxDim)
	}
	if len(f.D) != dim {
		return nil, fmt.Errorf("frames: state has %d entries but response has %d", dim, len(f.D))
	}

	buf := make([]byte, EncodedSize(dim))
	binary.LittleEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	buf[3] = uint8(dim)
	binary.LittleEndian.PutUint32(buf[4:8], f.Seq)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(f.UnixNanos))
	for i, v := range f.X {
		binary.LittleEndian.PutUint32(buf[HeaderSize+4*i:], math.Float32bits(v))
	}
	off := HeaderSize + 4*dim
	for i, v := range f.D {
		binary.LittleEndian.PutUint32(buf[off+4*i:], math.Float32bits(v))
	}
	return buf, nil
}

// Unmarshal decodes one binary frame. The input must hold exactly one frame.
func Unmarshal(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortFrame
	}
	if binary.LittleEndian.Uint16(data[0:2]) != Magic {
		return nil, ErrBadMagic
	}
	if data[2] != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, data[2])
	}
	dim := int(data[3])
	if dim == 0 {
		return nil, fmt.Errorf("frames: zero dimension")
	}
	if len(data) != EncodedSize(dim) {
		return nil, fmt.Errorf("%w: %d bytes for dimension %d, want %d",
			ErrShortFrame, len(data), dim, EncodedSize(dim))
	}

	f := &Frame{
		Seq:       binary.LittleEndian.Uint32(data[4:8]),
		UnixNanos: int64(binary.LittleEndian.Uint64(data[8:16])),
		X:         make([]float32, dim),
		D:         make([]float32, dim),
	}
	for i := range f.X {
		f.X[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[HeaderSize+4*i:]))
	}
	off := HeaderSize + 4*dim
	for i := range f.D {
		f.D[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off+4*i:]))
	}
	return f, nil
}

// MarshalCSV renders f as a serial feed line without a trailing newline.
func MarshalCSV(f *Frame) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(f.Seq), 10))
	b.WriteByte(',')
	b.WriteString(strconv.FormatInt(f.UnixNanos, 10))
	for _, v := range f.X {
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	for _, v := range f.D {
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	return b.String()
}

// ParseCSV parses one serial feed line. The line carries seq, capture nanos
// and an even number of float fields split between X and D.
func ParseCSV(line string) (*Frame, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < 4 {
		return nil, fmt.Errorf("frames: line has %d fields, want at least 4", len(fields))
	}
	if (len(fields)-2)%2 != 0 {
		return nil, fmt.Errorf("frames: line has %d value fields, want an even count", len(fields)-2)
	}

	seq, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("frames: bad seq %q: %w", fields[0], err)
	}
	nanos, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("frames: bad timestamp %q: %w", fields[1], err)
	}

	dim := (len(fields) - 2) / 2
	if dim > MaxDim {
		return nil, fmt.Errorf("frames: dimension %d outside 1..%d", dim, MaxDim)
	}
	f := &Frame{
		Seq:       uint32(seq),
		UnixNanos: nanos,
		X:         make([]float32, dim),
		D:         make([]float32, dim),
	}
	for i := 0; i < dim; i++ {
		v, err := strconv.ParseFloat(fields[2+i], 32)
		if err != nil {
			return nil, fmt.Errorf("frames: bad state value %q: %w", fields[2+i], err)
		}
		f.X[i] = float32(v)
	}
	for i := 0; i < dim; i++ {
		v, err := strconv.ParseFloat(fields[2+dim+i], 32)
		if err != nil {
			return nil, fmt.Errorf("frames: bad response value %q: %w", fields[2+dim+i], err)
		}
		f.D[i] = float32(v)
	}
	return f, nil
}
