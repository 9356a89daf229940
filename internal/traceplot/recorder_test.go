package traceplot

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordRamp(r *Recorder, n int) {
	for i := 0; i < n; i++ {
		v := float32(i) / float32(n)
		r.Record(int64(i),
			[]float32{v, 2 * v},
			[]float32{1 - v/2, 1 - v/2},
			[]float32{0.1, -0.1})
	}
}

func TestRecorderLifecycle(t *testing.T) {
	r := NewRecorder(2)

	// Disabled recorders drop samples.
	r.Record(0, []float32{1, 2}, nil, nil)
	assert.Zero(t, r.SampleCount())
	assert.False(t, r.IsEnabled())

	dir := t.TempDir()
	require.NoError(t, r.Start(dir))
	assert.True(t, r.IsEnabled())
	assert.Equal(t, dir, r.OutputDir())

	recordRamp(r, 10)
	assert.Equal(t, 10, r.SampleCount())

	r.Stop()
	r.Record(99, []float32{1, 2}, nil, nil)
	assert.Equal(t, 10, r.SampleCount())

	// Start clears the previous trace.
	require.NoError(t, r.Start(t.TempDir()))
	assert.Zero(t, r.SampleCount())
}

func TestRecorderCopiesSlices(t *testing.T) {
	r := NewRecorder(1)
	require.NoError(t, r.Start(t.TempDir()))

	what := []float32{1}
	r.Record(0, what, []float32{0.5}, []float32{0.1})
	what[0] = 99

	samples := r.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, float32(1), samples[0].What[0])
}

func TestWritePlots(t *testing.T) {
	r := NewRecorder(2)
	dir := t.TempDir()
	require.NoError(t, r.Start(dir))
	recordRamp(r, 50)
	r.Stop()

	written, err := r.WritePlots()
	require.NoError(t, err)
	assert.Equal(t, 3, written, "two parameter plots plus the innovation plot")

	for _, name := range []string{"param_00.png", "param_01.png", "innovation.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0), name)
	}
}

func TestWritePlotsEmpty(t *testing.T) {
	r := NewRecorder(1)
	require.NoError(t, r.Start(t.TempDir()))

	written, err := r.WritePlots()
	require.NoError(t, err)
	assert.Zero(t, written)

	_, err = NewRecorder(1).WritePlots()
	assert.ErrorContains(t, err, "no output directory")
}

func TestRenderPNG(t *testing.T) {
	r := NewRecorder(2)
	require.NoError(t, r.Start(t.TempDir()))
	recordRamp(r, 30)

	var buf bytes.Buffer
	require.NoError(t, RenderPNG(&buf, r.Samples()))
	assert.Greater(t, buf.Len(), 100)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, buf.Bytes()[:4])
}

func TestRenderPNGEmpty(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorContains(t, RenderPNG(&buf, nil), "no samples")
}

func TestGenerateColorsDistinct(t *testing.T) {
	colors := generateColors(8)
	require.Len(t, colors, 8)
	seen := map[[4]uint32]bool{}
	for _, c := range colors {
		r, g, b, a := c.RGBA()
		key := [4]uint32{r, g, b, a}
		assert.False(t, seen[key], "palette repeats a color")
		seen[key] = true
	}
	assert.Nil(t, generateColors(0))
}

func TestMakePlotOutputDir(t *testing.T) {
	live := MakePlotOutputDir("plots", "")
	assert.Contains(t, live, filepath.Join("plots", "live_"))

	replay := MakePlotOutputDir("plots", "/captures/bench-3.pcap")
	assert.Contains(t, replay, filepath.Join("plots", "bench-3"))
}
