package serialmux

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-controls/plantid/internal/frames"
)

type recordingHandler struct {
	frames   []*frames.Frame
	controls []string
	frameErr error
}

func (r *recordingHandler) HandleFrame(f *frames.Frame) error {
	if r.frameErr != nil {
		return r.frameErr
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingHandler) HandleControl(event string, fields map[string]any) error {
	r.controls = append(r.controls, event)
	return nil
}

func TestClassifyPayload(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{"12,1700000000000000000,0.5,0.9", EventTypeMeasurement},
		{`{"event":"reset"}`, EventTypeControl},
		{"  {\"event\":\"reset\"}", EventTypeControl},
		{"READY", EventTypeUnknown},
		{"", EventTypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyPayload(tt.payload), "payload %q", tt.payload)
	}
}

func TestHandleEventMeasurement(t *testing.T) {
	h := &recordingHandler{}
	require.NoError(t, HandleEvent(h, "7,1700000000000000000,0.5,0.9"))

	require.Len(t, h.frames, 1)
	assert.Equal(t, uint32(7), h.frames[0].Seq)
	assert.Equal(t, []float32{0.5}, h.frames[0].X)
	assert.Equal(t, []float32{0.9}, h.frames[0].D)
}

func TestHandleEventMalformedMeasurement(t *testing.T) {
	h := &recordingHandler{}
	err := HandleEvent(h, "7,not-a-number,0.5,0.9")
	assert.Error(t, err)
	assert.Empty(t, h.frames)
}

func TestHandleEventControl(t *testing.T) {
	h := &recordingHandler{}
	require.NoError(t, HandleEvent(h, `{"event":"reset"}`))
	assert.Equal(t, []string{"reset"}, h.controls)
}

func TestHandleEventFrameError(t *testing.T) {
	h := &recordingHandler{frameErr: errors.New("tick failed")}
	err := HandleEvent(h, "7,1700000000000000000,0.5,0.9")
	assert.ErrorContains(t, err, "tick failed")
}

func TestHandleEventUnknownIsDropped(t *testing.T) {
	h := &recordingHandler{}
	assert.NoError(t, HandleEvent(h, "BOOT OK"))
	assert.Empty(t, h.frames)
	assert.Empty(t, h.controls)
}
