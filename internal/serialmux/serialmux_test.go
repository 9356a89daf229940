package serialmux

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	id1, ch1 := mux.Subscribe()
	id2, ch2 := mux.Subscribe()
	require.NotEqual(t, id1, id2, "subscriber ids should be unique")
	require.NotNil(t, ch1)
	require.NotNil(t, ch2)

	mux.Unsubscribe(id1)
	_, open := <-ch1
	assert.False(t, open, "unsubscribed channel should be closed")

	// Unsubscribing twice is harmless.
	mux.Unsubscribe(id1)
	mux.Unsubscribe(id2)
}

func TestSendCommandAppendsNewline(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("Q1"))
	assert.Equal(t, "Q1\n", string(port.GetWrittenData()))

	port.WriteBuffer.Reset()
	require.NoError(t, mux.SendCommand("T=123\n"))
	assert.Equal(t, "T=123\n", string(port.GetWrittenData()))
}

func TestSendCommandWriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteError = errors.New("device gone")
	mux := NewSerialMux(port)

	err := mux.SendCommand("Q1")
	assert.Error(t, err)
}

func TestMonitorBroadcastsLines(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	_, ch := mux.Subscribe()

	port.AddReadData([]byte("0,1000,0.5,0.75\n"))

	select {
	case line := <-ch:
		assert.Equal(t, "0,1000,0.5,0.75", line)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast line")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop on context cancel")
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	_, ch := mux.Subscribe()
	require.NoError(t, mux.Close())

	_, open := <-ch
	assert.False(t, open, "subscriber channel should close on mux close")
	assert.True(t, port.Closed)
}

func TestInitializeSendsStartSequence(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.Initialize())

	written := string(port.GetWrittenData())
	assert.True(t, strings.HasPrefix(written, "T="), "first command should sync the clock, got %q", written)
	for _, cmd := range []string{"Q0\n", "FC\n", "R0\n", "Q1\n"} {
		assert.Contains(t, written, cmd)
	}
}
