// Package network receives binary measurement frames over UDP and replays
// recorded captures, feeding the identification session one frame per
// datagram.
package network

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/kestrel-controls/plantid/internal/frames"
)

// FrameStatsInterface provides packet statistics management.
type FrameStatsInterface interface {
	AddPacket(bytes int)
	AddFrame()
	AddDropped()
	LogStats()
}

// noopStats is a FrameStatsInterface implementation that does nothing.
// It is used as a safe default when no stats collector is provided.
type noopStats struct{}

func (n *noopStats) AddPacket(bytes int) {}
func (n *noopStats) AddFrame()           {}
func (n *noopStats) AddDropped()         {}
func (n *noopStats) LogStats()           {}

// UDPListener receives measurement frames from UDP, decoding each datagram
// as one binary frame and handing it to the configured callback.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	onFrame     func(*frames.Frame)
	stats       FrameStatsInterface
	conn        *net.UDPConn
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	OnFrame     func(*frames.Frame)
	Stats       FrameStatsInterface
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	// Provide a no-op stats implementation when none is supplied to avoid
	// nil pointer dereferences in the packet handling and logging paths.
	var stats FrameStatsInterface
	if config.Stats != nil {
		stats = config.Stats
	} else {
		stats = &noopStats{}
	}

	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}

	rcvBuf := config.RcvBuf
	if rcvBuf == 0 {
		rcvBuf = 1 << 16
	}

	return &UDPListener{
		address:     config.Address,
		rcvBuf:      rcvBuf,
		logInterval: logInterval,
		onFrame:     config.OnFrame,
		stats:       stats,
	}
}

// LocalAddr returns the bound address once Start has opened the socket. It
// lets tests bind to port 0 and discover the assigned port.
func (l *UDPListener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start begins listening for UDP packets and decoding them into frames.
// It blocks until the context is cancelled or the socket fails.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.conn = conn
	defer conn.Close()

	if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
		log.Printf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
	}

	log.Printf("UDP listener started on %s with receive buffer %d bytes", conn.LocalAddr(), l.rcvBuf)

	go l.startStatsLogging(ctx)

	// One datagram carries one frame; the largest frame is 16+8*255 bytes.
	buffer := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			log.Print("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
			// Set read deadline to allow checking context cancellation
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

			n, from, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue // Continue on timeout to check context
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("UDP read error: %v", err)
				continue
			}

			if err := l.handlePacket(buffer[:n]); err != nil {
				log.Printf("Error handling packet from %v: %v", from, err)
			}
		}
	}
}

// startStatsLogging periodically logs packet statistics.
func (l *UDPListener) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// handlePacket decodes a single received datagram as one measurement frame.
func (l *UDPListener) handlePacket(packet []byte) error {
	l.stats.AddPacket(len(packet))

	frame, err := frames.Unmarshal(packet)
	if err != nil {
		l.stats.AddDropped()
		return err
	}
	l.stats.AddFrame()

	if l.onFrame != nil {
		l.onFrame(frame)
	}
	return nil
}

// Close closes the UDP listener and releases resources.
func (l *UDPListener) Close() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
