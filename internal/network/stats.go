package network

import (
	"sync"

	"github.com/kestrel-controls/plantid/internal/monitoring"
)

// FrameStats counts packets, decoded frames and drops for the UDP listener
// and the pcap replayer. Counters are cumulative; LogStats reports the delta
// since the previous report.
type FrameStats struct {
	mu sync.Mutex

	packets int64
	bytes   int64
	frames  int64
	dropped int64

	lastPackets int64
	lastFrames  int64
	lastDropped int64
}

// NewFrameStats creates an empty stats collector.
func NewFrameStats() *FrameStats {
	return &FrameStats{}
}

func (s *FrameStats) AddPacket(n int) {
	s.mu.Lock()
	s.packets++
	s.bytes += int64(n)
	s.mu.Unlock()
}

func (s *FrameStats) AddFrame() {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

func (s *FrameStats) AddDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

// Snapshot returns the cumulative totals.
func (s *FrameStats) Snapshot() (packets, bytes, frames, dropped int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets, s.bytes, s.frames, s.dropped
}

// LogStats reports activity since the previous call.
func (s *FrameStats) LogStats() {
	s.mu.Lock()
	dPackets := s.packets - s.lastPackets
	dFrames := s.frames - s.lastFrames
	dDropped := s.dropped - s.lastDropped
	s.lastPackets = s.packets
	s.lastFrames = s.frames
	s.lastDropped = s.dropped
	totalBytes := s.bytes
	s.mu.Unlock()

	monitoring.Logf("frame stats: %d packets, %d frames, %d dropped (interval); %d bytes total",
		dPackets, dFrames, dDropped, totalBytes)
}
