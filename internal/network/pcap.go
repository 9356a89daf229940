//go:build pcap
// +build pcap

package network

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/kestrel-controls/plantid/internal/frames"
)

// ReplayConfig configures PCAP replay behavior.
type ReplayConfig struct {
	// UDPPort filters the capture to measurement traffic on one port.
	UDPPort int

	// SpeedMultiplier controls replay pacing (1.0 = real-time, 2.0 = 2x
	// speed, 0 = as fast as possible).
	SpeedMultiplier float64

	// Stats receives packet accounting (optional).
	Stats FrameStatsInterface
}

// ReplayPcap reads a capture file and replays its measurement frames,
// pacing by the original capture timestamps scaled by the speed multiplier.
// Each UDP payload on the filtered port is decoded as one binary frame and
// handed to fn; undecodable payloads are counted as dropped and skipped.
func ReplayPcap(ctx context.Context, pcapFile string, config ReplayConfig, fn func(*frames.Frame)) error {
	stats := config.Stats
	if stats == nil {
		stats = &noopStats{}
	}

	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filterStr := fmt.Sprintf("udp port %d", config.UDPPort)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		return fmt.Errorf("failed to set BPF filter %q: %w", filterStr, err)
	}
	log.Printf("PCAP replay: BPF filter set: %s (speed: %.1fx)", filterStr, config.SpeedMultiplier)

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetCount := 0
	frameCount := 0
	startTime := time.Now()

	var lastPacketTime time.Time

	for {
		select {
		case <-ctx.Done():
			log.Printf("PCAP replay stopping due to context cancellation (processed %d packets)", packetCount)
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				elapsed := time.Since(startTime)
				log.Printf("PCAP replay complete: %d packets, %d frames in %v", packetCount, frameCount, elapsed)
				return nil
			}

			packetCount++

			// Pace by capture timestamps when a speed multiplier is set.
			captureTime := packet.Metadata().Timestamp
			if config.SpeedMultiplier > 0 && !lastPacketTime.IsZero() {
				delay := captureTime.Sub(lastPacketTime)
				scaledDelay := time.Duration(float64(delay) / config.SpeedMultiplier)
				if scaledDelay > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(scaledDelay):
					}
				}
			}
			lastPacketTime = captureTime

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}

			stats.AddPacket(len(udp.Payload))

			frame, err := frames.Unmarshal(udp.Payload)
			if err != nil {
				stats.AddDropped()
				log.Printf("Error decoding PCAP packet %d: %v", packetCount, err)
				continue
			}
			stats.AddFrame()
			frameCount++

			fn(frame)

			if packetCount%10000 == 0 {
				elapsed := time.Since(startTime)
				log.Printf("PCAP replay progress: %d packets in %v (%.0f pkt/s)",
					packetCount, elapsed, float64(packetCount)/elapsed.Seconds())
			}
		}
	}
}
