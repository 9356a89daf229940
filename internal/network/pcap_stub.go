//go:build !pcap
// +build !pcap

package network

import (
	"context"
	"fmt"

	"github.com/kestrel-controls/plantid/internal/frames"
)

// ReplayConfig is a stub when pcap is not available.
type ReplayConfig struct {
	UDPPort         int
	SpeedMultiplier float64
	Stats           FrameStatsInterface
}

// ReplayPcap is a stub that returns an error when pcap support is not compiled in.
func ReplayPcap(ctx context.Context, pcapFile string, config ReplayConfig, fn func(*frames.Frame)) error {
	return fmt.Errorf("PCAP replay support not compiled in (requires pcap build tag)")
}
