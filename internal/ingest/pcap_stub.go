//go:build !pcap
// +build !pcap

package ingest

import (
	"context"
	"fmt"
)

// ReplayPCAPFile is a stub for builds without PCAP support.
func ReplayPCAPFile(ctx context.Context, pcapFile string, udpPort int, handler ScanHandler, stats PacketStatsInterface) error {
	return fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap to enable PCAP file replay")
}
