//go:build pcap
// +build pcap

package ingest

import (
	"context"
	"fmt"
	"log"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// ReplayPCAPFile reads a capture file and feeds every scan packet on
// udpPort through the handler, as fast as decoding allows. Malformed
// payloads are counted as dropped and skipped. Requires building with
// -tags=pcap.
func ReplayPCAPFile(ctx context.Context, pcapFile string, udpPort int, handler ScanHandler, stats PacketStatsInterface) error {
	if handler == nil {
		return fmt.Errorf("scan handler is required")
	}
	if stats == nil {
		stats = noopStats{}
	}

	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file: %w", err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("failed to set BPF filter %q: %w", filter, err)
	}

	log.Printf("Replaying scan packets from %s (filter: %s)", pcapFile, filter)

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetCount := 0
	scanCount := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case packet, ok := <-packetSource.Packets():
			if !ok || packet == nil {
				log.Printf("Finished PCAP replay: %d packets, %d scans applied", packetCount, scanCount)
				return nil
			}

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok {
				continue
			}

			packetCount++
			stats.AddPacket(len(udp.Payload))

			scan, err := DecodeScanPacket(udp.Payload)
			if err != nil {
				stats.AddDropped()
				continue
			}

			if err := handler.ApplyScan(scan); err != nil {
				return fmt.Errorf("failed to apply scan %d: %w", scanCount, err)
			}
			stats.AddPoints(len(scan.Points))
			scanCount++

			if packetCount%10000 == 0 {
				log.Printf("Replayed %d packets (%d scans)...", packetCount, scanCount)
			}
		}
	}
}
