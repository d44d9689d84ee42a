//go:build pcap
// +build pcap

// Command scan-replay resends captured observation traffic to a mapper,
// pacing packets by their original capture timing. Requires building with
// -tags=pcap.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/gridmap/internal/ingest"
)

var (
	pcapFile = flag.String("pcap", "", "capture file to replay (required)")
	addr     = flag.String("addr", "127.0.0.1:2468", "mapper UDP address")
	port     = flag.Int("port", ingest.DEFAULT_UDP_PORT, "scan packet port in the capture")
	speed    = flag.Float64("speed", 1.0, "replay speed multiplier (1.0 = original timing)")
	loop     = flag.Bool("loop", false, "restart the capture when it ends")
)

func main() {
	flag.Parse()

	if *pcapFile == "" {
		log.Fatal("-pcap flag is required")
	}
	if *speed <= 0 {
		log.Fatal("-speed must be positive")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", *addr)
	if err != nil {
		log.Fatalf("Bad UDP address %s: %v", *addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		log.Fatalf("Failed to dial %s: %v", *addr, err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		packets, scans, err := replayOnce(ctx, conn)
		if err == context.Canceled {
			log.Printf("Replay stopped: %d packets sent", packets)
			return
		}
		if err != nil {
			log.Fatalf("Replay failed: %v", err)
		}
		log.Printf("✓ Replayed %d packets (%d scans) from %s", packets, scans, *pcapFile)
		if !*loop {
			return
		}
	}
}

// replayOnce sends one pass of the capture, spacing packets by their
// capture timestamps divided by the speed multiplier.
func replayOnce(ctx context.Context, conn *net.UDPConn) (packets, scans int, err error) {
	handle, err := pcap.OpenOffline(*pcapFile)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open PCAP file %s: %w", *pcapFile, err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("udp port %d", *port)
	if err := handle.SetBPFFilter(filter); err != nil {
		return 0, 0, fmt.Errorf("failed to set BPF filter %q: %w", filter, err)
	}
	log.Printf("Replaying %s to %s (filter: %s, speed: %.1fx)", *pcapFile, *addr, filter, *speed)

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	var lastCapture time.Time
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return packets, scans, ctx.Err()
		case packet, ok := <-source.Packets():
			if !ok || packet == nil {
				log.Printf("Capture finished: %d packets in %v", packets, time.Since(start))
				return packets, scans, nil
			}

			captureTime := packet.Metadata().Timestamp
			if !lastCapture.IsZero() {
				delay := time.Duration(float64(captureTime.Sub(lastCapture)) / *speed)
				if delay > 0 {
					select {
					case <-ctx.Done():
						return packets, scans, ctx.Err()
					case <-time.After(delay):
					}
				}
			}
			lastCapture = captureTime

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}

			if _, err := conn.Write(udp.Payload); err != nil {
				return packets, scans, fmt.Errorf("send failed after %d packets: %w", packets, err)
			}
			packets++
			// Count well-formed scan packets for the summary; the payload
			// is forwarded either way.
			if _, err := ingest.DecodeScanPacket(udp.Payload); err == nil {
				scans++
			}

			if packets%1000 == 0 {
				log.Printf("Replayed %d packets (%d scans)...", packets, scans)
			}
		}
	}
}
