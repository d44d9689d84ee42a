// Package ingest receives observation scan packets over UDP, decodes
// them and hands them to the mapping layer. It also supports replaying
// captured packet traffic from PCAP files when built with -tags=pcap.
package ingest

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/banshee-data/gridmap/internal/mapping"
)

// ScanHandler consumes decoded scans. mapping.MapManager implements it.
type ScanHandler interface {
	ApplyScan(scan *mapping.Scan) error
}

// noopStats is used when no stats sink is configured.
type noopStats struct{}

func (noopStats) AddPacket(bytes int) {}
func (noopStats) AddDropped()         {}
func (noopStats) AddPoints(count int) {}
func (noopStats) LogStats()           {}

// ListenerConfig configures a scan packet listener.
type ListenerConfig struct {
	// Address is the UDP listen address, e.g. ":2468".
	Address string

	// RcvBuf is the kernel receive buffer size in bytes. Zero selects
	// the default of 1 MB.
	RcvBuf int

	// LogInterval controls how often traffic statistics are logged.
	// Zero selects one minute.
	LogInterval time.Duration

	// Stats receives packet counters. Nil disables stats tracking.
	Stats PacketStatsInterface

	// Handler receives every successfully decoded scan.
	Handler ScanHandler

	// SocketFactory creates the listen socket. Nil selects real
	// sockets; tests inject mocks here.
	SocketFactory UDPSocketFactory
}

// Listener reads scan packets from a UDP socket until its context is
// cancelled. Decode failures are counted and logged but never stop the
// receive loop.
type Listener struct {
	address       string
	rcvBuf        int
	logInterval   time.Duration
	stats         PacketStatsInterface
	handler       ScanHandler
	socketFactory UDPSocketFactory
	conn          UDPSocket
}

// NewListener creates a listener from config, applying defaults for any
// zero fields.
func NewListener(config ListenerConfig) (*Listener, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("scan handler is required")
	}

	stats := config.Stats
	if stats == nil {
		stats = noopStats{}
	}

	rcvBuf := config.RcvBuf
	if rcvBuf == 0 {
		rcvBuf = 1024 * 1024
	}

	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}

	socketFactory := config.SocketFactory
	if socketFactory == nil {
		socketFactory = &RealUDPSocketFactory{}
	}

	return &Listener{
		address:       config.Address,
		rcvBuf:        rcvBuf,
		logInterval:   logInterval,
		stats:         stats,
		handler:       config.Handler,
		socketFactory: socketFactory,
	}, nil
}

// Start opens the socket and runs the receive loop until ctx is
// cancelled. It always returns a non-nil error; after cancellation that
// error is ctx.Err().
func (l *Listener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", l.address, err)
	}

	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.address, err)
	}
	l.conn = conn
	defer conn.Close()

	if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
		log.Printf("Warning: failed to set UDP receive buffer to %d bytes: %v", l.rcvBuf, err)
	}

	log.Printf("Scan listener started on %s", conn.LocalAddr())

	go l.startStatsLogging(ctx)

	// Slightly over MAX_PACKET_SIZE; an oversized datagram arrives
	// intact and fails decode with a size error rather than being
	// silently truncated.
	buffer := make([]byte, MAX_PACKET_SIZE+256)

	for {
		select {
		case <-ctx.Done():
			log.Print("Scan listener stopping")
			return ctx.Err()
		default:
			// A short deadline keeps the loop responsive to
			// cancellation.
			if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
				log.Printf("Warning: failed to set read deadline: %v", err)
			}

			n, sender, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("UDP read error: %v", err)
				continue
			}

			if err := l.handlePacket(buffer[:n]); err != nil {
				log.Printf("Error handling packet from %v: %v", sender, err)
			}
		}
	}
}

// handlePacket decodes one datagram and applies it. Malformed packets
// are counted as dropped, not returned as errors.
func (l *Listener) handlePacket(data []byte) error {
	l.stats.AddPacket(len(data))

	scan, err := DecodeScanPacket(data)
	if err != nil {
		l.stats.AddDropped()
		return nil
	}

	if err := l.handler.ApplyScan(scan); err != nil {
		return fmt.Errorf("failed to apply scan: %w", err)
	}

	l.stats.AddPoints(len(scan.Points))
	return nil
}

// startStatsLogging periodically reports traffic statistics until ctx is
// cancelled.
func (l *Listener) startStatsLogging(ctx context.Context) {
	// First report arrives quickly to confirm traffic is flowing.
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		l.stats.LogStats()
	}

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

// Close shuts the socket down, unblocking any in-flight read.
func (l *Listener) Close() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
