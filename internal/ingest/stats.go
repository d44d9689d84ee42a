package ingest

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// PacketStatsInterface is the statistics surface the listener reports
// into. The production implementation is PacketStats; tests substitute
// mocks and the listener falls back to a no-op when none is configured.
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddDropped()
	AddPoints(count int)
	LogStats()
}

// PacketStats accumulates observation traffic counters between periodic
// log reports. All methods are safe for concurrent use.
type PacketStats struct {
	mu             sync.Mutex
	packetCount    int64
	byteCount      int64
	droppedCount   int64
	pointCount     int64
	lastReset      time.Time
	startTime      time.Time
	latestSnapshot *StatsSnapshot
}

// StatsSnapshot holds the rates computed at the most recent LogStats call,
// for display on the web monitor between log intervals.
type StatsSnapshot struct {
	PacketsPerSec  float64   `json:"packets_per_sec"`
	KBPerSec       float64   `json:"kb_per_sec"`
	PointsPerSec   float64   `json:"points_per_sec"`
	MalformedCount int64     `json:"malformed_count"`
	Timestamp      time.Time `json:"timestamp"`
}

var _ PacketStatsInterface = (*PacketStats)(nil)

func NewPacketStats() *PacketStats {
	now := time.Now()
	return &PacketStats{lastReset: now, startTime: now}
}

// AddPacket records one received packet of the given size.
func (ps *PacketStats) AddPacket(bytes int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packetCount++
	ps.byteCount += int64(bytes)
}

// AddDropped records a packet that failed to decode.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.droppedCount++
}

// AddPoints records observation points recovered from decoded packets.
func (ps *PacketStats) AddPoints(count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pointCount += int64(count)
}

// GetAndReset returns the counters accumulated since the last reset along
// with the elapsed interval, then zeroes them.
func (ps *PacketStats) GetAndReset() (packets, bytes, dropped, points int64, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ps.lastReset)
	packets = ps.packetCount
	bytes = ps.byteCount
	dropped = ps.droppedCount
	points = ps.pointCount

	ps.packetCount = 0
	ps.byteCount = 0
	ps.droppedCount = 0
	ps.pointCount = 0
	ps.lastReset = now

	return packets, bytes, dropped, points, duration
}

// LogStats reports per-second traffic rates since the previous call and
// resets the counters. The computed rates are also stored as the latest
// snapshot for the web monitor. Quiet intervals are not logged.
func (ps *PacketStats) LogStats() {
	packets, bytes, dropped, points, duration := ps.GetAndReset()

	packetsPerSec := float64(packets) / duration.Seconds()
	kbPerSec := float64(bytes) / duration.Seconds() / 1024
	pointsPerSec := float64(points) / duration.Seconds()

	ps.mu.Lock()
	ps.latestSnapshot = &StatsSnapshot{
		PacketsPerSec:  packetsPerSec,
		KBPerSec:       kbPerSec,
		PointsPerSec:   pointsPerSec,
		MalformedCount: dropped,
		Timestamp:      time.Now(),
	}
	ps.mu.Unlock()

	if packets > 0 || dropped > 0 {
		logMsg := fmt.Sprintf("Observation stats (/sec): %.1f KB, %.1f packets, %s points",
			kbPerSec, packetsPerSec, FormatWithCommas(int64(pointsPerSec)))
		if dropped > 0 {
			logMsg += fmt.Sprintf(", %d malformed", dropped)
		}
		log.Print(logMsg)
	}
}

// GetUptime returns the time elapsed since the stats were created.
func (ps *PacketStats) GetUptime() time.Duration {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return time.Since(ps.startTime)
}

// GetLatestSnapshot returns a copy of the most recent snapshot, or nil
// when LogStats has not run yet.
func (ps *PacketStats) GetLatestSnapshot() *StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.latestSnapshot == nil {
		return nil
	}
	snap := *ps.latestSnapshot
	return &snap
}

// FormatWithCommas renders n with thousands separators, e.g. 1234567
// becomes "1,234,567".
func FormatWithCommas(n int64) string {
	if n < 0 {
		return "-" + FormatWithCommas(-n)
	}

	str := fmt.Sprintf("%d", n)
	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
