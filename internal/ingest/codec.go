package ingest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/gridmap/internal/mapping"
)

/*
Observation packet wire format (version 1)

Scan packets carry a robot pose and a batch of observation endpoints from a
sensor frontend to the mapper over UDP. All multi-byte fields are
little-endian.

PACKET STRUCTURE (55-byte header + 17 bytes per point):
├── Magic "OGRD" (4 bytes)
├── Version (1 byte) - currently 1
├── Session UUID (16 bytes)
├── Pose X, Y, heading (3 × 8-byte float64)
├── Timestamp (8-byte int64, Unix nanoseconds)
├── Point count (2-byte uint16, little-endian)
└── Points - count × (8-byte x + 8-byte y + 1-byte hit flag)

A hit flag of 1 marks a solid return at (x, y); 0 marks a miss observation
whose endpoint is the sensor's max-range point along the ray. Packets with
bad magic, wrong version, truncated bodies, oversized counts or non-finite
floats are rejected by DecodeScanPacket with a descriptive error.
*/

// Observation packet structure constants. These define the fixed wire
// format of scan packets accepted by the UDP listener.
const (
	PACKET_MAGIC   = "OGRD" // First four bytes of every observation packet
	PACKET_VERSION = 1      // Current wire format version

	HEADER_SIZE     = 55 // Magic + version + session UUID + pose + timestamp + count
	BYTES_PER_POINT = 17 // Point record: 8-byte x + 8-byte y + 1-byte hit flag

	MAX_POINTS_PER_PACKET = 256 // Most points a single packet may carry

	// MAX_PACKET_SIZE is the largest well-formed packet: 4407 bytes.
	MAX_PACKET_SIZE = HEADER_SIZE + MAX_POINTS_PER_PACKET*BYTES_PER_POINT

	DEFAULT_UDP_PORT = 2468 // Port scan packets arrive on unless overridden
)

// Header field offsets within a packet.
const (
	offMagic   = 0
	offVersion = 4
	offSession = 5
	offPoseX   = 21
	offPoseY   = 29
	offHeading = 37
	offTime    = 45
	offCount   = 53
)

// EncodeScanPacket serializes a scan into the version 1 wire format.
// Scans with more than MAX_POINTS_PER_PACKET points must be split by the
// caller; non-finite pose or point coordinates are rejected.
func EncodeScanPacket(scan *mapping.Scan) ([]byte, error) {
	if scan == nil {
		return nil, fmt.Errorf("nil scan")
	}
	if len(scan.Points) > MAX_POINTS_PER_PACKET {
		return nil, fmt.Errorf("too many points for one packet: %d > %d", len(scan.Points), MAX_POINTS_PER_PACKET)
	}
	if !isFinite(scan.Pose.X) || !isFinite(scan.Pose.Y) || !isFinite(scan.Pose.HeadingRad) {
		return nil, fmt.Errorf("non-finite pose (%v, %v, %v)", scan.Pose.X, scan.Pose.Y, scan.Pose.HeadingRad)
	}

	buf := make([]byte, HEADER_SIZE+len(scan.Points)*BYTES_PER_POINT)
	copy(buf[offMagic:offMagic+4], PACKET_MAGIC)
	buf[offVersion] = PACKET_VERSION
	copy(buf[offSession:offSession+16], scan.SessionID[:])
	binary.LittleEndian.PutUint64(buf[offPoseX:], math.Float64bits(scan.Pose.X))
	binary.LittleEndian.PutUint64(buf[offPoseY:], math.Float64bits(scan.Pose.Y))
	binary.LittleEndian.PutUint64(buf[offHeading:], math.Float64bits(scan.Pose.HeadingRad))
	binary.LittleEndian.PutUint64(buf[offTime:], uint64(scan.Pose.Time.UnixNano()))
	binary.LittleEndian.PutUint16(buf[offCount:], uint16(len(scan.Points)))

	offset := HEADER_SIZE
	for i, p := range scan.Points {
		if !isFinite(p.X) || !isFinite(p.Y) {
			return nil, fmt.Errorf("non-finite point %d (%v, %v)", i, p.X, p.Y)
		}
		binary.LittleEndian.PutUint64(buf[offset:], math.Float64bits(p.X))
		binary.LittleEndian.PutUint64(buf[offset+8:], math.Float64bits(p.Y))
		if p.Hit {
			buf[offset+16] = 1
		}
		offset += BYTES_PER_POINT
	}

	return buf, nil
}

// DecodeScanPacket parses an observation packet into a scan. The packet
// length must match the header's point count exactly.
func DecodeScanPacket(data []byte) (*mapping.Scan, error) {
	if len(data) < HEADER_SIZE {
		return nil, fmt.Errorf("packet too short: need at least %d bytes, have %d", HEADER_SIZE, len(data))
	}
	if !bytes.Equal(data[offMagic:offMagic+4], []byte(PACKET_MAGIC)) {
		return nil, fmt.Errorf("invalid packet magic: expected %q, got %q", PACKET_MAGIC, data[offMagic:offMagic+4])
	}
	if data[offVersion] != PACKET_VERSION {
		return nil, fmt.Errorf("unsupported packet version %d", data[offVersion])
	}

	count := int(binary.LittleEndian.Uint16(data[offCount:]))
	if count > MAX_POINTS_PER_PACKET {
		return nil, fmt.Errorf("point count %d exceeds packet maximum %d", count, MAX_POINTS_PER_PACKET)
	}
	if want := HEADER_SIZE + count*BYTES_PER_POINT; len(data) != want {
		return nil, fmt.Errorf("invalid packet size: expected %d bytes for %d points, got %d", want, count, len(data))
	}

	scan := &mapping.Scan{}
	copy(scan.SessionID[:], data[offSession:offSession+16])
	scan.Pose.X = math.Float64frombits(binary.LittleEndian.Uint64(data[offPoseX:]))
	scan.Pose.Y = math.Float64frombits(binary.LittleEndian.Uint64(data[offPoseY:]))
	scan.Pose.HeadingRad = math.Float64frombits(binary.LittleEndian.Uint64(data[offHeading:]))
	scan.Pose.Time = time.Unix(0, int64(binary.LittleEndian.Uint64(data[offTime:])))
	if !isFinite(scan.Pose.X) || !isFinite(scan.Pose.Y) || !isFinite(scan.Pose.HeadingRad) {
		return nil, fmt.Errorf("non-finite pose in packet")
	}

	scan.Points = make([]mapping.Observation, 0, count)
	offset := HEADER_SIZE
	for i := 0; i < count; i++ {
		x := math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
		y := math.Float64frombits(binary.LittleEndian.Uint64(data[offset+8:]))
		if !isFinite(x) || !isFinite(y) {
			return nil, fmt.Errorf("non-finite point %d in packet", i)
		}

		var hit bool
		switch data[offset+16] {
		case 0:
		case 1:
			hit = true
		default:
			return nil, fmt.Errorf("invalid hit flag 0x%02X in point %d", data[offset+16], i)
		}

		scan.Points = append(scan.Points, mapping.Observation{X: x, Y: y, Hit: hit})
		offset += BYTES_PER_POINT
	}

	return scan, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
