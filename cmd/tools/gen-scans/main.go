// Command gen-scans emits synthetic scans of a rectangular room over UDP,
// for exercising a mapper without sensor hardware.
package main

import (
	"flag"
	"log"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/gridmap/internal/ingest"
	"github.com/banshee-data/gridmap/internal/mapping"
)

var (
	addr     = flag.String("addr", "127.0.0.1:2468", "mapper UDP address")
	count    = flag.Int("n", 600, "number of scans to send")
	rate     = flag.Float64("rate", 10, "scans per second")
	rays     = flag.Int("rays", 180, "rays per scan")
	roomW    = flag.Float64("room-w", 20, "room width in metres")
	roomH    = flag.Float64("room-h", 15, "room height in metres")
	noise    = flag.Float64("noise", 0.05, "range noise sigma in metres")
	maxRange = flag.Float64("range", 30, "sensor max range in metres")
	seed     = flag.Int64("seed", 0, "random seed (time-based when 0)")
)

func main() {
	flag.Parse()

	if *rate <= 0 {
		log.Fatal("rate must be positive")
	}
	if *rays < 1 || *rays > ingest.MAX_POINTS_PER_PACKET {
		log.Fatalf("rays must be between 1 and %d", ingest.MAX_POINTS_PER_PACKET)
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

	gen := newScanGenerator(*roomW, *roomH, *rays, *maxRange, *noise, *seed)
	log.Printf("Sending %d scans of a %gx%gm room to %s at %g/s (session %s)",
		*count, *roomW, *roomH, *addr, *rate, gen.sessionID)

	interval := time.Duration(float64(time.Second) / *rate)
	sent := 0
	for i := 0; i < *count; i++ {
		packet, err := ingest.EncodeScanPacket(gen.NextScan())
		if err != nil {
			log.Fatalf("Failed to encode scan: %v", err)
		}
		if _, err := conn.Write(packet); err != nil {
			log.Printf("Send failed: %v", err)
		} else {
			sent++
		}
		time.Sleep(interval)
		if (i+1)%50 == 0 {
			log.Printf("%d/%d scans", i+1, *count)
		}
	}
	log.Printf("✓ Sent %d/%d scans (session %s)", sent, *count, gen.sessionID)
}

// scanGenerator walks a sensor around a circular track inside a
// rectangular room and sweeps the walls each scan.
type scanGenerator struct {
	sessionID uuid.UUID
	roomW     float64
	roomH     float64
	rays      int
	maxRange  float64
	noise     float64

	angle float64
	rng   *rand.Rand
}

func newScanGenerator(roomW, roomH float64, rays int, maxRange, noise float64, seed int64) *scanGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &scanGenerator{
		sessionID: uuid.New(),
		roomW:     roomW,
		roomH:     roomH,
		rays:      rays,
		maxRange:  maxRange,
		noise:     noise,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// NextScan advances the sensor along its track and returns the wall
// returns a full sweep would see from there. Rays that reach a wall
// within range become hits with gaussian range noise; the rest are
// max-range misses.
func (g *scanGenerator) NextScan() *mapping.Scan {
	cx, cy := g.roomW/2, g.roomH/2
	trackRadius := math.Min(g.roomW, g.roomH) / 4

	// Full lap every 200 scans.
	g.angle += 2 * math.Pi / 200
	pose := mapping.Pose{
		X:          cx + trackRadius*math.Cos(g.angle),
		Y:          cy + trackRadius*math.Sin(g.angle),
		HeadingRad: g.angle + math.Pi/2,
		Time:       time.Now(),
	}

	scan := &mapping.Scan{
		SessionID: g.sessionID,
		Pose:      pose,
		Points:    make([]mapping.Observation, 0, g.rays),
	}
	for i := 0; i < g.rays; i++ {
		bearing := 2 * math.Pi * float64(i) / float64(g.rays)
		dist := g.wallDistance(pose.X, pose.Y, bearing)
		if dist > g.maxRange {
			scan.Points = append(scan.Points, mapping.Observation{
				X:   pose.X + g.maxRange*math.Cos(bearing),
				Y:   pose.Y + g.maxRange*math.Sin(bearing),
				Hit: false,
			})
			continue
		}
		dist += g.rng.NormFloat64() * g.noise
		scan.Points = append(scan.Points, mapping.Observation{
			X:   pose.X + dist*math.Cos(bearing),
			Y:   pose.Y + dist*math.Sin(bearing),
			Hit: true,
		})
	}
	return scan
}

// wallDistance returns the range from (x, y) along bearing to the nearest
// wall of the axis-aligned room rectangle (0,0)-(roomW,roomH).
func (g *scanGenerator) wallDistance(x, y, bearing float64) float64 {
	dx, dy := math.Cos(bearing), math.Sin(bearing)
	best := math.Inf(1)
	if dx > 0 {
		best = math.Min(best, (g.roomW-x)/dx)
	} else if dx < 0 {
		best = math.Min(best, -x/dx)
	}
	if dy > 0 {
		best = math.Min(best, (g.roomH-y)/dy)
	} else if dy < 0 {
		best = math.Min(best, -y/dy)
	}
	return best
}
