// Command mapper runs the occupancy grid mapping daemon: it folds UDP scan
// packets into a probabilistic grid, tracks poses from a serial feed,
// persists snapshots to sqlite and serves a monitoring UI over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/gridmap/internal/announce"
	"github.com/banshee-data/gridmap/internal/config"
	"github.com/banshee-data/gridmap/internal/ingest"
	"github.com/banshee-data/gridmap/internal/mapdb"
	"github.com/banshee-data/gridmap/internal/mapping"
	"github.com/banshee-data/gridmap/internal/monitor"
	"github.com/banshee-data/gridmap/internal/posefeed"
	"github.com/banshee-data/gridmap/internal/version"

	"github.com/google/uuid"
)

var (
	listen      = flag.String("listen", ":8081", "HTTP listen address")
	udpPort     = flag.Int("udp-port", 2468, "UDP port for scan packets")
	udpAddress  = flag.String("udp-addr", "", "UDP bind address (all interfaces when empty)")
	dbFile      = flag.String("db", "gridmap_data.db", "Path to the sqlite map database")
	mapID       = flag.String("map-id", "default", "Identifier of the map to build")
	tuningFile  = flag.String("tuning", "", "Path to a tuning config JSON file (built-in defaults when empty)")
	startX      = flag.Float64("start-x", 0, "World X coordinate the grid is initially centred on")
	startY      = flag.Float64("start-y", 0, "World Y coordinate the grid is initially centred on")
	noRestore   = flag.Bool("no-restore", false, "Start with a fresh grid instead of restoring the latest snapshot")
	pcapFile    = flag.String("pcap", "", "Replay scan packets from a pcap file instead of listening on UDP")
	posePort    = flag.String("pose-port", "", "Serial port carrying pose sentences (pose tracking disabled when empty)")
	poseBaud    = flag.Int("pose-baud", 115200, "Baud rate for the pose serial port")
	mockPoses   = flag.Bool("mock-poses", false, "Drive the pose tracker with a synthetic circular track")
	mqttBroker  = flag.String("mqtt-broker", "", "MQTT broker URL for status announcements (disabled when empty)")
	mqttPrefix  = flag.String("mqtt-prefix", "gridmap", "Topic prefix for MQTT announcements")
	rcvBuf      = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	logInterval = flag.Int("log-interval", 2, "Interval in seconds between packet statistics log lines")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

// Synthetic pose track parameters used with -mock-poses.
const (
	mockPoseRadius   = 5.0
	mockPosePeriod   = time.Minute
	mockPoseInterval = 250 * time.Millisecond
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if flag.NArg() > 0 {
		command := flag.Arg(0)
		args := flag.Args()[1:]

		switch command {
		case "migrate":
			runMigrate(args)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
			printUsage()
			os.Exit(1)
		}
		return
	}

	log.Printf("Starting %s", version.String())

	// Build the UDP listen address from the address and port flags
	var udpListenAddr string
	if *udpAddress == "" {
		udpListenAddr = fmt.Sprintf(":%d", *udpPort)
	} else {
		udpListenAddr = fmt.Sprintf("%s:%d", *udpAddress, *udpPort)
	}

	tuning := loadTuning(*tuningFile)

	db, err := mapdb.NewMapDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open map database: %v", err)
	}
	defer db.Close()

	if err := db.MigrateUp(); err != nil {
		log.Fatalf("Failed to migrate map database: %v", err)
	}

	manager, err := mapping.NewMapManager(*mapID, uuid.Nil, mapping.ConfigFromTuning(tuning), r2.Vec{X: *startX, Y: *startY})
	if err != nil {
		log.Fatalf("Failed to create map manager: %v", err)
	}

	if !*noRestore {
		restored, err := manager.Restore(db)
		if err != nil {
			log.Printf("Failed to restore map snapshot: %v", err)
		} else if restored {
			st := manager.Stats()
			log.Printf("Restored map %q from snapshot (%d occupied, %d free cells)",
				*mapID, st.OccupiedCells, st.FreeCells)
		}
	}

	if err := db.StartSession(manager.SessionID, scanSource(), version.String()); err != nil {
		log.Fatalf("Failed to record mapping session: %v", err)
	}
	log.Printf("Mapping session %s on map %q", manager.SessionID, *mapID)

	stats := ingest.NewPacketStats()

	// Build the scan listener up front so a bad address fails at startup.
	var listener *ingest.Listener
	if *pcapFile == "" {
		listener, err = ingest.NewListener(ingest.ListenerConfig{
			Address:     udpListenAddr,
			RcvBuf:      *rcvBuf,
			LogInterval: time.Duration(*logInterval) * time.Second,
			Stats:       stats,
			Handler:     manager,
		})
		if err != nil {
			log.Fatalf("Failed to create UDP listener: %v", err)
		}
	}

	feed := buildPoseFeed()

	var wg sync.WaitGroup

	// Handle shutdown signals gracefully
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scan intake: live UDP listener or pcap replay
	wg.Add(1)
	go func() {
		defer wg.Done()
		if *pcapFile != "" {
			log.Printf("Replaying scan packets from %s", *pcapFile)
			if err := ingest.ReplayPCAPFile(ctx, *pcapFile, *udpPort, manager, stats); err != nil && err != context.Canceled {
				log.Printf("PCAP replay error: %v", err)
			}
			log.Print("PCAP replay routine terminated")
			return
		}
		log.Printf("Listening for scan packets on UDP %s", udpListenAddr)
		if err := listener.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("UDP listener error: %v", err)
		}
		log.Print("UDP listener routine terminated")
	}()

	if feed != nil {
		defer feed.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.Monitor(ctx); err != nil && err != context.Canceled {
				log.Printf("Pose feed monitor error: %v", err)
			}
			log.Print("Pose monitor routine terminated")
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			onSentence := poseRecorder(db, manager.SessionID, tuning.GetPoseLogInterval())
			if err := posefeed.Pump(ctx, feed, manager, onSentence); err != nil && err != context.Canceled {
				log.Printf("Pose pump error: %v", err)
			}
			log.Print("Pose pump routine terminated")
		}()
	}

	var flusher *mapping.Flusher
	if tuning.GetBackgroundFlush() {
		flusher = mapping.NewFlusher(mapping.FlusherConfig{
			Manager:  manager,
			Store:    db,
			Interval: tuning.GetFlushInterval(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := flusher.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("Snapshot flusher error: %v", err)
			}
			log.Print("Snapshot flusher routine terminated")
		}()
	} else {
		log.Print("Background snapshot flush disabled by tuning config")
	}

	announcer, err := announce.New(manager, announce.Options{
		Broker:   *mqttBroker,
		Prefix:   *mqttPrefix,
		Username: os.Getenv("MQTT_USERNAME"),
		Password: os.Getenv("MQTT_PASSWORD"),
		Interval: tuning.GetStatsPublishInterval(),
	})
	if err != nil {
		log.Fatalf("Failed to create MQTT announcer: %v", err)
	}
	if announcer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := announcer.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("MQTT announcer error: %v", err)
			}
			log.Print("MQTT announcer routine terminated")
		}()
	}

	webServer := monitor.NewWebServer(monitor.WebServerConfig{
		Address:  *listen,
		Stats:    stats,
		Manager:  manager,
		DB:       db,
		PoseFeed: feed,
		UDPPort:  *udpPort,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("Monitor UI listening on %s", *listen)
		if err := webServer.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Web server error: %v", err)
		}
		log.Print("Web server routine terminated")
	}()

	// Wait for all goroutines to complete before exiting
	wg.Wait()

	// The flusher writes a final snapshot on shutdown; only persist here
	// when it was disabled.
	if flusher == nil {
		if err := manager.Persist(db, "shutdown"); err != nil {
			log.Printf("Failed to persist final snapshot: %v", err)
		}
	}

	log.Printf("Graceful shutdown complete")
}

// loadTuning reads the tuning file when one is given, falling back to the
// compiled-in defaults otherwise.
func loadTuning(path string) *config.TuningConfig {
	if path == "" {
		return config.EmptyTuningConfig()
	}
	tuning, err := config.LoadTuningConfig(path)
	if err != nil {
		log.Fatalf("Failed to load tuning config: %v", err)
	}
	log.Printf("Loaded tuning config from %s", path)
	return tuning
}

// scanSource names where this session's scans come from, for the session
// record.
func scanSource() string {
	switch {
	case *pcapFile != "":
		return "pcap"
	case *mockPoses:
		return "mock"
	default:
		return "udp"
	}
}

// buildPoseFeed selects the pose source from flags. A nil return means
// pose tracking is disabled and scans keep their embedded poses.
func buildPoseFeed() posefeed.PoseFeedInterface {
	if *mockPoses {
		log.Print("Using mock pose feed (synthetic circular track)")
		return posefeed.NewMockPoseFeed(mockPoseRadius, mockPosePeriod, mockPoseInterval)
	}
	if *posePort == "" {
		log.Print("Pose feed disabled (set -pose-port or -mock-poses to enable)")
		return nil
	}
	feed, err := posefeed.NewRealPoseFeed(*posePort, posefeed.PortOptions{BaudRate: *poseBaud})
	if err != nil {
		log.Fatalf("Failed to open pose port %s: %v", *posePort, err)
	}
	log.Printf("Reading poses from %s at %d baud", *posePort, *poseBaud)
	return feed
}

// poseRecorder returns a sentence callback that writes pose history rows,
// throttled to at most one row per interval.
func poseRecorder(db *mapdb.MapDB, sessionID uuid.UUID, interval time.Duration) func(*posefeed.PoseSentence) {
	var lastLogged time.Time
	return func(s *posefeed.PoseSentence) {
		if !lastLogged.IsZero() && s.Pose.Time.Sub(lastLogged) < interval {
			return
		}
		lastLogged = s.Pose.Time
		rec := &mapdb.PoseRecord{
			SessionID:  sessionID.String(),
			UnixNanos:  s.Pose.Time.UnixNano(),
			X:          s.Pose.X,
			Y:          s.Pose.Y,
			HeadingRad: s.Pose.HeadingRad,
			Quality:    string(s.Quality),
		}
		if err := db.InsertPose(rec); err != nil {
			log.Printf("Failed to record pose: %v", err)
		}
	}
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "gridmap_data.db", "Path to the sqlite map database")
	fs.Parse(args)

	direction := "up"
	if fs.NArg() > 0 {
		direction = fs.Arg(0)
	}

	db, err := mapdb.NewMapDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open map database: %v", err)
	}
	defer db.Close()

	switch direction {
	case "up":
		if err := db.MigrateUp(); err != nil {
			log.Fatalf("Migrate up failed: %v", err)
		}
	case "down":
		if err := db.MigrateDown(); err != nil {
			log.Fatalf("Migrate down failed: %v", err)
		}
	case "status":
		// handled below
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate direction %q (want up, down or status)\n", direction)
		os.Exit(1)
	}

	status, err := db.MigrateStatus()
	if err != nil {
		log.Fatalf("Failed to read migration status: %v", err)
	}
	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		log.Fatalf("Failed to format migration status: %v", err)
	}
	fmt.Println(string(out))
}

func printUsage() {
	fmt.Println(`Usage:
  mapper [flags]                        run the mapping daemon
  mapper migrate [flags] [up|down|status]
                                        manage the database schema

Run 'mapper -h' or 'mapper migrate -h' for flags.`)
}
