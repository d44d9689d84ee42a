package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/gridmap/internal/config"
	"github.com/banshee-data/gridmap/internal/httputil"
	"github.com/banshee-data/gridmap/internal/ingest"
	"github.com/banshee-data/gridmap/internal/mapdb"
	"github.com/banshee-data/gridmap/internal/mapping"
	"github.com/banshee-data/gridmap/internal/occgrid"
	"github.com/banshee-data/gridmap/internal/posefeed"
)

//go:embed status.html
var StatusHTML embed.FS

// PoseSource is the subset of the pose feed the monitor reports on.
type PoseSource interface {
	Stats() posefeed.FeedStats
	AttachAdminRoutes(mux *http.ServeMux)
}

// WebServer handles the HTTP interface for monitoring the mapper.
// It provides endpoints for health checks, map statistics, snapshot and
// recenter triggers, GeoJSON export, and debug charts.
type WebServer struct {
	address  string
	stats    *ingest.PacketStats
	manager  *mapping.MapManager
	db       *mapdb.MapDB
	poseFeed PoseSource
	udpPort  int
	server   *http.Server
	coverage *CoverageSampler
}

// WebServerConfig contains configuration options for the web server
type WebServerConfig struct {
	Address  string
	Stats    *ingest.PacketStats
	Manager  *mapping.MapManager
	DB       *mapdb.MapDB
	PoseFeed PoseSource
	UDPPort  int
	// CoverageInterval is how often grid coverage is sampled for the
	// coverage plot. Zero uses the default.
	CoverageInterval time.Duration
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(cfg WebServerConfig) *WebServer {
	ws := &WebServer{
		address:  cfg.Address,
		stats:    cfg.Stats,
		manager:  cfg.Manager,
		db:       cfg.DB,
		poseFeed: cfg.PoseFeed,
		udpPort:  cfg.UDPPort,
		coverage: NewCoverageSampler(cfg.Manager, cfg.CoverageInterval),
	}

	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}

	return ws
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown
func (ws *WebServer) Start(ctx context.Context) error {
	go ws.coverage.Run(ctx)

	// Start server in a goroutine so it doesn't block
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	// Create a shutdown context with a shorter timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		// Force close the server if graceful shutdown fails
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/map/stats", ws.handleMapStats)
	mux.HandleFunc("/api/map/snapshot", ws.handleMapSnapshot)
	mux.HandleFunc("/api/map/snapshots", ws.handleMapSnapshots)
	mux.HandleFunc("/api/map/recenter", ws.handleMapRecenter)
	mux.HandleFunc("/api/map/params", ws.handleMapParams)
	mux.HandleFunc("/api/map/geojson", ws.handleMapGeoJSON)
	mux.HandleFunc("/api/poses/recent", ws.handleRecentPoses)
	mux.HandleFunc("/debug/charts/occupancy", ws.handleOccupancyChart)
	mux.HandleFunc("/debug/charts/logodds", ws.handleLogOddsChart)
	mux.HandleFunc("/debug/plots/coverage.png", ws.handleCoveragePlot)

	if ws.db != nil {
		ws.db.AttachAdminRoutes(mux)
	}
	if ws.poseFeed != nil {
		ws.poseFeed.AttachAdminRoutes(mux)
	}

	return mux
}

// handleHealth handles the health check endpoint
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "gridmap", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

// handleStatus handles the main status page endpoint
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	// Load and parse the HTML template from embedded filesystem
	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	uptime := "n/a"
	var snap *ingest.StatsSnapshot
	if ws.stats != nil {
		uptime = ws.stats.GetUptime().Round(time.Second).String()
		snap = ws.stats.GetLatestSnapshot()
	}

	var mapStatus *mapping.Status
	var occupied, free, unknown, total, occupiedPct, freePct, poseAge string
	if ws.manager != nil {
		s := ws.manager.Status()
		mapStatus = &s
		g := ws.manager.Stats()
		occupied = ingest.FormatWithCommas(int64(g.OccupiedCells))
		free = ingest.FormatWithCommas(int64(g.FreeCells))
		unknown = ingest.FormatWithCommas(int64(g.UnknownCells))
		total = ingest.FormatWithCommas(int64(g.TotalCells))
		occupiedPct = fmt.Sprintf("%.2f%%", g.OccupiedFraction*100)
		freePct = fmt.Sprintf("%.2f%%", g.FreeFraction*100)
		if s.Pose != nil {
			poseAge = time.Since(s.Pose.Time).Round(time.Second).String()
		}
	}

	var feedStats *posefeed.FeedStats
	if ws.poseFeed != nil {
		fs := ws.poseFeed.Stats()
		feedStats = &fs
	}

	// Template data
	data := struct {
		UDPPort     int
		HTTPAddress string
		Uptime      string
		Stats       *ingest.StatsSnapshot
		Map         *mapping.Status
		Occupied    string
		Free        string
		Unknown     string
		Total       string
		OccupiedPct string
		FreePct     string
		PoseAge     string
		FeedStats   *posefeed.FeedStats
	}{
		UDPPort:     ws.udpPort,
		HTTPAddress: ws.address,
		Uptime:      uptime,
		Stats:       snap,
		Map:         mapStatus,
		Occupied:    occupied,
		Free:        free,
		Unknown:     unknown,
		Total:       total,
		OccupiedPct: occupiedPct,
		FreePct:     freePct,
		PoseAge:     poseAge,
		FeedStats:   feedStats,
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleMapStats returns the manager status plus grid occupancy statistics
// as JSON.
func (ws *WebServer) handleMapStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.manager == nil {
		httputil.InternalServerError(w, "no map manager configured")
		return
	}

	summary := map[string]interface{}{
		"map":  ws.manager.Status(),
		"grid": ws.manager.Stats(),
	}
	if ws.stats != nil {
		summary["ingest"] = ws.stats.GetLatestSnapshot()
		summary["uptime_seconds"] = ws.stats.GetUptime().Seconds()
	}
	if ws.poseFeed != nil {
		summary["pose_feed"] = ws.poseFeed.Stats()
	}

	httputil.WriteJSONOK(w, summary)
}

// handleMapSnapshot triggers manual persistence of a map snapshot.
func (ws *WebServer) handleMapSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.manager == nil {
		httputil.InternalServerError(w, "no map manager configured")
		return
	}
	if ws.db == nil {
		httputil.InternalServerError(w, "no database configured for snapshot persist")
		return
	}

	if err := ws.manager.Persist(ws.db, "manual_api"); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("persist error: %v", err))
		return
	}

	resp := map[string]interface{}{
		"status": "ok",
		"map_id": ws.manager.MapID,
	}
	if id := ws.manager.Status().SnapshotID; id != nil {
		resp["snapshot_id"] = *id
	}
	httputil.WriteJSONOK(w, resp)
	log.Printf("Manually persisted snapshot for map '%s'", ws.manager.MapID)
}

// handleMapSnapshots returns a JSON array of the most recent map snapshots
// with their stored cell tallies.
// Query params:
//
//	limit (optional, default 10)
func (ws *WebServer) handleMapSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.db == nil {
		httputil.InternalServerError(w, "no database configured for snapshot lookup")
		return
	}
	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
		if limit <= 0 || limit > 100 {
			limit = 10
		}
	}
	snaps, err := ws.db.ListRecentMapSnapshots(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("get recent snapshots: %v", err))
		return
	}
	type SnapSummary struct {
		SnapshotID    int64  `json:"snapshot_id"`
		SessionID     string `json:"session_id"`
		Taken         string `json:"taken"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		OccupiedCells int    `json:"occupied_cells"`
		FreeCells     int    `json:"free_cells"`
		UnknownCells  int    `json:"unknown_cells"`
		ChangedCells  int    `json:"changed_cells"`
		Reason        string `json:"reason"`
		BlobBytes     int    `json:"blob_bytes"`
	}
	var summaries []SnapSummary
	for _, snap := range snaps {
		summaries = append(summaries, SnapSummary{
			SnapshotID:    snap.ID,
			SessionID:     snap.SessionID,
			Taken:         time.Unix(0, snap.TakenUnixNanos).Format(time.RFC3339Nano),
			Width:         snap.Width,
			Height:        snap.Height,
			OccupiedCells: snap.OccupiedCells,
			FreeCells:     snap.FreeCells,
			UnknownCells:  snap.UnknownCells,
			ChangedCells:  snap.ChangedCells,
			Reason:        snap.Reason,
			BlobBytes:     len(snap.GridBlob),
		})
	}
	httputil.WriteJSONOK(w, summaries)
}

// handleMapRecenter discards the map content and recentres the grid on the
// given world position. Expects POST with form values or query params `x`
// and `y`.
func (ws *WebServer) handleMapRecenter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.manager == nil {
		httputil.InternalServerError(w, "no map manager configured")
		return
	}

	x, err := strconv.ParseFloat(r.FormValue("x"), 64)
	if err != nil {
		httputil.BadRequest(w, "missing or invalid 'x' parameter")
		return
	}
	y, err := strconv.ParseFloat(r.FormValue("y"), 64)
	if err != nil {
		httputil.BadRequest(w, "missing or invalid 'y' parameter")
		return
	}

	ws.manager.Recenter(r2.Vec{X: x, Y: y})

	status := ws.manager.Status()
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":   "ok",
		"map_id":   status.MapID,
		"origin_x": status.OriginX,
		"origin_y": status.OriginY,
	})
}

// handleMapParams reads or updates the runtime map tuning parameters.
// GET returns the current values in the startup config schema. POST accepts
// a partial document in the same schema and applies the sensor factor,
// threshold, and trace fields; grid geometry and interval fields only take
// effect at startup and are ignored here.
func (ws *WebServer) handleMapParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.manager == nil {
		httputil.InternalServerError(w, "no map manager configured")
		return
	}

	if r.Method == http.MethodGet {
		httputil.WriteJSONOK(w, ws.currentParams())
		return
	}

	var body config.TuningConfig
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid params JSON: %v", err))
		return
	}
	if err := body.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := ws.applyRuntimeParams(&body); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	log.Printf("Applied runtime params update for map '%s'", ws.manager.MapID)
	httputil.WriteJSONOK(w, ws.currentParams())
}

// currentParams snapshots the tuning values the monitor can see into the
// startup config schema. Flush and announce intervals belong to components
// the web server has no handle on, so those fields stay unset.
func (ws *WebServer) currentParams() config.TuningConfig {
	hit, miss := ws.manager.SensorFactors()
	occupied, free := ws.manager.Thresholds()
	occupiedProb := occgrid.LogOddsToProb(occupied)
	freeProb := occgrid.LogOddsToProb(free)
	trace := ws.manager.TraceFreeSpace()
	st := ws.manager.Status()

	return config.TuningConfig{
		HitFactor:           &hit,
		MissFactor:          &miss,
		OccupiedProbability: &occupiedProb,
		FreeProbability:     &freeProb,
		ResolutionMeters:    &st.ResolutionMeters,
		WidthCells:          &st.WidthCells,
		HeightCells:         &st.HeightCells,
		MarginCells:         &st.MarginCells,
		TraceFreeSpace:      &trace,
	}
}

// applyRuntimeParams applies the runtime-tunable subset of a partial tuning
// config. Paired fields fall back to the current value for whichever half
// the caller omitted, so a body carrying only hit_factor keeps the present
// miss factor.
func (ws *WebServer) applyRuntimeParams(body *config.TuningConfig) error {
	if body.HitFactor != nil || body.MissFactor != nil {
		hit, miss := ws.manager.SensorFactors()
		if body.HitFactor != nil {
			hit = *body.HitFactor
		}
		if body.MissFactor != nil {
			miss = *body.MissFactor
		}
		if err := ws.manager.SetSensorFactors(hit, miss); err != nil {
			return err
		}
	}

	if body.OccupiedProbability != nil || body.FreeProbability != nil {
		occupied, free := ws.manager.Thresholds()
		if body.OccupiedProbability != nil {
			occupied = occgrid.ProbToLogOdds(*body.OccupiedProbability)
		}
		if body.FreeProbability != nil {
			free = occgrid.ProbToLogOdds(*body.FreeProbability)
		}
		if err := ws.manager.SetThresholds(occupied, free); err != nil {
			return err
		}
	}

	if body.TraceFreeSpace != nil {
		if err := ws.manager.SetTraceFreeSpace(*body.TraceFreeSpace); err != nil {
			return err
		}
	}

	return nil
}

// handleRecentPoses returns the most recent pose log entries for a session.
// Query params:
//
//	session (optional, defaults to the active session)
//	limit (optional, default 100)
func (ws *WebServer) handleRecentPoses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.db == nil {
		httputil.InternalServerError(w, "no database configured for pose lookup")
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		if ws.manager == nil {
			httputil.BadRequest(w, "missing 'session' parameter")
			return
		}
		sessionID = ws.manager.SessionID.String()
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
		if limit <= 0 || limit > 1000 {
			limit = 100
		}
	}

	poses, err := ws.db.RecentPoses(sessionID, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("get recent poses: %v", err))
		return
	}

	httputil.WriteJSONOK(w, poses)
}

// Close shuts down the web server
func (ws *WebServer) Close() error {
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}
