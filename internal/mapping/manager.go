package mapping

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/gridmap/internal/config"
	"github.com/banshee-data/gridmap/internal/monitoring"
	"github.com/banshee-data/gridmap/internal/occgrid"
	"github.com/banshee-data/gridmap/internal/timeutil"
)

// Config assembles everything a MapManager needs besides its identity.
type Config struct {
	Grid   *occgrid.GridConfig
	Sensor *occgrid.SensorConfig

	// TraceFreeSpace walks the ray from the scan pose to every observation
	// and applies misses along it, so an endpoint-only scan stream still
	// carves free space.
	TraceFreeSpace bool
	// MaxTraceCells caps the number of cells a single ray walk may visit.
	MaxTraceCells int

	// Clock is optional; nil uses the real clock. Tests inject a MockClock.
	Clock timeutil.Clock
}

// DefaultConfig returns a Config populated from the canonical tuning
// defaults file. Panics if the file cannot be found.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(tc *config.TuningConfig) Config {
	return Config{
		Grid:           occgrid.GridConfigFromTuning(tc),
		Sensor:         occgrid.SensorConfigFromTuning(tc),
		TraceFreeSpace: tc.GetTraceFreeSpace(),
		MaxTraceCells:  tc.GetMaxTraceCells(),
	}
}

// ExtensionCounts tracks auto-extension events per direction.
type ExtensionCounts struct {
	Top   int64 `json:"top"`
	Left  int64 `json:"left"`
	Down  int64 `json:"down"`
	Right int64 `json:"right"`
}

// Total returns the sum over all four directions.
func (e ExtensionCounts) Total() int64 { return e.Top + e.Left + e.Down + e.Right }

// MapManager owns one occupancy grid and the sensor model that feeds it.
// occgrid types are not safe for concurrent use, so every grid access goes
// through the manager's lock.
type MapManager struct {
	MapID     string
	SessionID uuid.UUID

	clock timeutil.Clock

	mu     sync.RWMutex
	grid   *occgrid.Grid
	sensor *occgrid.SensorModel

	pose     Pose
	havePose bool

	traceFreeSpace bool
	maxTraceCells  int

	startTime        time.Time
	lastScanTime     time.Time
	lastSnapshotTime time.Time
	snapshotID       *int64

	scansApplied   int64
	hitsApplied    int64
	missesApplied  int64
	tracedMisses   int64
	clampedPoints  int64
	recenters      int64
	extensions     ExtensionCounts

	changesSinceSnapshot int
}

// NewMapManager builds a grid centred on start, wires the sensor model, and
// registers the manager under mapID. A zero sessionID gets a fresh UUID.
func NewMapManager(mapID string, sessionID uuid.UUID, cfg Config, start r2.Vec) (*MapManager, error) {
	if mapID == "" {
		return nil, fmt.Errorf("map ID must not be empty")
	}
	if cfg.Grid == nil || cfg.Sensor == nil {
		return nil, fmt.Errorf("map %s: grid and sensor configs are required", mapID)
	}
	grid, err := occgrid.New(cfg.Grid, start)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", mapID, err)
	}
	sensor, err := cfg.Sensor.NewModel()
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", mapID, err)
	}
	if sessionID == uuid.Nil {
		sessionID = uuid.New()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	maxTrace := cfg.MaxTraceCells
	if maxTrace <= 0 {
		// An in-grid ray can cross at most one cell per row plus one per
		// column it spans.
		maxTrace = grid.Width + grid.Height
	}

	m := &MapManager{
		MapID:          mapID,
		SessionID:      sessionID,
		clock:          clock,
		grid:           grid,
		sensor:         sensor,
		traceFreeSpace: cfg.TraceFreeSpace,
		maxTraceCells:  maxTrace,
		startTime:      clock.Now(),
	}
	RegisterMapManager(mapID, m)
	return m, nil
}

// ApplyScan folds one scan into the grid. Observations that resolve outside
// the grid are counted and contribute only the in-grid prefix of their ray;
// their endpoint evidence is dropped rather than smeared onto a border cell.
// After the points are applied the tracked pose moves to the scan pose, and
// the grid auto-extends when that pose sits inside a margin band.
func (m *MapManager) ApplyScan(scan *Scan) error {
	if m == nil || scan == nil {
		return fmt.Errorf("nil manager or scan")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	from := r2.Vec{X: scan.Pose.X, Y: scan.Pose.Y}
	for _, p := range scan.Points {
		to := r2.Vec{X: p.X, Y: p.Y}
		ix, iy, inRange := m.grid.WorldToIndex(to)

		if m.traceFreeSpace {
			n := traceRay(m.grid, from, to, m.maxTraceCells, m.sensor.ApplyMiss)
			m.tracedMisses += int64(n)
			m.changesSinceSnapshot += n
		}

		if !inRange {
			m.clampedPoints++
			continue
		}
		cell, ok := m.grid.At(ix, iy)
		if !ok {
			continue
		}
		if p.Hit {
			m.sensor.ApplyHit(cell)
			m.hitsApplied++
		} else {
			m.sensor.ApplyMiss(cell)
			m.missesApplied++
		}
		m.changesSinceSnapshot++
	}

	m.trackPoseLocked(scan.Pose)
	m.scansApplied++
	m.lastScanTime = m.clock.Now()
	return nil
}

// TrackPose moves the tracked pose without applying observations. The pose
// feed calls this between scans so auto-extension keeps up with motion even
// when the scan stream is sparse.
func (m *MapManager) TrackPose(p Pose) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackPoseLocked(p)
}

func (m *MapManager) trackPoseLocked(p Pose) {
	m.pose = p
	m.havePose = true
	pos := r2.Vec{X: p.X, Y: p.Y}
	if flags := m.grid.MarginFlags(pos); flags != occgrid.DirNone {
		m.grid.Extend(flags)
		m.countExtensionLocked(flags)
		monitoring.Logf("[MapManager] map=%s extended %s; origin now (%.2f, %.2f)",
			m.MapID, flags, m.grid.Origin.X, m.grid.Origin.Y)
	}
}

func (m *MapManager) countExtensionLocked(flags occgrid.Direction) {
	if flags.Has(occgrid.DirTop) {
		m.extensions.Top++
	}
	if flags.Has(occgrid.DirLeft) {
		m.extensions.Left++
	}
	if flags.Has(occgrid.DirDown) {
		m.extensions.Down++
	}
	if flags.Has(occgrid.DirRight) {
		m.extensions.Right++
	}
}

// Recenter discards all map content and recentres the grid on the given
// world position. The operator escape hatch for when the map has drifted
// beyond what incremental extension can follow.
func (m *MapManager) Recenter(center r2.Vec) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grid.Recenter(center)
	m.recenters++
	// Every cell changed; make sure the next flush persists the wipe.
	m.changesSinceSnapshot = len(m.grid.Cells)
	monitoring.Logf("[MapManager] map=%s recentred on (%.2f, %.2f)", m.MapID, center.X, center.Y)
}

// Pose returns the last applied pose and whether one has been seen.
func (m *MapManager) Pose() (Pose, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pose, m.havePose
}

// Snapshot returns a deep copy of the grid taken under the read lock.
// Callers own the copy and may read it without further locking.
func (m *MapManager) Snapshot() *occgrid.Grid {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grid.Clone()
}

// SetSensorFactors reconfigures the sensor model increments at runtime.
func (m *MapManager) SetSensorFactors(hit, miss float64) error {
	if m == nil {
		return fmt.Errorf("map manager nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sensor.SetUpdateFactors(hit, miss)
}

// SetThresholds updates the classification thresholds in log-odds units.
func (m *MapManager) SetThresholds(occupied, free float64) error {
	if m == nil {
		return fmt.Errorf("map manager nil")
	}
	if occupied < free {
		return fmt.Errorf("occupied threshold %f must not be below free threshold %f", occupied, free)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grid.OccupiedThreshold = occupied
	m.grid.FreeThreshold = free
	return nil
}

// SetTraceFreeSpace toggles free-space carving at runtime.
func (m *MapManager) SetTraceFreeSpace(v bool) error {
	if m == nil {
		return fmt.Errorf("map manager nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traceFreeSpace = v
	return nil
}

// SensorFactors returns the current hit and miss factors.
func (m *MapManager) SensorFactors() (hit, miss float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sensor.Factors()
}

// Thresholds returns the current classification thresholds in log-odds units.
func (m *MapManager) Thresholds() (occupied, free float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grid.OccupiedThreshold, m.grid.FreeThreshold
}

// TraceFreeSpace reports whether free-space carving is enabled.
func (m *MapManager) TraceFreeSpace() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.traceFreeSpace
}

// Status is a point-in-time summary of a MapManager for the web monitor and
// the MQTT announcer.
type Status struct {
	MapID     string `json:"map_id"`
	SessionID string `json:"session_id"`

	WidthCells       int     `json:"width_cells"`
	HeightCells      int     `json:"height_cells"`
	ResolutionMeters float64 `json:"resolution_meters"`
	OriginX          float64 `json:"origin_x"`
	OriginY          float64 `json:"origin_y"`
	MarginCells      int     `json:"margin_cells"`

	Pose *Pose `json:"pose,omitempty"`

	ScansApplied   int64           `json:"scans_applied"`
	HitsApplied    int64           `json:"hits_applied"`
	MissesApplied  int64           `json:"misses_applied"`
	TracedMisses   int64           `json:"traced_misses"`
	ClampedPoints  int64           `json:"clamped_points"`
	Recenters      int64           `json:"recenters"`
	Extensions     ExtensionCounts `json:"extensions"`
	TraceFreeSpace bool            `json:"trace_free_space"`

	HitFactor  float64 `json:"hit_factor"`
	MissFactor float64 `json:"miss_factor"`

	ChangesSinceSnapshot  int    `json:"changes_since_snapshot"`
	SnapshotID            *int64 `json:"snapshot_id,omitempty"`
	StartUnixNanos        int64  `json:"start_unix_nanos"`
	LastScanUnixNanos     int64  `json:"last_scan_unix_nanos,omitempty"`
	LastSnapshotUnixNanos int64  `json:"last_snapshot_unix_nanos,omitempty"`
}

// Status summarises the manager under the read lock.
func (m *MapManager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Status{
		MapID:            m.MapID,
		SessionID:        m.SessionID.String(),
		WidthCells:       m.grid.Width,
		HeightCells:      m.grid.Height,
		ResolutionMeters: m.grid.Resolution,
		OriginX:          m.grid.Origin.X,
		OriginY:          m.grid.Origin.Y,
		MarginCells:      m.grid.Margin,

		ScansApplied:   m.scansApplied,
		HitsApplied:    m.hitsApplied,
		MissesApplied:  m.missesApplied,
		TracedMisses:   m.tracedMisses,
		ClampedPoints:  m.clampedPoints,
		Recenters:      m.recenters,
		Extensions:     m.extensions,
		TraceFreeSpace: m.traceFreeSpace,

		ChangesSinceSnapshot: m.changesSinceSnapshot,
		SnapshotID:           m.snapshotID,
		StartUnixNanos:       m.startTime.UnixNano(),
	}
	s.HitFactor, s.MissFactor = m.sensor.Factors()
	if m.havePose {
		p := m.pose
		s.Pose = &p
	}
	if !m.lastScanTime.IsZero() {
		s.LastScanUnixNanos = m.lastScanTime.UnixNano()
	}
	if !m.lastSnapshotTime.IsZero() {
		s.LastSnapshotUnixNanos = m.lastSnapshotTime.UnixNano()
	}
	return s
}

// Stats computes occupancy statistics for the current grid under the read
// lock.
func (m *MapManager) Stats() GridStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ComputeGridStats(m.grid)
}

var (
	mapRegistry   = map[string]*MapManager{}
	mapRegistryMu = &sync.RWMutex{}
)

// RegisterMapManager registers a MapManager under a map ID.
func RegisterMapManager(mapID string, mgr *MapManager) {
	if mapID == "" || mgr == nil {
		return
	}
	mapRegistryMu.Lock()
	defer mapRegistryMu.Unlock()
	mapRegistry[mapID] = mgr
}

// GetMapManager returns a registered manager or nil.
func GetMapManager(mapID string) *MapManager {
	mapRegistryMu.RLock()
	defer mapRegistryMu.RUnlock()
	return mapRegistry[mapID]
}
