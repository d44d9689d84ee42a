package mapping

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/gridmap/internal/occgrid"
	"github.com/banshee-data/gridmap/internal/timeutil"
)

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

// testConfig returns a small manager config: one-metre cells, 20x20 grid,
// margin 4, tracing off, driven by a mock clock pinned to t=100s.
func testConfig() Config {
	return Config{
		Grid: &occgrid.GridConfig{
			ResolutionMeters:  1.0,
			WidthCells:        20,
			HeightCells:       20,
			MarginCells:       4,
			OccupiedThreshold: 0.85,
			FreeThreshold:     -0.85,
		},
		Sensor:        &occgrid.SensorConfig{HitFactor: 0.9, MissFactor: 0.05},
		MaxTraceCells: 200,
		Clock:         timeutil.NewMockClock(time.Unix(100, 0)),
	}
}

// newTestManager centres the test grid so the origin lands exactly on (0,0):
// cell (ix,iy) covers [ix,ix+1) x [iy,iy+1) in world units.
func newTestManager(t *testing.T, cfg Config) *MapManager {
	t.Helper()
	m, err := NewMapManager(t.Name(), uuid.Nil, cfg, r2.Vec{X: 10, Y: 10})
	if err != nil {
		t.Fatalf("NewMapManager: %v", err)
	}
	return m
}

func TestNewMapManager(t *testing.T) {
	m := newTestManager(t, testConfig())

	if m.SessionID == uuid.Nil {
		t.Error("expected a generated session ID")
	}
	if got := GetMapManager(t.Name()); got != m {
		t.Error("manager not registered under its map ID")
	}

	g := m.Snapshot()
	if g.Width != 20 || g.Height != 20 {
		t.Errorf("grid = %dx%d, want 20x20", g.Width, g.Height)
	}
	if g.Origin.X != 0 || g.Origin.Y != 0 {
		t.Errorf("origin = (%v, %v), want (0, 0)", g.Origin.X, g.Origin.Y)
	}
}

func TestNewMapManager_Errors(t *testing.T) {
	base := testConfig()
	cases := []struct {
		name  string
		mapID string
		cfg   Config
	}{
		{"empty map ID", "", base},
		{"nil grid config", "m", Config{Sensor: base.Sensor}},
		{"nil sensor config", "m", Config{Grid: base.Grid}},
		{"invalid grid", "m", Config{
			Grid:   &occgrid.GridConfig{ResolutionMeters: -1, WidthCells: 20, HeightCells: 20},
			Sensor: base.Sensor,
		}},
		{"invalid sensor", "m", Config{
			Grid:   base.Grid,
			Sensor: &occgrid.SensorConfig{HitFactor: 0.5, MissFactor: 0.9},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewMapManager(tc.mapID, uuid.Nil, tc.cfg, r2.Vec{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestApplyScan_MarksCells(t *testing.T) {
	m := newTestManager(t, testConfig())

	scan := &Scan{
		SessionID: uuid.New(),
		Pose:      Pose{X: 10.5, Y: 10.5, Time: time.Unix(100, 0)},
		Points: []Observation{
			{X: 12.5, Y: 10.5, Hit: true},
			{X: 8.5, Y: 10.5, Hit: false},
		},
	}
	if err := m.ApplyScan(scan); err != nil {
		t.Fatalf("ApplyScan: %v", err)
	}

	g := m.Snapshot()
	hitCell, _ := g.At(12, 10)
	if !approx(hitCell.LogOdds, m.sensor.HitLogOdds(), 1e-12) {
		t.Errorf("hit cell log-odds = %v, want %v", hitCell.LogOdds, m.sensor.HitLogOdds())
	}
	missCell, _ := g.At(8, 10)
	if !approx(missCell.LogOdds, m.sensor.MissLogOdds(), 1e-12) {
		t.Errorf("miss cell log-odds = %v, want %v", missCell.LogOdds, m.sensor.MissLogOdds())
	}

	st := m.Status()
	if st.ScansApplied != 1 || st.HitsApplied != 1 || st.MissesApplied != 1 {
		t.Errorf("counters = scans %d, hits %d, misses %d", st.ScansApplied, st.HitsApplied, st.MissesApplied)
	}
	if st.ChangesSinceSnapshot != 2 {
		t.Errorf("ChangesSinceSnapshot = %d, want 2", st.ChangesSinceSnapshot)
	}
	if st.Pose == nil || st.Pose.X != 10.5 || st.Pose.Y != 10.5 {
		t.Errorf("pose not tracked: %+v", st.Pose)
	}
	if st.LastScanUnixNanos != time.Unix(100, 0).UnixNano() {
		t.Errorf("LastScanUnixNanos = %d", st.LastScanUnixNanos)
	}
}

func TestApplyScan_NilScan(t *testing.T) {
	m := newTestManager(t, testConfig())
	if err := m.ApplyScan(nil); err == nil {
		t.Error("expected error for nil scan")
	}
}

// Test that observations resolving outside the grid are counted and dropped
// instead of being smeared onto a border cell.
func TestApplyScan_OutOfRangePoint(t *testing.T) {
	m := newTestManager(t, testConfig())

	scan := &Scan{
		Pose:   Pose{X: 10.5, Y: 10.5},
		Points: []Observation{{X: 100, Y: 100, Hit: true}},
	}
	if err := m.ApplyScan(scan); err != nil {
		t.Fatalf("ApplyScan: %v", err)
	}

	st := m.Status()
	if st.ClampedPoints != 1 {
		t.Errorf("ClampedPoints = %d, want 1", st.ClampedPoints)
	}
	if st.HitsApplied != 0 {
		t.Errorf("HitsApplied = %d, want 0", st.HitsApplied)
	}
	g := m.Snapshot()
	for i := range g.Cells {
		if g.Cells[i].LogOdds != 0 {
			t.Fatalf("cell %d modified by out-of-range point", i)
		}
	}
}

func TestApplyScan_PoseTriggersExtension(t *testing.T) {
	t.Run("left", func(t *testing.T) {
		m := newTestManager(t, testConfig())
		if err := m.ApplyScan(&Scan{Pose: Pose{X: 2.5, Y: 10.5}}); err != nil {
			t.Fatalf("ApplyScan: %v", err)
		}
		g := m.Snapshot()
		if g.Origin.X != -4 || g.Origin.Y != 0 {
			t.Errorf("origin = (%v, %v), want (-4, 0)", g.Origin.X, g.Origin.Y)
		}
		if g.Width != 20 || g.Height != 20 {
			t.Errorf("dimensions changed to %dx%d", g.Width, g.Height)
		}
		st := m.Status()
		if st.Extensions.Left != 1 || st.Extensions.Total() != 1 {
			t.Errorf("extensions = %+v, want exactly one left", st.Extensions)
		}
	})

	t.Run("right and down", func(t *testing.T) {
		m := newTestManager(t, testConfig())
		if err := m.ApplyScan(&Scan{Pose: Pose{X: 17.5, Y: 2.5}}); err != nil {
			t.Fatalf("ApplyScan: %v", err)
		}
		g := m.Snapshot()
		if g.Origin.X != 4 || g.Origin.Y != -4 {
			t.Errorf("origin = (%v, %v), want (4, -4)", g.Origin.X, g.Origin.Y)
		}
		st := m.Status()
		if st.Extensions.Right != 1 || st.Extensions.Down != 1 || st.Extensions.Total() != 2 {
			t.Errorf("extensions = %+v, want right and down", st.Extensions)
		}
	})

	t.Run("interior pose does not extend", func(t *testing.T) {
		m := newTestManager(t, testConfig())
		if err := m.ApplyScan(&Scan{Pose: Pose{X: 10.5, Y: 10.5}}); err != nil {
			t.Fatalf("ApplyScan: %v", err)
		}
		if st := m.Status(); st.Extensions.Total() != 0 {
			t.Errorf("extensions = %+v, want none", st.Extensions)
		}
	})
}

func TestTrackPose(t *testing.T) {
	m := newTestManager(t, testConfig())

	m.TrackPose(Pose{X: 2.5, Y: 2.5})

	pose, ok := m.Pose()
	if !ok || pose.X != 2.5 || pose.Y != 2.5 {
		t.Errorf("pose = %+v ok=%v", pose, ok)
	}
	g := m.Snapshot()
	if g.Origin.X != -4 || g.Origin.Y != -4 {
		t.Errorf("origin = (%v, %v), want (-4, -4)", g.Origin.X, g.Origin.Y)
	}
	st := m.Status()
	if st.Extensions.Left != 1 || st.Extensions.Down != 1 {
		t.Errorf("extensions = %+v, want left and down", st.Extensions)
	}
	if st.ScansApplied != 0 {
		t.Errorf("ScansApplied = %d, want 0 for pose-only updates", st.ScansApplied)
	}
}

func TestApplyScan_TraceCarvesFreeSpace(t *testing.T) {
	cfg := testConfig()
	cfg.TraceFreeSpace = true
	m := newTestManager(t, cfg)

	scan := &Scan{
		Pose:   Pose{X: 10.5, Y: 10.5},
		Points: []Observation{{X: 15.5, Y: 10.5, Hit: true}},
	}
	if err := m.ApplyScan(scan); err != nil {
		t.Fatalf("ApplyScan: %v", err)
	}

	g := m.Snapshot()
	for x := 10; x < 15; x++ {
		c, _ := g.At(x, 10)
		if !approx(c.LogOdds, m.sensor.MissLogOdds(), 1e-12) {
			t.Errorf("ray cell (%d,10) log-odds = %v, want miss %v", x, c.LogOdds, m.sensor.MissLogOdds())
		}
	}
	end, _ := g.At(15, 10)
	if !approx(end.LogOdds, m.sensor.HitLogOdds(), 1e-12) {
		t.Errorf("endpoint log-odds = %v, want hit %v", end.LogOdds, m.sensor.HitLogOdds())
	}

	st := m.Status()
	if st.TracedMisses != 5 {
		t.Errorf("TracedMisses = %d, want 5", st.TracedMisses)
	}
	if st.ChangesSinceSnapshot != 6 {
		t.Errorf("ChangesSinceSnapshot = %d, want 6", st.ChangesSinceSnapshot)
	}
}

// Test that a ray to an out-of-range endpoint still frees the in-grid cells
// it crosses.
func TestApplyScan_TraceClipsAtGridEdge(t *testing.T) {
	cfg := testConfig()
	cfg.TraceFreeSpace = true
	m := newTestManager(t, cfg)

	scan := &Scan{
		Pose:   Pose{X: 10.5, Y: 10.5},
		Points: []Observation{{X: 25.5, Y: 10.5, Hit: true}},
	}
	if err := m.ApplyScan(scan); err != nil {
		t.Fatalf("ApplyScan: %v", err)
	}

	st := m.Status()
	if st.ClampedPoints != 1 {
		t.Errorf("ClampedPoints = %d, want 1", st.ClampedPoints)
	}
	if st.HitsApplied != 0 {
		t.Errorf("HitsApplied = %d, want 0", st.HitsApplied)
	}
	if st.TracedMisses != 10 {
		t.Errorf("TracedMisses = %d, want 10 (cells 10..19 of row 10)", st.TracedMisses)
	}
	g := m.Snapshot()
	c, _ := g.At(19, 10)
	if !approx(c.LogOdds, m.sensor.MissLogOdds(), 1e-12) {
		t.Errorf("border cell log-odds = %v, want miss", c.LogOdds)
	}
}

func TestRecenter(t *testing.T) {
	m := newTestManager(t, testConfig())
	if err := m.ApplyScan(&Scan{
		Pose:   Pose{X: 10.5, Y: 10.5},
		Points: []Observation{{X: 12.5, Y: 10.5, Hit: true}},
	}); err != nil {
		t.Fatalf("ApplyScan: %v", err)
	}

	m.Recenter(r2.Vec{X: 100, Y: 100})

	g := m.Snapshot()
	if g.Origin.X != 90 || g.Origin.Y != 90 {
		t.Errorf("origin = (%v, %v), want (90, 90)", g.Origin.X, g.Origin.Y)
	}
	for i := range g.Cells {
		if g.Cells[i].LogOdds != 0 {
			t.Fatalf("cell %d not reset after recenter", i)
		}
	}
	st := m.Status()
	if st.Recenters != 1 {
		t.Errorf("Recenters = %d, want 1", st.Recenters)
	}
	if st.ChangesSinceSnapshot != 400 {
		t.Errorf("ChangesSinceSnapshot = %d, want 400 (full wipe)", st.ChangesSinceSnapshot)
	}
}

func TestSetSensorFactors(t *testing.T) {
	m := newTestManager(t, testConfig())

	if err := m.SetSensorFactors(0.8, 0.2); err != nil {
		t.Fatalf("SetSensorFactors: %v", err)
	}
	hit, miss := m.SensorFactors()
	if hit != 0.8 || miss != 0.2 {
		t.Errorf("factors = (%v, %v), want (0.8, 0.2)", hit, miss)
	}

	if err := m.SetSensorFactors(0.2, 0.8); err == nil {
		t.Error("expected error for hit <= miss")
	}
	hit, miss = m.SensorFactors()
	if hit != 0.8 || miss != 0.2 {
		t.Errorf("rejected update changed factors to (%v, %v)", hit, miss)
	}
}

func TestSetThresholds(t *testing.T) {
	m := newTestManager(t, testConfig())

	if err := m.SetThresholds(1.5, -1.5); err != nil {
		t.Fatalf("SetThresholds: %v", err)
	}
	if occupied, free := m.Thresholds(); occupied != 1.5 || free != -1.5 {
		t.Errorf("thresholds = (%v, %v)", occupied, free)
	}

	if err := m.SetThresholds(-1, 1); err == nil {
		t.Error("expected error for occupied < free")
	}
	if occupied, free := m.Thresholds(); occupied != 1.5 || free != -1.5 {
		t.Errorf("rejected update changed thresholds to (%v, %v)", occupied, free)
	}
}

func TestSetTraceFreeSpace(t *testing.T) {
	m := newTestManager(t, testConfig())
	if m.TraceFreeSpace() {
		t.Fatal("tracing unexpectedly on")
	}
	if err := m.SetTraceFreeSpace(true); err != nil {
		t.Fatalf("SetTraceFreeSpace: %v", err)
	}
	if !m.TraceFreeSpace() {
		t.Error("tracing not enabled")
	}
	if !m.Status().TraceFreeSpace {
		t.Error("status does not reflect the trace toggle")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	m := newTestManager(t, testConfig())
	g := m.Snapshot()
	g.Cells[0].LogOdds = 99

	if got := m.Snapshot(); got.Cells[0].LogOdds != 0 {
		t.Error("snapshot shares cell storage with the live grid")
	}
}

func TestRegistry(t *testing.T) {
	if got := GetMapManager("no-such-map"); got != nil {
		t.Errorf("expected nil for unknown map, got %v", got)
	}
	RegisterMapManager("", &MapManager{})
	if got := GetMapManager(""); got != nil {
		t.Error("empty map ID must not register")
	}
}
