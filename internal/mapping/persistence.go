package mapping

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/gridmap/internal/monitoring"
	"github.com/banshee-data/gridmap/internal/occgrid"
)

// serializeCells compresses grid cells using gob encoding and gzip
// compression. The blob layout is our own; snapshots are only ever read
// back by this package.
func serializeCells(cells []occgrid.Cell) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(cells); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// deserializeCells decompresses and decodes grid cells from a gob+gzip blob.
func deserializeCells(blob []byte) ([]occgrid.Cell, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty grid blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var cells []occgrid.Cell
	dec := gob.NewDecoder(gz)
	if err := dec.Decode(&cells); err != nil {
		return nil, fmt.Errorf("failed to decode grid cells: %w", err)
	}
	return cells, nil
}

// MapSnapshot is one persisted grid snapshot record.
type MapSnapshot struct {
	ID             int64
	SessionID      string
	TakenUnixNanos int64
	Width          int
	Height         int
	Resolution     float64
	OriginX        float64
	OriginY        float64
	MarginCells    int
	OccupiedCells  int
	FreeCells      int
	UnknownCells   int
	ChangedCells   int
	Reason         string
	GridBlob       []byte
}

// SnapshotStore is the interface mapping requires to persist and recover
// MapSnapshot records. Implemented by mapdb.MapDB.
type SnapshotStore interface {
	InsertMapSnapshot(s *MapSnapshot) (int64, error)
	LatestMapSnapshot() (*MapSnapshot, error)
}

// Persist serializes the grid and writes a MapSnapshot via the provided
// store. Cells and the change counter are copied under the read lock; the
// gob+gzip encode and the database write run outside it.
func (m *MapManager) Persist(store SnapshotStore, reason string) error {
	if m == nil || store == nil {
		return nil
	}

	m.mu.RLock()
	snapGrid := m.grid.Clone()
	changesSince := m.changesSinceSnapshot
	m.mu.RUnlock()

	blob, err := serializeCells(snapGrid.Cells)
	if err != nil {
		return err
	}

	st := ComputeGridStats(snapGrid)
	snap := &MapSnapshot{
		SessionID:      m.SessionID.String(),
		TakenUnixNanos: m.clock.Now().UnixNano(),
		Width:          snapGrid.Width,
		Height:         snapGrid.Height,
		Resolution:     snapGrid.Resolution,
		OriginX:        snapGrid.Origin.X,
		OriginY:        snapGrid.Origin.Y,
		MarginCells:    snapGrid.Margin,
		OccupiedCells:  st.OccupiedCells,
		FreeCells:      st.FreeCells,
		UnknownCells:   st.UnknownCells,
		ChangedCells:   changesSince,
		Reason:         reason,
		GridBlob:       blob,
	}

	id, err := store.InsertMapSnapshot(snap)
	if err != nil {
		return err
	}

	monitoring.Logf("[MapManager] persisted snapshot: map=%s, id=%d, reason=%s, occupied=%d/%d, blob=%d bytes",
		m.MapID, id, reason, st.OccupiedCells, st.TotalCells, len(blob))

	// Subtract the counter value we copied rather than zeroing, so changes
	// applied while the snapshot was being written stay pending for the
	// next flush.
	m.mu.Lock()
	if m.changesSinceSnapshot >= changesSince {
		m.changesSinceSnapshot -= changesSince
	} else {
		m.changesSinceSnapshot = 0
	}
	m.snapshotID = &id
	m.lastSnapshotTime = m.clock.Now()
	m.mu.Unlock()
	return nil
}

// Restore replaces the grid content and geometry with the most recent
// snapshot in the store, so a restarted mapper continues the previous map
// instead of starting blank. Classification thresholds keep their configured
// values. Returns false with no error when the store holds no snapshots.
func (m *MapManager) Restore(store SnapshotStore) (bool, error) {
	if m == nil || store == nil {
		return false, nil
	}
	snap, err := store.LatestMapSnapshot()
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}

	cells, err := deserializeCells(snap.GridBlob)
	if err != nil {
		return false, fmt.Errorf("snapshot %d: %w", snap.ID, err)
	}
	if len(cells) != snap.Width*snap.Height {
		return false, fmt.Errorf("snapshot %d: blob holds %d cells for a %dx%d grid",
			snap.ID, len(cells), snap.Width, snap.Height)
	}

	m.mu.Lock()
	g := m.grid
	g.Width = snap.Width
	g.Height = snap.Height
	g.Resolution = snap.Resolution
	g.Margin = snap.MarginCells
	g.Origin = r2.Vec{X: snap.OriginX, Y: snap.OriginY}
	g.Cells = cells
	id := snap.ID
	m.snapshotID = &id
	m.changesSinceSnapshot = 0
	m.mu.Unlock()

	monitoring.Logf("[MapManager] restored snapshot: map=%s, id=%d, grid=%dx%d, origin=(%.2f, %.2f)",
		m.MapID, snap.ID, snap.Width, snap.Height, snap.OriginX, snap.OriginY)
	return true, nil
}
