package mapping

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/gridmap/internal/occgrid"
)

// mockSnapshotStore implements SnapshotStore for testing
type mockSnapshotStore struct {
	lastID    int64
	insertErr error
	latestErr error
	snapshots []*MapSnapshot
}

func (m *mockSnapshotStore) InsertMapSnapshot(s *MapSnapshot) (int64, error) {
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.lastID++
	cp := *s
	cp.ID = m.lastID
	m.snapshots = append(m.snapshots, &cp)
	return m.lastID, nil
}

func (m *mockSnapshotStore) LatestMapSnapshot() (*MapSnapshot, error) {
	if m.latestErr != nil {
		return nil, m.latestErr
	}
	if len(m.snapshots) == 0 {
		return nil, nil
	}
	return m.snapshots[len(m.snapshots)-1], nil
}

func TestSerializeCellsRoundTrip(t *testing.T) {
	t.Parallel()
	cells := make([]occgrid.Cell, 64)
	for i := range cells {
		cells[i].LogOdds = float64(i) * 0.25
	}

	blob, err := serializeCells(cells)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	got, err := deserializeCells(blob)
	require.NoError(t, err)
	assert.Equal(t, cells, got)
}

func TestDeserializeCells_Errors(t *testing.T) {
	t.Parallel()

	t.Run("empty blob", func(t *testing.T) {
		t.Parallel()
		_, err := deserializeCells(nil)
		assert.Error(t, err)
	})

	t.Run("garbage blob", func(t *testing.T) {
		t.Parallel()
		_, err := deserializeCells([]byte("not a gzip stream"))
		assert.Error(t, err)
	})
}

func TestPersist_NilCases(t *testing.T) {
	t.Parallel()

	t.Run("nil manager", func(t *testing.T) {
		t.Parallel()
		var m *MapManager
		err := m.Persist(&mockSnapshotStore{}, "test")
		assert.NoError(t, err)
	})

	t.Run("nil store", func(t *testing.T) {
		t.Parallel()
		m := newTestManager(t, testConfig())
		err := m.Persist(nil, "test")
		assert.NoError(t, err)
	})
}

func TestPersist_WritesSnapshot(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, testConfig())
	err := m.ApplyScan(&Scan{
		Pose: Pose{X: 10.5, Y: 10.5},
		Points: []Observation{
			{X: 12.5, Y: 10.5, Hit: true},
			{X: 8.5, Y: 10.5, Hit: false},
		},
	})
	require.NoError(t, err)

	store := &mockSnapshotStore{}
	require.NoError(t, m.Persist(store, "manual"))
	require.Len(t, store.snapshots, 1)

	snap := store.snapshots[0]
	assert.Equal(t, m.SessionID.String(), snap.SessionID)
	assert.Equal(t, 20, snap.Width)
	assert.Equal(t, 20, snap.Height)
	assert.Equal(t, 1.0, snap.Resolution)
	assert.Equal(t, 4, snap.MarginCells)
	assert.Equal(t, 0.0, snap.OriginX)
	assert.Equal(t, 0.0, snap.OriginY)
	assert.Equal(t, 1, snap.OccupiedCells)
	assert.Equal(t, 1, snap.FreeCells)
	assert.Equal(t, 398, snap.UnknownCells)
	assert.Equal(t, 2, snap.ChangedCells)
	assert.Equal(t, "manual", snap.Reason)
	assert.Equal(t, time.Unix(100, 0).UnixNano(), snap.TakenUnixNanos)
	assert.NotEmpty(t, snap.GridBlob)

	// Persisting clears the dirty counter and records the snapshot id.
	st := m.Status()
	assert.Equal(t, 0, st.ChangesSinceSnapshot)
	require.NotNil(t, st.SnapshotID)
	assert.Equal(t, int64(1), *st.SnapshotID)
	assert.Equal(t, time.Unix(100, 0).UnixNano(), st.LastSnapshotUnixNanos)
}

func TestPersist_InsertError(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, testConfig())
	err := m.ApplyScan(&Scan{
		Pose:   Pose{X: 10.5, Y: 10.5},
		Points: []Observation{{X: 12.5, Y: 10.5, Hit: true}},
	})
	require.NoError(t, err)

	store := &mockSnapshotStore{insertErr: errors.New("disk full")}
	require.Error(t, m.Persist(store, "manual"))

	// A failed persist must not swallow the pending changes.
	st := m.Status()
	assert.Equal(t, 1, st.ChangesSinceSnapshot)
	assert.Nil(t, st.SnapshotID)
}

func TestRestore(t *testing.T) {
	t.Parallel()
	src, err := NewMapManager("restore-src", uuid.Nil, testConfig(), r2.Vec{X: 10, Y: 10})
	require.NoError(t, err)
	require.NoError(t, src.ApplyScan(&Scan{
		Pose:   Pose{X: 10.5, Y: 10.5},
		Points: []Observation{{X: 12.5, Y: 10.5, Hit: true}},
	}))
	store := &mockSnapshotStore{}
	require.NoError(t, src.Persist(store, "manual"))

	// A restarted mapper comes up centred somewhere else entirely; Restore
	// must adopt the stored geometry, not keep the configured one.
	dst, err := NewMapManager("restore-dst", uuid.Nil, testConfig(), r2.Vec{X: 50, Y: 50})
	require.NoError(t, err)
	ok, err := dst.Restore(store)
	require.NoError(t, err)
	require.True(t, ok, "Restore returned false with a snapshot available")

	g := dst.Snapshot()
	assert.Equal(t, 0.0, g.Origin.X)
	assert.Equal(t, 0.0, g.Origin.Y)
	c, _ := g.At(12, 10)
	assert.InDelta(t, src.sensor.HitLogOdds(), c.LogOdds, 1e-12)

	st := dst.Status()
	require.NotNil(t, st.SnapshotID)
	assert.Equal(t, int64(1), *st.SnapshotID)
	assert.Equal(t, 0, st.ChangesSinceSnapshot)
}

func TestRestore_EmptyStore(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, testConfig())
	ok, err := m.Restore(&mockSnapshotStore{})
	require.NoError(t, err)
	assert.False(t, ok, "Restore returned true for an empty store")
}

func TestRestore_CorruptBlob(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, testConfig())
	store := &mockSnapshotStore{snapshots: []*MapSnapshot{{
		ID: 7, Width: 2, Height: 2, GridBlob: []byte("junk"),
	}}}
	_, err := m.Restore(store)
	assert.Error(t, err)
}

func TestRestore_CellCountMismatch(t *testing.T) {
	t.Parallel()
	blob, err := serializeCells(make([]occgrid.Cell, 3))
	require.NoError(t, err)
	m := newTestManager(t, testConfig())
	store := &mockSnapshotStore{snapshots: []*MapSnapshot{{
		ID: 7, Width: 2, Height: 2, GridBlob: blob,
	}}}
	_, err = m.Restore(store)
	assert.Error(t, err)
}
