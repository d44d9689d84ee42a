// Package mapdb stores mapping sessions, grid snapshots and pose history in
// a local sqlite database. It implements mapping.SnapshotStore so the grid
// flusher can persist and restore maps without knowing about SQL.
package mapdb

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/gridmap/internal/mapping"
)

type MapDB struct {
	*sql.DB

	// path is the filesystem location of the database, kept for the
	// tailsql label and backup filenames.
	path string
}

var _ mapping.SnapshotStore = (*MapDB)(nil)

// connPragmas are applied by the driver to every pooled connection.
const connPragmas = "?_pragma=journal_mode(WAL)" +
	"&_pragma=busy_timeout(5000)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_pragma=temp_store(MEMORY)"

// NewMapDB opens the map database at path, creating the file if needed.
// Schema setup is separate: call MigrateUp before first use.
func NewMapDB(path string) (*MapDB, error) {
	db, err := sql.Open("sqlite", "file:"+path+connPragmas)
	if err != nil {
		return nil, err
	}

	// sql.Open defers file access until the first query; ping now so a bad
	// path fails at startup rather than on the first flush.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open map database %s: %w", path, err)
	}

	return &MapDB{DB: db, path: path}, nil
}

// Path returns the filesystem location the database was opened with.
func (db *MapDB) Path() string {
	return db.path
}

// MapSession is one mapper run. Snapshots and pose history reference it by
// session id.
type MapSession struct {
	ID        string  `json:"id"`
	StartedAt float64 `json:"started_at"`
	Source    string  `json:"source"`
	Notes     string  `json:"notes"`
}

// StartSession records a new mapping session.
func (db *MapDB) StartSession(id uuid.UUID, source, notes string) error {
	query := `
		INSERT INTO map_sessions (id, source, notes)
		VALUES (?, ?, ?)
	`

	if _, err := db.DB.Exec(query, id.String(), source, notes); err != nil {
		return fmt.Errorf("failed to start map session: %w", err)
	}

	return nil
}

// GetSession retrieves a session by id.
func (db *MapDB) GetSession(id string) (*MapSession, error) {
	query := `
		SELECT id, started_at, source, notes
		FROM map_sessions
		WHERE id = ?
	`

	var sess MapSession
	err := db.DB.QueryRow(query, id).Scan(
		&sess.ID,
		&sess.StartedAt,
		&sess.Source,
		&sess.Notes,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("map session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get map session: %w", err)
	}

	return &sess, nil
}

// ListRecentSessions returns up to limit sessions, most recent first.
func (db *MapDB) ListRecentSessions(limit int) ([]MapSession, error) {
	query := `
		SELECT id, started_at, source, notes
		FROM map_sessions
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := db.DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query map sessions: %w", err)
	}
	defer rows.Close()

	var sessions []MapSession
	for rows.Next() {
		var sess MapSession
		if err := rows.Scan(&sess.ID, &sess.StartedAt, &sess.Source, &sess.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan map session: %w", err)
		}
		sessions = append(sessions, sess)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating map sessions: %w", err)
	}

	return sessions, nil
}

// InsertMapSnapshot stores a serialized grid snapshot and returns its
// assigned id, which is also written back to s.ID.
func (db *MapDB) InsertMapSnapshot(s *mapping.MapSnapshot) (int64, error) {
	query := `
		INSERT INTO map_snapshots (
			session_id, taken_unix_nanos, width, height, resolution,
			origin_x, origin_y, margin_cells,
			occupied_cells, free_cells, unknown_cells, changed_cells,
			reason, grid_blob
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.DB.Exec(
		query,
		s.SessionID,
		s.TakenUnixNanos,
		s.Width,
		s.Height,
		s.Resolution,
		s.OriginX,
		s.OriginY,
		s.MarginCells,
		s.OccupiedCells,
		s.FreeCells,
		s.UnknownCells,
		s.ChangedCells,
		s.Reason,
		s.GridBlob,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert map snapshot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get snapshot ID: %w", err)
	}

	s.ID = id
	return id, nil
}

// LatestMapSnapshot returns the most recently inserted snapshot across all
// sessions, or nil when the database holds none. Restore reads through this,
// so a restarted mapper continues the previous run's map.
func (db *MapDB) LatestMapSnapshot() (*mapping.MapSnapshot, error) {
	query := `
		SELECT id, session_id, taken_unix_nanos, width, height, resolution,
			origin_x, origin_y, margin_cells,
			occupied_cells, free_cells, unknown_cells, changed_cells,
			reason, grid_blob
		FROM map_snapshots
		ORDER BY id DESC
		LIMIT 1
	`

	var snap mapping.MapSnapshot
	err := db.DB.QueryRow(query).Scan(
		&snap.ID,
		&snap.SessionID,
		&snap.TakenUnixNanos,
		&snap.Width,
		&snap.Height,
		&snap.Resolution,
		&snap.OriginX,
		&snap.OriginY,
		&snap.MarginCells,
		&snap.OccupiedCells,
		&snap.FreeCells,
		&snap.UnknownCells,
		&snap.ChangedCells,
		&snap.Reason,
		&snap.GridBlob,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest map snapshot: %w", err)
	}

	return &snap, nil
}

// ListRecentMapSnapshots returns metadata for up to limit snapshots, most
// recent first. GridBlob is left nil to keep the rows small; use
// LatestMapSnapshot when the cell data is needed.
func (db *MapDB) ListRecentMapSnapshots(limit int) ([]mapping.MapSnapshot, error) {
	query := `
		SELECT id, session_id, taken_unix_nanos, width, height, resolution,
			origin_x, origin_y, margin_cells,
			occupied_cells, free_cells, unknown_cells, changed_cells,
			reason
		FROM map_snapshots
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := db.DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query map snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []mapping.MapSnapshot
	for rows.Next() {
		var snap mapping.MapSnapshot
		err := rows.Scan(
			&snap.ID,
			&snap.SessionID,
			&snap.TakenUnixNanos,
			&snap.Width,
			&snap.Height,
			&snap.Resolution,
			&snap.OriginX,
			&snap.OriginY,
			&snap.MarginCells,
			&snap.OccupiedCells,
			&snap.FreeCells,
			&snap.UnknownCells,
			&snap.ChangedCells,
			&snap.Reason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan map snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating map snapshots: %w", err)
	}

	return snapshots, nil
}

// PoseRecord is one row of a session's pose history.
type PoseRecord struct {
	ID         int64   `json:"id"`
	SessionID  string  `json:"session_id"`
	UnixNanos  int64   `json:"unix_nanos"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	HeadingRad float64 `json:"heading_rad"`
	Quality    string  `json:"quality"`
}

// InsertPose appends a pose sample to the pose log.
func (db *MapDB) InsertPose(rec *PoseRecord) error {
	query := `
		INSERT INTO pose_log (session_id, unix_nanos, x, y, heading_rad, quality)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := db.DB.Exec(
		query,
		rec.SessionID,
		rec.UnixNanos,
		rec.X,
		rec.Y,
		rec.HeadingRad,
		rec.Quality,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pose: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get pose ID: %w", err)
	}

	rec.ID = id
	return nil
}

// RecentPoses returns up to limit pose samples for a session, most recent
// first.
func (db *MapDB) RecentPoses(sessionID string, limit int) ([]PoseRecord, error) {
	query := `
		SELECT id, session_id, unix_nanos, x, y, heading_rad, quality
		FROM pose_log
		WHERE session_id = ?
		ORDER BY unix_nanos DESC
		LIMIT ?
	`

	rows, err := db.DB.Query(query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query poses: %w", err)
	}
	defer rows.Close()

	var poses []PoseRecord
	for rows.Next() {
		var rec PoseRecord
		err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.UnixNanos,
			&rec.X,
			&rec.Y,
			&rec.HeadingRad,
			&rec.Quality,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pose: %w", err)
		}
		poses = append(poses, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating poses: %w", err)
	}

	return poses, nil
}
