package mapdb

import (
	"testing"
)

// tableExists reports whether a table is present in the sqlite schema.
func tableExists(t *testing.T, db *MapDB, name string) bool {
	t.Helper()

	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("failed to check for table %s: %v", name, err)
	}
	return count > 0
}

func TestMigrateUp_FreshDatabase(t *testing.T) {
	fname := t.TempDir() + "/test_migrate_up.db"
	db, err := NewMapDB(fname)
	if err != nil {
		t.Fatalf("NewMapDB failed: %v", err)
	}
	defer db.Close()

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	for _, table := range []string{"map_sessions", "map_snapshots", "pose_log"} {
		if !tableExists(t, db, table) {
			t.Errorf("Expected table %s to exist after MigrateUp", table)
		}
	}

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if dirty {
		t.Error("Expected clean migration state")
	}

	latest, err := latestMigrationVersion()
	if err != nil {
		t.Fatalf("latestMigrationVersion failed: %v", err)
	}
	if version != latest {
		t.Errorf("Expected version %d after MigrateUp, got %d", latest, version)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := newTestDB(t)

	// Second run has nothing to apply and must not error.
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("Second MigrateUp failed: %v", err)
	}
}

func TestMigrateVersion_FreshDatabase(t *testing.T) {
	fname := t.TempDir() + "/test_migrate_version.db"
	db, err := NewMapDB(fname)
	if err != nil {
		t.Fatalf("NewMapDB failed: %v", err)
	}
	defer db.Close()

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 0 || dirty {
		t.Errorf("Expected version 0 and clean state before migrations, got %d (dirty=%v)", version, dirty)
	}
}

func TestMigrateDown_RollsBackOneStep(t *testing.T) {
	db := newTestDB(t)

	before, _, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}

	after, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if dirty {
		t.Error("Expected clean state after MigrateDown")
	}
	if after != before-1 {
		t.Errorf("Expected version %d after MigrateDown, got %d", before-1, after)
	}

	// The newest migration creates pose_log; rolling back must drop it and
	// leave the earlier tables alone.
	if tableExists(t, db, "pose_log") {
		t.Error("Expected pose_log to be dropped by MigrateDown")
	}
	if !tableExists(t, db, "map_snapshots") {
		t.Error("Expected map_snapshots to survive MigrateDown")
	}
	if !tableExists(t, db, "map_sessions") {
		t.Error("Expected map_sessions to survive MigrateDown")
	}
}

func TestMigrateForce(t *testing.T) {
	db := newTestDB(t)

	if err := db.MigrateForce(1); err != nil {
		t.Fatalf("MigrateForce failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("Expected forced version 1, got %d", version)
	}
	if dirty {
		t.Error("Expected Force to clear the dirty flag")
	}
}

func TestMigrateStatus(t *testing.T) {
	db := newTestDB(t)

	status, err := db.MigrateStatus()
	if err != nil {
		t.Fatalf("MigrateStatus failed: %v", err)
	}

	latest, err := latestMigrationVersion()
	if err != nil {
		t.Fatalf("latestMigrationVersion failed: %v", err)
	}

	if v, ok := status["current_version"].(uint); !ok || v != latest {
		t.Errorf("Expected current_version %d, got %v", latest, status["current_version"])
	}
	if d, ok := status["dirty"].(bool); !ok || d {
		t.Errorf("Expected dirty=false, got %v", status["dirty"])
	}
	if v, ok := status["latest_version"].(uint); !ok || v != latest {
		t.Errorf("Expected latest_version %d, got %v", latest, status["latest_version"])
	}
	if p, ok := status["pending"].(int); !ok || p != 0 {
		t.Errorf("Expected pending 0, got %v", status["pending"])
	}
}

func TestLatestMigrationVersion(t *testing.T) {
	latest, err := latestMigrationVersion()
	if err != nil {
		t.Fatalf("latestMigrationVersion failed: %v", err)
	}
	if latest < 3 {
		t.Errorf("Expected at least 3 embedded migrations, got %d", latest)
	}
}
