// Package mapping owns the live occupancy map and everything that feeds it.
//
// Responsibilities: applying classified scans to the grid, free-space ray
// tracing, pose tracking, auto-extension near margins, occupancy statistics,
// and snapshot persistence.
// Key types: MapManager, Scan, Observation, Flusher.
//
// Dependency rule: mapping may depend on occgrid, config, timeutil and
// monitoring, but never on the database or transport packages. Persistence
// goes through the SnapshotStore interface, implemented by mapdb.
package mapping
