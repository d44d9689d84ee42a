// Package occgrid implements the probabilistic occupancy grid at the
// core of the mapping pipeline.
//
// Responsibilities: per-cell log-odds accumulation with saturation,
// conversion of calibrated sensor hit/miss probabilities into log-odds
// increments, world-to-cell coordinate mapping, and bounded-footprint
// re-centering (in-place directional shifts) as the tracked position
// nears a grid edge.
// Key types: Cell, SensorModel, Grid, Direction.
//
// Dependency rule: occgrid is a leaf package and may depend only on
// internal/config. No SQL/database or network code is allowed here.
// Grid is not safe for concurrent use; callers serialise access
// (internal/mapping wraps it in a manager with a lock).
package occgrid
