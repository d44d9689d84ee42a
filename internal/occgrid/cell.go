package occgrid

import "math"

// Log-odds saturation bounds. Accumulation halts once a cell's value has
// passed a bound in the direction of the update rather than being hard
// clamped, so a saturated cell still responds to opposing evidence.
const (
	LogOddsMax = 50.0
	LogOddsMin = -50.0
)

// Cell is a single occupancy unit. LogOdds holds ln(P(occupied)/P(free));
// zero is the unknown prior (probability 0.5).
type Cell struct {
	LogOdds float64
}

// Reset returns the cell to the unknown prior.
func (c *Cell) Reset() { c.LogOdds = 0 }

// Update adds delta to the cell's log-odds unless the value has already
// passed the saturation bound in the direction of delta. A cell past
// LogOddsMax ignores further positive deltas but still accepts negative
// ones, and vice versa. A zero delta is a no-op.
func (c *Cell) Update(delta float64) {
	if (delta > 0 && c.LogOdds < LogOddsMax) || (delta < 0 && c.LogOdds > LogOddsMin) {
		c.LogOdds += delta
	}
}

// IsOccupied reports whether the cell's log-odds exceeds threshold.
// Classification is recomputed on demand; no discrete state is stored.
func (c *Cell) IsOccupied(threshold float64) bool { return c.LogOdds > threshold }

// IsFree reports whether the cell's log-odds is below threshold.
func (c *Cell) IsFree(threshold float64) bool { return c.LogOdds < threshold }

// Prob returns the cell's occupancy probability.
func (c *Cell) Prob() float64 { return LogOddsToProb(c.LogOdds) }

// ProbToLogOdds converts a probability to log-odds (the logit transform).
// Only probabilities strictly inside (0,1) yield finite results.
func ProbToLogOdds(p float64) float64 { return math.Log(p / (1 - p)) }

// LogOddsToProb converts log-odds back to a probability (the sigmoid
// transform). Inverse of ProbToLogOdds for inputs away from the extremes.
func LogOddsToProb(l float64) float64 { return 1 / (1 + math.Exp(-l)) }
