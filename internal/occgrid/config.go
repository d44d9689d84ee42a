package occgrid

import (
	"fmt"
	"math"

	"github.com/banshee-data/gridmap/internal/config"
)

// GridConfig provides a configuration builder for Grid geometry and
// classification thresholds. It allows setting parameters with defaults
// and validation before allocating a Grid.
type GridConfig struct {
	ResolutionMeters float64 // world units per cell edge (default: 0.1)
	WidthCells       int     // cells along x (default: 300)
	HeightCells      int     // cells along y (default: 300)
	MarginCells      int     // extension band width (default: 50)

	// Classification thresholds in log-odds units. Defaults derive from
	// probabilities 0.7 and 0.3 via the logit transform.
	OccupiedThreshold float64
	FreeThreshold     float64
}

// SensorConfig carries the calibrated factors used to build a
// SensorModel.
type SensorConfig struct {
	HitFactor  float64 // P(hit return | cell occupied) (default: 0.9)
	MissFactor float64 // P(hit return | cell free) (default: 0.05)
}

// DefaultGridConfig returns a GridConfig loaded from the canonical
// tuning defaults file (config/tuning.defaults.json). Panics if the file
// cannot be found; intended for tests and binaries that have already
// validated config availability.
func DefaultGridConfig() *GridConfig {
	return GridConfigFromTuning(config.MustLoadDefaultConfig())
}

// GridConfigFromTuning builds a GridConfig from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
// Threshold probabilities are converted to log-odds here so cell queries
// compare plain values.
func GridConfigFromTuning(cfg *config.TuningConfig) *GridConfig {
	return &GridConfig{
		ResolutionMeters:  cfg.GetResolutionMeters(),
		WidthCells:        cfg.GetWidthCells(),
		HeightCells:       cfg.GetHeightCells(),
		MarginCells:       cfg.GetMarginCells(),
		OccupiedThreshold: ProbToLogOdds(cfg.GetOccupiedProbability()),
		FreeThreshold:     ProbToLogOdds(cfg.GetFreeProbability()),
	}
}

// DefaultSensorConfig returns a SensorConfig loaded from the canonical
// tuning defaults file. Panics if the file cannot be found.
func DefaultSensorConfig() *SensorConfig {
	return SensorConfigFromTuning(config.MustLoadDefaultConfig())
}

// SensorConfigFromTuning builds a SensorConfig from a loaded TuningConfig.
func SensorConfigFromTuning(cfg *config.TuningConfig) *SensorConfig {
	return &SensorConfig{
		HitFactor:  cfg.GetHitFactor(),
		MissFactor: cfg.GetMissFactor(),
	}
}

// Validate checks if the configuration is valid.
// Returns an error if any parameter is out of acceptable range.
func (c *GridConfig) Validate() error {
	if c.ResolutionMeters <= 0 {
		return fmt.Errorf("ResolutionMeters must be positive, got %f", c.ResolutionMeters)
	}
	if c.WidthCells <= 0 {
		return fmt.Errorf("WidthCells must be positive, got %d", c.WidthCells)
	}
	if c.HeightCells <= 0 {
		return fmt.Errorf("HeightCells must be positive, got %d", c.HeightCells)
	}
	if c.WidthCells > math.MaxInt/c.HeightCells {
		return fmt.Errorf("grid dimensions %dx%d overflow the cell index range", c.WidthCells, c.HeightCells)
	}
	if c.MarginCells < 0 {
		return fmt.Errorf("MarginCells must be non-negative, got %d", c.MarginCells)
	}
	// Opposite margins may not meet: a position that set both flags on
	// one axis would make Extend's shift order significant.
	if 2*c.MarginCells >= c.WidthCells || 2*c.MarginCells >= c.HeightCells {
		return fmt.Errorf("MarginCells %d must be below half of the %dx%d grid", c.MarginCells, c.WidthCells, c.HeightCells)
	}
	if c.OccupiedThreshold < c.FreeThreshold {
		return fmt.Errorf("OccupiedThreshold %f must not be below FreeThreshold %f", c.OccupiedThreshold, c.FreeThreshold)
	}
	return nil
}

// Validate checks that both factors are usable sensor probabilities.
func (c *SensorConfig) Validate() error {
	_, err := NewSensorModel(c.HitFactor, c.MissFactor)
	return err
}

// NewModel builds the SensorModel described by the config.
func (c *SensorConfig) NewModel() (*SensorModel, error) {
	return NewSensorModel(c.HitFactor, c.MissFactor)
}

// WithResolution sets the cell edge length in world units.
func (c *GridConfig) WithResolution(res float64) *GridConfig {
	c.ResolutionMeters = res
	return c
}

// WithDimensions sets the grid width and height in cells.
func (c *GridConfig) WithDimensions(width, height int) *GridConfig {
	c.WidthCells = width
	c.HeightCells = height
	return c
}

// WithMargin sets the extension band width in cells.
func (c *GridConfig) WithMargin(margin int) *GridConfig {
	c.MarginCells = margin
	return c
}

// WithThresholds sets the classification thresholds in log-odds units.
func (c *GridConfig) WithThresholds(occupied, free float64) *GridConfig {
	c.OccupiedThreshold = occupied
	c.FreeThreshold = free
	return c
}

// WithHitFactor sets the hit probability.
func (c *SensorConfig) WithHitFactor(f float64) *SensorConfig {
	c.HitFactor = f
	return c
}

// WithMissFactor sets the miss probability.
func (c *SensorConfig) WithMissFactor(f float64) *SensorConfig {
	c.MissFactor = f
	return c
}
