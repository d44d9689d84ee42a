package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/map/params endpoint so the same JSON can be
// used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Sensor model params
	HitFactor  *float64 `json:"hit_factor,omitempty"`
	MissFactor *float64 `json:"miss_factor,omitempty"`

	// Occupancy classification params (probabilities, converted to
	// log-odds thresholds by the grid config)
	OccupiedProbability *float64 `json:"occupied_probability,omitempty"`
	FreeProbability     *float64 `json:"free_probability,omitempty"`

	// Grid geometry params
	ResolutionMeters *float64 `json:"resolution_meters,omitempty"`
	WidthCells       *int     `json:"width_cells,omitempty"`
	HeightCells      *int     `json:"height_cells,omitempty"`
	MarginCells      *int     `json:"margin_cells,omitempty"`

	// Scan application params
	TraceFreeSpace *bool `json:"trace_free_space,omitempty"`
	MaxTraceCells  *int  `json:"max_trace_cells,omitempty"`

	// Flush params
	FlushInterval   *string `json:"flush_interval,omitempty"` // duration string like "60s"
	BackgroundFlush *bool   `json:"background_flush,omitempty"`

	// Announce params (optional)
	StatsPublishInterval *string `json:"stats_publish_interval,omitempty"` // duration string like "10s"

	// Pose logging params
	PoseLogInterval *string `json:"pose_log_interval,omitempty"` // duration string like "1s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from nested internal packages
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.HitFactor != nil {
		if *c.HitFactor <= 0 || *c.HitFactor >= 1 {
			return fmt.Errorf("hit_factor must be strictly between 0 and 1, got %f", *c.HitFactor)
		}
	}
	if c.MissFactor != nil {
		if *c.MissFactor <= 0 || *c.MissFactor >= 1 {
			return fmt.Errorf("miss_factor must be strictly between 0 and 1, got %f", *c.MissFactor)
		}
	}
	if c.OccupiedProbability != nil {
		if *c.OccupiedProbability <= 0 || *c.OccupiedProbability >= 1 {
			return fmt.Errorf("occupied_probability must be strictly between 0 and 1, got %f", *c.OccupiedProbability)
		}
	}
	if c.FreeProbability != nil {
		if *c.FreeProbability <= 0 || *c.FreeProbability >= 1 {
			return fmt.Errorf("free_probability must be strictly between 0 and 1, got %f", *c.FreeProbability)
		}
	}
	if c.ResolutionMeters != nil {
		if *c.ResolutionMeters <= 0 {
			return fmt.Errorf("resolution_meters must be positive, got %f", *c.ResolutionMeters)
		}
	}
	if c.WidthCells != nil {
		if *c.WidthCells <= 0 {
			return fmt.Errorf("width_cells must be positive, got %d", *c.WidthCells)
		}
	}
	if c.HeightCells != nil {
		if *c.HeightCells <= 0 {
			return fmt.Errorf("height_cells must be positive, got %d", *c.HeightCells)
		}
	}
	if c.MarginCells != nil {
		if *c.MarginCells < 0 {
			return fmt.Errorf("margin_cells must be non-negative, got %d", *c.MarginCells)
		}
	}
	if c.MaxTraceCells != nil {
		if *c.MaxTraceCells < 0 {
			return fmt.Errorf("max_trace_cells must be non-negative, got %d", *c.MaxTraceCells)
		}
	}

	// Validate duration strings can be parsed if set
	if c.FlushInterval != nil && *c.FlushInterval != "" {
		if _, err := time.ParseDuration(*c.FlushInterval); err != nil {
			return fmt.Errorf("invalid flush_interval '%s': %w", *c.FlushInterval, err)
		}
	}
	if c.StatsPublishInterval != nil && *c.StatsPublishInterval != "" {
		if _, err := time.ParseDuration(*c.StatsPublishInterval); err != nil {
			return fmt.Errorf("invalid stats_publish_interval '%s': %w", *c.StatsPublishInterval, err)
		}
	}
	if c.PoseLogInterval != nil && *c.PoseLogInterval != "" {
		if _, err := time.ParseDuration(*c.PoseLogInterval); err != nil {
			return fmt.Errorf("invalid pose_log_interval '%s': %w", *c.PoseLogInterval, err)
		}
	}

	return nil
}

// GetHitFactor returns the hit_factor value or the default.
func (c *TuningConfig) GetHitFactor() float64 {
	if c.HitFactor == nil {
		return 0.9 // default
	}
	return *c.HitFactor
}

// GetMissFactor returns the miss_factor value or the default.
func (c *TuningConfig) GetMissFactor() float64 {
	if c.MissFactor == nil {
		return 0.05 // default
	}
	return *c.MissFactor
}

// GetOccupiedProbability returns the occupied_probability value or the default.
func (c *TuningConfig) GetOccupiedProbability() float64 {
	if c.OccupiedProbability == nil {
		return 0.7 // default
	}
	return *c.OccupiedProbability
}

// GetFreeProbability returns the free_probability value or the default.
func (c *TuningConfig) GetFreeProbability() float64 {
	if c.FreeProbability == nil {
		return 0.3 // default
	}
	return *c.FreeProbability
}

// GetResolutionMeters returns the resolution_meters value or the default.
func (c *TuningConfig) GetResolutionMeters() float64 {
	if c.ResolutionMeters == nil {
		return 0.1 // default: 0.1m per cell
	}
	return *c.ResolutionMeters
}

// GetWidthCells returns the width_cells value or the default.
func (c *TuningConfig) GetWidthCells() int {
	if c.WidthCells == nil {
		return 300 // default: 30m at 0.1m/cell
	}
	return *c.WidthCells
}

// GetHeightCells returns the height_cells value or the default.
func (c *TuningConfig) GetHeightCells() int {
	if c.HeightCells == nil {
		return 300 // default: 30m at 0.1m/cell
	}
	return *c.HeightCells
}

// GetMarginCells returns the margin_cells value or the default.
func (c *TuningConfig) GetMarginCells() int {
	if c.MarginCells == nil {
		return 50 // default: 5m at 0.1m/cell
	}
	return *c.MarginCells
}

// GetTraceFreeSpace returns the trace_free_space value or the default.
func (c *TuningConfig) GetTraceFreeSpace() bool {
	if c.TraceFreeSpace == nil {
		return true // default: carve free space along each ray
	}
	return *c.TraceFreeSpace
}

// GetMaxTraceCells returns the max_trace_cells value or the default.
func (c *TuningConfig) GetMaxTraceCells() int {
	if c.MaxTraceCells == nil {
		return 600 // default: caps ray walks at twice the default grid diagonal
	}
	return *c.MaxTraceCells
}

// GetFlushInterval parses and returns the FlushInterval as a time.Duration.
func (c *TuningConfig) GetFlushInterval() time.Duration {
	if c.FlushInterval == nil || *c.FlushInterval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.FlushInterval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

// GetBackgroundFlush returns the background_flush value or the default.
func (c *TuningConfig) GetBackgroundFlush() bool {
	if c.BackgroundFlush == nil {
		return true // default: periodic flushing enabled
	}
	return *c.BackgroundFlush
}

// GetStatsPublishInterval parses and returns the StatsPublishInterval as a time.Duration.
func (c *TuningConfig) GetStatsPublishInterval() time.Duration {
	if c.StatsPublishInterval == nil || *c.StatsPublishInterval == "" {
		return 10 * time.Second // default
	}
	d, err := time.ParseDuration(*c.StatsPublishInterval)
	if err != nil {
		return 10 * time.Second // default on parse error
	}
	return d
}

// GetPoseLogInterval parses and returns the PoseLogInterval as a time.Duration.
func (c *TuningConfig) GetPoseLogInterval() time.Duration {
	if c.PoseLogInterval == nil || *c.PoseLogInterval == "" {
		return time.Second // default
	}
	d, err := time.ParseDuration(*c.PoseLogInterval)
	if err != nil {
		return time.Second // default on parse error
	}
	return d
}
