package occgrid

import (
	"fmt"
	"math"
)

// Default sensor factors for a lidar-class range sensor.
const (
	DefaultHitFactor  = 0.9
	DefaultMissFactor = 0.05
)

// SensorModel converts calibrated hit/miss probabilities into the
// log-odds increments applied to cells. The hit factor is P(hit return |
// cell occupied) and the miss factor is P(hit return | cell free), so the
// hit increment is the log likelihood ratio ln(hit/miss) and the miss
// increment is ln((1-hit)/(1-miss)).
//
// The model borrows Cell references to mutate and owns none. Fields are
// unexported so the derived increments can never go out of sync with the
// factors; both are set only through validated configuration.
type SensorModel struct {
	hitFactor  float64
	missFactor float64

	logOddsHit  float64
	logOddsMiss float64
}

// NewSensorModel builds a SensorModel from calibrated factors.
// See SetUpdateFactors for the validation rules.
func NewSensorModel(hitFactor, missFactor float64) (*SensorModel, error) {
	m := &SensorModel{}
	if err := m.SetUpdateFactors(hitFactor, missFactor); err != nil {
		return nil, err
	}
	return m, nil
}

// SetUpdateFactors recomputes the log-odds increments from new factors.
// Both factors must lie strictly inside (0,1); boundary values would
// produce non-finite increments and are rejected here rather than
// propagated into the grid. The hit factor must exceed the miss factor so
// that hits raise occupancy belief and misses lower it.
func (m *SensorModel) SetUpdateFactors(hitFactor, missFactor float64) error {
	if !(hitFactor > 0 && hitFactor < 1) {
		return fmt.Errorf("hit factor must be in (0, 1), got %v", hitFactor)
	}
	if !(missFactor > 0 && missFactor < 1) {
		return fmt.Errorf("miss factor must be in (0, 1), got %v", missFactor)
	}
	if hitFactor <= missFactor {
		return fmt.Errorf("hit factor %v must exceed miss factor %v", hitFactor, missFactor)
	}
	m.hitFactor = hitFactor
	m.missFactor = missFactor
	m.logOddsHit = math.Log(hitFactor / missFactor)
	m.logOddsMiss = math.Log((1 - hitFactor) / (1 - missFactor))
	return nil
}

// ApplyHit accumulates occupied evidence on c.
func (m *SensorModel) ApplyHit(c *Cell) { c.Update(m.logOddsHit) }

// ApplyMiss accumulates free evidence on c.
func (m *SensorModel) ApplyMiss(c *Cell) { c.Update(m.logOddsMiss) }

// HitLogOdds returns the increment applied per hit observation.
func (m *SensorModel) HitLogOdds() float64 { return m.logOddsHit }

// MissLogOdds returns the increment applied per miss observation.
func (m *SensorModel) MissLogOdds() float64 { return m.logOddsMiss }

// Factors returns the configured hit and miss factors.
func (m *SensorModel) Factors() (hit, miss float64) { return m.hitFactor, m.missFactor }
