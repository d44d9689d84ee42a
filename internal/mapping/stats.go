package mapping

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/gridmap/internal/occgrid"
)

// GridStats summarises one grid: occupancy class tallies against the grid's
// configured thresholds plus distribution moments of the raw log-odds.
type GridStats struct {
	TotalCells    int `json:"total_cells"`
	OccupiedCells int `json:"occupied_cells"`
	FreeCells     int `json:"free_cells"`
	UnknownCells  int `json:"unknown_cells"`

	OccupiedFraction float64 `json:"occupied_fraction"`
	FreeFraction     float64 `json:"free_fraction"`

	MeanLogOdds   float64 `json:"mean_log_odds"`
	StddevLogOdds float64 `json:"stddev_log_odds"`
	MinLogOdds    float64 `json:"min_log_odds"`
	MaxLogOdds    float64 `json:"max_log_odds"`
	P05LogOdds    float64 `json:"p05_log_odds"`
	MedianLogOdds float64 `json:"median_log_odds"`
	P95LogOdds    float64 `json:"p95_log_odds"`
}

// ComputeGridStats tallies occupancy classes and log-odds distribution
// statistics for a grid. The caller is responsible for serialising access
// to the grid while this reads it.
func ComputeGridStats(g *occgrid.Grid) GridStats {
	s := GridStats{TotalCells: len(g.Cells)}
	if s.TotalCells == 0 {
		return s
	}

	vals := make([]float64, len(g.Cells))
	for i := range g.Cells {
		c := &g.Cells[i]
		vals[i] = c.LogOdds
		switch {
		case c.IsOccupied(g.OccupiedThreshold):
			s.OccupiedCells++
		case c.IsFree(g.FreeThreshold):
			s.FreeCells++
		default:
			s.UnknownCells++
		}
	}
	s.OccupiedFraction = float64(s.OccupiedCells) / float64(s.TotalCells)
	s.FreeFraction = float64(s.FreeCells) / float64(s.TotalCells)

	sort.Float64s(vals)
	s.MinLogOdds = vals[0]
	s.MaxLogOdds = vals[len(vals)-1]
	s.MeanLogOdds = stat.Mean(vals, nil)
	if len(vals) > 1 {
		s.StddevLogOdds = stat.StdDev(vals, nil)
	}
	s.P05LogOdds = stat.Quantile(0.05, stat.Empirical, vals, nil)
	s.MedianLogOdds = stat.Quantile(0.5, stat.Empirical, vals, nil)
	s.P95LogOdds = stat.Quantile(0.95, stat.Empirical, vals, nil)
	return s
}
