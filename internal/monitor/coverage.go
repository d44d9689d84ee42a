package monitor

import (
	"context"
	"fmt"
	"image/color"
	"log"
	"net/http"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/gridmap/internal/httputil"
	"github.com/banshee-data/gridmap/internal/mapping"
)

const defaultCoverageInterval = 10 * time.Second

// maxCoverageSamples bounds the history; at the default interval this
// covers the last two hours.
const maxCoverageSamples = 720

// CoverageSample is one point of the coverage time series.
type CoverageSample struct {
	Time     time.Time
	Occupied float64 // fraction of cells classified occupied
	Free     float64 // fraction of cells classified free
}

// CoverageSampler polls grid occupancy statistics on an interval and keeps
// a bounded history for the coverage plot.
type CoverageSampler struct {
	manager  *mapping.MapManager
	interval time.Duration

	mu      sync.Mutex
	samples []CoverageSample
}

// NewCoverageSampler creates a sampler for the given manager. A zero
// interval uses the default.
func NewCoverageSampler(manager *mapping.MapManager, interval time.Duration) *CoverageSampler {
	if interval <= 0 {
		interval = defaultCoverageInterval
	}
	return &CoverageSampler{manager: manager, interval: interval}
}

// Run polls until the context is cancelled. No-op when no manager is
// configured.
func (cs *CoverageSampler) Run(ctx context.Context) {
	if cs.manager == nil {
		return
	}
	ticker := time.NewTicker(cs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cs.SampleNow()
		}
	}
}

// SampleNow records one sample immediately.
func (cs *CoverageSampler) SampleNow() {
	if cs.manager == nil {
		return
	}
	stats := cs.manager.Stats()

	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.samples = append(cs.samples, CoverageSample{
		Time:     time.Now(),
		Occupied: stats.OccupiedFraction,
		Free:     stats.FreeFraction,
	})
	if len(cs.samples) > maxCoverageSamples {
		cs.samples = cs.samples[len(cs.samples)-maxCoverageSamples:]
	}
}

// Samples returns a copy of the recorded history.
func (cs *CoverageSampler) Samples() []CoverageSample {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]CoverageSample, len(cs.samples))
	copy(out, cs.samples)
	return out
}

// handleCoveragePlot renders the recorded coverage history as a PNG line
// plot of occupied and free cell fractions over time.
func (ws *WebServer) handleCoveragePlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.manager == nil {
		httputil.InternalServerError(w, "no map manager configured")
		return
	}

	samples := ws.coverage.Samples()
	if len(samples) == 0 {
		// Cold start: take a sample on demand so the plot is never empty.
		ws.coverage.SampleNow()
		samples = ws.coverage.Samples()
	}
	if len(samples) == 0 {
		httputil.NotFound(w, "no coverage samples available")
		return
	}

	start := samples[0].Time
	occupiedPts := make(plotter.XYs, 0, len(samples))
	freePts := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		t := s.Time.Sub(start).Seconds()
		occupiedPts = append(occupiedPts, plotter.XY{X: t, Y: s.Occupied})
		freePts = append(freePts, plotter.XY{X: t, Y: s.Free})
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Coverage - map %s", ws.manager.MapID)
	p.X.Label.Text = "Seconds since first sample"
	p.Y.Label.Text = "Fraction of cells"
	p.Y.Min = 0

	occupiedLine, err := plotter.NewLine(occupiedPts)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	occupiedLine.Color = color.RGBA{R: 214, G: 72, B: 54, A: 255}
	occupiedLine.Width = vg.Points(1)
	p.Add(occupiedLine)
	p.Legend.Add("occupied", occupiedLine)

	freeLine, err := plotter.NewLine(freePts)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	freeLine.Color = color.RGBA{R: 65, G: 140, B: 240, A: 255}
	freeLine.Width = vg.Points(1)
	p.Add(freeLine)
	p.Legend.Add("free", freeLine)

	p.Legend.Top = true

	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		log.Printf("Failed to write coverage plot: %v", err)
	}
}
