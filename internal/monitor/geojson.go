package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/gridmap/internal/httputil"
	"github.com/banshee-data/gridmap/internal/occgrid"
)

// handleMapGeoJSON renders the map as a GeoJSON FeatureCollection in world
// coordinates: one polygon per occupied cell, the grid window outline, and
// the current pose as a point. Consumers can drop the output straight onto
// any GeoJSON viewer.
// Query params:
//
//	max_cells (optional, default 20000) - downsample above this count
func (ws *WebServer) handleMapGeoJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.manager == nil {
		httputil.InternalServerError(w, "no map manager configured")
		return
	}

	maxCells := 20000
	if mc := r.URL.Query().Get("max_cells"); mc != "" {
		fmt.Sscanf(mc, "%d", &maxCells)
		if maxCells <= 0 || maxCells > 200000 {
			maxCells = 20000
		}
	}

	snap := ws.manager.Snapshot()

	// Collect occupied cell indices first so downsampling stays even
	// across the grid.
	var occupied []int
	for i := range snap.Cells {
		if snap.Cells[i].IsOccupied(snap.OccupiedThreshold) {
			occupied = append(occupied, i)
		}
	}
	stride := 1
	if len(occupied) > maxCells {
		stride = (len(occupied) + maxCells - 1) / maxCells
	}

	fc := geojson.NewFeatureCollection()

	// Grid window outline first, so consumers can frame the map without
	// scanning every cell feature.
	bounds := orb.Polygon{gridRing(snap)}
	bf := geojson.NewFeature(bounds)
	bf.Properties["kind"] = "grid_bounds"
	bf.Properties["area_m2"] = planar.Area(bounds)
	bf.Properties["resolution_m"] = snap.Resolution
	bf.Properties["occupied_cells"] = len(occupied)
	bf.Properties["stride"] = stride
	fc.Append(bf)

	if pose, ok := ws.manager.Pose(); ok {
		pf := geojson.NewFeature(orb.Point{pose.X, pose.Y})
		pf.Properties["kind"] = "pose"
		pf.Properties["heading_rad"] = pose.HeadingRad
		fc.Append(pf)
	}

	res := snap.Resolution
	for n := 0; n < len(occupied); n += stride {
		i := occupied[n]
		ix, iy := snap.CellXY(i)
		x0 := snap.Origin.X + res*float64(ix)
		y0 := snap.Origin.Y + res*float64(iy)
		ring := orb.Ring{
			{x0, y0}, {x0 + res, y0}, {x0 + res, y0 + res}, {x0, y0 + res}, {x0, y0},
		}
		f := geojson.NewFeature(orb.Polygon{ring})
		f.Properties["kind"] = "occupied_cell"
		f.Properties["probability"] = snap.Cells[i].Prob()
		fc.Append(f)
	}

	w.Header().Set("Content-Type", "application/geo+json")
	json.NewEncoder(w).Encode(fc)
}

// gridRing returns the closed outline of the grid window.
func gridRing(g *occgrid.Grid) orb.Ring {
	x0, y0 := g.Origin.X, g.Origin.Y
	x1 := x0 + g.Resolution*float64(g.Width)
	y1 := y0 + g.Resolution*float64(g.Height)
	return orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}
}
