package mapping

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/gridmap/internal/occgrid"
)

// traceRay walks the grid cells crossed by the segment from->to with an
// Amanatides & Woo DDA and calls visit for every in-grid cell strictly
// before the cell containing to. The endpoint cell is left to the caller,
// which applies the observation's own evidence there. The walk stops as
// soon as it leaves the grid, or after maxCells visits. Returns the number
// of cells visited.
//
// Caller must hold whatever lock guards the grid.
func traceRay(g *occgrid.Grid, from, to r2.Vec, maxCells int, visit func(*occgrid.Cell)) int {
	// Continuous cell coordinates; the integer part is the cell index.
	x0 := (from.X - g.Origin.X) / g.Resolution
	y0 := (from.Y - g.Origin.Y) / g.Resolution
	x1 := (to.X - g.Origin.X) / g.Resolution
	y1 := (to.Y - g.Origin.Y) / g.Resolution

	ix, iy := int(math.Floor(x0)), int(math.Floor(y0))
	endX, endY := int(math.Floor(x1)), int(math.Floor(y1))

	dx, dy := x1-x0, y1-y0
	stepX, stepY := 0, 0
	tMaxX, tMaxY := math.Inf(1), math.Inf(1)
	tDeltaX, tDeltaY := math.Inf(1), math.Inf(1)
	switch {
	case dx > 0:
		stepX = 1
		tMaxX = (math.Floor(x0) + 1 - x0) / dx
		tDeltaX = 1 / dx
	case dx < 0:
		stepX = -1
		tMaxX = (x0 - math.Floor(x0)) / -dx
		tDeltaX = -1 / dx
	}
	switch {
	case dy > 0:
		stepY = 1
		tMaxY = (math.Floor(y0) + 1 - y0) / dy
		tDeltaY = 1 / dy
	case dy < 0:
		stepY = -1
		tMaxY = (y0 - math.Floor(y0)) / -dy
		tDeltaY = -1 / dy
	}

	visited := 0
	for visited < maxCells {
		if ix == endX && iy == endY {
			break
		}
		cell, ok := g.At(ix, iy)
		if !ok {
			break
		}
		visit(cell)
		visited++
		if tMaxX < tMaxY {
			ix += stepX
			tMaxX += tDeltaX
		} else {
			iy += stepY
			tMaxY += tDeltaY
		}
	}
	return visited
}
