package occgrid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Grid is a bounded occupancy map: a dense row-major array of cells
// (x varying fastest) covering a fixed-size window of the world. The
// window follows the tracked position by shifting content in place
// (Extend) instead of reallocating, so the storage footprint stays
// constant under continuous motion.
//
// Grid is the sole owner of its cell array. Copying via Clone or
// CopyFrom deep-copies the cells; grids never alias storage.
type Grid struct {
	Resolution float64 // world units per cell edge, e.g., 0.1
	Width      int     // cell count along x
	Height     int     // cell count along y
	Margin     int     // extension band width in cells, e.g., 50

	// Origin is the world coordinate of the cell (0,0) corner. It moves
	// whenever the grid is extended or re-centered so that previously
	// written world coordinates keep resolving to the same content.
	Origin r2.Vec

	// Cells holds Width*Height cells, row-major with x varying fastest.
	Cells []Cell

	// Classification thresholds in log-odds units, from GridConfig.
	OccupiedThreshold float64
	FreeThreshold     float64
}

// New allocates a Grid described by cfg, centered on the given world
// coordinate. All cells start at the unknown prior.
func New(cfg *GridConfig, center r2.Vec) (*Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid config: %w", err)
	}
	return &Grid{
		Resolution:        cfg.ResolutionMeters,
		Width:             cfg.WidthCells,
		Height:            cfg.HeightCells,
		Margin:            cfg.MarginCells,
		Origin:            originFor(center, cfg.ResolutionMeters, cfg.WidthCells, cfg.HeightCells),
		Cells:             make([]Cell, cfg.WidthCells*cfg.HeightCells),
		OccupiedThreshold: cfg.OccupiedThreshold,
		FreeThreshold:     cfg.FreeThreshold,
	}, nil
}

// originFor places the cell (0,0) corner so that center sits in the
// middle of the window.
func originFor(center r2.Vec, resolution float64, width, height int) r2.Vec {
	return r2.Vec{
		X: center.X - resolution*float64(width)/2,
		Y: center.Y - resolution*float64(height)/2,
	}
}

// Index maps cell coordinates to the linear offset in Cells.
func (g *Grid) Index(ix, iy int) int { return iy*g.Width + ix }

// CellXY recovers cell coordinates from a linear index. Inverse of Index
// for all in-range coordinates.
func (g *Grid) CellXY(idx int) (ix, iy int) { return idx % g.Width, idx / g.Width }

// Contains reports whether (ix, iy) is a valid cell coordinate.
func (g *Grid) Contains(ix, iy int) bool {
	return ix >= 0 && ix < g.Width && iy >= 0 && iy < g.Height
}

// At returns the cell at (ix, iy), or (nil, false) when the coordinate
// is out of range.
func (g *Grid) At(ix, iy int) (*Cell, bool) {
	if !g.Contains(ix, iy) {
		return nil, false
	}
	return &g.Cells[g.Index(ix, iy)], true
}

// WorldToIndex resolves a world coordinate to cell coordinates using
// floor((w-origin)/resolution) per axis. When the result falls outside
// the grid the returned indices are clamped to the nearest border cell
// and inRange is false, so callers can distinguish a clamped lookup from
// an exact one.
func (g *Grid) WorldToIndex(pos r2.Vec) (ix, iy int, inRange bool) {
	ix = int(math.Floor((pos.X - g.Origin.X) / g.Resolution))
	iy = int(math.Floor((pos.Y - g.Origin.Y) / g.Resolution))
	inRange = g.Contains(ix, iy)
	if ix < 0 {
		ix = 0
	} else if ix >= g.Width {
		ix = g.Width - 1
	}
	if iy < 0 {
		iy = 0
	} else if iy >= g.Height {
		iy = g.Height - 1
	}
	return ix, iy, inRange
}

// IndexToWorld returns the world coordinate of the center of cell
// (ix, iy). The range check is computed fresh from the arguments, not
// assumed from caller intent.
func (g *Grid) IndexToWorld(ix, iy int) (r2.Vec, bool) {
	w := r2.Vec{
		X: g.Origin.X + g.Resolution*(float64(ix)+0.5),
		Y: g.Origin.Y + g.Resolution*(float64(iy)+0.5),
	}
	return w, g.Contains(ix, iy)
}

// CellAtWorld returns the cell containing pos. When pos falls outside the
// grid it returns the clamped border cell with ok=false, mirroring
// WorldToIndex's degrade-gracefully contract for boundary queries.
func (g *Grid) CellAtWorld(pos r2.Vec) (c *Cell, ok bool) {
	ix, iy, inRange := g.WorldToIndex(pos)
	return &g.Cells[g.Index(ix, iy)], inRange
}

// MarginFlags reports which edges pos lies within Margin cells of. Flags
// are independent and combine near corners; a position in the interior,
// or one that does not resolve to a valid index at all, reports DirNone.
func (g *Grid) MarginFlags(pos r2.Vec) Direction {
	ix, iy, inRange := g.WorldToIndex(pos)
	if !inRange {
		return DirNone
	}
	var d Direction
	if ix < g.Margin {
		d |= DirLeft
	}
	if ix >= g.Width-g.Margin {
		d |= DirRight
	}
	if iy < g.Margin {
		d |= DirDown
	}
	if iy >= g.Height-g.Margin {
		d |= DirTop
	}
	return d
}

// Extend shifts the grid content in place by exactly Margin cells once
// per set flag, moving Origin the same physical distance the opposite
// way, so previously written world coordinates still resolve to the same
// relocated content. Vacated cells are reset to the unknown prior. A call
// with no flags is a no-op.
//
// Simultaneous opposite flags on one axis are not guarded; GridConfig
// validation keeps the margin below half of each dimension so a single
// position can never set both.
func (g *Grid) Extend(flags Direction) {
	if flags.Has(DirLeft) {
		g.extendLeft()
	}
	if flags.Has(DirRight) {
		g.extendRight()
	}
	if flags.Has(DirDown) {
		g.extendDown()
	}
	if flags.Has(DirTop) {
		g.extendTop()
	}
}

// Each extend walks away from its source cells so that every source is
// read before it is overwritten; the shifts need no temporary buffer.

func (g *Grid) extendLeft() {
	g.Origin.X -= float64(g.Margin) * g.Resolution
	for iy := 0; iy < g.Height; iy++ {
		row := iy * g.Width
		for ix := g.Width - 1; ix >= 0; ix-- {
			if ix < g.Margin {
				g.Cells[row+ix].Reset()
			} else {
				g.Cells[row+ix] = g.Cells[row+ix-g.Margin]
			}
		}
	}
}

func (g *Grid) extendRight() {
	g.Origin.X += float64(g.Margin) * g.Resolution
	for iy := 0; iy < g.Height; iy++ {
		row := iy * g.Width
		for ix := 0; ix < g.Width; ix++ {
			if ix >= g.Width-g.Margin {
				g.Cells[row+ix].Reset()
			} else {
				g.Cells[row+ix] = g.Cells[row+ix+g.Margin]
			}
		}
	}
}

func (g *Grid) extendDown() {
	g.Origin.Y -= float64(g.Margin) * g.Resolution
	for iy := g.Height - 1; iy >= 0; iy-- {
		row := iy * g.Width
		for ix := 0; ix < g.Width; ix++ {
			if iy < g.Margin {
				g.Cells[row+ix].Reset()
			} else {
				g.Cells[row+ix] = g.Cells[(iy-g.Margin)*g.Width+ix]
			}
		}
	}
}

func (g *Grid) extendTop() {
	g.Origin.Y += float64(g.Margin) * g.Resolution
	for iy := 0; iy < g.Height; iy++ {
		row := iy * g.Width
		for ix := 0; ix < g.Width; ix++ {
			if iy >= g.Height-g.Margin {
				g.Cells[row+ix].Reset()
			} else {
				g.Cells[row+ix] = g.Cells[(iy+g.Margin)*g.Width+ix]
			}
		}
	}
}

// Recenter discards all content: every cell returns to the unknown prior
// and Origin is re-derived from the new center. Used when an incremental
// shift is not enough, e.g. on an explicit map reset.
func (g *Grid) Recenter(center r2.Vec) {
	g.Origin = originFor(center, g.Resolution, g.Width, g.Height)
	g.ResetCells()
}

// ResetCells returns every cell to the unknown prior without moving the
// origin.
func (g *Grid) ResetCells() {
	for i := range g.Cells {
		g.Cells[i].Reset()
	}
}

// Center returns the world coordinate at the middle of the window.
func (g *Grid) Center() r2.Vec {
	return r2.Vec{
		X: g.Origin.X + g.Resolution*float64(g.Width)/2,
		Y: g.Origin.Y + g.Resolution*float64(g.Height)/2,
	}
}

// Clone returns a deep copy sharing no storage with g.
func (g *Grid) Clone() *Grid {
	clone := *g
	clone.Cells = make([]Cell, len(g.Cells))
	copy(clone.Cells, g.Cells)
	return &clone
}

// CopyFrom overwrites g with src's geometry and content. The cell array
// is reallocated only when the dimensions differ from src's.
func (g *Grid) CopyFrom(src *Grid) {
	if g == src {
		return
	}
	if g.Width != src.Width || g.Height != src.Height || len(g.Cells) != len(src.Cells) {
		g.Cells = make([]Cell, len(src.Cells))
	}
	g.Resolution = src.Resolution
	g.Width = src.Width
	g.Height = src.Height
	g.Margin = src.Margin
	g.Origin = src.Origin
	g.OccupiedThreshold = src.OccupiedThreshold
	g.FreeThreshold = src.FreeThreshold
	copy(g.Cells, src.Cells)
}
