package occgrid

import "strings"

// Direction is a set of grid edges encoded as a bitmask. Values combine
// with bitwise OR; a position near a corner carries two bits at once
// (e.g. DirLeft|DirDown). Extend applies each set bit independently as a
// per-axis shift, not as a single compound move.
type Direction uint8

const (
	DirNone Direction = 0
	// DirTop is the high-y edge and DirDown the low-y edge; DirLeft and
	// DirRight are the low-x and high-x edges.
	DirTop   Direction = 1 << 0
	DirLeft  Direction = 1 << 1
	DirDown  Direction = 1 << 2
	DirRight Direction = 1 << 3
)

// Has reports whether every bit of dir is set in d.
func (d Direction) Has(dir Direction) bool { return d&dir == dir }

func (d Direction) String() string {
	if d == DirNone {
		return "none"
	}
	var parts []string
	if d.Has(DirTop) {
		parts = append(parts, "top")
	}
	if d.Has(DirLeft) {
		parts = append(parts, "left")
	}
	if d.Has(DirDown) {
		parts = append(parts, "down")
	}
	if d.Has(DirRight) {
		parts = append(parts, "right")
	}
	return strings.Join(parts, "|")
}
