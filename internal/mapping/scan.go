package mapping

import (
	"time"

	"github.com/google/uuid"
)

// Pose is a tracked sensor pose in world coordinates. Heading is radians
// counter-clockwise from the world x axis.
type Pose struct {
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	HeadingRad float64   `json:"heading_rad"`
	Time       time.Time `json:"time"`
}

// Observation is one classified range return in world coordinates. Hit marks
// an occupied endpoint; a false Hit is a free-space observation (a max-range
// return, or a point the frontend classified as clear).
type Observation struct {
	X   float64
	Y   float64
	Hit bool
}

// Scan is one batch of observations taken from a single pose. Classification
// happens upstream in the perception frontend; the mapper only applies the
// evidence. Pose.Time doubles as the scan timestamp.
type Scan struct {
	SessionID uuid.UUID
	Pose      Pose
	Points    []Observation
}
