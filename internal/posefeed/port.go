package posefeed

import (
	"io"
)

// PosePorter defines the minimal interface needed for a pose source port.
// This abstraction enables unit testing without real serial hardware.
type PosePorter interface {
	io.ReadWriter
	io.Closer
}
