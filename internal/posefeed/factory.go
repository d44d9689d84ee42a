package posefeed

import (
	"go.bug.st/serial"
)

// NewRealPoseFeed creates a PoseFeed instance backed by a real serial port
// at the given path using the provided serial options.
func NewRealPoseFeed(path string, opts PortOptions) (*PoseFeed[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return NewPoseFeed[serial.Port](port), nil
}
