package posefeed

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/banshee-data/gridmap/internal/mapping"
)

// MockPosePort implements PosePorter backed by an io.Pipe. Commands
// written to it are accepted and discarded since the synthetic localizer
// takes no configuration.
type MockPosePort struct {
	reader *io.PipeReader
}

func (m *MockPosePort) Read(p []byte) (int, error) {
	return m.reader.Read(p)
}

func (m *MockPosePort) Write(p []byte) (int, error) {
	return len(p), nil
}

func (m *MockPosePort) Close() error {
	return m.reader.Close()
}

// NewMockPoseFeed creates a PoseFeed fed by a synthetic localizer that
// drives a circle of the given radius, completing one loop per period.
// Sentences are emitted every interval until the feed is closed. Used for
// demos and tests when no pose hardware is attached.
func NewMockPoseFeed(radius float64, period, interval time.Duration) *PoseFeed[*MockPosePort] {
	if radius <= 0 {
		radius = 3.0
	}
	if period <= 0 {
		period = 30 * time.Second
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	r, w := io.Pipe()

	go func() {
		defer w.Close()

		angle := 0.0
		step := 2 * math.Pi * interval.Seconds() / period.Seconds()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			pose := mapping.Pose{
				X:          radius * math.Cos(angle),
				Y:          radius * math.Sin(angle),
				HeadingRad: angle + math.Pi/2, // tangent to the circle
				Time:       time.Now(),
			}
			sentence := FormatSentence(pose, QualityGood)
			if _, err := fmt.Fprintf(w, "%s\n", sentence); err != nil {
				// Reader side closed; the feed is shutting down.
				return
			}
			angle += step
		}
	}()

	return NewPoseFeed(&MockPosePort{reader: r})
}
