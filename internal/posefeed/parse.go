package posefeed

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/gridmap/internal/mapping"
)

// PoseQuality describes how much the upstream localizer trusts a pose fix.
type PoseQuality string

const (
	// QualityGood marks a fully trusted fix.
	QualityGood PoseQuality = "good"
	// QualityDegraded marks a usable fix with elevated uncertainty.
	QualityDegraded PoseQuality = "degraded"
	// QualityLost means the localizer has no usable fix; the pose fields
	// carry its last estimate.
	QualityLost PoseQuality = "lost"
)

// PoseSentence is one parsed pose report from the source.
type PoseSentence struct {
	Pose    mapping.Pose
	Quality PoseQuality
}

// sentencePrefix starts every pose sentence on the wire.
const sentencePrefix = "$POSE,"

// ParseSentence parses one pose sentence of the form
//
//	$POSE,<unix_nanos>,<x>,<y>,<heading_rad>,<quality>
//
// where quality is good, degraded or lost. Coordinates are meters in the
// world frame and heading is radians counter-clockwise from the world x
// axis.
func ParseSentence(line string) (*PoseSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, sentencePrefix) {
		return nil, fmt.Errorf("not a pose sentence: %q", line)
	}

	fields := strings.Split(line[len(sentencePrefix):], ",")
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected 5 pose fields, got %d in %q", len(fields), line)
	}

	nanos, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad pose timestamp %q: %w", fields[0], err)
	}

	x, err := parseCoordinate("x", fields[1])
	if err != nil {
		return nil, err
	}
	y, err := parseCoordinate("y", fields[2])
	if err != nil {
		return nil, err
	}
	heading, err := parseCoordinate("heading", fields[3])
	if err != nil {
		return nil, err
	}

	quality := PoseQuality(strings.ToLower(strings.TrimSpace(fields[4])))
	switch quality {
	case QualityGood, QualityDegraded, QualityLost:
	default:
		return nil, fmt.Errorf("unknown pose quality %q", fields[4])
	}

	return &PoseSentence{
		Pose: mapping.Pose{
			X:          x,
			Y:          y,
			HeadingRad: heading,
			Time:       time.Unix(0, nanos),
		},
		Quality: quality,
	}, nil
}

func parseCoordinate(name, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("bad pose %s %q: %w", name, value, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite pose %s %q", name, value)
	}
	return f, nil
}

// FormatSentence renders a pose sentence in the wire format accepted by
// ParseSentence. Used by the mock port and traffic generators.
func FormatSentence(p mapping.Pose, quality PoseQuality) string {
	return fmt.Sprintf("$POSE,%d,%.4f,%.4f,%.6f,%s",
		p.Time.UnixNano(), p.X, p.Y, p.HeadingRad, quality)
}
