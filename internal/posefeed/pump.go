package posefeed

import (
	"context"
	"log"

	"github.com/banshee-data/gridmap/internal/mapping"
)

// PoseSink receives parsed poses. mapping.MapManager implements it.
type PoseSink interface {
	TrackPose(p mapping.Pose)
}

// Pump subscribes to the feed and forwards parsed poses to the sink until
// ctx is cancelled or the feed closes. Good and degraded fixes reach the
// sink; lost fixes are only reported to onSentence. onSentence, when
// non-nil, observes every parsed sentence regardless of quality.
func Pump(ctx context.Context, feed PoseFeedInterface, sink PoseSink, onSentence func(*PoseSentence)) error {
	id, ch := feed.Subscribe()
	defer feed.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-ch:
			if !ok {
				return nil
			}

			sentence, err := ParseSentence(line)
			if err != nil {
				feed.NoteParseError()
				log.Printf("Bad pose sentence: %v", err)
				continue
			}

			if onSentence != nil {
				onSentence(sentence)
			}
			if sentence.Quality != QualityLost {
				sink.TrackPose(sentence.Pose)
			}
		}
	}
}
