// Package speech serialises notification events into spoken phrases.
// The announcer consumes events from a bounded drop-oldest queue and
// forwards them to a Speaker one utterance at a time; a stale "entered"
// announcement is worse than silence, so under overload the oldest
// queued event is discarded first.
package speech

import (
	"context"
	"fmt"

	"github.com/banshee-data/sightline/internal/vision"
)

// Speaker is the external speech synthesis capability. Speak is
// best-effort and may fail; Cancel interrupts the current utterance
// (used on pause and stop).
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Cancel()
	Close() error
}

// Phrase renders a notification event as the sentence spoken to the
// user, e.g. "person entering left zone".
func Phrase(ev vision.NotificationEvent) string {
	var verb string
	switch ev.Kind {
	case vision.EventEntered:
		verb = "entering"
	case vision.EventStillPresent:
		verb = "still present in"
	case vision.EventLeft:
		verb = "leaving"
	default:
		verb = "in"
	}
	return fmt.Sprintf("%s %s %s zone", ev.Label, verb, ev.Zone)
}
