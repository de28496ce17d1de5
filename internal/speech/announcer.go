package speech

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/sightline/internal/monitoring"
	"github.com/banshee-data/sightline/internal/vision"
)

// Announcer consumes notification events from a bounded queue and
// speaks them sequentially — never more than one utterance in flight.
// When the queue is full the oldest queued event is dropped and
// counted; speech failures are logged and the announcer keeps going.
// Voice failure never stops detection, tracking or recording.
type Announcer struct {
	speaker Speaker
	queue   chan vision.NotificationEvent

	enqueueMu sync.Mutex

	dropped  atomic.Int64
	spoken   atomic.Int64
	failures atomic.Int64
}

// NewAnnouncer creates an announcer with the given queue capacity.
func NewAnnouncer(speaker Speaker, queueCap int) *Announcer {
	if queueCap < 1 {
		queueCap = 1
	}
	return &Announcer{
		speaker: speaker,
		queue:   make(chan vision.NotificationEvent, queueCap),
	}
}

// Enqueue offers an event for announcement. Never blocks: if the queue
// is full, the oldest queued event is dropped to make room — freshness
// beats completeness for a user navigating in real time.
func (a *Announcer) Enqueue(ev vision.NotificationEvent) {
	a.enqueueMu.Lock()
	defer a.enqueueMu.Unlock()
	for {
		select {
		case a.queue <- ev:
			return
		default:
		}
		select {
		case old := <-a.queue:
			a.dropped.Add(1)
			monitoring.Logf("announcer: queue full, dropped %s for track %d", old.Kind, old.TrackID)
		default:
			// Consumer drained the queue between our two selects; retry
			// the send.
		}
	}
}

// Run speaks queued events until ctx is cancelled. Run owns the
// consumer side of the queue; exactly one Run per announcer.
func (a *Announcer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.speaker.Cancel()
			return
		case ev := <-a.queue:
			if err := a.speaker.Speak(ctx, Phrase(ev)); err != nil {
				if ctx.Err() != nil {
					return
				}
				a.failures.Add(1)
				monitoring.Logf("announcer: %v (%v)", vision.ErrSpeechUnavailable, err)
				continue
			}
			a.spoken.Add(1)
		}
	}
}

// Cancel interrupts the current utterance without stopping the
// announcer. Used on pause.
func (a *Announcer) Cancel() {
	a.speaker.Cancel()
}

// QueueLen returns the number of events waiting to be spoken.
func (a *Announcer) QueueLen() int {
	return len(a.queue)
}

// Dropped returns the number of events discarded under overload.
func (a *Announcer) Dropped() int64 { return a.dropped.Load() }

// Spoken returns the number of utterances delivered.
func (a *Announcer) Spoken() int64 { return a.spoken.Load() }

// Failures returns the number of failed utterances.
func (a *Announcer) Failures() int64 { return a.failures.Load() }
