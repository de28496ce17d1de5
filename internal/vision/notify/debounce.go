// Package notify converts the per-frame stream of track snapshots into
// a sparse stream of notification events worth speaking aloud. The
// debouncer is the single writer of all announcement state; it runs on
// one goroutine and shares nothing, so no locking is needed beyond the
// stage boundary queues.
package notify

import (
	"sort"
	"time"

	"github.com/banshee-data/sightline/internal/config"
	"github.com/banshee-data/sightline/internal/vision"
)

// DebouncerConfig holds the announcement suppression policy.
type DebouncerConfig struct {
	Cooldown       time.Duration // Minimum gap between announcements for one track
	RepeatInterval time.Duration // Gap before a StillPresent reminder
	RepeatEnabled  bool          // Whether StillPresent reminders are emitted
}

// DebouncerConfigFromTuning builds a DebouncerConfig from a loaded
// TuningConfig.
func DebouncerConfigFromTuning(cfg *config.TuningConfig) DebouncerConfig {
	return DebouncerConfig{
		Cooldown:       cfg.GetCooldown(),
		RepeatInterval: cfg.GetRepeatInterval(),
		RepeatEnabled:  cfg.GetRepeatEnabled(),
	}
}

// announcementState is the per-track bookkeeping. Only the debouncer
// ever touches it.
type announcementState struct {
	lastZone      vision.Zone
	lastAnnounced time.Time
	announced     bool // false until the first Entered goes out
}

// Debouncer decides which zone/object events are worth announcing.
type Debouncer struct {
	config DebouncerConfig
	states map[int64]*announcementState

	// Counters for observability.
	emitted    int64
	suppressed int64
}

// NewDebouncer creates a debouncer with the given policy.
func NewDebouncer(cfg DebouncerConfig) *Debouncer {
	return &Debouncer{
		config: cfg,
		states: make(map[int64]*announcementState),
	}
}

// Reset discards all announcement state. Used between sessions.
func (d *Debouncer) Reset() {
	d.states = make(map[int64]*announcementState)
	d.emitted = 0
	d.suppressed = 0
}

// Counts returns events emitted and suppressed since the last Reset.
func (d *Debouncer) Counts() (emitted, suppressed int64) {
	return d.emitted, d.suppressed
}

// Observe consumes one frame's ordered track snapshots and returns the
// events to announce. Policy:
//   - first observation of a track → Entered, immediately
//   - zone differs from the last-announced zone → Entered for the new
//     zone, but only once the cooldown has elapsed
//   - still present past the repeat interval → StillPresent (optional)
//   - track lost → exactly one Left
//
// Events for one frame are ordered by ascending track ID; snapshots
// arrive sorted from the tracker, and the output preserves that order.
func (d *Debouncer) Observe(snaps []vision.TrackSnapshot, now time.Time) []vision.NotificationEvent {
	var events []vision.NotificationEvent

	for _, s := range snaps {
		if s.State == vision.TrackLost {
			if st, ok := d.states[s.ID]; ok {
				delete(d.states, s.ID)
				if st.announced {
					events = append(events, d.emit(s, vision.EventLeft, st.lastZone, now))
				}
			}
			continue
		}

		st, ok := d.states[s.ID]
		if !ok {
			// First observation: announce immediately.
			st = &announcementState{lastZone: s.Zone, lastAnnounced: now, announced: true}
			d.states[s.ID] = st
			events = append(events, d.emit(s, vision.EventEntered, s.Zone, now))
			continue
		}

		sinceAnnounce := now.Sub(st.lastAnnounced)
		switch {
		case s.Zone != st.lastZone:
			if sinceAnnounce >= d.config.Cooldown {
				st.lastZone = s.Zone
				st.lastAnnounced = now
				events = append(events, d.emit(s, vision.EventEntered, s.Zone, now))
			} else {
				// Jittering box near a boundary; keep quiet until the
				// cooldown expires.
				d.suppressed++
			}
		case d.config.RepeatEnabled && sinceAnnounce >= d.config.RepeatInterval:
			st.lastAnnounced = now
			events = append(events, d.emit(s, vision.EventStillPresent, s.Zone, now))
		}
	}

	// Snapshots are sorted by ID, but Left events for lost tracks can
	// interleave; restore the deterministic ordering.
	sort.Slice(events, func(i, j int) bool { return events[i].TrackID < events[j].TrackID })
	return events
}

func (d *Debouncer) emit(s vision.TrackSnapshot, kind vision.EventKind, zone vision.Zone, now time.Time) vision.NotificationEvent {
	d.emitted++
	return vision.NotificationEvent{
		TrackID:   s.ID,
		Label:     s.Label,
		Zone:      zone,
		Kind:      kind,
		Timestamp: now,
	}
}
