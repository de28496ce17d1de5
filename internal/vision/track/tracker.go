// Package track maintains stable object identities across frames from
// noisy per-frame detections. The tracker is the sole owner of track
// state; downstream stages receive read-only snapshots ordered by
// ascending track ID so identical detector output always yields
// identical results.
package track

import (
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/sightline/internal/config"
	"github.com/banshee-data/sightline/internal/vision"
)

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	ConfidenceThreshold float64 // Detections below this are dropped before association
	SmoothingAlpha      float64 // EMA factor for smoothed confidence [0, 1]
	MaxTracks           int     // Maximum number of concurrent tracks
	MaxMisses           int     // Consecutive misses before a track is pruned
	GatingMinIoU        float64 // Minimum IoU for an overlap association
	GatingMaxCenterPx   float64 // Center-distance gate in pixels for the fallback pass
	ZoneHistoryLength   int     // Bounded ring of recent zone values per track
}

// DefaultTrackerConfig returns tracker configuration loaded from the
// canonical tuning defaults file (config/pipeline.defaults.json) for a
// given frame width. Panics if the file cannot be found — intended for
// tests and binaries that have already validated config availability.
func DefaultTrackerConfig(frameWidth int) TrackerConfig {
	cfg := config.MustLoadDefaultConfig()
	return TrackerConfigFromTuning(cfg, frameWidth)
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded
// TuningConfig. The center-distance gate scales with the frame width.
func TrackerConfigFromTuning(cfg *config.TuningConfig, frameWidth int) TrackerConfig {
	return TrackerConfig{
		ConfidenceThreshold: cfg.GetConfidenceThreshold(),
		SmoothingAlpha:      cfg.GetConfidenceSmoothingAlpha(),
		MaxTracks:           cfg.GetMaxTracks(),
		MaxMisses:           cfg.GetMaxMisses(),
		GatingMinIoU:        cfg.GetGatingMinIoU(),
		GatingMaxCenterPx:   cfg.GetGatingMaxCenterFrac() * float64(frameWidth),
		ZoneHistoryLength:   cfg.GetZoneHistoryLength(),
	}
}

// trackedObject is the tracker's private mutable record for one object.
type trackedObject struct {
	id         int64
	label      string
	box        vision.Box
	confidence float64 // EMA-smoothed
	zone       vision.Zone
	zoneTrail  []vision.Zone // oldest first, bounded at ZoneHistoryLength
	lastSeen   uint64        // frame sequence of last match
	hits       int
	misses     int
	firstSeen  time.Time
	lastUpdate time.Time
}

// Tracker assigns and maintains stable identities across frames.
type Tracker struct {
	config TrackerConfig

	tracks map[int64]*trackedObject
	nextID int64

	// Lifetime counters for observability.
	tracksCreated int64
	tracksPruned  int64

	mu sync.Mutex
}

// NewTracker creates a new tracker with the specified configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.MaxMisses < 1 {
		cfg.MaxMisses = 1
	}
	if cfg.ZoneHistoryLength < 1 {
		cfg.ZoneHistoryLength = 1
	}
	return &Tracker{
		config: cfg,
		tracks: make(map[int64]*trackedObject),
		nextID: 1,
	}
}

// Reset clears all tracks and restarts identity assignment. Used
// between sessions so no track state survives a stop/start cycle.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[int64]*trackedObject)
	t.nextID = 1
	t.tracksCreated = 0
	t.tracksPruned = 0
}

// Counts returns the number of tracks created and pruned since the last
// Reset.
func (t *Tracker) Counts() (created, pruned int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracksCreated, t.tracksPruned
}

// candidate is one detection↔track pairing considered for association.
type candidate struct {
	detIdx  int
	trackID int64
	iou     float64
	dist    float64
}

// Update consumes one frame's detections and returns ordered track
// snapshots. Tracks pruned this frame appear exactly once with state
// TrackLost. Association is deterministic: overlap pairs are taken
// greatest-IoU first, then unmatched detections fall back to the
// nearest gated center, with ties broken by higher detection
// confidence and then by lower track ID.
func (t *Tracker) Update(seq uint64, ts time.Time, frameWidth int, detections []vision.Detection) []vision.TrackSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Drop sub-threshold detections before association.
	dets := make([]vision.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Confidence >= t.config.ConfidenceThreshold {
			dets = append(dets, d)
		}
	}

	matchedDet := make([]bool, len(dets))
	matchedTrack := make(map[int64]bool, len(t.tracks))
	assigned := make(map[int]int64, len(dets)) // detIdx → trackID

	// Pass 1: greatest-overlap association.
	overlaps := t.buildCandidates(dets, func(d vision.Detection, tr *trackedObject) (float64, bool) {
		iou := d.Box.IoU(tr.box)
		return iou, iou >= t.config.GatingMinIoU && d.Label == tr.label
	})
	sort.Slice(overlaps, func(i, j int) bool {
		a, b := overlaps[i], overlaps[j]
		if a.iou != b.iou {
			return a.iou > b.iou
		}
		if dets[a.detIdx].Confidence != dets[b.detIdx].Confidence {
			return dets[a.detIdx].Confidence > dets[b.detIdx].Confidence
		}
		if a.trackID != b.trackID {
			return a.trackID < b.trackID
		}
		return a.detIdx < b.detIdx
	})
	t.applyGreedy(overlaps, matchedDet, matchedTrack, assigned)

	// Pass 2: nearest-center fallback for whatever remains. Catches
	// fast movers whose boxes no longer overlap frame to frame.
	centers := t.buildCandidates(dets, func(d vision.Detection, tr *trackedObject) (float64, bool) {
		dist := d.Box.CenterDistance(tr.box)
		return dist, dist <= t.config.GatingMaxCenterPx && d.Label == tr.label
	})
	sort.Slice(centers, func(i, j int) bool {
		a, b := centers[i], centers[j]
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		if dets[a.detIdx].Confidence != dets[b.detIdx].Confidence {
			return dets[a.detIdx].Confidence > dets[b.detIdx].Confidence
		}
		if a.trackID != b.trackID {
			return a.trackID < b.trackID
		}
		return a.detIdx < b.detIdx
	})
	t.applyGreedy(centers, matchedDet, matchedTrack, assigned)

	// Update matched tracks in place, in detection order.
	detIdxs := make([]int, 0, len(assigned))
	for di := range assigned {
		detIdxs = append(detIdxs, di)
	}
	sort.Ints(detIdxs)
	for _, di := range detIdxs {
		t.observe(t.tracks[assigned[di]], dets[di], seq, ts, frameWidth)
	}

	// Unmatched tracks accrue a miss; prune past the budget.
	var lost []*trackedObject
	for id, tr := range t.tracks {
		if matchedTrack[id] {
			continue
		}
		tr.misses++
		tr.hits = 0
		if tr.misses >= t.config.MaxMisses {
			lost = append(lost, tr)
			delete(t.tracks, id)
			t.tracksPruned++
		}
	}

	// Spawn new tracks from unmatched detections, in detection order so
	// identity assignment is reproducible.
	for i, d := range dets {
		if matchedDet[i] || len(t.tracks) >= t.config.MaxTracks {
			continue
		}
		tr := &trackedObject{
			id:         t.nextID,
			label:      d.Label,
			box:        d.Box,
			confidence: d.Confidence,
			firstSeen:  ts,
		}
		t.nextID++
		t.tracksCreated++
		t.observe(tr, d, seq, ts, frameWidth)
		t.tracks[tr.id] = tr
	}

	return t.snapshot(lost)
}

// buildCandidates scores every detection↔track pair that passes the
// given gate. Only same-label pairs are considered by the gates above.
func (t *Tracker) buildCandidates(dets []vision.Detection, score func(vision.Detection, *trackedObject) (float64, bool)) []candidate {
	// Deterministic track iteration order.
	ids := make([]int64, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []candidate
	for di, d := range dets {
		for _, id := range ids {
			tr := t.tracks[id]
			if s, ok := score(d, tr); ok {
				out = append(out, candidate{detIdx: di, trackID: id, iou: s, dist: s})
			}
		}
	}
	return out
}

// applyGreedy walks sorted candidates and claims each detection and
// track at most once, recording the chosen pairs.
func (t *Tracker) applyGreedy(cands []candidate, matchedDet []bool, matchedTrack map[int64]bool, assigned map[int]int64) {
	for _, c := range cands {
		if matchedDet[c.detIdx] || matchedTrack[c.trackID] {
			continue
		}
		matchedDet[c.detIdx] = true
		matchedTrack[c.trackID] = true
		assigned[c.detIdx] = c.trackID
	}
}

// observe folds one matched detection into a track.
func (t *Tracker) observe(tr *trackedObject, d vision.Detection, seq uint64, ts time.Time, frameWidth int) {
	tr.box = d.Box
	alpha := t.config.SmoothingAlpha
	if alpha <= 0 || alpha > 1 {
		alpha = 1
	}
	tr.confidence = alpha*d.Confidence + (1-alpha)*tr.confidence
	tr.lastSeen = seq
	tr.lastUpdate = ts
	tr.hits++
	tr.misses = 0

	tr.zone = vision.ClassifyZone(d.Box.CenterX(), frameWidth)
	tr.zoneTrail = append(tr.zoneTrail, tr.zone)
	if len(tr.zoneTrail) > t.config.ZoneHistoryLength {
		tr.zoneTrail = tr.zoneTrail[len(tr.zoneTrail)-t.config.ZoneHistoryLength:]
	}
}

// snapshot renders the post-update state as ordered read-only copies.
// Lost tracks are appended with state TrackLost; callers see each lost
// identity exactly once.
func (t *Tracker) snapshot(lost []*trackedObject) []vision.TrackSnapshot {
	out := make([]vision.TrackSnapshot, 0, len(t.tracks)+len(lost))
	for _, tr := range t.tracks {
		out = append(out, snapshotOf(tr, vision.TrackActive))
	}
	for _, tr := range lost {
		out = append(out, snapshotOf(tr, vision.TrackLost))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func snapshotOf(tr *trackedObject, state vision.TrackState) vision.TrackSnapshot {
	trail := make([]vision.Zone, len(tr.zoneTrail))
	copy(trail, tr.zoneTrail)
	return vision.TrackSnapshot{
		ID:         tr.id,
		Label:      tr.label,
		Box:        tr.box,
		Confidence: tr.confidence,
		Zone:       tr.zone,
		State:      state,
		LastSeen:   tr.lastSeen,
		Misses:     tr.misses,
		ZoneTrail:  trail,
	}
}

// ActiveTracks returns the number of live tracks.
func (t *Tracker) ActiveTracks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}
