// Package vision defines the shared data model for the sightline
// perception pipeline: frames' pixel-space geometry, detections, track
// snapshots, spatial zones and the notification events spoken to the
// user. Types here are immutable value snapshots; mutable state lives
// with the stage that owns it (tracker, debouncer).
package vision

import (
	"math"
	"time"
)

// Box is an axis-aligned bounding box in pixel space.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// CenterX returns the horizontal center of the box.
func (b Box) CenterX() float64 {
	return float64(b.X) + float64(b.W)/2
}

// CenterY returns the vertical center of the box.
func (b Box) CenterY() float64 {
	return float64(b.Y) + float64(b.H)/2
}

// Area returns the box area in pixels. Degenerate boxes have zero area.
func (b Box) Area() int {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// IoU returns the intersection-over-union of two boxes in [0, 1].
func (b Box) IoU(o Box) float64 {
	ix := max(b.X, o.X)
	iy := max(b.Y, o.Y)
	ix2 := min(b.X+b.W, o.X+o.W)
	iy2 := min(b.Y+b.H, o.Y+o.H)
	if ix2 <= ix || iy2 <= iy {
		return 0
	}
	inter := (ix2 - ix) * (iy2 - iy)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// CenterDistance returns the Euclidean distance between box centers.
func (b Box) CenterDistance(o Box) float64 {
	return math.Hypot(b.CenterX()-o.CenterX(), b.CenterY()-o.CenterY())
}

// Detection is a single raw detector output for one frame. Detections
// are produced fresh per frame and never persisted.
type Detection struct {
	Box        Box     `json:"box"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Zone is one of three horizontal screen regions used to spatially
// locate an object for the user.
type Zone int

const (
	ZoneLeft Zone = iota
	ZoneCenter
	ZoneRight
)

// String returns the spoken name of the zone.
func (z Zone) String() string {
	switch z {
	case ZoneLeft:
		return "left"
	case ZoneCenter:
		return "center"
	case ZoneRight:
		return "right"
	}
	return "unknown"
}

// ClassifyZone maps a horizontal box center to a Zone. Boundaries sit at
// frameWidth/3 and 2*frameWidth/3; a center exactly on a boundary
// resolves to the lower-index zone (Left at the first boundary, Center
// at the second). Centers outside [0, frameWidth) are clamped first so
// detector boxes that overhang the frame edge still classify.
func ClassifyZone(centerX float64, frameWidth int) Zone {
	w := float64(frameWidth)
	if centerX < 0 {
		centerX = 0
	}
	if centerX > w {
		centerX = w
	}
	switch {
	case centerX <= w/3:
		return ZoneLeft
	case centerX <= 2*w/3:
		return ZoneCenter
	default:
		return ZoneRight
	}
}

// TrackState is the lifecycle state of a track as seen downstream.
type TrackState string

const (
	TrackActive TrackState = "active" // matched or coasting within the miss budget
	TrackLost   TrackState = "lost"   // pruned this frame; appears exactly once
)

// TrackSnapshot is a read-only copy of one track at one frame. The
// tracker owns the underlying track; downstream stages only ever see
// snapshots.
type TrackSnapshot struct {
	ID         int64      `json:"id"`
	Label      string     `json:"label"`
	Box        Box        `json:"box"`
	Confidence float64    `json:"confidence"` // EMA-smoothed
	Zone       Zone       `json:"zone"`
	State      TrackState `json:"state"`
	LastSeen   uint64     `json:"last_seen"` // frame sequence number
	Misses     int        `json:"misses"`
	ZoneTrail  []Zone     `json:"zone_trail,omitempty"` // oldest first, bounded
}

// EventKind classifies a notification event.
type EventKind string

const (
	EventEntered      EventKind = "entered"
	EventStillPresent EventKind = "still_present"
	EventLeft         EventKind = "left"
)

// NotificationEvent is one debounced, speakable observation. Consumed
// exactly once by the voice announcer.
type NotificationEvent struct {
	TrackID   int64     `json:"track_id"`
	Label     string    `json:"label"`
	Zone      Zone      `json:"zone"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// StageEvent is a structured error surfaced from one pipeline stage to
// the controller. Stage-local failures never halt sibling stages; the
// controller logs and persists them.
type StageEvent struct {
	Stage string    `json:"stage"`
	Err   error     `json:"-"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}
