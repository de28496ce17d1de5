package pipeline

import "sync/atomic"

// stats aggregates the session's drop and failure counters. Every drop
// in the pipeline is counted, never silent.
type stats struct {
	framesCaptured   atomic.Int64
	detectorFailures atomic.Int64
	eventsEmitted    atomic.Int64
	sourceErrors     atomic.Int64
}

// Stats is a point-in-time snapshot of session counters, serialisable
// for the status API.
type Stats struct {
	FramesCaptured   int64 `json:"frames_captured"`
	FramesDropped    int64 `json:"frames_dropped"`     // latest-wins displacement at capture→perception
	ObservationsLost int64 `json:"observations_lost"`  // drop-oldest at perception→debounce
	DetectorFailures int64 `json:"detector_failures"`
	EventsEmitted    int64 `json:"events_emitted"`
	AnnounceDropped  int64 `json:"announce_dropped"`
	AnnounceSpoken   int64 `json:"announce_spoken"`
	SpeechFailures   int64 `json:"speech_failures"`
	RecordDropped    int64 `json:"record_dropped"` // recording-path drops; detection unaffected
	FramesRecorded   int64 `json:"frames_recorded"`
	ActiveTracks     int   `json:"active_tracks"`
	TracksCreated    int64 `json:"tracks_created"`
	TracksPruned     int64 `json:"tracks_pruned"`
}
