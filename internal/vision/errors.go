package vision

import "errors"

// Error kinds for the pipeline. SourceUnavailable is the only one fatal
// to a Session; everything else is logged, counted and survived.
var (
	// ErrSourceUnavailable means the camera or file source is
	// unreachable or has failed mid-stream. The pipeline transitions
	// to Stopped.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrEndOfStream is returned by a frame source when it has no more
	// frames (file exhausted, source closed). Not an error condition.
	ErrEndOfStream = errors.New("end of stream")

	// ErrDetectorFailure marks a per-frame detector error; that frame's
	// tracking update is skipped and the pipeline continues.
	ErrDetectorFailure = errors.New("detector failure")

	// ErrSpeechUnavailable marks a failed utterance. The voice path
	// keeps attempting subsequent events.
	ErrSpeechUnavailable = errors.New("speech unavailable")

	// ErrRecordingUnavailable means the recording destination could not
	// be opened or written. Detection and voice continue.
	ErrRecordingUnavailable = errors.New("recording unavailable")

	// ErrAlreadyRunning is returned by start() when the controller is
	// not Idle.
	ErrAlreadyRunning = errors.New("pipeline already running")
)
