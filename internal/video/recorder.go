package video

import (
	"fmt"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/banshee-data/sightline/internal/monitoring"
	"github.com/banshee-data/sightline/internal/vision"
)

// VideoSink is the external video encoding capability. One recording
// session brackets Open and Close; Write appends a frame in between.
type VideoSink interface {
	Open(path, codec string, fps float64, width, height int) error
	Write(f *Frame) error
	Close() error
}

// GocvSink encodes through OpenCV's VideoWriter.
type GocvSink struct {
	writer *gocv.VideoWriter
}

// Open implements VideoSink.
func (s *GocvSink) Open(path, codec string, fps float64, width, height int) error {
	w, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return err
	}
	if !w.IsOpened() {
		w.Close()
		return fmt.Errorf("video writer failed to open %q", path)
	}
	s.writer = w
	return nil
}

// Write implements VideoSink. Frames without pixels are skipped.
func (s *GocvSink) Write(f *Frame) error {
	if s.writer == nil {
		return fmt.Errorf("video writer not open")
	}
	if !f.HasImage() {
		return nil
	}
	mat := f.Image()
	return s.writer.Write(mat)
}

// Close implements VideoSink.
func (s *GocvSink) Close() error {
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}

// Recorder persists annotated frames to a video file. Once a recording
// is started the sink is released exactly once, whether by an explicit
// Stop or by pipeline teardown; a failed open reports
// ErrRecordingUnavailable and never disturbs the detection path.
type Recorder struct {
	sink VideoSink

	mu     sync.Mutex
	active bool
	path   string

	framesWritten atomic.Int64
	writeErrors   atomic.Int64
}

// NewRecorder creates a recorder over the given sink.
func NewRecorder(sink VideoSink) *Recorder {
	return &Recorder{sink: sink}
}

// Start opens the recording destination. Fails with
// ErrRecordingUnavailable if the sink cannot open, or if a recording is
// already active.
func (r *Recorder) Start(path, codec string, fps float64, width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return fmt.Errorf("%w: recording already active at %s", vision.ErrRecordingUnavailable, r.path)
	}
	if err := r.sink.Open(path, codec, fps, width, height); err != nil {
		return fmt.Errorf("%w: %v", vision.ErrRecordingUnavailable, err)
	}
	r.active = true
	r.path = path
	r.framesWritten.Store(0)
	r.writeErrors.Store(0)
	monitoring.Logf("recorder: started %s (%s %gfps %dx%d)", path, codec, fps, width, height)
	return nil
}

// Active reports whether a recording session is open.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Write appends one annotated frame. A no-op when no recording is
// active. Write errors are counted and logged but do not end the
// recording; the next stop still flushes what was written.
func (r *Recorder) Write(f *Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil
	}
	if err := r.sink.Write(f); err != nil {
		r.writeErrors.Add(1)
		return fmt.Errorf("%w: write: %v", vision.ErrRecordingUnavailable, err)
	}
	r.framesWritten.Add(1)
	return nil
}

// Stop flushes and closes the recording destination. Idempotent: the
// sink is closed exactly once per recording session, even when Stop
// races with a Write in progress.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil
	}
	r.active = false
	err := r.sink.Close()
	monitoring.Logf("recorder: stopped %s (%d frames, %d write errors)",
		r.path, r.framesWritten.Load(), r.writeErrors.Load())
	if err != nil {
		return fmt.Errorf("%w: close: %v", vision.ErrRecordingUnavailable, err)
	}
	return nil
}

// FramesWritten returns the number of frames written in the current or
// most recent recording session.
func (r *Recorder) FramesWritten() int64 {
	return r.framesWritten.Load()
}

// WriteErrors returns the number of failed writes in the current or
// most recent recording session.
func (r *Recorder) WriteErrors() int64 {
	return r.writeErrors.Load()
}
