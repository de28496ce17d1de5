// Package video provides frame acquisition, annotation overlay and
// recording for the sightline pipeline. Frames are owned exclusively by
// the stage currently processing them: each handoff transfers
// ownership, and whichever stage drops a frame must Release it so the
// underlying pixel buffer is freed deterministically.
package video

import (
	"time"

	"gocv.io/x/gocv"
)

// Frame is one timestamped image from a source. Immutable once
// produced, except for Release which frees the pixel buffer.
type Frame struct {
	Seq        uint64
	CapturedAt time.Time
	Width      int
	Height     int

	mat      gocv.Mat
	hasMat   bool
	released bool
}

// NewFrame wraps a captured image. The frame takes ownership of mat.
func NewFrame(seq uint64, ts time.Time, mat gocv.Mat) *Frame {
	return &Frame{
		Seq:        seq,
		CapturedAt: ts,
		Width:      mat.Cols(),
		Height:     mat.Rows(),
		mat:        mat,
		hasMat:     true,
	}
}

// NewBlankFrame creates a frame with dimensions but no pixel buffer.
// Used by the synthetic source and by tests that exercise pipeline
// plumbing without OpenCV.
func NewBlankFrame(seq uint64, ts time.Time, width, height int) *Frame {
	return &Frame{
		Seq:        seq,
		CapturedAt: ts,
		Width:      width,
		Height:     height,
	}
}

// HasImage reports whether the frame carries a live pixel buffer.
func (f *Frame) HasImage() bool {
	return f.hasMat && !f.released
}

// Image returns the underlying pixel buffer. Only valid while
// HasImage() is true; callers must not Close it directly.
func (f *Frame) Image() gocv.Mat {
	return f.mat
}

// Clone deep-copies the frame, including the pixel buffer when present.
// The recording path clones so its write latency cannot touch the
// frame owned by the detection path.
func (f *Frame) Clone() *Frame {
	c := &Frame{
		Seq:        f.Seq,
		CapturedAt: f.CapturedAt,
		Width:      f.Width,
		Height:     f.Height,
	}
	if f.HasImage() {
		c.mat = f.mat.Clone()
		c.hasMat = true
	}
	return c
}

// Release frees the pixel buffer. Safe to call more than once; only
// the owning stage may call it.
func (f *Frame) Release() {
	if f == nil || f.released {
		return
	}
	f.released = true
	if f.hasMat {
		f.mat.Close()
	}
}
