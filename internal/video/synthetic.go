package video

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/sightline/internal/vision"
)

// SyntheticSource generates blank frames at a fixed rate without any
// camera hardware or OpenCV state. Paired with a scripted detector it
// lets the whole pipeline run in dev mode and under test.
type SyntheticSource struct {
	Width    int
	Height   int
	Interval time.Duration // zero means no pacing
	Limit    int           // zero means unlimited

	seq    uint64
	closed atomic.Bool
	done   chan struct{}
}

// NewSyntheticSource creates a synthetic source with the given
// geometry. interval is the inter-frame delay; limit bounds the total
// frame count (0 = unlimited).
func NewSyntheticSource(width, height int, interval time.Duration, limit int) *SyntheticSource {
	return &SyntheticSource{
		Width:    width,
		Height:   height,
		Interval: interval,
		Limit:    limit,
		done:     make(chan struct{}),
	}
}

// Next implements FrameSource.
func (s *SyntheticSource) Next(ctx context.Context) (*Frame, error) {
	if s.closed.Load() {
		return nil, vision.ErrEndOfStream
	}
	if s.Limit > 0 && s.seq >= uint64(s.Limit) {
		return nil, vision.ErrEndOfStream
	}
	if s.Interval > 0 {
		select {
		case <-time.After(s.Interval):
		case <-ctx.Done():
			return nil, vision.ErrEndOfStream
		case <-s.done:
			return nil, vision.ErrEndOfStream
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, vision.ErrEndOfStream
	}

	s.seq++
	return NewBlankFrame(s.seq, time.Now(), s.Width, s.Height), nil
}

// Close implements FrameSource. Idempotent, safe cross-goroutine.
func (s *SyntheticSource) Close() error {
	if !s.closed.Swap(true) {
		close(s.done)
	}
	return nil
}
