package video

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/sightline/internal/vision"
)

// FrameSource produces a sequence of timestamped frames. Next may block
// briefly waiting for hardware; Close is safe to call from a different
// goroutine and causes an in-flight Next to return ErrEndOfStream
// promptly rather than blocking indefinitely.
type FrameSource interface {
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

// CameraSource captures live frames from a local camera device.
type CameraSource struct {
	capture *gocv.VideoCapture
	device  int
	mirror  bool

	seq    uint64
	closed atomic.Bool
	mu     sync.Mutex // serialises capture access against Close
}

// OpenCamera opens the camera at the given device index (0 is the
// internal webcam, 1 the first external camera).
func OpenCamera(device int, mirror bool) (*CameraSource, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: camera %d: %v", vision.ErrSourceUnavailable, device, err)
	}
	return &CameraSource{capture: vc, device: device, mirror: mirror}, nil
}

// Next implements FrameSource.
func (c *CameraSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, vision.ErrEndOfStream
	}
	if c.closed.Load() {
		return nil, vision.ErrEndOfStream
	}

	mat := gocv.NewMat()
	c.mu.Lock()
	ok := !c.closed.Load() && c.capture.Read(&mat)
	c.mu.Unlock()
	if !ok {
		mat.Close()
		if c.closed.Load() || ctx.Err() != nil {
			return nil, vision.ErrEndOfStream
		}
		return nil, fmt.Errorf("%w: camera %d read failed", vision.ErrSourceUnavailable, c.device)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%w: camera %d produced empty frame", vision.ErrSourceUnavailable, c.device)
	}
	if c.mirror {
		gocv.Flip(mat, &mat, 1)
	}

	c.seq++
	return NewFrame(c.seq, time.Now(), mat), nil
}

// Close implements FrameSource. Idempotent.
func (c *CameraSource) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture.Close()
}

// FileSource replays frames from a video file, paced to the file's
// nominal frame rate unless fastest mode is configured.
type FileSource struct {
	capture *gocv.VideoCapture
	path    string
	mirror  bool
	fastest bool
	fps     float64

	seq    uint64
	last   time.Time
	closed atomic.Bool
	mu     sync.Mutex
}

// OpenFile opens a video file for playback.
func OpenFile(path string, mirror, fastest bool) (*FileSource, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", vision.ErrSourceUnavailable, path, err)
	}
	fps := vc.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 20.0
	}
	return &FileSource{capture: vc, path: path, mirror: mirror, fastest: fastest, fps: fps}, nil
}

// FPS returns the file's nominal frame rate.
func (f *FileSource) FPS() float64 { return f.fps }

// Next implements FrameSource.
func (f *FileSource) Next(ctx context.Context) (*Frame, error) {
	if f.closed.Load() {
		return nil, vision.ErrEndOfStream
	}

	// Pace playback to the nominal rate. The wait is interruptible so
	// Close/stop never blocks behind the frame interval.
	if !f.fastest && !f.last.IsZero() {
		interval := time.Duration(float64(time.Second) / f.fps)
		wait := interval - time.Since(f.last)
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, vision.ErrEndOfStream
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, vision.ErrEndOfStream
	}

	mat := gocv.NewMat()
	f.mu.Lock()
	ok := !f.closed.Load() && f.capture.Read(&mat)
	f.mu.Unlock()
	if !ok || mat.Empty() {
		mat.Close()
		// A file that stops producing frames has simply ended.
		return nil, vision.ErrEndOfStream
	}
	if f.mirror {
		gocv.Flip(mat, &mat, 1)
	}

	f.seq++
	f.last = time.Now()
	return NewFrame(f.seq, time.Now(), mat), nil
}

// Close implements FrameSource. Idempotent.
func (f *FileSource) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capture.Close()
}
