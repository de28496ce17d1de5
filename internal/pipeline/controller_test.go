package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/banshee-data/sightline/internal/speech"
	"github.com/banshee-data/sightline/internal/video"
	"github.com/banshee-data/sightline/internal/vision"
	"github.com/banshee-data/sightline/internal/vision/dnn"
)

// countingSink is a VideoSink double for recording tests.
type countingSink struct {
	mu     sync.Mutex
	opens  int
	closes int
	writes int
}

func (s *countingSink) Open(path, codec string, fps float64, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	return nil
}

func (s *countingSink) Write(f *video.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return nil
}

func (s *countingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *countingSink) counts() (opens, closes, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.closes, s.writes
}

// eventCollector gathers notification events from the controller hook.
type eventCollector struct {
	mu     sync.Mutex
	events []vision.NotificationEvent
}

func (c *eventCollector) add(ev vision.NotificationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) snapshot() []vision.NotificationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]vision.NotificationEvent, len(c.events))
	copy(out, c.events)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func personScript(frames int) [][]vision.Detection {
	script := make([][]vision.Detection, frames)
	for i := range script {
		script[i] = []vision.Detection{{
			Box:        vision.Box{X: 80, Y: 100, W: 80, H: 160},
			Label:      "person",
			Confidence: 0.9,
		}}
	}
	return script
}

func testOptions(src video.FrameSource, det Detector) StartOptions {
	return StartOptions{
		Source:      src,
		Detector:    det,
		Speaker:     speech.NewMockSpeaker(),
		Sink:        &countingSink{},
		FrameWidth:  640,
		FrameHeight: 480,
		SourceDesc:  "test",
		ModelDesc:   "scripted",
	}
}

// TestControllerLifecycle walks the full state machine:
// idle→running→paused→running→idle, with idempotent stop.
func TestControllerLifecycle(t *testing.T) {
	t.Parallel()
	c := NewController(nil)
	assert.Equal(t, StateIdle, c.State())

	src := video.NewSyntheticSource(640, 480, time.Millisecond, 0)
	require.NoError(t, c.Start(testOptions(src, dnn.NewScriptedDetector(nil))))
	assert.Equal(t, StateRunning, c.State())

	require.NoError(t, c.Pause())
	assert.Equal(t, StatePaused, c.State())

	// Pause is only valid from running.
	assert.Error(t, c.Pause())

	require.NoError(t, c.Resume())
	assert.Equal(t, StateRunning, c.State())

	// Resume is only valid from paused.
	assert.Error(t, c.Resume())

	require.NoError(t, c.Stop())
	assert.Equal(t, StateIdle, c.State())

	// Stop is idempotent.
	require.NoError(t, c.Stop())
	assert.Equal(t, StateIdle, c.State())
}

// TestControllerRejectsConcurrentStart verifies only one session can
// exist at a time, and a new one can start after stop.
func TestControllerRejectsConcurrentStart(t *testing.T) {
	t.Parallel()
	c := NewController(nil)

	src := video.NewSyntheticSource(640, 480, time.Millisecond, 0)
	require.NoError(t, c.Start(testOptions(src, dnn.NewScriptedDetector(nil))))

	src2 := video.NewSyntheticSource(640, 480, time.Millisecond, 0)
	err := c.Start(testOptions(src2, dnn.NewScriptedDetector(nil)))
	assert.ErrorIs(t, err, vision.ErrAlreadyRunning)

	require.NoError(t, c.Stop())

	// A fresh session starts cleanly after stop.
	src3 := video.NewSyntheticSource(640, 480, time.Millisecond, 0)
	require.NoError(t, c.Start(testOptions(src3, dnn.NewScriptedDetector(nil))))
	require.NoError(t, c.Stop())
}

// TestControllerValidatesOptions verifies source and detector are
// required.
func TestControllerValidatesOptions(t *testing.T) {
	t.Parallel()
	c := NewController(nil)

	err := c.Start(StartOptions{Detector: dnn.NewScriptedDetector(nil)})
	assert.Error(t, err)

	err = c.Start(StartOptions{Source: video.NewSyntheticSource(640, 480, 0, 1)})
	assert.Error(t, err)

	assert.Equal(t, StateIdle, c.State())
}

// TestControllerStopsOnEndOfStream verifies a finite source winds the
// whole session down without an explicit Stop.
func TestControllerStopsOnEndOfStream(t *testing.T) {
	t.Parallel()
	c := NewController(nil)

	src := video.NewSyntheticSource(640, 480, time.Millisecond, 5)
	require.NoError(t, c.Start(testOptions(src, dnn.NewScriptedDetector(nil))))

	require.True(t, waitFor(t, 5*time.Second, func() bool { return c.State() == StateIdle }),
		"controller did not return to idle after the source ended")
}

// TestControllerEmitsEvents runs the full pipeline against a scripted
// detection sequence and verifies entered and left notifications come
// out the hook.
func TestControllerEmitsEvents(t *testing.T) {
	t.Parallel()
	c := NewController(nil)
	collector := &eventCollector{}
	c.SetEventHook(collector.add)

	// Person visible for 3 frames, then gone. The empty tail drives the
	// miss budget so the track is pruned and a Left event fires.
	det := dnn.NewScriptedDetector(personScript(3))
	src := video.NewSyntheticSource(640, 480, time.Millisecond, 0)

	opts := testOptions(src, det)
	opts.VoiceEnabled = true
	spk := speech.NewMockSpeaker()
	opts.Speaker = spk
	require.NoError(t, c.Start(opts))

	ok := waitFor(t, 5*time.Second, func() bool {
		events := collector.snapshot()
		var entered, left bool
		for _, ev := range events {
			if ev.Kind == vision.EventEntered {
				entered = true
			}
			if ev.Kind == vision.EventLeft {
				left = true
			}
		}
		return entered && left
	})
	require.NoError(t, c.Stop())
	require.True(t, ok, "expected entered and left events, got %v", collector.snapshot())

	events := collector.snapshot()
	assert.Equal(t, vision.EventEntered, events[0].Kind)
	assert.Equal(t, "person", events[0].Label)
	assert.Equal(t, vision.ZoneLeft, events[0].Zone)

	// Voice was enabled: the entered announcement reached the speaker.
	assert.NotEmpty(t, spk.Utterances())
}

// TestControllerRecordingLifecycle verifies the sink opens on record
// start and closes exactly once on session stop.
func TestControllerRecordingLifecycle(t *testing.T) {
	t.Parallel()
	c := NewController(nil)
	sink := &countingSink{}

	src := video.NewSyntheticSource(640, 480, time.Millisecond, 0)
	opts := testOptions(src, dnn.NewScriptedDetector(personScript(1000)))
	opts.Sink = sink
	require.NoError(t, c.Start(opts))

	// No recording without an active session recording.
	assert.False(t, c.Status().Recording)

	require.NoError(t, c.StartRecording("out.mp4"))
	assert.True(t, c.Status().Recording)

	// Double start is rejected while one recording is active.
	err := c.StartRecording("other.mp4")
	assert.ErrorIs(t, err, vision.ErrRecordingUnavailable)

	// Annotated frames flow to the sink while recording.
	waitFor(t, 5*time.Second, func() bool {
		_, _, writes := sink.counts()
		return writes > 0
	})

	// Session stop closes the recording exactly once.
	require.NoError(t, c.Stop())
	opens, closes, _ := sink.counts()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, closes)
}

// TestControllerStopRecordingKeepsSessionRunning verifies stopping the
// recording alone leaves detection running.
func TestControllerStopRecordingKeepsSessionRunning(t *testing.T) {
	t.Parallel()
	c := NewController(nil)
	sink := &countingSink{}

	src := video.NewSyntheticSource(640, 480, time.Millisecond, 0)
	opts := testOptions(src, dnn.NewScriptedDetector(nil))
	opts.Sink = sink
	require.NoError(t, c.Start(opts))

	require.NoError(t, c.StartRecording("out.mp4"))
	require.NoError(t, c.StopRecording())
	assert.False(t, c.Status().Recording)
	assert.Equal(t, StateRunning, c.State())

	// StopRecording with nothing active is a no-op.
	require.NoError(t, c.StopRecording())

	require.NoError(t, c.Stop())
	opens, closes, _ := sink.counts()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, closes)
}

// TestControllerStatusCounters verifies the status snapshot carries
// live pipeline counters.
func TestControllerStatusCounters(t *testing.T) {
	t.Parallel()
	c := NewController(nil)

	src := video.NewSyntheticSource(640, 480, time.Millisecond, 0)
	require.NoError(t, c.Start(testOptions(src, dnn.NewScriptedDetector(personScript(1000)))))

	require.True(t, waitFor(t, 5*time.Second, func() bool {
		st := c.Status()
		return st.Stats != nil && st.Stats.FramesCaptured > 3 && st.Stats.ActiveTracks == 1
	}), "status counters did not advance")

	st := c.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.NotEmpty(t, st.SessionID)
	require.NotNil(t, st.StartedAt)

	require.NoError(t, c.Stop())

	// Idle status carries no session fields.
	st = c.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Empty(t, st.SessionID)
	assert.Nil(t, st.Stats)
}

// TestControllerPauseSuppressesEvents verifies no notifications are
// produced while paused and flow resumes afterwards.
func TestControllerPauseSuppressesEvents(t *testing.T) {
	t.Parallel()
	c := NewController(nil)
	collector := &eventCollector{}
	c.SetEventHook(collector.add)

	src := video.NewSyntheticSource(640, 480, time.Millisecond, 0)
	require.NoError(t, c.Start(testOptions(src, dnn.NewScriptedDetector(personScript(100000)))))

	// Wait for the first entered event.
	require.True(t, waitFor(t, 5*time.Second, func() bool { return len(collector.snapshot()) > 0 }))

	require.NoError(t, c.Pause())
	// Give in-flight observations a moment to settle, then measure.
	time.Sleep(50 * time.Millisecond)
	before := len(collector.snapshot())
	time.Sleep(100 * time.Millisecond)
	after := len(collector.snapshot())
	assert.Equal(t, before, after, "events emitted while paused")

	require.NoError(t, c.Resume())
	require.NoError(t, c.Stop())
}

// TestControllerDropCountersUnderBackpressure verifies a slow detector
// causes counted frame drops, never unbounded buffering.
func TestControllerDropCountersUnderBackpressure(t *testing.T) {
	t.Parallel()
	c := NewController(nil)

	// Detector far slower than the 1ms capture interval.
	det := &slowDetector{delay: 20 * time.Millisecond}
	src := video.NewSyntheticSource(640, 480, time.Millisecond, 0)
	require.NoError(t, c.Start(testOptions(src, det)))

	require.True(t, waitFor(t, 5*time.Second, func() bool {
		st := c.Status()
		return st.Stats != nil && st.Stats.FramesDropped > 0
	}), "expected frame drops under backpressure")

	require.NoError(t, c.Stop())
}

// slowDetector stalls each Detect call to create backpressure.
type slowDetector struct {
	delay time.Duration
}

func (d *slowDetector) Detect(ctx context.Context, _ gocv.Mat) ([]vision.Detection, error) {
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, nil
}

func (d *slowDetector) Close() error { return nil }
