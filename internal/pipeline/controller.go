// Package pipeline wires the sightline stages — capture, detection and
// tracking, zone debouncing, voice output, recording — into one
// supervised session with a single consistent lifecycle. Stages run as
// independent goroutines connected by bounded queues; the controller
// owns start/pause/resume/stop and propagates cancellation.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/sightline/internal/config"
	"github.com/banshee-data/sightline/internal/eventlog"
	"github.com/banshee-data/sightline/internal/monitoring"
	"github.com/banshee-data/sightline/internal/speech"
	"github.com/banshee-data/sightline/internal/video"
	"github.com/banshee-data/sightline/internal/vision"
)

// State is the controller's lifecycle state. Paused is only reachable
// from Running; a stopped Session is terminal, and the controller
// returns to Idle so a fresh Session can be started.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// StartOptions configures one Session.
type StartOptions struct {
	Source   video.FrameSource // required
	Detector Detector          // required
	Speaker  speech.Speaker    // optional; silent when nil
	Sink     video.VideoSink   // optional; defaults to the OpenCV writer

	Tuning       *config.TuningConfig
	VoiceEnabled bool

	// FrameWidth/FrameHeight seed zone classification and recording
	// geometry until the first frame arrives.
	FrameWidth  int
	FrameHeight int

	// SourceDesc and ModelDesc are free-text labels persisted with the
	// session for review.
	SourceDesc string
	ModelDesc  string
}

// Controller owns the pipeline lifecycle.
type Controller struct {
	mu      sync.Mutex
	state   State
	session *Session

	log         *eventlog.DB // optional
	onEvent     func(vision.NotificationEvent)
	stopTimeout time.Duration
}

// NewController creates an idle controller. log may be nil to disable
// persistence.
func NewController(log *eventlog.DB) *Controller {
	return &Controller{
		state:       StateIdle,
		log:         log,
		stopTimeout: 5 * time.Second,
	}
}

// SetEventHook installs a callback invoked for every notification
// event (live UI streaming). Must be set before Start.
func (c *Controller) SetEventHook(fn func(vision.NotificationEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = fn
}

// Start transitions Idle→Running: allocates a fresh Session and spawns
// its stages. Fails with ErrAlreadyRunning when a session exists.
func (c *Controller) Start(opts StartOptions) error {
	if opts.Source == nil {
		return fmt.Errorf("pipeline: frame source required")
	}
	if opts.Detector == nil {
		return fmt.Errorf("pipeline: detector required")
	}
	if opts.Speaker == nil {
		opts.Speaker = speech.NoopSpeaker{}
	}
	if opts.Sink == nil {
		opts.Sink = &video.GocvSink{}
	}
	if opts.FrameWidth <= 0 {
		opts.FrameWidth = 640
	}
	if opts.FrameHeight <= 0 {
		opts.FrameHeight = 480
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return vision.ErrAlreadyRunning
	}
	s := newSession(opts)
	c.session = s
	c.state = StateRunning
	onEvent := c.onEvent
	c.mu.Unlock()

	if c.log != nil {
		if err := c.log.RecordSessionStart(s.ID.String(), s.StartedAt, opts.SourceDesc, opts.ModelDesc); err != nil {
			monitoring.Logf("pipeline: record session start: %v", err)
		}
	}

	s.run(
		func(ev vision.NotificationEvent) {
			if c.log != nil {
				if err := c.log.RecordNotification(s.ID.String(), ev); err != nil {
					monitoring.Logf("pipeline: record notification: %v", err)
				}
			}
			if onEvent != nil {
				onEvent(ev)
			}
		},
		func(ev vision.StageEvent) {
			monitoring.Logf("pipeline: %s: %s", ev.Stage, ev.Error)
			if c.log != nil {
				if err := c.log.RecordStageError(s.ID.String(), ev); err != nil {
					monitoring.Logf("pipeline: record stage error: %v", err)
				}
			}
		},
	)

	// When the capture stage exits — end of file, device failure or
	// cancellation — the rest of the pipeline is starved, so wind the
	// whole session down.
	go func() {
		<-s.sourceDone
		c.stopSession(s)
	}()

	monitoring.Logf("pipeline: session %s started (%s)", s.ID, opts.SourceDesc)
	return nil
}

// Pause transitions Running→Paused. The source stops producing,
// pending frames are discarded and the current utterance is cut off.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning || c.session == nil {
		return fmt.Errorf("pipeline: pause requires a running session (state %s)", c.state)
	}
	c.state = StatePaused
	c.session.gate.Pause()
	c.session.frames.Drain()
	c.session.announcer.Cancel()
	monitoring.Logf("pipeline: session %s paused", c.session.ID)
	return nil
}

// Resume transitions Paused→Running.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused || c.session == nil {
		return fmt.Errorf("pipeline: resume requires a paused session (state %s)", c.state)
	}
	c.state = StateRunning
	c.session.gate.Resume()
	monitoring.Logf("pipeline: session %s resumed", c.session.ID)
	return nil
}

// Stop tears the current session down from any state. Idempotent:
// stopping an idle controller is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	c.stopSession(s)
	return nil
}

// stopSession tears down s if it is still the current session.
// Cancellation propagates to every stage; each must exit within the
// stop timeout.
func (c *Controller) stopSession(s *Session) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.state = StateIdle
	c.mu.Unlock()

	s.gate.Resume() // unblock a paused capture loop so it can observe cancellation
	s.teardown(c.stopTimeout)

	if c.log != nil {
		if err := c.log.RecordSessionStop(s.ID.String(), time.Now()); err != nil {
			monitoring.Logf("pipeline: record session stop: %v", err)
		}
	}
	monitoring.Logf("pipeline: session %s stopped", s.ID)
}

// StartRecording opens an annotated recording for the running session.
func (c *Controller) StartRecording(path string) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return errors.New("pipeline: no active session")
	}
	w := int(s.lastWidth.Load())
	h := int(s.lastHeight.Load())
	return s.recorder.Start(path, s.cfg.GetRecordCodec(), s.cfg.GetRecordFPS(), w, h)
}

// StopRecording closes the active recording, if any.
func (c *Controller) StopRecording() error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.recorder.Stop()
}

// Snapshot returns the session's latest annotated still as JPEG bytes.
// ok is false when no session is live or no frame has been encoded yet.
func (c *Controller) Snapshot() (data []byte, at time.Time, ok bool) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil, time.Time{}, false
	}
	data, at = s.snapshotJPEG()
	if len(data) == 0 {
		return nil, time.Time{}, false
	}
	return data, at, true
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status is a point-in-time view of the controller for the API.
type Status struct {
	State     State      `json:"state"`
	SessionID string     `json:"session_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Recording bool       `json:"recording"`
	Stats     *Stats     `json:"stats,omitempty"`
}

// Status reports the controller state and, when a session is live, its
// counters.
func (c *Controller) Status() Status {
	c.mu.Lock()
	s := c.session
	state := c.state
	c.mu.Unlock()

	st := Status{State: state}
	if s != nil {
		st.SessionID = s.ID.String()
		started := s.StartedAt
		st.StartedAt = &started
		st.Recording = s.recorder.Active()
		stats := s.snapshotStats()
		st.Stats = &stats
	}
	return st
}
