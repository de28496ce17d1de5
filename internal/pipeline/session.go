package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/banshee-data/sightline/internal/config"
	"github.com/banshee-data/sightline/internal/monitoring"
	"github.com/banshee-data/sightline/internal/speech"
	"github.com/banshee-data/sightline/internal/video"
	"github.com/banshee-data/sightline/internal/vision"
	"github.com/banshee-data/sightline/internal/vision/dnn"
	"github.com/banshee-data/sightline/internal/vision/notify"
	"github.com/banshee-data/sightline/internal/vision/track"
)

// observation is the perception stage's output for one processed
// frame: immutable track snapshots plus the frame geometry they were
// classified against.
type observation struct {
	seq   uint64
	at    time.Time
	width int
	snaps []vision.TrackSnapshot
}

// pauseGate lets the capture loop idle while paused without spinning.
// Pause swaps in a channel that Resume closes.
type pauseGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func (g *pauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.resume = make(chan struct{})
	}
}

func (g *pauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.resume)
	}
}

// Wait blocks while paused; returns false if ctx ended first.
func (g *pauseGate) Wait(ctx context.Context) bool {
	g.mu.Lock()
	paused, resume := g.paused, g.resume
	g.mu.Unlock()
	if !paused {
		return true
	}
	select {
	case <-resume:
		return true
	case <-ctx.Done():
		return false
	}
}

func (g *pauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Session is one pipeline run from Start to Stop. It owns the lifetime
// of all per-run state — tracks, announcement state, the recording
// handle — and is torn down completely on Stop; nothing survives to
// the next Start.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time

	opts StartOptions
	cfg  *config.TuningConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	frames *frameMailbox
	obs    *obsQueue
	recQ   chan *video.Frame

	tracker   *track.Tracker
	debouncer *notify.Debouncer
	announcer *speech.Announcer
	recorder  *video.Recorder

	gate pauseGate

	stats      stats
	recDrops   atomic.Int64
	lastWidth  atomic.Int64
	lastHeight atomic.Int64

	// Latest annotated still, refreshed at most once per second for the
	// snapshot endpoint.
	snapMu   sync.Mutex
	snapJPEG []byte
	snapAt   time.Time

	// errs carries structured stage events to the controller.
	errs chan vision.StageEvent

	// sourceDone closes when the capture stage exits, whether from
	// end-of-stream, source failure or cancellation. The controller
	// watches it to wind the session down.
	sourceDone chan struct{}

	pumpDone chan struct{}
	stopOnce sync.Once
}

func newSession(opts StartOptions) *Session {
	cfg := opts.Tuning
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ID:         uuid.New(),
		StartedAt:  time.Now(),
		opts:       opts,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		frames:     newFrameMailbox(),
		obs:        newObsQueue(4),
		recQ:       make(chan *video.Frame, cfg.GetRecordQueueCap()),
		tracker:    track.NewTracker(track.TrackerConfigFromTuning(cfg, opts.FrameWidth)),
		debouncer:  notify.NewDebouncer(notify.DebouncerConfigFromTuning(cfg)),
		announcer:  speech.NewAnnouncer(opts.Speaker, cfg.GetAnnounceQueueCap()),
		recorder:   video.NewRecorder(opts.Sink),
		errs:       make(chan vision.StageEvent, 16),
		sourceDone: make(chan struct{}),
		pumpDone:   make(chan struct{}),
	}
	s.lastWidth.Store(int64(opts.FrameWidth))
	s.lastHeight.Store(int64(opts.FrameHeight))
	return s
}

// reportError surfaces a stage-local failure to the controller without
// ever blocking the stage.
func (s *Session) reportError(stage string, err error) {
	ev := vision.StageEvent{Stage: stage, Err: err, Error: err.Error(), At: time.Now()}
	select {
	case s.errs <- ev:
	default:
		monitoring.Logf("pipeline: %s: %v (event channel full)", stage, err)
	}
}

// run spawns every stage goroutine. Stages are connected only by
// bounded queues carrying immutable snapshots; cancellation is checked
// at every blocking point.
func (s *Session) run(onEvent func(vision.NotificationEvent), onStageEvent func(vision.StageEvent)) {
	s.wg.Add(5)
	go s.runSource()
	go s.runPerception()
	go s.runNotify(onEvent)
	go s.runRecorder()
	go func() {
		defer s.wg.Done()
		s.announcer.Run(s.ctx)
	}()

	// Error pump: forward stage events until the session tears down,
	// then drain whatever is left.
	go func() {
		for {
			select {
			case ev := <-s.errs:
				if onStageEvent != nil {
					onStageEvent(ev)
				}
			case <-s.pumpDone:
				for {
					select {
					case ev := <-s.errs:
						if onStageEvent != nil {
							onStageEvent(ev)
						}
					default:
						return
					}
				}
			}
		}
	}()
}

// runSource captures frames at the source's native rate and hands them
// to the perception stage through the latest-wins mailbox.
func (s *Session) runSource() {
	defer s.wg.Done()
	defer close(s.sourceDone)
	defer s.frames.Close()

	for {
		if s.ctx.Err() != nil {
			return
		}
		if !s.gate.Wait(s.ctx) {
			return
		}

		f, err := s.opts.Source.Next(s.ctx)
		if err != nil {
			if errors.Is(err, vision.ErrEndOfStream) {
				return
			}
			s.stats.sourceErrors.Add(1)
			s.reportError("source", err)
			// Source failure starves the whole pipeline; end the
			// capture stream and let the controller stop the session.
			return
		}
		s.stats.framesCaptured.Add(1)
		s.lastWidth.Store(int64(f.Width))
		s.lastHeight.Store(int64(f.Height))

		if s.gate.Paused() {
			// Paused between capture and handoff; discard rather than
			// buffer.
			f.Release()
			continue
		}
		s.frames.Put(f)
	}
}

// runPerception runs detection and tracking on the freshest frame
// available, feeds annotated clones to the recording queue, and emits
// snapshot observations downstream.
func (s *Session) runPerception() {
	defer s.wg.Done()
	defer s.obs.Close()

	for {
		f, ok := s.frames.Get(s.ctx)
		if !ok {
			return
		}

		dets, err := s.opts.Detector.Detect(s.ctx, f.Image())
		if err != nil {
			if s.ctx.Err() != nil {
				f.Release()
				return
			}
			// This frame's tracking update is skipped; the pipeline
			// continues.
			s.stats.detectorFailures.Add(1)
			s.reportError("detector", fmt.Errorf("%w: %v", vision.ErrDetectorFailure, err))
			f.Release()
			continue
		}

		snaps := s.tracker.Update(f.Seq, f.CapturedAt, f.Width, dets)

		if s.recorder.Active() {
			clone := f.Clone()
			video.DrawOverlay(clone, snaps)
			select {
			case s.recQ <- clone:
			default:
				// Recording path is saturated; drop from the recording
				// only, never from detection.
				clone.Release()
				s.recDrops.Add(1)
			}
		}
		s.refreshSnapshot(f, snaps)
		f.Release()

		s.obs.Put(observation{seq: f.Seq, at: f.CapturedAt, width: f.Width, snaps: snaps})
	}
}

// refreshSnapshot re-encodes the annotated still served by the snapshot
// endpoint. Throttled to once per second so encoding never competes with
// detection for more than a sliver of the frame budget.
func (s *Session) refreshSnapshot(f *video.Frame, snaps []vision.TrackSnapshot) {
	if !f.HasImage() {
		return
	}
	s.snapMu.Lock()
	due := time.Since(s.snapAt) >= time.Second
	s.snapMu.Unlock()
	if !due {
		return
	}

	clone := f.Clone()
	defer clone.Release()
	video.DrawOverlay(clone, snaps)
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, clone.Image())
	if err != nil {
		s.reportError("snapshot", err)
		return
	}
	defer buf.Close()
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	s.snapMu.Lock()
	s.snapJPEG = data
	s.snapAt = time.Now()
	s.snapMu.Unlock()
}

// snapshotJPEG returns the most recent annotated still, if any.
func (s *Session) snapshotJPEG() ([]byte, time.Time) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return s.snapJPEG, s.snapAt
}

// runNotify debounces observations into notification events, queues
// them for speech and mirrors them to the controller hook.
func (s *Session) runNotify(onEvent func(vision.NotificationEvent)) {
	defer s.wg.Done()

	for {
		o, ok := s.obs.Get(s.ctx)
		if !ok {
			return
		}
		events := s.debouncer.Observe(o.snaps, o.at)
		for _, ev := range events {
			s.stats.eventsEmitted.Add(1)
			if s.opts.VoiceEnabled {
				s.announcer.Enqueue(ev)
			}
			if onEvent != nil {
				onEvent(ev)
			}
		}
	}
}

// runRecorder drains the recording queue into the recorder. Write
// latency here can never stall the live detection path.
func (s *Session) runRecorder() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			// Drain and discard whatever is still queued.
			for {
				select {
				case f := <-s.recQ:
					f.Release()
				default:
					return
				}
			}
		case f := <-s.recQ:
			if err := s.recorder.Write(f); err != nil {
				s.reportError("recorder", err)
			}
			f.Release()
		}
	}
}

// teardown cancels every stage, waits for them to exit within the
// timeout, and releases all held resources. Idempotent.
func (s *Session) teardown(timeout time.Duration) {
	s.stopOnce.Do(func() {
		s.cancel()
		// Closing the source unblocks an in-flight Next promptly.
		if err := s.opts.Source.Close(); err != nil {
			monitoring.Logf("pipeline: source close: %v", err)
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			monitoring.Logf("pipeline: session %s stages did not exit within %v", s.ID, timeout)
		}

		// Recorder handle is released exactly once even on abnormal
		// shutdown.
		if err := s.recorder.Stop(); err != nil {
			monitoring.Logf("pipeline: %v", err)
		}
		s.frames.Drain()
		if err := s.opts.Detector.Close(); err != nil {
			monitoring.Logf("pipeline: detector close: %v", err)
		}
		if err := s.opts.Speaker.Close(); err != nil {
			monitoring.Logf("pipeline: speaker close: %v", err)
		}
		close(s.pumpDone)
	})
}

// snapshotStats renders the session counters.
func (s *Session) snapshotStats() Stats {
	created, pruned := s.tracker.Counts()
	return Stats{
		FramesCaptured:   s.stats.framesCaptured.Load(),
		FramesDropped:    s.frames.Dropped(),
		ObservationsLost: s.obs.Dropped(),
		DetectorFailures: s.stats.detectorFailures.Load(),
		EventsEmitted:    s.stats.eventsEmitted.Load(),
		AnnounceDropped:  s.announcer.Dropped(),
		AnnounceSpoken:   s.announcer.Spoken(),
		SpeechFailures:   s.announcer.Failures(),
		RecordDropped:    s.recDrops.Load(),
		FramesRecorded:   s.recorder.FramesWritten(),
		ActiveTracks:     s.tracker.ActiveTracks(),
		TracksCreated:    created,
		TracksPruned:     pruned,
	}
}

// Detector alias so callers of the pipeline package don't need to
// import dnn just for the interface.
type Detector = dnn.Detector
