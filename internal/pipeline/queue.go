package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/banshee-data/sightline/internal/video"
)

// frameMailbox is the capture→perception handoff: a capacity-1
// latest-wins slot. If the perception stage is slower than capture, the
// newest frame replaces the pending one rather than blocking capture;
// the replaced frame is released and counted. Single producer, single
// consumer.
type frameMailbox struct {
	ch      chan *video.Frame
	dropped atomic.Int64
}

func newFrameMailbox() *frameMailbox {
	return &frameMailbox{ch: make(chan *video.Frame, 1)}
}

// Put hands a frame to the consumer, displacing a pending one if
// necessary. Never blocks.
func (m *frameMailbox) Put(f *video.Frame) {
	for {
		select {
		case m.ch <- f:
			return
		default:
		}
		select {
		case old := <-m.ch:
			old.Release()
			m.dropped.Add(1)
		default:
			// Consumer took the pending frame between selects; retry.
		}
	}
}

// Get blocks for the next frame. Returns false when the mailbox is
// closed or ctx is cancelled.
func (m *frameMailbox) Get(ctx context.Context) (*video.Frame, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case f, ok := <-m.ch:
		return f, ok
	}
}

// Close ends the stream. Producer-side only.
func (m *frameMailbox) Close() {
	close(m.ch)
}

// Drain releases any pending frame. Used on pause, when queued-but-
// unprocessed frames must be discarded rather than buffered.
func (m *frameMailbox) Drain() {
	for {
		select {
		case f, ok := <-m.ch:
			if !ok {
				return
			}
			f.Release()
			m.dropped.Add(1)
		default:
			return
		}
	}
}

// Dropped returns how many frames were displaced or drained.
func (m *frameMailbox) Dropped() int64 {
	return m.dropped.Load()
}

// obsQueue is the perception→debouncer handoff: bounded, drop-oldest.
// Observations are cheap snapshots, but the queue still must not grow
// without bound when the debouncer stalls.
type obsQueue struct {
	ch      chan observation
	dropped atomic.Int64
}

func newObsQueue(capacity int) *obsQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &obsQueue{ch: make(chan observation, capacity)}
}

// Put enqueues an observation, dropping the oldest when full. Never
// blocks.
func (q *obsQueue) Put(o observation) {
	for {
		select {
		case q.ch <- o:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Get blocks for the next observation. Returns false when the queue is
// closed or ctx is cancelled.
func (q *obsQueue) Get(ctx context.Context) (observation, bool) {
	select {
	case <-ctx.Done():
		return observation{}, false
	case o, ok := <-q.ch:
		return o, ok
	}
}

// Close ends the stream. Producer-side only.
func (q *obsQueue) Close() {
	close(q.ch)
}

// Dropped returns how many observations were displaced.
func (q *obsQueue) Dropped() int64 {
	return q.dropped.Load()
}
