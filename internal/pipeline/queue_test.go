package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sightline/internal/video"
)

func blankFrame(seq uint64) *video.Frame {
	return video.NewBlankFrame(seq, time.Now(), 640, 480)
}

// TestFrameMailboxLatestWins verifies the capture handoff keeps only
// the newest frame and counts each displacement.
func TestFrameMailboxLatestWins(t *testing.T) {
	t.Parallel()
	m := newFrameMailbox()

	m.Put(blankFrame(1))
	m.Put(blankFrame(2))
	m.Put(blankFrame(3))

	f, ok := m.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, uint64(3), f.Seq)
	assert.Equal(t, int64(2), m.Dropped())
}

// TestFrameMailboxGetCancellation verifies a blocked consumer unblocks
// on context cancellation.
func TestFrameMailboxGetCancellation(t *testing.T) {
	t.Parallel()
	m := newFrameMailbox()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := m.Get(ctx)
		done <- ok
	}()

	cancel()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not unblock on cancellation")
	}
}

// TestFrameMailboxClose verifies the consumer observes end-of-stream.
func TestFrameMailboxClose(t *testing.T) {
	t.Parallel()
	m := newFrameMailbox()
	m.Close()

	_, ok := m.Get(context.Background())
	assert.False(t, ok)
}

// TestFrameMailboxDrain verifies pause discards the pending frame and
// counts it.
func TestFrameMailboxDrain(t *testing.T) {
	t.Parallel()
	m := newFrameMailbox()
	m.Put(blankFrame(1))
	m.Drain()

	assert.Equal(t, int64(1), m.Dropped())

	// Nothing pending afterwards.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := m.Get(ctx)
	assert.False(t, ok)
}

// TestObsQueueDropOldest verifies the perception handoff sheds the
// oldest observation under pressure, preserving arrival order of the
// survivors.
func TestObsQueueDropOldest(t *testing.T) {
	t.Parallel()
	q := newObsQueue(2)

	q.Put(observation{seq: 1})
	q.Put(observation{seq: 2})
	q.Put(observation{seq: 3})

	o, ok := q.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, uint64(2), o.seq)
	o, ok = q.Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, uint64(3), o.seq)
	assert.Equal(t, int64(1), q.Dropped())
}
