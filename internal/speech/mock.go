package speech

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockSpeaker records utterances for tests and dev mode. It can inject
// per-call failures and an artificial speaking delay, and it detects
// overlapping utterances so tests can assert strictly sequential
// delivery.
type MockSpeaker struct {
	Delay time.Duration

	mu         sync.Mutex
	utterances []string
	errs       map[int]error
	calls      int
	cancelled  atomic.Int64

	inFlight   atomic.Int32
	overlapped atomic.Bool
}

// NewMockSpeaker creates an empty mock speaker.
func NewMockSpeaker() *MockSpeaker {
	return &MockSpeaker{}
}

// FailAt injects an error for the n-th Speak call (0-based).
func (m *MockSpeaker) FailAt(call int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errs == nil {
		m.errs = make(map[int]error)
	}
	m.errs[call] = err
}

// Speak implements Speaker.
func (m *MockSpeaker) Speak(ctx context.Context, text string) error {
	if m.inFlight.Add(1) > 1 {
		m.overlapped.Store(true)
	}
	defer m.inFlight.Add(-1)

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	call := m.calls
	m.calls++
	if err, ok := m.errs[call]; ok {
		return fmt.Errorf("mock speaker: %w", err)
	}
	m.utterances = append(m.utterances, text)
	return nil
}

// Cancel implements Speaker.
func (m *MockSpeaker) Cancel() {
	m.cancelled.Add(1)
}

// Close implements Speaker.
func (m *MockSpeaker) Close() error { return nil }

// Utterances returns a copy of everything spoken so far.
func (m *MockSpeaker) Utterances() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.utterances))
	copy(out, m.utterances)
	return out
}

// Cancelled returns how many times Cancel was called.
func (m *MockSpeaker) Cancelled() int64 {
	return m.cancelled.Load()
}

// Overlapped reports whether two utterances were ever in flight at
// once.
func (m *MockSpeaker) Overlapped() bool {
	return m.overlapped.Load()
}
