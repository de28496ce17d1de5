package dnn

import (
	"context"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/sightline/internal/vision"
)

// ScriptedDetector replays a canned sequence of per-frame detections.
// Used in dev mode and in tests so the pipeline can run without a model
// file or camera hardware. Each Detect call consumes the next script
// entry; once the script is exhausted it returns empty results.
type ScriptedDetector struct {
	script [][]vision.Detection
	errs   map[int]error // per-call injected failures
	calls  int
	mu     sync.Mutex
}

// NewScriptedDetector creates a detector replaying the given sequence.
func NewScriptedDetector(script [][]vision.Detection) *ScriptedDetector {
	return &ScriptedDetector{script: script}
}

// FailAt injects an error for the n-th Detect call (0-based).
func (s *ScriptedDetector) FailAt(call int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs == nil {
		s.errs = make(map[int]error)
	}
	s.errs[call] = err
}

// Calls returns the number of Detect invocations so far.
func (s *ScriptedDetector) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Detect implements Detector.
func (s *ScriptedDetector) Detect(ctx context.Context, _ gocv.Mat) ([]vision.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.calls
	s.calls++
	if err, ok := s.errs[call]; ok {
		return nil, err
	}
	if call >= len(s.script) {
		return nil, nil
	}
	// Copy so callers cannot mutate the script.
	dets := make([]vision.Detection, len(s.script[call]))
	copy(dets, s.script[call])
	return dets, nil
}

// Close implements Detector.
func (s *ScriptedDetector) Close() error { return nil }
