package speech

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
)

// ExecSpeaker shells out to a local TTS command such as espeak-ng (or
// `say` on macOS) for each utterance. The default works on stock Linux
// installs with espeak-ng present.
type ExecSpeaker struct {
	Command string
	Args    []string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewExecSpeaker creates a speaker invoking the given command with the
// utterance text appended as the final argument. An empty command
// defaults to espeak-ng.
func NewExecSpeaker(command string, args ...string) *ExecSpeaker {
	if command == "" {
		command = "espeak-ng"
	}
	return &ExecSpeaker{Command: command, Args: args}
}

// Speak implements Speaker. Blocks until the utterance completes, the
// context is cancelled, or Cancel is called.
func (s *ExecSpeaker) Speak(ctx context.Context, text string) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	args := append(append([]string{}, s.Args...), text)
	cmd := exec.CommandContext(runCtx, s.Command, args...)
	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return runCtx.Err()
		}
		return fmt.Errorf("%s: %w", s.Command, err)
	}
	return nil
}

// Cancel implements Speaker; interrupts the utterance in progress.
func (s *ExecSpeaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Close implements Speaker.
func (s *ExecSpeaker) Close() error {
	s.Cancel()
	return nil
}
