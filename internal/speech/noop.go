package speech

import "context"

// NoopSpeaker discards every utterance. Used when voice output is
// disabled.
type NoopSpeaker struct{}

// Speak implements Speaker.
func (NoopSpeaker) Speak(context.Context, string) error { return nil }

// Cancel implements Speaker.
func (NoopSpeaker) Cancel() {}

// Close implements Speaker.
func (NoopSpeaker) Close() error { return nil }
