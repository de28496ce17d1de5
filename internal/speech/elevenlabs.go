// ElevenLabs HTTP speaker.
//
// Synthesises each utterance through the ElevenLabs streaming
// text-to-speech API (16kHz mono PCM output) and pipes the audio into a
// local playback command.
//
// Reference: https://elevenlabs.io/docs/api-reference/text-to-speech/stream
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"sync"
)

const (
	elevenLabsEndpoint     = "https://api.elevenlabs.io/v1/text-to-speech"
	elevenLabsDefaultModel = "eleven_multilingual_v2"
	elevenLabsOutputFormat = "pcm_16000" // 16kHz mono PCM
)

// ElevenLabsConfig holds the configuration for the ElevenLabs speaker.
type ElevenLabsConfig struct {
	APIKey  string   // Required: ElevenLabs API key
	VoiceID string   // Required: voice to use
	Model   string   // Optional: model ID (default eleven_multilingual_v2)
	BaseURL string   // Optional: override endpoint (tests)
	Player  []string // Optional: playback command for raw 16kHz s16le PCM on stdin
}

// ElevenLabsSpeaker synthesises utterances over HTTP and plays them
// through a local audio command.
type ElevenLabsSpeaker struct {
	cfg    ElevenLabsConfig
	client *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewElevenLabsSpeaker validates the config and returns a speaker.
func NewElevenLabsSpeaker(cfg ElevenLabsConfig) (*ElevenLabsSpeaker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("elevenlabs: API key required")
	}
	if cfg.VoiceID == "" {
		return nil, fmt.Errorf("elevenlabs: voice ID required")
	}
	if cfg.Model == "" {
		cfg.Model = elevenLabsDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = elevenLabsEndpoint
	}
	if len(cfg.Player) == 0 {
		cfg.Player = []string{"aplay", "-q", "-r", "16000", "-f", "S16_LE", "-t", "raw", "-"}
	}
	return &ElevenLabsSpeaker{cfg: cfg, client: &http.Client{}}, nil
}

// Speak implements Speaker.
func (s *ElevenLabsSpeaker) Speak(ctx context.Context, text string) error {
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

	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": s.cfg.Model,
	})
	if err != nil {
		return err
	}

	reqURL := fmt.Sprintf("%s/%s/stream?output_format=%s",
		s.cfg.BaseURL, url.PathEscape(s.cfg.VoiceID), elevenLabsOutputFormat)
	req, err := http.NewRequestWithContext(runCtx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("elevenlabs: status %d: %s", resp.StatusCode, msg)
	}

	return s.play(runCtx, resp.Body)
}

// play pipes the PCM stream into the configured playback command.
func (s *ElevenLabsSpeaker) play(ctx context.Context, audio io.Reader) error {
	cmd := exec.CommandContext(ctx, s.cfg.Player[0], s.cfg.Player[1:]...)
	cmd.Stdin = audio
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", s.cfg.Player[0], err)
	}
	return nil
}

// Cancel implements Speaker.
func (s *ElevenLabsSpeaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Close implements Speaker.
func (s *ElevenLabsSpeaker) Close() error {
	s.Cancel()
	s.client.CloseIdleConnections()
	return nil
}
