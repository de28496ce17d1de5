package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestGetterDefaults(t *testing.T) {
	cfg := &TuningConfig{} // empty config

	if cfg.GetConfidenceThreshold() != 0.25 {
		t.Errorf("GetConfidenceThreshold() = %f, want 0.25", cfg.GetConfidenceThreshold())
	}
	if cfg.GetConfidenceSmoothingAlpha() != 0.3 {
		t.Errorf("GetConfidenceSmoothingAlpha() = %f, want 0.3", cfg.GetConfidenceSmoothingAlpha())
	}
	if cfg.GetMaxTracks() != 32 {
		t.Errorf("GetMaxTracks() = %d, want 32", cfg.GetMaxTracks())
	}
	if cfg.GetMaxMisses() != 5 {
		t.Errorf("GetMaxMisses() = %d, want 5", cfg.GetMaxMisses())
	}
	if cfg.GetGatingMinIoU() != 0.05 {
		t.Errorf("GetGatingMinIoU() = %f, want 0.05", cfg.GetGatingMinIoU())
	}
	if cfg.GetGatingMaxCenterFrac() != 0.2 {
		t.Errorf("GetGatingMaxCenterFrac() = %f, want 0.2", cfg.GetGatingMaxCenterFrac())
	}
	if cfg.GetZoneHistoryLength() != 8 {
		t.Errorf("GetZoneHistoryLength() = %d, want 8", cfg.GetZoneHistoryLength())
	}
	if cfg.GetCooldown() != 5*time.Second {
		t.Errorf("GetCooldown() = %v, want 5s", cfg.GetCooldown())
	}
	if cfg.GetRepeatInterval() != 30*time.Second {
		t.Errorf("GetRepeatInterval() = %v, want 30s", cfg.GetRepeatInterval())
	}
	if cfg.GetRepeatEnabled() != false {
		t.Errorf("GetRepeatEnabled() = %v, want false", cfg.GetRepeatEnabled())
	}
	if cfg.GetAnnounceQueueCap() != 10 {
		t.Errorf("GetAnnounceQueueCap() = %d, want 10", cfg.GetAnnounceQueueCap())
	}
	if cfg.GetRecordQueueCap() != 10 {
		t.Errorf("GetRecordQueueCap() = %d, want 10", cfg.GetRecordQueueCap())
	}
	if cfg.GetRecordFPS() != 20.0 {
		t.Errorf("GetRecordFPS() = %f, want 20.0", cfg.GetRecordFPS())
	}
	if cfg.GetRecordCodec() != "mp4v" {
		t.Errorf("GetRecordCodec() = %q, want mp4v", cfg.GetRecordCodec())
	}
	if cfg.GetMirror() != false {
		t.Errorf("GetMirror() = %v, want false", cfg.GetMirror())
	}
	if cfg.GetFileSourceFastest() != false {
		t.Errorf("GetFileSourceFastest() = %v, want false", cfg.GetFileSourceFastest())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	configPath := writeConfig(t, `{
  "confidence_threshold": 0.4,
  "confidence_smoothing_alpha": 0.5,
  "max_tracks": 16,
  "max_misses": 3,
  "cooldown": "2s",
  "repeat_interval": "45s",
  "repeat_enabled": true,
  "record_codec": "avc1",
  "mirror": true
}`)

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	want := &TuningConfig{
		ConfidenceThreshold:      ptrFloat64(0.4),
		ConfidenceSmoothingAlpha: ptrFloat64(0.5),
		MaxTracks:                ptrInt(16),
		MaxMisses:                ptrInt(3),
		Cooldown:                 ptrString("2s"),
		RepeatInterval:           ptrString("45s"),
		RepeatEnabled:            ptrBool(true),
		RecordCodec:              ptrString("avc1"),
		Mirror:                   ptrBool(true),
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Loaded config mismatch (-want +got):\n%s", diff)
	}
	if cfg.GetCooldown() != 2*time.Second {
		t.Errorf("GetCooldown() = %v, want 2s", cfg.GetCooldown())
	}
	if cfg.GetRepeatInterval() != 45*time.Second {
		t.Errorf("GetRepeatInterval() = %v, want 45s", cfg.GetRepeatInterval())
	}
}

func TestLoadTuningConfigPartial(t *testing.T) {
	// Partial config: only override the threshold; everything else keeps
	// its default.
	configPath := writeConfig(t, `{"confidence_threshold": 0.6}`)

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load partial config: %v", err)
	}

	if cfg.GetConfidenceThreshold() != 0.6 {
		t.Errorf("Expected overridden threshold 0.6, got %f", cfg.GetConfidenceThreshold())
	}
	if cfg.GetCooldown() != 5*time.Second {
		t.Errorf("Expected default cooldown 5s, got %v", cfg.GetCooldown())
	}
	if cfg.GetMaxMisses() != 5 {
		t.Errorf("Expected default max misses 5, got %d", cfg.GetMaxMisses())
	}
	if cfg.GetRecordCodec() != "mp4v" {
		t.Errorf("Expected default codec mp4v, got %q", cfg.GetRecordCodec())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	configPath := writeConfig(t, `{
  "confidence_threshold": "invalid"
`)
	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	_, err := LoadTuningConfig("/some/path/config.yaml")
	if err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
}

func TestLoadTuningConfigRejectsLargeFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "large.json")

	// Create a file larger than 1MB
	largeData := make([]byte, 2*1024*1024) // 2MB
	if err := os.WriteFile(configPath, largeData, 0644); err != nil {
		t.Fatalf("Failed to write large file: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error for file size > 1MB, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{
			name:    "empty config is valid",
			cfg:     &TuningConfig{},
			wantErr: false,
		},
		{
			name:    "threshold too high",
			cfg:     &TuningConfig{ConfidenceThreshold: ptrFloat64(1.5)},
			wantErr: true,
		},
		{
			name:    "threshold negative",
			cfg:     &TuningConfig{ConfidenceThreshold: ptrFloat64(-0.1)},
			wantErr: true,
		},
		{
			name:    "alpha of zero never converges",
			cfg:     &TuningConfig{ConfidenceSmoothingAlpha: ptrFloat64(0)},
			wantErr: true,
		},
		{
			name:    "alpha of one is raw passthrough and valid",
			cfg:     &TuningConfig{ConfidenceSmoothingAlpha: ptrFloat64(1.0)},
			wantErr: false,
		},
		{
			name:    "invalid cooldown",
			cfg:     &TuningConfig{Cooldown: ptrString("invalid")},
			wantErr: true,
		},
		{
			name:    "invalid repeat interval",
			cfg:     &TuningConfig{RepeatInterval: ptrString("5 parsecs")},
			wantErr: true,
		},
		{
			name:    "zero max misses",
			cfg:     &TuningConfig{MaxMisses: ptrInt(0)},
			wantErr: true,
		},
		{
			name:    "zero max tracks",
			cfg:     &TuningConfig{MaxTracks: ptrInt(0)},
			wantErr: true,
		},
		{
			name:    "zero announce queue",
			cfg:     &TuningConfig{AnnounceQueueCap: ptrInt(0)},
			wantErr: true,
		},
		{
			name:    "negative record queue",
			cfg:     &TuningConfig{RecordQueueCap: ptrInt(-1)},
			wantErr: true,
		},
		{
			name:    "zero record fps",
			cfg:     &TuningConfig{RecordFPS: ptrFloat64(0)},
			wantErr: true,
		},
		{
			name:    "IoU gate above one",
			cfg:     &TuningConfig{GatingMinIoU: ptrFloat64(1.2)},
			wantErr: true,
		},
		{
			name:    "zero center gate",
			cfg:     &TuningConfig{GatingMaxCenterFrac: ptrFloat64(0)},
			wantErr: true,
		},
		{
			name:    "zero zone history",
			cfg:     &TuningConfig{ZoneHistoryLength: ptrInt(0)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetCooldown(t *testing.T) {
	tests := []struct {
		name string
		cfg  *TuningConfig
		want time.Duration
	}{
		{
			name: "500 milliseconds",
			cfg:  &TuningConfig{Cooldown: ptrString("500ms")},
			want: 500 * time.Millisecond,
		},
		{
			name: "2 minutes",
			cfg:  &TuningConfig{Cooldown: ptrString("2m")},
			want: 2 * time.Minute,
		},
		{
			name: "nil pointer returns default",
			cfg:  &TuningConfig{},
			want: 5 * time.Second,
		},
		{
			name: "empty string returns default",
			cfg:  &TuningConfig{Cooldown: ptrString("")},
			want: 5 * time.Second,
		},
		{
			name: "invalid duration returns default",
			cfg:  &TuningConfig{Cooldown: ptrString("invalid")},
			want: 5 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetCooldown(); got != tt.want {
				t.Errorf("GetCooldown() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestLoadDefaultConfigFile guards against the bundled defaults file
// drifting from the Get* fallbacks.
func TestLoadDefaultConfigFile(t *testing.T) {
	cfg, err := LoadTuningConfig("../../" + DefaultConfigPath)
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	empty := &TuningConfig{}

	if cfg.GetConfidenceThreshold() != empty.GetConfidenceThreshold() {
		t.Errorf("defaults file threshold %f != builtin %f", cfg.GetConfidenceThreshold(), empty.GetConfidenceThreshold())
	}
	if cfg.GetCooldown() != empty.GetCooldown() {
		t.Errorf("defaults file cooldown %v != builtin %v", cfg.GetCooldown(), empty.GetCooldown())
	}
	if cfg.GetMaxMisses() != empty.GetMaxMisses() {
		t.Errorf("defaults file max_misses %d != builtin %d", cfg.GetMaxMisses(), empty.GetMaxMisses())
	}
	if cfg.GetRecordCodec() != empty.GetRecordCodec() {
		t.Errorf("defaults file codec %q != builtin %q", cfg.GetRecordCodec(), empty.GetRecordCodec())
	}
	if cfg.GetRecordFPS() != empty.GetRecordFPS() {
		t.Errorf("defaults file fps %f != builtin %f", cfg.GetRecordFPS(), empty.GetRecordFPS())
	}
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }
