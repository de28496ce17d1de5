package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/pipeline.defaults.json"

// TuningConfig represents the root configuration for pipeline tuning.
// The schema matches the /api/config endpoint so the same JSON can be
// used for both startup configuration and runtime updates. Fields are
// pointers so partial configs are safe: anything omitted falls back to
// the Get* defaults.
type TuningConfig struct {
	// Detection params
	ConfidenceThreshold      *float64 `json:"confidence_threshold,omitempty"`
	ConfidenceSmoothingAlpha *float64 `json:"confidence_smoothing_alpha,omitempty"`

	// Tracker params
	MaxTracks           *int     `json:"max_tracks,omitempty"`
	MaxMisses           *int     `json:"max_misses,omitempty"`
	GatingMinIoU        *float64 `json:"gating_min_iou,omitempty"`
	GatingMaxCenterFrac *float64 `json:"gating_max_center_frac,omitempty"`
	ZoneHistoryLength   *int     `json:"zone_history_length,omitempty"`

	// Debounce params
	Cooldown       *string `json:"cooldown,omitempty"`        // duration string like "5s"
	RepeatInterval *string `json:"repeat_interval,omitempty"` // duration string like "30s"
	RepeatEnabled  *bool   `json:"repeat_enabled,omitempty"`

	// Announcer params
	AnnounceQueueCap *int `json:"announce_queue_cap,omitempty"`

	// Recording params
	RecordQueueCap *int     `json:"record_queue_cap,omitempty"`
	RecordFPS      *float64 `json:"record_fps,omitempty"`
	RecordCodec    *string  `json:"record_codec,omitempty"`

	// Source params
	Mirror            *bool `json:"mirror,omitempty"`
	FileSourceFastest *bool `json:"file_source_fastest,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file is
// validated to have a .json extension and to be under the max file
// size. Fields omitted from the JSON retain their default values.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from
// DefaultConfigPath, searching the current directory and common parent
// directories. Panics if the file cannot be loaded; intended for test
// setup and binaries that have already validated config availability.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/vision/track/
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}
	if c.ConfidenceSmoothingAlpha != nil {
		if *c.ConfidenceSmoothingAlpha <= 0 || *c.ConfidenceSmoothingAlpha > 1 {
			return fmt.Errorf("confidence_smoothing_alpha must be in (0, 1], got %f", *c.ConfidenceSmoothingAlpha)
		}
	}
	if c.Cooldown != nil && *c.Cooldown != "" {
		if _, err := time.ParseDuration(*c.Cooldown); err != nil {
			return fmt.Errorf("invalid cooldown '%s': %w", *c.Cooldown, err)
		}
	}
	if c.RepeatInterval != nil && *c.RepeatInterval != "" {
		if _, err := time.ParseDuration(*c.RepeatInterval); err != nil {
			return fmt.Errorf("invalid repeat_interval '%s': %w", *c.RepeatInterval, err)
		}
	}
	if c.MaxMisses != nil && *c.MaxMisses < 1 {
		return fmt.Errorf("max_misses must be at least 1, got %d", *c.MaxMisses)
	}
	if c.MaxTracks != nil && *c.MaxTracks < 1 {
		return fmt.Errorf("max_tracks must be at least 1, got %d", *c.MaxTracks)
	}
	if c.AnnounceQueueCap != nil && *c.AnnounceQueueCap < 1 {
		return fmt.Errorf("announce_queue_cap must be at least 1, got %d", *c.AnnounceQueueCap)
	}
	if c.RecordQueueCap != nil && *c.RecordQueueCap < 1 {
		return fmt.Errorf("record_queue_cap must be at least 1, got %d", *c.RecordQueueCap)
	}
	if c.RecordFPS != nil && *c.RecordFPS <= 0 {
		return fmt.Errorf("record_fps must be positive, got %f", *c.RecordFPS)
	}
	if c.GatingMinIoU != nil && (*c.GatingMinIoU < 0 || *c.GatingMinIoU > 1) {
		return fmt.Errorf("gating_min_iou must be between 0 and 1, got %f", *c.GatingMinIoU)
	}
	if c.GatingMaxCenterFrac != nil && (*c.GatingMaxCenterFrac <= 0 || *c.GatingMaxCenterFrac > 1) {
		return fmt.Errorf("gating_max_center_frac must be in (0, 1], got %f", *c.GatingMaxCenterFrac)
	}
	if c.ZoneHistoryLength != nil && *c.ZoneHistoryLength < 1 {
		return fmt.Errorf("zone_history_length must be at least 1, got %d", *c.ZoneHistoryLength)
	}
	return nil
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *TuningConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.25
	}
	return *c.ConfidenceThreshold
}

// GetConfidenceSmoothingAlpha returns the confidence_smoothing_alpha value or the default.
func (c *TuningConfig) GetConfidenceSmoothingAlpha() float64 {
	if c.ConfidenceSmoothingAlpha == nil {
		return 0.3
	}
	return *c.ConfidenceSmoothingAlpha
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 32
	}
	return *c.MaxTracks
}

// GetMaxMisses returns the max_misses value or the default.
func (c *TuningConfig) GetMaxMisses() int {
	if c.MaxMisses == nil {
		return 5
	}
	return *c.MaxMisses
}

// GetGatingMinIoU returns the gating_min_iou value or the default.
func (c *TuningConfig) GetGatingMinIoU() float64 {
	if c.GatingMinIoU == nil {
		return 0.05
	}
	return *c.GatingMinIoU
}

// GetGatingMaxCenterFrac returns the gating_max_center_frac value or
// the default. The gate is this fraction of the frame width.
func (c *TuningConfig) GetGatingMaxCenterFrac() float64 {
	if c.GatingMaxCenterFrac == nil {
		return 0.2
	}
	return *c.GatingMaxCenterFrac
}

// GetZoneHistoryLength returns the zone_history_length value or the default.
func (c *TuningConfig) GetZoneHistoryLength() int {
	if c.ZoneHistoryLength == nil {
		return 8
	}
	return *c.ZoneHistoryLength
}

// GetCooldown parses and returns the cooldown as a time.Duration.
func (c *TuningConfig) GetCooldown() time.Duration {
	if c.Cooldown == nil || *c.Cooldown == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.Cooldown)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetRepeatInterval parses and returns the repeat_interval as a time.Duration.
func (c *TuningConfig) GetRepeatInterval() time.Duration {
	if c.RepeatInterval == nil || *c.RepeatInterval == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(*c.RepeatInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetRepeatEnabled returns the repeat_enabled value or the default.
func (c *TuningConfig) GetRepeatEnabled() bool {
	if c.RepeatEnabled == nil {
		return false
	}
	return *c.RepeatEnabled
}

// GetAnnounceQueueCap returns the announce_queue_cap value or the default.
func (c *TuningConfig) GetAnnounceQueueCap() int {
	if c.AnnounceQueueCap == nil {
		return 10
	}
	return *c.AnnounceQueueCap
}

// GetRecordQueueCap returns the record_queue_cap value or the default.
func (c *TuningConfig) GetRecordQueueCap() int {
	if c.RecordQueueCap == nil {
		return 10
	}
	return *c.RecordQueueCap
}

// GetRecordFPS returns the record_fps value or the default.
func (c *TuningConfig) GetRecordFPS() float64 {
	if c.RecordFPS == nil {
		return 20.0
	}
	return *c.RecordFPS
}

// GetRecordCodec returns the record_codec value or the default.
func (c *TuningConfig) GetRecordCodec() string {
	if c.RecordCodec == nil || *c.RecordCodec == "" {
		return "mp4v"
	}
	return *c.RecordCodec
}

// GetMirror returns the mirror value or the default.
func (c *TuningConfig) GetMirror() bool {
	if c.Mirror == nil {
		return false
	}
	return *c.Mirror
}

// GetFileSourceFastest returns the file_source_fastest value or the default.
func (c *TuningConfig) GetFileSourceFastest() bool {
	if c.FileSourceFastest == nil {
		return false
	}
	return *c.FileSourceFastest
}
