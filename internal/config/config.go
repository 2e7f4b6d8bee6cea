// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads and hot-reloads the YAML channel/schedule/traffic
// configuration (spec.md §3, §6, §7). It mirrors the teacher's
// internal/config FileConfig + ConfigHolder split: a pure Load(path) that
// parses and validates, and a Holder that watches the config
// directory with fsnotify and swaps an atomic snapshot on change.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/retrovue/playoutd/internal/perr"
)

// HorizonAuthority selects where playout-horizon planning data comes
// from (spec.md §6 CLI surface env var).
type HorizonAuthority string

const (
	HorizonLegacy        HorizonAuthority = "legacy"
	HorizonShadow        HorizonAuthority = "shadow"
	HorizonAuthoritative HorizonAuthority = "authoritative"
)

// FrameRate is the YAML-facing mirror of timeline.FrameRate; kept
// separate so the config package never imports the domain layer.
type FrameRate struct {
	Num int64 `yaml:"num"`
	Den int64 `yaml:"den"`
}

// ChannelConfig is one channel's block of the YAML document.
type ChannelConfig struct {
	Channel           string    `yaml:"channel"`
	BlockDurationMs   int64     `yaml:"block_duration_ms"`
	QueueDepth        int       `yaml:"queue_depth"`
	VideoRate         FrameRate `yaml:"video_rate"`
	AudioRate         FrameRate `yaml:"audio_rate"`
	DTarget           int64     `yaml:"d_target"`
	DMax              int64     `yaml:"d_max"`
	LMaxMs            int64     `yaml:"l_max_ms"`
	CatchUpLimitMs    int64     `yaml:"catch_up_limit_ms"`
	TransportHint     string    `yaml:"transport_hint"`
	BreakOffsetsMs    []int64   `yaml:"break_offsets_ms"`
	BreakDurationMs   int64     `yaml:"break_duration_ms"`
}

// AppConfig is the top-level document: one or more channels plus the
// process-wide knobs spec.md §6 lists as environment variables.
type AppConfig struct {
	Channels         []ChannelConfig  `yaml:"channels"`
	DebugEnabled     bool             `yaml:"debug_enabled"`
	PacingDisabled   bool             `yaml:"pacing_disabled"`
	HorizonAuthority HorizonAuthority `yaml:"horizon_authority"`
	EPGCacheTTL      time.Duration    `yaml:"epg_cache_ttl"`
	TransmissionLogRetention time.Duration `yaml:"transmission_log_retention"`
}

// frameDuration90k returns the 90kHz tick for rate, or an error if it is
// not an exact integer (spec.md §3, §7: ConfigError on frame_duration_90k
// non-integrality).
func frameDuration90k(name string, r FrameRate) (int64, error) {
	if r.Num <= 0 || r.Den <= 0 {
		return 0, perr.Wrap(perr.ErrConfig, fmt.Sprintf("%s: frame rate must be positive (%d/%d)", name, r.Num, r.Den))
	}
	if (90000*r.Den)%r.Num != 0 {
		return 0, perr.Wrap(perr.ErrConfig, fmt.Sprintf("%s: frame rate %d/%d does not yield an integer 90kHz tick", name, r.Num, r.Den))
	}
	return 90000 * r.Den / r.Num, nil
}

// Validate rejects a document that cannot be safely loaded: duplicate
// channel ids, non-integral frame rates, and non-positive durations.
func (c AppConfig) Validate() error {
	switch c.HorizonAuthority {
	case HorizonLegacy, HorizonShadow, HorizonAuthoritative, "":
	default:
		return perr.Wrap(perr.ErrConfig, fmt.Sprintf("unknown horizon_authority %q", c.HorizonAuthority))
	}

	seen := make(map[string]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.Channel == "" {
			return perr.Wrap(perr.ErrConfig, "channel entry missing channel id")
		}
		if _, dup := seen[ch.Channel]; dup {
			return perr.Wrap(perr.ErrConfig, fmt.Sprintf("duplicate channel id %q", ch.Channel))
		}
		seen[ch.Channel] = struct{}{}

		if ch.BlockDurationMs <= 0 {
			return perr.Wrap(perr.ErrConfig, fmt.Sprintf("channel %q: block_duration_ms must be positive", ch.Channel))
		}
		if ch.QueueDepth < 2 {
			return perr.Wrap(perr.ErrConfig, fmt.Sprintf("channel %q: queue_depth must be at least 2", ch.Channel))
		}
		if _, err := frameDuration90k(ch.Channel+".video_rate", ch.VideoRate); err != nil {
			return err
		}
		if _, err := frameDuration90k(ch.Channel+".audio_rate", ch.AudioRate); err != nil {
			return err
		}
	}
	return nil
}

// Load parses and validates the YAML document at path (spec.md §7:
// ConfigError is fatal at startup).
func Load(path string) (AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, perr.Wrap(perr.ErrConfig, fmt.Sprintf("read config %s: %v", path, err))
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, perr.Wrap(perr.ErrConfig, fmt.Sprintf("parse config %s: %v", path, err))
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
