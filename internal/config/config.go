// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration from YAML, applies APPMIX_*
// environment overrides and validates the result.
package config

import (
	"time"

	"appmix/internal/dsp"
	"appmix/internal/types"
)

// Defaults and limits for the routing daemon.
const (
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultSampleRate      = 48000
	DefaultFramesPerBuffer = 512
	DefaultChannels        = 2
	DefaultBackend         = BackendAuto
	DefaultControlAddress  = "127.0.0.1:7777"
	DefaultMetersTarget    = "127.0.0.1:9090"
	DefaultMetersInterval  = 50 * time.Millisecond

	MinSampleRate   = 8000
	MaxSampleRate   = 192000
	MaxBufferFrames = 8192
)

// Backend kinds.
const (
	BackendAuto     = "auto"
	BackendLoopback = "loopback"
	BackendStub     = "stub"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	LogLevel  string                   `yaml:"log_level" validate:"oneof=debug info warn warning error fatal"`
	LogFormat string                   `yaml:"log_format" validate:"oneof=text json"`
	Audio     AudioConfig              `yaml:"audio"`
	EQ        EQConfig                 `yaml:"eq"`
	Backend   string                   `yaml:"backend" validate:"oneof=auto loopback stub"`
	Sources   []SourceConfig           `yaml:"sources" validate:"dive"`
	Control   ControlConfig            `yaml:"control"`
	Meters    MetersConfig             `yaml:"meters"`
	Profiles  map[string]ProfileConfig `yaml:"profiles" validate:"dive,keys,required,endkeys"`
}

// AudioConfig holds stream settings for the loopback backend.
type AudioConfig struct {
	SampleRate      float64 `yaml:"sample_rate" validate:"gte=8000,lte=192000"`
	FramesPerBuffer int     `yaml:"frames_per_buffer" validate:"gt=0,lte=8192"`
	LowLatency      bool    `yaml:"low_latency"`
	Channels        int     `yaml:"channels" validate:"gte=1,lte=8"`
}

// EQConfig fixes the band layout of every session. An empty frequency list
// uses the built-in layout for the configured band count.
type EQConfig struct {
	Frequencies []float64 `yaml:"frequencies" validate:"omitempty,dive,gt=0,lte=96000"`
	Q           float64   `yaml:"q" validate:"gt=0,lte=20"`
}

// SourceConfig declares one application whose audio arrives on a capture
// device, for backends without per-process taps.
type SourceConfig struct {
	Device   string `yaml:"device" validate:"required"`
	BundleID string `yaml:"bundle_id" validate:"required_without=Name"`
	Name     string `yaml:"name"`
	PID      int    `yaml:"pid" validate:"gte=0"`
}

// ControlConfig holds the websocket control endpoint settings.
type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address" validate:"hostname_port"`
}

// MetersConfig holds the UDP level meter settings.
type MetersConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Target   string        `yaml:"target" validate:"hostname_port"`
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
}

// ProfileConfig is a startup profile. Omitted volume means unity.
type ProfileConfig struct {
	Volume *float64  `yaml:"volume" validate:"omitempty,gte=0,lte=1"`
	Muted  bool      `yaml:"muted"`
	Output string    `yaml:"output"`
	EQ     []float64 `yaml:"eq" validate:"omitempty,dive,gte=-12,lte=12"`
}

// Profile converts the entry into a routing profile.
func (p ProfileConfig) Profile() types.AudioProfile {
	profile := types.DefaultProfile()
	if p.Volume != nil {
		profile.Volume = *p.Volume
	}
	profile.Muted = p.Muted
	profile.OutputDeviceID = p.Output
	if p.EQ != nil {
		profile.EQ = types.EQSetting{GainsDB: append([]float64(nil), p.EQ...)}
	}
	return profile
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		Audio: AudioConfig{
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			Channels:        DefaultChannels,
		},
		EQ: EQConfig{
			Q: dsp.DefaultQ,
		},
		Backend: DefaultBackend,
		Control: ControlConfig{
			Enabled: true,
			Address: DefaultControlAddress,
		},
		Meters: MetersConfig{
			Target:   DefaultMetersTarget,
			Interval: DefaultMetersInterval,
		},
	}
}

// DSPOptions returns the processor options implied by the EQ section.
func (c *Config) DSPOptions() []dsp.Option {
	opts := []dsp.Option{
		dsp.WithQ(c.EQ.Q),
		dsp.WithChannelHint(c.Audio.Channels),
	}
	if len(c.EQ.Frequencies) > 0 {
		opts = append(opts, dsp.WithFrequencies(c.EQ.Frequencies))
	}
	return opts
}
