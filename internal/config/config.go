// Package config provides the configuration schema, loader and hot-reload
// watcher for the robotface server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the robotface server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SinkKind selects where cues are played.
type SinkKind string

const (
	// SinkSpeaker plays cues on the default local audio device.
	SinkSpeaker SinkKind = "speaker"

	// SinkWAV writes every cue as a WAV file into playback.wav_dir.
	SinkWAV SinkKind = "wav"

	// SinkWebSocket only streams cues to connected browsers.
	SinkWebSocket SinkKind = "websocket"

	// SinkNone discards cues.
	SinkNone SinkKind = "none"
)

// IsValid reports whether k is a recognised sink kind.
func (k SinkKind) IsValid() bool {
	switch k {
	case SinkSpeaker, SinkWAV, SinkWebSocket, SinkNone:
		return true
	}
	return false
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr   = ":8080"
	DefaultThreshold    = 50.0
	DefaultHistorySize  = 20
	DefaultToneDuration = 0.5
	DefaultToneVolume   = 0.3
	DefaultQueueSize    = 8
	DefaultMaxFailures  = 3
	DefaultResetTimeout = 30 * time.Second
	DefaultServiceName  = "robotface"
)

// Config is the root configuration structure for robotface.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Detection DetectionConfig `yaml:"detection"`
	Tone      ToneConfig      `yaml:"tone"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// DetectionConfig holds the defaults every new session starts with.
// Pointers distinguish "unset" from an explicit zero or false.
type DetectionConfig struct {
	// ConfidenceThreshold is the initial threshold in [0, 100]. Default: 50.
	ConfidenceThreshold *float64 `yaml:"confidence_threshold"`

	// SoundEnabled is the initial sound flag. Default: true.
	SoundEnabled *bool `yaml:"sound_enabled"`

	// HistorySize is the rolling history capacity. Default: 20.
	HistorySize int `yaml:"history_size"`
}

// Threshold returns the configured threshold or the default.
func (d DetectionConfig) Threshold() float64 {
	if d.ConfidenceThreshold == nil {
		return DefaultThreshold
	}
	return *d.ConfidenceThreshold
}

// Sound returns the configured sound flag or the default.
func (d DetectionConfig) Sound() bool {
	if d.SoundEnabled == nil {
		return true
	}
	return *d.SoundEnabled
}

// ToneConfig controls cue synthesis.
type ToneConfig struct {
	// Duration is the cue length in seconds. Default: 0.5.
	Duration float64 `yaml:"duration"`

	// Volume is the peak amplitude in [0, 1]. Default: 0.3.
	Volume float64 `yaml:"volume"`

	// Frequencies overrides or extends the built-in label → Hz table.
	Frequencies map[string]float64 `yaml:"frequencies"`
}

// PlaybackConfig selects and tunes the audio sink.
type PlaybackConfig struct {
	// Sink selects the output. Default: speaker.
	Sink SinkKind `yaml:"sink"`

	// WAVDir is the output directory for the wav sink.
	WAVDir string `yaml:"wav_dir"`

	// QueueSize bounds pending cues per session. Default: 8.
	QueueSize int `yaml:"queue_size"`

	// Breaker tunes the circuit breaker in front of the sink.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the playback circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// TelemetryConfig names the service in exported telemetry.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}
