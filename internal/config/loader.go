package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/robotface/internal/detection"
	"github.com/MrWong99/robotface/pkg/tone"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown fields are rejected. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Detection.ConfidenceThreshold == nil {
		t := DefaultThreshold
		cfg.Detection.ConfidenceThreshold = &t
	}
	if cfg.Detection.SoundEnabled == nil {
		on := true
		cfg.Detection.SoundEnabled = &on
	}
	if cfg.Detection.HistorySize == 0 {
		cfg.Detection.HistorySize = DefaultHistorySize
	}
	if cfg.Tone.Duration == 0 {
		cfg.Tone.Duration = DefaultToneDuration
	}
	if cfg.Tone.Volume == 0 {
		cfg.Tone.Volume = DefaultToneVolume
	}
	if cfg.Playback.Sink == "" {
		cfg.Playback.Sink = SinkSpeaker
	}
	if cfg.Playback.QueueSize == 0 {
		cfg.Playback.QueueSize = DefaultQueueSize
	}
	if cfg.Playback.Breaker.MaxFailures == 0 {
		cfg.Playback.Breaker.MaxFailures = DefaultMaxFailures
	}
	if cfg.Playback.Breaker.ResetTimeout == 0 {
		cfg.Playback.Breaker.ResetTimeout = DefaultResetTimeout
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if t := cfg.Detection.ConfidenceThreshold; t != nil && (math.IsNaN(*t) || *t < 0 || *t > 100) {
		errs = append(errs, fmt.Errorf("detection.confidence_threshold %v is out of range [0, 100]", *t))
	}
	if n := cfg.Detection.HistorySize; n < 0 || n > detection.MaxHistorySize {
		errs = append(errs, fmt.Errorf("detection.history_size %d is out of range [1, %d]", n, detection.MaxHistorySize))
	}

	if d := cfg.Tone.Duration; d < 0 || d > tone.MaxDuration || math.IsNaN(d) {
		errs = append(errs, fmt.Errorf("tone.duration %v is out of range (0, %v]", d, tone.MaxDuration))
	}
	if v := cfg.Tone.Volume; v < 0 || v > 1 || math.IsNaN(v) {
		errs = append(errs, fmt.Errorf("tone.volume %v is out of range [0, 1]", v))
	}
	labels := make([]string, 0, len(cfg.Tone.Frequencies))
	for label := range cfg.Tone.Frequencies {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		if f := cfg.Tone.Frequencies[label]; !(f > 0) || math.IsInf(f, 0) {
			errs = append(errs, fmt.Errorf("tone.frequencies[%s] %v must be a positive frequency", label, f))
		} else if f > tone.SampleRate/2 {
			slog.Warn("tone frequency above the Nyquist limit will alias", "label", label, "hz", f)
		}
	}

	if cfg.Playback.Sink != "" && !cfg.Playback.Sink.IsValid() {
		errs = append(errs, fmt.Errorf("playback.sink %q is invalid; valid values: speaker, wav, websocket, none", cfg.Playback.Sink))
	}
	if cfg.Playback.Sink == SinkWAV && cfg.Playback.WAVDir == "" {
		errs = append(errs, errors.New("playback.wav_dir is required when playback.sink is wav"))
	}
	if cfg.Playback.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("playback.queue_size %d must be positive", cfg.Playback.QueueSize))
	}
	if cfg.Playback.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("playback.breaker.max_failures %d must be positive", cfg.Playback.Breaker.MaxFailures))
	}
	if cfg.Playback.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("playback.breaker.reset_timeout %v must be positive", cfg.Playback.Breaker.ResetTimeout))
	}

	return errors.Join(errs...)
}
