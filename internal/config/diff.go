package config

import "maps"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked; listen
// address, sink selection and telemetry require one.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DefaultsChanged is true when the threshold, sound flag or history size
	// for new sessions changed.
	DefaultsChanged bool

	// ToneChanged is true when the duration, volume or frequency table changed.
	ToneChanged bool

	// RestartRequired lists changed fields that only take effect after a restart.
	RestartRequired []string
}

// Changed reports whether d holds any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DefaultsChanged || d.ToneChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Detection.Threshold() != new.Detection.Threshold() ||
		old.Detection.Sound() != new.Detection.Sound() ||
		old.Detection.HistorySize != new.Detection.HistorySize {
		d.DefaultsChanged = true
	}

	if old.Tone.Duration != new.Tone.Duration ||
		old.Tone.Volume != new.Tone.Volume ||
		!maps.Equal(old.Tone.Frequencies, new.Tone.Frequencies) {
		d.ToneChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Playback != new.Playback {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}
