// Package audio defines the PCM frame type, the [Sink] playback contract and
// the format conversion helpers shared by every playback backend.
//
// Backends live in sub-packages (audio/speaker, audio/wav, audio/opus). The
// interfaces here are intentionally narrow so the detection pipeline never
// depends on a concrete audio library.
package audio

import "time"

// AudioFrame is a block of interleaved little-endian int16 PCM.
type AudioFrame struct {
	// Data holds the PCM bytes (2 bytes per sample per channel).
	Data []byte

	// SampleRate in Hz (e.g., 44100 for synthesized cues, 48000 for Opus).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks the frame position relative to stream start.
	Timestamp time.Duration
}

// Format returns the sample rate and channel count of f.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame, or zero if the format
// is unset.
func (f AudioFrame) Duration() time.Duration {
	bytesPerSecond := f.SampleRate * f.Channels * 2
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(len(f.Data)) * time.Second / time.Duration(bytesPerSecond)
}
