// Package tone synthesizes the short audio cue played for each expression.
//
// Every expression label maps to a carrier frequency. [Synthesize] samples a
// single sine wave at that frequency and quantizes it to mono 16-bit PCM at
// [SampleRate]. Labels that are not in the table are not an error; they fall
// back to [DefaultFrequency].
//
// Quantization scales each sample by 32767, clamps it to the int16 range and
// then applies Go's float-to-integer conversion, which truncates toward zero.
//
// All functions are pure and safe for concurrent use.
package tone

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/robotface/pkg/audio"
)

const (
	// SampleRate is the fixed output sample rate in Hz.
	SampleRate = 44100

	// Channels is the channel count of every synthesized buffer.
	Channels = 1

	// DefaultDuration is the tone length in seconds when no duration is given.
	DefaultDuration = 0.5

	// DefaultVolume is the peak amplitude (0.0–1.0) when no volume is given.
	DefaultVolume = 0.3

	// DefaultFrequency is used for any label missing from the frequency table.
	DefaultFrequency = 440.00

	// MaxDuration caps a single tone so a bad request cannot allocate
	// unbounded memory.
	MaxDuration = 10.0
)

// ErrInvalidArgument is returned by [Synthesize] when the duration or volume
// is outside its accepted range.
var ErrInvalidArgument = errors.New("tone: invalid argument")

// builtinFrequencies maps expression labels to musical notes.
var builtinFrequencies = map[string]float64{
	"neutral":   440.00, // A4
	"happy":     523.25, // C5
	"sad":       293.66, // D4
	"surprised": 783.99, // G5
	"angry":     220.00, // A3
	"excited":   659.25, // E5
}

// builtinOrder is the display order of the built-in labels.
var builtinOrder = []string{"neutral", "happy", "sad", "angry", "surprised", "excited"}

// Buffer is a synthesized mono PCM tone.
type Buffer struct {
	// Samples holds signed 16-bit PCM samples.
	Samples []int16

	// SampleRate in Hz. Always [SampleRate] for synthesized tones.
	SampleRate int

	// Channels is always 1.
	Channels int
}

// Bytes returns the samples as little-endian int16 PCM.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, len(b.Samples)*2)
	for i, s := range b.Samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// Frame wraps the buffer in an [audio.AudioFrame] for a playback sink.
func (b *Buffer) Frame() audio.AudioFrame {
	return audio.AudioFrame{
		Data:       b.Bytes(),
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
	}
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return time.Duration(frames) * time.Second / time.Duration(b.SampleRate)
}

// params collects the per-call synthesis settings.
type params struct {
	duration float64
	volume   float64
}

// Option adjusts a single synthesis call or the defaults of a [Synthesizer].
type Option func(*params)

// WithDuration sets the tone length in seconds.
func WithDuration(seconds float64) Option {
	return func(p *params) { p.duration = seconds }
}

// WithVolume sets the peak amplitude. Valid values are 0.0 through 1.0.
func WithVolume(v float64) Option {
	return func(p *params) { p.volume = v }
}

// Synthesizer holds a frequency table and default settings. The zero value is
// not usable; create one with [NewSynthesizer]. A Synthesizer is immutable
// after construction.
type Synthesizer struct {
	frequencies map[string]float64
	defaults    params
}

// NewSynthesizer returns a Synthesizer whose table is the built-in table with
// overrides applied on top. Non-positive override frequencies are ignored.
// opts become the defaults for every call to [Synthesizer.Synthesize].
func NewSynthesizer(overrides map[string]float64, opts ...Option) *Synthesizer {
	freqs := make(map[string]float64, len(builtinFrequencies)+len(overrides))
	for k, v := range builtinFrequencies {
		freqs[k] = v
	}
	for k, v := range overrides {
		if v > 0 && !math.IsInf(v, 0) {
			freqs[k] = v
		}
	}
	s := &Synthesizer{
		frequencies: freqs,
		defaults:    params{duration: DefaultDuration, volume: DefaultVolume},
	}
	for _, o := range opts {
		o(&s.defaults)
	}
	return s
}

// Frequency returns the carrier frequency for label. An exact match wins,
// then a case-insensitive one. It never fails.
func (s *Synthesizer) Frequency(label string) float64 {
	if f, ok := s.frequencies[label]; ok {
		return f
	}
	if f, ok := s.frequencies[strings.ToLower(label)]; ok {
		return f
	}
	return DefaultFrequency
}

// Labels returns every label in the table: built-ins in display order first,
// then any extra labels sorted alphabetically.
func (s *Synthesizer) Labels() []string {
	out := make([]string, 0, len(s.frequencies))
	out = append(out, builtinOrder...)
	var extra []string
	for k := range s.frequencies {
		if _, ok := builtinFrequencies[k]; !ok {
			extra = append(extra, k)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}

// Synthesize renders the tone for label. It returns round(SampleRate*duration)
// samples. It fails with [ErrInvalidArgument] if the duration is not positive
// or exceeds [MaxDuration], or if the volume is outside [0, 1].
func (s *Synthesizer) Synthesize(label string, opts ...Option) (*Buffer, error) {
	p := s.defaults
	for _, o := range opts {
		o(&p)
	}
	if err := validate(p); err != nil {
		return nil, err
	}

	freq := s.Frequency(label)
	n := int(math.Round(SampleRate * p.duration))
	samples := make([]int16, n)
	step := 2 * math.Pi * freq / SampleRate
	for i := range samples {
		samples[i] = quantize(math.Sin(step*float64(i)) * p.volume)
	}

	return &Buffer{
		Samples:    samples,
		SampleRate: SampleRate,
		Channels:   Channels,
	}, nil
}

func validate(p params) error {
	switch {
	case math.IsNaN(p.duration) || math.IsInf(p.duration, 0):
		return fmt.Errorf("%w: duration %v is not a finite number", ErrInvalidArgument, p.duration)
	case p.duration <= 0:
		return fmt.Errorf("%w: duration %.3fs must be positive", ErrInvalidArgument, p.duration)
	case p.duration > MaxDuration:
		return fmt.Errorf("%w: duration %.3fs exceeds %.0fs", ErrInvalidArgument, p.duration, MaxDuration)
	case math.IsNaN(p.volume):
		return fmt.Errorf("%w: volume is NaN", ErrInvalidArgument)
	case p.volume < 0:
		return fmt.Errorf("%w: volume %.3f must not be negative", ErrInvalidArgument, p.volume)
	case p.volume > 1:
		return fmt.Errorf("%w: volume %.3f exceeds 1.0", ErrInvalidArgument, p.volume)
	}
	return nil
}

// quantize converts a sample in [-1, 1] to int16. Out-of-range input clamps.
func quantize(v float64) int16 {
	scaled := v * 32767
	if scaled > math.MaxInt16 {
		return math.MaxInt16
	}
	if scaled < math.MinInt16 {
		return math.MinInt16
	}
	return int16(scaled)
}

var std = NewSynthesizer(nil)

// Synthesize renders the tone for label using the built-in frequency table.
// See [Synthesizer.Synthesize].
func Synthesize(label string, opts ...Option) (*Buffer, error) {
	return std.Synthesize(label, opts...)
}

// Frequency returns the built-in carrier frequency for label.
func Frequency(label string) float64 {
	return std.Frequency(label)
}
