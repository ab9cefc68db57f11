package audio_test

import (
	"encoding/binary"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/robotface/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian bytes to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestMonoToStereo(t *testing.T) {
	got := bytesToSamples(audio.MonoToStereo(samplesToBytes([]int16{100, -200, 300})))
	want := []int16{100, 100, -200, -200, 300, 300}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStereoToMono(t *testing.T) {
	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{100, 200, -100, -200, 32767, 32767})))
	want := []int16{150, -150, 32767}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResample16(t *testing.T) {
	tests := []struct {
		name      string
		in        []int16
		channels  int
		src, dst  int
		wantCount int
	}{
		{"same rate", []int16{1, 2, 3}, 1, 44100, 44100, 3},
		{"mono upsample", []int16{1000, 2000}, 1, 16000, 48000, 6},
		{"mono downsample", []int16{1, 2, 3, 4, 5, 6}, 1, 48000, 16000, 2},
		{"stereo upsample", []int16{100, 200, 300, 400}, 2, 16000, 48000, 12},
		{"cue to opus rate", make([]int16, 441), 1, 44100, 48000, 480},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := audio.Resample16(samplesToBytes(tc.in), tc.channels, tc.src, tc.dst)
			if got := len(out) / 2; got != tc.wantCount {
				t.Errorf("got %d samples, want %d", got, tc.wantCount)
			}
		})
	}
}

func TestResampleMono16_Interpolates(t *testing.T) {
	got := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{1000, 2000}), 16000, 48000))
	if got[0] != 1000 {
		t.Errorf("first sample = %d, want 1000", got[0])
	}
	if got[1] <= 1000 || got[1] >= 2000 {
		t.Errorf("second sample = %d, want between source samples", got[1])
	}
	if last := got[len(got)-1]; last != 2000 {
		t.Errorf("last sample = %d, want 2000", last)
	}
}

func TestFormatConverter_NoOp(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 44100, Channels: 1}}
	frame := audio.AudioFrame{Data: samplesToBytes([]int16{1, 2}), SampleRate: 44100, Channels: 1}
	got := conv.Convert(frame)
	if &got.Data[0] != &frame.Data[0] {
		t.Error("expected the same slice for a matching format")
	}
}

func TestFormatConverter_MonoCueToStereoDevice(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
	frame := audio.AudioFrame{
		Data:       samplesToBytes(make([]int16, 44100)),
		SampleRate: 44100,
		Channels:   1,
		Timestamp:  time.Second,
	}
	got := conv.Convert(frame)
	if got.SampleRate != 48000 || got.Channels != 2 {
		t.Fatalf("format = %s, want 48000Hz stereo", got.Format())
	}
	if got.Duration() != time.Second {
		t.Errorf("duration = %v, want 1s", got.Duration())
	}
	if got.Timestamp != time.Second {
		t.Errorf("timestamp not preserved: %v", got.Timestamp)
	}
}

func TestFormatConverter_OddByteCount(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 44100, Channels: 1}}
	got := conv.Convert(audio.AudioFrame{Data: []byte{1, 0, 7}, SampleRate: 44100, Channels: 1})
	if len(got.Data) != 2 {
		t.Errorf("got %d bytes, want 2", len(got.Data))
	}
}

func TestFormat_String(t *testing.T) {
	tests := map[audio.Format]string{
		{SampleRate: 44100, Channels: 1}: "44100Hz mono",
		{SampleRate: 48000, Channels: 2}: "48000Hz stereo",
		{SampleRate: 8000, Channels: 6}:  "8000Hz 6ch",
	}
	for f, want := range tests {
		if got := f.String(); got != want {
			t.Errorf("%+v.String() = %q, want %q", f, got, want)
		}
	}
}
