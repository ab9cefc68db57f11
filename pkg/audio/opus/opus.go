// Package opus packetizes PCM cues into Opus packets for browser clients.
//
// Opus only supports a handful of sample rates, so frames are first converted
// to 48 kHz and then cut into 20 ms packets. The last packet is padded with
// silence.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/robotface/pkg/audio"
)

const (
	// SampleRate is the Opus encoding rate.
	SampleRate = 48000

	// FrameDurationMs is the duration covered by each packet.
	FrameDurationMs = 20

	// FrameSize is the number of samples per channel in one packet.
	FrameSize = SampleRate * FrameDurationMs / 1000 // 960

	// maxPacketBytes bounds a single encoded packet.
	maxPacketBytes = 4000
)

// Encoder wraps a gopus encoder for one output stream. Encoder state carries
// across packets, so use one Encoder per stream and do not share it between
// goroutines.
type Encoder struct {
	enc      *gopus.Encoder
	channels int
	conv     audio.FormatConverter
}

// NewEncoder creates an Encoder for the given channel count (1 or 2).
func NewEncoder(channels int) (*Encoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("opus: unsupported channel count %d", channels)
	}
	enc, err := gopus.NewEncoder(SampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{
		enc:      enc,
		channels: channels,
		conv:     audio.FormatConverter{Target: audio.Format{SampleRate: SampleRate, Channels: channels}},
	}, nil
}

// Channels returns the channel count the encoder was created with.
func (e *Encoder) Channels() int { return e.channels }

// Packetize converts frame to 48 kHz and encodes it as a sequence of 20 ms
// Opus packets. An empty frame yields no packets.
func (e *Encoder) Packetize(frame audio.AudioFrame) ([][]byte, error) {
	converted := e.conv.Convert(frame)
	pcm := bytesToInt16s(converted.Data)
	if len(pcm) == 0 {
		return nil, nil
	}

	step := FrameSize * e.channels
	packets := make([][]byte, 0, (len(pcm)+step-1)/step)
	for off := 0; off < len(pcm); off += step {
		chunk := pcm[off:min(off+step, len(pcm))]
		if len(chunk) < step {
			padded := make([]int16, step)
			copy(padded, chunk)
			chunk = padded
		}
		pkt, err := e.enc.Encode(chunk, FrameSize, maxPacketBytes)
		if err != nil {
			return nil, fmt.Errorf("opus: encode packet %d: %w", len(packets), err)
		}
		packets = append(packets, pkt)
	}
	return packets, nil
}

// bytesToInt16s converts little-endian bytes to int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
