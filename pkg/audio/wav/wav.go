// Package wav writes PCM frames as RIFF/WAVE files and provides a [DirSink]
// that stores every played cue as a file, for hosts without a sound device.
package wav

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/MrWong99/robotface/pkg/audio"
)

// headerSize is the size of the canonical 44-byte PCM WAVE header.
const headerSize = 44

// header mirrors the canonical PCM WAVE layout field by field.
type header struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// Encode writes frame to w as a 16-bit PCM WAVE file.
func Encode(w io.Writer, frame audio.AudioFrame) error {
	if frame.SampleRate <= 0 || frame.Channels <= 0 {
		return fmt.Errorf("wav: invalid format %s", frame.Format())
	}
	data := frame.Data
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	blockAlign := frame.Channels * 2
	h := header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(headerSize - 8 + len(data)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(frame.Channels),
		SampleRate:    uint32(frame.SampleRate),
		ByteRate:      uint32(frame.SampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(data)),
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("wav: write header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("wav: write data: %w", err)
	}
	return nil
}

// Decode reads a 16-bit PCM WAVE stream produced by [Encode].
func Decode(r io.Reader) (audio.AudioFrame, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return audio.AudioFrame{}, fmt.Errorf("wav: read header: %w", err)
	}
	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" {
		return audio.AudioFrame{}, errors.New("wav: not a RIFF/WAVE stream")
	}
	if h.AudioFormat != 1 || h.BitsPerSample != 16 {
		return audio.AudioFrame{}, fmt.Errorf("wav: unsupported encoding (format %d, %d bits)", h.AudioFormat, h.BitsPerSample)
	}
	data := make([]byte, h.Subchunk2Size)
	if _, err := io.ReadFull(r, data); err != nil {
		return audio.AudioFrame{}, fmt.Errorf("wav: read data: %w", err)
	}
	return audio.AudioFrame{
		Data:       data,
		SampleRate: int(h.SampleRate),
		Channels:   int(h.NumChannels),
	}, nil
}

// Compile-time interface assertion.
var _ audio.Sink = (*DirSink)(nil)

// DirSink is an [audio.Sink] that writes each frame to a numbered WAV file in
// a directory. It is safe for concurrent use.
type DirSink struct {
	dir string
	seq atomic.Uint64
	now func() time.Time
}

// NewDirSink creates the directory if needed and returns a sink writing
// into it. A directory that cannot be created yields an error wrapping
// [audio.ErrPlaybackUnavailable].
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wav: %w: create %q: %w", audio.ErrPlaybackUnavailable, dir, err)
	}
	return &DirSink{dir: dir, now: time.Now}, nil
}

// Dir returns the output directory.
func (s *DirSink) Dir() string { return s.dir }

// Play writes frame to a new file named cue-<timestamp>-<seq>.wav.
func (s *DirSink) Play(ctx context.Context, frame audio.AudioFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := s.seq.Add(1)
	name := fmt.Sprintf("cue-%s-%04d.wav", s.now().UTC().Format("20060102T150405"), n)
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wav: %w: %w", audio.ErrPlaybackUnavailable, err)
	}
	if err := Encode(f, frame); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
