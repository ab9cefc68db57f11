// Package speaker provides an [audio.Sink] that plays cues on the local sound
// device through github.com/ebitengine/oto/v3.
//
// oto allows one context per process, so a process should create at most one
// [Speaker]. Frames in any format are converted to the device format before
// playback.
package speaker

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/robotface/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Sink = (*Speaker)(nil)

// pollInterval is how often Play checks whether the player has finished.
const pollInterval = 10 * time.Millisecond

// Option configures a [Speaker].
type Option func(*options)

type options struct {
	bufferSize time.Duration
}

// WithBufferSize sets the device buffer length. Smaller buffers lower the
// latency of the cue but risk underruns. Default: 50ms.
func WithBufferSize(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.bufferSize = d
		}
	}
}

// Speaker plays frames on the default output device. Play calls are
// serialized; each call blocks until its cue has finished playing.
type Speaker struct {
	ctx    *oto.Context
	format audio.Format

	mu   sync.Mutex
	conv audio.FormatConverter
}

// New opens the default output device in the given format. Failure to open
// the device is reported as [audio.ErrPlaybackUnavailable].
func New(format audio.Format, opts ...Option) (*Speaker, error) {
	if format.SampleRate <= 0 || format.Channels < 1 || format.Channels > 2 {
		return nil, fmt.Errorf("speaker: unsupported device format %s", format)
	}
	o := options{bufferSize: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   o.bufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("speaker: %w: %w", audio.ErrPlaybackUnavailable, err)
	}
	<-ready

	return &Speaker{
		ctx:    otoCtx,
		format: format,
		conv:   audio.FormatConverter{Target: format},
	}, nil
}

// Format returns the device format.
func (s *Speaker) Format() audio.Format { return s.format }

// Play converts frame to the device format and blocks until it has been
// played or ctx is cancelled.
func (s *Speaker) Play(ctx context.Context, frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("speaker: %w: %w", audio.ErrPlaybackUnavailable, err)
	}

	converted := s.conv.Convert(frame)
	if len(converted.Data) == 0 {
		return nil
	}

	player := s.ctx.NewPlayer(bytes.NewReader(converted.Data))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	if err := player.Err(); err != nil {
		return fmt.Errorf("speaker: playback: %w", err)
	}
	return nil
}
