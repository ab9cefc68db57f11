package audio

import (
	"context"
	"errors"
)

// ErrPlaybackUnavailable reports that a [Sink] cannot produce audio at all,
// for example because no output device exists. Sinks wrap it so callers can
// tell a missing device apart from a transient write failure.
var ErrPlaybackUnavailable = errors.New("audio: playback unavailable")

// Sink is the narrow playback contract the rest of the system depends on.
// A Sink receives one complete PCM cue per call.
//
// Play may block until the audio has been handed off (or played). It must
// respect ctx cancellation. Implementations must be safe for concurrent use,
// although callers in this module serialize calls per session.
type Sink interface {
	Play(ctx context.Context, frame AudioFrame) error
}

// SinkFunc adapts an ordinary function to the [Sink] interface.
type SinkFunc func(ctx context.Context, frame AudioFrame) error

// Play calls f(ctx, frame).
func (f SinkFunc) Play(ctx context.Context, frame AudioFrame) error {
	return f(ctx, frame)
}

// Unavailable returns a [Sink] that always fails with [ErrPlaybackUnavailable]
// wrapping cause. Used when a configured device could not be opened.
func Unavailable(cause error) Sink {
	return SinkFunc(func(context.Context, AudioFrame) error {
		if cause == nil {
			return ErrPlaybackUnavailable
		}
		return errors.Join(ErrPlaybackUnavailable, cause)
	})
}
