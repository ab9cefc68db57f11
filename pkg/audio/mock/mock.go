// Package mock provides an in-memory [audio.Sink] for unit tests.
//
// The mock is safe for concurrent use. It records every frame it receives so
// tests can assert on playback order, and exposes exported fields that the
// test can set to control behaviour.
//
// Typical usage:
//
//	sink := &mock.Sink{}
//	d := cue.NewDispatcher(sink)
//	...
//	if got := sink.Calls(); len(got) != 1 { ... }
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/robotface/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)

// PlayCall records a single [Sink.Play] invocation.
type PlayCall struct {
	// Frame is the frame passed to Play.
	Frame audio.AudioFrame
}

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// PlayError is returned by every Play call when PlayErrors is empty.
	PlayError error

	// PlayErrors, if non-empty, supplies the return value of successive Play
	// calls; once exhausted PlayError is used.
	PlayErrors []error

	// Delay makes Play block for the given duration (or until ctx is done).
	Delay time.Duration

	// OnPlay, if set, is called synchronously from Play before it returns.
	OnPlay func(audio.AudioFrame)

	calls []PlayCall
}

// Play implements [audio.Sink]. It records the call and returns the
// configured error.
func (s *Sink) Play(ctx context.Context, frame audio.AudioFrame) error {
	s.mu.Lock()
	delay := s.Delay
	hook := s.OnPlay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if hook != nil {
		hook(frame)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, PlayCall{Frame: frame})
	if len(s.PlayErrors) > 0 {
		err := s.PlayErrors[0]
		s.PlayErrors = s.PlayErrors[1:]
		return err
	}
	return s.PlayError
}

// Calls returns a copy of all recorded Play invocations in order.
func (s *Sink) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times Play was called.
func (s *Sink) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Reset clears the recorded calls.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}
