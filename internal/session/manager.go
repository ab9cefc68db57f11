// Package session manages live detection sessions.
//
// A [Manager] creates, looks up and ends [Session] values. Each session owns
// its own detection engine, playback dispatcher and event hub, so sessions
// are fully isolated from each other. Session defaults and tone settings can
// be changed at runtime; changes apply to sessions created afterwards (tone
// settings apply to the next cue of every session).
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/robotface/internal/cue"
	"github.com/MrWong99/robotface/internal/detection"
	"github.com/MrWong99/robotface/internal/observe"
	"github.com/MrWong99/robotface/internal/resilience"
	"github.com/MrWong99/robotface/pkg/audio"
	"github.com/MrWong99/robotface/pkg/tone"
)

// ErrNotFound is returned when no session has the requested ID.
var ErrNotFound = errors.New("session: not found")

// ToneSettings control cue synthesis.
type ToneSettings struct {
	Synth    *tone.Synthesizer
	Duration float64
	Volume   float64
}

// Options returns the synthesis options for ts. A zero duration keeps the
// synthesizer default.
func (ts ToneSettings) Options() []tone.Option {
	var opts []tone.Option
	if ts.Duration > 0 {
		opts = append(opts, tone.WithDuration(ts.Duration))
	}
	opts = append(opts, tone.WithVolume(ts.Volume))
	return opts
}

// DefaultToneSettings uses the built-in frequency table, 0.5 s and volume 0.3.
func DefaultToneSettings() ToneSettings {
	return ToneSettings{
		Synth:    tone.NewSynthesizer(nil),
		Duration: tone.DefaultDuration,
		Volume:   tone.DefaultVolume,
	}
}

// Option configures a [Manager].
type Option func(*Manager)

// WithSink sets the device sink cues are played on and its name for logs and
// metrics. A nil sink disables server-side playback.
func WithSink(name string, sink audio.Sink) Option {
	return func(m *Manager) {
		m.sinkName = name
		m.sink = sink
	}
}

// WithBreaker guards the sink of every session with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(m *Manager) { m.breaker = cb }
}

// WithQueueSize bounds each session's playback queue.
func WithQueueSize(n int) Option {
	return func(m *Manager) { m.queueSize = n }
}

// WithBrowserAudio enables streaming cue audio to event subscribers that
// request it.
func WithBrowserAudio(on bool) Option {
	return func(m *Manager) { m.browserAudio = on }
}

// WithDefaults sets the settings new sessions start with.
func WithDefaults(s detection.Settings) Option {
	return func(m *Manager) { m.defaults = s }
}

// WithTone sets the initial tone settings.
func WithTone(ts ToneSettings) Option {
	return func(m *Manager) { m.tone.Store(&ts) }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// Manager owns all live sessions. It is safe for concurrent use.
type Manager struct {
	sink         audio.Sink
	sinkName     string
	breaker      *resilience.CircuitBreaker
	queueSize    int
	browserAudio bool
	metrics      *observe.Metrics
	newID        func() string
	tone         atomic.Pointer[ToneSettings]

	mu       sync.RWMutex
	defaults detection.Settings
	sessions map[string]*Session
	closed   bool
}

// NewManager creates an empty [Manager].
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sinkName:  "none",
		queueSize: cue.DefaultQueueSize,
		defaults:  detection.DefaultSettings(),
		newID:     uuid.NewString,
		sessions:  make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.tone.Load() == nil {
		ts := DefaultToneSettings()
		m.tone.Store(&ts)
	}
	return m
}

// ErrClosed is returned by [Manager.Create] after [Manager.Close].
var ErrClosed = errors.New("session: manager closed")

// Create starts a new session with the current defaults.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	id := m.newID()
	for m.sessions[id] != nil {
		id = m.newID()
	}
	s := &Session{
		id:      id,
		created: time.Now().UTC(),
		mgr:     m,
		log:     slog.Default().With("session_id", id),
		engine:  detection.NewEngine(m.defaults),
		hub:     newHub(),
	}
	if m.sink != nil {
		opts := []cue.Option{
			cue.WithQueueSize(m.queueSize),
			cue.WithMetrics(m.metrics),
			cue.WithSinkName(m.sinkName),
			cue.WithLogger(s.log),
			cue.WithOnError(s.onPlaybackError),
		}
		if m.breaker != nil {
			opts = append(opts, cue.WithBreaker(m.breaker))
		}
		s.dispatcher = cue.NewDispatcher(m.sink, opts...)
	}
	m.sessions[id] = s
	m.metrics.ActiveSessions.Add(ctx, 1)

	s.log.Info("session started",
		"threshold", m.defaults.Threshold,
		"sound_enabled", m.defaults.SoundEnabled,
		"sink", m.sinkName)
	return s, nil
}

// Get returns the session with id or [ErrNotFound].
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns the IDs of all live sessions, oldest first.
func (m *Manager) List() []string {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(all, func(a, b *Session) int {
		if c := a.created.Compare(b.created); c != 0 {
			return c
		}
		if a.id < b.id {
			return -1
		}
		if a.id > b.id {
			return 1
		}
		return 0
	})
	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.id
	}
	return ids
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// End stops and removes the session with id.
func (m *Manager) End(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if s.end() {
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
	return nil
}

// Close ends every session and rejects further creates.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		if s.end() {
			m.metrics.ActiveSessions.Add(context.Background(), -1)
		}
	}
	return nil
}

// Defaults returns the settings new sessions start with.
func (m *Manager) Defaults() detection.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaults
}

// SetDefaults changes the settings for sessions created from now on.
func (m *Manager) SetDefaults(s detection.Settings) {
	m.mu.Lock()
	m.defaults = s
	m.mu.Unlock()
}

// Tone returns the current tone settings.
func (m *Manager) Tone() ToneSettings { return *m.tone.Load() }

// SetTone replaces the tone settings used for every subsequent cue.
func (m *Manager) SetTone(ts ToneSettings) {
	if ts.Synth == nil {
		ts.Synth = tone.NewSynthesizer(nil)
	}
	m.tone.Store(&ts)
}

// SinkName returns the configured sink name.
func (m *Manager) SinkName() string { return m.sinkName }

// BrowserAudio reports whether cue audio is streamed to subscribers.
func (m *Manager) BrowserAudio() bool { return m.browserAudio }
