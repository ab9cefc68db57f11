package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/robotface/internal/cue"
	"github.com/MrWong99/robotface/internal/detection"
	"github.com/MrWong99/robotface/internal/observe"
)

// ErrEnded is returned by operations on a session that has been ended.
var ErrEnded = errors.New("session: ended")

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	detection.State
	SuccessRate float64 `json:"success_rate"`
}

// Update is the result of a mutating session operation.
type Update struct {
	Snapshot Snapshot

	// Outcome classifies the detection. Zero for non-detection operations.
	Outcome detection.Outcome

	// Cue is set when a cue was synthesized and queued.
	Cue *CueInfo

	// CueErr is set when sound was on but the cue could not be produced.
	// The state change has been applied regardless.
	CueErr error
}

// Session is one detection session. All methods are safe for concurrent use;
// mutations are serialized so cues are queued in detection order.
type Session struct {
	id      string
	created time.Time
	mgr     *Manager
	log     *slog.Logger

	mu         sync.Mutex
	engine     *detection.Engine
	dispatcher *cue.Dispatcher
	hub        *hub
	ended      bool
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// RecordDetection applies one detection event. A nil confidence records the
// expression only. When sound is on the cue is synthesized and queued after
// the state change.
func (s *Session) RecordDetection(ctx context.Context, expr detection.Expression, confidence *float64) (Update, error) {
	ctx = observe.WithSessionID(ctx, s.id)
	ctx, span := observe.StartSpan(ctx, "session.RecordDetection")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return Update{}, ErrEnded
	}

	res := s.engine.RecordDetection(expr, confidence)
	s.mgr.metrics.RecordDetection(ctx, metricLabel(expr), res.Outcome.String())

	up := Update{Outcome: res.Outcome}
	if res.Cue != nil {
		up.Cue, up.CueErr = s.emitCue(ctx, res.Cue.Expression)
	}
	up.Snapshot = s.snapshotLocked()
	s.hub.publish(Event{Type: EventState, State: &up.Snapshot})
	return up, nil
}

// Record is RecordDetection with a confidence reading.
func (s *Session) Record(ctx context.Context, expr detection.Expression, confidence float64) (Update, error) {
	return s.RecordDetection(ctx, expr, &confidence)
}

// Select records expr without a confidence reading.
func (s *Session) Select(ctx context.Context, expr detection.Expression) (Update, error) {
	return s.RecordDetection(ctx, expr, nil)
}

// SetThreshold changes the threshold for future detections.
func (s *Session) SetThreshold(t float64) (Snapshot, error) {
	return s.mutate(func(e *detection.Engine) { e.SetThreshold(t) })
}

// SetSoundEnabled turns cues on or off.
func (s *Session) SetSoundEnabled(on bool) (Snapshot, error) {
	return s.mutate(func(e *detection.Engine) { e.SetSoundEnabled(on) })
}

// Reset clears counters, history and current values. Threshold and sound
// flag are kept.
func (s *Session) Reset() (Snapshot, error) {
	return s.mutate(func(e *detection.Engine) { e.Reset() })
}

func (s *Session) mutate(fn func(*detection.Engine)) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return Snapshot{}, ErrEnded
	}
	fn(s.engine)
	snap := s.snapshotLocked()
	s.hub.publish(Event{Type: EventState, State: &snap})
	return snap, nil
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	st := s.engine.Snapshot()
	return Snapshot{
		ID:          s.id,
		CreatedAt:   s.created,
		State:       st,
		SuccessRate: st.SuccessRate(),
	}
}

// Subscribe registers for session events. The returned channel is closed
// when cancel is called or the session ends. The first event is the current
// state.
func (s *Session) Subscribe(opts SubscribeOptions) (<-chan Event, func()) {
	s.mu.Lock()
	sub, ok := s.hub.subscribe(opts)
	if ok {
		snap := s.snapshotLocked()
		sub.ch <- Event{Type: EventState, State: &snap}
	}
	s.mu.Unlock()

	if !ok {
		return sub.ch, func() {}
	}
	s.mgr.metrics.EventSubscribers.Add(context.Background(), 1)
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			if s.hub.unsubscribe(sub) {
				s.mgr.metrics.EventSubscribers.Add(context.Background(), -1)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (s *Session) Subscribers() int { return s.hub.len() }

// emitCue synthesizes the tone for label and hands it to the dispatcher and
// audio subscribers. Must be called with s.mu held.
func (s *Session) emitCue(ctx context.Context, label detection.Expression) (*CueInfo, error) {
	ts := s.mgr.Tone()

	start := time.Now()
	buf, err := ts.Synth.Synthesize(string(label), ts.Options()...)
	s.mgr.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		err = fmt.Errorf("session: synthesize %q: %w", label, err)
		observe.Logger(ctx).Warn("cue synthesis failed", "expression", label, "err", err)
		s.hub.publish(Event{Type: EventNotice, Notice: err.Error()})
		return nil, err
	}

	info := &CueInfo{Expression: string(label), Frequency: ts.Synth.Frequency(string(label))}
	frame := buf.Frame()

	if s.dispatcher != nil {
		seq, err := s.dispatcher.Submit(cue.Item{Label: string(label), Frame: frame})
		if err != nil {
			return nil, fmt.Errorf("session: queue cue: %w", err)
		}
		info.Seq = seq
	}
	s.hub.publish(Event{Type: EventCue, Cue: info})
	if s.mgr.browserAudio && s.hub.wantsAudio() {
		_ = s.hub.Play(ctx, frame)
	}
	return info, nil
}

// onPlaybackError forwards dispatcher failures to subscribers.
func (s *Session) onPlaybackError(item cue.Item, err error) {
	s.hub.publish(Event{
		Type:   EventNotice,
		Notice: fmt.Sprintf("playback of %q cue failed (%s)", item.Label, cue.Reason(err)),
	})
}

// end stops playback and closes subscriptions. It reports whether this call
// ended the session.
func (s *Session) end() bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	s.ended = true
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.dispatcher != nil {
		_ = s.dispatcher.Close()
	}
	if n := s.hub.close(Event{Type: EventEnded, State: &snap}); n > 0 {
		s.mgr.metrics.EventSubscribers.Add(context.Background(), int64(-n))
	}
	s.log.Info("session ended",
		"total_detections", snap.TotalDetections,
		"success_rate", snap.SuccessRate)
	return true
}

// metricLabel bounds metric cardinality: free-form labels share one series.
func metricLabel(e detection.Expression) string {
	if e.IsKnown() {
		return string(e.Canonical())
	}
	return "other"
}
