package session

import (
	"context"
	"sync"

	"github.com/MrWong99/robotface/pkg/audio"
)

// EventType names the kind of an [Event].
type EventType string

const (
	// EventState carries a fresh snapshot after every mutation.
	EventState EventType = "state"

	// EventCue announces a cue that was queued for playback.
	EventCue EventType = "cue"

	// EventAudio carries the PCM of a cue to subscribers that asked for audio.
	EventAudio EventType = "audio"

	// EventNotice reports a non-fatal problem such as a failed playback.
	EventNotice EventType = "notice"

	// EventEnded is the last event of a session.
	EventEnded EventType = "ended"
)

// CueInfo describes a queued cue.
type CueInfo struct {
	Expression string  `json:"expression"`
	Frequency  float64 `json:"frequency"`
	Seq        uint64  `json:"seq,omitempty"`
}

// Event is pushed to session subscribers.
type Event struct {
	Type   EventType `json:"type"`
	State  *Snapshot `json:"state,omitempty"`
	Cue    *CueInfo  `json:"cue,omitempty"`
	Notice string    `json:"notice,omitempty"`

	// Frame is set on EventAudio only and is not part of the JSON form.
	Frame *audio.AudioFrame `json:"-"`
}

// SubscribeOptions tune a subscription.
type SubscribeOptions struct {
	// Audio requests EventAudio events.
	Audio bool

	// Buffer is the channel capacity. Default: 16.
	Buffer int
}

const defaultSubscriberBuffer = 16

type subscriber struct {
	ch      chan Event
	audio   bool
	dropped int
}

// hub fans events out to the subscribers of one session. Sends never block:
// a subscriber whose buffer is full misses the event.
type hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

var _ audio.Sink = (*hub)(nil)

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

func (h *hub) subscribe(opts SubscribeOptions) (*subscriber, bool) {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultSubscriberBuffer
	}
	sub := &subscriber{ch: make(chan Event, opts.Buffer), audio: opts.Audio}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub, false
	}
	h.subs[sub] = struct{}{}
	return sub, true
}

func (h *hub) unsubscribe(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return false
	}
	delete(h.subs, sub)
	close(sub.ch)
	return true
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		if ev.Type == EventAudio && !sub.audio {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
		}
	}
}

func (h *hub) wantsAudio() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.audio {
			return true
		}
	}
	return false
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// close sends final to every subscriber (best effort) and closes their channels.
func (h *hub) close(final Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0
	}
	h.closed = true
	n := len(h.subs)
	for sub := range h.subs {
		select {
		case sub.ch <- final:
		default:
		}
		close(sub.ch)
		delete(h.subs, sub)
	}
	return n
}

// Play implements [audio.Sink] by broadcasting the frame to audio subscribers.
func (h *hub) Play(_ context.Context, frame audio.AudioFrame) error {
	h.publish(Event{Type: EventAudio, Frame: &frame})
	return nil
}
