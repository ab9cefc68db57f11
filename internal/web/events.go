package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/robotface/internal/observe"
	"github.com/MrWong99/robotface/internal/session"
	"github.com/MrWong99/robotface/pkg/audio"
	"github.com/MrWong99/robotface/pkg/audio/opus"
)

// writeTimeout bounds a single WebSocket write.
const writeTimeout = 5 * time.Second

// audioHeader precedes the binary messages of one cue.
type audioHeader struct {
	Type       session.EventType `json:"type"`
	Format     string            `json:"format"`
	SampleRate int               `json:"sample_rate"`
	Channels   int               `json:"channels"`
	Messages   int               `json:"messages"`
}

// audioWriter turns a cue frame into binary WebSocket messages.
type audioWriter interface {
	format() audio.Format
	name() string
	encode(audio.AudioFrame) ([][]byte, error)
}

type pcmWriter struct{ f audio.Format }

func (p pcmWriter) format() audio.Format { return p.f }
func (pcmWriter) name() string           { return "pcm_s16le" }
func (pcmWriter) encode(frame audio.AudioFrame) ([][]byte, error) {
	return [][]byte{frame.Data}, nil
}

type opusWriter struct{ enc *opus.Encoder }

func (o opusWriter) format() audio.Format {
	return audio.Format{SampleRate: opus.SampleRate, Channels: o.enc.Channels()}
}
func (opusWriter) name() string { return "opus" }
func (o opusWriter) encode(frame audio.AudioFrame) ([][]byte, error) {
	return o.enc.Packetize(frame)
}

func newAudioWriter(mode string) (audioWriter, error) {
	switch mode {
	case "":
		return nil, nil
	case "pcm":
		return pcmWriter{}, nil
	case "opus":
		enc, err := opus.NewEncoder(1)
		if err != nil {
			return nil, err
		}
		return opusWriter{enc: enc}, nil
	default:
		return nil, fmt.Errorf("audio must be pcm or opus, got %q", mode)
	}
}

// events upgrades to a WebSocket and streams session events. JSON events are
// text messages. With ?audio=pcm or ?audio=opus every cue is additionally sent
// as an audio header followed by binary messages.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	aw, err := newAudioWriter(r.URL.Query().Get("audio"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		// Accept has already written the error response.
		observe.Logger(r.Context()).Debug("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	log := observe.Logger(observe.WithSessionID(r.Context(), sess.ID()))
	ch, cancel := sess.Subscribe(session.SubscribeOptions{Audio: aw != nil})
	defer cancel()

	// The client only listens; CloseRead cancels ctx when it goes away.
	ctx := conn.CloseRead(context.Background())
	log.Debug("event stream opened", "audio", aw != nil)

	for {
		select {
		case <-ctx.Done():
			log.Debug("event stream closed by client")
			return
		case ev, open := <-ch:
			if !open {
				conn.Close(websocket.StatusNormalClosure, "session ended")
				return
			}
			if err := s.forward(ctx, conn, aw, ev); err != nil {
				if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
					log.Warn("event stream write failed", "err", err)
				}
				return
			}
			if ev.Type == session.EventEnded {
				conn.Close(websocket.StatusNormalClosure, "session ended")
				return
			}
		}
	}
}

func (s *Server) forward(ctx context.Context, conn *websocket.Conn, aw audioWriter, ev session.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if ev.Type != session.EventAudio {
		return wsjson.Write(ctx, conn, ev)
	}
	if aw == nil || ev.Frame == nil {
		return nil
	}

	msgs, err := aw.encode(*ev.Frame)
	if err != nil {
		// A bad frame skips one cue, the stream stays up.
		observe.Logger(ctx).Warn("cue audio encoding failed", "format", aw.name(), "err", err)
		return nil
	}
	f := aw.format()
	if f.SampleRate == 0 {
		f = audio.Format{SampleRate: ev.Frame.SampleRate, Channels: ev.Frame.Channels}
	}
	hdr := audioHeader{
		Type:       session.EventAudio,
		Format:     aw.name(),
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Messages:   len(msgs),
	}
	if err := wsjson.Write(ctx, conn, hdr); err != nil {
		return err
	}
	for _, m := range msgs {
		if err := conn.Write(ctx, websocket.MessageBinary, m); err != nil {
			return err
		}
	}
	return nil
}
