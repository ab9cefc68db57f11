package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/robotface/internal/detection"
	"github.com/MrWong99/robotface/pkg/audio/wav"
	"github.com/MrWong99/robotface/pkg/tone"
)

type expressionInfo struct {
	Name      string  `json:"name"`
	Frequency float64 `json:"frequency"`
	Known     bool    `json:"known"`
}

type expressionsResponse struct {
	Expressions      []expressionInfo `json:"expressions"`
	DefaultFrequency float64          `json:"default_frequency"`
}

func (s *Server) listExpressions(w http.ResponseWriter, _ *http.Request) {
	synth := s.mgr.Tone().Synth
	labels := synth.Labels()
	resp := expressionsResponse{
		Expressions:      make([]expressionInfo, 0, len(labels)),
		DefaultFrequency: tone.DefaultFrequency,
	}
	for _, l := range labels {
		resp.Expressions = append(resp.Expressions, expressionInfo{
			Name:      l,
			Frequency: synth.Frequency(l),
			Known:     detection.Expression(l).IsKnown(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// renderTone serves /api/tones/{expression}.wav. The duration and volume
// query parameters override the configured tone settings.
func (s *Server) renderTone(w http.ResponseWriter, r *http.Request) {
	label, ok := strings.CutSuffix(r.PathValue("file"), ".wav")
	if !ok || label == "" {
		writeError(w, http.StatusNotFound, "tones are served as <expression>.wav")
		return
	}

	ts := s.mgr.Tone()
	opts := ts.Options()
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		opt  func(float64) tone.Option
	}{
		{"duration", tone.WithDuration},
		{"volume", tone.WithVolume},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %q is not a number", p.name, raw))
			return
		}
		opts = append(opts, p.opt(v))
	}

	buf, err := ts.Synth.Synthesize(strings.ToLower(label), opts...)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var out bytes.Buffer
	if err := wav.Encode(&out, buf.Frame()); err != nil {
		writeErr(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(out.Len()))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = out.WriteTo(w)
}
