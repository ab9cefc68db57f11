package web_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/robotface/internal/health"
	"github.com/MrWong99/robotface/internal/session"
	"github.com/MrWong99/robotface/internal/web"
	"github.com/MrWong99/robotface/pkg/audio/wav"
	"github.com/MrWong99/robotface/pkg/tone"
)

func sequentialIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("s%d", n)
	}
}

func newServer(t *testing.T, opts ...session.Option) (*web.Server, *session.Manager) {
	t.Helper()
	mgr := session.NewManager(append([]session.Option{session.WithIDGenerator(sequentialIDs())}, opts...)...)
	t.Cleanup(func() { _ = mgr.Close() })
	return web.New(mgr, web.WithHealth(health.New())), mgr
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

type stateJSON struct {
	ID                   string    `json:"id"`
	CurrentExpression    string    `json:"current_expression"`
	CurrentConfidence    float64   `json:"current_confidence"`
	ConfidenceThreshold  float64   `json:"confidence_threshold"`
	AverageConfidence    float64   `json:"average_confidence"`
	SoundEnabled         bool      `json:"sound_enabled"`
	History              []float64 `json:"history"`
	TotalDetections      int       `json:"total_detections"`
	SuccessfulDetections int       `json:"successful_detections"`
	SuccessRate          float64   `json:"success_rate"`
}

type updateJSON struct {
	State   stateJSON `json:"state"`
	Outcome string    `json:"outcome"`
	Cue     *struct {
		Expression string  `json:"expression"`
		Frequency  float64 `json:"frequency"`
	} `json:"cue"`
	CueError   string `json:"cue_error"`
	Suggestion string `json:"suggestion"`
}

func TestServer_SessionFlow(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t)
	h := srv.Handler()

	rec := do(t, h, "POST", "/api/sessions", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	if loc := rec.Header().Get("Location"); loc != "/api/sessions/s1" {
		t.Errorf("Location = %q", loc)
	}
	created := decodeJSON[struct {
		ID    string    `json:"id"`
		State stateJSON `json:"state"`
	}](t, rec)
	if created.ID != "s1" || created.State.CurrentExpression != "neutral" || created.State.ConfidenceThreshold != 50 {
		t.Errorf("created = %+v", created)
	}

	rec = do(t, h, "POST", "/api/sessions/s1/detections", `{"expression":"happy","confidence":80}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("detection status = %d, body %s", rec.Code, rec.Body)
	}
	up := decodeJSON[updateJSON](t, rec)
	if up.Outcome != "success" || up.Cue == nil || up.Cue.Frequency != 523.25 {
		t.Errorf("update = %+v", up)
	}

	rec = do(t, h, "POST", "/api/sessions/s1/detections", `{"expression":"sad","confidence":30}`)
	up = decodeJSON[updateJSON](t, rec)
	if up.Outcome != "miss" {
		t.Errorf("outcome = %q, want miss", up.Outcome)
	}
	st := up.State
	if st.CurrentExpression != "sad" || st.TotalDetections != 2 || st.SuccessfulDetections != 1 ||
		len(st.History) != 2 || st.History[0] != 80 || st.History[1] != 30 || st.SuccessRate != 0.5 ||
		st.AverageConfidence != 55 {
		t.Errorf("state = %+v", st)
	}

	rec = do(t, h, "PUT", "/api/sessions/s1/expression", `{"expression":"x"}`)
	up = decodeJSON[updateJSON](t, rec)
	if up.Outcome != "unscored" || up.State.CurrentExpression != "x" || up.State.TotalDetections != 2 {
		t.Errorf("select update = %+v", up)
	}

	rec = do(t, h, "PUT", "/api/sessions/s1/threshold", `{"threshold":75}`)
	if got := decodeJSON[stateJSON](t, rec); got.ConfidenceThreshold != 75 {
		t.Errorf("threshold = %v", got.ConfidenceThreshold)
	}
	rec = do(t, h, "PUT", "/api/sessions/s1/sound", `{"enabled":false}`)
	if got := decodeJSON[stateJSON](t, rec); got.SoundEnabled {
		t.Error("sound still enabled")
	}

	rec = do(t, h, "POST", "/api/sessions/s1/detections", `{"expression":"happy","confidence":70}`)
	up = decodeJSON[updateJSON](t, rec)
	if up.Cue != nil || up.Outcome != "miss" {
		t.Errorf("update with sound off and threshold 75 = %+v", up)
	}

	rec = do(t, h, "POST", "/api/sessions/s1/reset", "")
	if got := decodeJSON[stateJSON](t, rec); got.TotalDetections != 0 || got.ConfidenceThreshold != 75 {
		t.Errorf("reset = %+v", got)
	}

	rec = do(t, h, "GET", "/api/sessions", "")
	if got := decodeJSON[struct{ Sessions []string }](t, rec); len(got.Sessions) != 1 || got.Sessions[0] != "s1" {
		t.Errorf("list = %+v", got)
	}
	rec = do(t, h, "GET", "/api/sessions/s1", "")
	if got := decodeJSON[stateJSON](t, rec); got.ID != "s1" {
		t.Errorf("get = %+v", got)
	}

	if rec = do(t, h, "DELETE", "/api/sessions/s1", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec = do(t, h, "GET", "/api/sessions/s1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestServer_Suggestion(t *testing.T) {
	t.Parallel()
	srv, mgr := newServer(t)
	h := srv.Handler()
	_, _ = mgr.Create(t.Context())

	tests := []struct {
		body string
		want string
	}{
		{`{"expression":"happpy","confidence":60}`, "happy"},
		{`{"expression":"Happy","confidence":60}`, ""},
		{`{"expression":"banana"}`, ""},
	}
	for _, tc := range tests {
		rec := do(t, h, "POST", "/api/sessions/s1/detections", tc.body)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", tc.body, rec.Code)
		}
		if got := decodeJSON[updateJSON](t, rec).Suggestion; got != tc.want {
			t.Errorf("%s: suggestion = %q, want %q", tc.body, got, tc.want)
		}
	}
}

func TestServer_LabelCasingKept(t *testing.T) {
	t.Parallel()
	srv, mgr := newServer(t)
	h := srv.Handler()
	_, _ = mgr.Create(t.Context())

	rec := do(t, h, "POST", "/api/sessions/s1/detections", `{"expression":"  Happy ","confidence":90}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	up := decodeJSON[updateJSON](t, rec)
	if up.State.CurrentExpression != "Happy" {
		t.Errorf("current_expression = %q, want %q", up.State.CurrentExpression, "Happy")
	}
	if up.Cue == nil || up.Cue.Expression != "Happy" || up.Cue.Frequency != 523.25 {
		t.Errorf("cue = %+v, want Happy at 523.25 Hz", up.Cue)
	}
}

func TestServer_BadRequests(t *testing.T) {
	t.Parallel()
	srv, mgr := newServer(t)
	h := srv.Handler()
	_, _ = mgr.Create(t.Context())

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"unknown session", "POST", "/api/sessions/nope/detections", `{"expression":"happy"}`, http.StatusNotFound},
		{"empty body", "POST", "/api/sessions/s1/detections", "", http.StatusBadRequest},
		{"malformed json", "POST", "/api/sessions/s1/detections", `{"expression":`, http.StatusBadRequest},
		{"unknown field", "POST", "/api/sessions/s1/detections", `{"expr":"happy"}`, http.StatusBadRequest},
		{"empty expression", "POST", "/api/sessions/s1/detections", `{"expression":"  "}`, http.StatusBadRequest},
		{"confidence too high", "POST", "/api/sessions/s1/detections", `{"expression":"happy","confidence":101}`, http.StatusBadRequest},
		{"negative confidence", "POST", "/api/sessions/s1/detections", `{"expression":"happy","confidence":-1}`, http.StatusBadRequest},
		{"missing threshold", "PUT", "/api/sessions/s1/threshold", `{}`, http.StatusBadRequest},
		{"threshold out of range", "PUT", "/api/sessions/s1/threshold", `{"threshold":150}`, http.StatusBadRequest},
		{"missing sound flag", "PUT", "/api/sessions/s1/sound", `{}`, http.StatusBadRequest},
		{"delete unknown", "DELETE", "/api/sessions/nope", "", http.StatusNotFound},
		{"wrong method", "PATCH", "/api/sessions/s1", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.body)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.wantStatus, rec.Body)
			}
			if tc.wantStatus == http.StatusMethodNotAllowed {
				return
			}
			if got := decodeJSON[struct{ Error string }](t, rec); got.Error == "" {
				t.Error("error body is empty")
			}
		})
	}

	// Rejected requests never touch state.
	if st := decodeJSON[stateJSON](t, do(t, h, "GET", "/api/sessions/s1", "")); st.TotalDetections != 0 || st.ConfidenceThreshold != 50 {
		t.Errorf("state changed by bad requests: %+v", st)
	}
}

func TestServer_Expressions(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, session.WithTone(session.ToneSettings{
		Synth:  tone.NewSynthesizer(map[string]float64{"curious": 600}),
		Volume: 0.3,
	}))

	rec := do(t, srv.Handler(), "GET", "/api/expressions", "")
	got := decodeJSON[struct {
		Expressions []struct {
			Name      string
			Frequency float64
			Known     bool
		}
		DefaultFrequency float64 `json:"default_frequency"`
	}](t, rec)

	if len(got.Expressions) != 7 {
		t.Fatalf("got %d expressions, want 7", len(got.Expressions))
	}
	if e := got.Expressions[0]; e.Name != "neutral" || e.Frequency != 440 || !e.Known {
		t.Errorf("first = %+v", e)
	}
	if e := got.Expressions[6]; e.Name != "curious" || e.Frequency != 600 || e.Known {
		t.Errorf("last = %+v", e)
	}
	if got.DefaultFrequency != 440 {
		t.Errorf("default_frequency = %v", got.DefaultFrequency)
	}
}

func TestServer_RenderTone(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t)
	h := srv.Handler()

	tests := []struct {
		name        string
		path        string
		wantStatus  int
		wantSamples int
	}{
		{"default settings", "/api/tones/happy.wav", http.StatusOK, 22050},
		{"custom duration", "/api/tones/sad.wav?duration=0.1&volume=0.5", http.StatusOK, 4410},
		{"unknown label", "/api/tones/whatever.wav?duration=0.01", http.StatusOK, 441},
		{"missing suffix", "/api/tones/happy", http.StatusNotFound, 0},
		{"zero duration", "/api/tones/happy.wav?duration=0", http.StatusBadRequest, 0},
		{"too loud", "/api/tones/happy.wav?volume=1.5", http.StatusBadRequest, 0},
		{"not a number", "/api/tones/happy.wav?duration=abc", http.StatusBadRequest, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, "GET", tc.path, "")
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.wantStatus, rec.Body)
			}
			if tc.wantStatus != http.StatusOK {
				return
			}
			if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
				t.Errorf("Content-Type = %q", ct)
			}
			frame, err := wav.Decode(rec.Body)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if frame.SampleRate != tone.SampleRate || frame.Channels != 1 {
				t.Errorf("format = %d Hz x %d", frame.SampleRate, frame.Channels)
			}
			if got := len(frame.Data) / 2; got != tc.wantSamples {
				t.Errorf("samples = %d, want %d", got, tc.wantSamples)
			}
		})
	}
}

func TestServer_IndexAndHealth(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t)
	h := srv.Handler()

	rec := do(t, h, "GET", "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<title>robotface</title>") {
		t.Errorf("index status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("index Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "s.average_confidence") {
		t.Error("index page does not show the average confidence")
	}
	if rec := do(t, h, "GET", "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d", rec.Code)
	}
	for _, p := range []string{"/healthz", "/readyz"} {
		if rec := do(t, h, "GET", p, ""); rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", p, rec.Code)
		}
	}
}
