// Package web exposes detection sessions over HTTP.
//
// The JSON API under /api drives sessions and renders tones; a WebSocket
// per session streams state snapshots and, on request, cue audio. The demo
// page is embedded in the binary and served at /.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MrWong99/robotface/internal/detection"
	"github.com/MrWong99/robotface/internal/health"
	"github.com/MrWong99/robotface/internal/observe"
	"github.com/MrWong99/robotface/internal/session"
	"github.com/MrWong99/robotface/pkg/tone"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithOriginPatterns allows cross-origin WebSocket connections from hosts
// matching patterns. Same-origin connections are always allowed.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// WithSuggester overrides the label suggester.
func WithSuggester(sg *detection.Suggester) Option {
	return func(s *Server) { s.suggest = sg }
}

// Server routes HTTP requests to a [session.Manager].
type Server struct {
	mgr            *session.Manager
	suggest        *detection.Suggester
	metrics        *observe.Metrics
	health         *health.Handler
	metricsHandler http.Handler
	originPatterns []string
	mux            *http.ServeMux
}

// New creates a [Server] for mgr.
func New(mgr *session.Manager, opts ...Option) *Server {
	s := &Server{
		mgr: mgr,
		mux: http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.suggest == nil {
		s.suggest = detection.NewSuggester()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/sessions", s.createSession)
	s.mux.HandleFunc("GET /api/sessions", s.listSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.getSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.endSession)
	s.mux.HandleFunc("POST /api/sessions/{id}/detections", s.recordDetection)
	s.mux.HandleFunc("PUT /api/sessions/{id}/expression", s.selectExpression)
	s.mux.HandleFunc("PUT /api/sessions/{id}/threshold", s.setThreshold)
	s.mux.HandleFunc("PUT /api/sessions/{id}/sound", s.setSound)
	s.mux.HandleFunc("POST /api/sessions/{id}/reset", s.resetSession)
	s.mux.HandleFunc("GET /api/sessions/{id}/events", s.events)
	s.mux.HandleFunc("GET /api/expressions", s.listExpressions)
	s.mux.HandleFunc("GET /api/tones/{file}", s.renderTone)
	s.mux.Handle("GET /{$}", indexHandler())

	if s.health != nil {
		s.health.Register(s.mux)
	}
	if s.metricsHandler != nil {
		s.mux.Handle("GET /metrics", s.metricsHandler)
	}
}

// Handler returns the root handler with tracing, metrics and request logs.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.metrics)(s.mux)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeErr maps domain errors to status codes.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrEnded):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, tone.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
	default:
		observe.Logger(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody reads a single JSON object into v. Unknown fields are rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, r, err)
		return nil, false
	}
	return sess, true
}
