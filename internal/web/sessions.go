package web

import (
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/MrWong99/robotface/internal/detection"
	"github.com/MrWong99/robotface/internal/session"
)

type sessionResponse struct {
	ID    string           `json:"id"`
	State session.Snapshot `json:"state"`
}

type listResponse struct {
	Sessions []string `json:"sessions"`
}

type detectionRequest struct {
	Expression string   `json:"expression"`
	Confidence *float64 `json:"confidence"`
}

type expressionRequest struct {
	Expression string `json:"expression"`
}

type thresholdRequest struct {
	Threshold *float64 `json:"threshold"`
}

type soundRequest struct {
	Enabled *bool `json:"enabled"`
}

type updateResponse struct {
	State      session.Snapshot `json:"state"`
	Outcome    string           `json:"outcome"`
	Cue        *session.CueInfo `json:"cue,omitempty"`
	CueError   string           `json:"cue_error,omitempty"`
	Suggestion string           `json:"suggestion,omitempty"`
}

// percent validates a value on the 0-100 confidence scale.
func percent(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return fmt.Errorf("%s must be between 0 and 100, got %v", name, v)
	}
	return nil
}

// parseLabel trims surrounding space and keeps the caller's casing.
func parseLabel(raw string) (detection.Expression, error) {
	label := strings.TrimSpace(raw)
	if label == "" {
		return "", fmt.Errorf("expression must not be empty")
	}
	return detection.Expression(label), nil
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Create(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/sessions/"+sess.ID())
	writeJSON(w, http.StatusCreated, sessionResponse{ID: sess.ID(), State: sess.Snapshot()})
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, listResponse{Sessions: s.mgr.List()})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.End(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) recordDetection(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req detectionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	expr, err := parseLabel(req.Expression)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Confidence != nil {
		if err := percent("confidence", *req.Confidence); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	up, err := sess.RecordDetection(r.Context(), expr, req.Confidence)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.updateResponse(expr, up))
}

func (s *Server) selectExpression(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req expressionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	expr, err := parseLabel(req.Expression)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	up, err := sess.Select(r.Context(), expr)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.updateResponse(expr, up))
}

func (s *Server) updateResponse(expr detection.Expression, up session.Update) updateResponse {
	resp := updateResponse{
		State:   up.Snapshot,
		Outcome: up.Outcome.String(),
		Cue:     up.Cue,
	}
	if up.CueErr != nil {
		resp.CueError = up.CueErr.Error()
	}
	if !expr.IsKnown() {
		if match, _, ok := s.suggest.Suggest(string(expr)); ok {
			resp.Suggestion = string(match)
		}
	}
	return resp
}

func (s *Server) setThreshold(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req thresholdRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Threshold == nil {
		writeError(w, http.StatusBadRequest, "threshold is required")
		return
	}
	if err := percent("threshold", *req.Threshold); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := sess.SetThreshold(*req.Threshold)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) setSound(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req soundRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	snap, err := sess.SetSoundEnabled(*req.Enabled)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	snap, err := sess.Reset()
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
