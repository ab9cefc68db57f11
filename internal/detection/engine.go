// Package detection implements the per-session detection state engine.
//
// An [Engine] owns the mutable state of one session: the current expression
// and confidence, the rolling confidence history, the success counters and the
// user-tunable threshold and sound flag. Every detection event goes through
// [Engine.RecordDetection], a total function that updates the state and
// returns a [Result] describing what happened. When sound is enabled the
// result carries a [Cue]; the engine never synthesizes or plays audio itself,
// so it can be driven and tested without any audio backend.
//
// An Engine is not safe for concurrent use. Callers that share one across
// goroutines must serialize access (see internal/session).
package detection

import "strings"

// Expression is a detected facial expression label. The set is open: labels
// outside [KnownExpressions] are accepted everywhere.
type Expression string

// Built-in expression labels.
const (
	Neutral   Expression = "neutral"
	Happy     Expression = "happy"
	Sad       Expression = "sad"
	Angry     Expression = "angry"
	Surprised Expression = "surprised"
	Excited   Expression = "excited"
)

var known = []Expression{Neutral, Happy, Sad, Angry, Surprised, Excited}

// KnownExpressions returns the built-in labels in display order.
func KnownExpressions() []Expression {
	out := make([]Expression, len(known))
	copy(out, known)
	return out
}

// Canonical returns e lowercased. Lookups compare canonical forms; the
// engine itself stores labels as given.
func (e Expression) Canonical() Expression {
	return Expression(strings.ToLower(string(e)))
}

// IsKnown reports whether e is one of the built-in labels, ignoring case.
func (e Expression) IsKnown() bool {
	c := e.Canonical()
	for _, k := range known {
		if c == k {
			return true
		}
	}
	return false
}

// DefaultThreshold is the initial confidence threshold.
const DefaultThreshold = 50.0

// Settings are the initial values of a new session.
type Settings struct {
	// Threshold is the inclusive confidence threshold for a successful detection.
	Threshold float64

	// SoundEnabled controls whether detections produce a [Cue].
	SoundEnabled bool

	// HistorySize is the capacity of the rolling history. Zero means
	// [DefaultHistorySize].
	HistorySize int
}

// DefaultSettings returns threshold 50, sound on and a 20-reading history.
func DefaultSettings() Settings {
	return Settings{
		Threshold:    DefaultThreshold,
		SoundEnabled: true,
		HistorySize:  DefaultHistorySize,
	}
}

// Outcome classifies a single detection event.
type Outcome int

const (
	// OutcomeUnscored means no confidence was supplied; only the expression changed.
	OutcomeUnscored Outcome = iota

	// OutcomeSuccess means the confidence met or exceeded the threshold.
	OutcomeSuccess

	// OutcomeMiss means the confidence was below the threshold.
	OutcomeMiss
)

// String returns the lower-case name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeUnscored:
		return "unscored"
	case OutcomeSuccess:
		return "success"
	case OutcomeMiss:
		return "miss"
	default:
		return "unknown"
	}
}

// Cue is the instruction to play the audio cue for an expression.
type Cue struct {
	Expression Expression
}

// Result is returned by [Engine.RecordDetection].
type Result struct {
	Outcome Outcome

	// Cue is non-nil when sound is enabled.
	Cue *Cue
}

// State is a point-in-time copy of an engine's state.
type State struct {
	CurrentExpression    Expression `json:"current_expression"`
	CurrentConfidence    float64    `json:"current_confidence"`
	ConfidenceThreshold  float64    `json:"confidence_threshold"`
	SoundEnabled         bool       `json:"sound_enabled"`
	History              []float64  `json:"history"`
	TotalDetections      int        `json:"total_detections"`
	SuccessfulDetections int        `json:"successful_detections"`

	// AverageConfidence is the mean of History, 0 when it is empty.
	AverageConfidence float64 `json:"average_confidence"`
}

// SuccessRate returns SuccessfulDetections / TotalDetections, or 0 when no
// detection has been scored yet.
func (s State) SuccessRate() float64 {
	return successRate(s.SuccessfulDetections, s.TotalDetections)
}

func successRate(successful, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(successful) / float64(total)
}

// Engine is the detection state machine of one session.
type Engine struct {
	current    Expression
	confidence float64
	threshold  float64
	sound      bool
	history    *History
	total      int
	successful int
}

// NewEngine returns an engine initialised from s with expression neutral and
// confidence 0.
func NewEngine(s Settings) *Engine {
	return &Engine{
		current:   Neutral,
		threshold: s.Threshold,
		sound:     s.SoundEnabled,
		history:   NewHistory(s.HistorySize),
	}
}

// RecordDetection applies one detection event. The expression always becomes
// current. A nil confidence leaves the confidence, history and counters
// untouched; otherwise the reading is stored, appended to the history and
// scored against the threshold (equal counts as success). When sound is
// enabled the result carries a cue for the current expression.
func (e *Engine) RecordDetection(expr Expression, confidence *float64) Result {
	e.current = expr

	res := Result{Outcome: OutcomeUnscored}
	if confidence != nil {
		c := *confidence
		e.confidence = c
		e.history.Push(c)
		e.total++
		if c >= e.threshold {
			e.successful++
			res.Outcome = OutcomeSuccess
		} else {
			res.Outcome = OutcomeMiss
		}
	}

	if e.sound {
		res.Cue = &Cue{Expression: e.current}
	}
	return res
}

// Record is RecordDetection with a confidence reading.
func (e *Engine) Record(expr Expression, confidence float64) Result {
	return e.RecordDetection(expr, &confidence)
}

// Select is RecordDetection without a confidence reading.
func (e *Engine) Select(expr Expression) Result {
	return e.RecordDetection(expr, nil)
}

// SetThreshold changes the threshold for future detections. Past counts are
// not re-scored.
func (e *Engine) SetThreshold(t float64) { e.threshold = t }

// Threshold returns the current threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// SetSoundEnabled turns cue emission on or off.
func (e *Engine) SetSoundEnabled(on bool) { e.sound = on }

// SoundEnabled reports whether detections emit a cue.
func (e *Engine) SoundEnabled() bool { return e.sound }

// SuccessRate returns the fraction of scored detections that met the
// threshold, or 0 before the first scored detection.
func (e *Engine) SuccessRate() float64 {
	return successRate(e.successful, e.total)
}

// AverageConfidence returns the mean of the retained readings, or 0 when
// there are none. Evicted readings no longer count.
func (e *Engine) AverageConfidence() float64 { return e.history.Mean() }

// History returns the retained confidence readings oldest first.
func (e *Engine) History() []float64 { return e.history.Values() }

// Snapshot returns a copy of the full state.
func (e *Engine) Snapshot() State {
	return State{
		CurrentExpression:    e.current,
		CurrentConfidence:    e.confidence,
		ConfidenceThreshold:  e.threshold,
		SoundEnabled:         e.sound,
		History:              e.history.Values(),
		TotalDetections:      e.total,
		SuccessfulDetections: e.successful,
		AverageConfidence:    e.history.Mean(),
	}
}

// Reset reinitialises the session: expression neutral, confidence 0, empty
// history and zero counters. Threshold and sound flag are kept.
func (e *Engine) Reset() {
	e.current = Neutral
	e.confidence = 0
	e.history.Clear()
	e.total = 0
	e.successful = 0
}
