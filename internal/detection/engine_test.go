package detection_test

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/MrWong99/robotface/internal/detection"
)

func TestNewEngine_Defaults(t *testing.T) {
	t.Parallel()
	e := detection.NewEngine(detection.DefaultSettings())
	s := e.Snapshot()
	if s.CurrentExpression != detection.Neutral {
		t.Errorf("expression = %q, want neutral", s.CurrentExpression)
	}
	if s.CurrentConfidence != 0 || s.ConfidenceThreshold != 50 || !s.SoundEnabled {
		t.Errorf("unexpected defaults: %+v", s)
	}
	if len(s.History) != 0 || s.TotalDetections != 0 || s.SuccessfulDetections != 0 {
		t.Errorf("expected empty counters, got %+v", s)
	}
	if e.SuccessRate() != 0 {
		t.Errorf("success rate = %v, want 0", e.SuccessRate())
	}
	if s.AverageConfidence != 0 {
		t.Errorf("average confidence = %v, want 0", s.AverageConfidence)
	}
}

func TestRecordDetection_Scenario(t *testing.T) {
	t.Parallel()
	e := detection.NewEngine(detection.DefaultSettings())

	res := e.Record(detection.Happy, 80)
	if res.Outcome != detection.OutcomeSuccess {
		t.Errorf("outcome = %v, want success", res.Outcome)
	}
	s := e.Snapshot()
	if s.CurrentExpression != detection.Happy || s.CurrentConfidence != 80 {
		t.Errorf("state = %+v", s)
	}
	if !slices.Equal(s.History, []float64{80}) {
		t.Errorf("history = %v, want [80]", s.History)
	}
	if s.TotalDetections != 1 || s.SuccessfulDetections != 1 {
		t.Errorf("counters = %d/%d, want 1/1", s.SuccessfulDetections, s.TotalDetections)
	}

	res = e.Record(detection.Sad, 30)
	if res.Outcome != detection.OutcomeMiss {
		t.Errorf("outcome = %v, want miss", res.Outcome)
	}
	s = e.Snapshot()
	if !slices.Equal(s.History, []float64{80, 30}) {
		t.Errorf("history = %v, want [80 30]", s.History)
	}
	if s.TotalDetections != 2 || s.SuccessfulDetections != 1 {
		t.Errorf("counters = %d/%d, want 1/2", s.SuccessfulDetections, s.TotalDetections)
	}
	if got := s.SuccessRate(); got != 0.5 {
		t.Errorf("success rate = %v, want 0.5", got)
	}
}

func TestRecordDetection_WithoutConfidence(t *testing.T) {
	t.Parallel()
	e := detection.NewEngine(detection.DefaultSettings())
	e.Record(detection.Happy, 70)
	before := e.Snapshot()

	res := e.RecordDetection("x", nil)
	if res.Outcome != detection.OutcomeUnscored {
		t.Errorf("outcome = %v, want unscored", res.Outcome)
	}
	after := e.Snapshot()
	if after.CurrentExpression != "x" {
		t.Errorf("expression = %q, want x", after.CurrentExpression)
	}
	if after.CurrentConfidence != before.CurrentConfidence ||
		after.TotalDetections != before.TotalDetections ||
		after.SuccessfulDetections != before.SuccessfulDetections ||
		!slices.Equal(after.History, before.History) {
		t.Errorf("state changed: before %+v, after %+v", before, after)
	}
}

func TestRecordDetection_ThresholdInclusive(t *testing.T) {
	t.Parallel()
	e := detection.NewEngine(detection.DefaultSettings())
	if res := e.Record(detection.Neutral, 50); res.Outcome != detection.OutcomeSuccess {
		t.Errorf("outcome = %v, want success at threshold", res.Outcome)
	}
	if s := e.Snapshot(); s.SuccessfulDetections != 1 {
		t.Errorf("successful = %d, want 1", s.SuccessfulDetections)
	}
	if res := e.Record(detection.Neutral, 49.999); res.Outcome != detection.OutcomeMiss {
		t.Errorf("outcome = %v, want miss just below threshold", res.Outcome)
	}
}

func TestRecordDetection_Cue(t *testing.T) {
	t.Parallel()
	e := detection.NewEngine(detection.DefaultSettings())

	res := e.Record(detection.Angry, 10)
	if res.Cue == nil || res.Cue.Expression != detection.Angry {
		t.Fatalf("cue = %+v, want angry", res.Cue)
	}
	res = e.Select("unlisted")
	if res.Cue == nil || res.Cue.Expression != "unlisted" {
		t.Fatalf("selection without confidence should still cue, got %+v", res.Cue)
	}

	e.SetSoundEnabled(false)
	if res := e.Record(detection.Happy, 90); res.Cue != nil {
		t.Errorf("cue emitted with sound disabled: %+v", res.Cue)
	}
	if s := e.Snapshot(); s.TotalDetections != 2 {
		t.Errorf("state must update with sound disabled, total = %d", s.TotalDetections)
	}
}

func TestRecordDetection_HistoryWindow(t *testing.T) {
	t.Parallel()
	e := detection.NewEngine(detection.DefaultSettings())
	for i := 1; i <= 25; i++ {
		e.Record(detection.Happy, float64(i))
	}
	got := e.History()
	want := make([]float64, 0, 20)
	for i := 6; i <= 25; i++ {
		want = append(want, float64(i))
	}
	if !slices.Equal(got, want) {
		t.Errorf("history = %v, want %v", got, want)
	}
	if s := e.Snapshot(); s.TotalDetections != 25 {
		t.Errorf("total = %d, want 25", s.TotalDetections)
	}
	// Mean of 6..25; readings 1..5 were evicted.
	if got := e.AverageConfidence(); got != 15.5 {
		t.Errorf("average confidence = %v, want 15.5", got)
	}
}

func TestRecordDetection_HistorySizeCapped(t *testing.T) {
	t.Parallel()
	e := detection.NewEngine(detection.Settings{Threshold: 50, HistorySize: 50})
	for i := range 30 {
		e.Record(detection.Sad, float64(i))
	}
	if got := len(e.History()); got != detection.MaxHistorySize {
		t.Errorf("len(history) = %d, want %d", got, detection.MaxHistorySize)
	}
}

func TestAverageConfidence(t *testing.T) {
	t.Parallel()
	e := detection.NewEngine(detection.DefaultSettings())
	e.Record(detection.Happy, 80)
	e.Select(detection.Sad)
	e.Record(detection.Sad, 30)
	if got := e.Snapshot().AverageConfidence; got != 55 {
		t.Errorf("average confidence = %v, want 55", got)
	}
	e.Reset()
	if got := e.AverageConfidence(); got != 0 {
		t.Errorf("average confidence after Reset = %v, want 0", got)
	}
}

func TestRecordDetection_ThresholdChangeAppliesForward(t *testing.T) {
	t.Parallel()
	e := detection.NewEngine(detection.DefaultSettings())
	e.Record(detection.Happy, 60) // success at 50
	e.SetThreshold(70)
	e.Record(detection.Happy, 60) // miss at 70
	s := e.Snapshot()
	if s.SuccessfulDetections != 1 || s.TotalDetections != 2 {
		t.Errorf("counters = %d/%d, want 1/2", s.SuccessfulDetections, s.TotalDetections)
	}
	if s.ConfidenceThreshold != 70 {
		t.Errorf("threshold = %v, want 70", s.ConfidenceThreshold)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	e := detection.NewEngine(detection.Settings{Threshold: 30, SoundEnabled: false, HistorySize: 5})
	e.Record(detection.Sad, 40)
	e.Record(detection.Sad, 20)
	e.Reset()

	s := e.Snapshot()
	if s.CurrentExpression != detection.Neutral || s.CurrentConfidence != 0 {
		t.Errorf("current values not reset: %+v", s)
	}
	if len(s.History) != 0 || s.TotalDetections != 0 || s.SuccessfulDetections != 0 {
		t.Errorf("counters not reset: %+v", s)
	}
	if s.ConfidenceThreshold != 30 || s.SoundEnabled {
		t.Errorf("settings should survive reset: %+v", s)
	}
}

// TestRecordDetection_RandomSequences checks the history window, counter and
// success-rate invariants over random mixes of scored and unscored events and
// threshold changes.
func TestRecordDetection_RandomSequences(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(7, 11))

	for run := range 50 {
		e := detection.NewEngine(detection.DefaultSettings())
		var readings []float64
		wantTotal, wantSuccess := 0, 0

		for range rng.IntN(80) {
			switch rng.IntN(5) {
			case 0:
				e.Select(detection.KnownExpressions()[rng.IntN(6)])
			case 1:
				e.SetThreshold(float64(rng.IntN(101)))
			default:
				c := float64(rng.IntN(101))
				if c >= e.Threshold() {
					wantSuccess++
				}
				wantTotal++
				readings = append(readings, c)
				e.Record(detection.Happy, c)
			}

			s := e.Snapshot()
			if len(s.History) > 20 {
				t.Fatalf("run %d: history length %d > 20", run, len(s.History))
			}
			if s.SuccessfulDetections > s.TotalDetections {
				t.Fatalf("run %d: successful %d > total %d", run, s.SuccessfulDetections, s.TotalDetections)
			}
			if r := s.SuccessRate(); r < 0 || r > 1 {
				t.Fatalf("run %d: success rate %v out of range", run, r)
			}
		}

		s := e.Snapshot()
		tail := readings[max(0, len(readings)-20):]
		if !slices.Equal(s.History, tail) {
			t.Errorf("run %d: history = %v, want %v", run, s.History, tail)
		}
		if s.TotalDetections != wantTotal || s.SuccessfulDetections != wantSuccess {
			t.Errorf("run %d: counters = %d/%d, want %d/%d",
				run, s.SuccessfulDetections, s.TotalDetections, wantSuccess, wantTotal)
		}
	}
}

func TestExpression_IsKnown(t *testing.T) {
	t.Parallel()
	for _, e := range detection.KnownExpressions() {
		if !e.IsKnown() {
			t.Errorf("%q should be known", e)
		}
	}
	if detection.Expression("confused").IsKnown() {
		t.Error("confused should not be known")
	}
	if !detection.Expression("Surprised").IsKnown() {
		t.Error("Surprised should be known regardless of case")
	}
}

func TestRecordDetection_KeepsLabelCasing(t *testing.T) {
	t.Parallel()
	e := detection.NewEngine(detection.DefaultSettings())
	res := e.Record("Happy", 70)
	if got := e.Snapshot().CurrentExpression; got != "Happy" {
		t.Errorf("current expression = %q, want Happy", got)
	}
	if res.Cue == nil || res.Cue.Expression != "Happy" {
		t.Errorf("cue = %+v, want Happy", res.Cue)
	}
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()
	tests := map[detection.Outcome]string{
		detection.OutcomeUnscored: "unscored",
		detection.OutcomeSuccess:  "success",
		detection.OutcomeMiss:     "miss",
		detection.Outcome(42):     "unknown",
	}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(o), got, want)
		}
	}
}
