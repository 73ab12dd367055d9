package classifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnod-dev/gnodlogger/internal/model"
)

// window builds a session window from per-event gaps in milliseconds.
// The first gap is ignored (first event has no predecessor).
func window(names []string, gaps []int64) []model.Event {
	base := time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)
	events := make([]model.Event, len(names))
	var elapsed int64
	for i, name := range names {
		gap := gaps[i]
		if i == 0 {
			gap = 0
		}
		elapsed += gap
		events[i] = model.Event{
			Project:           "demo",
			SessionID:         "s1",
			Sequence:          int64(i + 1),
			ClientTime:        base.Add(time.Duration(elapsed) * time.Millisecond),
			SinceSessionStart: elapsed,
			SinceLastEvent:    gap,
			Level:             model.LevelInfo,
			Event:             name,
		}
	}
	return events
}

func TestSlowAndRaceScenario(t *testing.T) {
	// Gaps [0, 5, 1500, 1, 10]: one slow gap, one near-simultaneous pair.
	events := window(
		[]string{"INIT", "CONNECT", "OFFER", "ANSWER", "SEND"},
		[]int64{0, 5, 1500, 1, 10},
	)

	anomalies := New(Config{}).Classify(events)
	require.Len(t, anomalies, 2)

	assert.Equal(t, model.AnomalySlow, anomalies[0].Type)
	assert.Equal(t, int64(3), anomalies[0].Sequence)
	assert.Contains(t, anomalies[0].Message, "1500ms gap before OFFER")

	assert.Equal(t, model.AnomalyRace, anomalies[1].Type)
	require.Len(t, anomalies[1].Events, 2)
	assert.Equal(t, int64(3), anomalies[1].Events[0].Seq)
	assert.Equal(t, int64(4), anomalies[1].Events[1].Seq)
}

func TestErrorRule(t *testing.T) {
	events := window([]string{"INIT", "CRASH"}, []int64{0, 50})
	events[1].Level = model.LevelError
	events[1].StackTrace = "at foo.js:10"
	events[1].Data = map[string]any{"code": 500, "reason": "boom"}

	anomalies := New(Config{}).Classify(events)
	require.Len(t, anomalies, 1)

	a := anomalies[0]
	assert.Equal(t, model.AnomalyError, a.Type)
	assert.Equal(t, model.SeverityError, a.Severity)
	assert.Equal(t, int64(2), a.Sequence)
	assert.Equal(t, "at foo.js:10", a.StackTrace)
	assert.Equal(t, "CRASH: code=500 reason=boom", a.Message)
}

func TestConflictRule(t *testing.T) {
	events := window([]string{"LOCK", "WRITE", "UNLOCK"}, []int64{0, 100, 100})
	events[0].Target = "doc-1"
	events[0].Action = "acquire"
	events[1].Target = "doc-1"
	events[1].Action = "release"
	events[2].Target = "doc-1"
	events[2].Action = "delete"

	anomalies := New(Config{}).Classify(events)
	require.Len(t, anomalies, 1) // one conflict per target

	a := anomalies[0]
	assert.Equal(t, model.AnomalyConflict, a.Type)
	assert.Equal(t, "doc-1", a.Target)
	assert.Equal(t, int64(2), a.Sequence)
	require.Len(t, a.Events, 2)
	assert.Equal(t, int64(1), a.Events[0].Seq)
}

func TestConflictRequiresDifferentActions(t *testing.T) {
	events := window([]string{"WRITE", "WRITE"}, []int64{0, 100})
	for i := range events {
		events[i].Target = "doc-1"
		events[i].Action = "save"
	}

	assert.Empty(t, New(Config{}).Classify(events))
}

func TestRulesUnionOnSameEvent(t *testing.T) {
	// An error-level event after a long gap triggers ERROR and SLOW.
	events := window([]string{"INIT", "TIMEOUT"}, []int64{0, 2000})
	events[1].Level = model.LevelError

	anomalies := New(Config{}).Classify(events)
	require.Len(t, anomalies, 2)
	assert.Equal(t, model.AnomalyError, anomalies[0].Type)
	assert.Equal(t, model.AnomalySlow, anomalies[1].Type)
	assert.Equal(t, anomalies[0].Sequence, anomalies[1].Sequence)
}

func TestFirstEventNeverRaces(t *testing.T) {
	events := window([]string{"INIT"}, []int64{0})
	assert.Empty(t, New(Config{}).Classify(events))
}

func TestClassifyIsIdempotent(t *testing.T) {
	events := window(
		[]string{"INIT", "CONNECT", "OFFER", "ANSWER", "SEND"},
		[]int64{0, 5, 1500, 1, 10},
	)
	events[2].Level = model.LevelError
	events[3].Target = "peer-1"
	events[3].Action = "open"
	events[4].Target = "peer-1"
	events[4].Action = "close"

	c := New(Config{})
	first := c.Classify(events)
	second := c.Classify(events)
	assert.Equal(t, first, second)
}

func TestClassifyEmptyWindow(t *testing.T) {
	assert.Empty(t, New(Config{}).Classify(nil))
}

func TestCounts(t *testing.T) {
	anomalies := []model.Anomaly{
		{Severity: model.SeverityError},
		{Severity: model.SeverityWarning},
		{Severity: model.SeverityWarning},
	}
	errs, warns := Counts(anomalies)
	assert.Equal(t, 1, errs)
	assert.Equal(t, 2, warns)
}

func TestCustomThresholds(t *testing.T) {
	events := window([]string{"A", "B"}, []int64{0, 300})

	// Default thresholds see nothing.
	assert.Empty(t, New(Config{}).Classify(events))

	// A tighter slow threshold flags the 300ms gap.
	anomalies := New(Config{SlowThresholdMS: 200}).Classify(events)
	require.Len(t, anomalies, 1)
	assert.Equal(t, model.AnomalySlow, anomalies[0].Type)
}
