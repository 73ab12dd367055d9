package classifier

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gnod-dev/gnodlogger/internal/model"
)

// Default rule thresholds in milliseconds.
const (
	DefaultSlowThresholdMS = 1000
	DefaultRaceThresholdMS = 2
)

// Config tunes the rule thresholds.
type Config struct {
	SlowThresholdMS int64
	RaceThresholdMS int64
}

// Rule inspects an ordered event window and reports zero or more anomalies.
// Rules are independent: several may fire on the same event and all of
// their findings are kept.
type Rule func(events []model.Event) []model.Anomaly

// Classifier runs a fixed, ordered rule set over an event window.
// It is a pure function of its input: classifying the same slice twice
// yields identical output.
type Classifier struct {
	rules []Rule
}

// New creates a Classifier with the standard rule set. Zero thresholds
// fall back to the defaults.
func New(cfg Config) *Classifier {
	if cfg.SlowThresholdMS <= 0 {
		cfg.SlowThresholdMS = DefaultSlowThresholdMS
	}
	if cfg.RaceThresholdMS <= 0 {
		cfg.RaceThresholdMS = DefaultRaceThresholdMS
	}
	return &Classifier{
		rules: []Rule{
			ErrorRule(),
			SlowRule(cfg.SlowThresholdMS),
			RaceRule(cfg.RaceThresholdMS),
			ConflictRule(),
		},
	}
}

// Classify runs every rule over the window and returns the combined
// findings ordered by the sequence of their triggering event. Ties on the
// same event keep rule order, so output is fully deterministic.
func (c *Classifier) Classify(events []model.Event) []model.Anomaly {
	type keyed struct {
		a    model.Anomaly
		rule int
	}
	var found []keyed
	for i, rule := range c.rules {
		for _, a := range rule(events) {
			found = append(found, keyed{a: a, rule: i})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].a.Sequence != found[j].a.Sequence {
			return found[i].a.Sequence < found[j].a.Sequence
		}
		return found[i].rule < found[j].rule
	})

	out := make([]model.Anomaly, len(found))
	for i, k := range found {
		out[i] = k.a
	}
	return out
}

// Counts returns the number of error- and warning-severity anomalies.
func Counts(anomalies []model.Anomaly) (errors, warnings int) {
	for _, a := range anomalies {
		switch a.Severity {
		case model.SeverityError:
			errors++
		case model.SeverityWarning:
			warnings++
		}
	}
	return errors, warnings
}

// ErrorRule flags every event logged at error level.
func ErrorRule() Rule {
	return func(events []model.Event) []model.Anomaly {
		var out []model.Anomaly
		for _, e := range events {
			if e.Level != model.LevelError {
				continue
			}
			msg := e.Event
			if summary := summarizeData(e.Data); summary != "" {
				msg += ": " + summary
			}
			out = append(out, model.Anomaly{
				Type:       model.AnomalyError,
				Severity:   model.SeverityError,
				Message:    msg,
				Sequence:   e.Sequence,
				StackTrace: e.StackTrace,
			})
		}
		return out
	}
}

// SlowRule flags events preceded by a gap longer than thresholdMS.
func SlowRule(thresholdMS int64) Rule {
	return func(events []model.Event) []model.Anomaly {
		var out []model.Anomaly
		for _, e := range events {
			if e.SinceLastEvent <= thresholdMS {
				continue
			}
			out = append(out, model.Anomaly{
				Type:     model.AnomalySlow,
				Severity: model.SeverityWarning,
				Message:  fmt.Sprintf("%dms gap before %s", e.SinceLastEvent, e.Event),
				Sequence: e.Sequence,
			})
		}
		return out
	}
}

// RaceRule flags consecutive event pairs that fired within thresholdMS of
// each other. The first event of a window never triggers: its gap is not
// measured against anything.
func RaceRule(thresholdMS int64) Rule {
	return func(events []model.Event) []model.Anomaly {
		var out []model.Anomaly
		for i := 1; i < len(events); i++ {
			prev, cur := events[i-1], events[i]
			if cur.SinceLastEvent >= thresholdMS {
				continue
			}
			out = append(out, model.Anomaly{
				Type:     model.AnomalyRace,
				Severity: model.SeverityWarning,
				Message: fmt.Sprintf("%s and %s fired %dms apart",
					prev.Event, cur.Event, cur.SinceLastEvent),
				Sequence: cur.Sequence,
				Events: []model.AnomalyEvent{
					{Seq: prev.Sequence, Event: prev.Event, Source: prev.Source},
					{Seq: cur.Sequence, Event: cur.Event, Source: cur.Source},
				},
			})
		}
		return out
	}
}

// ConflictRule flags pairs of events in the window that share a non-empty
// target but carry different actions. One anomaly is reported per target,
// anchored at the first event whose action disagrees with the target's
// first observed action.
func ConflictRule() Rule {
	return func(events []model.Event) []model.Anomaly {
		firstByTarget := make(map[string]model.Event)
		reported := make(map[string]bool)
		var out []model.Anomaly

		for _, e := range events {
			if e.Target == "" || e.Action == "" {
				continue
			}
			first, seen := firstByTarget[e.Target]
			if !seen {
				firstByTarget[e.Target] = e
				continue
			}
			if e.Action == first.Action || reported[e.Target] {
				continue
			}
			reported[e.Target] = true
			out = append(out, model.Anomaly{
				Type:     model.AnomalyConflict,
				Severity: model.SeverityError,
				Message: fmt.Sprintf("conflicting actions on %s: %s then %s",
					e.Target, first.Action, e.Action),
				Sequence: e.Sequence,
				Target:   e.Target,
				Events: []model.AnomalyEvent{
					{Seq: first.Sequence, Event: first.Event, Source: first.Source},
					{Seq: e.Sequence, Event: e.Event, Source: e.Source},
				},
			})
		}
		return out
	}
}

// summarizeData renders an event's data bag as a short, deterministic
// "k=v" line for anomaly messages. Keys are sorted; nested values are
// rendered as inline JSON, best effort.
func summarizeData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+renderValue(data[k]))
	}
	return strings.Join(parts, " ")
}

func renderValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
