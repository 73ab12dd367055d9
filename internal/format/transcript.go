package format

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gnod-dev/gnodlogger/internal/model"
)

// Markers used in the transcript's two-character leading column.
const (
	markerError = "❌"
	markerWarn  = "⚠️"
	markerSlow  = "🐌"
	markerRace  = "⚡"
	markerNone  = "  "
)

// Config controls transcript column widths and value truncation.
type Config struct {
	TruncateLen  int
	FeatureWidth int
	EventWidth   int
}

// DefaultConfig returns the widths used by the CLI and the HTTP facade.
func DefaultConfig() Config {
	return Config{TruncateLen: 64, FeatureWidth: 14, EventWidth: 26}
}

// Transcript renders an ordered event list into a deterministic,
// fixed-width text block intended for LLM consumption. Rendering the same
// input twice produces byte-identical output: map data is flattened with
// sorted keys and no wall-clock values appear anywhere.
type Transcript struct {
	cfg Config
}

// New creates a Transcript renderer. Zero config fields fall back to the
// defaults.
func New(cfg Config) *Transcript {
	def := DefaultConfig()
	if cfg.TruncateLen <= 0 {
		cfg.TruncateLen = def.TruncateLen
	}
	if cfg.FeatureWidth <= 0 {
		cfg.FeatureWidth = def.FeatureWidth
	}
	if cfg.EventWidth <= 0 {
		cfg.EventWidth = def.EventWidth
	}
	return &Transcript{cfg: cfg}
}

// Render produces the transcript for an event window and its anomalies.
// Events must be ordered by sequence ascending.
func (t *Transcript) Render(events []model.Event, anomalies []model.Anomaly) string {
	var b strings.Builder

	t.writeHeader(&b, events, anomalies)

	if len(events) == 0 {
		b.WriteString("(no events)\n")
		return b.String()
	}

	markers := markersBySequence(anomalies)
	for _, e := range events {
		t.writeRow(&b, e, markers[e.Sequence])
	}
	return b.String()
}

func (t *Transcript) writeHeader(b *strings.Builder, events []model.Event, anomalies []model.Anomaly) {
	project, session := "-", "-"
	if len(events) > 0 {
		project = events[0].Project
		session = events[0].SessionID
	}

	var errs, warns int
	for _, a := range anomalies {
		switch a.Severity {
		case model.SeverityError:
			errs++
		case model.SeverityWarning:
			warns++
		}
	}

	b.WriteString("=== Debug Transcript ===\n")
	fmt.Fprintf(b, "Project:  %s\n", project)
	fmt.Fprintf(b, "Session:  %s\n", session)
	fmt.Fprintf(b, "Features: %s\n", featureList(events))
	fmt.Fprintf(b, "Events:   %d total, %d errors, %d warnings\n", len(events), errs, warns)
	b.WriteString("Legend:   ❌ error  ⚠️ warning  🐌 slow gap  ⚡ possible race\n")
	b.WriteString("\n")
}

func (t *Transcript) writeRow(b *strings.Builder, e model.Event, marker string) {
	if marker == "" {
		if e.Level == model.LevelWarn {
			marker = markerWarn
		} else {
			marker = markerNone
		}
	}

	line := fmt.Sprintf("%s #%04d %10s %9s  %s  %s",
		marker,
		e.Sequence,
		fmt.Sprintf("+%dms", e.SinceSessionStart),
		fmt.Sprintf("+%dms", e.SinceLastEvent),
		pad(e.Feature, t.cfg.FeatureWidth),
		pad(e.Event, t.cfg.EventWidth),
	)

	if flat := t.flattenData(e.Data); flat != "" {
		line += "  " + flat
	}
	b.WriteString(strings.TrimRight(line, " "))
	b.WriteString("\n")
}

// markersBySequence picks one marker per event under the precedence
// error > slow > race. The full anomaly list stays available unclipped;
// only the single-glyph column is collapsed.
func markersBySequence(anomalies []model.Anomaly) map[int64]string {
	rank := map[string]int{markerRace: 1, markerSlow: 2, markerError: 3}
	out := make(map[int64]string)

	place := func(seq int64, m string) {
		if rank[m] > rank[out[seq]] {
			out[seq] = m
		}
	}

	for _, a := range anomalies {
		switch a.Type {
		case model.AnomalyError, model.AnomalyConflict:
			place(a.Sequence, markerError)
		case model.AnomalySlow:
			place(a.Sequence, markerSlow)
		case model.AnomalyRace:
			for _, ev := range a.Events {
				place(ev.Seq, markerRace)
			}
		}
	}
	return out
}

// featureList returns the distinct features in first-seen order.
func featureList(events []model.Event) string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range events {
		if e.Feature == "" || seen[e.Feature] {
			continue
		}
		seen[e.Feature] = true
		out = append(out, e.Feature)
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ", ")
}

// flattenData renders the data bag as "k=v" pairs with sorted keys.
// Nested objects and arrays become inline JSON; anything that fails to
// marshal is rendered with %v rather than failing the transcript.
func (t *Transcript) flattenData(data map[string]any) string {
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
		parts = append(parts, k+"="+t.truncate(inlineValue(data[k])))
	}
	return strings.Join(parts, " ")
}

func inlineValue(v any) string {
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

func (t *Transcript) truncate(s string) string {
	r := []rune(s)
	if len(r) <= t.cfg.TruncateLen {
		return s
	}
	return string(r[:t.cfg.TruncateLen]) + "…"
}

// pad left-aligns s in a field of width runes, truncating with an
// ellipsis when it does not fit.
func pad(s string, width int) string {
	r := []rune(s)
	if len(r) > width {
		return string(r[:width-1]) + "…"
	}
	return s + strings.Repeat(" ", width-len(r))
}
