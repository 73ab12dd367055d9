package parser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gnod-dev/gnodlogger/internal/model"
)

// Parser converts one raw ingest line into an Event.
type Parser interface {
	Parse(raw string, source string) (model.Event, error)
}

// EventParser handles NDJSON event lines as emitted by client debug
// loggers. Recognized field names are lifted into the Event; any other
// top-level keys fold into the data bag.
type EventParser struct{}

func New() *EventParser { return &EventParser{} }

// known are the top-level keys mapped onto Event fields rather than data.
var known = map[string]bool{
	"id": true, "project": true, "feature": true,
	"sessionId": true, "session_id": true,
	"clientTime": true, "client_time": true, "timestamp": true, "time": true, "ts": true,
	"level": true, "severity": true,
	"event": true, "name": true,
	"source": true, "target": true, "action": true,
	"data": true, "stackTrace": true, "stack_trace": true,
	"deviceInfo": true, "device_info": true,
	"tags": true, "notes": true,
}

func (p *EventParser) Parse(raw string, source string) (model.Event, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &fields); err != nil {
		return model.Event{}, fmt.Errorf("line from %s is not a JSON object: %w", source, err)
	}

	e := model.Event{
		ClientTime: time.Now().UTC(),
		Level:      model.LevelInfo,
	}

	if v, ok := strField(fields, "id"); ok {
		e.ID = v
	}
	if v, ok := strField(fields, "project"); ok {
		e.Project = v
	}
	if v, ok := strField(fields, "feature"); ok {
		e.Feature = v
	}
	if v, ok := strField(fields, "sessionId", "session_id"); ok {
		e.SessionID = v
	}
	if v, ok := strField(fields, "level", "severity"); ok {
		e.Level = model.NormalizeLevel(v)
	}
	if v, ok := strField(fields, "event", "name"); ok {
		e.Event = v
	}
	if v, ok := strField(fields, "source"); ok {
		e.Source = v
	}
	if v, ok := strField(fields, "target"); ok {
		e.Target = v
	}
	if v, ok := strField(fields, "action"); ok {
		e.Action = v
	}
	if v, ok := strField(fields, "stackTrace", "stack_trace"); ok {
		e.StackTrace = v
	}

	if t, ok := timeField(fields, "clientTime", "client_time", "timestamp", "time", "ts"); ok {
		e.ClientTime = t
	}

	if v, ok := fields["data"].(map[string]any); ok {
		e.Data = v
	}
	if v, ok := fields["deviceInfo"].(map[string]any); ok {
		e.DeviceInfo = stringMap(v)
	} else if v, ok := fields["device_info"].(map[string]any); ok {
		e.DeviceInfo = stringMap(v)
	}
	if v, ok := fields["tags"].([]any); ok {
		for _, tag := range v {
			e.Tags = append(e.Tags, fmt.Sprintf("%v", tag))
		}
	}
	if v, ok := strField(fields, "notes"); ok {
		e.Notes = v
	}

	// Fold unrecognized top-level keys into the data bag.
	for k, v := range fields {
		if known[k] {
			continue
		}
		if e.Data == nil {
			e.Data = make(map[string]any)
		}
		if _, exists := e.Data[k]; !exists {
			e.Data[k] = v
		}
	}

	if e.Source == "" {
		e.Source = source
	}

	if err := e.Validate(); err != nil {
		return model.Event{}, err
	}
	return e, nil
}

// strField returns the first matching non-empty string value from a map.
func strField(fields map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// timeField extracts a timestamp given as RFC 3339 text or epoch
// milliseconds.
func timeField(fields map[string]any, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return t.UTC(), true
			}
		case float64:
			return time.UnixMilli(int64(v)).UTC(), true
		}
	}
	return time.Time{}, false
}

func stringMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
