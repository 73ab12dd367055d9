package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity levels accepted on ingest. Anything else is normalized to info.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event is one debug occurrence emitted by a client application.
// Sequence is assigned server-side at ingest and is the only ordering
// authority; ClientTime is display-only and may disagree with Sequence
// under clock skew or retransmits.
type Event struct {
	ID        string `json:"id"`
	Project   string `json:"project"`
	Feature   string `json:"feature,omitempty"`
	SessionID string `json:"sessionId"`
	Sequence  int64  `json:"sequence"`

	ClientTime        time.Time `json:"clientTime"`
	SinceSessionStart int64     `json:"sinceSessionStart"` // ms since first event in session
	SinceLastEvent    int64     `json:"sinceLastEvent"`    // ms since previous sequence, 0 for the first

	Level  string `json:"level"`
	Event  string `json:"event"`
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
	Action string `json:"action,omitempty"`

	Data       map[string]any    `json:"data,omitempty"`
	StackTrace string            `json:"stackTrace,omitempty"`
	DeviceInfo map[string]string `json:"deviceInfo,omitempty"`

	IsBookmarked bool     `json:"isBookmarked"`
	Tags         []string `json:"tags,omitempty"`
	Notes        string   `json:"notes,omitempty"`
}

// RawLine is one unparsed line read from an ingest file.
type RawLine struct {
	Text   string
	Source string
}

// ValidationError reports a malformed event rejected at ingest.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event is missing required field %q", e.Field)
}

// Validate checks the identifiers an event must carry to be stored.
func (e *Event) Validate() error {
	switch {
	case e.Event == "":
		return &ValidationError{Field: "event"}
	case e.Project == "":
		return &ValidationError{Field: "project"}
	case e.SessionID == "":
		return &ValidationError{Field: "sessionId"}
	}
	return nil
}

// NormalizeLevel maps common level spellings to the standard set.
func NormalizeLevel(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error", "err", "fatal", "critical":
		return LevelError
	default:
		return LevelInfo
	}
}
