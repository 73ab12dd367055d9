package model

// Anomaly classification types.
const (
	AnomalyError    = "ERROR"
	AnomalySlow     = "SLOW"
	AnomalyRace     = "RACE_CONDITION"
	AnomalyConflict = "CONFLICT"
)

// Anomaly severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// AnomalyEvent identifies one event referenced by an anomaly.
type AnomalyEvent struct {
	Seq    int64  `json:"seq"`
	Event  string `json:"event"`
	Source string `json:"source,omitempty"`
}

// Anomaly is a derived classification over a window of events.
// Anomalies are recomputed on every read and never persisted.
type Anomaly struct {
	Type       string         `json:"type"`
	Severity   string         `json:"severity"`
	Message    string         `json:"message"`
	Sequence   int64          `json:"sequence,omitempty"`
	Events     []AnomalyEvent `json:"events,omitempty"`
	Target     string         `json:"target,omitempty"`
	StackTrace string         `json:"stackTrace,omitempty"`
}

// SessionStats summarizes one side of a session comparison.
type SessionStats struct {
	ID          string `json:"id"`
	TotalEvents int    `json:"totalEvents"`
}

// OrderDifference records an event name whose relative position differs
// between two sessions. Positions are ranks among the shared event names,
// not raw indices.
type OrderDifference struct {
	Event string `json:"event"`
	PosA  int    `json:"posA"`
	PosB  int    `json:"posB"`
}

// Comparison is the derived diff of two sessions' event-name sequences.
type Comparison struct {
	SessionA         SessionStats      `json:"sessionA"`
	SessionB         SessionStats      `json:"sessionB"`
	OnlyInA          []string          `json:"onlyInA"`
	OnlyInB          []string          `json:"onlyInB"`
	OrderDifferences []OrderDifference `json:"orderDifferences"`
	Summary          string            `json:"summary"`
}

// ProjectSummary is the aggregate view of one project's stored events.
type ProjectSummary struct {
	Project    string `json:"project"`
	TotalLogs  int64  `json:"totalLogs"`
	ErrorCount int64  `json:"errorCount"`
}

// SessionSummary is the aggregate view of one session within a project.
type SessionSummary struct {
	SessionID  string `json:"sessionId"`
	LastLog    string `json:"lastLog"`
	ErrorCount int64  `json:"errorCount"`
}
