package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/gnod-dev/gnodlogger/internal/model"
	"github.com/gnod-dev/gnodlogger/internal/sequencer"
)

// ErrNotFound is returned when a referenced event does not exist.
var ErrNotFound = errors.New("event not found")

// Store is the durable, append-only keeper of events, keyed by
// (project, sessionId, sequence). Sequence assignment happens inside
// Append under the sequencer's per-session lock, so concurrent appends
// to one session can neither duplicate nor skip a number.
type Store struct {
	db     *sql.DB
	seq    *sequencer.Sequencer
	logger *zap.Logger
}

// Open creates or opens the event database at dbPath.
func Open(dbPath string, seq *sequencer.Sequencer, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, seq: seq, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		session_id TEXT NOT NULL,
		feature TEXT NOT NULL DEFAULT '',
		sequence INTEGER NOT NULL,
		client_time DATETIME NOT NULL,
		since_session_start_ms INTEGER NOT NULL,
		since_last_event_ms INTEGER NOT NULL,
		level TEXT NOT NULL,
		event TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		target TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL DEFAULT '',
		data_json TEXT,
		stack_trace TEXT NOT NULL DEFAULT '',
		device_info_json TEXT,
		is_bookmarked INTEGER NOT NULL DEFAULT 0,
		tags_json TEXT,
		notes TEXT NOT NULL DEFAULT '',
		UNIQUE(project, session_id, sequence)
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(project, session_id, sequence);
	CREATE INDEX IF NOT EXISTS idx_events_project_level ON events(project, level);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append validates the event, assigns its sequence and derived timing, and
// persists it. Assignment and persistence are one atomic unit: a failed
// insert does not advance the session counter, so no permanent gap can
// appear. A retried append carrying an ID already stored in the session
// returns the existing row instead of a second sequence number.
func (s *Store) Append(e model.Event) (model.Event, error) {
	if err := e.Validate(); err != nil {
		return model.Event{}, err
	}

	e.Level = model.NormalizeLevel(e.Level)
	if e.ClientTime.IsZero() {
		e.ClientTime = time.Now().UTC()
	}

	sess, err := s.seq.Acquire(e.Project, e.SessionID, func() (int64, time.Time, time.Time, error) {
		return s.seedSession(e.Project, e.SessionID)
	})
	if err != nil {
		return model.Event{}, err
	}
	defer sess.Release()

	if e.ID != "" {
		existing, err := s.Get(e.ID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return model.Event{}, err
		}
	} else {
		e.ID = uuid.NewString()
	}

	a := sess.Next(e.ClientTime)
	e.Sequence = a.Sequence
	e.SinceSessionStart = max64(a.SinceSessionStart, 0)
	e.SinceLastEvent = max64(a.SinceLastEvent, 0)

	dataJSON, _ := json.Marshal(e.Data)
	deviceJSON, _ := json.Marshal(e.DeviceInfo)
	tagsJSON, _ := json.Marshal(e.Tags)

	_, err = s.db.Exec(`
		INSERT INTO events (
			id, project, session_id, feature, sequence, client_time,
			since_session_start_ms, since_last_event_ms,
			level, event, source, target, action,
			data_json, stack_trace, device_info_json,
			is_bookmarked, tags_json, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Project, e.SessionID, e.Feature, e.Sequence, e.ClientTime.UTC(),
		e.SinceSessionStart, e.SinceLastEvent,
		e.Level, e.Event, e.Source, e.Target, e.Action,
		string(dataJSON), e.StackTrace, string(deviceJSON),
		boolToInt(e.IsBookmarked), string(tagsJSON), e.Notes,
	)
	if err != nil {
		return model.Event{}, fmt.Errorf("failed to persist event: %w", err)
	}

	sess.Commit(e.ClientTime)
	return e, nil
}

// seedSession recovers a session's counter and timing cache from storage.
func (s *Store) seedSession(project, sessionID string) (int64, time.Time, time.Time, error) {
	var maxSeq int64
	err := s.db.QueryRow(
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE project = ? AND session_id = ?`,
		project, sessionID,
	).Scan(&maxSeq)
	if err != nil {
		return 0, time.Time{}, time.Time{}, err
	}
	if maxSeq == 0 {
		return 0, time.Time{}, time.Time{}, nil
	}

	var first, last time.Time
	err = s.db.QueryRow(
		`SELECT client_time FROM events WHERE project = ? AND session_id = ? ORDER BY sequence ASC LIMIT 1`,
		project, sessionID,
	).Scan(&first)
	if err != nil {
		return 0, time.Time{}, time.Time{}, err
	}
	err = s.db.QueryRow(
		`SELECT client_time FROM events WHERE project = ? AND session_id = ? ORDER BY sequence DESC LIMIT 1`,
		project, sessionID,
	).Scan(&last)
	if err != nil {
		return 0, time.Time{}, time.Time{}, err
	}
	return maxSeq, first, last, nil
}

// Get returns a single event by ID.
func (s *Store) Get(id string) (model.Event, error) {
	row := s.db.QueryRow(selectColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, ErrNotFound
	}
	return e, err
}

// ListOptions filters and paginates a read of stored events.
type ListOptions struct {
	Project   string
	Feature   string
	Level     string
	SessionID string
	Page      int
	Limit     int
}

// List returns events matching the filter, newest first, plus the total
// number of matching rows.
func (s *Store) List(opts ListOptions) ([]model.Event, int64, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = 50
	}

	where, args := buildFilter(opts.Project, opts.Feature, opts.Level, opts.SessionID)

	var total int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	// Within one session sequence is the ordering contract; across sessions
	// fall back to insertion order.
	order := ` ORDER BY rowid DESC`
	if opts.SessionID != "" {
		order = ` ORDER BY sequence DESC`
	}

	query := selectColumns + ` FROM events` + where + order + ` LIMIT ? OFFSET ?`
	rows, err := s.db.Query(query, append(args, opts.Limit, (opts.Page-1)*opts.Limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	return events, total, err
}

// ListAsc returns up to limit events for a session in sequence order,
// the shape the classifier, differ, and formatter consume.
func (s *Store) ListAsc(project, feature, sessionID string, limit int) ([]model.Event, error) {
	if limit < 1 {
		limit = 500
	}
	where, args := buildFilter(project, feature, "", sessionID)
	query := selectColumns + ` FROM events` + where + ` ORDER BY session_id, sequence ASC LIMIT ?`
	rows, err := s.db.Query(query, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Projects returns per-project aggregates recomputed from stored rows.
func (s *Store) Projects() ([]model.ProjectSummary, error) {
	rows, err := s.db.Query(`
		SELECT project, COUNT(*), SUM(CASE WHEN level = 'error' THEN 1 ELSE 0 END)
		FROM events GROUP BY project ORDER BY project`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProjectSummary
	for rows.Next() {
		var p model.ProjectSummary
		if err := rows.Scan(&p.Project, &p.TotalLogs, &p.ErrorCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Sessions returns per-session aggregates for one project, most recently
// active first.
func (s *Store) Sessions(project string) ([]model.SessionSummary, error) {
	rows, err := s.db.Query(`
		SELECT session_id, MAX(client_time), SUM(CASE WHEN level = 'error' THEN 1 ELSE 0 END)
		FROM events WHERE project = ? GROUP BY session_id ORDER BY MAX(client_time) DESC`,
		project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SessionSummary
	for rows.Next() {
		var sum model.SessionSummary
		var last time.Time
		if err := rows.Scan(&sum.SessionID, &last, &sum.ErrorCount); err != nil {
			return nil, err
		}
		sum.LastLog = last.UTC().Format(time.RFC3339)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// BookmarkPatch carries the mutable annotation fields of an event.
// Nil pointer fields are left unchanged.
type BookmarkPatch struct {
	IsBookmarked bool
	Tags         []string
	Notes        *string
}

// Bookmark updates an event's annotations and returns the updated row.
func (s *Store) Bookmark(id string, patch BookmarkPatch) (model.Event, error) {
	e, err := s.Get(id)
	if err != nil {
		return model.Event{}, err
	}

	e.IsBookmarked = patch.IsBookmarked
	if patch.Tags != nil {
		e.Tags = patch.Tags
	}
	if patch.Notes != nil {
		e.Notes = *patch.Notes
	}

	tagsJSON, _ := json.Marshal(e.Tags)
	_, err = s.db.Exec(
		`UPDATE events SET is_bookmarked = ?, tags_json = ?, notes = ? WHERE id = ?`,
		boolToInt(e.IsBookmarked), string(tagsJSON), e.Notes, id,
	)
	if err != nil {
		return model.Event{}, err
	}
	return e, nil
}

// DeleteFilter scopes a bulk deletion. Zero-value fields match everything.
type DeleteFilter struct {
	Project   string
	SessionID string
	Before    time.Time
}

// Delete removes matching events and returns the number deleted. Cached
// sequencer state for the affected scope is invalidated so later appends
// reseed from storage.
func (s *Store) Delete(f DeleteFilter) (int64, error) {
	where := ` WHERE 1=1`
	var args []any
	if f.Project != "" {
		where += ` AND project = ?`
		args = append(args, f.Project)
	}
	if f.SessionID != "" {
		where += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if !f.Before.IsZero() {
		where += ` AND client_time < ?`
		args = append(args, f.Before.UTC())
	}

	res, err := s.db.Exec(`DELETE FROM events`+where, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	s.logger.Info("deleted events",
		zap.Int64("count", n),
		zap.String("project", f.Project),
		zap.String("session", f.SessionID))

	if f.Project != "" && f.SessionID != "" {
		s.seq.Invalidate(f.Project, f.SessionID)
	} else if f.Project != "" {
		s.seq.InvalidateProject(f.Project)
	}

	return n, nil
}

// TotalEvents returns the number of stored events across all projects.
func (s *Store) TotalEvents() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

const selectColumns = `SELECT id, project, session_id, feature, sequence, client_time,
	since_session_start_ms, since_last_event_ms,
	level, event, source, target, action,
	data_json, stack_trace, device_info_json,
	is_bookmarked, tags_json, notes`

func buildFilter(project, feature, level, sessionID string) (string, []any) {
	where := ` WHERE 1=1`
	var args []any
	if project != "" {
		where += ` AND project = ?`
		args = append(args, project)
	}
	if feature != "" {
		where += ` AND feature = ?`
		args = append(args, feature)
	}
	if level != "" {
		where += ` AND level = ?`
		args = append(args, level)
	}
	if sessionID != "" {
		where += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (model.Event, error) {
	var e model.Event
	var dataJSON, deviceJSON, tagsJSON sql.NullString
	var bookmarked int
	err := row.Scan(
		&e.ID, &e.Project, &e.SessionID, &e.Feature, &e.Sequence, &e.ClientTime,
		&e.SinceSessionStart, &e.SinceLastEvent,
		&e.Level, &e.Event, &e.Source, &e.Target, &e.Action,
		&dataJSON, &e.StackTrace, &deviceJSON,
		&bookmarked, &tagsJSON, &e.Notes,
	)
	if err != nil {
		return model.Event{}, err
	}
	e.ClientTime = e.ClientTime.UTC()
	e.IsBookmarked = bookmarked != 0
	if dataJSON.Valid && dataJSON.String != "" && dataJSON.String != "null" {
		_ = json.Unmarshal([]byte(dataJSON.String), &e.Data)
	}
	if deviceJSON.Valid && deviceJSON.String != "" && deviceJSON.String != "null" {
		_ = json.Unmarshal([]byte(deviceJSON.String), &e.DeviceInfo)
	}
	if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "null" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &e.Tags)
	}
	return e, nil
}

func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
