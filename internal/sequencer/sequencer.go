package sequencer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SeedFunc loads persisted session state when a session is first touched
// (or touched again after eviction): the highest assigned sequence and the
// client times of the first and most recent events. maxSeq == 0 means the
// session has no stored events.
type SeedFunc func() (maxSeq int64, firstTime, lastTime time.Time, err error)

// Assignment is the sequence number and derived timing for one append.
// It is not committed until the caller persisted the event.
type Assignment struct {
	Sequence          int64
	SinceSessionStart int64 // ms
	SinceLastEvent    int64 // ms
}

// sessionState tracks the monotonic counter and timing cache for one session.
// Guarded by the owning Session lock during assignment.
type sessionState struct {
	mu        sync.Mutex
	seeded    bool
	next      int64
	firstTime time.Time
	lastTime  time.Time
	touched   time.Time
}

// Sequencer owns the per-(project, sessionId) monotonic counters and the
// timing caches used to derive sinceSessionStart/sinceLastEvent. Sequence
// assignment for one session is serialized; different sessions proceed in
// parallel. Idle session state is evicted and reseeded from the store on
// the next touch, so eviction never breaks counter continuity.
type Sequencer struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	ttl      time.Duration
	logger   *zap.Logger
}

// New creates a Sequencer that evicts session state idle longer than ttl.
func New(ttl time.Duration, logger *zap.Logger) *Sequencer {
	return &Sequencer{
		sessions: make(map[string]*sessionState),
		ttl:      ttl,
		logger:   logger,
	}
}

func key(project, sessionID string) string {
	return project + "\x00" + sessionID
}

// Session is a handle on one session's locked state, valid between
// Acquire and Release.
type Session struct {
	st *sessionState
}

// Acquire locks the state for (project, sessionID), seeding it via seed if
// this is the first touch. The caller must Release the handle.
func (q *Sequencer) Acquire(project, sessionID string, seed SeedFunc) (*Session, error) {
	k := key(project, sessionID)
	for {
		q.mu.Lock()
		st, ok := q.sessions[k]
		if !ok {
			st = &sessionState{}
			q.sessions[k] = st
		}
		q.mu.Unlock()

		st.mu.Lock()

		// An eviction between the map read and the lock leaves st orphaned;
		// a concurrent Acquire would then install and seed a second state
		// for the same session. Retry against whatever is in the map now.
		// Once the lock is held eviction skips this state, so the check
		// stays valid until Release.
		q.mu.Lock()
		current := q.sessions[k]
		q.mu.Unlock()
		if current != st {
			st.mu.Unlock()
			continue
		}

		if !st.seeded {
			maxSeq, first, last, err := seed()
			if err != nil {
				st.mu.Unlock()
				return nil, err
			}
			st.next = maxSeq + 1
			st.firstTime = first
			st.lastTime = last
			st.seeded = true
		}
		st.touched = time.Now()
		return &Session{st: st}, nil
	}
}

// Next computes the assignment for an event with the given client time.
// The counter does not advance until Commit, so a failed persist leaves
// no gap.
func (s *Session) Next(clientTime time.Time) Assignment {
	a := Assignment{Sequence: s.st.next}
	if a.Sequence > 1 {
		a.SinceSessionStart = clientTime.Sub(s.st.firstTime).Milliseconds()
		a.SinceLastEvent = clientTime.Sub(s.st.lastTime).Milliseconds()
	}
	return a
}

// Commit advances the counter after the event was durably persisted.
func (s *Session) Commit(clientTime time.Time) {
	if s.st.next == 1 {
		s.st.firstTime = clientTime
	}
	s.st.lastTime = clientTime
	s.st.next++
}

// Release unlocks the session state.
func (s *Session) Release() {
	s.st.touched = time.Now()
	s.st.mu.Unlock()
}

// Invalidate drops the cached state for a session so the next touch
// reseeds from the store. Used after deletions.
func (q *Sequencer) Invalidate(project, sessionID string) {
	q.mu.Lock()
	delete(q.sessions, key(project, sessionID))
	q.mu.Unlock()
}

// InvalidateProject drops cached state for every session of a project.
func (q *Sequencer) InvalidateProject(project string) {
	q.mu.Lock()
	for k := range q.sessions {
		if len(k) > len(project) && k[:len(project)] == project && k[len(project)] == '\x00' {
			delete(q.sessions, k)
		}
	}
	q.mu.Unlock()
}

// Start runs the eviction loop. Blocks until the context is cancelled.
func (q *Sequencer) Start(ctx context.Context) {
	ticker := time.NewTicker(q.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.evict()
		}
	}
}

// evict removes session state that has been idle longer than the TTL.
// States currently locked by an in-flight append are skipped.
func (q *Sequencer) evict() {
	cutoff := time.Now().Add(-q.ttl)
	q.mu.Lock()
	defer q.mu.Unlock()

	for k, st := range q.sessions {
		if !st.mu.TryLock() {
			continue
		}
		idle := st.touched.Before(cutoff)
		st.mu.Unlock()
		if idle {
			delete(q.sessions, k)
			q.logger.Debug("evicted idle session state", zap.String("key", k))
		}
	}
}

// Active returns the number of sessions with cached state.
func (q *Sequencer) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sessions)
}
