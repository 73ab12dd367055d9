package sequencer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noSeed() (int64, time.Time, time.Time, error) {
	return 0, time.Time{}, time.Time{}, nil
}

func TestAssignAndCommit(t *testing.T) {
	q := New(time.Minute, zap.NewNop())
	base := time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)

	sess, err := q.Acquire("p", "s1", noSeed)
	require.NoError(t, err)

	a := sess.Next(base)
	assert.Equal(t, int64(1), a.Sequence)
	assert.Equal(t, int64(0), a.SinceSessionStart)
	assert.Equal(t, int64(0), a.SinceLastEvent)
	sess.Commit(base)
	sess.Release()

	sess, err = q.Acquire("p", "s1", noSeed)
	require.NoError(t, err)
	a = sess.Next(base.Add(250 * time.Millisecond))
	assert.Equal(t, int64(2), a.Sequence)
	assert.Equal(t, int64(250), a.SinceSessionStart)
	assert.Equal(t, int64(250), a.SinceLastEvent)
	sess.Commit(base.Add(250 * time.Millisecond))
	sess.Release()

	sess, err = q.Acquire("p", "s1", noSeed)
	require.NoError(t, err)
	a = sess.Next(base.Add(300 * time.Millisecond))
	assert.Equal(t, int64(3), a.Sequence)
	assert.Equal(t, int64(300), a.SinceSessionStart)
	assert.Equal(t, int64(50), a.SinceLastEvent)
	sess.Release()
}

func TestUncommittedAssignmentLeavesNoGap(t *testing.T) {
	q := New(time.Minute, zap.NewNop())
	now := time.Now()

	sess, err := q.Acquire("p", "s1", noSeed)
	require.NoError(t, err)
	a := sess.Next(now)
	assert.Equal(t, int64(1), a.Sequence)
	// Persist failed: release without committing.
	sess.Release()

	sess, err = q.Acquire("p", "s1", noSeed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sess.Next(now).Sequence)
	sess.Release()
}

func TestSeedFromStorage(t *testing.T) {
	q := New(time.Minute, zap.NewNop())
	base := time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)

	sess, err := q.Acquire("p", "s1", func() (int64, time.Time, time.Time, error) {
		return 7, base, base.Add(2 * time.Second), nil
	})
	require.NoError(t, err)
	defer sess.Release()

	a := sess.Next(base.Add(3 * time.Second))
	assert.Equal(t, int64(8), a.Sequence)
	assert.Equal(t, int64(3000), a.SinceSessionStart)
	assert.Equal(t, int64(1000), a.SinceLastEvent)
}

func TestSeedRunsOncePerSession(t *testing.T) {
	q := New(time.Minute, zap.NewNop())
	calls := 0
	seed := func() (int64, time.Time, time.Time, error) {
		calls++
		return 0, time.Time{}, time.Time{}, nil
	}

	for i := 0; i < 3; i++ {
		sess, err := q.Acquire("p", "s1", seed)
		require.NoError(t, err)
		sess.Release()
	}
	assert.Equal(t, 1, calls)
}

func TestInvalidate(t *testing.T) {
	q := New(time.Minute, zap.NewNop())
	now := time.Now()

	sess, _ := q.Acquire("p", "s1", noSeed)
	sess.Commit(now)
	sess.Release()
	require.Equal(t, 1, q.Active())

	q.Invalidate("p", "s1")
	assert.Equal(t, 0, q.Active())

	// Next touch reseeds.
	sess, err := q.Acquire("p", "s1", func() (int64, time.Time, time.Time, error) {
		return 5, now, now, nil
	})
	require.NoError(t, err)
	defer sess.Release()
	assert.Equal(t, int64(6), sess.Next(now).Sequence)
}

func TestInvalidateProject(t *testing.T) {
	q := New(time.Minute, zap.NewNop())

	for _, id := range []string{"s1", "s2"} {
		sess, _ := q.Acquire("p", id, noSeed)
		sess.Release()
	}
	sess, _ := q.Acquire("other", "s1", noSeed)
	sess.Release()
	require.Equal(t, 3, q.Active())

	q.InvalidateProject("p")
	assert.Equal(t, 1, q.Active())
}

func TestEviction(t *testing.T) {
	q := New(10*time.Millisecond, zap.NewNop())

	sess, _ := q.Acquire("p", "s1", noSeed)
	sess.Commit(time.Now())
	sess.Release()

	time.Sleep(30 * time.Millisecond)
	q.evict()
	assert.Equal(t, 0, q.Active())
}

func TestAcquireRacesEviction(t *testing.T) {
	// Everything is instantly idle, so the evictor below constantly drops
	// session state between a worker's map read and its lock.
	q := New(time.Nanosecond, zap.NewNop())
	base := time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)

	// Simulated persistence: a uniqueness-checked set of assigned
	// sequences, also serving as the reseed source after eviction.
	var storeMu sync.Mutex
	persisted := make(map[int64]bool)
	var maxSeq int64
	seed := func() (int64, time.Time, time.Time, error) {
		storeMu.Lock()
		defer storeMu.Unlock()
		return maxSeq, time.Time{}, time.Time{}, nil
	}

	stop := make(chan struct{})
	var evictorDone sync.WaitGroup
	evictorDone.Add(1)
	go func() {
		defer evictorDone.Done()
		for {
			select {
			case <-stop:
				return
			default:
				q.evict()
			}
		}
	}()

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				sess, err := q.Acquire("p", "s1", seed)
				if err != nil {
					t.Errorf("acquire failed: %v", err)
					return
				}
				a := sess.Next(base)
				storeMu.Lock()
				if persisted[a.Sequence] {
					t.Errorf("sequence %d assigned twice", a.Sequence)
				} else {
					persisted[a.Sequence] = true
					if a.Sequence > maxSeq {
						maxSeq = a.Sequence
					}
					sess.Commit(base)
				}
				storeMu.Unlock()
				sess.Release()
			}
		}()
	}
	wg.Wait()
	close(stop)
	evictorDone.Wait()

	require.Len(t, persisted, workers*perWorker)
	for n := int64(1); n <= workers*perWorker; n++ {
		assert.True(t, persisted[n], "missing sequence %d", n)
	}
}

func TestNegativeGapFromSkewedClock(t *testing.T) {
	q := New(time.Minute, zap.NewNop())
	base := time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)

	sess, _ := q.Acquire("p", "s1", noSeed)
	sess.Commit(base)
	sess.Release()

	// A retransmitted event carries an older client clock. The sequence
	// still advances; only the derived gap goes negative (clamped by the
	// store before persisting).
	sess, _ = q.Acquire("p", "s1", noSeed)
	defer sess.Release()
	a := sess.Next(base.Add(-5 * time.Millisecond))
	assert.Equal(t, int64(2), a.Sequence)
	assert.Negative(t, a.SinceLastEvent)
}
