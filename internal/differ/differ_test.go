package differ

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnod-dev/gnodlogger/internal/model"
)

func session(names ...string) []model.Event {
	events := make([]model.Event, len(names))
	for i, n := range names {
		events[i] = model.Event{Sequence: int64(i + 1), Event: n}
	}
	return events
}

func TestCompareIdentity(t *testing.T) {
	a := session("INIT", "CONNECT", "SEND")

	cmp := Compare("s1", a, "s1", a)
	assert.Empty(t, cmp.OnlyInA)
	assert.Empty(t, cmp.OnlyInB)
	assert.Empty(t, cmp.OrderDifferences)
	assert.Equal(t, "Identical", cmp.Summary)
	assert.Equal(t, 3, cmp.SessionA.TotalEvents)
}

func TestCompareOrderDifference(t *testing.T) {
	a := session("INIT", "CONNECT", "SEND")
	b := session("INIT", "SEND", "CONNECT")

	cmp := Compare("a", a, "b", b)
	assert.Empty(t, cmp.OnlyInA)
	assert.Empty(t, cmp.OnlyInB)

	require.Len(t, cmp.OrderDifferences, 2)
	byName := map[string]model.OrderDifference{}
	for _, d := range cmp.OrderDifferences {
		byName[d.Event] = d
	}
	assert.Equal(t, model.OrderDifference{Event: "CONNECT", PosA: 1, PosB: 2}, byName["CONNECT"])
	assert.Equal(t, model.OrderDifference{Event: "SEND", PosA: 2, PosB: 1}, byName["SEND"])
}

func TestCompareOnlyIn(t *testing.T) {
	c := session("INIT", "ERROR_X")
	d := session("INIT", "ERROR_X", "CLEANUP")

	cmp := Compare("c", c, "d", d)
	assert.Empty(t, cmp.OnlyInA)
	assert.Equal(t, []string{"CLEANUP"}, cmp.OnlyInB)
	assert.Empty(t, cmp.OrderDifferences)
	assert.Contains(t, cmp.Summary, "1 event(s) only in B")
}

func TestCompareSymmetry(t *testing.T) {
	a := session("INIT", "CONNECT", "A_ONLY", "SEND")
	b := session("INIT", "B_ONLY", "SEND", "CONNECT")

	ab := Compare("a", a, "b", b)
	ba := Compare("b", b, "a", a)
	assert.Equal(t, ab.OnlyInA, ba.OnlyInB)
	assert.Equal(t, ab.OnlyInB, ba.OnlyInA)
}

func TestUnsharedNamesDoNotShiftRanks(t *testing.T) {
	// B has an extra leading event; shared names keep identical relative
	// order, so no order differences should be reported.
	a := session("INIT", "CONNECT", "SEND")
	b := session("BOOT", "INIT", "CONNECT", "SEND")

	cmp := Compare("a", a, "b", b)
	assert.Equal(t, []string{"BOOT"}, cmp.OnlyInB)
	assert.Empty(t, cmp.OrderDifferences)
}

func TestDuplicateNamesCollapse(t *testing.T) {
	a := session("PING", "PING", "PING", "PONG")
	b := session("PING", "PONG")

	cmp := Compare("a", a, "b", b)
	assert.Empty(t, cmp.OnlyInA)
	assert.Empty(t, cmp.OnlyInB)
	assert.Empty(t, cmp.OrderDifferences)
	assert.Equal(t, 4, cmp.SessionA.TotalEvents)
}

func TestCompareEmptySessions(t *testing.T) {
	cmp := Compare("a", nil, "b", nil)
	assert.Equal(t, "Identical (no events)", cmp.Summary)
	assert.Empty(t, cmp.OnlyInA)
	assert.Empty(t, cmp.OnlyInB)
	assert.Empty(t, cmp.OrderDifferences)
}

func TestCompareEmptyAgainstNonEmpty(t *testing.T) {
	b := session("INIT", "SEND")

	cmp := Compare("a", nil, "b", b)
	assert.Empty(t, cmp.OnlyInA)
	assert.Equal(t, []string{"INIT", "SEND"}, cmp.OnlyInB)
	assert.Equal(t, 0, cmp.SessionA.TotalEvents)
	assert.Equal(t, 2, cmp.SessionB.TotalEvents)
}
