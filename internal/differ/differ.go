package differ

import (
	"fmt"

	"github.com/gnod-dev/gnodlogger/internal/model"
)

// Compare diffs two sessions' event-name sequences. Both slices must be
// ordered by sequence ascending. The diff works on event names: duplicate
// occurrences of a name collapse to its first occurrence.
//
// Order differences compare relative ranks among the names the two
// sessions share, not raw indices, so names unique to one side cannot
// shift every later name into a false positive.
func Compare(idA string, eventsA []model.Event, idB string, eventsB []model.Event) model.Comparison {
	namesA := names(eventsA)
	namesB := names(eventsB)

	setA := toSet(namesA)
	setB := toSet(namesB)

	cmp := model.Comparison{
		SessionA:         model.SessionStats{ID: idA, TotalEvents: len(eventsA)},
		SessionB:         model.SessionStats{ID: idB, TotalEvents: len(eventsB)},
		OnlyInA:          []string{},
		OnlyInB:          []string{},
		OrderDifferences: []model.OrderDifference{},
	}

	for _, n := range namesA {
		if !setB[n] {
			cmp.OnlyInA = append(cmp.OnlyInA, n)
		}
	}
	for _, n := range namesB {
		if !setA[n] {
			cmp.OnlyInB = append(cmp.OnlyInB, n)
		}
	}

	// Rank shared names by first occurrence on each side.
	rankA := ranks(namesA, setB)
	rankB := ranks(namesB, setA)
	for _, n := range namesA {
		if !setB[n] {
			continue
		}
		if rankA[n] != rankB[n] {
			cmp.OrderDifferences = append(cmp.OrderDifferences, model.OrderDifference{
				Event: n,
				PosA:  rankA[n],
				PosB:  rankB[n],
			})
		}
	}

	cmp.Summary = summarize(cmp)
	return cmp
}

// names returns event names in sequence order with duplicates removed
// (first occurrence wins).
func names(events []model.Event) []string {
	seen := make(map[string]bool, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		if seen[e.Event] {
			continue
		}
		seen[e.Event] = true
		out = append(out, e.Event)
	}
	return out
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// ranks assigns each name shared with the other side its position among
// the shared names only.
func ranks(names []string, other map[string]bool) map[string]int {
	out := make(map[string]int)
	i := 0
	for _, n := range names {
		if !other[n] {
			continue
		}
		out[n] = i
		i++
	}
	return out
}

func summarize(cmp model.Comparison) string {
	if len(cmp.OnlyInA) == 0 && len(cmp.OnlyInB) == 0 && len(cmp.OrderDifferences) == 0 {
		if cmp.SessionA.TotalEvents == 0 && cmp.SessionB.TotalEvents == 0 {
			return "Identical (no events)"
		}
		return "Identical"
	}
	return fmt.Sprintf("%d event(s) only in A, %d event(s) only in B, %d order difference(s)",
		len(cmp.OnlyInA), len(cmp.OnlyInB), len(cmp.OrderDifferences))
}
