package schedule

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// PositionUpdate assigns a new sequence position to one entry.
type PositionUpdate struct {
	EntryID  string
	Position int
}

// Resequence computes new sequence positions for the pending entries of a
// schedule according to the given strategy and returns the changed
// assignments. Entries already DISPATCHED or IN_PROGRESS keep their
// positions and act as fixed anchors; pending entries receive the lowest
// positions not held by an anchor, in strategy order, so positions stay
// dense over the pending subset and unique among all non-terminal entries.
// Re-running a strategy on an unchanged pending set returns no updates.
// Sequencing never changes entry or schedule state; the mutated positions
// are applied to the passed slice in place.
func Resequence(entries []ScheduleEntry, strategy Strategy) ([]PositionUpdate, error) {
	less, err := lessFunc(strategy)
	if err != nil {
		return nil, err
	}

	pending, anchors := splitPending(entries)
	sort.SliceStable(pending, func(i, j int) bool { return less(pending[i], pending[j]) })
	return assignPositions(pending, anchors), nil
}

// CompactPositions reassigns dense positions to the pending entries while
// preserving their current relative order. Used after an entry leaves the
// pending subset (cancellation) so the remaining positions close the gap.
func CompactPositions(entries []ScheduleEntry) []PositionUpdate {
	pending, anchors := splitPending(entries)
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].SequencePosition != pending[j].SequencePosition {
			return pending[i].SequencePosition < pending[j].SequencePosition
		}
		return creationOrder(pending[i], pending[j])
	})
	return assignPositions(pending, anchors)
}

// splitPending separates the pending entries from the positions held by
// non-terminal anchors. Terminal entries hold no position.
func splitPending(entries []ScheduleEntry) ([]*ScheduleEntry, mapset.Set[int]) {
	anchors := mapset.NewSet[int]()
	var pending []*ScheduleEntry
	for i := range entries {
		e := &entries[i]
		switch {
		case e.IsPending():
			pending = append(pending, e)
		case !e.IsTerminal():
			anchors.Add(e.SequencePosition)
		}
	}
	return pending, anchors
}

// assignPositions walks the ordered pending entries and assigns each the
// lowest positive position not held by an anchor.
func assignPositions(pending []*ScheduleEntry, anchors mapset.Set[int]) []PositionUpdate {
	var updates []PositionUpdate
	pos := 0
	for _, e := range pending {
		pos++
		for anchors.Contains(pos) {
			pos++
		}
		if e.SequencePosition != pos {
			updates = append(updates, PositionUpdate{EntryID: e.ID, Position: pos})
			e.SequencePosition = pos
		}
	}
	return updates
}

// NextFreePosition returns the lowest position not used by any non-terminal
// entry, for placing a new entry without disturbing existing assignments.
func NextFreePosition(entries []ScheduleEntry) int {
	used := mapset.NewSet[int]()
	for i := range entries {
		if !entries[i].IsTerminal() {
			used.Add(entries[i].SequencePosition)
		}
	}
	pos := 1
	for used.Contains(pos) {
		pos++
	}
	return pos
}

func lessFunc(strategy Strategy) (func(a, b *ScheduleEntry) bool, error) {
	switch strategy {
	case StrategyPriority:
		return func(a, b *ScheduleEntry) bool {
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
			if !a.DueDate.Equal(b.DueDate) {
				return a.DueDate.Before(b.DueDate)
			}
			return creationOrder(a, b)
		}, nil
	case StrategyEDD:
		return func(a, b *ScheduleEntry) bool {
			if !a.DueDate.Equal(b.DueDate) {
				return a.DueDate.Before(b.DueDate)
			}
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
			return creationOrder(a, b)
		}, nil
	}
	return nil, &ValidationError{Field: "strategy", Message: "unknown sequencing strategy " + string(strategy)}
}

// creationOrder is the final tie-break for every strategy: earlier created
// entries sort first, with the id as a deterministic fallback for equal
// timestamps.
func creationOrder(a, b *ScheduleEntry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
