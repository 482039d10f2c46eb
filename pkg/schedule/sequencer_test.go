package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqEntry(id string, prio int, due time.Time, pos int, state EntryState, created time.Time) ScheduleEntry {
	return ScheduleEntry{
		ID:               id,
		ScheduleID:       "sched-1",
		OperationRef:     "OP-" + id,
		PartRef:          "PART-" + id,
		Quantity:         1,
		Priority:         prio,
		DueDate:          due,
		SequencePosition: pos,
		State:            state,
		CreatedAt:        created,
	}
}

func TestResequence_PriorityStrategy(t *testing.T) {
	d1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	d3 := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []ScheduleEntry{
		seqEntry("a", 5, d2, 0, EntryStatePlanned, t0),
		seqEntry("b", 5, d1, 0, EntryStatePlanned, t0.Add(time.Minute)),
		seqEntry("c", 1, d3, 0, EntryStatePlanned, t0.Add(2*time.Minute)),
	}

	updates, err := Resequence(entries, StrategyPriority)
	require.NoError(t, err)
	require.Len(t, updates, 3)

	// Equal priority breaks on earlier due date: b before a, c last.
	byID := positionsByID(entries)
	assert.Equal(t, 1, byID["b"])
	assert.Equal(t, 2, byID["a"])
	assert.Equal(t, 3, byID["c"])
}

func TestResequence_EDDStrategy(t *testing.T) {
	d1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []ScheduleEntry{
		seqEntry("a", 9, d2, 0, EntryStatePlanned, t0),
		seqEntry("b", 1, d1, 0, EntryStatePlanned, t0.Add(time.Minute)),
		seqEntry("c", 5, d2, 0, EntryStatePlanned, t0.Add(2*time.Minute)),
	}

	updates, err := Resequence(entries, StrategyEDD)
	require.NoError(t, err)
	require.Len(t, updates, 3)

	// Earliest due first; equal due dates break on higher priority.
	byID := positionsByID(entries)
	assert.Equal(t, 1, byID["b"])
	assert.Equal(t, 2, byID["a"])
	assert.Equal(t, 3, byID["c"])
}

func TestResequence_CreationOrderTieBreak(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []ScheduleEntry{
		seqEntry("later", 5, due, 0, EntryStatePlanned, t0.Add(time.Hour)),
		seqEntry("earlier", 5, due, 0, EntryStatePlanned, t0),
	}

	_, err := Resequence(entries, StrategyPriority)
	require.NoError(t, err)

	byID := positionsByID(entries)
	assert.Equal(t, 1, byID["earlier"])
	assert.Equal(t, 2, byID["later"])
}

func TestResequence_Idempotent(t *testing.T) {
	d1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []ScheduleEntry{
		seqEntry("a", 3, d1, 0, EntryStatePlanned, t0),
		seqEntry("b", 7, d2, 0, EntryStatePlanned, t0.Add(time.Minute)),
	}

	first, err := Resequence(entries, StrategyPriority)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	// The same strategy over the unchanged pending set writes nothing.
	second, err := Resequence(entries, StrategyPriority)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestResequence_AnchorsKeepPositions(t *testing.T) {
	d1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []ScheduleEntry{
		seqEntry("dispatched", 9, d1, 2, EntryStateDispatched, t0),
		seqEntry("low", 1, d1, 1, EntryStatePlanned, t0.Add(time.Minute)),
		seqEntry("high", 9, d1, 3, EntryStatePlanned, t0.Add(2*time.Minute)),
	}

	updates, err := Resequence(entries, StrategyPriority)
	require.NoError(t, err)

	// The dispatched entry holds position 2; pending entries flow around it.
	byID := positionsByID(entries)
	assert.Equal(t, 2, byID["dispatched"])
	assert.Equal(t, 1, byID["high"])
	assert.Equal(t, 3, byID["low"])

	for _, u := range updates {
		assert.NotEqual(t, "dispatched", u.EntryID, "anchored entries must not be reassigned")
	}
}

func TestResequence_TerminalEntriesHoldNoPosition(t *testing.T) {
	d1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []ScheduleEntry{
		seqEntry("cancelled", 9, d1, 1, EntryStateCancelled, t0),
		seqEntry("pending", 5, d1, 2, EntryStatePlanned, t0.Add(time.Minute)),
	}

	_, err := Resequence(entries, StrategyPriority)
	require.NoError(t, err)

	// A cancelled entry releases its position to the pending set.
	byID := positionsByID(entries)
	assert.Equal(t, 1, byID["pending"])
}

func TestResequence_UnknownStrategy(t *testing.T) {
	entries := []ScheduleEntry{
		seqEntry("a", 1, time.Now(), 0, EntryStatePlanned, time.Now()),
	}
	_, err := Resequence(entries, Strategy("fifo"))
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestCompactPositions_ClosesGaps(t *testing.T) {
	d1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []ScheduleEntry{
		seqEntry("a", 0, d1, 1, EntryStatePlanned, t0),
		seqEntry("b", 0, d1, 2, EntryStateCancelled, t0.Add(time.Minute)),
		seqEntry("c", 0, d1, 3, EntryStatePlanned, t0.Add(2*time.Minute)),
		seqEntry("d", 0, d1, 4, EntryStatePlanned, t0.Add(3*time.Minute)),
	}

	updates := CompactPositions(entries)
	require.Len(t, updates, 2)

	byID := positionsByID(entries)
	assert.Equal(t, 1, byID["a"])
	assert.Equal(t, 2, byID["c"])
	assert.Equal(t, 3, byID["d"])
}

func TestCompactPositions_RespectsAnchors(t *testing.T) {
	d1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []ScheduleEntry{
		seqEntry("anchor", 0, d1, 1, EntryStateDispatched, t0),
		seqEntry("b", 0, d1, 3, EntryStatePlanned, t0.Add(time.Minute)),
		seqEntry("c", 0, d1, 5, EntryStatePlanned, t0.Add(2*time.Minute)),
	}

	_ = CompactPositions(entries)

	byID := positionsByID(entries)
	assert.Equal(t, 1, byID["anchor"])
	assert.Equal(t, 2, byID["b"])
	assert.Equal(t, 3, byID["c"])
}

func TestNextFreePosition(t *testing.T) {
	d1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, NextFreePosition(nil))

	dense := []ScheduleEntry{
		seqEntry("a", 0, d1, 1, EntryStatePlanned, t0),
		seqEntry("b", 0, d1, 2, EntryStateDispatched, t0),
	}
	assert.Equal(t, 3, NextFreePosition(dense))

	gapped := []ScheduleEntry{
		seqEntry("a", 0, d1, 1, EntryStatePlanned, t0),
		seqEntry("b", 0, d1, 3, EntryStatePlanned, t0),
	}
	assert.Equal(t, 2, NextFreePosition(gapped))

	// Terminal entries do not hold their positions.
	withTerminal := []ScheduleEntry{
		seqEntry("a", 0, d1, 1, EntryStateCancelled, t0),
		seqEntry("b", 0, d1, 2, EntryStatePlanned, t0),
	}
	assert.Equal(t, 1, NextFreePosition(withTerminal))
}

func positionsByID(entries []ScheduleEntry) map[string]int {
	out := make(map[string]int, len(entries))
	for i := range entries {
		out[entries[i].ID] = entries[i].SequencePosition
	}
	return out
}
