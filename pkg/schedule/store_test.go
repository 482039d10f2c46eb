package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewScheduleStore(db)
	require.NoError(t, store.AutoMigrate())
	require.NoError(t, NewTransitionLog(store).AutoMigrate())
	return db
}

func newTestSchedule(t *testing.T, store *ScheduleStore) *ProductionSchedule {
	t.Helper()
	sched := &ProductionSchedule{
		ID:           uuid.New().String(),
		SiteID:       "SITE-A",
		HorizonStart: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		HorizonEnd:   time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
		State:        ScheduleStateForecast,
		Version:      1,
	}
	rec := &StateTransitionRecord{
		EntityType: EntityTypeSchedule,
		EntityID:   sched.ID,
		NewState:   string(ScheduleStateForecast),
		ActorID:    "tester",
		Reason:     "schedule created",
	}
	require.NoError(t, store.Create(context.Background(), sched, rec))
	return sched
}

func newTestEntry(schedID, id string, pos int) ScheduleEntry {
	return ScheduleEntry{
		ID:               id,
		ScheduleID:       schedID,
		OperationRef:     "OP-" + id,
		PartRef:          "PART-" + id,
		Quantity:         10,
		Priority:         1,
		DueDate:          time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
		SequencePosition: pos,
		State:            EntryStatePlanned,
	}
}

func addTestEntry(t *testing.T, store *ScheduleStore, sched *ProductionSchedule, id string, pos int) {
	t.Helper()
	entry := newTestEntry(sched.ID, id, pos)
	mut := &Mutation{EntryUpserts: []ScheduleEntry{entry}}
	require.NoError(t, store.Save(context.Background(), sched, mut))
}

func TestCreateAndLoad(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)

	sched := newTestSchedule(t, store)

	loaded, err := store.Load(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.Equal(t, sched.ID, loaded.ID)
	assert.Equal(t, "SITE-A", loaded.SiteID)
	assert.Equal(t, ScheduleStateForecast, loaded.State)
	assert.Equal(t, int64(1), loaded.Version)
	assert.Empty(t, loaded.Entries)

	// The creation record commits with the schedule.
	var count int64
	db.Model(&StateTransitionRecord{}).
		Where("entity_type = ? AND entity_id = ?", EntityTypeSchedule, sched.ID).
		Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestLoad_NotFound(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)

	_, err := store.Load(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestLoad_EntriesInSequenceOrder(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	sched := newTestSchedule(t, store)

	addTestEntry(t, store, sched, "e3", 3)
	addTestEntry(t, store, sched, "e1", 1)
	addTestEntry(t, store, sched, "e2", 2)

	loaded, err := store.Load(context.Background(), sched.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 3)
	assert.Equal(t, "e1", loaded.Entries[0].ID)
	assert.Equal(t, "e2", loaded.Entries[1].ID)
	assert.Equal(t, "e3", loaded.Entries[2].ID)
}

func TestSave_BumpsVersion(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	sched := newTestSchedule(t, store)

	sched.HorizonEnd = sched.HorizonEnd.AddDate(0, 1, 0)
	require.NoError(t, store.Save(context.Background(), sched, nil))
	assert.Equal(t, int64(2), sched.Version)

	loaded, err := store.Load(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version)
}

func TestSave_StaleVersionConflicts(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	sched := newTestSchedule(t, store)

	stale, err := store.Load(context.Background(), sched.ID)
	require.NoError(t, err)

	// First writer wins and bumps the version.
	require.NoError(t, store.Save(context.Background(), sched, nil))

	// The stale copy must be rejected, with nothing written.
	stale.SiteID = "SITE-B"
	err = store.Save(context.Background(), stale, &Mutation{
		EntryUpserts: []ScheduleEntry{newTestEntry(sched.ID, "orphan", 1)},
	})
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	loaded, err := store.Load(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "SITE-A", loaded.SiteID)
	assert.Empty(t, loaded.Entries)
}

func TestSave_MutationCommitsAtomically(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	sched := newTestSchedule(t, store)

	entry := newTestEntry(sched.ID, "e1", 1)
	mut := &Mutation{
		EntryUpserts: []ScheduleEntry{entry},
		Transitions: []StateTransitionRecord{{
			EntityType: EntityTypeEntry,
			EntityID:   entry.ID,
			NewState:   string(EntryStatePlanned),
			ActorID:    "tester",
			Reason:     "entry added",
		}},
	}
	require.NoError(t, store.Save(context.Background(), sched, mut))

	loaded, err := store.Load(context.Background(), sched.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 1)

	var count int64
	db.Model(&StateTransitionRecord{}).
		Where("entity_type = ? AND entity_id = ?", EntityTypeEntry, entry.ID).
		Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSave_EntryStateSetGuardRollsBack(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	sched := newTestSchedule(t, store)
	addTestEntry(t, store, sched, "e1", 1)

	versionBefore := sched.Version

	// The guard expects READY but the entry is PLANNED; the whole save,
	// including the version bump, must roll back.
	err := store.Save(context.Background(), sched, &Mutation{
		EntryStateSets: []EntryStateSet{{
			EntryID: "e1",
			From:    EntryStateReady,
			To:      EntryStateDispatched,
		}},
	})
	require.Error(t, err)
	require.NotNil(t, AsTransition(err))

	loaded, err := store.Load(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.Equal(t, versionBefore, loaded.Version)
	assert.Equal(t, EntryStatePlanned, loaded.Entries[0].State)
}

func TestTransitionScheduleCAS(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	sched := newTestSchedule(t, store)

	rec := &StateTransitionRecord{
		EntityType: EntityTypeSchedule,
		EntityID:   sched.ID,
		OldState:   string(ScheduleStateForecast),
		NewState:   string(ScheduleStateReleased),
		ActorID:    "tester",
	}
	won, err := store.TransitionScheduleCAS(context.Background(), sched.ID,
		ScheduleStateForecast, ScheduleStateReleased, rec)
	require.NoError(t, err)
	assert.True(t, won)

	// A second attempt from the old state loses quietly and writes nothing.
	won, err = store.TransitionScheduleCAS(context.Background(), sched.ID,
		ScheduleStateForecast, ScheduleStateReleased, rec)
	require.NoError(t, err)
	assert.False(t, won)

	loaded, err := store.Load(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.Equal(t, ScheduleStateReleased, loaded.State)
	assert.Equal(t, int64(2), loaded.Version)

	var count int64
	db.Model(&StateTransitionRecord{}).
		Where("entity_id = ? AND new_state = ?", sched.ID, string(ScheduleStateReleased)).
		Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestUpdateEntryStateCAS(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	sched := newTestSchedule(t, store)
	addTestEntry(t, store, sched, "e1", 1)

	rec := &StateTransitionRecord{
		EntityType: EntityTypeEntry,
		EntityID:   "e1",
		OldState:   string(EntryStatePlanned),
		NewState:   string(EntryStateReady),
		ActorID:    "tester",
	}
	require.NoError(t, store.UpdateEntryStateCAS(context.Background(), "e1",
		EntryStatePlanned, EntryStateReady, rec))

	entry, err := store.GetEntry(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, EntryStateReady, entry.State)
}

func TestUpdateEntryStateCAS_IdempotentWhenAlreadyThere(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	sched := newTestSchedule(t, store)
	addTestEntry(t, store, sched, "e1", 1)

	require.NoError(t, store.UpdateEntryStateCAS(context.Background(), "e1",
		EntryStatePlanned, EntryStateReady, nil))

	// The entry is already READY: a repeat is a no-op, not an error, and no
	// duplicate record is written.
	err := store.UpdateEntryStateCAS(context.Background(), "e1",
		EntryStatePlanned, EntryStateReady, &StateTransitionRecord{
			EntityType: EntityTypeEntry,
			EntityID:   "e1",
			NewState:   string(EntryStateReady),
			ActorID:    "tester",
		})
	require.NoError(t, err)

	var count int64
	db.Model(&StateTransitionRecord{}).Where("entity_id = ?", "e1").Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestUpdateEntryStateCAS_WrongState(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	sched := newTestSchedule(t, store)
	addTestEntry(t, store, sched, "e1", 1)

	err := store.UpdateEntryStateCAS(context.Background(), "e1",
		EntryStateReady, EntryStateDispatched, nil)
	require.Error(t, err)
	te := AsTransition(err)
	require.NotNil(t, te)
	assert.Equal(t, CodeTransitionInvalid, te.Code)
}

func TestUpdateEntryStateCAS_NotFound(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)

	err := store.UpdateEntryStateCAS(context.Background(), "missing",
		EntryStatePlanned, EntryStateReady, nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func newTestConstraint(schedID, entryID, targetID string, severity Severity) ConstraintRecord {
	return ConstraintRecord{
		ID:                uuid.New().String(),
		ScheduleID:        schedID,
		EntryID:           entryID,
		Type:              ConstraintCapacity,
		TargetID:          targetID,
		RequiredQuantity:  100,
		AvailableQuantity: 40,
		Severity:          severity,
		Message:           "over capacity",
	}
}

func TestApplyConstraintChanges_CreateKeepsIDOnRefresh(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	sched := newTestSchedule(t, store)
	addTestEntry(t, store, sched, "e1", 1)

	first := newTestConstraint(sched.ID, "e1", "MILL-1", SeverityCritical)
	require.NoError(t, store.ApplyConstraintChanges(context.Background(),
		[]ConstraintRecord{first}, nil, nil))

	// A concurrent refresh proposing the same key with a fresh id must land
	// on the existing row, updating the evaluation fields.
	second := newTestConstraint(sched.ID, "e1", "MILL-1", SeverityWarning)
	second.AvailableQuantity = 90
	require.NoError(t, store.ApplyConstraintChanges(context.Background(),
		[]ConstraintRecord{second}, nil, nil))

	records, err := store.ListConstraints(context.Background(), sched.ID, false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, SeverityWarning, records[0].Severity)
	assert.Equal(t, float64(90), records[0].AvailableQuantity)
}

func TestApplyConstraintChanges_UpdatesResolutionFields(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	sched := newTestSchedule(t, store)
	addTestEntry(t, store, sched, "e1", 1)

	rec := newTestConstraint(sched.ID, "e1", "MILL-1", SeverityCritical)
	require.NoError(t, store.ApplyConstraintChanges(context.Background(),
		[]ConstraintRecord{rec}, nil, nil))

	rec.Resolved = true
	rec.ResolvedBy = "tester"
	rec.ResolutionReason = "cleared by re-evaluation"
	audit := StateTransitionRecord{
		EntityType: EntityTypeConstraint,
		EntityID:   rec.ID,
		OldState:   ConstraintStateOpen,
		NewState:   ConstraintStateResolved,
		ActorID:    "tester",
	}
	require.NoError(t, store.ApplyConstraintChanges(context.Background(),
		nil, []ConstraintRecord{rec}, []StateTransitionRecord{audit}))

	got, err := store.GetConstraint(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	assert.False(t, got.Overridden)
	assert.Equal(t, "tester", got.ResolvedBy)
	assert.Equal(t, "cleared by re-evaluation", got.ResolutionReason)

	var count int64
	db.Model(&StateTransitionRecord{}).
		Where("entity_type = ?", EntityTypeConstraint).
		Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestApplyConstraintChanges_EmptyIsNoop(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	require.NoError(t, store.ApplyConstraintChanges(context.Background(), nil, nil, nil))
}

func TestResolveConstraint(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	sched := newTestSchedule(t, store)
	addTestEntry(t, store, sched, "e1", 1)

	rec := newTestConstraint(sched.ID, "e1", "MILL-1", SeverityCritical)
	require.NoError(t, store.ApplyConstraintChanges(context.Background(),
		[]ConstraintRecord{rec}, nil, nil))

	resolved, err := store.ResolveConstraint(context.Background(), rec.ID, true,
		"supervisor", "expediting", &StateTransitionRecord{
			EntityType: EntityTypeConstraint,
			EntityID:   rec.ID,
			OldState:   ConstraintStateOpen,
			NewState:   ConstraintStateOverridden,
			ActorID:    "supervisor",
		})
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.True(t, resolved.Overridden)
	assert.Equal(t, "supervisor", resolved.ResolvedBy)
	assert.Equal(t, "expediting", resolved.ResolutionReason)

	// Resolving twice is rejected.
	_, err = store.ResolveConstraint(context.Background(), rec.ID, false, "tester", "again", nil)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestResolveConstraint_NotFound(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)

	_, err := store.ResolveConstraint(context.Background(), "missing", false, "tester", "", nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestListSchedules_FiltersAndPages(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, site := range []string{"SITE-A", "SITE-A", "SITE-B"} {
		sched := &ProductionSchedule{
			ID:           uuid.New().String(),
			SiteID:       site,
			HorizonStart: base,
			HorizonEnd:   base.AddDate(0, 1, 0),
			State:        ScheduleStateForecast,
			Version:      1,
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, store.Create(context.Background(), sched, nil))
	}

	// Newest first, page size 2, then the remainder.
	page1, token, total, err := store.ListSchedules(context.Background(), "", "", 2, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page1, 2)
	assert.NotEmpty(t, token)
	assert.True(t, page1[0].CreatedAt.After(page1[1].CreatedAt))

	page2, token2, _, err := store.ListSchedules(context.Background(), "", "", 2, token)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Empty(t, token2)

	// Site filter.
	bySite, _, totalA, err := store.ListSchedules(context.Background(), "SITE-A", "", 10, "")
	require.NoError(t, err)
	assert.Equal(t, 2, totalA)
	assert.Len(t, bySite, 2)

	// State filter.
	byState, _, _, err := store.ListSchedules(context.Background(), "", ScheduleStateReleased, 10, "")
	require.NoError(t, err)
	assert.Empty(t, byState)
}

func TestListSchedules_BadPageToken(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)

	_, _, _, err := store.ListSchedules(context.Background(), "", "", 10, "not-a-timestamp")
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestQueryEntries(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	sched := newTestSchedule(t, store)
	addTestEntry(t, store, sched, "e1", 1)
	addTestEntry(t, store, sched, "e2", 2)

	require.NoError(t, store.UpdateEntryStateCAS(context.Background(), "e2",
		EntryStatePlanned, EntryStateReady, nil))

	all, err := store.QueryEntries(context.Background(), sched.ID, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filter, err := ParseFilter(`state = "READY"`)
	require.NoError(t, err)
	ready, err := store.QueryEntries(context.Background(), sched.ID, filter)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "e2", ready[0].ID)
}

func TestQueryEntries_UnknownSchedule(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)

	// An unknown schedule is an error, not an empty list.
	_, err := store.QueryEntries(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestListConstraints_UnresolvedOnly(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	sched := newTestSchedule(t, store)
	addTestEntry(t, store, sched, "e1", 1)

	open := newTestConstraint(sched.ID, "e1", "MILL-1", SeverityCritical)
	closed := newTestConstraint(sched.ID, "e1", "MILL-2", SeverityWarning)
	require.NoError(t, store.ApplyConstraintChanges(context.Background(),
		[]ConstraintRecord{open, closed}, nil, nil))
	_, err := store.ResolveConstraint(context.Background(), closed.ID, false, "tester", "cleared", nil)
	require.NoError(t, err)

	all, err := store.ListConstraints(context.Background(), sched.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	unresolved, err := store.ListConstraints(context.Background(), sched.ID, true)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, open.ID, unresolved[0].ID)

	byEntry, err := store.ListEntryConstraints(context.Background(), "e1", true)
	require.NoError(t, err)
	assert.Len(t, byEntry, 1)
}

func TestCountUnresolvedCritical(t *testing.T) {
	db := setupTestDB(t)
	store := NewScheduleStore(db)
	sched := newTestSchedule(t, store)
	addTestEntry(t, store, sched, "e1", 1)

	critical := newTestConstraint(sched.ID, "e1", "MILL-1", SeverityCritical)
	warning := newTestConstraint(sched.ID, "e1", "AL-6061", SeverityWarning)
	require.NoError(t, store.ApplyConstraintChanges(context.Background(),
		[]ConstraintRecord{critical, warning}, nil, nil))

	count, err := store.CountUnresolvedCritical(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Overriding the critical clears the gate.
	_, err = store.ResolveConstraint(context.Background(), critical.ID, true, "supervisor", "expediting", nil)
	require.NoError(t, err)

	count, err = store.CountUnresolvedCritical(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
