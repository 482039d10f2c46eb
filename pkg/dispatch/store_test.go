package dispatch

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/steiner385/MachShop-sub017/pkg/schedule"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	schedules := schedule.NewScheduleStore(db)
	require.NoError(t, schedules.AutoMigrate())
	require.NoError(t, schedule.NewTransitionLog(schedules).AutoMigrate())
	require.NoError(t, NewRecordStore(db).AutoMigrate())
	return db
}

func TestGetByEntry_NilWhenNeverDispatched(t *testing.T) {
	store := NewRecordStore(setupTestDB(t))

	rec, err := store.GetByEntry(context.Background(), "never-dispatched")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCreate_FirstInsertWins(t *testing.T) {
	store := NewRecordStore(setupTestDB(t))

	first := &DispatchRecord{
		ID:          uuid.New().String(),
		EntryID:     "e1",
		ScheduleID:  "sched-1",
		WorkOrderID: "WO-001",
		ActorID:     "tester",
	}
	rec, created, err := store.Create(context.Background(), first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.ID, rec.ID)

	// A second insert for the same entry loses and surfaces the winner.
	second := &DispatchRecord{
		ID:          uuid.New().String(),
		EntryID:     "e1",
		ScheduleID:  "sched-1",
		WorkOrderID: "WO-002",
		ActorID:     "tester",
	}
	rec, created, err = store.Create(context.Background(), second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, rec.ID)
	assert.Equal(t, "WO-001", rec.WorkOrderID)

	got, err := store.GetByEntry(context.Background(), "e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "WO-001", got.WorkOrderID)
}

func TestListBySchedule(t *testing.T) {
	store := NewRecordStore(setupTestDB(t))

	for i, entry := range []string{"e1", "e2"} {
		_, created, err := store.Create(context.Background(), &DispatchRecord{
			ID:          uuid.New().String(),
			EntryID:     entry,
			ScheduleID:  "sched-1",
			WorkOrderID: []string{"WO-001", "WO-002"}[i],
			ActorID:     "tester",
		})
		require.NoError(t, err)
		require.True(t, created)
	}
	_, created, err := store.Create(context.Background(), &DispatchRecord{
		ID:          uuid.New().String(),
		EntryID:     "other",
		ScheduleID:  "sched-2",
		WorkOrderID: "WO-003",
		ActorID:     "tester",
	})
	require.NoError(t, err)
	require.True(t, created)

	records, err := store.ListBySchedule(context.Background(), "sched-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "WO-001", records[0].WorkOrderID)
	assert.Equal(t, "WO-002", records[1].WorkOrderID)
}
