package feasibility

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steiner385/MachShop-sub017/pkg/schedule"
)

// failingSource returns the same error for every availability lookup.
type failingSource struct {
	err error
}

func (f failingSource) Available(context.Context, string, Window) (AvailabilityResult, error) {
	return AvailabilityResult{}, f.err
}

func testSchedule(entries ...schedule.ScheduleEntry) *schedule.ProductionSchedule {
	return &schedule.ProductionSchedule{
		ID:           "sched-1",
		SiteID:       "SITE-A",
		HorizonStart: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		HorizonEnd:   time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
		State:        schedule.ScheduleStateReleased,
		Version:      1,
		Entries:      entries,
	}
}

func capacityEntry(id, resource string, hours float64) schedule.ScheduleEntry {
	return schedule.ScheduleEntry{
		ID:            id,
		ScheduleID:    "sched-1",
		OperationRef:  "OP-" + id,
		PartRef:       "PART-" + id,
		Quantity:      1,
		DueDate:       time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
		State:         schedule.EntryStatePlanned,
		ResourceID:    resource,
		RequiredHours: hours,
	}
}

func materialEntry(id, material string, qty float64, due time.Time) schedule.ScheduleEntry {
	return schedule.ScheduleEntry{
		ID:               id,
		ScheduleID:       "sched-1",
		OperationRef:     "OP-" + id,
		PartRef:          "PART-" + id,
		Quantity:         1,
		DueDate:          due,
		State:            schedule.EntryStatePlanned,
		MaterialID:       material,
		MaterialQuantity: qty,
	}
}

func TestCheckEntry_NoViolations(t *testing.T) {
	source := NewStaticSource()
	source.Set(AvailabilityResult{TargetID: "MILL-1", CapacityHours: 100})
	eval := NewEvaluator(source, nil, nil)

	entry := capacityEntry("e1", "MILL-1", 40)
	violations, err := eval.CheckEntry(context.Background(), testSchedule(entry), &entry, nil)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCheckEntry_CapacityCritical(t *testing.T) {
	source := NewStaticSource()
	source.Set(AvailabilityResult{TargetID: "MILL-1", CapacityHours: 80})
	eval := NewEvaluator(source, nil, nil)

	entry := capacityEntry("e1", "MILL-1", 120)
	violations, err := eval.CheckEntry(context.Background(), testSchedule(entry), &entry, nil)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	v := violations[0]
	assert.Equal(t, schedule.ConstraintCapacity, v.Type)
	assert.Equal(t, schedule.SeverityCritical, v.Severity)
	assert.Equal(t, "MILL-1", v.TargetID)
	assert.Equal(t, float64(120), v.Required)
	assert.Equal(t, float64(80), v.Available)
	assert.Contains(t, v.Message, "over capacity")
}

func TestCheckEntry_CapacityWarningAboveSoftThreshold(t *testing.T) {
	source := NewStaticSource()
	source.Set(AvailabilityResult{TargetID: "MILL-1", CapacityHours: 100})
	eval := NewEvaluator(source, nil, nil)

	// 90% utilization fits but crosses the default 85% soft threshold.
	entry := capacityEntry("e1", "MILL-1", 90)
	violations, err := eval.CheckEntry(context.Background(), testSchedule(entry), &entry, nil)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, schedule.SeverityWarning, violations[0].Severity)

	// 80% stays clean.
	entry = capacityEntry("e2", "MILL-1", 80)
	violations, err = eval.CheckEntry(context.Background(), testSchedule(entry), &entry, nil)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCheckEntry_UnknownTargetHasZeroAvailability(t *testing.T) {
	eval := NewEvaluator(NewStaticSource(), nil, nil)

	entry := capacityEntry("e1", "UNKNOWN-RIG", 1)
	violations, err := eval.CheckEntry(context.Background(), testSchedule(entry), &entry, nil)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, schedule.SeverityCritical, violations[0].Severity)
	assert.Equal(t, float64(0), violations[0].Available)
}

func TestCheckEntry_MaterialDemandAggregation(t *testing.T) {
	due := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	source := NewStaticSource()
	source.Set(AvailabilityResult{TargetID: "AL-6061", LotQuantity: 60})
	eval := NewEvaluator(source, nil, nil)

	entry := materialEntry("e1", "AL-6061", 40, due)
	siblings := []schedule.ScheduleEntry{
		entry,
		materialEntry("earlier", "AL-6061", 35, due.AddDate(0, 0, -5)),
		// Due after e1: not committed against e1's window.
		materialEntry("later", "AL-6061", 50, due.AddDate(0, 0, 10)),
		// Different material: never counted.
		materialEntry("other", "TI-6AL4V", 500, due),
	}

	violations, err := eval.CheckEntry(context.Background(), testSchedule(siblings...), &entry, siblings)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	v := violations[0]
	assert.Equal(t, schedule.ConstraintMaterial, v.Type)
	assert.Equal(t, schedule.SeverityCritical, v.Severity)
	assert.Equal(t, float64(75), v.Required, "demand is the entry plus earlier-due siblings only")
	assert.Equal(t, float64(60), v.Available)
}

func TestCheckEntry_MaterialIgnoresTerminalSiblings(t *testing.T) {
	due := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	source := NewStaticSource()
	source.Set(AvailabilityResult{TargetID: "AL-6061", LotQuantity: 100})
	eval := NewEvaluator(source, nil, nil)

	entry := materialEntry("e1", "AL-6061", 50, due)
	done := materialEntry("done", "AL-6061", 1000, due.AddDate(0, 0, -1))
	done.State = schedule.EntryStateCompleted

	violations, err := eval.CheckEntry(context.Background(), testSchedule(entry, done), &entry,
		[]schedule.ScheduleEntry{entry, done})
	require.NoError(t, err)
	assert.Empty(t, violations, "completed siblings no longer consume material")
}

func TestCheckEntry_MaterialSafetyMarginWarning(t *testing.T) {
	due := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	source := NewStaticSource()
	source.Set(AvailabilityResult{TargetID: "AL-6061", LotQuantity: 100})
	eval := NewEvaluator(source, nil, nil)

	// 95 of 100 fits, but eats into the 10% safety margin.
	entry := materialEntry("e1", "AL-6061", 95, due)
	violations, err := eval.CheckEntry(context.Background(), testSchedule(entry), &entry, nil)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, schedule.SeverityWarning, violations[0].Severity)

	entry = materialEntry("e2", "AL-6061", 85, due)
	violations, err = eval.CheckEntry(context.Background(), testSchedule(entry), &entry, nil)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCheckEntry_SourceErrorIsCollaboratorTimeout(t *testing.T) {
	eval := NewEvaluator(failingSource{err: context.DeadlineExceeded}, nil, nil)

	entry := capacityEntry("e1", "MILL-1", 10)
	_, err := eval.CheckEntry(context.Background(), testSchedule(entry), &entry, nil)
	require.Error(t, err)
	assert.True(t, schedule.IsTimeout(err))
}

func TestCheckSchedule(t *testing.T) {
	source := NewStaticSource()
	source.Set(AvailabilityResult{TargetID: "MILL-1", CapacityHours: 80})
	source.Set(AvailabilityResult{TargetID: "MILL-2", CapacityHours: 200})
	eval := NewEvaluator(source, nil, nil)

	over := capacityEntry("over", "MILL-1", 120)
	clean := capacityEntry("clean", "MILL-2", 50)
	cancelled := capacityEntry("cancelled", "MILL-1", 500)
	cancelled.State = schedule.EntryStateCancelled

	report, err := eval.CheckSchedule(context.Background(), testSchedule(over, clean, cancelled))
	require.NoError(t, err)
	assert.False(t, report.Feasible)
	assert.Equal(t, "sched-1", report.ScheduleID)
	require.Contains(t, report.ViolationsByEntry, "over")
	assert.NotContains(t, report.ViolationsByEntry, "clean")
	assert.NotContains(t, report.ViolationsByEntry, "cancelled", "terminal entries are not evaluated")
}

func TestCheckSchedule_WarningsStayFeasible(t *testing.T) {
	source := NewStaticSource()
	source.Set(AvailabilityResult{TargetID: "MILL-1", CapacityHours: 100})
	eval := NewEvaluator(source, nil, nil)

	warn := capacityEntry("warn", "MILL-1", 90)
	report, err := eval.CheckSchedule(context.Background(), testSchedule(warn))
	require.NoError(t, err)
	assert.True(t, report.Feasible)
	require.Len(t, report.ViolationsByEntry["warn"], 1)
	assert.Equal(t, schedule.SeverityWarning, report.ViolationsByEntry["warn"][0].Severity)
}

func TestCheckSchedule_EmptyScheduleIsFeasible(t *testing.T) {
	eval := NewEvaluator(NewStaticSource(), nil, nil)

	report, err := eval.CheckSchedule(context.Background(), testSchedule())
	require.NoError(t, err)
	assert.True(t, report.Feasible)
	assert.Empty(t, report.ViolationsByEntry)
}

func TestBuildConstraintRecords(t *testing.T) {
	window := Window{
		Start: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
	}
	report := &Report{
		ScheduleID: "sched-1",
		ViolationsByEntry: map[string][]Violation{
			"b-entry": {{
				Type: schedule.ConstraintCapacity, Severity: schedule.SeverityCritical,
				TargetID: "MILL-1", Message: "over capacity",
				Required: 120, Available: 80,
				WindowStart: window.Start, WindowEnd: window.End,
			}},
			"a-entry": {{
				Type: schedule.ConstraintMaterial, Severity: schedule.SeverityWarning,
				TargetID: "AL-6061", Message: "inside safety margin",
				Required: 95, Available: 100,
				WindowStart: window.Start, WindowEnd: window.End,
			}},
		},
	}

	records := BuildConstraintRecords(report)
	require.Len(t, records, 2)

	// Deterministic entry order regardless of map iteration.
	assert.Equal(t, "a-entry", records[0].EntryID)
	assert.Equal(t, "b-entry", records[1].EntryID)

	assert.NotEmpty(t, records[0].ID)
	assert.NotEmpty(t, records[1].ID)
	assert.NotEqual(t, records[0].ID, records[1].ID)

	assert.Equal(t, "sched-1", records[0].ScheduleID)
	assert.Equal(t, schedule.ConstraintMaterial, records[0].Type)
	assert.Equal(t, "AL-6061", records[0].TargetID)
	assert.Equal(t, float64(95), records[0].RequiredQuantity)
	assert.Equal(t, float64(100), records[0].AvailableQuantity)
	assert.False(t, records[0].Resolved)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SCHED_CAPACITY_SOFT_THRESHOLD", "0.75")
	t.Setenv("SCHED_MATERIAL_SAFETY_MARGIN", "0.2")
	t.Setenv("SCHED_EVAL_CONCURRENCY", "8")

	cfg := ConfigFromEnv()
	assert.Equal(t, 0.75, cfg.SoftUtilizationThreshold)
	assert.Equal(t, 0.2, cfg.MaterialSafetyMargin)
	assert.Equal(t, 8, cfg.EvalConcurrency)
}

func TestConfigFromEnv_InvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("SCHED_CAPACITY_SOFT_THRESHOLD", "1.5")
	t.Setenv("SCHED_MATERIAL_SAFETY_MARGIN", "nope")
	t.Setenv("SCHED_EVAL_CONCURRENCY", "-2")

	cfg := ConfigFromEnv()
	def := DefaultConfig()
	assert.Equal(t, def.SoftUtilizationThreshold, cfg.SoftUtilizationThreshold)
	assert.Equal(t, def.MaterialSafetyMargin, cfg.MaterialSafetyMargin)
	assert.Equal(t, def.EvalConcurrency, cfg.EvalConcurrency)
}
