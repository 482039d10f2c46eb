package feasibility

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/steiner385/MachShop-sub017/pkg/schedule"
)

// Violation is one constraint violation found while evaluating an entry.
type Violation struct {
	Type        schedule.ConstraintType `json:"type"`
	Severity    schedule.Severity       `json:"severity"`
	TargetID    string                  `json:"targetId"`
	Message     string                  `json:"message"`
	Required    float64                 `json:"required"`
	Available   float64                 `json:"available"`
	WindowStart time.Time               `json:"windowStart"`
	WindowEnd   time.Time               `json:"windowEnd"`
}

// Report is the outcome of evaluating a whole schedule. It is a pure
// projection: building one never mutates schedule or constraint state.
type Report struct {
	ScheduleID        string                 `json:"scheduleId"`
	Feasible          bool                   `json:"feasible"`
	ViolationsByEntry map[string][]Violation `json:"violationsByEntry"`
}

// Evaluator computes capacity and material feasibility for schedule entries
// against an AvailabilitySource.
type Evaluator struct {
	source AvailabilitySource
	cfg    *Config
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator. A nil cfg uses defaults; a nil logger
// uses slog.Default().
func NewEvaluator(source AvailabilitySource, cfg *Config, logger *slog.Logger) *Evaluator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{source: source, cfg: cfg, logger: logger}
}

// CheckEntry evaluates one entry against the schedule window. siblings is the
// full entry set of the schedule and feeds the material demand aggregation;
// the entry itself is skipped when it appears there.
//
// Capacity: the entry's required hours against the resource's capacity in the
// window. Over capacity is CRITICAL; fitting but above the soft utilization
// threshold is WARNING.
//
// Material: the entry's own demand plus every other non-terminal entry's
// demand for the same material due on or before this entry's due date,
// against the available lot quantity. Shortfall is CRITICAL; fitting inside
// the safety margin of the lot is WARNING.
func (e *Evaluator) CheckEntry(ctx context.Context, sched *schedule.ProductionSchedule, entry *schedule.ScheduleEntry, siblings []schedule.ScheduleEntry) ([]Violation, error) {
	var violations []Violation
	window := Window{Start: sched.HorizonStart, End: sched.HorizonEnd}

	if entry.ResourceID != "" && entry.RequiredHours > 0 {
		avail, err := e.source.Available(ctx, entry.ResourceID, window)
		if err != nil {
			return nil, schedule.WrapTimeout(schedule.TimeoutCollaborator, "resource availability", err)
		}
		switch {
		case entry.RequiredHours > avail.CapacityHours:
			violations = append(violations, Violation{
				Type:        schedule.ConstraintCapacity,
				Severity:    schedule.SeverityCritical,
				TargetID:    entry.ResourceID,
				Message:     fmt.Sprintf("resource %s over capacity: %.1fh required, %.1fh available in window", entry.ResourceID, entry.RequiredHours, avail.CapacityHours),
				Required:    entry.RequiredHours,
				Available:   avail.CapacityHours,
				WindowStart: window.Start,
				WindowEnd:   window.End,
			})
		case avail.CapacityHours > 0 && entry.RequiredHours/avail.CapacityHours > e.cfg.SoftUtilizationThreshold:
			violations = append(violations, Violation{
				Type:        schedule.ConstraintCapacity,
				Severity:    schedule.SeverityWarning,
				TargetID:    entry.ResourceID,
				Message:     fmt.Sprintf("resource %s utilization %.0f%% exceeds soft threshold %.0f%%", entry.ResourceID, 100*entry.RequiredHours/avail.CapacityHours, 100*e.cfg.SoftUtilizationThreshold),
				Required:    entry.RequiredHours,
				Available:   avail.CapacityHours,
				WindowStart: window.Start,
				WindowEnd:   window.End,
			})
		}
	}

	if entry.MaterialID != "" && entry.MaterialQuantity > 0 {
		avail, err := e.source.Available(ctx, entry.MaterialID, window)
		if err != nil {
			return nil, schedule.WrapTimeout(schedule.TimeoutCollaborator, "material availability", err)
		}
		committed := entry.MaterialQuantity
		for i := range siblings {
			sib := &siblings[i]
			if sib.ID == entry.ID || sib.MaterialID != entry.MaterialID || sib.IsTerminal() {
				continue
			}
			if sib.DueDate.After(entry.DueDate) {
				continue
			}
			committed += sib.MaterialQuantity
		}
		switch {
		case committed > avail.LotQuantity:
			violations = append(violations, Violation{
				Type:        schedule.ConstraintMaterial,
				Severity:    schedule.SeverityCritical,
				TargetID:    entry.MaterialID,
				Message:     fmt.Sprintf("material %s short: %.1f committed against %.1f available through %s", entry.MaterialID, committed, avail.LotQuantity, entry.DueDate.Format(time.RFC3339)),
				Required:    committed,
				Available:   avail.LotQuantity,
				WindowStart: window.Start,
				WindowEnd:   entry.DueDate,
			})
		case committed > avail.LotQuantity*(1-e.cfg.MaterialSafetyMargin):
			violations = append(violations, Violation{
				Type:        schedule.ConstraintMaterial,
				Severity:    schedule.SeverityWarning,
				TargetID:    entry.MaterialID,
				Message:     fmt.Sprintf("material %s inside safety margin: %.1f committed against %.1f available", entry.MaterialID, committed, avail.LotQuantity),
				Required:    committed,
				Available:   avail.LotQuantity,
				WindowStart: window.Start,
				WindowEnd:   entry.DueDate,
			})
		}
	}

	return violations, nil
}

// CheckSchedule evaluates every non-terminal entry of the schedule and
// reports the combined outcome. Entries are evaluated concurrently up to
// the configured limit. Feasible means no CRITICAL violation anywhere.
func (e *Evaluator) CheckSchedule(ctx context.Context, sched *schedule.ProductionSchedule) (*Report, error) {
	active := make([]*schedule.ScheduleEntry, 0, len(sched.Entries))
	for i := range sched.Entries {
		if !sched.Entries[i].IsTerminal() {
			active = append(active, &sched.Entries[i])
		}
	}

	results := make([][]Violation, len(active))
	errs := make([]error, len(active))
	sem := make(chan struct{}, e.cfg.EvalConcurrency)
	var wg sync.WaitGroup
	for i := range active {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = e.CheckEntry(ctx, sched, active[i], sched.Entries)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	report := &Report{
		ScheduleID:        sched.ID,
		Feasible:          true,
		ViolationsByEntry: make(map[string][]Violation),
	}
	total := 0
	for i, violations := range results {
		if len(violations) == 0 {
			continue
		}
		report.ViolationsByEntry[active[i].ID] = violations
		total += len(violations)
		for _, v := range violations {
			if v.Severity == schedule.SeverityCritical {
				report.Feasible = false
			}
		}
	}

	e.logger.Debug("feasibility evaluated",
		"schedule_id", sched.ID,
		"entries", len(active),
		"violations", total,
		"feasible", report.Feasible)
	return report, nil
}

// BuildConstraintRecords converts a report into constraint record rows keyed
// by (entry, type, target), in deterministic order. Fresh ids are assigned;
// the store's upsert keeps existing ids for keys already on file.
func BuildConstraintRecords(report *Report) []schedule.ConstraintRecord {
	entryIDs := maps.Keys(report.ViolationsByEntry)
	slices.Sort(entryIDs)

	var records []schedule.ConstraintRecord
	for _, entryID := range entryIDs {
		for _, v := range report.ViolationsByEntry[entryID] {
			records = append(records, schedule.ConstraintRecord{
				ID:                uuid.New().String(),
				ScheduleID:        report.ScheduleID,
				EntryID:           entryID,
				Type:              v.Type,
				TargetID:          v.TargetID,
				RequiredQuantity:  v.Required,
				AvailableQuantity: v.Available,
				WindowStart:       v.WindowStart,
				WindowEnd:         v.WindowEnd,
				Severity:          v.Severity,
				Message:           v.Message,
			})
		}
	}
	return records
}
