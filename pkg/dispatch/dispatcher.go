package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/steiner385/MachShop-sub017/pkg/feasibility"
	"github.com/steiner385/MachShop-sub017/pkg/schedule"
)

// Dispatcher converts pending entries into work orders through the external
// creator, enforcing idempotency through the dispatch record store. Per-entry
// commits are serialized by the entry-id uniqueness constraint, not by a
// lock, so batches may run entries concurrently.
type Dispatcher struct {
	schedules *schedule.ScheduleStore
	records   *RecordStore
	evaluator *feasibility.Evaluator
	creator   WorkOrderCreator
	cfg       *Config
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. A nil cfg uses defaults; a nil logger
// uses slog.Default().
func NewDispatcher(schedules *schedule.ScheduleStore, records *RecordStore, evaluator *feasibility.Evaluator, creator WorkOrderCreator, cfg *Config, logger *slog.Logger) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		schedules: schedules,
		records:   records,
		evaluator: evaluator,
		creator:   creator,
		cfg:       cfg,
		logger:    logger,
	}
}

// Dispatch converts one entry into a work order. Calling it again for an
// already dispatched entry returns the existing record without a second
// creator call. On success the entry is DISPATCHED, and a schedule still in
// RELEASED advances to DISPATCHED.
//
// Failure taxonomy: a creator error leaves the entry READY and returns a
// retryable work-order failure; an unresolved CRITICAL violation found at
// the final re-check leaves the entry untouched and surfaces the violations.
func (d *Dispatcher) Dispatch(ctx context.Context, entryID, actorID string) (*DispatchRecord, error) {
	if existing, err := d.records.GetByEntry(ctx, entryID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	entry, err := d.schedules.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	sched, err := d.schedules.Load(ctx, entry.ScheduleID)
	if err != nil {
		return nil, err
	}

	if !entry.IsPending() {
		return nil, &schedule.TransitionError{
			Code:       schedule.CodeTransitionInvalid,
			EntityType: schedule.EntityTypeEntry,
			From:       string(entry.State),
			To:         string(schedule.EntryStateDispatched),
			Message:    fmt.Sprintf("entry %s is %s, only PLANNED or READY entries can dispatch", entryID, entry.State),
		}
	}
	if !sched.AcceptsDispatch() {
		return nil, &schedule.TransitionError{
			Code:       schedule.CodeTransitionBlocked,
			EntityType: schedule.EntityTypeSchedule,
			From:       string(sched.State),
			To:         string(sched.State),
			Message:    fmt.Sprintf("schedule %s is %s; entries can only dispatch while RELEASED, DISPATCHED, or RUNNING", sched.ID, sched.State),
		}
	}

	if err := d.checkConstraints(ctx, sched, entry); err != nil {
		return nil, err
	}

	if entry.State == schedule.EntryStatePlanned {
		err := d.schedules.UpdateEntryStateCAS(ctx, entry.ID,
			schedule.EntryStatePlanned, schedule.EntryStateReady,
			&schedule.StateTransitionRecord{
				EntityType: schedule.EntityTypeEntry,
				EntityID:   entry.ID,
				OldState:   string(schedule.EntryStatePlanned),
				NewState:   string(schedule.EntryStateReady),
				ActorID:    actorID,
				Reason:     "promoted for dispatch",
			})
		if err != nil {
			return nil, err
		}
	}

	woCtx, cancel := context.WithTimeout(ctx, d.cfg.CollaboratorTimeout)
	defer cancel()
	workOrderID, err := d.creator.CreateWorkOrder(woCtx, WorkOrderRequest{
		EntryID:  entry.ID,
		PartRef:  entry.PartRef,
		Quantity: entry.Quantity,
		DueDate:  entry.DueDate,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, schedule.WrapTimeout(schedule.TimeoutCollaborator, "create work order", err)
		}
		d.logger.Warn("work order creation failed", "entry_id", entry.ID, "error", err)
		return nil, &DispatchError{
			Code:    CodeWorkOrderFailed,
			EntryID: entry.ID,
			Message: "work order creation failed",
			Err:     err,
		}
	}

	rec, created, err := d.records.Create(ctx, &DispatchRecord{
		ID:          uuid.New().String(),
		EntryID:     entry.ID,
		ScheduleID:  sched.ID,
		WorkOrderID: workOrderID,
		ActorID:     actorID,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		// A concurrent dispatch won the record between our lookup and the
		// insert. The winner owns the entry; our work order is orphaned.
		d.logger.Warn("concurrent dispatch won the record, work order orphaned",
			"entry_id", entry.ID,
			"winner_work_order_id", rec.WorkOrderID,
			"orphaned_work_order_id", workOrderID)
		return rec, nil
	}

	err = d.schedules.UpdateEntryStateCAS(ctx, entry.ID,
		schedule.EntryStateReady, schedule.EntryStateDispatched,
		&schedule.StateTransitionRecord{
			EntityType: schedule.EntityTypeEntry,
			EntityID:   entry.ID,
			OldState:   string(schedule.EntryStateReady),
			NewState:   string(schedule.EntryStateDispatched),
			ActorID:    actorID,
			Reason:     fmt.Sprintf("dispatched as work order %s", workOrderID),
		})
	if err != nil {
		d.logger.Warn("entry state update failed after dispatch commit", "entry_id", entry.ID, "error", err)
		return nil, err
	}

	won, err := d.schedules.TransitionScheduleCAS(ctx, sched.ID,
		schedule.ScheduleStateReleased, schedule.ScheduleStateDispatched,
		&schedule.StateTransitionRecord{
			EntityType: schedule.EntityTypeSchedule,
			EntityID:   sched.ID,
			OldState:   string(schedule.ScheduleStateReleased),
			NewState:   string(schedule.ScheduleStateDispatched),
			ActorID:    actorID,
			Reason:     "first dispatch committed",
			Detail: schedule.JSONAny{
				"entry_id":      entry.ID,
				"work_order_id": workOrderID,
			},
		})
	if err != nil {
		// The dispatch itself is committed; the advance will ride the next
		// successful dispatch on this schedule.
		d.logger.Error("schedule advance failed after dispatch", "schedule_id", sched.ID, "error", err)
	} else if won {
		d.logger.Info("schedule advanced on first dispatch", "schedule_id", sched.ID)
	}

	d.logger.Info("entry dispatched",
		"entry_id", entry.ID,
		"schedule_id", sched.ID,
		"work_order_id", workOrderID,
		"actor_id", actorID)
	return rec, nil
}

// checkConstraints re-evaluates the entry live and fails if any CRITICAL
// violation is neither cleared nor explicitly overridden. The live check is
// authoritative: a record marked resolved without an override does not bypass
// a violation that still fires.
func (d *Dispatcher) checkConstraints(ctx context.Context, sched *schedule.ProductionSchedule, entry *schedule.ScheduleEntry) error {
	evalCtx, cancel := context.WithTimeout(ctx, d.cfg.CollaboratorTimeout)
	defer cancel()
	violations, err := d.evaluator.CheckEntry(evalCtx, sched, entry, sched.Entries)
	if err != nil {
		return err
	}

	var criticals []feasibility.Violation
	for _, v := range violations {
		if v.Severity == schedule.SeverityCritical {
			criticals = append(criticals, v)
		}
	}
	if len(criticals) == 0 {
		return nil
	}

	existing, err := d.schedules.ListEntryConstraints(ctx, entry.ID, false)
	if err != nil {
		return err
	}
	overridden := mapset.NewThreadUnsafeSet[string]()
	for i := range existing {
		if existing[i].Resolved && existing[i].Overridden {
			overridden.Add(existing[i].Key())
		}
	}

	var blocking []feasibility.Violation
	for _, v := range criticals {
		key := entry.ID + "|" + string(v.Type) + "|" + v.TargetID
		if overridden.Contains(key) {
			continue
		}
		blocking = append(blocking, v)
	}
	if len(blocking) == 0 {
		return nil
	}
	return &DispatchError{
		Code:       CodeConstraintViolated,
		EntryID:    entry.ID,
		Message:    fmt.Sprintf("%d unresolved CRITICAL constraint(s) block dispatch", len(blocking)),
		Violations: blocking,
	}
}

// Outcome is the per-entry result of a dispatch batch.
type Outcome struct {
	EntryID     string
	WorkOrderID string
	Err         error
}

// DispatchAll dispatches every READY entry of the schedule in sequence
// order, up to the configured concurrency. Per-entry failures are recorded
// in the outcome list and do not abort the batch. Context cancellation stops
// further entries from being attempted; committed dispatches are never
// rolled back.
func (d *Dispatcher) DispatchAll(ctx context.Context, scheduleID, actorID string) ([]Outcome, error) {
	sched, err := d.schedules.Load(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !sched.AcceptsDispatch() {
		return nil, &schedule.TransitionError{
			Code:       schedule.CodeTransitionBlocked,
			EntityType: schedule.EntityTypeSchedule,
			From:       string(sched.State),
			To:         string(sched.State),
			Message:    fmt.Sprintf("schedule %s is %s; entries can only dispatch while RELEASED, DISPATCHED, or RUNNING", sched.ID, sched.State),
		}
	}

	var ready []schedule.ScheduleEntry
	for i := range sched.Entries {
		if sched.Entries[i].State == schedule.EntryStateReady {
			ready = append(ready, sched.Entries[i])
		}
	}

	outcomes := make([]Outcome, len(ready))
	sem := make(chan struct{}, d.cfg.Concurrency)
	var wg sync.WaitGroup
	for i := range ready {
		if ctxErr := ctx.Err(); ctxErr != nil {
			for j := i; j < len(ready); j++ {
				outcomes[j] = Outcome{
					EntryID: ready[j].ID,
					Err:     fmt.Errorf("dispatch not attempted: %w", ctxErr),
				}
			}
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			rec, err := d.Dispatch(ctx, ready[i].ID, actorID)
			if err != nil {
				outcomes[i] = Outcome{EntryID: ready[i].ID, Err: err}
				return
			}
			outcomes[i] = Outcome{EntryID: ready[i].ID, WorkOrderID: rec.WorkOrderID}
		}(i)
	}
	wg.Wait()

	succeeded, failed := 0, 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	d.logger.Info("dispatch batch finished",
		"schedule_id", scheduleID,
		"ready", len(ready),
		"succeeded", succeeded,
		"failed", failed)
	return outcomes, nil
}
