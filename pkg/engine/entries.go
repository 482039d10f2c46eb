package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/steiner385/MachShop-sub017/pkg/dispatch"
	"github.com/steiner385/MachShop-sub017/pkg/schedule"
)

// AddEntryRequest is the payload for AddEntry.
type AddEntryRequest struct {
	OperationRef     string    `json:"operationRef"`
	PartRef          string    `json:"partRef"`
	Quantity         float64   `json:"quantity"`
	Priority         int       `json:"priority"`
	DueDate          time.Time `json:"dueDate"`
	ResourceID       string    `json:"resourceId,omitempty"`
	RequiredHours    float64   `json:"requiredHours,omitempty"`
	MaterialID       string    `json:"materialId,omitempty"`
	MaterialQuantity float64   `json:"materialQuantity,omitempty"`
}

// OverrideRequest is the payload for OverrideConstraint. Reason is required:
// an override without a recorded justification is rejected.
type OverrideRequest struct {
	Reason string `json:"reason"`
}

func (r *AddEntryRequest) validate() error {
	if strings.TrimSpace(r.OperationRef) == "" {
		return &schedule.ValidationError{Field: "operationRef", Message: "operationRef is required"}
	}
	if strings.TrimSpace(r.PartRef) == "" {
		return &schedule.ValidationError{Field: "partRef", Message: "partRef is required"}
	}
	if r.Quantity <= 0 {
		return &schedule.ValidationError{Field: "quantity", Message: "quantity must be positive"}
	}
	if r.DueDate.IsZero() {
		return &schedule.ValidationError{Field: "dueDate", Message: "dueDate is required"}
	}
	if r.RequiredHours < 0 {
		return &schedule.ValidationError{Field: "requiredHours", Message: "requiredHours cannot be negative"}
	}
	if r.MaterialQuantity < 0 {
		return &schedule.ValidationError{Field: "materialQuantity", Message: "materialQuantity cannot be negative"}
	}
	return nil
}

// AddEntry appends a new PLANNED entry to the schedule at the lowest free
// sequence position. Entries cannot be added once the schedule reaches a
// completed or terminal state.
func (e *Engine) AddEntry(ctx context.Context, scheduleID string, req AddEntryRequest) (*schedule.EntryView, error) {
	actorID, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	lctx, lcancel := e.pctx(ctx)
	sched, err := e.store.Load(lctx, scheduleID)
	lcancel()
	if err != nil {
		return nil, err
	}
	switch sched.State {
	case schedule.ScheduleStateForecast, schedule.ScheduleStateReleased,
		schedule.ScheduleStateDispatched, schedule.ScheduleStateRunning:
	default:
		return nil, &schedule.ValidationError{
			Field:   "state",
			Message: fmt.Sprintf("schedule is %s, entries can no longer be added", sched.State),
		}
	}

	entry := schedule.ScheduleEntry{
		ID:               uuid.New().String(),
		ScheduleID:       sched.ID,
		OperationRef:     strings.TrimSpace(req.OperationRef),
		PartRef:          strings.TrimSpace(req.PartRef),
		Quantity:         req.Quantity,
		Priority:         req.Priority,
		DueDate:          req.DueDate,
		SequencePosition: schedule.NextFreePosition(sched.Entries),
		State:            schedule.EntryStatePlanned,
		ResourceID:       strings.TrimSpace(req.ResourceID),
		RequiredHours:    req.RequiredHours,
		MaterialID:       strings.TrimSpace(req.MaterialID),
		MaterialQuantity: req.MaterialQuantity,
	}
	mut := &schedule.Mutation{
		EntryUpserts: []schedule.ScheduleEntry{entry},
		Transitions: []schedule.StateTransitionRecord{{
			EntityType: schedule.EntityTypeEntry,
			EntityID:   entry.ID,
			NewState:   string(schedule.EntryStatePlanned),
			ActorID:    actorID,
			Reason:     "entry added",
			Detail: schedule.JSONAny{
				"schedule_id":   sched.ID,
				"operation_ref": entry.OperationRef,
				"position":      entry.SequencePosition,
			},
		}},
	}

	sctx, cancel := e.pctx(ctx)
	defer cancel()
	if err := e.store.Save(sctx, sched, mut); err != nil {
		return nil, err
	}

	e.logger.Info("entry added",
		"schedule_id", sched.ID, "entry_id", entry.ID,
		"position", entry.SequencePosition, "actor_id", actorID)
	return entryView(&entry), nil
}

// GetEntry loads a single entry.
func (e *Engine) GetEntry(ctx context.Context, entryID string) (*schedule.EntryView, error) {
	sctx, cancel := e.pctx(ctx)
	defer cancel()
	entry, err := e.store.GetEntry(sctx, entryID)
	if err != nil {
		return nil, err
	}
	return entryView(entry), nil
}

// RemoveEntry cancels an entry and compacts the remaining sequence
// positions. Entries are never hard-deleted; removal is the CANCELLED
// transition, so it is only legal from PLANNED, READY, or DISPATCHED.
func (e *Engine) RemoveEntry(ctx context.Context, entryID, reason string) (*schedule.EntryView, error) {
	actorID, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	gctx, gcancel := e.pctx(ctx)
	entry, err := e.store.GetEntry(gctx, entryID)
	gcancel()
	if err != nil {
		return nil, err
	}
	lctx, lcancel := e.pctx(ctx)
	sched, err := e.store.Load(lctx, entry.ScheduleID)
	lcancel()
	if err != nil {
		return nil, err
	}

	from := entry.State
	if err := e.entries.ValidateTransition(from, schedule.EntryStateCancelled); err != nil {
		e.auditRejected(ctx, schedule.EntityTypeEntry, entryID, string(from), string(schedule.EntryStateCancelled), actorID, err)
		return nil, err
	}

	// Cancel in the loaded copy first so compaction sees the entry leave
	// the pending set.
	for i := range sched.Entries {
		if sched.Entries[i].ID == entryID {
			sched.Entries[i].State = schedule.EntryStateCancelled
			entry = &sched.Entries[i]
			break
		}
	}
	positions := schedule.CompactPositions(sched.Entries)

	if reason == "" {
		reason = "entry removed"
	}
	mut := &schedule.Mutation{
		EntryStateSets: []schedule.EntryStateSet{{
			EntryID: entryID,
			From:    from,
			To:      schedule.EntryStateCancelled,
		}},
		PositionUpdates: positions,
		Transitions: []schedule.StateTransitionRecord{{
			EntityType: schedule.EntityTypeEntry,
			EntityID:   entryID,
			OldState:   string(from),
			NewState:   string(schedule.EntryStateCancelled),
			ActorID:    actorID,
			Reason:     reason,
		}},
	}

	sctx, cancel := e.pctx(ctx)
	defer cancel()
	if err := e.store.Save(sctx, sched, mut); err != nil {
		return nil, err
	}

	e.logger.Info("entry removed",
		"schedule_id", sched.ID, "entry_id", entryID,
		"positions_compacted", len(positions), "actor_id", actorID)
	return entryView(entry), nil
}

// QueryEntries returns the schedule's entries matching the filter
// expression, in sequence order. An empty filter matches everything.
func (e *Engine) QueryEntries(ctx context.Context, scheduleID, filterExpr string) ([]schedule.EntryView, error) {
	filter, err := schedule.ParseFilter(filterExpr)
	if err != nil {
		return nil, err
	}
	sctx, cancel := e.pctx(ctx)
	defer cancel()
	entries, err := e.store.QueryEntries(sctx, scheduleID, filter)
	if err != nil {
		return nil, err
	}
	views := make([]schedule.EntryView, 0, len(entries))
	for i := range entries {
		views = append(views, *entryView(&entries[i]))
	}
	return views, nil
}

// TransitionEntry applies a requested entry state change. The PLANNED to
// READY promotion runs the readiness check; READY to DISPATCHED is reserved
// for the dispatcher. Rejected attempts are recorded in the transition log.
func (e *Engine) TransitionEntry(ctx context.Context, entryID string, req TransitionRequest) (*schedule.EntryView, error) {
	actorID, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	to, err := parseEntryState(req.To)
	if err != nil {
		return nil, err
	}

	gctx, gcancel := e.pctx(ctx)
	entry, err := e.store.GetEntry(gctx, entryID)
	gcancel()
	if err != nil {
		return nil, err
	}
	lctx, lcancel := e.pctx(ctx)
	sched, err := e.store.Load(lctx, entry.ScheduleID)
	lcancel()
	if err != nil {
		return nil, err
	}
	from := entry.State

	reject := func(terr error) error {
		e.auditRejected(ctx, schedule.EntityTypeEntry, entryID, string(from), string(to), actorID, terr)
		return terr
	}

	if err := e.entries.ValidateTransition(from, to); err != nil {
		return nil, reject(err)
	}
	if rule, ok := e.entries.Rule(from, to); ok && rule.SystemOnly {
		return nil, reject(&schedule.TransitionError{
			Code:       schedule.CodeTransitionReserved,
			EntityType: schedule.EntityTypeEntry,
			From:       string(from),
			To:         string(to),
			Message:    fmt.Sprintf("%s to %s is performed by the dispatcher", from, to),
		})
	}
	if from == schedule.EntryStatePlanned && to == schedule.EntryStateReady {
		cctx, ccancel := e.pctx(ctx)
		unresolved, err := e.store.ListEntryConstraints(cctx, entryID, true)
		ccancel()
		if err != nil {
			return nil, err
		}
		readiness := schedule.ComputeReadiness(entry, sched.State, unresolved)
		if readiness.State == schedule.ReadinessBlocked {
			return nil, reject(&schedule.TransitionError{
				Code:       schedule.CodeTransitionBlocked,
				EntityType: schedule.EntityTypeEntry,
				From:       string(from),
				To:         string(to),
				Message:    strings.Join(readiness.Reasons, "; "),
			})
		}
	}

	rec := &schedule.StateTransitionRecord{
		EntityType: schedule.EntityTypeEntry,
		EntityID:   entryID,
		OldState:   string(from),
		NewState:   string(to),
		ActorID:    actorID,
		Reason:     req.Reason,
	}
	sctx, cancel := e.pctx(ctx)
	defer cancel()
	if err := e.store.UpdateEntryStateCAS(sctx, entryID, from, to, rec); err != nil {
		return nil, err
	}
	entry.State = to

	e.logger.Info("entry transitioned",
		"entry_id", entryID, "from", from, "to", to, "actor_id", actorID)
	return entryView(entry), nil
}

// EntryReadiness reports whether an entry could be promoted to READY right
// now, with the blocking reasons when it cannot.
func (e *Engine) EntryReadiness(ctx context.Context, entryID string) (*schedule.Readiness, error) {
	gctx, gcancel := e.pctx(ctx)
	entry, err := e.store.GetEntry(gctx, entryID)
	gcancel()
	if err != nil {
		return nil, err
	}
	lctx, lcancel := e.pctx(ctx)
	sched, err := e.store.Load(lctx, entry.ScheduleID)
	lcancel()
	if err != nil {
		return nil, err
	}
	cctx, ccancel := e.pctx(ctx)
	unresolved, err := e.store.ListEntryConstraints(cctx, entryID, true)
	ccancel()
	if err != nil {
		return nil, err
	}
	readiness := schedule.ComputeReadiness(entry, sched.State, unresolved)
	return &readiness, nil
}

// ListScheduleConstraints returns the schedule's constraint records, oldest
// first. unresolvedOnly narrows to records still open.
func (e *Engine) ListScheduleConstraints(ctx context.Context, scheduleID string, unresolvedOnly bool) ([]schedule.ConstraintView, error) {
	sctx, cancel := e.pctx(ctx)
	defer cancel()
	records, err := e.store.ListConstraints(sctx, scheduleID, unresolvedOnly)
	if err != nil {
		return nil, err
	}
	return constraintViews(records), nil
}

// ListEntryConstraints returns one entry's constraint records, oldest first.
func (e *Engine) ListEntryConstraints(ctx context.Context, entryID string, unresolvedOnly bool) ([]schedule.ConstraintView, error) {
	sctx, cancel := e.pctx(ctx)
	defer cancel()
	records, err := e.store.ListEntryConstraints(sctx, entryID, unresolvedOnly)
	if err != nil {
		return nil, err
	}
	return constraintViews(records), nil
}

// OverrideConstraint marks an open constraint overridden with the actor's
// justification. Overridden CRITICAL constraints stop blocking release and
// dispatch; the record and the override trail are kept permanently.
func (e *Engine) OverrideConstraint(ctx context.Context, constraintID string, req OverrideRequest) (*schedule.ConstraintView, error) {
	actorID, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, &schedule.ValidationError{Field: "reason", Message: "an override requires a justification"}
	}

	gctx, gcancel := e.pctx(ctx)
	existing, err := e.store.GetConstraint(gctx, constraintID)
	gcancel()
	if err != nil {
		return nil, err
	}

	rec := &schedule.StateTransitionRecord{
		EntityType: schedule.EntityTypeConstraint,
		EntityID:   constraintID,
		OldState:   schedule.ConstraintStateOpen,
		NewState:   schedule.ConstraintStateOverridden,
		ActorID:    actorID,
		Reason:     reason,
		Detail:     constraintDetail(existing),
	}
	sctx, cancel := e.pctx(ctx)
	defer cancel()
	updated, err := e.store.ResolveConstraint(sctx, constraintID, true, actorID, reason, rec)
	if err != nil {
		return nil, err
	}

	e.logger.Info("constraint overridden",
		"constraint_id", constraintID, "entry_id", updated.EntryID,
		"severity", updated.Severity, "actor_id", actorID)
	return constraintView(updated), nil
}

// Dispatch converts one entry into a work order. The operation is
// idempotent: redispatching an entry returns the existing record.
func (e *Engine) Dispatch(ctx context.Context, entryID string) (*DispatchView, error) {
	actorID, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := e.dispatcher.Dispatch(ctx, entryID, actorID)
	if err != nil {
		return nil, err
	}
	return dispatchView(rec), nil
}

// DispatchAll dispatches every READY entry of the schedule in sequence
// order. Per-entry failures are reported in the batch result and do not
// abort the remaining entries.
func (e *Engine) DispatchAll(ctx context.Context, scheduleID string) (*DispatchBatchView, error) {
	actorID, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	outcomes, err := e.dispatcher.DispatchAll(ctx, scheduleID, actorID)
	if err != nil {
		return nil, err
	}

	batch := &DispatchBatchView{
		ScheduleID: scheduleID,
		Outcomes:   make([]OutcomeView, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		ov := OutcomeView{EntryID: o.EntryID, WorkOrderID: o.WorkOrderID}
		if o.Err != nil {
			ov.Status = DispatchStatusFailed
			ov.Error = o.Err.Error()
			if de := dispatch.AsDispatch(o.Err); de != nil {
				ov.ErrorCode = de.Code
			}
			batch.Failed++
		} else {
			ov.Status = DispatchStatusDispatched
			batch.Dispatched++
		}
		batch.Outcomes = append(batch.Outcomes, ov)
	}
	return batch, nil
}

// ListDispatches returns the schedule's dispatch records in dispatch order.
func (e *Engine) ListDispatches(ctx context.Context, scheduleID string) ([]DispatchView, error) {
	sctx, cancel := e.pctx(ctx)
	defer cancel()
	records, err := e.dispatches.ListBySchedule(sctx, scheduleID)
	if err != nil {
		return nil, err
	}
	views := make([]DispatchView, 0, len(records))
	for i := range records {
		views = append(views, *dispatchView(&records[i]))
	}
	return views, nil
}

// TransitionHistory pages through the transition log for one entity, newest
// first.
func (e *Engine) TransitionHistory(ctx context.Context, entityType, entityID string, pageSize int, pageToken string) (*schedule.TransitionEventList, error) {
	if err := validateEntityType(entityType); err != nil {
		return nil, err
	}
	if pageSize > e.cfg.MaxPageSize {
		pageSize = e.cfg.MaxPageSize
	}
	sctx, cancel := e.pctx(ctx)
	defer cancel()
	records, next, total, err := e.log.ListByEntity(sctx, entityType, entityID, pageSize, pageToken)
	if err != nil {
		return nil, err
	}
	return transitionEventList(records, next, total), nil
}

// History pages through the whole transition log, newest first, optionally
// narrowed to one entity type.
func (e *Engine) History(ctx context.Context, entityType string, pageSize int, pageToken string) (*schedule.TransitionEventList, error) {
	if entityType != "" {
		if err := validateEntityType(entityType); err != nil {
			return nil, err
		}
	}
	if pageSize > e.cfg.MaxPageSize {
		pageSize = e.cfg.MaxPageSize
	}
	sctx, cancel := e.pctx(ctx)
	defer cancel()
	records, next, total, err := e.log.ListAll(sctx, pageSize, pageToken, entityType)
	if err != nil {
		return nil, err
	}
	return transitionEventList(records, next, total), nil
}

// PruneHistory deletes transition records older than the cutoff. Intended
// for retention sweeps; the audit trail inside the retention window is
// never touched.
func (e *Engine) PruneHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := e.log.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		e.logger.Info("transition history pruned", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

func validateEntityType(entityType string) error {
	switch entityType {
	case schedule.EntityTypeSchedule, schedule.EntityTypeEntry, schedule.EntityTypeConstraint:
		return nil
	}
	return &schedule.ValidationError{
		Field:   "entityType",
		Message: fmt.Sprintf("unknown entity type %q (supported: schedule, entry, constraint)", entityType),
	}
}
