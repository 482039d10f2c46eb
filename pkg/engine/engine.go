// Package engine composes the schedule store, transition log, feasibility
// evaluator, and dispatcher into the operation set exposed over the API.
// The engine owns the guards that span components: release gates, readiness
// checks, actor resolution, and the audit records written for rejected
// transition attempts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/steiner385/MachShop-sub017/pkg/dispatch"
	"github.com/steiner385/MachShop-sub017/pkg/feasibility"
	"github.com/steiner385/MachShop-sub017/pkg/identity"
	"github.com/steiner385/MachShop-sub017/pkg/schedule"
)

// Engine is the orchestrator behind the public operation set.
type Engine struct {
	store      *schedule.ScheduleStore
	log        *schedule.TransitionLog
	evaluator  *feasibility.Evaluator
	dispatcher *dispatch.Dispatcher
	dispatches *dispatch.RecordStore
	schedules  *schedule.ScheduleMachine
	entries    *schedule.EntryMachine
	cfg        *Config
	logger     *slog.Logger
}

// NewEngine wires an engine from its collaborators. cfg and logger may be
// nil, in which case defaults are used.
func NewEngine(store *schedule.ScheduleStore, log *schedule.TransitionLog, evaluator *feasibility.Evaluator, dispatcher *dispatch.Dispatcher, dispatches *dispatch.RecordStore, cfg *Config, logger *slog.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      store,
		log:        log,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		dispatches: dispatches,
		schedules:  schedule.NewScheduleMachine(),
		entries:    schedule.NewEntryMachine(),
		cfg:        cfg,
		logger:     logger,
	}
}

// requireActor returns the resolved actor id for a mutating operation.
// Anonymous callers are rejected: every state change is attributed.
func requireActor(ctx context.Context) (string, error) {
	actor, ok := identity.ActorFromContext(ctx)
	if !ok || actor.ID == "" || actor.ID == identity.Anonymous {
		return "", &schedule.ValidationError{Field: "actor", Message: "a resolved actor id is required for mutating operations"}
	}
	return actor.ID, nil
}

// pctx bounds a single unit of persistence work.
func (e *Engine) pctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.PersistenceTimeout)
}

// CreateScheduleRequest is the payload for CreateSchedule.
type CreateScheduleRequest struct {
	SiteID       string    `json:"siteId"`
	HorizonStart time.Time `json:"horizonStart"`
	HorizonEnd   time.Time `json:"horizonEnd"`
}

// UpdateHorizonRequest is the payload for UpdateScheduleHorizon.
type UpdateHorizonRequest struct {
	HorizonStart time.Time `json:"horizonStart"`
	HorizonEnd   time.Time `json:"horizonEnd"`
}

// TransitionRequest asks for a state change on a schedule or entry.
type TransitionRequest struct {
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// SequenceRequest selects the strategy for a sequencer run. An empty
// strategy uses the configured default.
type SequenceRequest struct {
	Strategy string `json:"strategy,omitempty"`
}

func validateHorizon(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return &schedule.ValidationError{Field: "horizon", Message: "horizonStart and horizonEnd are required"}
	}
	if !end.After(start) {
		return &schedule.ValidationError{Field: "horizon", Message: "horizonEnd must be after horizonStart"}
	}
	return nil
}

func parseScheduleState(s string) (schedule.ScheduleState, error) {
	st := schedule.ScheduleState(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case schedule.ScheduleStateForecast, schedule.ScheduleStateReleased,
		schedule.ScheduleStateDispatched, schedule.ScheduleStateRunning,
		schedule.ScheduleStateCompleted, schedule.ScheduleStateClosed,
		schedule.ScheduleStateCancelled:
		return st, nil
	}
	return "", &schedule.ValidationError{Field: "to", Message: fmt.Sprintf("unknown schedule state %q", s)}
}

func parseEntryState(s string) (schedule.EntryState, error) {
	st := schedule.EntryState(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case schedule.EntryStatePlanned, schedule.EntryStateReady,
		schedule.EntryStateDispatched, schedule.EntryStateInProgress,
		schedule.EntryStateCompleted, schedule.EntryStateCancelled:
		return st, nil
	}
	return "", &schedule.ValidationError{Field: "to", Message: fmt.Sprintf("unknown entry state %q", s)}
}

// CreateSchedule creates a new schedule in FORECAST with an empty entry list.
func (e *Engine) CreateSchedule(ctx context.Context, req CreateScheduleRequest) (*schedule.ScheduleView, error) {
	actorID, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	siteID := strings.TrimSpace(req.SiteID)
	if siteID == "" {
		return nil, &schedule.ValidationError{Field: "siteId", Message: "siteId is required"}
	}
	if err := validateHorizon(req.HorizonStart, req.HorizonEnd); err != nil {
		return nil, err
	}

	sched := &schedule.ProductionSchedule{
		ID:           uuid.New().String(),
		SiteID:       siteID,
		HorizonStart: req.HorizonStart,
		HorizonEnd:   req.HorizonEnd,
		State:        schedule.ScheduleStateForecast,
		Version:      1,
	}
	rec := &schedule.StateTransitionRecord{
		EntityType: schedule.EntityTypeSchedule,
		EntityID:   sched.ID,
		NewState:   string(schedule.ScheduleStateForecast),
		ActorID:    actorID,
		Reason:     "schedule created",
	}

	sctx, cancel := e.pctx(ctx)
	defer cancel()
	if err := e.store.Create(sctx, sched, rec); err != nil {
		return nil, err
	}

	e.logger.Info("schedule created",
		"schedule_id", sched.ID, "site_id", sched.SiteID, "actor_id", actorID)
	return scheduleView(sched, true), nil
}

// GetSchedule loads a schedule with its entries.
func (e *Engine) GetSchedule(ctx context.Context, scheduleID string) (*schedule.ScheduleView, error) {
	sctx, cancel := e.pctx(ctx)
	defer cancel()
	sched, err := e.store.Load(sctx, scheduleID)
	if err != nil {
		return nil, err
	}
	return scheduleView(sched, true), nil
}

// ListSchedules pages through schedules, optionally filtered by site and state.
func (e *Engine) ListSchedules(ctx context.Context, siteID, state string, pageSize int, pageToken string) (*schedule.ScheduleList, error) {
	if pageSize > e.cfg.MaxPageSize {
		pageSize = e.cfg.MaxPageSize
	}
	var st schedule.ScheduleState
	if strings.TrimSpace(state) != "" {
		parsed, err := parseScheduleState(state)
		if err != nil {
			return nil, &schedule.ValidationError{Field: "state", Message: fmt.Sprintf("unknown schedule state %q", state)}
		}
		st = parsed
	}

	sctx, cancel := e.pctx(ctx)
	defer cancel()
	records, next, total, err := e.store.ListSchedules(sctx, siteID, st, pageSize, pageToken)
	if err != nil {
		return nil, err
	}
	list := &schedule.ScheduleList{
		Schedules:     make([]schedule.ScheduleView, 0, len(records)),
		NextPageToken: next,
		TotalSize:     total,
	}
	for i := range records {
		list.Schedules = append(list.Schedules, *scheduleView(&records[i], false))
	}
	return list, nil
}

// UpdateScheduleHorizon replaces the planning horizon. Only FORECAST and
// RELEASED schedules may change horizon; once dispatching starts the window
// is fixed.
func (e *Engine) UpdateScheduleHorizon(ctx context.Context, scheduleID string, req UpdateHorizonRequest) (*schedule.ScheduleView, error) {
	actorID, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateHorizon(req.HorizonStart, req.HorizonEnd); err != nil {
		return nil, err
	}

	lctx, lcancel := e.pctx(ctx)
	sched, err := e.store.Load(lctx, scheduleID)
	lcancel()
	if err != nil {
		return nil, err
	}
	switch sched.State {
	case schedule.ScheduleStateForecast, schedule.ScheduleStateReleased:
	default:
		return nil, &schedule.ValidationError{
			Field:   "state",
			Message: fmt.Sprintf("schedule is %s, the horizon can only change while FORECAST or RELEASED", sched.State),
		}
	}

	sched.HorizonStart = req.HorizonStart
	sched.HorizonEnd = req.HorizonEnd
	mut := &schedule.Mutation{
		Transitions: []schedule.StateTransitionRecord{{
			EntityType: schedule.EntityTypeSchedule,
			EntityID:   sched.ID,
			OldState:   string(sched.State),
			NewState:   string(sched.State),
			ActorID:    actorID,
			Reason:     "horizon updated",
			Detail: schedule.JSONAny{
				"horizon_start": req.HorizonStart.Format(time.RFC3339),
				"horizon_end":   req.HorizonEnd.Format(time.RFC3339),
			},
		}},
	}

	sctx, cancel := e.pctx(ctx)
	defer cancel()
	if err := e.store.Save(sctx, sched, mut); err != nil {
		return nil, err
	}
	e.logger.Info("schedule horizon updated", "schedule_id", sched.ID, "actor_id", actorID)
	return scheduleView(sched, true), nil
}

// RunSequencer recomputes sequence positions for the schedule's pending
// entries. Entries at DISPATCHED or later keep their positions as fixed
// anchors. When the strategy produces no changes nothing is written, so a
// no-op run does not bump the schedule version.
func (e *Engine) RunSequencer(ctx context.Context, scheduleID string, req SequenceRequest) (*schedule.ScheduleView, error) {
	actorID, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	strategy := e.cfg.DefaultStrategy
	if strings.TrimSpace(req.Strategy) != "" {
		strategy, err = schedule.ParseStrategy(req.Strategy)
		if err != nil {
			return nil, err
		}
	}

	lctx, lcancel := e.pctx(ctx)
	sched, err := e.store.Load(lctx, scheduleID)
	lcancel()
	if err != nil {
		return nil, err
	}

	updates, err := schedule.Resequence(sched.Entries, strategy)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		e.logger.Debug("sequencer made no changes", "schedule_id", scheduleID, "strategy", strategy)
		return scheduleView(sched, true), nil
	}

	mut := &schedule.Mutation{
		PositionUpdates: updates,
		Transitions: []schedule.StateTransitionRecord{{
			EntityType: schedule.EntityTypeSchedule,
			EntityID:   sched.ID,
			OldState:   string(sched.State),
			NewState:   string(sched.State),
			ActorID:    actorID,
			Reason:     "resequenced",
			Detail: schedule.JSONAny{
				"strategy":          string(strategy),
				"positions_changed": len(updates),
			},
		}},
	}

	sctx, cancel := e.pctx(ctx)
	defer cancel()
	if err := e.store.Save(sctx, sched, mut); err != nil {
		return nil, err
	}
	e.logger.Info("schedule resequenced",
		"schedule_id", sched.ID, "strategy", strategy,
		"positions_changed", len(updates), "actor_id", actorID)
	return scheduleView(sched, true), nil
}

// CheckFeasibility evaluates capacity and material constraints for every
// active entry without persisting anything.
func (e *Engine) CheckFeasibility(ctx context.Context, scheduleID string) (*feasibility.Report, error) {
	lctx, cancel := e.pctx(ctx)
	sched, err := e.store.Load(lctx, scheduleID)
	cancel()
	if err != nil {
		return nil, err
	}
	return e.evaluator.CheckSchedule(ctx, sched)
}

// RefreshConstraints evaluates the schedule and reconciles the stored
// constraint records against the live result. New violations open records,
// returned violations reopen resolved ones, and violations no longer
// reported are marked resolved. Overridden records keep their override when
// the violation persists. Records are never deleted.
func (e *Engine) RefreshConstraints(ctx context.Context, scheduleID string) (*feasibility.Report, error) {
	actorID, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}

	lctx, lcancel := e.pctx(ctx)
	sched, err := e.store.Load(lctx, scheduleID)
	lcancel()
	if err != nil {
		return nil, err
	}

	report, err := e.evaluator.CheckSchedule(ctx, sched)
	if err != nil {
		return nil, err
	}
	fresh := feasibility.BuildConstraintRecords(report)

	cctx, ccancel := e.pctx(ctx)
	existing, err := e.store.ListConstraints(cctx, scheduleID, false)
	ccancel()
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*schedule.ConstraintRecord, len(existing))
	for i := range existing {
		byKey[existing[i].Key()] = &existing[i]
	}

	var (
		creates []schedule.ConstraintRecord
		updates []schedule.ConstraintRecord
		audit   []schedule.StateTransitionRecord
	)
	live := make(map[string]bool, len(fresh))
	for i := range fresh {
		nr := fresh[i]
		live[nr.Key()] = true
		ex, ok := byKey[nr.Key()]
		if !ok {
			creates = append(creates, nr)
			audit = append(audit, schedule.StateTransitionRecord{
				EntityType: schedule.EntityTypeConstraint,
				EntityID:   nr.ID,
				NewState:   schedule.ConstraintStateOpen,
				ActorID:    actorID,
				Reason:     "constraint detected",
				Detail:     constraintDetail(&nr),
			})
			continue
		}
		nr.ID = ex.ID
		switch {
		case ex.Resolved && ex.Overridden:
			// Overrides stick across refreshes while the violation persists.
			nr.Resolved = true
			nr.Overridden = true
			nr.ResolvedBy = ex.ResolvedBy
			nr.ResolutionReason = ex.ResolutionReason
		case ex.Resolved:
			audit = append(audit, schedule.StateTransitionRecord{
				EntityType: schedule.EntityTypeConstraint,
				EntityID:   ex.ID,
				OldState:   schedule.ConstraintStateResolved,
				NewState:   schedule.ConstraintStateOpen,
				ActorID:    actorID,
				Reason:     "violation returned on re-evaluation",
				Detail:     constraintDetail(&nr),
			})
		}
		updates = append(updates, nr)
	}

	for i := range existing {
		ex := existing[i]
		if live[ex.Key()] || ex.Resolved {
			continue
		}
		ex.Resolved = true
		ex.Overridden = false
		ex.ResolvedBy = actorID
		ex.ResolutionReason = "cleared by re-evaluation"
		updates = append(updates, ex)
		audit = append(audit, schedule.StateTransitionRecord{
			EntityType: schedule.EntityTypeConstraint,
			EntityID:   ex.ID,
			OldState:   schedule.ConstraintStateOpen,
			NewState:   schedule.ConstraintStateResolved,
			ActorID:    actorID,
			Reason:     "cleared by re-evaluation",
			Detail:     constraintDetail(&ex),
		})
	}

	uctx, ucancel := e.pctx(ctx)
	defer ucancel()
	if err := e.store.ApplyConstraintChanges(uctx, creates, updates, audit); err != nil {
		return nil, err
	}

	e.logger.Info("constraints refreshed",
		"schedule_id", scheduleID, "live_violations", len(fresh),
		"opened", len(creates), "actor_id", actorID)
	return report, nil
}

func constraintDetail(c *schedule.ConstraintRecord) schedule.JSONAny {
	return schedule.JSONAny{
		"entry_id":  c.EntryID,
		"type":      string(c.Type),
		"target_id": c.TargetID,
		"severity":  string(c.Severity),
	}
}

// TransitionSchedule applies a requested schedule state change. Rejected
// attempts are recorded in the transition log with the rejection detail
// before the error is returned.
func (e *Engine) TransitionSchedule(ctx context.Context, scheduleID string, req TransitionRequest) (*schedule.ScheduleView, error) {
	actorID, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	to, err := parseScheduleState(req.To)
	if err != nil {
		return nil, err
	}

	lctx, lcancel := e.pctx(ctx)
	sched, err := e.store.Load(lctx, scheduleID)
	lcancel()
	if err != nil {
		return nil, err
	}
	from := sched.State

	reject := func(terr error) error {
		e.auditRejected(ctx, schedule.EntityTypeSchedule, scheduleID, string(from), string(to), actorID, terr)
		return terr
	}

	if err := e.schedules.ValidateTransition(from, to); err != nil {
		return nil, reject(err)
	}
	if rule, ok := e.schedules.Rule(from, to); ok && rule.SystemOnly {
		return nil, reject(&schedule.TransitionError{
			Code:       schedule.CodeTransitionReserved,
			EntityType: schedule.EntityTypeSchedule,
			From:       string(from),
			To:         string(to),
			Message:    fmt.Sprintf("%s to %s is performed by the dispatcher on the first successful dispatch", from, to),
		})
	}
	if from == schedule.ScheduleStateForecast && to == schedule.ScheduleStateReleased {
		if err := e.checkReleaseGate(ctx, sched); err != nil {
			if schedule.AsTransition(err) != nil {
				return nil, reject(err)
			}
			return nil, err
		}
	}

	sched.State = to
	mut := &schedule.Mutation{
		Transitions: []schedule.StateTransitionRecord{{
			EntityType: schedule.EntityTypeSchedule,
			EntityID:   sched.ID,
			OldState:   string(from),
			NewState:   string(to),
			ActorID:    actorID,
			Reason:     req.Reason,
		}},
	}
	sctx, cancel := e.pctx(ctx)
	defer cancel()
	if err := e.store.Save(sctx, sched, mut); err != nil {
		return nil, err
	}

	e.logger.Info("schedule transitioned",
		"schedule_id", sched.ID, "from", from, "to", to, "actor_id", actorID)
	return scheduleView(sched, true), nil
}

// checkReleaseGate enforces the FORECAST to RELEASED guard: at least one
// active entry and no unresolved CRITICAL constraints anywhere on the
// schedule.
func (e *Engine) checkReleaseGate(ctx context.Context, sched *schedule.ProductionSchedule) error {
	active := 0
	for i := range sched.Entries {
		if !sched.Entries[i].IsTerminal() {
			active++
		}
	}
	if active == 0 {
		return &schedule.TransitionError{
			Code:       schedule.CodeTransitionBlocked,
			EntityType: schedule.EntityTypeSchedule,
			From:       string(schedule.ScheduleStateForecast),
			To:         string(schedule.ScheduleStateReleased),
			Message:    "release requires at least one active entry",
		}
	}

	cctx, cancel := e.pctx(ctx)
	defer cancel()
	criticals, err := e.store.CountUnresolvedCritical(cctx, sched.ID)
	if err != nil {
		return err
	}
	if criticals > 0 {
		return &schedule.TransitionError{
			Code:       schedule.CodeTransitionBlocked,
			EntityType: schedule.EntityTypeSchedule,
			From:       string(schedule.ScheduleStateForecast),
			To:         string(schedule.ScheduleStateReleased),
			Message:    fmt.Sprintf("release blocked by %d unresolved CRITICAL constraint(s)", criticals),
		}
	}
	return nil
}

// auditRejected writes a best-effort log record for a rejected transition
// attempt. The entity state is unchanged, so OldState == NewState and the
// attempted target rides in the detail.
func (e *Engine) auditRejected(ctx context.Context, entityType, entityID, from, to, actorID string, terr error) {
	detail := schedule.JSONAny{"outcome": "rejected", "attempted_to": to}
	if t := schedule.AsTransition(terr); t != nil {
		detail["code"] = t.Code
		detail["message"] = t.Message
	}
	rec := &schedule.StateTransitionRecord{
		EntityType: entityType,
		EntityID:   entityID,
		OldState:   from,
		NewState:   from,
		ActorID:    actorID,
		Reason:     "transition rejected",
		Detail:     detail,
	}
	actx, cancel := e.pctx(ctx)
	defer cancel()
	if err := e.log.Append(actx, rec); err != nil {
		e.logger.Warn("failed to record rejected transition",
			"entity_type", entityType, "entity_id", entityID, "error", err)
	}
}
