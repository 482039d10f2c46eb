package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScheduleStore provides database operations for schedules, entries,
// constraints, and their transition records.
type ScheduleStore struct {
	db *gorm.DB
}

// NewScheduleStore creates a new ScheduleStore.
func NewScheduleStore(db *gorm.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// AutoMigrate creates or updates the schedule tables.
func (s *ScheduleStore) AutoMigrate() error {
	return s.db.AutoMigrate(&ProductionSchedule{}, &ScheduleEntry{}, &ConstraintRecord{})
}

// EntryStateSet is a guarded entry state update applied inside Save. The
// update only succeeds while the entry is still in From; anything else fails
// the whole mutation.
type EntryStateSet struct {
	EntryID string
	From    EntryState
	To      EntryState
}

// Mutation is the set of changes applied atomically with a schedule save.
// The schedule row itself is updated under a version check; everything in
// the mutation commits with it or not at all.
type Mutation struct {
	EntryUpserts    []ScheduleEntry
	EntryStateSets  []EntryStateSet
	PositionUpdates []PositionUpdate
	Transitions     []StateTransitionRecord
}

// Create persists a new schedule together with its creation transition
// record in one transaction.
func (s *ScheduleStore) Create(ctx context.Context, sched *ProductionSchedule, rec *StateTransitionRecord) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sched).Error; err != nil {
			return fmt.Errorf("create schedule: %w", err)
		}
		if rec != nil {
			if err := tx.Create(rec).Error; err != nil {
				return fmt.Errorf("record creation: %w", err)
			}
		}
		return nil
	})
	return s.wrapErr("create schedule", err)
}

// Load retrieves a schedule with its entries ordered by sequence position.
func (s *ScheduleStore) Load(ctx context.Context, id string) (*ProductionSchedule, error) {
	var sched ProductionSchedule
	err := s.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence_position ASC, created_at ASC")
		}).
		First(&sched, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
		}
		return nil, s.wrapErr("load schedule", err)
	}
	return &sched, nil
}

// GetEntry retrieves a single entry by id.
func (s *ScheduleStore) GetEntry(ctx context.Context, entryID string) (*ScheduleEntry, error) {
	var entry ScheduleEntry
	err := s.db.WithContext(ctx).First(&entry, "id = ?", entryID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("entry %s: %w", entryID, ErrNotFound)
		}
		return nil, s.wrapErr("get entry", err)
	}
	return &entry, nil
}

// Save applies a mutation to a schedule under its version check. The
// schedule row is updated only while the stored version still matches
// sched.Version; a stale version returns a ConflictError and nothing is
// written. On success sched.Version is advanced to the stored value.
func (s *ScheduleStore) Save(ctx context.Context, sched *ProductionSchedule, mut *Mutation) error {
	if mut == nil {
		mut = &Mutation{}
	}
	expected := sched.Version
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ProductionSchedule{}).
			Where("id = ? AND version = ?", sched.ID, expected).
			Updates(map[string]any{
				"site_id":       sched.SiteID,
				"horizon_start": sched.HorizonStart,
				"horizon_end":   sched.HorizonEnd,
				"state":         sched.State,
				"version":       gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return fmt.Errorf("update schedule: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return &ConflictError{ScheduleID: sched.ID, ExpectedVersion: expected}
		}

		for i := range mut.EntryUpserts {
			if err := tx.Create(&mut.EntryUpserts[i]).Error; err != nil {
				return fmt.Errorf("create entry: %w", err)
			}
		}
		for _, set := range mut.EntryStateSets {
			res := tx.Model(&ScheduleEntry{}).
				Where("id = ? AND state = ?", set.EntryID, set.From).
				Update("state", set.To)
			if res.Error != nil {
				return fmt.Errorf("update entry state: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return &TransitionError{
					Code:       CodeTransitionInvalid,
					EntityType: EntityTypeEntry,
					From:       string(set.From),
					To:         string(set.To),
					Message:    fmt.Sprintf("entry %s is no longer %s", set.EntryID, set.From),
				}
			}
		}
		for _, pu := range mut.PositionUpdates {
			err := tx.Model(&ScheduleEntry{}).
				Where("id = ?", pu.EntryID).
				Update("sequence_position", pu.Position).Error
			if err != nil {
				return fmt.Errorf("update entry position: %w", err)
			}
		}
		for i := range mut.Transitions {
			if err := tx.Create(&mut.Transitions[i]).Error; err != nil {
				return fmt.Errorf("record transition: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return s.wrapErr("save schedule", err)
	}
	sched.Version = expected + 1
	return nil
}

// TransitionScheduleCAS moves a schedule from one state to another only if
// it is still in the from state, writing the transition record in the same
// transaction. Returns false without error when another writer got there
// first; callers racing on automatic transitions treat that as success.
func (s *ScheduleStore) TransitionScheduleCAS(ctx context.Context, scheduleID string, from, to ScheduleState, rec *StateTransitionRecord) (bool, error) {
	won := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ProductionSchedule{}).
			Where("id = ? AND state = ?", scheduleID, from).
			Updates(map[string]any{
				"state":   to,
				"version": gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return fmt.Errorf("transition schedule: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		won = true
		if rec != nil {
			if err := tx.Create(rec).Error; err != nil {
				return fmt.Errorf("record transition: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, s.wrapErr("transition schedule", err)
	}
	return won, nil
}

// UpdateEntryStateCAS moves an entry from one state to another only if it is
// still in the from state, writing the transition record atomically. When the
// entry already reached the to state the call is a no-op: a concurrent worker
// applied the same transition and owns the record.
func (s *ScheduleStore) UpdateEntryStateCAS(ctx context.Context, entryID string, from, to EntryState, rec *StateTransitionRecord) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ScheduleEntry{}).
			Where("id = ? AND state = ?", entryID, from).
			Update("state", to)
		if result.Error != nil {
			return fmt.Errorf("update entry state: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			var cur ScheduleEntry
			if err := tx.First(&cur, "id = ?", entryID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("entry %s: %w", entryID, ErrNotFound)
				}
				return fmt.Errorf("check entry: %w", err)
			}
			if cur.State == to {
				return nil
			}
			return &TransitionError{
				Code:       CodeTransitionInvalid,
				EntityType: EntityTypeEntry,
				From:       string(cur.State),
				To:         string(to),
				Message:    fmt.Sprintf("entry %s is %s, expected %s", entryID, cur.State, from),
			}
		}
		if rec != nil {
			if err := tx.Create(rec).Error; err != nil {
				return fmt.Errorf("record transition: %w", err)
			}
		}
		return nil
	})
	return s.wrapErr("update entry state", err)
}

// ApplyConstraintChanges writes one feasibility refresh in a single
// transaction. creates are rows for constraint keys not on file yet,
// guarded by the (entry, type, target) unique key so concurrent refreshes
// of the same schedule cannot duplicate a key; updates rewrite the
// evaluation and resolution fields of existing rows by id. Rows are never
// deleted here: a cleared violation arrives as an update marking the row
// resolved.
func (s *ScheduleStore) ApplyConstraintChanges(ctx context.Context, creates, updates []ConstraintRecord, transitions []StateTransitionRecord) error {
	if len(creates) == 0 && len(updates) == 0 && len(transitions) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range creates {
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "entry_id"}, {Name: "type"}, {Name: "target_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"severity", "message", "required_quantity", "available_quantity",
					"window_start", "window_end", "updated_at",
				}),
			}).Create(&creates[i]).Error
			if err != nil {
				return fmt.Errorf("create constraint: %w", err)
			}
		}
		for i := range updates {
			u := &updates[i]
			err := tx.Model(&ConstraintRecord{}).Where("id = ?", u.ID).Updates(map[string]any{
				"severity":           u.Severity,
				"message":            u.Message,
				"required_quantity":  u.RequiredQuantity,
				"available_quantity": u.AvailableQuantity,
				"window_start":       u.WindowStart,
				"window_end":         u.WindowEnd,
				"resolved":           u.Resolved,
				"overridden":         u.Overridden,
				"resolved_by":        u.ResolvedBy,
				"resolution_reason":  u.ResolutionReason,
			}).Error
			if err != nil {
				return fmt.Errorf("update constraint: %w", err)
			}
		}
		for i := range transitions {
			if err := tx.Create(&transitions[i]).Error; err != nil {
				return fmt.Errorf("record transition: %w", err)
			}
		}
		return nil
	})
	return s.wrapErr("apply constraint changes", err)
}

// ResolveConstraint marks an open constraint resolved, optionally as an
// override, writing the transition record atomically. Resolving an already
// resolved constraint is rejected.
func (s *ScheduleStore) ResolveConstraint(ctx context.Context, constraintID string, overridden bool, actorID, reason string, rec *StateTransitionRecord) (*ConstraintRecord, error) {
	var out ConstraintRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ConstraintRecord{}).
			Where("id = ? AND resolved = ?", constraintID, false).
			Updates(map[string]any{
				"resolved":          true,
				"overridden":        overridden,
				"resolved_by":       actorID,
				"resolution_reason": reason,
			})
		if result.Error != nil {
			return fmt.Errorf("resolve constraint: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			var cur ConstraintRecord
			if err := tx.First(&cur, "id = ?", constraintID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("constraint %s: %w", constraintID, ErrNotFound)
				}
				return fmt.Errorf("check constraint: %w", err)
			}
			return &ValidationError{Field: "constraint", Message: fmt.Sprintf("constraint %s is already resolved", constraintID)}
		}
		if rec != nil {
			if err := tx.Create(rec).Error; err != nil {
				return fmt.Errorf("record transition: %w", err)
			}
		}
		return tx.First(&out, "id = ?", constraintID).Error
	})
	if err != nil {
		return nil, s.wrapErr("resolve constraint", err)
	}
	return &out, nil
}

// ListSchedules returns paginated schedules, newest first, optionally
// filtered by site and state.
func (s *ScheduleStore) ListSchedules(ctx context.Context, siteID string, state ScheduleState, pageSize int, pageToken string) ([]ProductionSchedule, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&ProductionSchedule{})
		if siteID != "" {
			q = q.Where("site_id = ?", siteID)
		}
		if state != "" {
			q = q.Where("state = ?", state)
		}
		return q
	}

	db := s.db.WithContext(ctx)

	var totalSize int64
	if err := buildQuery(db).Count(&totalSize).Error; err != nil {
		return nil, "", 0, s.wrapErr("count schedules", err)
	}

	query := buildQuery(db).Order("created_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, &ValidationError{Field: "pageToken", Message: "invalid page token"}
		}
		query = query.Where("created_at < ?", t)
	}

	var records []ProductionSchedule
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, s.wrapErr("list schedules", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// QueryEntries returns a schedule's entries in sequence order, filtered by
// the given filter. A nil filter matches everything. The schedule must
// exist; querying an unknown schedule returns ErrNotFound rather than an
// empty list.
func (s *ScheduleStore) QueryEntries(ctx context.Context, scheduleID string, filter *EntryFilter) ([]ScheduleEntry, error) {
	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&ProductionSchedule{}).Where("id = ?", scheduleID).Count(&count).Error; err != nil {
		return nil, s.wrapErr("query entries", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, ErrNotFound)
	}

	var entries []ScheduleEntry
	err := db.
		Where("schedule_id = ?", scheduleID).
		Order("sequence_position ASC, created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, s.wrapErr("query entries", err)
	}
	if filter == nil {
		return entries, nil
	}
	matched := make([]ScheduleEntry, 0, len(entries))
	for i := range entries {
		if filter.Matches(&entries[i]) {
			matched = append(matched, entries[i])
		}
	}
	return matched, nil
}

// ListConstraints returns a schedule's constraint records, oldest first.
func (s *ScheduleStore) ListConstraints(ctx context.Context, scheduleID string, unresolvedOnly bool) ([]ConstraintRecord, error) {
	q := s.db.WithContext(ctx).Where("schedule_id = ?", scheduleID)
	if unresolvedOnly {
		q = q.Where("resolved = ?", false)
	}
	var records []ConstraintRecord
	if err := q.Order("created_at ASC, id ASC").Find(&records).Error; err != nil {
		return nil, s.wrapErr("list constraints", err)
	}
	return records, nil
}

// ListEntryConstraints returns one entry's constraint records, oldest first.
func (s *ScheduleStore) ListEntryConstraints(ctx context.Context, entryID string, unresolvedOnly bool) ([]ConstraintRecord, error) {
	q := s.db.WithContext(ctx).Where("entry_id = ?", entryID)
	if unresolvedOnly {
		q = q.Where("resolved = ?", false)
	}
	var records []ConstraintRecord
	if err := q.Order("created_at ASC, id ASC").Find(&records).Error; err != nil {
		return nil, s.wrapErr("list entry constraints", err)
	}
	return records, nil
}

// GetConstraint retrieves a constraint record by id.
func (s *ScheduleStore) GetConstraint(ctx context.Context, id string) (*ConstraintRecord, error) {
	var rec ConstraintRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("constraint %s: %w", id, ErrNotFound)
		}
		return nil, s.wrapErr("get constraint", err)
	}
	return &rec, nil
}

// CountUnresolvedCritical counts the schedule's open CRITICAL constraints.
// The release gate requires this to be zero.
func (s *ScheduleStore) CountUnresolvedCritical(ctx context.Context, scheduleID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ConstraintRecord{}).
		Where("schedule_id = ? AND resolved = ? AND severity = ?", scheduleID, false, SeverityCritical).
		Count(&count).Error
	if err != nil {
		return 0, s.wrapErr("count unresolved critical", err)
	}
	return count, nil
}

// wrapErr passes domain errors through untouched and wraps everything else,
// mapping context deadline expiry to a persistence timeout.
func (s *ScheduleStore) wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsConflict(err) || IsValidation(err) || AsTransition(err) != nil {
		return err
	}
	return WrapTimeout(TimeoutPersistence, op, err)
}
