package repository

import (
	"context"
	"errors"
	"time"

	"github.com/oggyb/muzz-commitments/internal/db"
	svcErr "github.com/oggyb/muzz-commitments/internal/errors"

	"gorm.io/gorm"
)

// DatePlanRepository provides data access for date plans and the
// append-only MatchDateEvent audit trail.
type DatePlanRepository struct {
	db *gorm.DB
}

// NewDatePlanRepository creates a new repository bound to the given DB connection.
func NewDatePlanRepository(database *gorm.DB) *DatePlanRepository {
	return &DatePlanRepository{db: database}
}

// Get loads the plan for a match. A match with no plan yet returns
// (nil, nil); callers render that as status "none".
func (r *DatePlanRepository) Get(ctx context.Context, matchID uint64) (*db.DatePlan, error) {
	var plan db.DatePlan
	err := r.db.WithContext(ctx).First(&plan, "match_id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// Propose upserts the plan for a new or edited proposal.
//
// Behavior:
//   - No row, or prior status none/unlocked/expired: a fresh cycle
//     starts — status becomes proposed, cycle increments, proposer is
//     recorded.
//   - Prior status proposed/locked: the window and labels are
//     overwritten but status, cycle and proposer are preserved (the
//     pair is editing the same date cycle).
func (r *DatePlanRepository) Propose(
	ctx context.Context,
	matchID, proposerID uint64,
	dateStart, dateEnd time.Time,
	activityLabel, placeLabel, placeID string,
) (*db.DatePlan, error) {
	var out db.DatePlan
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plan db.DatePlan
		err := tx.First(&plan, "match_id = ?", matchID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			plan = db.DatePlan{
				MatchID:          matchID,
				DateStatus:       db.DateStatusProposed,
				Cycle:            1,
				DateStart:        &dateStart,
				DateEnd:          &dateEnd,
				ProposedByUserID: &proposerID,
				ActivityLabel:    activityLabel,
				PlaceLabel:       placeLabel,
				PlaceID:          placeID,
			}
			if err := tx.Create(&plan).Error; err != nil {
				return err
			}
			out = plan
			return nil
		case err != nil:
			return err
		}

		updates := map[string]any{
			"date_start":     dateStart,
			"date_end":       dateEnd,
			"activity_label": activityLabel,
			"place_label":    placeLabel,
			"place_id":       placeID,
		}
		switch plan.DateStatus {
		case db.DateStatusNone, db.DateStatusUnlocked, db.DateStatusExpired:
			updates["date_status"] = db.DateStatusProposed
			updates["cycle"] = plan.Cycle + 1
			updates["proposed_by_user_id"] = proposerID
		}

		if err := tx.Model(&db.DatePlan{}).Where("match_id = ?", matchID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&out, "match_id = ?", matchID).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Accept locks a proposed plan. Conditional on the current status so
// that of two concurrent responders the first write wins; the loser
// gets RACE_LOST.
func (r *DatePlanRepository) Accept(ctx context.Context, matchID uint64, cycle int) error {
	res := r.db.WithContext(ctx).Model(&db.DatePlan{}).
		Where("match_id = ? AND date_status = ? AND cycle = ?", matchID, db.DateStatusProposed, cycle).
		UpdateColumn("date_status", db.DateStatusLocked)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return svcErr.E(svcErr.ErrRaceLost, "date is no longer proposed")
	}
	return nil
}

// Decline resets a proposed plan to none and records DATE_DECLINED,
// leaving the pair free to propose again. Same first-write-wins guard
// as Accept.
func (r *DatePlanRepository) Decline(ctx context.Context, matchID, actorID uint64, cycle int, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.DatePlan{}).
			Where("match_id = ? AND date_status = ? AND cycle = ?", matchID, db.DateStatusProposed, cycle).
			UpdateColumn("date_status", db.DateStatusNone)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return svcErr.E(svcErr.ErrRaceLost, "date is no longer proposed")
		}
		return r.AppendEventTx(tx, &db.MatchDateEvent{
			MatchID:     matchID,
			ActorUserID: &actorID,
			EventType:   db.EventDateDeclined,
			Cycle:       cycle,
			OccurredAt:  now,
		})
	})
}

// MarkExpired lazily flips a locked plan whose window has passed,
// emitting DATE_EXPIRED exactly once per cycle.
//
// Behavior:
//   - Conditional update on (status=locked, cycle), so concurrent
//     readers observing the same expiry race harmlessly — one flips the
//     row, the rest affect zero rows.
//   - The event insert is guarded by a per-cycle existence check inside
//     the same transaction.
func (r *DatePlanRepository) MarkExpired(ctx context.Context, matchID uint64, cycle int, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.DatePlan{}).
			Where("match_id = ? AND date_status = ? AND cycle = ?", matchID, db.DateStatusLocked, cycle).
			UpdateColumn("date_status", db.DateStatusExpired)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // another reader expired it first
		}

		exists, err := hasEvent(tx, matchID, db.EventDateExpired, cycle)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		return r.AppendEventTx(tx, &db.MatchDateEvent{
			MatchID:    matchID,
			EventType:  db.EventDateExpired,
			Cycle:      cycle,
			OccurredAt: now,
		})
	})
}

// UnlockTx marks the date cycle successfully concluded (handshake
// redeemed) inside a caller-owned transaction.
func (r *DatePlanRepository) UnlockTx(tx *gorm.DB, matchID uint64) error {
	return tx.Model(&db.DatePlan{}).
		Where("match_id = ? AND date_status = ?", matchID, db.DateStatusLocked).
		UpdateColumn("date_status", db.DateStatusUnlocked).Error
}

// ForceUnlock seeds a plan directly into unlocked with the given
// (typically backdated) window. Admin/test path; still records
// DATE_COMPLETED for insight consumers.
func (r *DatePlanRepository) ForceUnlock(
	ctx context.Context,
	matchID uint64,
	actorID *uint64,
	dateStart, dateEnd time.Time,
	activityLabel, placeLabel, placeID string,
	now time.Time,
) (*db.DatePlan, error) {
	var out db.DatePlan
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plan db.DatePlan
		err := tx.First(&plan, "match_id = ?", matchID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			plan = db.DatePlan{MatchID: matchID}
			if err := tx.Create(&plan).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		}

		cycle := plan.Cycle + 1
		updates := map[string]any{
			"date_status":    db.DateStatusUnlocked,
			"cycle":          cycle,
			"date_start":     dateStart,
			"date_end":       dateEnd,
			"activity_label": activityLabel,
			"place_label":    placeLabel,
			"place_id":       placeID,
		}
		if actorID != nil {
			updates["proposed_by_user_id"] = *actorID
		}
		if err := tx.Model(&db.DatePlan{}).Where("match_id = ?", matchID).Updates(updates).Error; err != nil {
			return err
		}

		if err := r.AppendEventTx(tx, &db.MatchDateEvent{
			MatchID:     matchID,
			ActorUserID: actorID,
			EventType:   db.EventDateCompleted,
			Cycle:       cycle,
			OccurredAt:  now,
		}); err != nil {
			return err
		}
		return tx.First(&out, "match_id = ?", matchID).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetTx returns the plan to its null equivalent (unmatch cascade).
func (r *DatePlanRepository) ResetTx(tx *gorm.DB, matchID uint64) error {
	return tx.Model(&db.DatePlan{}).
		Where("match_id = ?", matchID).
		Updates(map[string]any{
			"date_status":         db.DateStatusNone,
			"date_start":          nil,
			"date_end":            nil,
			"proposed_by_user_id": nil,
			"activity_label":      "",
			"place_label":         "",
			"place_id":            "",
		}).Error
}

// AppendEventTx appends to the audit trail inside a caller transaction.
func (r *DatePlanRepository) AppendEventTx(tx *gorm.DB, event *db.MatchDateEvent) error {
	return tx.Create(event).Error
}

// AppendEvent appends to the audit trail.
func (r *DatePlanRepository) AppendEvent(ctx context.Context, event *db.MatchDateEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// HasEvent reports whether an event of this type was already recorded
// for the plan cycle; the exactly-once guard for lazy emissions.
func (r *DatePlanRepository) HasEvent(ctx context.Context, matchID uint64, eventType string, cycle int) (bool, error) {
	return hasEvent(r.db.WithContext(ctx), matchID, eventType, cycle)
}

func hasEvent(tx *gorm.DB, matchID uint64, eventType string, cycle int) (bool, error) {
	var count int64
	err := tx.Model(&db.MatchDateEvent{}).
		Where("match_id = ? AND event_type = ? AND cycle = ?", matchID, eventType, cycle).
		Count(&count).Error
	return count > 0, err
}

// ListEvents returns the audit trail for a match, oldest first.
func (r *DatePlanRepository) ListEvents(ctx context.Context, matchID uint64) ([]db.MatchDateEvent, error) {
	var events []db.MatchDateEvent
	err := r.db.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("id ASC").
		Find(&events).Error
	return events, err
}
