package repository

import (
	"context"
	"errors"
	"time"

	"github.com/oggyb/muzz-commitments/internal/db"
	svcErr "github.com/oggyb/muzz-commitments/internal/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PerkRepository provides data access for drink perks, handshake
// sessions, redemption credits and latest user locations.
type PerkRepository struct {
	db *gorm.DB
}

// NewPerkRepository creates a new repository bound to the given DB connection.
func NewPerkRepository(database *gorm.DB) *PerkRepository {
	return &PerkRepository{db: database}
}

// EnsurePerk returns the perk row for a match, creating it LOCKED on
// first reference.
func (r *PerkRepository) EnsurePerk(ctx context.Context, matchID uint64) (*db.DrinkPerk, error) {
	perk := db.DrinkPerk{MatchID: matchID, State: db.PerkLocked}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&perk).Error
	if err != nil {
		return nil, err
	}
	var out db.DrinkPerk
	if err := r.db.WithContext(ctx).First(&out, "match_id = ?", matchID).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPerk loads the perk row; (nil, nil) when none exists yet.
func (r *PerkRepository) GetPerk(ctx context.Context, matchID uint64) (*db.DrinkPerk, error) {
	var perk db.DrinkPerk
	err := r.db.WithContext(ctx).First(&perk, "match_id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &perk, nil
}

// Arm moves a LOCKED perk to ARMED once a date plan exists. Conditional
// so repeated arming is a no-op.
func (r *PerkRepository) Arm(ctx context.Context, matchID uint64) error {
	return r.db.WithContext(ctx).Model(&db.DrinkPerk{}).
		Where("match_id = ? AND state = ?", matchID, db.PerkLocked).
		UpdateColumn("state", db.PerkArmed).Error
}

// Disarm drops an ARMED/READY perk back to LOCKED when the plan it was
// armed for goes away (decline). A redeemed perk stays redeemed.
func (r *PerkRepository) Disarm(ctx context.Context, matchID uint64) error {
	return r.db.WithContext(ctx).Model(&db.DrinkPerk{}).
		Where("match_id = ? AND state IN (?, ?)", matchID, db.PerkArmed, db.PerkReady).
		Updates(map[string]any{
			"state":          db.PerkLocked,
			"together_since": nil,
			"ready_at":       nil,
		}).Error
}

// SetTogetherSince records (or clears, with nil) the start of the
// current continuous-proximity streak.
func (r *PerkRepository) SetTogetherSince(ctx context.Context, matchID uint64, since *time.Time) error {
	return r.db.WithContext(ctx).Model(&db.DrinkPerk{}).
		Where("match_id = ?", matchID).
		UpdateColumn("together_since", since).Error
}

// MarkReady flips ARMED to READY once the streak duration is satisfied.
func (r *PerkRepository) MarkReady(ctx context.Context, matchID uint64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&db.DrinkPerk{}).
		Where("match_id = ? AND state = ?", matchID, db.PerkArmed).
		Updates(map[string]any{
			"state":    db.PerkReady,
			"ready_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

// RedeemTx flips READY to REDEEMED inside the handshake-completion
// transaction.
func (r *PerkRepository) RedeemTx(tx *gorm.DB, matchID uint64, now time.Time) error {
	res := tx.Model(&db.DrinkPerk{}).
		Where("match_id = ? AND state = ?", matchID, db.PerkReady).
		Updates(map[string]any{
			"state":       db.PerkRedeemed,
			"redeemed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return svcErr.E(svcErr.ErrInvalidTransition, "perk is not ready")
	}
	return nil
}

// ResetPerkTx rewrites the perk to toState with all streak and
// redemption markers cleared (unmatch cascade, admin reset).
func (r *PerkRepository) ResetPerkTx(tx *gorm.DB, matchID uint64, toState string) error {
	perk := db.DrinkPerk{MatchID: matchID, State: toState}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&perk).Error; err != nil {
		return err
	}
	return tx.Model(&db.DrinkPerk{}).
		Where("match_id = ?", matchID).
		Updates(map[string]any{
			"state":          toState,
			"together_since": nil,
			"ready_at":       nil,
			"redeemed_at":    nil,
		}).Error
}

// UpsertLocation overwrites the user's latest ping; never historized.
func (r *PerkRepository) UpsertLocation(ctx context.Context, userID uint64, lat, lng, accuracyM float64, capturedAt time.Time) error {
	loc := db.UserLocationLatest{
		UserID:     userID,
		Lat:        lat,
		Lng:        lng,
		AccuracyM:  accuracyM,
		CapturedAt: capturedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"lat", "lng", "accuracy_m", "captured_at"}),
		}).
		Create(&loc).Error
}

// GetLocation returns the latest ping for a user; (nil, nil) if never
// reported.
func (r *PerkRepository) GetLocation(ctx context.Context, userID uint64) (*db.UserLocationLatest, error) {
	var loc db.UserLocationLatest
	err := r.db.WithContext(ctx).First(&loc, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

// OpenSession returns the open (not completed, not expired) handshake
// session for a match, or (nil, nil). Openness is enforced by this
// filter rather than a uniqueness constraint, so writers re-check
// inside their transaction.
func (r *PerkRepository) OpenSession(ctx context.Context, matchID uint64, now time.Time) (*db.HandshakeSession, error) {
	return openSession(r.db.WithContext(ctx), matchID, now)
}

func openSession(tx *gorm.DB, matchID uint64, now time.Time) (*db.HandshakeSession, error) {
	var s db.HandshakeSession
	err := tx.
		Where("match_id = ? AND completed_at IS NULL AND expires_at > ?", matchID, now).
		Order("id DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSession opens a handshake session for the initiator.
//
// Behavior:
//   - Re-checks for an open session inside the transaction (the open
//     query above is not a uniqueness constraint) and rejects with
//     INVALID_STATE_TRANSITION if one exists.
//   - The initiator's confirmation is implicit in starting.
func (r *PerkRepository) CreateSession(
	ctx context.Context,
	matchID, initiatorID uint64,
	code string,
	now time.Time,
	ttl time.Duration,
) (*db.HandshakeSession, error) {
	var out db.HandshakeSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		open, err := openSession(tx, matchID, now)
		if err != nil {
			return err
		}
		if open != nil {
			return svcErr.E(svcErr.ErrInvalidTransition, "a handshake is already open for this match")
		}

		out = db.HandshakeSession{
			MatchID:              matchID,
			InitiatorUserID:      initiatorID,
			InitiatorConfirmedAt: now,
			Code:                 code,
			ExpiresAt:            now.Add(ttl),
		}
		return tx.Create(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteSessionTx marks the session completed via a conditional
// update on `completed_at IS NULL`, so of two racing confirmations
// exactly one wins; the loser gets RACE_LOST.
func (r *PerkRepository) CompleteSessionTx(tx *gorm.DB, sessionID, responderID uint64, now time.Time) error {
	res := tx.Model(&db.HandshakeSession{}).
		Where("id = ? AND completed_at IS NULL AND expires_at > ?", sessionID, now).
		Updates(map[string]any{
			"responder_user_id":      responderID,
			"responder_confirmed_at": now,
			"completed_at":           now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return svcErr.E(svcErr.ErrRaceLost, "session already completed")
	}
	return nil
}

// DeleteOpenSessionsTx clears any not-yet-completed sessions for a
// match (unmatch cascade, admin reset). Completed sessions stay for
// audit.
func (r *PerkRepository) DeleteOpenSessionsTx(tx *gorm.DB, matchID uint64) error {
	return tx.
		Where("match_id = ? AND completed_at IS NULL", matchID).
		Delete(&db.HandshakeSession{}).Error
}

// CreateCreditTx mints the redemption token inside the handshake
// completion transaction.
func (r *PerkRepository) CreateCreditTx(tx *gorm.DB, credit *db.Credit) error {
	return tx.Create(credit).Error
}

// GetCredit returns the most recent credit for a match; (nil, nil) if
// none was issued.
func (r *PerkRepository) GetCredit(ctx context.Context, matchID uint64) (*db.Credit, error) {
	var c db.Credit
	err := r.db.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("id DESC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteCreditsTx revokes issued credits for a match (unmatch cascade,
// admin reset / dispute resolution).
func (r *PerkRepository) DeleteCreditsTx(tx *gorm.DB, matchID uint64) error {
	return tx.Where("match_id = ?", matchID).Delete(&db.Credit{}).Error
}
