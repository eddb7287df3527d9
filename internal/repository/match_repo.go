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

// MatchRepository provides data access for users, matches and their
// conversation (commitment gate) state.
type MatchRepository struct {
	db *gorm.DB
}

// NewMatchRepository creates a new repository bound to the given DB connection.
func NewMatchRepository(database *gorm.DB) *MatchRepository {
	return &MatchRepository{db: database}
}

// GetUser looks up a user by id.
func (r *MatchRepository) GetUser(ctx context.Context, userID uint64) (*db.User, error) {
	var u db.User
	err := r.db.WithContext(ctx).First(&u, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, svcErr.Ef(svcErr.ErrNotFound, "user %d", userID)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// RequireApproved loads a user and rejects callers the admission
// collaborator has not approved. Every mutating operation in this core
// goes through this gate.
func (r *MatchRepository) RequireApproved(ctx context.Context, userID uint64) (*db.User, error) {
	u, err := r.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.Approved {
		return nil, svcErr.Ef(svcErr.ErrForbidden, "user %d is not approved", userID)
	}
	return u, nil
}

// CreateMatch inserts the canonical pair row plus its pre-chat
// conversation row. Idempotent: re-reporting an existing pair returns
// the stored match with created=false.
func (r *MatchRepository) CreateMatch(ctx context.Context, userA, userB uint64) (*db.Match, bool, error) {
	a, b := db.CanonicalPair(userA, userB)

	var match db.Match
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := db.Match{UserAID: a, UserBID: b}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0
		if !created {
			if err := tx.First(&m, "user_a_id = ? AND user_b_id = ?", a, b).Error; err != nil {
				return err
			}
		}

		conv := db.Conversation{MatchID: m.ID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&conv).Error; err != nil {
			return err
		}

		match = m
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &match, created, nil
}

// GetMatch looks up a match by id.
func (r *MatchRepository) GetMatch(ctx context.Context, matchID uint64) (*db.Match, error) {
	var m db.Match
	err := r.db.WithContext(ctx).First(&m, "id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, svcErr.Ef(svcErr.ErrNotFound, "match %d", matchID)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetConversation loads the commitment-gate row for a match.
func (r *MatchRepository) GetConversation(ctx context.Context, matchID uint64) (*db.Conversation, error) {
	var c db.Conversation
	err := r.db.WithContext(ctx).First(&c, "match_id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, svcErr.Ef(svcErr.ErrNotFound, "conversation for match %d", matchID)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListMatchesForUser returns every match the user participates in.
func (r *MatchRepository) ListMatchesForUser(ctx context.Context, userID uint64) ([]db.Match, error) {
	var matches []db.Match
	err := r.db.WithContext(ctx).
		Where("user_a_id = ? OR user_b_id = ?", userID, userID).
		Find(&matches).Error
	return matches, err
}

// ArmDecisionWindow records the pre-chat sender role and starts the
// receiver's decision window.
//
// Behavior:
//   - Conditional on the conversation still being pre-chat with no
//     sender recorded, so only the first open arms the window.
//   - Returns armed=false when another open (or a commit/terminal
//     write) got there first; that is a no-op for the caller.
func (r *MatchRepository) ArmDecisionWindow(ctx context.Context, matchID, senderID uint64, expiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&db.Conversation{}).
		Where("match_id = ? AND sender_user_id IS NULL AND active_at IS NULL AND terminal_state IS NULL", matchID).
		Updates(map[string]any{
			"sender_user_id":      senderID,
			"decision_expires_at": expiresAt,
		})
	return res.RowsAffected > 0, res.Error
}

// ActivateTx flips the conversation to active inside a caller-owned
// transaction (atomic with the commitment spend). Conditional on the
// row being neither active nor terminal; zero rows affected means a
// concurrent commit or terminal write won.
func (r *MatchRepository) ActivateTx(tx *gorm.DB, matchID uint64, now time.Time, depositCents int64) (bool, error) {
	res := tx.Model(&db.Conversation{}).
		Where("match_id = ? AND active_at IS NULL AND terminal_state IS NULL", matchID).
		Updates(map[string]any{
			"active_at":           now,
			"decision_expires_at": nil,
			"deposit_cents":       gorm.Expr("deposit_cents + ?", depositCents),
		})
	return res.RowsAffected > 0, res.Error
}

// TerminateTx moves the conversation to a terminal state, clearing
// active_at so the active/terminal invariant holds. Idempotent:
// already-terminal rows are left untouched (terminated=false).
func (r *MatchRepository) TerminateTx(tx *gorm.DB, matchID uint64, state, reason string) (bool, error) {
	res := tx.Model(&db.Conversation{}).
		Where("match_id = ? AND terminal_state IS NULL", matchID).
		Updates(map[string]any{
			"terminal_state":      state,
			"terminal_reason":     reason,
			"active_at":           nil,
			"decision_expires_at": nil,
		})
	return res.RowsAffected > 0, res.Error
}

// Terminate is TerminateTx in its own transaction.
func (r *MatchRepository) Terminate(ctx context.Context, matchID uint64, state, reason string) (bool, error) {
	var terminated bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		terminated, txErr = r.TerminateTx(tx, matchID, state, reason)
		return txErr
	})
	return terminated, err
}

// MarkSeen stamps the caller's side of the match.
func (r *MatchRepository) MarkSeen(ctx context.Context, match *db.Match, userID uint64, at time.Time) error {
	col := "seen_at_a"
	if match.UserBID == userID {
		col = "seen_at_b"
	}
	return r.db.WithContext(ctx).Model(&db.Match{}).
		Where("id = ?", match.ID).
		UpdateColumn(col, at).Error
}
