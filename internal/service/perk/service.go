package perk

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oggyb/muzz-commitments/internal/app"
	"github.com/oggyb/muzz-commitments/internal/db"
	svcErr "github.com/oggyb/muzz-commitments/internal/errors"
	"github.com/oggyb/muzz-commitments/internal/notify"
	"github.com/oggyb/muzz-commitments/internal/repository"
)

// SessionView is the caller-facing handshake session. Code is only
// populated for the initiator.
type SessionView struct {
	SessionID       uint64     `json:"session_id"`
	InitiatorUserID uint64     `json:"initiator_user_id"`
	Code            string     `json:"code,omitempty"`
	ExpiresAt       time.Time  `json:"expires_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// CreditView is the redemption token issued on handshake completion.
type CreditView struct {
	Token      string    `json:"token"`
	UnlockedAt time.Time `json:"unlocked_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// View is the perk state for one match as seen by a participant.
type View struct {
	MatchID       uint64       `json:"match_id"`
	State         string       `json:"state"`
	TogetherSince *time.Time   `json:"together_since,omitempty"`
	ReadyAt       *time.Time   `json:"ready_at,omitempty"`
	RedeemedAt    *time.Time   `json:"redeemed_at,omitempty"`
	Session       *SessionView `json:"session,omitempty"`
	Credit        *CreditView  `json:"credit,omitempty"`
}

// Service implements the proximity-gated drink perk and the two-party
// handshake protocol. It consumes location pings, maintains the
// continuous-proximity streak, and on a completed handshake mints the
// redemption credit and the reward ledger entries in one transaction.
type Service struct {
	appCtx  *app.AppContext
	matches *repository.MatchRepository
	plans   *repository.DatePlanRepository
	perks   *repository.PerkRepository
	ledger  *repository.LedgerRepository

	now func() time.Time
}

// NewService creates the perk service with dependencies from AppContext.
func NewService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:  appCtx,
		matches: repository.NewMatchRepository(appCtx.DB),
		plans:   repository.NewDatePlanRepository(appCtx.DB),
		perks:   repository.NewPerkRepository(appCtx.DB),
		ledger:  repository.NewLedgerRepository(appCtx.DB),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock; tests only.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// DeriveState computes the effective perk state against the current
// plan: an armed/ready perk whose plan fell back to none/expired reads
// as LOCKED. Redemption is final.
func DeriveState(perk *db.DrinkPerk, plan *db.DatePlan) string {
	if perk == nil {
		return db.PerkLocked
	}
	if perk.State == db.PerkRedeemed {
		return db.PerkRedeemed
	}
	if plan == nil || plan.DateStatus == db.DateStatusNone || plan.DateStatus == db.DateStatusExpired {
		return db.PerkLocked
	}
	return perk.State
}

// PingLocation overwrites the user's latest location and re-evaluates
// the proximity streak for every match the user participates in.
func (s *Service) PingLocation(ctx context.Context, userID uint64, lat, lng, accuracyM float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return svcErr.E(svcErr.ErrInvalidArgument, "coordinates out of range")
	}
	if _, err := s.matches.RequireApproved(ctx, userID); err != nil {
		return err
	}

	now := s.now()
	if err := s.perks.UpsertLocation(ctx, userID, lat, lng, accuracyM, now); err != nil {
		return err
	}

	matches, err := s.matches.ListMatchesForUser(ctx, userID)
	if err != nil {
		return err
	}
	for i := range matches {
		if err := s.evaluateProximity(ctx, &matches[i], now); err != nil {
			return err
		}
	}
	return nil
}

// evaluateProximity advances or resets the co-location streak for one
// match.
//
// Behavior:
//   - Only an ARMED perk with a locked plan inside its date window is
//     evaluated; outside those conditions any running streak resets.
//   - Both latest pings must be fresh and within the radius; a single
//     out-of-range or stale ping resets togetherSince to null.
//   - Once the streak duration is satisfied the perk flips to READY.
func (s *Service) evaluateProximity(ctx context.Context, match *db.Match, now time.Time) error {
	perk, err := s.perks.GetPerk(ctx, match.ID)
	if err != nil {
		return err
	}
	if perk == nil || perk.State != db.PerkArmed {
		return nil
	}

	plan, err := s.plans.Get(ctx, match.ID)
	if err != nil {
		return err
	}
	inWindow := plan != nil &&
		plan.DateStatus == db.DateStatusLocked &&
		plan.DateStart != nil && plan.DateEnd != nil &&
		!now.Before(*plan.DateStart) && !now.After(*plan.DateEnd)
	if !inWindow {
		if perk.TogetherSince != nil {
			return s.perks.SetTogetherSince(ctx, match.ID, nil)
		}
		return nil
	}

	locA, err := s.perks.GetLocation(ctx, match.UserAID)
	if err != nil {
		return err
	}
	locB, err := s.perks.GetLocation(ctx, match.UserBID)
	if err != nil {
		return err
	}

	together := locA != nil && locB != nil &&
		now.Sub(locA.CapturedAt) <= s.appCtx.Config.Perk.LocationMaxAge &&
		now.Sub(locB.CapturedAt) <= s.appCtx.Config.Perk.LocationMaxAge &&
		distanceM(locA.Lat, locA.Lng, locB.Lat, locB.Lng) <= s.appCtx.Config.Perk.RadiusM

	if !together {
		if perk.TogetherSince != nil {
			return s.perks.SetTogetherSince(ctx, match.ID, nil)
		}
		return nil
	}

	if perk.TogetherSince == nil {
		return s.perks.SetTogetherSince(ctx, match.ID, &now)
	}

	if now.Sub(*perk.TogetherSince) >= s.appCtx.Config.Perk.Streak {
		ready, err := s.perks.MarkReady(ctx, match.ID, now)
		if err != nil {
			return err
		}
		if ready {
			s.appCtx.Notifier.Notify(ctx, notify.Trigger{
				Name:    notify.TriggerPerkReady,
				MatchID: match.ID,
			})
			s.appCtx.Logger.Info("drink perk ready", "match_id", match.ID)
		}
	}
	return nil
}

// Get returns the perk view for a participant, including any open
// handshake session (code visible to the initiator only) and, once
// redeemed, the credit token.
func (s *Service) Get(ctx context.Context, matchID, userID uint64) (*View, error) {
	match, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !match.HasParticipant(userID) {
		return nil, svcErr.E(svcErr.ErrForbidden, "not a participant of this match")
	}

	perk, err := s.perks.GetPerk(ctx, matchID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}

	view := &View{
		MatchID: matchID,
		State:   DeriveState(perk, plan),
	}
	if perk != nil {
		view.TogetherSince = perk.TogetherSince
		view.ReadyAt = perk.ReadyAt
		view.RedeemedAt = perk.RedeemedAt
	}

	now := s.now()
	if session, err := s.perks.OpenSession(ctx, matchID, now); err != nil {
		return nil, err
	} else if session != nil {
		view.Session = sessionView(session, userID)
	}

	if view.State == db.PerkRedeemed {
		credit, err := s.perks.GetCredit(ctx, matchID)
		if err != nil {
			return nil, err
		}
		if credit != nil {
			view.Credit = &CreditView{
				Token:      credit.Token,
				UnlockedAt: credit.UnlockedAt,
				ExpiresAt:  credit.ExpiresAt,
			}
		}
	}
	return view, nil
}

// StartHandshake opens a short-lived session from a READY perk. The
// initiator's confirmation is implicit; the pairing code is returned to
// them to share in person.
func (s *Service) StartHandshake(ctx context.Context, matchID, userID uint64) (*SessionView, error) {
	if _, err := s.guardParticipant(ctx, matchID, userID); err != nil {
		return nil, err
	}

	perk, err := s.perks.GetPerk(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if perk == nil || perk.State != db.PerkReady {
		return nil, svcErr.E(svcErr.ErrInvalidTransition, "perk is not ready")
	}

	code, err := newHandshakeCode()
	if err != nil {
		return nil, err
	}
	session, err := s.perks.CreateSession(ctx, matchID, userID, code, s.now(), s.appCtx.Config.Perk.HandshakeTTL)
	if err != nil {
		return nil, err
	}

	s.appCtx.Logger.Info("handshake started", "match_id", matchID, "initiator", userID)
	return sessionView(session, userID), nil
}

// ConfirmHandshake completes the two-party confirmation.
//
// Behavior:
//   - The responder is inferred as the non-initiating participant and
//     asserted: the initiator cannot confirm their own session, and a
//     non-participant is rejected before the session is even read.
//   - An expired session reads as NO_ACTIVE_SESSION; a fresh
//     StartHandshake is required.
//   - Completion is a conditional update on completed_at IS NULL, so of
//     two racing confirms exactly one wins. Within that same
//     transaction the credit token is minted, the perk flips to
//     REDEEMED, the plan concludes as unlocked and both participants
//     receive their REWARD ledger entries.
func (s *Service) ConfirmHandshake(ctx context.Context, matchID, userID uint64, code string) (*View, error) {
	match, err := s.guardParticipant(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session, err := s.perks.OpenSession(ctx, matchID, now)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, svcErr.E(svcErr.ErrNoActiveSession, "no open handshake for this match")
	}
	if session.InitiatorUserID == userID {
		return nil, svcErr.E(svcErr.ErrInvalidTransition, "the initiator cannot confirm their own handshake")
	}
	if match.OtherParticipant(session.InitiatorUserID) != userID {
		return nil, svcErr.E(svcErr.ErrForbidden, "not the responder for this handshake")
	}
	if session.Code != code {
		return nil, svcErr.E(svcErr.ErrForbidden, "handshake code does not match")
	}

	reward := s.appCtx.Config.Perk.RewardCents
	credit := &db.Credit{
		MatchID:    matchID,
		Token:      uuid.NewString(),
		UnlockedAt: now,
		ExpiresAt:  now.Add(s.appCtx.Config.Perk.CreditTTL),
	}
	err = s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.perks.CompleteSessionTx(tx, session.ID, userID, now); err != nil {
			return err
		}
		if err := s.perks.CreateCreditTx(tx, credit); err != nil {
			return err
		}
		if err := s.perks.RedeemTx(tx, matchID, now); err != nil {
			return err
		}
		if err := s.plans.UnlockTx(tx, matchID); err != nil {
			return err
		}
		if reward > 0 {
			for _, uid := range []uint64{match.UserAID, match.UserBID} {
				if err := s.ledger.RewardTx(tx, uid, &matchID, reward, "drink perk reward"); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = s.appCtx.RedisCache.InvalidateWalletBalance(ctx, match.UserAID)
	_ = s.appCtx.RedisCache.InvalidateWalletBalance(ctx, match.UserBID)
	s.appCtx.Notifier.Notify(ctx, notify.Trigger{
		Name:        notify.TriggerHandshakeCompleted,
		MatchID:     matchID,
		ActorUserID: userID,
	})
	s.appCtx.Logger.Info("handshake completed", "match_id", matchID, "responder", userID)

	return s.Get(ctx, matchID, userID)
}

// Reset is the operator path for testing and dispute resolution: it
// clears any open session and issued credits, then recomputes the perk
// as ARMED (plan still live) or LOCKED. Idempotent.
func (s *Service) Reset(ctx context.Context, matchID uint64) (*View, error) {
	match, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	plan, err := s.plans.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	target := db.PerkLocked
	if plan != nil && plan.DateStatus != db.DateStatusNone && plan.DateStatus != db.DateStatusExpired {
		target = db.PerkArmed
	}

	err = s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.perks.DeleteOpenSessionsTx(tx, matchID); err != nil {
			return err
		}
		if err := s.perks.DeleteCreditsTx(tx, matchID); err != nil {
			return err
		}
		return s.perks.ResetPerkTx(tx, matchID, target)
	})
	if err != nil {
		return nil, err
	}

	s.appCtx.Logger.Info("perk reset", "match_id", matchID, "state", target)
	return s.Get(ctx, matchID, match.UserAID)
}

// guardParticipant enforces approval and match membership.
func (s *Service) guardParticipant(ctx context.Context, matchID, userID uint64) (*db.Match, error) {
	if _, err := s.matches.RequireApproved(ctx, userID); err != nil {
		return nil, err
	}
	match, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !match.HasParticipant(userID) {
		return nil, svcErr.E(svcErr.ErrForbidden, "not a participant of this match")
	}
	return match, nil
}

func sessionView(session *db.HandshakeSession, viewerID uint64) *SessionView {
	v := &SessionView{
		SessionID:       session.ID,
		InitiatorUserID: session.InitiatorUserID,
		ExpiresAt:       session.ExpiresAt,
		CompletedAt:     session.CompletedAt,
	}
	if session.InitiatorUserID == viewerID {
		v.Code = session.Code
	}
	return v
}

// newHandshakeCode draws the 4-digit pairing code the initiator shares
// in person.
func newHandshakeCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}
