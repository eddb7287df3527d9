package conversation

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/muzz-commitments/internal/app"
	"github.com/oggyb/muzz-commitments/internal/db"
	svcErr "github.com/oggyb/muzz-commitments/internal/errors"
	"github.com/oggyb/muzz-commitments/internal/notify"
	"github.com/oggyb/muzz-commitments/internal/repository"
)

// Reason codes recorded on terminal conversations.
const (
	ReasonDecisionExpired = "DECISION_EXPIRED"
	ReasonUnmatched       = "UNMATCHED"
)

// View is the caller-facing conversation state with lazy expiry already
// applied.
type View struct {
	MatchID           uint64     `json:"match_id"`
	Status            string     `json:"status"` // prechat | active | archived | closed
	Committed         bool       `json:"committed"`
	Role              string     `json:"role,omitempty"` // sender | receiver, pre-chat only
	ActiveAt          *time.Time `json:"active_at,omitempty"`
	DecisionExpiresAt *time.Time `json:"decision_expires_at,omitempty"`
	TerminalReason    string     `json:"terminal_reason,omitempty"`
}

// Service implements the conversation commitment gate: it turns a raw
// match into an active, chat-eligible conversation, owns the decision
// window and the terminal states, and is the only spender of
// commitment credits.
type Service struct {
	appCtx  *app.AppContext
	matches *repository.MatchRepository
	ledger  *repository.LedgerRepository
	plans   *repository.DatePlanRepository
	perks   *repository.PerkRepository

	now func() time.Time
}

// NewService creates the commitment gate service with dependencies from
// AppContext.
func NewService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:  appCtx,
		matches: repository.NewMatchRepository(appCtx.DB),
		ledger:  repository.NewLedgerRepository(appCtx.DB),
		plans:   repository.NewDatePlanRepository(appCtx.DB),
		perks:   repository.NewPerkRepository(appCtx.DB),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock; tests only.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// OnMatchCreated ingests a match from the discovery collaborator and
// seeds its pre-chat conversation. Idempotent per pair.
func (s *Service) OnMatchCreated(ctx context.Context, userA, userB uint64) (*db.Match, bool, error) {
	if userA == userB {
		return nil, false, svcErr.E(svcErr.ErrInvalidTransition, "cannot match a user with themselves")
	}
	if _, err := s.matches.RequireApproved(ctx, userA); err != nil {
		return nil, false, err
	}
	if _, err := s.matches.RequireApproved(ctx, userB); err != nil {
		return nil, false, err
	}

	match, created, err := s.matches.CreateMatch(ctx, userA, userB)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.appCtx.Logger.Info("match created", "match_id", match.ID, "user_a", match.UserAID, "user_b", match.UserBID)
	}
	return match, created, nil
}

// Open records the caller as the pre-chat sender and arms the
// receiver's decision window. Re-opening, or opening an already active
// conversation, is a no-op.
func (s *Service) Open(ctx context.Context, matchID, userID uint64) (*View, error) {
	match, conv, err := s.loadParticipant(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}
	if conv.Terminal() {
		return nil, svcErr.E(svcErr.ErrInvalidTransition, "conversation has ended")
	}

	if !conv.Committed(s.depositThreshold()) && conv.SenderUserID == nil {
		armed, err := s.matches.ArmDecisionWindow(ctx, matchID, userID, s.now().Add(s.appCtx.Config.Commitment.DecisionWindow))
		if err != nil {
			return nil, err
		}
		if armed {
			conv, err = s.matches.GetConversation(ctx, matchID)
			if err != nil {
				return nil, err
			}
		}
	}

	return s.view(match, conv, userID), nil
}

// Commit spends the commitment cost and unlocks the conversation.
//
// Behavior:
//   - Idempotent: committing an already-active conversation is a no-op
//     success and never double-spends.
//   - The spend and the activation happen in one transaction; if a
//     concurrent commit wins the activation, the spend rolls back and
//     the call degrades to the no-op success path.
//   - A lapsed decision window is applied first, so a commit after the
//     window reports the archived conversation instead of spending.
func (s *Service) Commit(ctx context.Context, matchID, userID uint64) (*View, error) {
	match, conv, err := s.loadParticipant(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}
	if conv.Terminal() {
		return nil, svcErr.E(svcErr.ErrInvalidTransition, "conversation has ended")
	}
	if conv.Committed(s.depositThreshold()) {
		return s.view(match, conv, userID), nil // already committed, no spend
	}

	cost := s.appCtx.Config.Commitment.CostCents
	now := s.now()
	err = s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ledger.SpendTx(tx, userID, &matchID, cost, "conversation commitment"); err != nil {
			return err
		}
		activated, err := s.matches.ActivateTx(tx, matchID, now, cost)
		if err != nil {
			return err
		}
		if !activated {
			// concurrent commit or terminal write won; roll the spend back
			return svcErr.E(svcErr.ErrRaceLost, "conversation state changed")
		}
		return nil
	})
	if err != nil {
		if svcErr.Is(err, svcErr.ErrRaceLost) {
			// Re-read: if the other writer committed, this call is an
			// idempotent success.
			conv, convErr := s.matches.GetConversation(ctx, matchID)
			if convErr != nil {
				return nil, convErr
			}
			if conv.Committed(s.depositThreshold()) {
				return s.view(match, conv, userID), nil
			}
		}
		return nil, err
	}

	_ = s.appCtx.RedisCache.InvalidateWalletBalance(ctx, userID)
	s.appCtx.Notifier.Notify(ctx, notify.Trigger{
		Name:        notify.TriggerMatchCommitted,
		MatchID:     matchID,
		ActorUserID: userID,
	})
	s.appCtx.Logger.Info("conversation committed", "match_id", matchID, "user_id", userID)

	conv, err = s.matches.GetConversation(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return s.view(match, conv, userID), nil
}

// Get returns the conversation with lazy decision-window expiry applied.
func (s *Service) Get(ctx context.Context, matchID, userID uint64) (*View, error) {
	match, conv, err := s.loadParticipant(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}
	return s.view(match, conv, userID), nil
}

// Seen stamps the caller's side of the match.
func (s *Service) Seen(ctx context.Context, matchID, userID uint64) error {
	match, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if _, err := s.matches.RequireApproved(ctx, userID); err != nil {
		return err
	}
	if !match.HasParticipant(userID) {
		return svcErr.E(svcErr.ErrForbidden, "not a participant of this match")
	}
	return s.matches.MarkSeen(ctx, match, userID, s.now())
}

// Unmatch closes the conversation terminally and cascade-clears all
// dependent state so nothing stale survives a later rematch: open
// handshake sessions, issued credits, the drink perk and the date plan.
// Idempotent from any state.
func (s *Service) Unmatch(ctx context.Context, matchID, userID uint64, reasonCode string) error {
	match, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if _, err := s.matches.RequireApproved(ctx, userID); err != nil {
		return err
	}
	if !match.HasParticipant(userID) {
		return svcErr.E(svcErr.ErrForbidden, "not a participant of this match")
	}
	if reasonCode == "" {
		reasonCode = ReasonUnmatched
	}

	plan, err := s.plans.Get(ctx, matchID)
	if err != nil {
		return err
	}

	now := s.now()
	err = s.appCtx.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.matches.TerminateTx(tx, matchID, db.TerminalClosed, reasonCode); err != nil {
			return err
		}
		if err := s.perks.DeleteOpenSessionsTx(tx, matchID); err != nil {
			return err
		}
		if err := s.perks.DeleteCreditsTx(tx, matchID); err != nil {
			return err
		}
		if err := s.perks.ResetPerkTx(tx, matchID, db.PerkLocked); err != nil {
			return err
		}
		if plan != nil {
			if plan.DateStatus == db.DateStatusLocked || plan.DateStatus == db.DateStatusProposed {
				if err := s.plans.AppendEventTx(tx, &db.MatchDateEvent{
					MatchID:     matchID,
					ActorUserID: &userID,
					EventType:   db.EventDateCanceled,
					Cycle:       plan.Cycle,
					OccurredAt:  now,
				}); err != nil {
					return err
				}
			}
			if err := s.plans.ResetTx(tx, matchID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.appCtx.Logger.Info("unmatched", "match_id", matchID, "user_id", userID, "reason", reasonCode)
	return nil
}

// loadParticipant guards a mutating/read call: user approved, match
// exists, caller is a participant. The returned conversation has lazy
// decision-window expiry applied.
func (s *Service) loadParticipant(ctx context.Context, matchID, userID uint64) (*db.Match, *db.Conversation, error) {
	if _, err := s.matches.RequireApproved(ctx, userID); err != nil {
		return nil, nil, err
	}
	match, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	if !match.HasParticipant(userID) {
		return nil, nil, svcErr.E(svcErr.ErrForbidden, "not a participant of this match")
	}
	conv, err := s.effectiveConversation(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	return match, conv, nil
}

// effectiveConversation applies the lazy decision-window expiry: a
// pre-chat conversation whose window has lapsed is archived on this
// read. Explicit unmatch closes; a lapsed window archives. The terminal
// write is conditional, so concurrent readers archive it once.
func (s *Service) effectiveConversation(ctx context.Context, matchID uint64) (*db.Conversation, error) {
	conv, err := s.matches.GetConversation(ctx, matchID)
	if err != nil {
		return nil, err
	}

	if !conv.Terminal() &&
		!conv.Committed(s.depositThreshold()) &&
		conv.DecisionExpiresAt != nil &&
		s.now().After(*conv.DecisionExpiresAt) {
		if _, err := s.matches.Terminate(ctx, matchID, db.TerminalArchived, ReasonDecisionExpired); err != nil {
			return nil, err
		}
		return s.matches.GetConversation(ctx, matchID)
	}
	return conv, nil
}

func (s *Service) depositThreshold() int64 {
	return s.appCtx.Config.Commitment.DepositUnlock
}

func (s *Service) view(match *db.Match, conv *db.Conversation, viewerID uint64) *View {
	v := &View{
		MatchID:           match.ID,
		Committed:         conv.Committed(s.depositThreshold()),
		ActiveAt:          conv.ActiveAt,
		DecisionExpiresAt: conv.DecisionExpiresAt,
	}
	switch {
	case conv.Terminal():
		v.Status = strings.ToLower(*conv.TerminalState)
		v.TerminalReason = conv.TerminalReason
	case v.Committed:
		v.Status = "active"
	default:
		v.Status = "prechat"
		if conv.SenderUserID != nil {
			if *conv.SenderUserID == viewerID {
				v.Role = "sender"
			} else {
				v.Role = "receiver"
			}
		}
	}
	return v
}
