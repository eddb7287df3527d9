package dateplan

import (
	"context"
	"time"

	"github.com/oggyb/muzz-commitments/internal/app"
	"github.com/oggyb/muzz-commitments/internal/db"
	svcErr "github.com/oggyb/muzz-commitments/internal/errors"
	"github.com/oggyb/muzz-commitments/internal/notify"
	"github.com/oggyb/muzz-commitments/internal/repository"
)

// Derived view status "ready" on top of the stored plan statuses.
// Never persisted; computed per read.
const StatusReady = "ready"

// View is the caller-facing plan state: stored status with the
// read-time derivations (ready, lazy expiry) already applied.
type View struct {
	MatchID          uint64     `json:"match_id"`
	Status           string     `json:"status"`
	Cycle            int        `json:"cycle"`
	DateStart        *time.Time `json:"date_start,omitempty"`
	DateEnd          *time.Time `json:"date_end,omitempty"`
	ProposedByUserID *uint64    `json:"proposed_by_user_id,omitempty"`
	YoursToRespond   bool       `json:"yours_to_respond"`
	ActivityLabel    string     `json:"activity_label,omitempty"`
	PlaceLabel       string     `json:"place_label,omitempty"`
	PlaceID          string     `json:"place_id,omitempty"`
}

// Service implements the date plan state machine. It operates only on
// committed conversations and feeds the MatchDateEvent audit trail.
type Service struct {
	appCtx  *app.AppContext
	matches *repository.MatchRepository
	plans   *repository.DatePlanRepository
	perks   *repository.PerkRepository

	now func() time.Time
}

// NewService creates the date plan service with dependencies from AppContext.
func NewService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:  appCtx,
		matches: repository.NewMatchRepository(appCtx.DB),
		plans:   repository.NewDatePlanRepository(appCtx.DB),
		perks:   repository.NewPerkRepository(appCtx.DB),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock; tests only.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// DeriveStatus computes the effective plan status at "now" without
// side effects. "ready" is locked plus an in-window clock plus a viewer
// with a usable location; "expired" here is advisory — the persisted
// flip happens in effectivePlan so the DATE_EXPIRED event fires once.
func DeriveStatus(plan *db.DatePlan, viewerHasLocation bool, now time.Time) string {
	if plan == nil {
		return db.DateStatusNone
	}
	if plan.DateStatus != db.DateStatusLocked {
		return plan.DateStatus
	}
	if plan.DateEnd != nil && now.After(*plan.DateEnd) {
		return db.DateStatusExpired
	}
	if viewerHasLocation &&
		plan.DateStart != nil && plan.DateEnd != nil &&
		!now.Before(*plan.DateStart) && !now.After(*plan.DateEnd) {
		return StatusReady
	}
	return db.DateStatusLocked
}

// Propose creates or refreshes the plan for a committed match.
//
// Behavior:
//   - Requires the conversation to be committed and not terminal.
//   - After unlocked/expired the proposal starts a fresh cycle; while
//     proposed/locked it only overwrites window and labels (§ repo).
//   - Arms the drink perk, since a plan now exists.
func (s *Service) Propose(
	ctx context.Context,
	matchID, userID uint64,
	dateStart, dateEnd time.Time,
	activityLabel, placeLabel, placeID string,
) (*View, error) {
	_, err := s.guardCommitted(ctx, matchID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if dateStart.IsZero() || dateEnd.IsZero() {
		return nil, svcErr.E(svcErr.ErrInvalidArgument, "date_start and date_end are required")
	}
	if !dateStart.Before(dateEnd) {
		return nil, svcErr.E(svcErr.ErrInvalidArgument, "date_start must be before date_end")
	}
	if dateEnd.Before(now) {
		return nil, svcErr.E(svcErr.ErrInvalidArgument, "date_end is in the past")
	}

	// Apply lazy expiry first so a proposal after a missed date starts
	// a fresh cycle instead of editing the stale one.
	if _, err := s.effectivePlan(ctx, matchID); err != nil {
		return nil, err
	}

	plan, err := s.plans.Propose(ctx, matchID, userID, dateStart, dateEnd, activityLabel, placeLabel, placeID)
	if err != nil {
		return nil, err
	}

	if _, err := s.perks.EnsurePerk(ctx, matchID); err != nil {
		return nil, err
	}
	if err := s.perks.Arm(ctx, matchID); err != nil {
		return nil, err
	}

	s.appCtx.Notifier.Notify(ctx, notify.Trigger{
		Name:        notify.TriggerDateProposed,
		MatchID:     matchID,
		ActorUserID: userID,
	})
	return s.buildView(ctx, plan, userID)
}

// Respond accepts or declines a proposal. Only the non-proposing party
// may respond; of two concurrent responses the first write wins and the
// loser gets RACE_LOST.
func (s *Service) Respond(ctx context.Context, matchID, userID uint64, accept bool) (*View, error) {
	if _, err := s.guardCommitted(ctx, matchID, userID); err != nil {
		return nil, err
	}

	plan, err := s.effectivePlan(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if plan == nil || plan.DateStatus != db.DateStatusProposed {
		return nil, svcErr.E(svcErr.ErrInvalidTransition, "no proposal to respond to")
	}
	if plan.ProposedByUserID != nil && *plan.ProposedByUserID == userID {
		return nil, svcErr.E(svcErr.ErrForbidden, "the proposer cannot respond to their own proposal")
	}

	if accept {
		err = s.plans.Accept(ctx, matchID, plan.Cycle)
	} else {
		err = s.plans.Decline(ctx, matchID, userID, plan.Cycle, s.now())
	}
	if err != nil {
		return nil, err
	}

	if !accept {
		// No plan anymore; the perk drops back to LOCKED unless already
		// redeemed.
		if err := s.perks.Disarm(ctx, matchID); err != nil {
			return nil, err
		}
	}

	s.appCtx.Notifier.Notify(ctx, notify.Trigger{
		Name:        notify.TriggerDateResponded,
		MatchID:     matchID,
		ActorUserID: userID,
		Accepted:    accept,
	})

	plan, err = s.plans.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return s.buildView(ctx, plan, userID)
}

// Get returns the plan view with lazy expiry applied and the derived
// ready status for this viewer.
func (s *Service) Get(ctx context.Context, matchID, userID uint64) (*View, error) {
	match, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !match.HasParticipant(userID) {
		return nil, svcErr.E(svcErr.ErrForbidden, "not a participant of this match")
	}

	plan, err := s.effectivePlan(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return s.buildView(ctx, plan, userID)
}

// ForceComplete seeds the plan straight into unlocked with a backdated
// window. Admin/test collaborator path; records DATE_COMPLETED so
// insight consumers still see the cycle conclude.
func (s *Service) ForceComplete(
	ctx context.Context,
	matchID uint64,
	actorID *uint64,
	dateStart, dateEnd time.Time,
	activityLabel, placeLabel, placeID string,
) (*View, error) {
	if _, err := s.matches.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	plan, err := s.plans.ForceUnlock(ctx, matchID, actorID, dateStart, dateEnd, activityLabel, placeLabel, placeID, s.now())
	if err != nil {
		return nil, err
	}
	viewer := uint64(0)
	if actorID != nil {
		viewer = *actorID
	}
	return s.buildView(ctx, plan, viewer)
}

// Events returns the audit trail for insight consumers.
func (s *Service) Events(ctx context.Context, matchID uint64) ([]db.MatchDateEvent, error) {
	if _, err := s.matches.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	return s.plans.ListEvents(ctx, matchID)
}

// effectivePlan loads the plan and applies lazy window expiry: a locked
// plan past its end flips to expired here, emitting DATE_EXPIRED
// exactly once per cycle.
func (s *Service) effectivePlan(ctx context.Context, matchID uint64) (*db.DatePlan, error) {
	plan, err := s.plans.Get(ctx, matchID)
	if err != nil || plan == nil {
		return plan, err
	}

	now := s.now()
	if plan.DateStatus == db.DateStatusLocked && plan.DateEnd != nil && now.After(*plan.DateEnd) {
		if err := s.plans.MarkExpired(ctx, matchID, plan.Cycle, now); err != nil {
			return nil, err
		}
		return s.plans.Get(ctx, matchID)
	}
	return plan, nil
}

// guardCommitted enforces the gate shared by all plan mutations: the
// caller is an approved participant and the conversation is committed
// and not terminal. An uncommitted match may never advance into date
// planning.
func (s *Service) guardCommitted(ctx context.Context, matchID, userID uint64) (*db.Match, error) {
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

	conv, err := s.matches.GetConversation(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if conv.Terminal() {
		return nil, svcErr.E(svcErr.ErrInvalidTransition, "conversation has ended")
	}
	if !conv.Committed(s.appCtx.Config.Commitment.DepositUnlock) {
		return nil, svcErr.E(svcErr.ErrInvalidTransition, "conversation is not committed")
	}
	return match, nil
}

// viewerHasLocation treats a fresh ping as the location-permission
// signal for the ready derivation.
func (s *Service) viewerHasLocation(ctx context.Context, userID uint64) (bool, error) {
	loc, err := s.perks.GetLocation(ctx, userID)
	if err != nil {
		return false, err
	}
	if loc == nil {
		return false, nil
	}
	return s.now().Sub(loc.CapturedAt) <= s.appCtx.Config.Perk.LocationMaxAge, nil
}

func (s *Service) buildView(ctx context.Context, plan *db.DatePlan, viewerID uint64) (*View, error) {
	hasLoc := false
	if viewerID != 0 {
		var err error
		hasLoc, err = s.viewerHasLocation(ctx, viewerID)
		if err != nil {
			return nil, err
		}
	}

	if plan == nil {
		return &View{Status: db.DateStatusNone}, nil
	}
	status := DeriveStatus(plan, hasLoc, s.now())
	return &View{
		MatchID:          plan.MatchID,
		Status:           status,
		Cycle:            plan.Cycle,
		DateStart:        plan.DateStart,
		DateEnd:          plan.DateEnd,
		ProposedByUserID: plan.ProposedByUserID,
		YoursToRespond: status == db.DateStatusProposed &&
			plan.ProposedByUserID != nil && *plan.ProposedByUserID != viewerID,
		ActivityLabel: plan.ActivityLabel,
		PlaceLabel:    plan.PlaceLabel,
		PlaceID:       plan.PlaceID,
	}, nil
}
