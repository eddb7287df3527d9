package wallet

import (
	"context"
	"time"

	"github.com/oggyb/muzz-commitments/internal/app"
	"github.com/oggyb/muzz-commitments/internal/db"
	svcErr "github.com/oggyb/muzz-commitments/internal/errors"
	"github.com/oggyb/muzz-commitments/internal/repository"
)

const (
	defaultLedgerPageSize = 20
	maxLedgerPageSize     = 100
)

// ReconcileReport is the outcome of a balance audit: the ledger fold,
// the wallet row it was checked against, and whether a repair happened.
type ReconcileReport struct {
	UserID      uint64 `json:"user_id"`
	FoldCents   int64  `json:"fold_cents"`
	WalletCents int64  `json:"wallet_cents"`
	DriftCents  int64  `json:"drift_cents"`
	Repaired    bool   `json:"repaired"`
}

// Service implements the credit ledger & wallet component. All credit
// consumption elsewhere in the system goes through the ledger
// repository this service fronts.
type Service struct {
	appCtx  *app.AppContext
	ledger  *repository.LedgerRepository
	matches *repository.MatchRepository

	now func() time.Time
}

// NewService creates the wallet service with dependencies from AppContext.
func NewService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:  appCtx,
		ledger:  repository.NewLedgerRepository(appCtx.DB),
		matches: repository.NewMatchRepository(appCtx.DB),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ApplyPurchase ingests a "purchase completed" event from the payment
// collaborator.
//
// Behavior:
//   - Idempotent on the provider event id, the provider transaction id
//     and the client transaction id namespace; a duplicate returns
//     applied=false with the unchanged balance and is not an error.
//   - Purchases are applied regardless of admission status: the money
//     is already collected.
func (s *Service) ApplyPurchase(
	ctx context.Context,
	userID uint64,
	providerEventID, providerTransactionID string,
	amountCents int64,
	note string,
) (bool, int64, error) {
	if amountCents <= 0 {
		return false, 0, svcErr.E(svcErr.ErrInvalidArgument, "amount_cents must be positive")
	}
	if providerEventID == "" && providerTransactionID == "" {
		return false, 0, svcErr.E(svcErr.ErrInvalidArgument, "a provider event or transaction id is required")
	}
	if _, err := s.matches.GetUser(ctx, userID); err != nil {
		return false, 0, err
	}

	applied, err := s.ledger.ApplyPurchase(ctx, userID, nil, providerEventID, providerTransactionID, amountCents, note)
	if err != nil {
		return false, 0, err
	}
	if applied {
		_ = s.appCtx.RedisCache.InvalidateWalletBalance(ctx, userID)
		s.appCtx.Logger.Info("purchase applied",
			"user_id", userID,
			"provider_event_id", providerEventID,
			"amount_cents", amountCents,
		)
	} else {
		s.appCtx.Logger.Debug("duplicate purchase ignored",
			"user_id", userID,
			"provider_event_id", providerEventID,
		)
	}

	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return applied, 0, err
	}
	return applied, balance, nil
}

// Grant credits a wallet from the admin or dev path. Intentionally not
// idempotent: every grant is a new event.
func (s *Service) Grant(ctx context.Context, userID uint64, action string, amountCents int64, note string) (int64, error) {
	if action != db.LedgerAdminGrant && action != db.LedgerDevGrant {
		return 0, svcErr.Ef(svcErr.ErrInvalidArgument, "unknown grant action %q", action)
	}
	if amountCents <= 0 {
		return 0, svcErr.E(svcErr.ErrInvalidArgument, "amount_cents must be positive")
	}
	if _, err := s.matches.GetUser(ctx, userID); err != nil {
		return 0, err
	}

	if err := s.ledger.Grant(ctx, userID, action, amountCents, note); err != nil {
		return 0, err
	}
	_ = s.appCtx.RedisCache.InvalidateWalletBalance(ctx, userID)
	return s.ledger.Balance(ctx, userID)
}

// Balance is a non-blocking snapshot read, cache-first:
//  1. Attempts the Redis mirror (wallet:balance:userID).
//  2. On miss, falls back to the wallet row and repopulates the mirror.
func (s *Service) Balance(ctx context.Context, userID uint64) (int64, error) {
	if cached, ok, err := s.appCtx.RedisCache.GetWalletBalance(ctx, userID); err == nil && ok {
		return cached, nil
	}

	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}
	_ = s.appCtx.RedisCache.SetWalletBalance(ctx, userID, balance)
	return balance, nil
}

// Ledger lists the user's entries newest-first with cursor pagination.
func (s *Service) Ledger(ctx context.Context, userID uint64, paginationToken *string, limit int) ([]db.LedgerEntry, *string, error) {
	if limit <= 0 {
		limit = defaultLedgerPageSize
	}
	if limit > maxLedgerPageSize {
		limit = maxLedgerPageSize
	}
	return s.ledger.Ledger(ctx, userID, paginationToken, limit)
}

// Reconcile recomputes the balance as the fold of the user's ledger and
// repairs the wallet row and cache mirror on drift. Audit path, not the
// real-time read path.
func (s *Service) Reconcile(ctx context.Context, userID uint64) (*ReconcileReport, error) {
	fold, err := s.ledger.Fold(ctx, userID)
	if err != nil {
		return nil, err
	}
	wallet, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		UserID:      userID,
		FoldCents:   fold,
		WalletCents: wallet,
		DriftCents:  fold - wallet,
	}
	if report.DriftCents != 0 {
		if err := s.ledger.SetBalance(ctx, userID, fold); err != nil {
			return nil, err
		}
		_ = s.appCtx.RedisCache.InvalidateWalletBalance(ctx, userID)
		report.Repaired = true
		s.appCtx.Logger.Warn("wallet drift repaired",
			"user_id", userID,
			"drift_cents", report.DriftCents,
		)
	}
	return report, nil
}
