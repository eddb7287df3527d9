package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oggyb/muzz-commitments/internal/db"
	svcErr "github.com/oggyb/muzz-commitments/internal/errors"
	"github.com/oggyb/muzz-commitments/internal/utils/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository owns the append-only credit ledger and the derived
// wallet rows. Every mutation inserts a ledger row and moves the wallet
// balance inside one transaction; partial application is never visible.
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new repository bound to the given DB connection.
func NewLedgerRepository(database *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: database}
}

// ApplyPurchase credits a wallet for an externally-reported purchase.
//
// Behavior:
//   - Idempotent on (provider_event_id, provider_transaction_id) and the
//     locally-generated client transaction id namespace: if a PURCHASE
//     row for this user already carries any of those keys, nothing is
//     written and applied=false is returned.
//   - Otherwise inserts the ledger row and increments the wallet in one
//     transaction, creating the wallet lazily at balance 0.
//
// Example:
//
//	applied, err := repo.ApplyPurchase(ctx, 42, nil, "evt_1", "txn_1", 3000, "store purchase")
func (r *LedgerRepository) ApplyPurchase(
	ctx context.Context,
	userID uint64,
	matchID *uint64,
	providerEventID, providerTransactionID string,
	amountCents int64,
	note string,
) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dup, err := purchaseExists(tx, userID, providerEventID, providerTransactionID)
		if err != nil {
			return err
		}
		if dup {
			return nil // applied stays false; wallet untouched
		}

		clientTxnID := uuid.NewString()
		entry := db.LedgerEntry{
			UserID:                userID,
			MatchID:               matchID,
			Action:                db.LedgerPurchase,
			AmountCents:           amountCents,
			ProviderEventID:       nilIfEmpty(providerEventID),
			ProviderTransactionID: nilIfEmpty(providerTransactionID),
			ClientTransactionID:   &clientTxnID,
			Note:                  note,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		if err := creditWallet(tx, userID, amountCents); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// purchaseExists checks both the provider-origin idempotency keys and
// the client transaction id namespace, since the same purchase may be
// reported twice through different ingestion paths.
//
// Only the keys actually present on the incoming purchase participate:
// an absent id must never match another purchase that also omitted it.
func purchaseExists(tx *gorm.DB, userID uint64, providerEventID, providerTransactionID string) (bool, error) {
	keys := make([]string, 0, 2)
	conds := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if providerEventID != "" {
		keys = append(keys, providerEventID)
		conds = append(conds, "provider_event_id = ?")
		args = append(args, providerEventID)
	}
	if providerTransactionID != "" {
		keys = append(keys, providerTransactionID)
		conds = append(conds, "provider_transaction_id = ?")
		args = append(args, providerTransactionID)
	}
	if len(keys) == 0 {
		return false, nil
	}
	conds = append(conds, "client_transaction_id IN ?")
	args = append(args, keys)

	var count int64
	err := tx.Model(&db.LedgerEntry{}).
		Where("user_id = ? AND action = ?", userID, db.LedgerPurchase).
		Where(strings.Join(conds, " OR "), args...).
		Count(&count).Error
	return count > 0, err
}

// Spend debits amountCents from the user's wallet.
// Fails with INSUFFICIENT_BALANCE when the wallet would go negative.
func (r *LedgerRepository) Spend(ctx context.Context, userID uint64, matchID *uint64, amountCents int64, note string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.SpendTx(tx, userID, matchID, amountCents, note)
	})
}

// SpendTx is Spend inside a caller-owned transaction, so spends can be
// atomic with the state change they pay for (conversation commit).
//
// The decrement is a guarded UPDATE (`balance_cents >= amount`); zero
// rows affected means the balance was short and nothing was written.
func (r *LedgerRepository) SpendTx(tx *gorm.DB, userID uint64, matchID *uint64, amountCents int64, note string) error {
	if err := ensureWallet(tx, userID); err != nil {
		return err
	}

	res := tx.Model(&db.Wallet{}).
		Where("user_id = ? AND balance_cents >= ?", userID, amountCents).
		UpdateColumn("balance_cents", gorm.Expr("balance_cents - ?", amountCents))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return svcErr.Ef(svcErr.ErrInsufficientBalance, "need %d cents", amountCents)
	}

	entry := db.LedgerEntry{
		UserID:      userID,
		MatchID:     matchID,
		Action:      db.LedgerSpend,
		AmountCents: -amountCents,
		Note:        note,
	}
	return tx.Create(&entry).Error
}

// Grant credits a wallet from an admin/dev path. Each grant is
// intentionally a new event, so no idempotency check applies.
func (r *LedgerRepository) Grant(ctx context.Context, userID uint64, action string, amountCents int64, note string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry := db.LedgerEntry{
			UserID:      userID,
			Action:      action,
			AmountCents: amountCents,
			Note:        note,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		return creditWallet(tx, userID, amountCents)
	})
}

// RewardTx mints a REWARD entry inside a caller-owned transaction
// (handshake completion).
func (r *LedgerRepository) RewardTx(tx *gorm.DB, userID uint64, matchID *uint64, amountCents int64, note string) error {
	entry := db.LedgerEntry{
		UserID:      userID,
		MatchID:     matchID,
		Action:      db.LedgerReward,
		AmountCents: amountCents,
		Note:        note,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return err
	}
	return creditWallet(tx, userID, amountCents)
}

// Balance reads the wallet row. A missing wallet reads as zero.
func (r *LedgerRepository) Balance(ctx context.Context, userID uint64) (int64, error) {
	var w db.Wallet
	err := r.db.WithContext(ctx).First(&w, "user_id = ?", userID).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return w.BalanceCents, nil
}

// Ledger lists a user's entries newest-first with cursor pagination.
//
// Behavior:
//   - Ordered by created_at DESC, id DESC.
//   - Supports cursor-based pagination via paginationToken.
func (r *LedgerRepository) Ledger(
	ctx context.Context,
	userID uint64,
	paginationToken *string,
	limit int,
) ([]db.LedgerEntry, *string, error) {
	var entries []db.LedgerEntry

	cursor, err := pagination.Decode(getString(paginationToken))
	if err != nil {
		return nil, nil, svcErr.E(svcErr.ErrInvalidArgument, "invalid pagination token")
	}

	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit + 1)

	if cursor.EntryID > 0 && cursor.CreatedUnix > 0 {
		ts := time.UnixMilli(cursor.CreatedUnix)
		query = query.Where(
			"(created_at < ? OR (created_at = ? AND id < ?))",
			ts, ts, cursor.EntryID,
		)
	}

	if err := query.Find(&entries).Error; err != nil {
		return nil, nil, err
	}

	var nextToken *string
	if len(entries) > limit {
		last := entries[limit-1]
		token, _ := pagination.Encode(pagination.Cursor{
			EntryID:     last.ID,
			CreatedUnix: last.CreatedAt.UnixMilli(),
		})
		nextToken = &token
		entries = entries[:limit]
	}

	return entries, nextToken, nil
}

// Fold recomputes the balance as the sum of all entries for the user.
// Reconciliation path only; the wallet row serves real-time reads.
func (r *LedgerRepository) Fold(ctx context.Context, userID uint64) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&db.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&sum).Error
	return sum, err
}

// SetBalance force-writes the wallet row; reconciliation repair only.
func (r *LedgerRepository) SetBalance(ctx context.Context, userID uint64, balanceCents int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureWallet(tx, userID); err != nil {
			return err
		}
		return tx.Model(&db.Wallet{}).
			Where("user_id = ?", userID).
			UpdateColumn("balance_cents", balanceCents).Error
	})
}

// ensureWallet creates the wallet row at balance 0 if absent.
func ensureWallet(tx *gorm.DB, userID uint64) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&db.Wallet{UserID: userID, BalanceCents: 0}).Error
}

// creditWallet increments the balance, creating the wallet lazily.
func creditWallet(tx *gorm.DB, userID uint64, amountCents int64) error {
	if err := ensureWallet(tx, userID); err != nil {
		return err
	}
	return tx.Model(&db.Wallet{}).
		Where("user_id = ?", userID).
		UpdateColumn("balance_cents", gorm.Expr("balance_cents + ?", amountCents)).Error
}

// getString safely dereferences a string pointer for pagination tokens.
func getString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nilIfEmpty keeps absent idempotency keys out of the indexed columns,
// so they can never collide with another purchase's absent key.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
