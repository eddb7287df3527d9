package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/muzz-commitments/internal/db"
	svcErr "github.com/oggyb/muzz-commitments/internal/errors"
	"github.com/oggyb/muzz-commitments/internal/repository"
)

// TestApplyPurchaseIdempotent replays the same provider event twice and
// expects a single ledger row and a single wallet credit.
func TestApplyPurchaseIdempotent(t *testing.T) {
	ctx := context.Background()
	gdb := setupDB(t)
	seedPair(t, gdb)
	repo := repository.NewLedgerRepository(gdb)

	applied, err := repo.ApplyPurchase(ctx, 1, nil, "evt_1", "txn_1", 3000, "store purchase")
	require.NoError(t, err)
	assert.True(t, applied)

	// Same event reported again through the other ingestion path.
	applied, err = repo.ApplyPurchase(ctx, 1, nil, "evt_1", "txn_other", 3000, "store purchase")
	require.NoError(t, err)
	assert.False(t, applied)

	balance, err := repo.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), balance)

	var count int64
	require.NoError(t, gdb.Model(&db.LedgerEntry{}).Where("user_id = ?", 1).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

// TestApplyPurchaseDistinctEvents verifies that genuinely different
// purchases both apply.
func TestApplyPurchaseDistinctEvents(t *testing.T) {
	ctx := context.Background()
	gdb := setupDB(t)
	seedPair(t, gdb)
	repo := repository.NewLedgerRepository(gdb)

	applied, err := repo.ApplyPurchase(ctx, 1, nil, "evt_1", "txn_1", 3000, "")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.ApplyPurchase(ctx, 1, nil, "evt_2", "txn_2", 1500, "")
	require.NoError(t, err)
	assert.True(t, applied)

	balance, err := repo.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4500), balance)
}

// TestApplyPurchaseSingleKey covers purchases carrying only one of the
// two provider ids: the absent id must not collide across purchases
// that also omit it, while the present id still deduplicates.
func TestApplyPurchaseSingleKey(t *testing.T) {
	ctx := context.Background()
	gdb := setupDB(t)
	seedPair(t, gdb)
	repo := repository.NewLedgerRepository(gdb)

	applied, err := repo.ApplyPurchase(ctx, 1, nil, "", "txn_1", 1000, "")
	require.NoError(t, err)
	assert.True(t, applied)

	// Different transaction id, event id absent again: a new purchase.
	applied, err = repo.ApplyPurchase(ctx, 1, nil, "", "txn_2", 1000, "")
	require.NoError(t, err)
	assert.True(t, applied)

	// Event-id-only purchases behave the same way.
	applied, err = repo.ApplyPurchase(ctx, 1, nil, "evt_1", "", 1000, "")
	require.NoError(t, err)
	assert.True(t, applied)

	balance, err := repo.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), balance)

	// The present id still deduplicates replays.
	applied, err = repo.ApplyPurchase(ctx, 1, nil, "", "txn_2", 1000, "")
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = repo.ApplyPurchase(ctx, 1, nil, "evt_1", "", 1000, "")
	require.NoError(t, err)
	assert.False(t, applied)

	balance, err = repo.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), balance)
}

// TestSpendOverdraw checks that a spend exceeding the balance fails
// with INSUFFICIENT_BALANCE and leaves the wallet and ledger untouched.
func TestSpendOverdraw(t *testing.T) {
	ctx := context.Background()
	gdb := setupDB(t)
	seedPair(t, gdb)
	repo := repository.NewLedgerRepository(gdb)

	require.NoError(t, repo.Grant(ctx, 1, db.LedgerDevGrant, 1000, "seed"))

	err := repo.Spend(ctx, 1, nil, 3000, "conversation commitment")
	require.Error(t, err)
	assert.True(t, svcErr.Is(err, svcErr.ErrInsufficientBalance))

	balance, err := repo.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	var spends int64
	require.NoError(t, gdb.Model(&db.LedgerEntry{}).
		Where("user_id = ? AND action = ?", 1, db.LedgerSpend).
		Count(&spends).Error)
	assert.Equal(t, int64(0), spends)
}

// TestSpendWritesNegativeEntry verifies a successful spend records the
// debit as a negative ledger amount and moves the balance.
func TestSpendWritesNegativeEntry(t *testing.T) {
	ctx := context.Background()
	gdb := setupDB(t)
	match := seedPair(t, gdb)
	repo := repository.NewLedgerRepository(gdb)

	require.NoError(t, repo.Grant(ctx, 1, db.LedgerDevGrant, 5000, "seed"))
	require.NoError(t, repo.Spend(ctx, 1, &match.ID, 3000, "conversation commitment"))

	balance, err := repo.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), balance)

	var entry db.LedgerEntry
	require.NoError(t, gdb.Where("user_id = ? AND action = ?", 1, db.LedgerSpend).First(&entry).Error)
	assert.Equal(t, int64(-3000), entry.AmountCents)
	require.NotNil(t, entry.MatchID)
	assert.Equal(t, match.ID, *entry.MatchID)
}

// TestFoldMatchesBalance checks that the wallet row stays equal to the
// fold of the ledger across mixed credits and debits.
func TestFoldMatchesBalance(t *testing.T) {
	ctx := context.Background()
	gdb := setupDB(t)
	seedPair(t, gdb)
	repo := repository.NewLedgerRepository(gdb)

	_, err := repo.ApplyPurchase(ctx, 1, nil, "evt_1", "txn_1", 3000, "")
	require.NoError(t, err)
	require.NoError(t, repo.Grant(ctx, 1, db.LedgerAdminGrant, 500, "goodwill"))
	require.NoError(t, repo.Spend(ctx, 1, nil, 3000, ""))

	fold, err := repo.Fold(ctx, 1)
	require.NoError(t, err)
	balance, err := repo.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, balance, fold)
	assert.Equal(t, int64(500), fold)
}

// TestLedgerPagination walks a three-entry ledger in pages of two.
func TestLedgerPagination(t *testing.T) {
	ctx := context.Background()
	gdb := setupDB(t)
	seedPair(t, gdb)
	repo := repository.NewLedgerRepository(gdb)

	require.NoError(t, repo.Grant(ctx, 1, db.LedgerDevGrant, 100, "a"))
	require.NoError(t, repo.Grant(ctx, 1, db.LedgerDevGrant, 200, "b"))
	require.NoError(t, repo.Grant(ctx, 1, db.LedgerDevGrant, 300, "c"))

	page1, next, err := repo.Ledger(ctx, 1, nil, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotNil(t, next)
	assert.Equal(t, "c", page1[0].Note) // newest first

	page2, next2, err := repo.Ledger(ctx, 1, next, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Nil(t, next2)
	assert.Equal(t, "a", page2[0].Note)
}
