package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/muzz-commitments/internal/db"
	svcErr "github.com/oggyb/muzz-commitments/internal/errors"
	"github.com/oggyb/muzz-commitments/internal/repository"
)

// TestProposeStartsAndEditsCycle covers the upsert split: a fresh
// proposal starts cycle 1, an edit while proposed keeps status, cycle
// and proposer, and a proposal after expiry starts the next cycle.
func TestProposeStartsAndEditsCycle(t *testing.T) {
	ctx := context.Background()
	gdb := setupDB(t)
	match := seedPair(t, gdb)
	repo := repository.NewDatePlanRepository(gdb)

	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Millisecond)
	end := start.Add(time.Hour)

	plan, err := repo.Propose(ctx, match.ID, 1, start, end, "coffee", "Grind", "")
	require.NoError(t, err)
	assert.Equal(t, db.DateStatusProposed, plan.DateStatus)
	assert.Equal(t, 1, plan.Cycle)
	require.NotNil(t, plan.ProposedByUserID)
	assert.Equal(t, uint64(1), *plan.ProposedByUserID)

	// Edit while proposed: window changes, cycle and proposer do not.
	plan, err = repo.Propose(ctx, match.ID, 2, start.Add(time.Hour), end.Add(time.Hour), "dinner", "Luca", "")
	require.NoError(t, err)
	assert.Equal(t, db.DateStatusProposed, plan.DateStatus)
	assert.Equal(t, 1, plan.Cycle)
	assert.Equal(t, uint64(1), *plan.ProposedByUserID)
	assert.Equal(t, "dinner", plan.ActivityLabel)

	require.NoError(t, repo.Accept(ctx, match.ID, 1))
	require.NoError(t, repo.MarkExpired(ctx, match.ID, 1, time.Now().UTC()))

	// Fresh cycle after expiry, with the new proposer on record.
	plan, err = repo.Propose(ctx, match.ID, 2, start, end, "coffee", "Grind", "")
	require.NoError(t, err)
	assert.Equal(t, db.DateStatusProposed, plan.DateStatus)
	assert.Equal(t, 2, plan.Cycle)
	assert.Equal(t, uint64(2), *plan.ProposedByUserID)
}

// TestAcceptRace verifies the first-write-wins guard: once the plan
// left proposed, a second responder gets RACE_LOST.
func TestAcceptRace(t *testing.T) {
	ctx := context.Background()
	gdb := setupDB(t)
	match := seedPair(t, gdb)
	repo := repository.NewDatePlanRepository(gdb)

	start := time.Now().UTC().Add(24 * time.Hour)
	_, err := repo.Propose(ctx, match.ID, 1, start, start.Add(time.Hour), "", "", "")
	require.NoError(t, err)

	require.NoError(t, repo.Accept(ctx, match.ID, 1))

	err = repo.Accept(ctx, match.ID, 1)
	require.Error(t, err)
	assert.True(t, svcErr.Is(err, svcErr.ErrRaceLost))

	err = repo.Decline(ctx, match.ID, 2, 1, time.Now().UTC())
	require.Error(t, err)
	assert.True(t, svcErr.Is(err, svcErr.ErrRaceLost))
}

// TestDeclineResetsAndRecords checks that a decline returns the plan to
// none and records DATE_DECLINED with the actor.
func TestDeclineResetsAndRecords(t *testing.T) {
	ctx := context.Background()
	gdb := setupDB(t)
	match := seedPair(t, gdb)
	repo := repository.NewDatePlanRepository(gdb)

	start := time.Now().UTC().Add(24 * time.Hour)
	_, err := repo.Propose(ctx, match.ID, 1, start, start.Add(time.Hour), "", "", "")
	require.NoError(t, err)

	require.NoError(t, repo.Decline(ctx, match.ID, 2, 1, time.Now().UTC()))

	plan, err := repo.Get(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, db.DateStatusNone, plan.DateStatus)

	events, err := repo.ListEvents(ctx, match.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, db.EventDateDeclined, events[0].EventType)
	require.NotNil(t, events[0].ActorUserID)
	assert.Equal(t, uint64(2), *events[0].ActorUserID)
}

// TestMarkExpiredEmitsOnce drives the lazy expiry from two concurrent
// readers' perspective: both call MarkExpired, one DATE_EXPIRED lands.
func TestMarkExpiredEmitsOnce(t *testing.T) {
	ctx := context.Background()
	gdb := setupDB(t)
	match := seedPair(t, gdb)
	repo := repository.NewDatePlanRepository(gdb)

	start := time.Now().UTC().Add(-2 * time.Hour)
	_, err := repo.Propose(ctx, match.ID, 1, start, start.Add(time.Hour), "", "", "")
	require.NoError(t, err)
	require.NoError(t, repo.Accept(ctx, match.ID, 1))

	now := time.Now().UTC()
	require.NoError(t, repo.MarkExpired(ctx, match.ID, 1, now))
	require.NoError(t, repo.MarkExpired(ctx, match.ID, 1, now))

	plan, err := repo.Get(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, db.DateStatusExpired, plan.DateStatus)

	events, err := repo.ListEvents(ctx, match.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, db.EventDateExpired, events[0].EventType)
	assert.Equal(t, 1, events[0].Cycle)
}

// TestForceUnlockRecordsCompletion checks the admin path lands on
// unlocked with a DATE_COMPLETED event for the new cycle.
func TestForceUnlockRecordsCompletion(t *testing.T) {
	ctx := context.Background()
	gdb := setupDB(t)
	match := seedPair(t, gdb)
	repo := repository.NewDatePlanRepository(gdb)

	actor := uint64(1)
	start := time.Now().UTC().Add(-2 * time.Hour)
	plan, err := repo.ForceUnlock(ctx, match.ID, &actor, start, start.Add(time.Hour), "coffee", "Grind", "", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, db.DateStatusUnlocked, plan.DateStatus)
	assert.Equal(t, 1, plan.Cycle)

	has, err := repo.HasEvent(ctx, match.ID, db.EventDateCompleted, 1)
	require.NoError(t, err)
	assert.True(t, has)
}
