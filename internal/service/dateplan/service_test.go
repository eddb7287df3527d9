package dateplan_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oggyb/muzz-commitments/internal/app"
	"github.com/oggyb/muzz-commitments/internal/cache"
	"github.com/oggyb/muzz-commitments/internal/config"
	"github.com/oggyb/muzz-commitments/internal/db"
	svcErr "github.com/oggyb/muzz-commitments/internal/errors"
	"github.com/oggyb/muzz-commitments/internal/notify"
	"github.com/oggyb/muzz-commitments/internal/service/dateplan"
)

//
// Test helpers
//

// setupService wires an in-memory SQLite DB and a miniredis into a
// dateplan Service, seeded with a committed match between users 1 and 2.
func setupService(t *testing.T) (*dateplan.Service, *gorm.DB, *notify.Recorder) {
	t.Helper()

	dbName := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{
		NowFunc:                func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, gdb.AutoMigrate(db.Models()...))

	users := []db.User{
		{ID: 1, Username: "user1", Email: "u1@test.com", PasswordHash: "x", Approved: true},
		{ID: 2, Username: "user2", Email: "u2@test.com", PasswordHash: "x", Approved: true},
	}
	require.NoError(t, gdb.Create(&users).Error)
	require.NoError(t, gdb.Create(&db.Match{ID: 1, UserAID: 1, UserBID: 2}).Error)

	activeAt := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, gdb.Create(&db.Conversation{MatchID: 1, ActiveAt: &activeAt}).Error)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })

	cfg := config.New()
	cfg.Redis.Addr = mr.Addr()

	redisCache := cache.NewRedisCache(cfg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := &notify.Recorder{}

	appCtx := app.New(gdb, redisCache, logger, cfg, recorder)
	return dateplan.NewService(appCtx), gdb, recorder
}

// pingAt stores a latest-location row so the viewer counts as having a
// usable location at the given time.
func pingAt(t *testing.T, gdb *gorm.DB, userID uint64, at time.Time) {
	t.Helper()
	loc := db.UserLocationLatest{UserID: userID, Lat: 51.5, Lng: -0.1, AccuracyM: 10, CapturedAt: at}
	require.NoError(t, gdb.Save(&loc).Error)
}

//
// Tests
//

// TestProposeAcceptLock walks the core state machine: propose, the
// other party accepts, the plan reads locked before the window opens.
func TestProposeAcceptLock(t *testing.T) {
	ctx := context.Background()
	svc, _, recorder := setupService(t)

	base := time.Now().UTC().Truncate(time.Millisecond)
	svc.SetNow(func() time.Time { return base })

	start := base.Add(24 * time.Hour)
	end := start.Add(time.Hour)

	view, err := svc.Propose(ctx, 1, 1, start, end, "coffee", "Grind, Shoreditch", "")
	require.NoError(t, err)
	assert.Equal(t, db.DateStatusProposed, view.Status)
	assert.Equal(t, 1, view.Cycle)
	assert.False(t, view.YoursToRespond) // own proposal

	// To the receiver it is theirs to respond.
	view, err = svc.Get(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, view.YoursToRespond)

	view, err = svc.Respond(ctx, 1, 2, true)
	require.NoError(t, err)
	assert.Equal(t, db.DateStatusLocked, view.Status)

	require.Len(t, recorder.Triggers, 2)
	assert.Equal(t, notify.TriggerDateProposed, recorder.Triggers[0].Name)
	assert.Equal(t, notify.TriggerDateResponded, recorder.Triggers[1].Name)
	assert.True(t, recorder.Triggers[1].Accepted)
}

// TestReadyDerivation checks that ready is a read-time state: locked
// outside the window, ready inside it for a viewer with a fresh
// location, locked inside it without one.
func TestReadyDerivation(t *testing.T) {
	ctx := context.Background()
	svc, gdb, _ := setupService(t)

	base := time.Now().UTC().Truncate(time.Millisecond)
	svc.SetNow(func() time.Time { return base })

	start := base.Add(24 * time.Hour)
	end := start.Add(time.Hour)
	_, err := svc.Propose(ctx, 1, 1, start, end, "", "", "")
	require.NoError(t, err)
	_, err = svc.Respond(ctx, 1, 2, true)
	require.NoError(t, err)

	// Before the window: locked.
	view, err := svc.Get(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, db.DateStatusLocked, view.Status)

	// Inside the window without a location: still locked.
	inWindow := start.Add(10 * time.Minute)
	svc.SetNow(func() time.Time { return inWindow })
	view, err = svc.Get(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, db.DateStatusLocked, view.Status)

	// Inside the window with a fresh ping: ready.
	pingAt(t, gdb, 2, inWindow)
	view, err = svc.Get(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, dateplan.StatusReady, view.Status)

	// A stale ping does not count.
	pingAt(t, gdb, 2, inWindow.Add(-time.Hour))
	view, err = svc.Get(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, db.DateStatusLocked, view.Status)
}

// TestLazyExpiryEmitsOnce reads a locked plan past its window twice and
// expects one persisted flip and one DATE_EXPIRED event.
func TestLazyExpiryEmitsOnce(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	base := time.Now().UTC().Truncate(time.Millisecond)
	svc.SetNow(func() time.Time { return base })

	start := base.Add(time.Hour)
	end := start.Add(time.Hour)
	_, err := svc.Propose(ctx, 1, 1, start, end, "", "", "")
	require.NoError(t, err)
	_, err = svc.Respond(ctx, 1, 2, true)
	require.NoError(t, err)

	svc.SetNow(func() time.Time { return end.Add(time.Minute) })

	view, err := svc.Get(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, db.DateStatusExpired, view.Status)

	view, err = svc.Get(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, db.DateStatusExpired, view.Status)

	events, err := svc.Events(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, db.EventDateExpired, events[0].EventType)
	assert.Equal(t, 1, events[0].Cycle)
}

// TestRespondGuards rejects the proposer responding to themselves and
// any response when nothing is proposed.
func TestRespondGuards(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	_, err := svc.Respond(ctx, 1, 2, true)
	assert.True(t, svcErr.Is(err, svcErr.ErrInvalidTransition))

	base := time.Now().UTC().Truncate(time.Millisecond)
	svc.SetNow(func() time.Time { return base })
	start := base.Add(24 * time.Hour)
	_, err = svc.Propose(ctx, 1, 1, start, start.Add(time.Hour), "", "", "")
	require.NoError(t, err)

	_, err = svc.Respond(ctx, 1, 1, true)
	assert.True(t, svcErr.Is(err, svcErr.ErrForbidden))
}

// TestDeclineResetsPlanAndPerk sends the plan back to none and drops
// the armed perk.
func TestDeclineResetsPlanAndPerk(t *testing.T) {
	ctx := context.Background()
	svc, gdb, _ := setupService(t)

	base := time.Now().UTC().Truncate(time.Millisecond)
	svc.SetNow(func() time.Time { return base })
	start := base.Add(24 * time.Hour)

	_, err := svc.Propose(ctx, 1, 1, start, start.Add(time.Hour), "", "", "")
	require.NoError(t, err)

	var perk db.DrinkPerk
	require.NoError(t, gdb.First(&perk, "match_id = ?", 1).Error)
	assert.Equal(t, db.PerkArmed, perk.State) // armed by the proposal

	view, err := svc.Respond(ctx, 1, 2, false)
	require.NoError(t, err)
	assert.Equal(t, db.DateStatusNone, view.Status)

	require.NoError(t, gdb.First(&perk, "match_id = ?", 1).Error)
	assert.Equal(t, db.PerkLocked, perk.State)

	events, err := svc.Events(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, db.EventDateDeclined, events[0].EventType)

	// The pair is free to try again, on a fresh cycle.
	view, err = svc.Propose(ctx, 1, 2, start, start.Add(time.Hour), "", "", "")
	require.NoError(t, err)
	assert.Equal(t, db.DateStatusProposed, view.Status)
	assert.Equal(t, 2, view.Cycle)
}

// TestProposeRequiresCommitment blocks date planning on an uncommitted
// or closed conversation.
func TestProposeRequiresCommitment(t *testing.T) {
	ctx := context.Background()
	svc, gdb, _ := setupService(t)

	base := time.Now().UTC().Truncate(time.Millisecond)
	start := base.Add(24 * time.Hour)

	require.NoError(t, gdb.Model(&db.Conversation{}).
		Where("match_id = ?", 1).
		UpdateColumn("active_at", nil).Error)

	_, err := svc.Propose(ctx, 1, 1, start, start.Add(time.Hour), "", "", "")
	assert.True(t, svcErr.Is(err, svcErr.ErrInvalidTransition))

	state := db.TerminalClosed
	require.NoError(t, gdb.Model(&db.Conversation{}).
		Where("match_id = ?", 1).
		UpdateColumn("terminal_state", state).Error)

	_, err = svc.Propose(ctx, 1, 1, start, start.Add(time.Hour), "", "", "")
	assert.True(t, svcErr.Is(err, svcErr.ErrInvalidTransition))
}

// TestProposeValidatesWindow rejects inverted and past windows.
func TestProposeValidatesWindow(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	base := time.Now().UTC().Truncate(time.Millisecond)
	svc.SetNow(func() time.Time { return base })

	_, err := svc.Propose(ctx, 1, 1, base.Add(2*time.Hour), base.Add(time.Hour), "", "", "")
	assert.True(t, svcErr.Is(err, svcErr.ErrInvalidArgument))

	_, err = svc.Propose(ctx, 1, 1, base.Add(-2*time.Hour), base.Add(-time.Hour), "", "", "")
	assert.True(t, svcErr.Is(err, svcErr.ErrInvalidArgument))

	_, err = svc.Propose(ctx, 1, 1, time.Time{}, time.Time{}, "", "", "")
	assert.True(t, svcErr.Is(err, svcErr.ErrInvalidArgument))
}
