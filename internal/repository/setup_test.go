package repository_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oggyb/muzz-commitments/internal/db"
)

// setupDB spins up an in-memory SQLite DB with the full schema applied.
// Each test gets its own isolated database.
func setupDB(t *testing.T) *gorm.DB {
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
	return gdb
}

// seedPair inserts two approved users, their match and its pre-chat
// conversation, and returns the match.
func seedPair(t *testing.T, gdb *gorm.DB) db.Match {
	t.Helper()

	users := []db.User{
		{ID: 1, Username: "user1", Email: "u1@test.com", PasswordHash: "x", Approved: true},
		{ID: 2, Username: "user2", Email: "u2@test.com", PasswordHash: "x", Approved: true},
	}
	require.NoError(t, gdb.Create(&users).Error)

	match := db.Match{ID: 1, UserAID: 1, UserBID: 2}
	require.NoError(t, gdb.Create(&match).Error)
	require.NoError(t, gdb.Create(&db.Conversation{MatchID: match.ID}).Error)
	return match
}
