package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oggyb/muzz-commitments/internal/config"
)

// Models returns every model migrated at boot, in dependency order.
func Models() []any {
	return []any{
		&User{},
		&Match{},
		&Conversation{},
		&Wallet{},
		&LedgerEntry{},
		&DatePlan{},
		&DrinkPerk{},
		&HandshakeSession{},
		&Credit{},
		&UserLocationLatest{},
		&MatchDateEvent{},
	}
}

// NewDB initializes the database connection using DSN from config.
func NewDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DB.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// AutoMigrate ensures schema is in sync with models.
	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return db, nil
}
