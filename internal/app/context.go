package app

import (
	"log/slog"

	"github.com/oggyb/muzz-commitments/internal/cache"
	"github.com/oggyb/muzz-commitments/internal/config"
	"github.com/oggyb/muzz-commitments/internal/notify"
	"gorm.io/gorm"
)

// AppContext holds shared dependencies (DB, Redis, Logger, etc.)
type AppContext struct {
	DB         *gorm.DB
	RedisCache *cache.RedisCache
	Logger     *slog.Logger
	Config     *config.Config
	Notifier   notify.Notifier
}

// New creates a new AppContext
func New(db *gorm.DB, rdb *cache.RedisCache, logger *slog.Logger, cfg *config.Config, notifier notify.Notifier) *AppContext {
	return &AppContext{
		DB:         db,
		RedisCache: rdb,
		Logger:     logger,
		Config:     cfg,
		Notifier:   notifier,
	}
}
