package main

import (
	"context"

	"github.com/oggyb/muzz-commitments/internal/app"
	"github.com/oggyb/muzz-commitments/internal/cache"
	"github.com/oggyb/muzz-commitments/internal/config"
	"github.com/oggyb/muzz-commitments/internal/db"
	"github.com/oggyb/muzz-commitments/internal/logger"
	"github.com/oggyb/muzz-commitments/internal/notify"
	"github.com/oggyb/muzz-commitments/internal/server"
	"github.com/oggyb/muzz-commitments/internal/service/conversation"
	"github.com/oggyb/muzz-commitments/internal/service/dateplan"
	"github.com/oggyb/muzz-commitments/internal/service/perk"
	"github.com/oggyb/muzz-commitments/internal/service/wallet"
)

func main() {
	cfg := config.New()

	// Init logger (global singleton)
	logger.InitFromConfig(cfg)
	log := logger.L()

	// Init DB
	database, err := db.NewDB(cfg)
	if err != nil {
		log.Error("failed to init db", "err", err)
		return
	}

	// Init Redis
	redisCache := cache.NewRedisCache(cfg)
	if err := redisCache.Ping(context.Background()); err != nil {
		log.Error("failed to connect to redis", "err", err)
		return
	}

	appCtx := app.New(database, redisCache, log, cfg, notify.NewLogNotifier(log))

	registrars := []server.Registrar{
		wallet.NewRegistrar(appCtx),
		conversation.NewRegistrar(appCtx),
		dateplan.NewRegistrar(appCtx),
		perk.NewRegistrar(appCtx),
	}

	if cfg.ENV == "development" {
		if err := db.SeedTestData(database); err != nil {
			log.Error("failed to seed", "err", err)
		}
	}

	addr := cfg.HTTP.Host + ":" + cfg.HTTP.Port
	log.Info("starting HTTP server", "addr", addr)

	if err := server.StartHTTPServer(cfg, registrars...); err != nil {
		log.Error("failed to start HTTP server", "err", err)
	}
}
