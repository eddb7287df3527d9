package perk

import (
	"github.com/go-chi/chi/v5"

	"github.com/oggyb/muzz-commitments/internal/app"
	"github.com/oggyb/muzz-commitments/internal/logger"
)

// Registrar ties the perk/handshake service into the HTTP server
type Registrar struct {
	appCtx *app.AppContext
}

// NewRegistrar creates a new Registrar for the perk service
func NewRegistrar(appCtx *app.AppContext) *Registrar {
	return &Registrar{appCtx: appCtx}
}

// Register attaches the perk endpoints to the router
func (r *Registrar) Register(router chi.Router) {
	h := &handler{svc: NewService(r.appCtx), log: logger.ForService(r.appCtx.Logger, "perk")}

	router.Post("/locations", h.ping)
	router.Get("/matches/{match_id}/perk", h.get)
	router.Post("/matches/{match_id}/perk/handshake", h.start)
	router.Post("/matches/{match_id}/perk/handshake/confirm", h.confirm)
	router.Post("/matches/{match_id}/perk/reset", h.reset)
}
