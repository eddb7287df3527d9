package dateplan

import (
	"github.com/go-chi/chi/v5"

	"github.com/oggyb/muzz-commitments/internal/app"
	"github.com/oggyb/muzz-commitments/internal/logger"
)

// Registrar ties the date plan service into the HTTP server
type Registrar struct {
	appCtx *app.AppContext
}

// NewRegistrar creates a new Registrar for the date plan service
func NewRegistrar(appCtx *app.AppContext) *Registrar {
	return &Registrar{appCtx: appCtx}
}

// Register attaches the date plan endpoints to the router
func (r *Registrar) Register(router chi.Router) {
	h := &handler{svc: NewService(r.appCtx), log: logger.ForService(r.appCtx.Logger, "dateplan")}

	router.Post("/matches/{match_id}/date", h.propose)
	router.Post("/matches/{match_id}/date/respond", h.respond)
	router.Get("/matches/{match_id}/date", h.get)
	router.Post("/matches/{match_id}/date/force-complete", h.forceComplete)
	router.Get("/matches/{match_id}/date/events", h.events)
}
