package conversation

import (
	"github.com/go-chi/chi/v5"

	"github.com/oggyb/muzz-commitments/internal/app"
	"github.com/oggyb/muzz-commitments/internal/logger"
)

// Registrar ties the conversation commitment gate into the HTTP server
type Registrar struct {
	appCtx *app.AppContext
}

// NewRegistrar creates a new Registrar for the conversation service
func NewRegistrar(appCtx *app.AppContext) *Registrar {
	return &Registrar{appCtx: appCtx}
}

// Register attaches the conversation endpoints to the router
func (r *Registrar) Register(router chi.Router) {
	h := &handler{svc: NewService(r.appCtx), log: logger.ForService(r.appCtx.Logger, "conversation")}

	router.Post("/matches", h.createMatch)
	router.Post("/matches/{match_id}/open", h.open)
	router.Post("/matches/{match_id}/commit", h.commit)
	router.Post("/matches/{match_id}/seen", h.seen)
	router.Get("/matches/{match_id}/conversation", h.get)
	router.Delete("/matches/{match_id}", h.unmatch)
}
