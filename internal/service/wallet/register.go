package wallet

import (
	"github.com/go-chi/chi/v5"

	"github.com/oggyb/muzz-commitments/internal/app"
	"github.com/oggyb/muzz-commitments/internal/logger"
)

// Registrar ties the wallet service into the HTTP server
type Registrar struct {
	appCtx *app.AppContext
}

// NewRegistrar creates a new Registrar for the wallet service
func NewRegistrar(appCtx *app.AppContext) *Registrar {
	return &Registrar{appCtx: appCtx}
}

// Register attaches the wallet endpoints to the router
func (r *Registrar) Register(router chi.Router) {
	h := &handler{svc: NewService(r.appCtx), log: logger.ForService(r.appCtx.Logger, "wallet")}

	router.Post("/purchases", h.applyPurchase)
	router.Get("/wallets/{user_id}", h.balance)
	router.Post("/wallets/{user_id}/grants", h.grant)
	router.Get("/wallets/{user_id}/ledger", h.ledger)
	router.Post("/wallets/{user_id}/reconcile", h.reconcile)
}
