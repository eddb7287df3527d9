package wallet

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	svcErr "github.com/oggyb/muzz-commitments/internal/errors"
	"github.com/oggyb/muzz-commitments/internal/server"
)

type handler struct {
	svc *Service
	log *slog.Logger
}

type purchaseRequest struct {
	UserID                uint64 `json:"user_id"`
	ProviderEventID       string `json:"provider_event_id"`
	ProviderTransactionID string `json:"provider_transaction_id"`
	AmountCents           int64  `json:"amount_cents"`
	Note                  string `json:"note"`
}

type purchaseResponse struct {
	Applied      bool  `json:"applied"`
	BalanceCents int64 `json:"balance_cents"`
}

type grantRequest struct {
	Action      string `json:"action"` // ADMIN_GRANT or DEV_GRANT
	AmountCents int64  `json:"amount_cents"`
	Note        string `json:"note"`
}

type balanceResponse struct {
	UserID       uint64 `json:"user_id"`
	BalanceCents int64  `json:"balance_cents"`
}

// applyPurchase handles POST /purchases (onPurchaseEvent boundary).
// A duplicate report responds 200 with applied=false.
func (h *handler) applyPurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.RespondError(w, h.log, svcErr.E(svcErr.ErrInvalidArgument, "invalid JSON body"))
		return
	}

	applied, balance, err := h.svc.ApplyPurchase(
		r.Context(), req.UserID, req.ProviderEventID, req.ProviderTransactionID, req.AmountCents, req.Note,
	)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusOK, purchaseResponse{Applied: applied, BalanceCents: balance})
}

// grant handles POST /wallets/{user_id}/grants.
func (h *handler) grant(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, h.log, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.RespondError(w, h.log, svcErr.E(svcErr.ErrInvalidArgument, "invalid JSON body"))
		return
	}

	balance, err := h.svc.Grant(r.Context(), userID, req.Action, req.AmountCents, req.Note)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusOK, balanceResponse{UserID: userID, BalanceCents: balance})
}

// balance handles GET /wallets/{user_id}.
func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, h.log, r)
	if !ok {
		return
	}
	balance, err := h.svc.Balance(r.Context(), userID)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusOK, balanceResponse{UserID: userID, BalanceCents: balance})
}

// ledger handles GET /wallets/{user_id}/ledger?pagination_token=...&limit=N.
func (h *handler) ledger(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, h.log, r)
	if !ok {
		return
	}

	var token *string
	if t := r.URL.Query().Get("pagination_token"); t != "" {
		token = &t
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, nextToken, err := h.svc.Ledger(r.Context(), userID, token, limit)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	resp := struct {
		Entries             any     `json:"entries"`
		NextPaginationToken *string `json:"next_pagination_token,omitempty"`
	}{Entries: entries, NextPaginationToken: nextToken}
	server.RespondJSON(w, http.StatusOK, resp)
}

// reconcile handles POST /wallets/{user_id}/reconcile.
func (h *handler) reconcile(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, h.log, r)
	if !ok {
		return
	}
	report, err := h.svc.Reconcile(r.Context(), userID)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusOK, report)
}

func parseUserID(w http.ResponseWriter, log *slog.Logger, r *http.Request) (uint64, bool) {
	userID, err := strconv.ParseUint(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil {
		server.RespondError(w, log, svcErr.E(svcErr.ErrInvalidArgument, "user_id must be a valid uint64"))
		return 0, false
	}
	return userID, true
}
