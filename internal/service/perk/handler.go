package perk

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

type pingRequest struct {
	UserID    uint64  `json:"user_id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	AccuracyM float64 `json:"accuracy_m"`
}

type actorRequest struct {
	UserID uint64 `json:"user_id"`
}

type confirmRequest struct {
	UserID uint64 `json:"user_id"`
	Code   string `json:"code"`
}

// ping handles POST /locations (pingLocation boundary).
func (h *handler) ping(w http.ResponseWriter, r *http.Request) {
	var req pingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		server.RespondError(w, h.log, svcErr.E(svcErr.ErrInvalidArgument, "user_id is required"))
		return
	}
	if err := h.svc.PingLocation(r.Context(), req.UserID, req.Lat, req.Lng, req.AccuracyM); err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusNoContent, nil)
}

// get handles GET /matches/{match_id}/perk?user_id=N.
func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	matchID, ok := parseMatchID(w, h.log, r)
	if !ok {
		return
	}
	userID, err := strconv.ParseUint(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		server.RespondError(w, h.log, svcErr.E(svcErr.ErrInvalidArgument, "user_id query param is required"))
		return
	}

	view, err := h.svc.Get(r.Context(), matchID, userID)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusOK, view)
}

// start handles POST /matches/{match_id}/perk/handshake.
func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	matchID, ok := parseMatchID(w, h.log, r)
	if !ok {
		return
	}
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		server.RespondError(w, h.log, svcErr.E(svcErr.ErrInvalidArgument, "user_id is required"))
		return
	}

	session, err := h.svc.StartHandshake(r.Context(), matchID, req.UserID)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusCreated, session)
}

// confirm handles POST /matches/{match_id}/perk/handshake/confirm.
func (h *handler) confirm(w http.ResponseWriter, r *http.Request) {
	matchID, ok := parseMatchID(w, h.log, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		server.RespondError(w, h.log, svcErr.E(svcErr.ErrInvalidArgument, "user_id is required"))
		return
	}

	view, err := h.svc.ConfirmHandshake(r.Context(), matchID, req.UserID, req.Code)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusOK, view)
}

// reset handles POST /matches/{match_id}/perk/reset (operator path).
func (h *handler) reset(w http.ResponseWriter, r *http.Request) {
	matchID, ok := parseMatchID(w, h.log, r)
	if !ok {
		return
	}
	view, err := h.svc.Reset(r.Context(), matchID)
	if err != nil {
		server.RespondError(w, h.log, err)
		return
	}
	server.RespondJSON(w, http.StatusOK, view)
}

func parseMatchID(w http.ResponseWriter, log *slog.Logger, r *http.Request) (uint64, bool) {
	matchID, err := strconv.ParseUint(chi.URLParam(r, "match_id"), 10, 64)
	if err != nil {
		server.RespondError(w, log, svcErr.E(svcErr.ErrInvalidArgument, "match_id must be a valid uint64"))
		return 0, false
	}
	return matchID, true
}
